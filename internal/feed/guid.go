package feed

import (
	"crypto/sha256"
	"encoding/hex"
	"strconv"
	"strings"

	"govscope/internal/model"
)

// EventGUID derives the content-addressed identity hash of an event from the
// (network, chain id, normalized title, block, normalized link) tuple. The
// same logical event always yields the same GUID, regardless of which run
// produced it.
func EventGUID(ev model.ParsedEvent) string {
	parts := []string{
		normalize(ev.Network),
		strconv.FormatUint(ev.ChainID, 10),
		normalize(ev.Title),
		strconv.FormatUint(ev.BlockNumber, 10),
		normalize(ev.Link),
	}
	sum := sha256.Sum256([]byte(strings.Join(parts, "|")))
	return hex.EncodeToString(sum[:])
}

func normalize(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}
