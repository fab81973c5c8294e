package gov

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"

	"govscope/internal/model"
)

// Meta carries per-run context the decoder stamps onto every event.
type Meta struct {
	Network      string
	ChainID      uint64
	Timestamp    uint64
	ExplorerBase string
	ProposalBase string
}

// Decoder turns raw logs into ParsedEvents. Deterministic, no I/O.
type Decoder interface {
	CanDecode(topic0 common.Hash) bool
	Decode(log types.Log, meta Meta) (*model.ParsedEvent, error)
}

// GovernorDecoder decodes Compound-style governor events.
type GovernorDecoder struct {
	abi         abi.ABI
	topicToName map[common.Hash]string
	registry    *Registry
}

// NewGovernorDecoder builds a decoder over the governor ABI and the address
// registry used for governance-body classification.
func NewGovernorDecoder(registry *Registry) (*GovernorDecoder, error) {
	parsed, err := GovernorABI()
	if err != nil {
		return nil, err
	}

	topicToName := make(map[common.Hash]string, len(parsed.Events))
	for name, event := range parsed.Events {
		topicToName[event.ID] = name
	}

	if registry == nil {
		registry = NewRegistry(nil)
	}

	return &GovernorDecoder{
		abi:         parsed,
		topicToName: topicToName,
		registry:    registry,
	}, nil
}

// Topics returns the topic0 filter covering every decodable event.
func (d *GovernorDecoder) Topics() []common.Hash {
	out := make([]common.Hash, 0, len(d.topicToName))
	for topic := range d.topicToName {
		out = append(out, topic)
	}
	return out
}

// CanDecode checks whether topic0 matches a known event signature.
func (d *GovernorDecoder) CanDecode(topic0 common.Hash) bool {
	_, ok := d.topicToName[topic0]
	return ok
}

// Decode converts one log into a ParsedEvent. A log whose topic0 is
// subscribed but cannot be decoded is a configuration/ABI mismatch and
// returns a non-retryable error.
func (d *GovernorDecoder) Decode(log types.Log, meta Meta) (*model.ParsedEvent, error) {
	if len(log.Topics) == 0 {
		return nil, fmt.Errorf("log has no topics")
	}
	name, ok := d.topicToName[log.Topics[0]]
	if !ok {
		return nil, fmt.Errorf("unknown event signature: %s", log.Topics[0].Hex())
	}
	event := d.abi.Events[name]

	args, err := decodeArgs(event, log)
	if err != nil {
		return nil, fmt.Errorf("decode %s: %w", name, err)
	}

	info := d.registry.Lookup(log.Address)

	ev := &model.ParsedEvent{
		Address:        log.Address.Hex(),
		Name:           name,
		Args:           args,
		BlockNumber:    log.BlockNumber,
		TxHash:         log.TxHash.Hex(),
		Category:       info.Category,
		GovernanceBody: info.Body,
		Title:          buildTitle(info.Body, name, args),
		Link:           meta.ExplorerBase + "/tx/" + log.TxHash.Hex(),
		Timestamp:      strconv.FormatUint(meta.Timestamp, 10),
		Network:        meta.Network,
		ChainID:        meta.ChainID,
	}
	if id, ok := proposalID(args); ok && meta.ProposalBase != "" {
		ev.ProposalLink = meta.ProposalBase + id
	}
	return ev, nil
}

// decodeArgs unpacks indexed and non-indexed inputs back into declaration
// order, normalizing values for serialization.
func decodeArgs(event abi.Event, log types.Log) (model.Args, error) {
	indexed := make(map[string]interface{})
	indexedInputs := abi.Arguments{}
	for _, input := range event.Inputs {
		if input.Indexed {
			indexedInputs = append(indexedInputs, input)
		}
	}
	if len(indexedInputs) > 0 {
		if len(log.Topics) < len(indexedInputs)+1 {
			return nil, fmt.Errorf("expected %d topics, got %d", len(indexedInputs)+1, len(log.Topics))
		}
		if err := abi.ParseTopicsIntoMap(indexed, indexedInputs, log.Topics[1:len(indexedInputs)+1]); err != nil {
			return nil, fmt.Errorf("parse topics: %w", err)
		}
	}

	nonIndexed, err := event.Inputs.NonIndexed().UnpackValues(log.Data)
	if err != nil {
		return nil, fmt.Errorf("unpack data: %w", err)
	}

	args := make(model.Args, 0, len(event.Inputs))
	cursor := 0
	for _, input := range event.Inputs {
		var value interface{}
		if input.Indexed {
			value = indexed[input.Name]
		} else {
			if cursor >= len(nonIndexed) {
				return nil, fmt.Errorf("missing value for %s", input.Name)
			}
			value = nonIndexed[cursor]
			cursor++
		}
		args = append(args, model.Arg{Name: input.Name, Value: model.NormalizeValue(value)})
	}
	return args, nil
}

func buildTitle(body, name string, args model.Args) string {
	if id, ok := proposalID(args); ok {
		return fmt.Sprintf("%s: %s #%s", body, name, id)
	}
	return fmt.Sprintf("%s: %s", body, name)
}

// proposalID extracts the proposal identifier argument, under either the
// Bravo ("id") or OpenZeppelin ("proposalId") name.
func proposalID(args model.Args) (string, bool) {
	for _, key := range []string{"id", "proposalId"} {
		if v, ok := args.Get(key); ok {
			if s, ok := v.(string); ok && strings.TrimSpace(s) != "" {
				return s, true
			}
		}
	}
	return "", false
}
