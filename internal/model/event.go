package model

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math/big"
)

// Arg is a single decoded event argument.
type Arg struct {
	Name  string
	Value interface{}
}

// Args is an ordered list of decoded event arguments. It marshals to a JSON
// object that preserves declaration order.
type Args []Arg

// MarshalJSON encodes the arguments as an object in declaration order.
func (a Args) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, arg := range a {
		if i > 0 {
			buf.WriteByte(',')
		}
		name, err := json.Marshal(arg.Name)
		if err != nil {
			return nil, err
		}
		buf.Write(name)
		buf.WriteByte(':')
		value, err := json.Marshal(arg.Value)
		if err != nil {
			return nil, fmt.Errorf("marshal arg %s: %w", arg.Name, err)
		}
		buf.Write(value)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

// Get returns the value for an argument name.
func (a Args) Get(name string) (interface{}, bool) {
	for _, arg := range a {
		if arg.Name == name {
			return arg.Value, true
		}
	}
	return nil, false
}

// NormalizeValue converts a decoded ABI value into a JSON-safe representation.
// Big integers become decimal strings, byte slices hex strings, and composite
// values are normalized element-wise.
func NormalizeValue(v interface{}) interface{} {
	switch typed := v.(type) {
	case *big.Int:
		if typed == nil {
			return "0"
		}
		return typed.String()
	case big.Int:
		return typed.String()
	case []byte:
		return "0x" + fmt.Sprintf("%x", typed)
	case [][]byte:
		out := make([]interface{}, 0, len(typed))
		for _, item := range typed {
			out = append(out, NormalizeValue(item))
		}
		return out
	case [32]byte:
		return "0x" + fmt.Sprintf("%x", typed[:])
	case fmt.Stringer:
		return typed.String()
	case []interface{}:
		out := make([]interface{}, 0, len(typed))
		for _, item := range typed {
			out = append(out, NormalizeValue(item))
		}
		return out
	case []*big.Int:
		out := make([]interface{}, 0, len(typed))
		for _, item := range typed {
			out = append(out, NormalizeValue(item))
		}
		return out
	case []string:
		return typed
	case map[string]interface{}:
		out := make(map[string]interface{}, len(typed))
		for k, item := range typed {
			out[k] = NormalizeValue(item)
		}
		return out
	default:
		return typed
	}
}

// ParsedEvent is one decoded on-chain governance occurrence. Identity is the
// (network, chain id, normalized title, block, normalized link) tuple; two
// events with the same tuple are the same logical event regardless of which
// run produced them.
type ParsedEvent struct {
	Address        string `json:"address"`
	Name           string `json:"name"`
	Args           Args   `json:"args"`
	BlockNumber    uint64 `json:"block_number"`
	TxHash         string `json:"tx_hash"`
	Category       string `json:"category"`
	GovernanceBody string `json:"governance_body"`
	Title          string `json:"title"`
	Link           string `json:"link"`
	ProposalLink   string `json:"proposal_link,omitempty"`
	Timestamp      string `json:"timestamp"`
	Network        string `json:"network"`
	ChainID        uint64 `json:"chain_id"`
}
