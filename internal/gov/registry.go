package gov

import (
	"strings"

	"github.com/ethereum/go-ethereum/common"
)

// ContractInfo labels a governance contract address.
type ContractInfo struct {
	Address  common.Address
	Body     string
	Category string
}

// Registry maps contract addresses to governance labels. It is a pure lookup
// table; unknown addresses resolve to a generic label.
type Registry struct {
	contracts map[common.Address]ContractInfo
}

func NewRegistry(contracts []ContractInfo) *Registry {
	m := make(map[common.Address]ContractInfo, len(contracts))
	for _, c := range contracts {
		m[c.Address] = c
	}
	return &Registry{contracts: m}
}

// Lookup classifies an address.
func (r *Registry) Lookup(address common.Address) ContractInfo {
	if info, ok := r.contracts[address]; ok {
		return info
	}
	return ContractInfo{
		Address:  address,
		Body:     "Unknown Governance",
		Category: "governance",
	}
}

// Addresses returns every registered contract address.
func (r *Registry) Addresses() []common.Address {
	out := make([]common.Address, 0, len(r.contracts))
	for addr := range r.contracts {
		out = append(out, addr)
	}
	return out
}

// ParseContracts builds contract infos from address/body/category strings.
func ParseContracts(addresses, bodies, categories []string) ([]ContractInfo, error) {
	out := make([]ContractInfo, 0, len(addresses))
	for i, raw := range addresses {
		raw = strings.TrimSpace(raw)
		if raw == "" {
			continue
		}
		if !common.IsHexAddress(raw) {
			return nil, &InvalidAddressError{Address: raw}
		}
		info := ContractInfo{Address: common.HexToAddress(raw), Category: "governance"}
		if i < len(bodies) {
			info.Body = strings.TrimSpace(bodies[i])
		}
		if i < len(categories) && strings.TrimSpace(categories[i]) != "" {
			info.Category = strings.TrimSpace(categories[i])
		}
		out = append(out, info)
	}
	return out, nil
}

// InvalidAddressError reports a malformed contract address.
type InvalidAddressError struct {
	Address string
}

func (e *InvalidAddressError) Error() string {
	return "invalid contract address: " + e.Address
}
