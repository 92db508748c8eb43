package pipeline

import "github.com/ethereum/go-ethereum/common"

// ContractRegistry is the simplest ContractResolver: a static map built from
// config (spec §6.4 smartContracts[]).
type ContractRegistry map[string]common.Address

// ContractAddress implements ContractResolver.
func (r ContractRegistry) ContractAddress(chain string) (common.Address, bool) {
	addr, ok := r[chain]
	return addr, ok
}
