package distribution

import (
	"sync"

	"github.com/ethereum/go-ethereum/common"
)

// Authority answers whether an address holds the relayer role. The concrete
// role registry lives outside this module; tests and the batching daemon use
// the static implementation below.
type Authority interface {
	IsRelayer(addr common.Address) (bool, error)
}

// StaticAuthority is a fixed in-memory relayer set.
type StaticAuthority struct {
	mu     sync.RWMutex
	admits map[common.Address]struct{}
}

// NewStaticAuthority builds an authority admitting exactly the given addresses.
func NewStaticAuthority(addrs ...common.Address) *StaticAuthority {
	admits := make(map[common.Address]struct{}, len(addrs))
	for _, addr := range addrs {
		admits[addr] = struct{}{}
	}
	return &StaticAuthority{admits: admits}
}

// IsRelayer implements the Authority interface.
func (a *StaticAuthority) IsRelayer(addr common.Address) (bool, error) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	_, ok := a.admits[addr]
	return ok, nil
}

// Grant adds an address to the relayer set.
func (a *StaticAuthority) Grant(addr common.Address) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.admits[addr] = struct{}{}
}

// Revoke removes an address from the relayer set.
func (a *StaticAuthority) Revoke(addr common.Address) {
	a.mu.Lock()
	defer a.mu.Unlock()
	delete(a.admits, addr)
}
