package distribution

import (
	"math/big"
	"sync"

	"github.com/ethereum/go-ethereum/common"
)

// ValueTransfer releases reward value to a claimer. The token movement itself
// is an external collaborator; any error aborts the claim that triggered it.
type ValueTransfer interface {
	Release(user common.Address, amount *big.Int) error
}

// EscrowVault is a custodian balance funded at finalize time and debited per
// claim. Unclaimed value stays locked permanently; there is no sweep.
type EscrowVault struct {
	mu      sync.Mutex
	balance *big.Int
}

// NewEscrowVault constructs an empty vault.
func NewEscrowVault() *EscrowVault {
	return &EscrowVault{balance: big.NewInt(0)}
}

// Fund credits the custodian balance, typically with a finalized batch total.
func (v *EscrowVault) Fund(amount *big.Int) {
	if v == nil || amount == nil || amount.Sign() <= 0 {
		return
	}
	v.mu.Lock()
	defer v.mu.Unlock()
	v.balance.Add(v.balance, amount)
}

// Release implements ValueTransfer, debiting the escrowed balance.
func (v *EscrowVault) Release(_ common.Address, amount *big.Int) error {
	if amount == nil || amount.Sign() < 0 {
		return ErrInvalidAmount
	}
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.balance.Cmp(amount) < 0 {
		return ErrInsufficientEscrow
	}
	v.balance.Sub(v.balance, amount)
	return nil
}

// Balance returns a copy of the remaining escrowed value.
func (v *EscrowVault) Balance() *big.Int {
	v.mu.Lock()
	defer v.mu.Unlock()
	return new(big.Int).Set(v.balance)
}
