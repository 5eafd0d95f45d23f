package distribution

import (
	"errors"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"

	"merkledrop/merkle"
)

// SigningDomain separates submission digests across deployments. ChainID and
// Ledger bind signatures to one chain and one verifying ledger instance so a
// batch signed for a testnet cannot be replayed on mainnet.
type SigningDomain struct {
	Name    string
	Version string
	ChainID uint64
	Ledger  common.Address
}

// Params drives admission control for batch submissions.
type Params struct {
	// TreeDepth caps a single batch tree at 2^TreeDepth leaves; bigger
	// cohorts are split into sub-batches by the builder.
	TreeDepth int
	// MaxBatchSize caps users per submission independently of tree capacity.
	MaxBatchSize uint64
	// DailyCaps holds the maximum total reward per category per day, in wei.
	DailyCaps [categoryCount]*big.Int
	Domain    SigningDomain
}

// DefaultParams returns a configuration sized for ~500-user sub-batches.
func DefaultParams() Params {
	p := Params{
		TreeDepth:    9,
		MaxBatchSize: 512,
		Domain: SigningDomain{
			Name:    "merkledrop",
			Version: "1",
			ChainID: 1,
		},
	}
	for i := range p.DailyCaps {
		// 10,000 tokens at 18 decimals per category per day.
		cap := new(big.Int).Mul(big.NewInt(10_000), new(big.Int).Exp(big.NewInt(10), big.NewInt(18), nil))
		p.DailyCaps[i] = cap
	}
	return p
}

// Validate ensures the parameters fall within acceptable bounds.
func (p Params) Validate() error {
	if p.TreeDepth < 0 || p.TreeDepth > merkle.MaxDepth {
		return fmt.Errorf("tree depth must be within [0, %d]", merkle.MaxDepth)
	}
	if p.MaxBatchSize == 0 {
		return errors.New("max batch size must be positive")
	}
	if p.MaxBatchSize > uint64(1)<<uint(p.TreeDepth) {
		return errors.New("max batch size exceeds tree capacity")
	}
	for i, cap := range p.DailyCaps {
		if cap == nil || cap.Sign() < 0 {
			return fmt.Errorf("daily cap for category %s must be non-negative", Category(i))
		}
	}
	if p.Domain.Name == "" || p.Domain.Version == "" {
		return errors.New("signing domain name and version required")
	}
	return nil
}

// CapFor returns a copy of the daily cap configured for the category.
func (p Params) CapFor(category Category) *big.Int {
	if !category.Valid() || p.DailyCaps[category] == nil {
		return big.NewInt(0)
	}
	return new(big.Int).Set(p.DailyCaps[category])
}
