package distribution

import (
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"merkledrop/merkle"
)

// Category identifies one of the fixed interaction categories a reward batch
// settles. Every (day, category, subBatch) slot is finalized at most once.
type Category uint8

const (
	CategoryCreate Category = iota
	CategoryComment
	CategoryShare
	CategoryReact
	CategoryRefer
	CategoryBonus

	categoryCount
)

// CategoryCount is the size of the category enumeration.
const CategoryCount = uint8(categoryCount)

// Valid reports whether the category falls inside the fixed enumeration.
func (c Category) Valid() bool {
	return c < categoryCount
}

func (c Category) String() string {
	switch c {
	case CategoryCreate:
		return "create"
	case CategoryComment:
		return "comment"
	case CategoryShare:
		return "share"
	case CategoryReact:
		return "react"
	case CategoryRefer:
		return "refer"
	case CategoryBonus:
		return "bonus"
	default:
		return "unknown"
	}
}

// Entry is one user's scored reward line inside a batch. Amount carries
// 18-decimal fixed point semantics.
type Entry struct {
	User   common.Address
	Points uint64
	Amount *big.Int
}

// Clone deep-copies the entry so callers cannot mutate shared amounts.
func (e Entry) Clone() Entry {
	out := Entry{User: e.User, Points: e.Points}
	if e.Amount != nil {
		out.Amount = new(big.Int).Set(e.Amount)
	}
	return out
}

// DistributionRecord is the durable result of a finalized submission. Once
// Finalized is set the record never changes.
type DistributionRecord struct {
	Day         uint64
	Category    Category
	SubBatch    uint32
	Root        merkle.Hash
	UserCount   uint64
	TotalReward *big.Int
	Finalized   bool
	CreatedAt   time.Time
}

// Clone deep-copies the record so ledger internals stay immutable.
func (r *DistributionRecord) Clone() *DistributionRecord {
	if r == nil {
		return nil
	}
	out := *r
	if r.TotalReward != nil {
		out.TotalReward = new(big.Int).Set(r.TotalReward)
	} else {
		out.TotalReward = big.NewInt(0)
	}
	return &out
}

// ClaimRequest carries everything a user presents to redeem their leaf.
type ClaimRequest struct {
	Day      uint64
	Category Category
	SubBatch uint32
	User     common.Address
	Points   uint64
	Amount   *big.Int
	Index    uint64
	Proof    []merkle.Hash
}

// ClaimReceipt records a successful redemption. The amount is always the
// value encoded in the proven leaf, never a separately tracked balance.
type ClaimReceipt struct {
	Day       uint64
	Category  Category
	SubBatch  uint32
	User      common.Address
	Amount    *big.Int
	ClaimedAt time.Time
}
