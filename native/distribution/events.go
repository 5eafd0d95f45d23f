package distribution

import (
	"encoding/hex"
	"math/big"
	"strconv"

	"github.com/ethereum/go-ethereum/common"

	"merkledrop/merkle"
)

const (
	TypeDistributionFinalized = "distribution.finalized"
	TypeRewardClaimed         = "distribution.claimed"
)

// Event is a structured state change emitted by the distribution engine.
type Event interface {
	EventType() string
	Attributes() map[string]string
}

// Emitter broadcasts events to downstream subscribers (indexers, exporters).
type Emitter interface {
	Emit(Event)
}

// NoopEmitter satisfies Emitter while discarding all events.
type NoopEmitter struct{}

// Emit implements the Emitter interface.
func (NoopEmitter) Emit(Event) {}

// DistributionFinalized is emitted once per slot when a submission is
// accepted and its record written.
type DistributionFinalized struct {
	Day         uint64
	Category    Category
	SubBatch    uint32
	Root        merkle.Hash
	UserCount   uint64
	TotalReward *big.Int
	Submitter   common.Address
}

func (DistributionFinalized) EventType() string { return TypeDistributionFinalized }

// Attributes renders the event for string-keyed consumers.
func (e DistributionFinalized) Attributes() map[string]string {
	return map[string]string{
		"day":         strconv.FormatUint(e.Day, 10),
		"category":    e.Category.String(),
		"subBatch":    strconv.FormatUint(uint64(e.SubBatch), 10),
		"root":        hex.EncodeToString(e.Root[:]),
		"userCount":   strconv.FormatUint(e.UserCount, 10),
		"totalReward": formatAmount(e.TotalReward),
		"submitter":   e.Submitter.Hex(),
	}
}

// RewardClaimed is emitted when a user redeems their leaf.
type RewardClaimed struct {
	Day      uint64
	Category Category
	SubBatch uint32
	User     common.Address
	Amount   *big.Int
	Index    uint64
}

func (RewardClaimed) EventType() string { return TypeRewardClaimed }

// Attributes renders the event for string-keyed consumers.
func (e RewardClaimed) Attributes() map[string]string {
	return map[string]string{
		"day":      strconv.FormatUint(e.Day, 10),
		"category": e.Category.String(),
		"subBatch": strconv.FormatUint(uint64(e.SubBatch), 10),
		"user":     e.User.Hex(),
		"amount":   formatAmount(e.Amount),
		"index":    strconv.FormatUint(e.Index, 10),
	}
}

func formatAmount(amount *big.Int) string {
	if amount == nil {
		return "0"
	}
	return amount.String()
}
