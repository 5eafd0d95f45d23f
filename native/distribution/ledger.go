package distribution

import (
	"encoding/hex"
	"errors"
	"fmt"
	"math/big"
	"sort"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/rlp"

	"merkledrop/storage"
)

const (
	recordKeyFormat       = "distribution/record/%020d/%d/%010d"
	claimKeyFormat        = "distribution/claim/%020d/%d/%010d/%s"
	nonceKeyFormat        = "distribution/nonce/%020d"
	claimedTotalKeyFormat = "distribution/claimed/%020d/%d/%010d"
	dayIndexKeyFormat     = "distribution/index/%020d"

	secondsPerDay = 86400
)

// Ledger is the append-only store of finalized distribution records, claim
// flags and consumed nonces. Records are written at most once per slot and
// all reads return clones, so nothing handed out can mutate stored state.
type Ledger struct {
	db  storage.Database
	mu  sync.RWMutex
	now func() time.Time
}

// NewLedger constructs a ledger backed by the supplied key-value store.
func NewLedger(db storage.Database) *Ledger {
	return &Ledger{db: db, now: time.Now}
}

// SetClock overrides the ledger clock, primarily for deterministic testing.
func (l *Ledger) SetClock(now func() time.Time) {
	if l == nil || now == nil {
		return
	}
	l.now = now
}

// CurrentDay returns the integer epoch-day index derived from the clock.
func (l *Ledger) CurrentDay() uint64 {
	return uint64(l.now().UTC().Unix()) / secondsPerDay
}

type storedRecord struct {
	Day         uint64
	Category    uint8
	SubBatch    uint32
	Root        []byte
	UserCount   uint64
	TotalReward []byte
	Finalized   bool
	CreatedAt   uint64
}

type storedSlot struct {
	Category uint8
	SubBatch uint32
}

func recordKey(day uint64, category Category, subBatch uint32) []byte {
	return []byte(fmt.Sprintf(recordKeyFormat, day, uint8(category), subBatch))
}

func claimKey(day uint64, category Category, subBatch uint32, user common.Address) []byte {
	return []byte(fmt.Sprintf(claimKeyFormat, day, uint8(category), subBatch, hex.EncodeToString(user.Bytes())))
}

func (l *Ledger) getRecord(day uint64, category Category, subBatch uint32) (*DistributionRecord, bool, error) {
	data, err := l.db.Get(recordKey(day, category, subBatch))
	if err != nil {
		return nil, false, nil
	}
	var stored storedRecord
	if err := rlp.DecodeBytes(data, &stored); err != nil {
		return nil, false, err
	}
	record := &DistributionRecord{
		Day:       stored.Day,
		Category:  Category(stored.Category),
		SubBatch:  stored.SubBatch,
		UserCount: stored.UserCount,
		Finalized: stored.Finalized,
		CreatedAt: time.Unix(int64(stored.CreatedAt), 0).UTC(),
	}
	copy(record.Root[:], stored.Root)
	if len(stored.TotalReward) == 0 {
		record.TotalReward = big.NewInt(0)
	} else {
		record.TotalReward = new(big.Int).SetBytes(stored.TotalReward)
	}
	return record, true, nil
}

// GetRecord returns a clone of the finalized record for the slot, if present.
func (l *Ledger) GetRecord(day uint64, category Category, subBatch uint32) (*DistributionRecord, bool, error) {
	if l == nil || l.db == nil {
		return nil, false, errors.New("distribution: ledger not initialised")
	}
	l.mu.RLock()
	defer l.mu.RUnlock()
	record, ok, err := l.getRecord(day, category, subBatch)
	if err != nil || !ok {
		return nil, ok, err
	}
	return record.Clone(), true, nil
}

// NonceUsed reports whether the relayer nonce has been consumed.
func (l *Ledger) NonceUsed(nonce uint64) (bool, error) {
	if l == nil || l.db == nil {
		return false, errors.New("distribution: ledger not initialised")
	}
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.nonceUsed(nonce), nil
}

func (l *Ledger) nonceUsed(nonce uint64) bool {
	_, err := l.db.Get([]byte(fmt.Sprintf(nonceKeyFormat, nonce)))
	return err == nil
}

// Finalize writes the record for its slot and consumes the relayer nonce in
// one serialized step. The write is refused when the slot already holds a
// record or the nonce has been seen before, leaving existing state untouched.
func (l *Ledger) Finalize(record *DistributionRecord, nonce uint64) error {
	if l == nil || l.db == nil {
		return errors.New("distribution: ledger not initialised")
	}
	if record == nil {
		return errors.New("distribution: nil record")
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if _, ok, err := l.getRecord(record.Day, record.Category, record.SubBatch); err != nil {
		return err
	} else if ok {
		return ErrAlreadySubmitted
	}
	if l.nonceUsed(nonce) {
		return ErrNonceReplay
	}
	clone := record.Clone()
	clone.Finalized = true
	if clone.CreatedAt.IsZero() {
		clone.CreatedAt = l.now().UTC()
	}
	encoded, err := rlp.EncodeToBytes(storedRecord{
		Day:         clone.Day,
		Category:    uint8(clone.Category),
		SubBatch:    clone.SubBatch,
		Root:        append([]byte(nil), clone.Root[:]...),
		UserCount:   clone.UserCount,
		TotalReward: clone.TotalReward.Bytes(),
		Finalized:   clone.Finalized,
		CreatedAt:   uint64(clone.CreatedAt.Unix()),
	})
	if err != nil {
		return err
	}
	if err := l.db.Put(recordKey(clone.Day, clone.Category, clone.SubBatch), encoded); err != nil {
		return err
	}
	if err := l.db.Put([]byte(fmt.Sprintf(nonceKeyFormat, nonce)), []byte{1}); err != nil {
		return err
	}
	return l.appendDayIndex(clone.Day, storedSlot{Category: uint8(clone.Category), SubBatch: clone.SubBatch})
}

func (l *Ledger) appendDayIndex(day uint64, slot storedSlot) error {
	key := []byte(fmt.Sprintf(dayIndexKeyFormat, day))
	var slots []storedSlot
	if data, err := l.db.Get(key); err == nil {
		if err := rlp.DecodeBytes(data, &slots); err != nil {
			return err
		}
	}
	slots = append(slots, slot)
	encoded, err := rlp.EncodeToBytes(slots)
	if err != nil {
		return err
	}
	return l.db.Put(key, encoded)
}

// ListRecords returns clones of every record finalized for the day, ordered
// by category then sub-batch.
func (l *Ledger) ListRecords(day uint64) ([]*DistributionRecord, error) {
	if l == nil || l.db == nil {
		return nil, errors.New("distribution: ledger not initialised")
	}
	l.mu.RLock()
	defer l.mu.RUnlock()
	data, err := l.db.Get([]byte(fmt.Sprintf(dayIndexKeyFormat, day)))
	if err != nil {
		return []*DistributionRecord{}, nil
	}
	var slots []storedSlot
	if err := rlp.DecodeBytes(data, &slots); err != nil {
		return nil, err
	}
	records := make([]*DistributionRecord, 0, len(slots))
	for _, slot := range slots {
		record, ok, err := l.getRecord(day, Category(slot.Category), slot.SubBatch)
		if err != nil {
			return nil, err
		}
		if ok {
			records = append(records, record.Clone())
		}
	}
	sort.Slice(records, func(i, j int) bool {
		if records[i].Category == records[j].Category {
			return records[i].SubBatch < records[j].SubBatch
		}
		return records[i].Category < records[j].Category
	})
	return records, nil
}

// Claimed reports whether the user already redeemed their entry for the slot.
func (l *Ledger) Claimed(day uint64, category Category, subBatch uint32, user common.Address) (bool, error) {
	if l == nil || l.db == nil {
		return false, errors.New("distribution: ledger not initialised")
	}
	l.mu.RLock()
	defer l.mu.RUnlock()
	_, err := l.db.Get(claimKey(day, category, subBatch, user))
	return err == nil, nil
}

// markClaimed flips the claim flag false → true exactly once; a second call
// fails with ErrAlreadyClaimed without touching state.
func (l *Ledger) markClaimed(day uint64, category Category, subBatch uint32, user common.Address) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	key := claimKey(day, category, subBatch, user)
	if _, err := l.db.Get(key); err == nil {
		return ErrAlreadyClaimed
	}
	return l.db.Put(key, []byte{1})
}

// clearClaim compensates a claim flag after a failed value release so the
// whole claim aborts without partial state.
func (l *Ledger) clearClaim(day uint64, category Category, subBatch uint32, user common.Address) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.db.Delete(claimKey(day, category, subBatch, user))
}

// TotalClaimed returns the cumulative reward released for the slot so far.
func (l *Ledger) TotalClaimed(day uint64, category Category, subBatch uint32) (*big.Int, error) {
	if l == nil || l.db == nil {
		return nil, errors.New("distribution: ledger not initialised")
	}
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.totalClaimed(day, category, subBatch), nil
}

func (l *Ledger) totalClaimed(day uint64, category Category, subBatch uint32) *big.Int {
	data, err := l.db.Get([]byte(fmt.Sprintf(claimedTotalKeyFormat, day, uint8(category), subBatch)))
	if err != nil {
		return big.NewInt(0)
	}
	return new(big.Int).SetBytes(data)
}

func (l *Ledger) addClaimed(day uint64, category Category, subBatch uint32, amount *big.Int) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	total := l.totalClaimed(day, category, subBatch)
	total.Add(total, amount)
	key := []byte(fmt.Sprintf(claimedTotalKeyFormat, day, uint8(category), subBatch))
	return l.db.Put(key, total.Bytes())
}
