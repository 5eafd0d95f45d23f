package distribution

import (
	"errors"
	"fmt"
	"math/big"
	"time"

	"merkledrop/merkle"
)

// Engine validates batch submissions and processes claims against the ledger.
// All mutations funnel through the ledger's serialized writes; a rejected
// submission or claim leaves no partial state behind.
type Engine struct {
	params      Params
	ledger      *Ledger
	authority   Authority
	transfer    ValueTransfer
	emitter     Emitter
	verifyRoots bool
	now         func() time.Time
}

// EngineOption customises the engine instance.
type EngineOption func(*Engine)

// WithRootVerification toggles independent root re-derivation during Submit.
// When disabled the signed root is trusted as authoritative; re-derivation is
// the safer default and rejects mismatches with ErrRootMismatch.
func WithRootVerification(enabled bool) EngineOption {
	return func(e *Engine) { e.verifyRoots = enabled }
}

// WithEmitter supplies the event sink.
func WithEmitter(emitter Emitter) EngineOption {
	return func(e *Engine) {
		if emitter != nil {
			e.emitter = emitter
		}
	}
}

// WithClock sets the function used to evaluate deadlines.
func WithClock(now func() time.Time) EngineOption {
	return func(e *Engine) {
		if now != nil {
			e.now = now
		}
	}
}

// NewEngine constructs a distribution engine over the supplied collaborators.
func NewEngine(params Params, ledger *Ledger, authority Authority, transfer ValueTransfer, opts ...EngineOption) (*Engine, error) {
	if err := params.Validate(); err != nil {
		return nil, fmt.Errorf("distribution: invalid params: %w", err)
	}
	if ledger == nil {
		return nil, errors.New("distribution: ledger required")
	}
	if authority == nil {
		return nil, errors.New("distribution: relayer authority required")
	}
	if transfer == nil {
		return nil, errors.New("distribution: value transfer required")
	}
	engine := &Engine{
		params:      params,
		ledger:      ledger,
		authority:   authority,
		transfer:    transfer,
		emitter:     NoopEmitter{},
		verifyRoots: true,
		now:         time.Now,
	}
	for _, opt := range opts {
		opt(engine)
	}
	return engine, nil
}

// Params returns the admission parameters the engine enforces.
func (e *Engine) Params() Params { return e.params }

// CurrentDay exposes the ledger's epoch-day index.
func (e *Engine) CurrentDay() uint64 { return e.ledger.CurrentDay() }

// Record returns the finalized record for a slot, if any.
func (e *Engine) Record(day uint64, category Category, subBatch uint32) (*DistributionRecord, bool, error) {
	return e.ledger.GetRecord(day, category, subBatch)
}

// Submit admits one finalized batch for its (day, category, subBatch) slot.
// Checks run in a fixed order and any failure aborts the whole operation
// before state is touched; only the final ledger write mutates anything.
func (e *Engine) Submit(sub *Submission) (*DistributionRecord, error) {
	if sub == nil {
		return nil, errors.New("distribution: nil submission")
	}
	if !sub.Category.Valid() {
		return nil, ErrInvalidCategory
	}
	if _, ok, err := e.ledger.GetRecord(sub.Day, sub.Category, sub.SubBatch); err != nil {
		return nil, err
	} else if ok {
		return nil, ErrAlreadySubmitted
	}
	if len(sub.Users) != len(sub.Amounts) || len(sub.Users) != len(sub.Points) {
		return nil, ErrLengthMismatch
	}
	if len(sub.Users) == 0 {
		return nil, ErrEmptyBatch
	}
	if uint64(len(sub.Users)) > e.params.MaxBatchSize {
		return nil, ErrBatchTooLarge
	}
	total := big.NewInt(0)
	for _, amount := range sub.Amounts {
		if amount == nil || amount.Sign() < 0 {
			return nil, ErrInvalidAmount
		}
		total.Add(total, amount)
	}
	if total.Cmp(e.params.CapFor(sub.Category)) > 0 {
		return nil, ErrCapExceeded
	}
	if e.now().UTC().Unix() > sub.Deadline {
		return nil, ErrDeadlineExpired
	}
	signer, err := sub.RecoverSubmitter(e.params.Domain)
	if err != nil {
		return nil, err
	}
	authorized, err := e.authority.IsRelayer(signer)
	if err != nil {
		return nil, fmt.Errorf("distribution: authority lookup: %w", err)
	}
	if !authorized {
		return nil, ErrUnauthorized
	}
	if used, err := e.ledger.NonceUsed(sub.Nonce); err != nil {
		return nil, err
	} else if used {
		return nil, ErrNonceReplay
	}
	if e.verifyRoots {
		derived, err := DeriveRoot(sub.Users, sub.Points, sub.Amounts)
		if err != nil {
			return nil, err
		}
		if derived != sub.Root {
			return nil, ErrRootMismatch
		}
	}

	record := &DistributionRecord{
		Day:         sub.Day,
		Category:    sub.Category,
		SubBatch:    sub.SubBatch,
		Root:        sub.Root,
		UserCount:   uint64(len(sub.Users)),
		TotalReward: total,
		Finalized:   true,
		CreatedAt:   e.now().UTC(),
	}
	if err := e.ledger.Finalize(record, sub.Nonce); err != nil {
		return nil, err
	}
	e.emitter.Emit(DistributionFinalized{
		Day:         record.Day,
		Category:    record.Category,
		SubBatch:    record.SubBatch,
		Root:        record.Root,
		UserCount:   record.UserCount,
		TotalReward: new(big.Int).Set(record.TotalReward),
		Submitter:   signer,
	})
	return record.Clone(), nil
}

// Claim verifies the caller's proof against the finalized record for the slot
// and releases exactly the leaf-encoded amount. The claim flag is flipped
// before value moves; a transfer failure compensates the flag so the whole
// claim aborts.
func (e *Engine) Claim(req *ClaimRequest) (*ClaimReceipt, error) {
	if req == nil {
		return nil, errors.New("distribution: nil claim request")
	}
	if !req.Category.Valid() {
		return nil, ErrInvalidCategory
	}
	record, ok, err := e.ledger.GetRecord(req.Day, req.Category, req.SubBatch)
	if err != nil {
		return nil, err
	}
	if !ok || !record.Finalized {
		return nil, ErrNoDistribution
	}
	if claimed, err := e.ledger.Claimed(req.Day, req.Category, req.SubBatch, req.User); err != nil {
		return nil, err
	} else if claimed {
		return nil, ErrAlreadyClaimed
	}
	leaf, err := LeafHash(req.User, req.Points, req.Amount)
	if err != nil {
		return nil, err
	}
	if !merkle.VerifyProof(record.Root, leaf, req.Index, req.Proof) {
		return nil, ErrProofInvalid
	}

	// markClaimed re-checks atomically, so two racing claims for the same
	// user resolve to exactly one success.
	if err := e.ledger.markClaimed(req.Day, req.Category, req.SubBatch, req.User); err != nil {
		return nil, err
	}
	if err := e.transfer.Release(req.User, req.Amount); err != nil {
		if clearErr := e.ledger.clearClaim(req.Day, req.Category, req.SubBatch, req.User); clearErr != nil {
			return nil, fmt.Errorf("distribution: release failed (%w) and claim rollback failed: %v", err, clearErr)
		}
		return nil, fmt.Errorf("distribution: value release failed: %w", err)
	}
	if err := e.ledger.addClaimed(req.Day, req.Category, req.SubBatch, req.Amount); err != nil {
		return nil, err
	}

	receipt := &ClaimReceipt{
		Day:       req.Day,
		Category:  req.Category,
		SubBatch:  req.SubBatch,
		User:      req.User,
		Amount:    new(big.Int).Set(req.Amount),
		ClaimedAt: e.now().UTC(),
	}
	e.emitter.Emit(RewardClaimed{
		Day:      req.Day,
		Category: req.Category,
		SubBatch: req.SubBatch,
		User:     req.User,
		Amount:   new(big.Int).Set(req.Amount),
		Index:    req.Index,
	})
	return receipt, nil
}
