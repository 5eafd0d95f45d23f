package batcherd

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"golang.org/x/time/rate"

	"merkledrop/crypto"
	"merkledrop/native/distribution"
)

// Submitter is the admission endpoint the scheduler hands signed batches to.
// In-process deployments wire the distribution engine directly; remote ones
// wrap a client.
type Submitter interface {
	Submit(sub *distribution.Submission) (*distribution.DistributionRecord, error)
}

type slotKey struct {
	day      uint64
	category distribution.Category
	subBatch uint32
}

// SlotResult reports the outcome for one sub-batch slot.
type SlotResult struct {
	Batch     *distribution.Batch
	Record    *distribution.DistributionRecord
	Discarded bool
}

// Scheduler builds, signs and submits batches, keeping at most one in-flight
// attempt per (day, category, subBatch) slot. When a competing submitter wins
// the slot first, the ledger's already-submitted guard is final: the losing
// batch is discarded, never retried.
type Scheduler struct {
	submitter      Submitter
	key            *crypto.RelayerKey
	domain         distribution.SigningDomain
	treeDepth      int
	deadlineWindow time.Duration
	limiter        *rate.Limiter
	metrics        *Metrics
	log            *slog.Logger
	now            func() time.Time
	nonce          atomic.Uint64

	mu       sync.Mutex
	inFlight map[slotKey]struct{}
}

// SchedulerOption customises the scheduler instance.
type SchedulerOption func(*Scheduler)

// WithSubmitRate caps submissions per second.
func WithSubmitRate(perSecond float64) SchedulerOption {
	return func(s *Scheduler) {
		if perSecond > 0 {
			s.limiter = rate.NewLimiter(rate.Limit(perSecond), 1)
		}
	}
}

// WithDeadlineWindow sets how long signed submissions stay valid.
func WithDeadlineWindow(window time.Duration) SchedulerOption {
	return func(s *Scheduler) {
		if window > 0 {
			s.deadlineWindow = window
		}
	}
}

// WithSchedulerClock sets the function used to derive deadlines and nonces.
func WithSchedulerClock(now func() time.Time) SchedulerOption {
	return func(s *Scheduler) {
		if now != nil {
			s.now = now
		}
	}
}

// WithLogger supplies the structured logger.
func WithLogger(log *slog.Logger) SchedulerOption {
	return func(s *Scheduler) {
		if log != nil {
			s.log = log
		}
	}
}

// WithMetrics overrides the default metrics registry.
func WithMetrics(m *Metrics) SchedulerOption {
	return func(s *Scheduler) {
		if m != nil {
			s.metrics = m
		}
	}
}

// NewScheduler constructs a scheduler signing with the supplied relayer key.
func NewScheduler(submitter Submitter, key *crypto.RelayerKey, domain distribution.SigningDomain, treeDepth int, opts ...SchedulerOption) (*Scheduler, error) {
	if submitter == nil {
		return nil, errors.New("batcherd: submitter required")
	}
	if key == nil {
		return nil, errors.New("batcherd: relayer key required")
	}
	s := &Scheduler{
		submitter:      submitter,
		key:            key,
		domain:         domain,
		treeDepth:      treeDepth,
		deadlineWindow: 10 * time.Minute,
		limiter:        rate.NewLimiter(rate.Limit(2), 1),
		metrics:        NewMetrics(),
		log:            slog.Default(),
		now:            time.Now,
		inFlight:       make(map[slotKey]struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}
	// Nonces only need to be unique per ledger deployment; seeding from the
	// clock keeps restarts from replaying earlier values.
	s.nonce.Store(uint64(s.now().UnixNano()))
	return s, nil
}

func (s *Scheduler) acquire(key slotKey) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, busy := s.inFlight[key]; busy {
		return false
	}
	s.inFlight[key] = struct{}{}
	return true
}

func (s *Scheduler) release(key slotKey) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.inFlight, key)
}

// ErrSlotBusy indicates another attempt for the same slot is in flight.
var ErrSlotBusy = errors.New("batcherd: slot submission already in flight")

// SubmitSlot splits the cohort into sub-batches and submits each one. Results
// carry per-user proof material for distribution to claimers. A slot another
// process finalized first comes back with Discarded set instead of an error.
func (s *Scheduler) SubmitSlot(ctx context.Context, day uint64, category distribution.Category, entries []distribution.Entry) ([]SlotResult, error) {
	chunks := distribution.SplitEntries(entries, s.treeDepth)
	results := make([]SlotResult, 0, len(chunks))
	for i, chunk := range chunks {
		result, err := s.submitSubBatch(ctx, day, category, uint32(i), chunk)
		if err != nil {
			return results, err
		}
		results = append(results, result)
	}
	return results, nil
}

func (s *Scheduler) submitSubBatch(ctx context.Context, day uint64, category distribution.Category, subBatch uint32, entries []distribution.Entry) (SlotResult, error) {
	key := slotKey{day: day, category: category, subBatch: subBatch}
	if !s.acquire(key) {
		return SlotResult{}, ErrSlotBusy
	}
	defer s.release(key)

	attempt := uuid.NewString()
	buildStart := s.now()
	batch, err := distribution.BuildBatch(day, category, subBatch, entries, s.treeDepth)
	if err != nil {
		return SlotResult{}, fmt.Errorf("batcherd: build batch: %w", err)
	}
	s.metrics.ObserveBuild(category.String(), s.now().Sub(buildStart))

	sub := batch.Submission(s.nonce.Add(1), s.now().Add(s.deadlineWindow).Unix())
	if err := sub.Sign(s.domain, s.key.Private()); err != nil {
		return SlotResult{}, err
	}
	if err := s.limiter.Wait(ctx); err != nil {
		return SlotResult{}, err
	}

	record, err := s.submitter.Submit(sub)
	s.metrics.RecordSubmission(category.String(), err)
	if errors.Is(err, distribution.ErrAlreadySubmitted) {
		// Lost the race for the slot; the finalized record is authoritative
		// and this batch must not be resubmitted with a fresh nonce.
		s.log.Warn("slot already finalized, discarding batch",
			"attempt", attempt, "day", day, "category", category.String(), "subBatch", subBatch)
		return SlotResult{Batch: batch, Discarded: true}, nil
	}
	if err != nil {
		return SlotResult{}, fmt.Errorf("batcherd: submit slot: %w", err)
	}
	s.log.Info("slot finalized",
		"attempt", attempt, "day", day, "category", category.String(), "subBatch", subBatch,
		"users", record.UserCount, "totalReward", record.TotalReward.String())
	return SlotResult{Batch: batch, Record: record}, nil
}
