package batcherd

import (
	"context"
	"errors"
	"math/big"
	"sync"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"merkledrop/crypto"
	"merkledrop/native/distribution"
	"merkledrop/storage"
)

func testKey(t *testing.T) *crypto.RelayerKey {
	t.Helper()
	key, err := crypto.GenerateRelayerKey()
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	return key
}

func testCohort(n int) []distribution.Entry {
	entries := make([]distribution.Entry, 0, n)
	for i := 0; i < n; i++ {
		var addr common.Address
		addr[19] = byte(i + 1)
		entries = append(entries, distribution.Entry{
			User:   addr,
			Points: uint64(i + 1),
			Amount: big.NewInt(int64(50 * (i + 1))),
		})
	}
	return entries
}

type stubSubmitter struct {
	mu      sync.Mutex
	calls   []*distribution.Submission
	fail    error
	records []*distribution.DistributionRecord
}

func (s *stubSubmitter) Submit(sub *distribution.Submission) (*distribution.DistributionRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls = append(s.calls, sub)
	if s.fail != nil {
		return nil, s.fail
	}
	record := &distribution.DistributionRecord{
		Day:         sub.Day,
		Category:    sub.Category,
		SubBatch:    sub.SubBatch,
		Root:        sub.Root,
		UserCount:   uint64(len(sub.Users)),
		TotalReward: big.NewInt(0),
		Finalized:   true,
	}
	s.records = append(s.records, record)
	return record, nil
}

func newTestScheduler(t *testing.T, submitter Submitter, treeDepth int) *Scheduler {
	t.Helper()
	scheduler, err := NewScheduler(submitter, testKey(t), distribution.DefaultParams().Domain, treeDepth,
		WithSubmitRate(10_000),
		WithDeadlineWindow(time.Minute),
	)
	if err != nil {
		t.Fatalf("new scheduler: %v", err)
	}
	return scheduler
}

func TestSchedulerSplitsOversizeCohorts(t *testing.T) {
	stub := &stubSubmitter{}
	scheduler := newTestScheduler(t, stub, 2)

	results, err := scheduler.SubmitSlot(context.Background(), 100, distribution.CategoryCreate, testCohort(10))
	if err != nil {
		t.Fatalf("submit slot: %v", err)
	}
	if len(results) != 3 {
		t.Fatalf("expected 3 sub-batches, got %d", len(results))
	}
	for i, result := range results {
		if result.Discarded {
			t.Fatalf("sub-batch %d unexpectedly discarded", i)
		}
		if result.Batch.SubBatch != uint32(i) {
			t.Fatalf("sub-batch %d numbered %d", i, result.Batch.SubBatch)
		}
	}
	seen := make(map[uint64]struct{})
	for _, call := range stub.calls {
		if _, dup := seen[call.Nonce]; dup {
			t.Fatalf("nonce %d reused across sub-batches", call.Nonce)
		}
		seen[call.Nonce] = struct{}{}
	}
}

func TestSchedulerDiscardsLosingRacer(t *testing.T) {
	stub := &stubSubmitter{fail: distribution.ErrAlreadySubmitted}
	scheduler := newTestScheduler(t, stub, 4)

	results, err := scheduler.SubmitSlot(context.Background(), 100, distribution.CategoryShare, testCohort(3))
	if err != nil {
		t.Fatalf("losing a slot race must not surface an error, got %v", err)
	}
	if len(results) != 1 || !results[0].Discarded {
		t.Fatalf("expected one discarded result, got %+v", results)
	}
	if results[0].Record != nil {
		t.Fatal("discarded result must not carry a record")
	}
	if len(stub.calls) != 1 {
		t.Fatalf("losing racer retried: %d calls", len(stub.calls))
	}
}

func TestSchedulerSurfacesOtherRejections(t *testing.T) {
	stub := &stubSubmitter{fail: distribution.ErrCapExceeded}
	scheduler := newTestScheduler(t, stub, 4)

	_, err := scheduler.SubmitSlot(context.Background(), 100, distribution.CategoryShare, testCohort(3))
	if !errors.Is(err, distribution.ErrCapExceeded) {
		t.Fatalf("expected ErrCapExceeded, got %v", err)
	}
}

func TestSchedulerSingleFlightPerSlot(t *testing.T) {
	stub := &stubSubmitter{}
	scheduler := newTestScheduler(t, stub, 4)

	key := slotKey{day: 100, category: distribution.CategoryReact, subBatch: 0}
	if !scheduler.acquire(key) {
		t.Fatal("first acquire failed")
	}
	_, err := scheduler.SubmitSlot(context.Background(), 100, distribution.CategoryReact, testCohort(2))
	if !errors.Is(err, ErrSlotBusy) {
		t.Fatalf("expected ErrSlotBusy, got %v", err)
	}
	scheduler.release(key)

	if _, err := scheduler.SubmitSlot(context.Background(), 100, distribution.CategoryReact, testCohort(2)); err != nil {
		t.Fatalf("submit after release: %v", err)
	}
}

func TestSchedulerEndToEndAgainstEngine(t *testing.T) {
	key := testKey(t)
	params := distribution.DefaultParams()
	ledger := distribution.NewLedger(storage.NewMemDB())
	vault := distribution.NewEscrowVault()
	engine, err := distribution.NewEngine(params, ledger, distribution.NewStaticAuthority(key.Address()), vault)
	if err != nil {
		t.Fatalf("new engine: %v", err)
	}
	scheduler, err := NewScheduler(engine, key, params.Domain, params.TreeDepth,
		WithSubmitRate(10_000))
	if err != nil {
		t.Fatalf("new scheduler: %v", err)
	}

	cohort := testCohort(6)
	results, err := scheduler.SubmitSlot(context.Background(), 100, distribution.CategoryCreate, cohort)
	if err != nil {
		t.Fatalf("submit slot: %v", err)
	}
	if len(results) != 1 || results[0].Record == nil {
		t.Fatalf("expected one finalized slot, got %+v", results)
	}
	vault.Fund(results[0].Record.TotalReward)

	// Users can redeem with the proof material the scheduler returned.
	entry := cohort[2]
	proof := results[0].Batch.Proofs[entry.User]
	receipt, err := engine.Claim(&distribution.ClaimRequest{
		Day: 100, Category: distribution.CategoryCreate, User: entry.User,
		Points: entry.Points, Amount: entry.Amount, Index: proof.Index, Proof: proof.Proof,
	})
	if err != nil {
		t.Fatalf("claim: %v", err)
	}
	if receipt.Amount.Cmp(entry.Amount) != 0 {
		t.Fatalf("released %s, want %s", receipt.Amount, entry.Amount)
	}

	// A second scheduler racing for the same slot must discard its batch.
	rival, err := NewScheduler(engine, key, params.Domain, params.TreeDepth, WithSubmitRate(10_000))
	if err != nil {
		t.Fatalf("rival scheduler: %v", err)
	}
	rivalResults, err := rival.SubmitSlot(context.Background(), 100, distribution.CategoryCreate, cohort)
	if err != nil {
		t.Fatalf("rival submit: %v", err)
	}
	if len(rivalResults) != 1 || !rivalResults[0].Discarded {
		t.Fatalf("rival should have discarded, got %+v", rivalResults)
	}
}
