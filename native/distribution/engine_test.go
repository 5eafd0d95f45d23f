package distribution

import (
	"crypto/ecdsa"
	"errors"
	"math/big"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	ethcrypto "github.com/ethereum/go-ethereum/crypto"

	"merkledrop/storage"
)

type engineFixture struct {
	engine *Engine
	ledger *Ledger
	vault  *EscrowVault
	key    *ecdsa.PrivateKey
	params Params
	now    time.Time
}

func newEngineFixture(t *testing.T, opts ...EngineOption) *engineFixture {
	t.Helper()
	key, err := ethcrypto.GenerateKey()
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	params := DefaultParams()
	now := time.Unix(100*secondsPerDay+3600, 0).UTC()
	ledger := NewLedger(storage.NewMemDB())
	ledger.SetClock(func() time.Time { return now })
	vault := NewEscrowVault()
	authority := NewStaticAuthority(ethcrypto.PubkeyToAddress(key.PublicKey))
	opts = append([]EngineOption{WithClock(func() time.Time { return now })}, opts...)
	engine, err := NewEngine(params, ledger, authority, vault, opts...)
	if err != nil {
		t.Fatalf("new engine: %v", err)
	}
	return &engineFixture{engine: engine, ledger: ledger, vault: vault, key: key, params: params, now: now}
}

func (f *engineFixture) signedSubmission(t *testing.T, day uint64, category Category, entries []Entry, nonce uint64) (*Batch, *Submission) {
	t.Helper()
	batch, err := BuildBatch(day, category, 0, entries, f.params.TreeDepth)
	if err != nil {
		t.Fatalf("build batch: %v", err)
	}
	sub := batch.Submission(nonce, f.now.Add(10*time.Minute).Unix())
	if err := sub.Sign(f.params.Domain, f.key); err != nil {
		t.Fatalf("sign: %v", err)
	}
	return batch, sub
}

func fiveTenthsToken() *big.Int {
	// 5e17 wei, half a token at 18 decimals.
	half, _ := new(big.Int).SetString("500000000000000000", 10)
	return half
}

func TestSubmitAndClaimSingleUserScenario(t *testing.T) {
	f := newEngineFixture(t)
	userA := common.HexToAddress("0x000000000000000000000000000000000000000A")
	userB := common.HexToAddress("0x000000000000000000000000000000000000000B")
	entry := Entry{User: userA, Points: 10, Amount: fiveTenthsToken()}

	_, sub := f.signedSubmission(t, 100, CategoryCreate, []Entry{entry}, 1)
	record, err := f.engine.Submit(sub)
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	if record.UserCount != 1 || record.TotalReward.Cmp(entry.Amount) != 0 {
		t.Fatalf("unexpected record: users=%d total=%s", record.UserCount, record.TotalReward)
	}
	f.vault.Fund(record.TotalReward)

	claim := &ClaimRequest{
		Day: 100, Category: CategoryCreate, User: userA,
		Points: 10, Amount: fiveTenthsToken(), Index: 0, Proof: nil,
	}
	receipt, err := f.engine.Claim(claim)
	if err != nil {
		t.Fatalf("claim: %v", err)
	}
	if receipt.Amount.Cmp(entry.Amount) != 0 {
		t.Fatalf("released %s, want %s", receipt.Amount, entry.Amount)
	}
	if f.vault.Balance().Sign() != 0 {
		t.Fatalf("escrow not drained: %s", f.vault.Balance())
	}

	if _, err := f.engine.Claim(claim); !errors.Is(err, ErrAlreadyClaimed) {
		t.Fatalf("expected ErrAlreadyClaimed, got %v", err)
	}
	total, err := f.ledger.TotalClaimed(100, CategoryCreate, 0)
	if err != nil {
		t.Fatalf("total claimed: %v", err)
	}
	if total.Cmp(entry.Amount) != 0 {
		t.Fatalf("duplicate claim altered totals: %s", total)
	}

	bogus := &ClaimRequest{
		Day: 100, Category: CategoryCreate, User: userB,
		Points: 10, Amount: fiveTenthsToken(), Index: 0, Proof: nil,
	}
	if _, err := f.engine.Claim(bogus); !errors.Is(err, ErrProofInvalid) {
		t.Fatalf("expected ErrProofInvalid for foreign claimer, got %v", err)
	}
}

func TestSubmitAdmissionChecks(t *testing.T) {
	f := newEngineFixture(t)
	entries := testEntries(4)

	_, sub := f.signedSubmission(t, 200, CategoryShare, entries, 10)
	if _, err := f.engine.Submit(sub); err != nil {
		t.Fatalf("accepting submit: %v", err)
	}
	before, ok, err := f.ledger.GetRecord(200, CategoryShare, 0)
	if err != nil || !ok {
		t.Fatalf("record missing after submit: %v", err)
	}

	// Same slot again, fresh nonce: terminal rejection, record untouched.
	_, replay := f.signedSubmission(t, 200, CategoryShare, entries, 11)
	if _, err := f.engine.Submit(replay); !errors.Is(err, ErrAlreadySubmitted) {
		t.Fatalf("expected ErrAlreadySubmitted, got %v", err)
	}
	after, _, err := f.ledger.GetRecord(200, CategoryShare, 0)
	if err != nil {
		t.Fatalf("reload record: %v", err)
	}
	if after.Root != before.Root || after.UserCount != before.UserCount ||
		after.TotalReward.Cmp(before.TotalReward) != 0 || !after.CreatedAt.Equal(before.CreatedAt) {
		t.Fatal("rejected submission mutated the finalized record")
	}

	_, bad := f.signedSubmission(t, 201, CategoryShare, entries, 12)
	bad.Category = Category(200)
	if _, err := f.engine.Submit(bad); !errors.Is(err, ErrInvalidCategory) {
		t.Fatalf("expected ErrInvalidCategory, got %v", err)
	}

	_, mismatch := f.signedSubmission(t, 201, CategoryShare, entries, 13)
	mismatch.Points = mismatch.Points[:len(mismatch.Points)-1]
	if _, err := f.engine.Submit(mismatch); !errors.Is(err, ErrLengthMismatch) {
		t.Fatalf("expected ErrLengthMismatch, got %v", err)
	}

	_, late := f.signedSubmission(t, 202, CategoryShare, entries, 14)
	late.Deadline = f.now.Add(-time.Second).Unix()
	if _, err := f.engine.Submit(late); !errors.Is(err, ErrDeadlineExpired) {
		t.Fatalf("expected ErrDeadlineExpired, got %v", err)
	}
}

func TestSubmitCapExceeded(t *testing.T) {
	f := newEngineFixture(t)
	over := new(big.Int).Add(f.params.CapFor(CategoryRefer), big.NewInt(1))
	entry := Entry{User: common.HexToAddress("0x01"), Points: 1, Amount: over}
	_, sub := f.signedSubmission(t, 300, CategoryRefer, []Entry{entry}, 20)
	if _, err := f.engine.Submit(sub); !errors.Is(err, ErrCapExceeded) {
		t.Fatalf("expected ErrCapExceeded, got %v", err)
	}
	if _, ok, err := f.ledger.GetRecord(300, CategoryRefer, 0); err != nil || ok {
		t.Fatalf("rejected submission left a record (ok=%v err=%v)", ok, err)
	}
}

func TestSubmitBatchTooLarge(t *testing.T) {
	f := newEngineFixture(t)
	f.params.MaxBatchSize = 3
	engine, err := NewEngine(f.params, f.ledger, NewStaticAuthority(ethcrypto.PubkeyToAddress(f.key.PublicKey)), f.vault,
		WithClock(func() time.Time { return f.now }))
	if err != nil {
		t.Fatalf("new engine: %v", err)
	}
	_, sub := f.signedSubmission(t, 301, CategoryCreate, testEntries(4), 21)
	if _, err := engine.Submit(sub); !errors.Is(err, ErrBatchTooLarge) {
		t.Fatalf("expected ErrBatchTooLarge, got %v", err)
	}
}

func TestSubmitSignatureAndNonceChecks(t *testing.T) {
	f := newEngineFixture(t)
	entries := testEntries(2)

	_, forged := f.signedSubmission(t, 400, CategoryComment, entries, 30)
	forged.Signature[10] ^= 0xff
	if _, err := f.engine.Submit(forged); !errors.Is(err, ErrInvalidSignature) && !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("expected signature rejection, got %v", err)
	}

	stranger, err := ethcrypto.GenerateKey()
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	_, outsider := f.signedSubmission(t, 400, CategoryComment, entries, 31)
	if err := outsider.Sign(f.params.Domain, stranger); err != nil {
		t.Fatalf("sign: %v", err)
	}
	if _, err := f.engine.Submit(outsider); !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("expected ErrUnauthorized, got %v", err)
	}

	_, first := f.signedSubmission(t, 400, CategoryComment, entries, 32)
	if _, err := f.engine.Submit(first); err != nil {
		t.Fatalf("submit: %v", err)
	}
	_, reused := f.signedSubmission(t, 401, CategoryComment, entries, 32)
	if _, err := f.engine.Submit(reused); !errors.Is(err, ErrNonceReplay) {
		t.Fatalf("expected ErrNonceReplay, got %v", err)
	}
}

func TestSubmitRootPolicy(t *testing.T) {
	userTampered := func(f *engineFixture, nonce uint64) *Submission {
		_, sub := f.signedSubmission(t, 500, CategoryBonus, testEntries(3), nonce)
		sub.Root[0] ^= 0xff
		if err := sub.Sign(f.params.Domain, f.key); err != nil {
			t.Fatalf("re-sign: %v", err)
		}
		return sub
	}

	strict := newEngineFixture(t)
	if _, err := strict.engine.Submit(userTampered(strict, 40)); !errors.Is(err, ErrRootMismatch) {
		t.Fatalf("expected ErrRootMismatch with verification on, got %v", err)
	}

	trusting := newEngineFixture(t, WithRootVerification(false))
	record, err := trusting.engine.Submit(userTampered(trusting, 41))
	if err != nil {
		t.Fatalf("trusting engine rejected signed root: %v", err)
	}
	// The signed-but-wrong root is now authoritative; honest proofs fail it.
	entry := testEntries(3)[0]
	batch, err := BuildBatch(500, CategoryBonus, 0, testEntries(3), trusting.params.TreeDepth)
	if err != nil {
		t.Fatalf("rebuild: %v", err)
	}
	proof := batch.Proofs[entry.User]
	_, err = trusting.engine.Claim(&ClaimRequest{
		Day: 500, Category: CategoryBonus, User: entry.User,
		Points: entry.Points, Amount: entry.Amount, Index: proof.Index, Proof: proof.Proof,
	})
	if !errors.Is(err, ErrProofInvalid) {
		t.Fatalf("expected ErrProofInvalid against tampered root %x, got %v", record.Root[:4], err)
	}
}

func TestClaimRequiresFinalizedRecord(t *testing.T) {
	f := newEngineFixture(t)
	_, err := f.engine.Claim(&ClaimRequest{
		Day: 999, Category: CategoryCreate, User: common.HexToAddress("0x01"),
		Points: 1, Amount: big.NewInt(1),
	})
	if !errors.Is(err, ErrNoDistribution) {
		t.Fatalf("expected ErrNoDistribution, got %v", err)
	}
}

func TestClaimMultiUserBatch(t *testing.T) {
	f := newEngineFixture(t)
	entries := testEntries(8)
	batch, sub := f.signedSubmission(t, 600, CategoryReact, entries, 50)
	record, err := f.engine.Submit(sub)
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	f.vault.Fund(record.TotalReward)

	for _, entry := range entries {
		proof := batch.Proofs[entry.User]
		receipt, err := f.engine.Claim(&ClaimRequest{
			Day: 600, Category: CategoryReact, User: entry.User,
			Points: entry.Points, Amount: entry.Amount, Index: proof.Index, Proof: proof.Proof,
		})
		if err != nil {
			t.Fatalf("claim for %s: %v", entry.User.Hex(), err)
		}
		if receipt.Amount.Cmp(entry.Amount) != 0 {
			t.Fatalf("claim released %s, leaf encodes %s", receipt.Amount, entry.Amount)
		}
	}
	if f.vault.Balance().Sign() != 0 {
		t.Fatalf("escrow should be empty, has %s", f.vault.Balance())
	}

	// Claimed amount tampering must fail proof verification.
	entry := entries[0]
	proof := batch.Proofs[entry.User]
	inflated := new(big.Int).Add(entry.Amount, big.NewInt(1))
	_, err = f.engine.Claim(&ClaimRequest{
		Day: 600, Category: CategoryReact, User: entry.User,
		Points: entry.Points, Amount: inflated, Index: proof.Index, Proof: proof.Proof,
	})
	if !errors.Is(err, ErrAlreadyClaimed) {
		t.Fatalf("expected ErrAlreadyClaimed before proof check, got %v", err)
	}
}

func TestClaimTransferFailureRollsBack(t *testing.T) {
	f := newEngineFixture(t)
	entries := testEntries(1)
	batch, sub := f.signedSubmission(t, 700, CategoryCreate, entries, 60)
	if _, err := f.engine.Submit(sub); err != nil {
		t.Fatalf("submit: %v", err)
	}
	// Vault deliberately unfunded: release fails with ErrInsufficientEscrow.
	entry := entries[0]
	proof := batch.Proofs[entry.User]
	claim := &ClaimRequest{
		Day: 700, Category: CategoryCreate, User: entry.User,
		Points: entry.Points, Amount: entry.Amount, Index: proof.Index, Proof: proof.Proof,
	}
	if _, err := f.engine.Claim(claim); !errors.Is(err, ErrInsufficientEscrow) {
		t.Fatalf("expected ErrInsufficientEscrow, got %v", err)
	}
	claimed, err := f.ledger.Claimed(700, CategoryCreate, 0, entry.User)
	if err != nil {
		t.Fatalf("claimed lookup: %v", err)
	}
	if claimed {
		t.Fatal("failed transfer left the claim flag set")
	}

	f.vault.Fund(entry.Amount)
	if _, err := f.engine.Claim(claim); err != nil {
		t.Fatalf("claim after funding: %v", err)
	}
}

func TestEngineEmitsEvents(t *testing.T) {
	var emitted []Event
	sink := emitterFunc(func(e Event) { emitted = append(emitted, e) })
	f := newEngineFixture(t, WithEmitter(sink))

	entries := testEntries(1)
	batch, sub := f.signedSubmission(t, 800, CategoryRefer, entries, 70)
	record, err := f.engine.Submit(sub)
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	f.vault.Fund(record.TotalReward)
	entry := entries[0]
	proof := batch.Proofs[entry.User]
	if _, err := f.engine.Claim(&ClaimRequest{
		Day: 800, Category: CategoryRefer, User: entry.User,
		Points: entry.Points, Amount: entry.Amount, Index: proof.Index, Proof: proof.Proof,
	}); err != nil {
		t.Fatalf("claim: %v", err)
	}

	if len(emitted) != 2 {
		t.Fatalf("expected 2 events, got %d", len(emitted))
	}
	if emitted[0].EventType() != TypeDistributionFinalized {
		t.Fatalf("first event %q", emitted[0].EventType())
	}
	if emitted[1].EventType() != TypeRewardClaimed {
		t.Fatalf("second event %q", emitted[1].EventType())
	}
	attrs := emitted[1].Attributes()
	if attrs["amount"] != entry.Amount.String() {
		t.Fatalf("claim event amount %q", attrs["amount"])
	}
}

type emitterFunc func(Event)

func (f emitterFunc) Emit(e Event) { f(e) }

func TestDigestBindsDomain(t *testing.T) {
	f := newEngineFixture(t)
	_, sub := f.signedSubmission(t, 900, CategoryCreate, testEntries(2), 80)

	otherDomain := f.params.Domain
	otherDomain.ChainID++
	signer, err := sub.RecoverSubmitter(otherDomain)
	if err != nil && !errors.Is(err, ErrInvalidSignature) {
		t.Fatalf("recover: %v", err)
	}
	if err == nil && signer == ethcrypto.PubkeyToAddress(f.key.PublicKey) {
		t.Fatal("signature verified across a different chain domain")
	}

	recovered, err := sub.RecoverSubmitter(f.params.Domain)
	if err != nil {
		t.Fatalf("recover: %v", err)
	}
	if recovered != ethcrypto.PubkeyToAddress(f.key.PublicKey) {
		t.Fatal("recovered signer does not match the relayer key")
	}
}
