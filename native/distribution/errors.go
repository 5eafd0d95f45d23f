package distribution

import "errors"

var (
	ErrInvalidCategory    = errors.New("distribution: invalid category")
	ErrAlreadySubmitted   = errors.New("distribution: slot already finalized")
	ErrEmptyBatch         = errors.New("distribution: empty batch")
	ErrBatchTooLarge      = errors.New("distribution: batch exceeds maximum size")
	ErrLengthMismatch     = errors.New("distribution: users, points and amounts lengths differ")
	ErrDuplicateUser      = errors.New("distribution: duplicate user in batch")
	ErrInvalidAmount      = errors.New("distribution: amount must be a non-negative integer")
	ErrCapExceeded        = errors.New("distribution: total reward exceeds daily category cap")
	ErrDeadlineExpired    = errors.New("distribution: submission deadline expired")
	ErrInvalidSignature   = errors.New("distribution: invalid submission signature")
	ErrUnauthorized       = errors.New("distribution: signer does not hold the relayer role")
	ErrNonceReplay        = errors.New("distribution: nonce already consumed")
	ErrRootMismatch       = errors.New("distribution: supplied root does not match re-derived root")
	ErrNoDistribution     = errors.New("distribution: no finalized record for slot")
	ErrAlreadyClaimed     = errors.New("distribution: reward already claimed")
	ErrProofInvalid       = errors.New("distribution: merkle proof invalid")
	ErrInsufficientEscrow = errors.New("distribution: escrow balance insufficient")
)
