package distribution

import (
	"crypto/ecdsa"
	"encoding/hex"
	"errors"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/math"
	ethcrypto "github.com/ethereum/go-ethereum/crypto"

	"merkledrop/merkle"
)

// Submission is the payload a relayer signs and presents to finalize one
// (day, category, subBatch) slot. Users, Points and Amounts are parallel
// slices in batch order; the digest commits to all three so the supplied
// root can be independently re-derived.
type Submission struct {
	Day       uint64
	Category  Category
	SubBatch  uint32
	Root      merkle.Hash
	Users     []common.Address
	Points    []uint64
	Amounts   []*big.Int
	Nonce     uint64
	Deadline  int64
	Signature []byte
}

func (s *Submission) usersDigest() []byte {
	payload := make([]byte, 0, len(s.Users)*common.AddressLength)
	for _, user := range s.Users {
		payload = append(payload, user.Bytes()...)
	}
	return ethcrypto.Keccak256(payload)
}

func (s *Submission) pointsDigest() []byte {
	payload := make([]byte, 0, len(s.Points)*32)
	for _, points := range s.Points {
		payload = append(payload, math.PaddedBigBytes(new(big.Int).SetUint64(points), 32)...)
	}
	return ethcrypto.Keccak256(payload)
}

func (s *Submission) amountsDigest() ([]byte, error) {
	payload := make([]byte, 0, len(s.Amounts)*32)
	for _, amount := range s.Amounts {
		if amount == nil || amount.Sign() < 0 || amount.BitLen() > 256 {
			return nil, ErrInvalidAmount
		}
		payload = append(payload, math.PaddedBigBytes(amount, 32)...)
	}
	return ethcrypto.Keccak256(payload), nil
}

// Digest computes the domain-separated signing digest for the submission.
func (s *Submission) Digest(domain SigningDomain) ([]byte, error) {
	if s == nil {
		return nil, errors.New("distribution: nil submission")
	}
	if domain.Name == "" || domain.Version == "" {
		return nil, errors.New("distribution: signing domain required")
	}
	amounts, err := s.amountsDigest()
	if err != nil {
		return nil, err
	}
	payload := fmt.Sprintf("%s/v%s|chain=%d|ledger=%s|day=%d|cat=%d|sub=%d|root=%s|users=%s|points=%s|amounts=%s|nonce=%d|deadline=%d",
		domain.Name,
		domain.Version,
		domain.ChainID,
		hex.EncodeToString(domain.Ledger.Bytes()),
		s.Day,
		uint8(s.Category),
		s.SubBatch,
		hex.EncodeToString(s.Root[:]),
		hex.EncodeToString(s.usersDigest()),
		hex.EncodeToString(s.pointsDigest()),
		hex.EncodeToString(amounts),
		s.Nonce,
		s.Deadline,
	)
	return ethcrypto.Keccak256([]byte(payload)), nil
}

// Sign populates the submission signature with the supplied relayer key.
func (s *Submission) Sign(domain SigningDomain, key *ecdsa.PrivateKey) error {
	if key == nil {
		return errors.New("distribution: signing key required")
	}
	digest, err := s.Digest(domain)
	if err != nil {
		return err
	}
	sig, err := ethcrypto.Sign(digest, key)
	if err != nil {
		return fmt.Errorf("distribution: sign submission: %w", err)
	}
	s.Signature = sig
	return nil
}

// RecoverSubmitter recovers the address that signed the submission digest.
func (s *Submission) RecoverSubmitter(domain SigningDomain) (common.Address, error) {
	if len(s.Signature) != ethcrypto.SignatureLength {
		return common.Address{}, ErrInvalidSignature
	}
	digest, err := s.Digest(domain)
	if err != nil {
		return common.Address{}, err
	}
	pub, err := ethcrypto.SigToPub(digest, s.Signature)
	if err != nil {
		return common.Address{}, ErrInvalidSignature
	}
	return ethcrypto.PubkeyToAddress(*pub), nil
}
