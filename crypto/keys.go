package crypto

import (
	"crypto/ecdsa"
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	ethcrypto "github.com/ethereum/go-ethereum/crypto"
)

// RelayerKey wraps the secp256k1 key an authorized relayer signs batch
// submissions with.
type RelayerKey struct {
	priv *ecdsa.PrivateKey
}

// GenerateRelayerKey creates a fresh key, used by tests and first-run setup.
func GenerateRelayerKey() (*RelayerKey, error) {
	priv, err := ethcrypto.GenerateKey()
	if err != nil {
		return nil, fmt.Errorf("crypto: generate key: %w", err)
	}
	return &RelayerKey{priv: priv}, nil
}

// LoadRelayerKey parses a hex-encoded private key, with or without the 0x
// prefix.
func LoadRelayerKey(hexKey string) (*RelayerKey, error) {
	trimmed := strings.TrimPrefix(strings.TrimSpace(hexKey), "0x")
	if trimmed == "" {
		return nil, fmt.Errorf("crypto: empty private key")
	}
	priv, err := ethcrypto.HexToECDSA(trimmed)
	if err != nil {
		return nil, fmt.Errorf("crypto: load private key: %w", err)
	}
	return &RelayerKey{priv: priv}, nil
}

// Address returns the 20-byte address derived from the key.
func (k *RelayerKey) Address() common.Address {
	return ethcrypto.PubkeyToAddress(k.priv.PublicKey)
}

// Private exposes the underlying key for digest signing.
func (k *RelayerKey) Private() *ecdsa.PrivateKey {
	return k.priv
}

// Sign produces a 65-byte recoverable signature over the 32-byte digest.
func (k *RelayerKey) Sign(digest []byte) ([]byte, error) {
	if len(digest) != 32 {
		return nil, fmt.Errorf("crypto: digest must be 32 bytes")
	}
	sig, err := ethcrypto.Sign(digest, k.priv)
	if err != nil {
		return nil, fmt.Errorf("crypto: sign digest: %w", err)
	}
	return sig, nil
}
