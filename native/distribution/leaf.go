package distribution

import (
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/math"
	ethcrypto "github.com/ethereum/go-ethereum/crypto"

	"merkledrop/merkle"
)

// LeafHash derives the leaf digest for one reward entry:
// keccak256(user ‖ uint256(points) ‖ uint256(amount)). The same encoding is
// used by the batch builder and by claim verification, so a claimer can only
// redeem exactly the amount committed for them.
func LeafHash(user common.Address, points uint64, amount *big.Int) (merkle.Hash, error) {
	if amount == nil || amount.Sign() < 0 || amount.BitLen() > 256 {
		return merkle.Hash{}, ErrInvalidAmount
	}
	var out merkle.Hash
	digest := ethcrypto.Keccak256(
		user.Bytes(),
		math.PaddedBigBytes(new(big.Int).SetUint64(points), 32),
		math.PaddedBigBytes(amount, 32),
	)
	copy(out[:], digest)
	return out, nil
}
