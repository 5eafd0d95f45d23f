package distribution

import (
	"math/big"

	"github.com/ethereum/go-ethereum/common"

	"merkledrop/merkle"
)

// BatchProof pairs a user's leaf index with the sibling path proving their
// entry against the batch root.
type BatchProof struct {
	Index uint64
	Leaf  merkle.Hash
	Proof []merkle.Hash
}

// Batch is the deterministic result of building one (day, category, subBatch)
// slot off-chain: the root to submit plus proof material for every user.
type Batch struct {
	Day         uint64
	Category    Category
	SubBatch    uint32
	Root        merkle.Hash
	Entries     []Entry
	TotalReward *big.Int
	Proofs      map[common.Address]BatchProof
}

// depthFor returns the height of the smallest power-of-two tree that holds n
// leaves. A single-entry batch yields a depth-0 tree whose root is the leaf,
// so its proof is empty.
func depthFor(n int) int {
	depth := 0
	for uint64(1)<<uint(depth) < uint64(n) {
		depth++
	}
	return depth
}

// BuildBatch builds a static merkle tree over the ordered entries and returns
// the root together with per-user proofs. Identical ordered input always
// yields an identical root; both the submission validator and the claim path
// rely on re-deriving the same value. Proofs are issued only here, after the
// tree is fully populated, never against a growing tree.
func BuildBatch(day uint64, category Category, subBatch uint32, entries []Entry, maxDepth int) (*Batch, error) {
	if !category.Valid() {
		return nil, ErrInvalidCategory
	}
	if len(entries) == 0 {
		return nil, ErrEmptyBatch
	}
	depth := depthFor(len(entries))
	if depth > maxDepth {
		return nil, ErrBatchTooLarge
	}

	tree, err := merkle.NewTree(depth)
	if err != nil {
		return nil, err
	}
	seen := make(map[common.Address]struct{}, len(entries))
	total := big.NewInt(0)
	cloned := make([]Entry, 0, len(entries))
	for _, entry := range entries {
		if _, dup := seen[entry.User]; dup {
			return nil, ErrDuplicateUser
		}
		seen[entry.User] = struct{}{}
		leaf, err := LeafHash(entry.User, entry.Points, entry.Amount)
		if err != nil {
			return nil, err
		}
		if _, err := tree.Insert(leaf); err != nil {
			return nil, err
		}
		total.Add(total, entry.Amount)
		cloned = append(cloned, entry.Clone())
	}

	proofs := make(map[common.Address]BatchProof, len(cloned))
	for i, entry := range cloned {
		proof, err := tree.Proof(uint64(i))
		if err != nil {
			return nil, err
		}
		leaf, err := LeafHash(entry.User, entry.Points, entry.Amount)
		if err != nil {
			return nil, err
		}
		proofs[entry.User] = BatchProof{Index: uint64(i), Leaf: leaf, Proof: proof}
	}

	return &Batch{
		Day:         day,
		Category:    category,
		SubBatch:    subBatch,
		Root:        tree.Root(),
		Entries:     cloned,
		TotalReward: total,
		Proofs:      proofs,
	}, nil
}

// DeriveRoot independently recomputes the root the builder would produce for
// the ordered triples. The submission validator uses it to check a supplied
// root before accepting it.
func DeriveRoot(users []common.Address, points []uint64, amounts []*big.Int) (merkle.Hash, error) {
	if len(users) != len(points) || len(users) != len(amounts) {
		return merkle.Hash{}, ErrLengthMismatch
	}
	if len(users) == 0 {
		return merkle.Hash{}, ErrEmptyBatch
	}
	leaves := make([]merkle.Hash, len(users))
	for i := range users {
		leaf, err := LeafHash(users[i], points[i], amounts[i])
		if err != nil {
			return merkle.Hash{}, err
		}
		leaves[i] = leaf
	}
	return merkle.StaticRoot(leaves, depthFor(len(leaves)))
}

// SplitEntries partitions a cohort into consecutive sub-batches that each fit
// a single tree. Oversize cohorts are never truncated or rejected; the caller
// submits one slot per resulting chunk.
func SplitEntries(entries []Entry, maxDepth int) [][]Entry {
	capacity := int(uint64(1) << uint(maxDepth))
	if len(entries) == 0 {
		return nil
	}
	chunks := make([][]Entry, 0, (len(entries)+capacity-1)/capacity)
	for start := 0; start < len(entries); start += capacity {
		end := start + capacity
		if end > len(entries) {
			end = len(entries)
		}
		chunks = append(chunks, entries[start:end])
	}
	return chunks
}

// Submission assembles the signed payload for the batch. The caller signs it
// before handing it to the validator.
func (b *Batch) Submission(nonce uint64, deadline int64) *Submission {
	users := make([]common.Address, len(b.Entries))
	points := make([]uint64, len(b.Entries))
	amounts := make([]*big.Int, len(b.Entries))
	for i, entry := range b.Entries {
		users[i] = entry.User
		points[i] = entry.Points
		amounts[i] = new(big.Int).Set(entry.Amount)
	}
	return &Submission{
		Day:      b.Day,
		Category: b.Category,
		SubBatch: b.SubBatch,
		Root:     b.Root,
		Users:    users,
		Points:   points,
		Amounts:  amounts,
		Nonce:    nonce,
		Deadline: deadline,
	}
}
