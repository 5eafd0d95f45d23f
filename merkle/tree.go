package merkle

import (
	"errors"

	ethcrypto "github.com/ethereum/go-ethereum/crypto"
)

// MaxDepth bounds tree construction; 2^32 leaves is far beyond any batch the
// distribution pipeline produces.
const MaxDepth = 32

var (
	// ErrDepthRange indicates the requested depth falls outside [0, MaxDepth].
	ErrDepthRange = errors.New("merkle: depth out of range")
	// ErrTreeFull indicates the tree already holds 2^depth leaves.
	ErrTreeFull = errors.New("merkle: tree full")
	// ErrIndexRange indicates the index does not reference an inserted leaf.
	ErrIndexRange = errors.New("merkle: index beyond last inserted leaf")
	// ErrCapacityExceeded indicates a static build received more leaves than fit.
	ErrCapacityExceeded = errors.New("merkle: leaf count exceeds capacity")
)

// Hash is a keccak256 digest node.
type Hash [32]byte

// ZeroLeaf is the canonical value of an unset leaf.
var ZeroLeaf = Hash{}

func hashPair(left, right Hash) Hash {
	var out Hash
	copy(out[:], ethcrypto.Keccak256(left[:], right[:]))
	return out
}

// zeroHashes returns the empty-subtree digest for every level up to and
// including depth. zeroHashes[l] is the root of a subtree of height l whose
// leaves are all ZeroLeaf.
func zeroHashes(depth int) []Hash {
	zeroes := make([]Hash, depth+1)
	zeroes[0] = ZeroLeaf
	for level := 1; level <= depth; level++ {
		zeroes[level] = hashPair(zeroes[level-1], zeroes[level-1])
	}
	return zeroes
}

// Tree is an append-only binary merkle accumulator of fixed depth. Leaves are
// assigned sequential indices starting at zero. Every insert updates only the
// path from the new leaf to the root, so cumulative cost for a full batch is
// O(n·depth) rather than the O(n²) of naive rebuilds. Nodes on the right of
// the populated region take the precomputed empty-subtree value for their
// level, so a partially filled tree always has a well defined root.
//
// Tree is not safe for concurrent use; the ledger serialises all mutations.
type Tree struct {
	depth    int
	capacity uint64
	next     uint64
	zeroes   []Hash
	// nodes[level] holds the determined node hashes for that level, densely
	// packed from the left. Level 0 is the leaves, level depth the root.
	nodes [][]Hash
	root  Hash
}

// NewTree constructs an empty accumulator with capacity 2^depth.
func NewTree(depth int) (*Tree, error) {
	if depth < 0 || depth > MaxDepth {
		return nil, ErrDepthRange
	}
	t := &Tree{
		depth:    depth,
		capacity: uint64(1) << uint(depth),
		zeroes:   zeroHashes(depth),
		nodes:    make([][]Hash, depth+1),
	}
	t.root = t.zeroes[depth]
	return t, nil
}

// Depth returns the fixed height of the tree.
func (t *Tree) Depth() int { return t.depth }

// Capacity returns the maximum number of leaves the tree can hold.
func (t *Tree) Capacity() uint64 { return t.capacity }

// Len returns the number of leaves inserted so far.
func (t *Tree) Len() uint64 { return t.next }

// Root returns the cached root over leaves [0, Len()).
func (t *Tree) Root() Hash { return t.root }

// node reads the hash at (level, index), substituting the empty-subtree
// constant when the node is not yet determined.
func (t *Tree) node(level int, index uint64) Hash {
	row := t.nodes[level]
	if index < uint64(len(row)) {
		return row[index]
	}
	return t.zeroes[level]
}

func (t *Tree) setNode(level int, index uint64, value Hash) {
	row := t.nodes[level]
	for uint64(len(row)) <= index {
		row = append(row, t.zeroes[level])
	}
	row[index] = value
	t.nodes[level] = row
}

// Insert appends a leaf and recomputes the root path, returning the assigned
// zero-based index. Fails with ErrTreeFull once 2^depth leaves are present.
func (t *Tree) Insert(leaf Hash) (uint64, error) {
	if t.next == t.capacity {
		return 0, ErrTreeFull
	}
	index := t.next
	t.setNode(0, index, leaf)
	pos := index
	for level := 0; level < t.depth; level++ {
		left := t.node(level, pos&^1)
		right := t.node(level, pos|1)
		pos /= 2
		t.setNode(level+1, pos, hashPair(left, right))
	}
	t.root = t.node(t.depth, 0)
	t.next = index + 1
	return index, nil
}

// Proof returns the sibling hash at each level along the path from leaf
// `index` to the root, ordered leaf-to-root. Only inserted leaves can be
// proven. The proof is valid against the current root; inserting further
// leaves may invalidate it if an ancestor changes, so callers should only
// issue proofs once a batch tree is fully built.
func (t *Tree) Proof(index uint64) ([]Hash, error) {
	if index >= t.next {
		return nil, ErrIndexRange
	}
	proof := make([]Hash, t.depth)
	pos := index
	for level := 0; level < t.depth; level++ {
		proof[level] = t.node(level, pos^1)
		pos /= 2
	}
	return proof, nil
}

// VerifyProof recomputes the candidate root from leaf, index and the sibling
// path, using the binary expansion of index to pick the concatenation order
// at each level, and reports whether it matches root. A proof shorter than
// the path implied by index can never verify.
func VerifyProof(root, leaf Hash, index uint64, proof []Hash) bool {
	current := leaf
	pos := index
	for _, sibling := range proof {
		if pos%2 == 0 {
			current = hashPair(current, sibling)
		} else {
			current = hashPair(sibling, current)
		}
		pos /= 2
	}
	return pos == 0 && current == root
}

// StaticRoot rebuilds the root of a depth-high tree over the ordered leaves
// with bottom-up pairwise hashing, padding the right edge with empty-subtree
// constants. It is the reference against which the incremental path is
// checked and the basis for independent root re-derivation.
func StaticRoot(leaves []Hash, depth int) (Hash, error) {
	if depth < 0 || depth > MaxDepth {
		return Hash{}, ErrDepthRange
	}
	if uint64(len(leaves)) > uint64(1)<<uint(depth) {
		return Hash{}, ErrCapacityExceeded
	}
	zeroes := zeroHashes(depth)
	level := make([]Hash, len(leaves))
	copy(level, leaves)
	for h := 0; h < depth; h++ {
		parents := make([]Hash, (len(level)+1)/2)
		for i := range parents {
			left := zeroes[h]
			right := zeroes[h]
			if 2*i < len(level) {
				left = level[2*i]
			}
			if 2*i+1 < len(level) {
				right = level[2*i+1]
			}
			parents[i] = hashPair(left, right)
		}
		level = parents
	}
	if len(level) == 0 {
		return zeroes[depth], nil
	}
	return level[0], nil
}
