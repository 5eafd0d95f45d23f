package batcherd

import (
	"bufio"
	"encoding/json"
	"fmt"
	"math/big"
	"os"
	"path/filepath"

	"github.com/ethereum/go-ethereum/common"

	"merkledrop/native/distribution"
)

// ScoreSource supplies validated (user, points, reward) triples for a slot.
// The interaction scorer producing them is an external collaborator; this
// daemon only checks their aggregate against caps.
type ScoreSource interface {
	Entries(day uint64, category distribution.Category) ([]distribution.Entry, error)
}

// FileSource reads score exports from JSONL files laid out as
// <dir>/<day>/<category>.jsonl, one entry per line.
type FileSource struct {
	dir string
}

// NewFileSource constructs a source rooted at dir.
func NewFileSource(dir string) *FileSource {
	return &FileSource{dir: dir}
}

type scoreLine struct {
	User   string `json:"user"`
	Points uint64 `json:"points"`
	Amount string `json:"amount"`
}

// Entries implements ScoreSource. A missing file means no scores for the slot.
func (s *FileSource) Entries(day uint64, category distribution.Category) ([]distribution.Entry, error) {
	path := filepath.Join(s.dir, fmt.Sprintf("%d", day), category.String()+".jsonl")
	file, err := os.Open(path)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("batcherd: open scores %s: %w", path, err)
	}
	defer file.Close()

	var entries []distribution.Entry
	scanner := bufio.NewScanner(file)
	for line := 1; scanner.Scan(); line++ {
		raw := scanner.Bytes()
		if len(raw) == 0 {
			continue
		}
		var parsed scoreLine
		if err := json.Unmarshal(raw, &parsed); err != nil {
			return nil, fmt.Errorf("batcherd: %s line %d: %w", path, line, err)
		}
		if !common.IsHexAddress(parsed.User) {
			return nil, fmt.Errorf("batcherd: %s line %d: invalid address %q", path, line, parsed.User)
		}
		amount, ok := new(big.Int).SetString(parsed.Amount, 10)
		if !ok || amount.Sign() < 0 {
			return nil, fmt.Errorf("batcherd: %s line %d: invalid amount %q", path, line, parsed.Amount)
		}
		entries = append(entries, distribution.Entry{
			User:   common.HexToAddress(parsed.User),
			Points: parsed.Points,
			Amount: amount,
		})
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("batcherd: read scores %s: %w", path, err)
	}
	return entries, nil
}
