package ledger

import "github.com/eliasalvarado/uvg-cifrados-proyecto2-sub000/internal/model"

// Validation is the outcome of a full chain scan.
type Validation struct {
	OK                 bool   `json:"ok"`
	FirstTamperedIndex *int64 `json:"firstTamperedIndex"`
}

func tampered(index int64) Validation {
	return Validation{OK: false, FirstTamperedIndex: &index}
}

// ValidateBlocks re-derives every hash in order and stops at the first block
// that is out of sequence, links to the wrong predecessor, or whose stored
// hash does not match its contents. blocks must be sorted by index.
func ValidateBlocks(blocks []model.Block) Validation {
	prev := GenesisHash
	for i, b := range blocks {
		if b.Index != int64(i) || b.PrevHash != prev {
			return tampered(b.Index)
		}
		if ComputeHash(prev, b.Timestamp, b.Data) != b.Hash {
			return tampered(b.Index)
		}
		prev = b.Hash
	}
	return Validation{OK: true}
}
