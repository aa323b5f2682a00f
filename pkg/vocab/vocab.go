// Package vocab extracts a tokenizer vocabulary and reads and writes the GRTK
// vocabulary artifact.
//
// Artifact layout (little-endian):
//
//	[4 bytes]      magic "GRTK"
//	[u32]          vocab size V
//	[u32 u32 u32]  bos, eos, pad ids (FormatV2 only)
//	V times, ascending id:
//	  [u32] piece length M, [M bytes] piece, [f32] score
//
// The header does not say which format it is in; readers must be told.
package vocab

import (
	"errors"
	"fmt"
	"strings"
)

// Magic opens every vocabulary artifact.
const Magic = "GRTK"

var (
	ErrInvalidMagic = errors.New("not a GRTK vocabulary artifact")
	ErrInvalidEntry = errors.New("invalid vocabulary entry")
)

// Format selects the artifact layout.
type Format int

const (
	// FormatV1 has no special token block.
	FormatV1 Format = 1
	// FormatV2 stores bos, eos and pad ids after the vocab size.
	FormatV2 Format = 2
)

// DefaultFormat is what the runtime reads.
const DefaultFormat = FormatV2

func (f Format) String() string {
	return fmt.Sprintf("v%d", int(f))
}

// ParseFormat parses "v1" or "v2". The empty string selects DefaultFormat.
func ParseFormat(s string) (Format, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "":
		return DefaultFormat, nil
	case "v1", "1":
		return FormatV1, nil
	case "v2", "2":
		return FormatV2, nil
	default:
		return 0, fmt.Errorf("unknown vocabulary format %q (want v1 or v2)", s)
	}
}

// Entry is one token of the vocabulary.
type Entry struct {
	ID    int
	Piece []byte
	Score float32
}

// SpecialTokens are the ids with a fixed role. Pad is -1 when the tokenizer
// has no padding token.
type SpecialTokens struct {
	Bos int
	Eos int
	Pad int
}

// Vocabulary is every entry of a tokenizer in id order.
type Vocabulary struct {
	Entries []Entry
	Special SpecialTokens
}

// Size returns the number of entries.
func (v *Vocabulary) Size() int { return len(v.Entries) }

// Source is a tokenizer model the vocabulary can be read from.
type Source interface {
	VocabSize() int
	IDToPiece(id int) string
	Score(id int) float32
	BosID() int
	EosID() int
	PadID() int
}

// Extract reads every piece of src, in ascending id order, and its special
// token ids.
func Extract(src Source) *Vocabulary {
	n := src.VocabSize()
	v := &Vocabulary{
		Entries: make([]Entry, n),
		Special: SpecialTokens{Bos: src.BosID(), Eos: src.EosID(), Pad: src.PadID()},
	}
	for id := 0; id < n; id++ {
		v.Entries[id] = Entry{
			ID:    id,
			Piece: []byte(src.IDToPiece(id)),
			Score: src.Score(id),
		}
	}
	return v
}
