package vocab

import (
	"bufio"
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
	"math"
)

// maxPieceLen bounds a single piece accepted by Read.
const maxPieceLen = 1 << 16

// Write writes v to w in the given format.
func Write(w io.Writer, v *Vocabulary, format Format) error {
	if format != FormatV1 && format != FormatV2 {
		return fmt.Errorf("unknown vocabulary format %s", format)
	}
	if uint64(v.Size()) > math.MaxUint32 {
		return fmt.Errorf("vocabulary too large: %d entries", v.Size())
	}

	bw := bufio.NewWriter(w)
	if _, err := bw.WriteString(Magic); err != nil {
		return fmt.Errorf("write magic: %w", err)
	}
	if err := binary.Write(bw, binary.LittleEndian, uint32(v.Size())); err != nil {
		return fmt.Errorf("write vocab size: %w", err)
	}
	if format == FormatV2 {
		// A missing pad id of -1 is stored as its two's complement.
		special := [3]uint32{uint32(int32(v.Special.Bos)), uint32(int32(v.Special.Eos)), uint32(int32(v.Special.Pad))}
		if err := binary.Write(bw, binary.LittleEndian, special); err != nil {
			return fmt.Errorf("write special token ids: %w", err)
		}
	}

	for id, e := range v.Entries {
		if e.ID != id {
			return fmt.Errorf("%w: entry %d has id %d", ErrInvalidEntry, id, e.ID)
		}
		if err := binary.Write(bw, binary.LittleEndian, uint32(len(e.Piece))); err != nil {
			return fmt.Errorf("write entry %d: %w", id, err)
		}
		if _, err := bw.Write(e.Piece); err != nil {
			return fmt.Errorf("write entry %d: %w", id, err)
		}
		if err := binary.Write(bw, binary.LittleEndian, e.Score); err != nil {
			return fmt.Errorf("write entry %d: %w", id, err)
		}
	}
	return bw.Flush()
}

// Read decodes a vocabulary artifact written in the given format.
func Read(r io.Reader, format Format) (*Vocabulary, error) {
	if format != FormatV1 && format != FormatV2 {
		return nil, fmt.Errorf("unknown vocabulary format %s", format)
	}
	br := bufio.NewReader(r)

	magic := make([]byte, len(Magic))
	if _, err := io.ReadFull(br, magic); err != nil {
		return nil, fmt.Errorf("read magic: %w", err)
	}
	if !bytes.Equal(magic, []byte(Magic)) {
		return nil, fmt.Errorf("%w: magic %q", ErrInvalidMagic, magic)
	}

	var size uint32
	if err := binary.Read(br, binary.LittleEndian, &size); err != nil {
		return nil, fmt.Errorf("read vocab size: %w", err)
	}

	v := &Vocabulary{Special: SpecialTokens{Bos: -1, Eos: -1, Pad: -1}}
	if format == FormatV2 {
		var special [3]uint32
		if err := binary.Read(br, binary.LittleEndian, &special); err != nil {
			return nil, fmt.Errorf("read special token ids: %w", err)
		}
		v.Special = SpecialTokens{
			Bos: int(int32(special[0])),
			Eos: int(int32(special[1])),
			Pad: int(int32(special[2])),
		}
	}

	for id := 0; id < int(size); id++ {
		var n uint32
		if err := binary.Read(br, binary.LittleEndian, &n); err != nil {
			return nil, fmt.Errorf("read entry %d: %w", id, err)
		}
		if n > maxPieceLen {
			return nil, fmt.Errorf("%w: entry %d has length %d", ErrInvalidEntry, id, n)
		}
		piece := make([]byte, n)
		if _, err := io.ReadFull(br, piece); err != nil {
			return nil, fmt.Errorf("read entry %d: %w", id, err)
		}
		var score float32
		if err := binary.Read(br, binary.LittleEndian, &score); err != nil {
			return nil, fmt.Errorf("read entry %d: %w", id, err)
		}
		v.Entries = append(v.Entries, Entry{ID: id, Piece: piece, Score: score})
	}
	return v, nil
}
