package testutil

import (
	"math"
	"os"
	"path/filepath"
	"testing"

	"google.golang.org/protobuf/encoding/protowire"
)

// SentencePiece piece types.
const (
	PieceNormal      = 1
	PieceUnknown     = 2
	PieceControl     = 3
	PieceUserDefined = 4
	PieceByte        = 6
)

// Piece is one vocabulary entry of a SentencePiece fixture.
type Piece struct {
	Piece string
	Score float32
	Type  int
}

// SentencePiece describes a SentencePiece model fixture. Nil id pointers keep
// the protobuf defaults.
type SentencePiece struct {
	Pieces       []Piece
	ModelType    int
	ByteFallback bool
	UnkID        *int32
	BosID        *int32
	EosID        *int32
	PadID        *int32
}

// ID returns a pointer to id, for filling SentencePiece id fields.
func ID(id int32) *int32 { return &id }

// Marshal encodes the fixture as a SentencePiece ModelProto.
func (sp SentencePiece) Marshal() []byte {
	var b []byte
	for _, p := range sp.Pieces {
		var piece []byte
		piece = protowire.AppendTag(piece, 1, protowire.BytesType)
		piece = protowire.AppendString(piece, p.Piece)
		piece = protowire.AppendTag(piece, 2, protowire.Fixed32Type)
		piece = protowire.AppendFixed32(piece, math.Float32bits(p.Score))
		if p.Type != 0 {
			piece = protowire.AppendTag(piece, 3, protowire.VarintType)
			piece = protowire.AppendVarint(piece, uint64(p.Type))
		}
		b = protowire.AppendTag(b, 1, protowire.BytesType)
		b = protowire.AppendBytes(b, piece)
	}

	var trainer []byte
	if sp.ModelType != 0 {
		trainer = protowire.AppendTag(trainer, 3, protowire.VarintType)
		trainer = protowire.AppendVarint(trainer, uint64(sp.ModelType))
	}
	if sp.ByteFallback {
		trainer = protowire.AppendTag(trainer, 35, protowire.VarintType)
		trainer = protowire.AppendVarint(trainer, 1)
	}
	for _, id := range []struct {
		num protowire.Number
		v   *int32
	}{{40, sp.UnkID}, {41, sp.BosID}, {42, sp.EosID}, {43, sp.PadID}} {
		if id.v == nil {
			continue
		}
		trainer = protowire.AppendTag(trainer, id.num, protowire.VarintType)
		trainer = protowire.AppendVarint(trainer, uint64(int64(*id.v)))
	}
	b = protowire.AppendTag(b, 2, protowire.BytesType)
	b = protowire.AppendBytes(b, trainer)

	var normalizer []byte
	normalizer = protowire.AppendTag(normalizer, 1, protowire.BytesType)
	normalizer = protowire.AppendString(normalizer, "identity")
	b = protowire.AppendTag(b, 3, protowire.BytesType)
	b = protowire.AppendBytes(b, normalizer)
	return b
}

// WriteSentencePiece writes the fixture into dir/name and returns its path.
func WriteSentencePiece(t testing.TB, dir, name string, sp SentencePiece) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, sp.Marshal(), 0o644); err != nil {
		t.Fatalf("failed to write tokenizer model: %v", err)
	}
	return path
}

// HelloWorld returns a small BPE model able to encode "hello world!" with
// <pad>, <eos>, <bos>, <unk> at ids 0..3, as Gemma lays them out.
func HelloWorld() SentencePiece {
	pieces := []Piece{
		{"<pad>", 0, PieceControl},
		{"<eos>", 0, PieceControl},
		{"<bos>", 0, PieceControl},
		{"<unk>", 0, PieceUnknown},
	}
	for _, p := range []string{"▁", "h", "e", "l", "o", "w", "r", "d", "!"} {
		pieces = append(pieces, Piece{p, -10, PieceNormal})
	}
	for i, p := range []string{"ll", "he", "hell", "hello", "▁hello", "or", "wor", "▁wor", "ld", "▁world"} {
		pieces = append(pieces, Piece{p, -float32(i), PieceNormal})
	}
	for i := 0; i < 256; i++ {
		pieces = append(pieces, Piece{byteName(byte(i)), 0, PieceByte})
	}
	return SentencePiece{
		Pieces:       pieces,
		ModelType:    2,
		ByteFallback: true,
		PadID:        ID(0),
		EosID:        ID(1),
		BosID:        ID(2),
		UnkID:        ID(3),
	}
}

func byteName(b byte) string {
	const hex = "0123456789ABCDEF"
	return "<0x" + string(hex[b>>4]) + string(hex[b&0xF]) + ">"
}
