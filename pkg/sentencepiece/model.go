// Package sentencepiece loads SentencePiece tokenizer models and encodes and
// decodes text with them.
//
// Only the parts of the ModelProto needed for conversion and round-trip
// checks are decoded: the pieces, the trainer spec ids and the normalizer
// whitespace flags.
package sentencepiece

import (
	"errors"
	"fmt"
	"os"
	"strconv"

	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/types/dynamicpb"
)

var ErrInvalidModel = errors.New("invalid sentencepiece model")

// PieceType mirrors ModelProto.SentencePiece.Type.
type PieceType int32

const (
	Normal      PieceType = 1
	Unknown     PieceType = 2
	Control     PieceType = 3
	UserDefined PieceType = 4
	Unused      PieceType = 5
	Byte        PieceType = 6
)

func (t PieceType) String() string {
	switch t {
	case Normal:
		return "normal"
	case Unknown:
		return "unknown"
	case Control:
		return "control"
	case UserDefined:
		return "user_defined"
	case Unused:
		return "unused"
	case Byte:
		return "byte"
	default:
		return "PieceType(" + strconv.Itoa(int(t)) + ")"
	}
}

// ModelType mirrors TrainerSpec.ModelType.
type ModelType int32

const (
	Unigram ModelType = 1
	BPE     ModelType = 2
	Word    ModelType = 3
	Char    ModelType = 4
)

// Piece is one vocabulary entry.
type Piece struct {
	Piece string
	Score float32
	Type  PieceType
}

// Model is a loaded SentencePiece model.
type Model struct {
	pieces []Piece
	// index holds the pieces text can be segmented into.
	index map[string]int
	// reserved holds control, unused and byte pieces, which segmentation
	// never produces from text.
	reserved map[string]int
	byteIDs  map[byte]int
	maxLen  int

	modelType    ModelType
	byteFallback bool
	unkID        int
	bosID        int
	eosID        int
	padID        int

	addDummyPrefix         bool
	removeExtraWhitespaces bool
	escapeWhitespaces      bool
}

// Load reads and parses the model at path.
func Load(path string) (*Model, error) {
	//nolint:gosec // G304: tokenizer path comes from configuration
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading model file: %w", err)
	}
	m, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return m, nil
}

// Parse decodes a serialized ModelProto.
func Parse(data []byte) (*Model, error) {
	msg := dynamicpb.NewMessage(schema.model)
	if err := proto.Unmarshal(data, msg); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidModel, err)
	}

	trainer := msg.Get(schema.trainer).Message()
	normalizer := msg.Get(schema.normalizer).Message()
	m := &Model{
		modelType:              ModelType(trainer.Get(schema.modelType).Int()),
		byteFallback:           trainer.Get(schema.byteFallback).Bool(),
		unkID:                  int(trainer.Get(schema.unkID).Int()),
		bosID:                  int(trainer.Get(schema.bosID).Int()),
		eosID:                  int(trainer.Get(schema.eosID).Int()),
		padID:                  int(trainer.Get(schema.padID).Int()),
		addDummyPrefix:         normalizer.Get(schema.addDummyPrefix).Bool(),
		removeExtraWhitespaces: normalizer.Get(schema.removeExtraWhitespaces).Bool(),
		escapeWhitespaces:      normalizer.Get(schema.escapeWhitespaces).Bool(),
	}

	pieces := msg.Get(schema.pieces).List()
	m.pieces = make([]Piece, pieces.Len())
	for i := range m.pieces {
		p := pieces.Get(i).Message()
		m.pieces[i] = Piece{
			Piece: p.Get(schema.piece).String(),
			Score: float32(p.Get(schema.score).Float()),
			Type:  PieceType(p.Get(schema.pieceType).Int()),
		}
	}

	if len(m.pieces) == 0 {
		return nil, fmt.Errorf("%w: no pieces", ErrInvalidModel)
	}
	for name, id := range map[string]int{"unk": m.unkID, "bos": m.bosID, "eos": m.eosID, "pad": m.padID} {
		if id < -1 || id >= len(m.pieces) {
			return nil, fmt.Errorf("%w: %s id %d out of range [0, %d)", ErrInvalidModel, name, id, len(m.pieces))
		}
	}

	m.index = make(map[string]int, len(m.pieces))
	m.reserved = make(map[string]int)
	m.byteIDs = make(map[byte]int)
	for id, p := range m.pieces {
		switch p.Type {
		case Byte, Control, Unused:
			if _, ok := m.reserved[p.Piece]; !ok {
				m.reserved[p.Piece] = id
			}
			if b, ok := parseBytePiece(p.Piece); ok && p.Type == Byte {
				m.byteIDs[b] = id
			}
			continue
		}
		if _, ok := m.index[p.Piece]; !ok {
			m.index[p.Piece] = id
		}
		m.maxLen = max(m.maxLen, len(p.Piece))
	}
	return m, nil
}

// VocabSize returns the number of pieces.
func (m *Model) VocabSize() int { return len(m.pieces) }

// Piece returns the piece with the given id.
func (m *Model) Piece(id int) Piece { return m.pieces[id] }

// IDToPiece returns the surface form of id.
func (m *Model) IDToPiece(id int) string { return m.pieces[id].Piece }

// Score returns the score of id.
func (m *Model) Score(id int) float32 { return m.pieces[id].Score }

// PieceToID returns the id of piece, or the unknown id.
func (m *Model) PieceToID(piece string) int {
	if id, ok := m.index[piece]; ok {
		return id
	}
	if id, ok := m.reserved[piece]; ok {
		return id
	}
	return m.unkID
}

func (m *Model) ModelType() ModelType { return m.modelType }
func (m *Model) ByteFallback() bool   { return m.byteFallback }
func (m *Model) UnkID() int           { return m.unkID }
func (m *Model) BosID() int           { return m.bosID }
func (m *Model) EosID() int           { return m.eosID }
func (m *Model) PadID() int           { return m.padID }
