package vocab

import (
	"bytes"
	"encoding/binary"
	"math"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/gemmars/model-compiler/internal/testutil"
	"github.com/gemmars/model-compiler/pkg/sentencepiece"
)

// fakeSource is a three-token tokenizer without a padding token.
type fakeSource struct{}

func (fakeSource) VocabSize() int          { return 3 }
func (fakeSource) IDToPiece(id int) string { return []string{"<unk>", "<s>", "▁hi"}[id] }
func (fakeSource) Score(id int) float32    { return []float32{0, 0, -1.5}[id] }
func (fakeSource) BosID() int              { return 1 }
func (fakeSource) EosID() int              { return 2 }
func (fakeSource) PadID() int              { return -1 }

func TestExtract(t *testing.T) {
	v := Extract(fakeSource{})
	require.Equal(t, 3, v.Size())
	require.Equal(t, SpecialTokens{Bos: 1, Eos: 2, Pad: -1}, v.Special)
	require.Equal(t, Entry{ID: 2, Piece: []byte("▁hi"), Score: -1.5}, v.Entries[2])
}

func TestWrite_V2Layout(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, Write(&buf, Extract(fakeSource{}), FormatV2))

	var want bytes.Buffer
	want.WriteString("GRTK")
	for _, v := range []uint32{3, 1, 2, 0xFFFFFFFF} {
		require.NoError(t, binary.Write(&want, binary.LittleEndian, v))
	}
	for _, e := range []struct {
		piece string
		score float32
	}{{"<unk>", 0}, {"<s>", 0}, {"▁hi", -1.5}} {
		require.NoError(t, binary.Write(&want, binary.LittleEndian, uint32(len(e.piece))))
		want.WriteString(e.piece)
		require.NoError(t, binary.Write(&want, binary.LittleEndian, math.Float32bits(e.score)))
	}

	require.Equal(t, want.Bytes(), buf.Bytes())
}

func TestWrite_V1OmitsSpecialTokens(t *testing.T) {
	v := Extract(fakeSource{})

	var v1, v2 bytes.Buffer
	require.NoError(t, Write(&v1, v, FormatV1))
	require.NoError(t, Write(&v2, v, FormatV2))

	require.Equal(t, v2.Len()-12, v1.Len())
	require.Equal(t, v2.Bytes()[:8], v1.Bytes()[:8])
	require.Equal(t, v2.Bytes()[20:], v1.Bytes()[8:])
}

func TestReadWrite(t *testing.T) {
	for _, format := range []Format{FormatV1, FormatV2} {
		t.Run(format.String(), func(t *testing.T) {
			v := Extract(fakeSource{})

			var buf bytes.Buffer
			require.NoError(t, Write(&buf, v, format))

			got, err := Read(&buf, format)
			require.NoError(t, err)
			require.Equal(t, v.Entries, got.Entries)
			if format == FormatV2 {
				require.Equal(t, v.Special, got.Special)
			} else {
				require.Equal(t, SpecialTokens{Bos: -1, Eos: -1, Pad: -1}, got.Special)
			}
		})
	}
}

func TestExtract_SentencePiece(t *testing.T) {
	path := testutil.WriteSentencePiece(t, t.TempDir(), "tokenizer.model", testutil.HelloWorld())
	model, err := sentencepiece.Load(path)
	require.NoError(t, err)

	v := Extract(model)
	var buf bytes.Buffer
	require.NoError(t, Write(&buf, v, FormatV2))

	got, err := Read(bytes.NewReader(buf.Bytes()), FormatV2)
	require.NoError(t, err)
	require.Equal(t, model.VocabSize(), got.Size())
	require.Equal(t, uint32(model.VocabSize()), binary.LittleEndian.Uint32(buf.Bytes()[4:]))
	require.Equal(t, SpecialTokens{Bos: 2, Eos: 1, Pad: 0}, got.Special)
	for id, e := range got.Entries {
		require.Equal(t, id, e.ID)
		require.Equal(t, model.IDToPiece(id), string(e.Piece))
		require.Equal(t, model.Score(id), e.Score)
	}
}

func TestRead_Errors(t *testing.T) {
	_, err := Read(bytes.NewReader([]byte("GRMD\x00\x00\x00\x00")), FormatV2)
	require.ErrorIs(t, err, ErrInvalidMagic)

	// Header claims two entries, body holds one.
	var buf bytes.Buffer
	require.NoError(t, Write(&buf, &Vocabulary{Entries: []Entry{{ID: 0, Piece: []byte("a")}}}, FormatV1))
	data := buf.Bytes()
	binary.LittleEndian.PutUint32(data[4:], 2)
	_, err = Read(bytes.NewReader(data), FormatV1)
	require.Error(t, err)

	_, err = Read(bytes.NewReader(data), Format(3))
	require.Error(t, err)
}

func TestWrite_RejectsOutOfOrderEntries(t *testing.T) {
	v := &Vocabulary{Entries: []Entry{{ID: 1}, {ID: 0}}}
	require.ErrorIs(t, Write(&bytes.Buffer{}, v, FormatV2), ErrInvalidEntry)
}

func TestParseFormat(t *testing.T) {
	for in, want := range map[string]Format{"": FormatV2, "v1": FormatV1, "V2": FormatV2, "1": FormatV1} {
		got, err := ParseFormat(in)
		require.NoError(t, err)
		require.Equal(t, want, got)
	}
	_, err := ParseFormat("v3")
	require.Error(t, err)
}
