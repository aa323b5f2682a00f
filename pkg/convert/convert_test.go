package convert

import (
	"bytes"
	"encoding/binary"
	"math"
	"math/rand"
	"os"
	"path/filepath"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"

	"github.com/gemmars/model-compiler/pkg/artifact"
	"github.com/gemmars/model-compiler/pkg/collector"
	"github.com/gemmars/model-compiler/pkg/config"
	"github.com/gemmars/model-compiler/internal/testutil"
	"github.com/gemmars/model-compiler/pkg/layout"
	"github.com/gemmars/model-compiler/pkg/memory"
	"github.com/gemmars/model-compiler/pkg/vocab"
	"github.com/gemmars/model-compiler/pkg/weights"
)

func testOptions() (Options, *bytes.Buffer) {
	var buf bytes.Buffer
	log := logrus.New()
	log.SetOutput(&buf)
	log.SetLevel(logrus.DebugLevel)
	return Options{Log: log, Memory: memory.NewStaticMemoryInfo(log, 0)}, &buf
}

// writeCheckpoint writes a two-layer checkpoint whose tensors are spread over
// three shards in scrambled order. Tensor i of the canonical layout holds
// 3 values starting at 10*i, so the expected payload is easy to rebuild.
func writeCheckpoint(t *testing.T, dir string) (names []string) {
	t.Helper()
	names = append(names, "model.embed_tokens.weight")
	names = append(names, testutil.LayerNames(0)...)
	names = append(names, testutil.LayerNames(1)...)
	names = append(names, "model.norm.weight")

	tensors := make([]testutil.Tensor, len(names))
	for i, name := range names {
		switch i % 3 {
		case 0:
			tensors[i] = testutil.F32(name, []int64{3}, float32(10*i), float32(10*i+1), float32(10*i+2))
		case 1:
			tensors[i] = testutil.F16(name, []int64{3}, float32(10*i), float32(10*i+1), float32(10*i+2))
		default:
			tensors[i] = testutil.BF16(name, []int64{1, 3}, float32(10*i), float32(10*i+1), float32(10*i+2))
		}
	}

	rng := rand.New(rand.NewSource(7))
	rng.Shuffle(len(tensors), func(i, j int) { tensors[i], tensors[j] = tensors[j], tensors[i] })
	testutil.WriteSafetensors(t, dir, "model-00001-of-00003.safetensors", tensors[:8]...)
	testutil.WriteSafetensors(t, dir, "model-00002-of-00003.safetensors", tensors[8:16]...)
	testutil.WriteSafetensors(t, dir, "model-00003-of-00003.safetensors", tensors[16:]...)
	return names
}

func testConfig(t *testing.T) config.Config {
	t.Helper()
	dir := t.TempDir()
	cfg := config.Default()
	cfg.ModelDir = dir
	cfg.WeightsOutput = filepath.Join(dir, "model.bin")
	cfg.Tokenizer = filepath.Join(dir, "tokenizer.model")
	cfg.VocabOutput = filepath.Join(dir, "tokenizer.bin")
	return cfg
}

func TestConvertModel(t *testing.T) {
	cfg := testConfig(t)
	names := writeCheckpoint(t, cfg.ModelDir)
	opts, _ := testOptions()

	result, err := ConvertModel(cfg, opts)
	require.NoError(t, err)
	require.Equal(t, len(names), result.Tensors)
	require.Equal(t, int64(3*len(names)), result.Parameters)
	require.Len(t, result.Shards, 3)
	require.Empty(t, result.Collisions)

	var want bytes.Buffer
	want.WriteString("GRMD")
	require.NoError(t, binary.Write(&want, binary.LittleEndian, uint32(len(cfg.ModelID))))
	want.WriteString(cfg.ModelID)
	for i := range names {
		for j := 0; j < 3; j++ {
			require.NoError(t, binary.Write(&want, binary.LittleEndian, math.Float32bits(float32(10*i+j))))
		}
	}

	got, err := os.ReadFile(cfg.WeightsOutput)
	require.NoError(t, err)
	require.Equal(t, want.Bytes(), got)
	require.Equal(t, int64(len(got)), result.BytesWritten)
	require.NoError(t, weights.Verify(cfg.WeightsOutput, cfg.ModelID, int64(3*len(names))))
}

func TestConvertModel_Deterministic(t *testing.T) {
	cfg := testConfig(t)
	writeCheckpoint(t, cfg.ModelDir)
	opts, _ := testOptions()

	_, err := ConvertModel(cfg, opts)
	require.NoError(t, err)
	first, err := os.ReadFile(cfg.WeightsOutput)
	require.NoError(t, err)

	cfg.ChunkSize = 2
	_, err = ConvertModel(cfg, opts)
	require.NoError(t, err)
	second, err := os.ReadFile(cfg.WeightsOutput)
	require.NoError(t, err)

	require.Equal(t, first, second)
}

func TestConvertModel_UnrecognizedNameWritesNothing(t *testing.T) {
	cfg := testConfig(t)
	writeCheckpoint(t, cfg.ModelDir)
	testutil.WriteSafetensors(t, cfg.ModelDir, "model-extra.safetensors", testutil.Ramp("foo.bar.weight", 2, 0))
	opts, _ := testOptions()

	_, err := ConvertModel(cfg, opts)
	require.ErrorIs(t, err, layout.ErrUnrecognizedName)

	_, err = os.Stat(cfg.WeightsOutput)
	require.True(t, os.IsNotExist(err), "weight artifact must not be created")
}

func TestConvertModel_UnrecognizedNameKeepsExistingArtifact(t *testing.T) {
	cfg := testConfig(t)
	testutil.WriteSafetensors(t, cfg.ModelDir, "model.safetensors", testutil.Ramp("lm_head.weight", 2, 0))
	require.NoError(t, os.WriteFile(cfg.WeightsOutput, []byte("previous"), 0o644))
	opts, _ := testOptions()

	_, err := ConvertModel(cfg, opts)
	require.ErrorIs(t, err, layout.ErrUnrecognizedName)

	data, err := os.ReadFile(cfg.WeightsOutput)
	require.NoError(t, err)
	require.Equal(t, "previous", string(data))
}

func TestConvertModel_ExistingArtifact(t *testing.T) {
	cfg := testConfig(t)
	writeCheckpoint(t, cfg.ModelDir)
	require.NoError(t, os.WriteFile(cfg.WeightsOutput, []byte("previous"), 0o644))

	opts, logs := testOptions()
	cfg.Force = false
	_, err := ConvertModel(cfg, opts)
	require.ErrorIs(t, err, artifact.ErrArtifactExists)

	cfg.Force = true
	_, err = ConvertModel(cfg, opts)
	require.NoError(t, err)
	require.Contains(t, logs.String(), "will be overwritten")

	data, err := os.ReadFile(cfg.WeightsOutput)
	require.NoError(t, err)
	require.Equal(t, []byte("GRMD"), data[:4])
}

func TestConvertModel_Errors(t *testing.T) {
	opts, _ := testOptions()

	cfg := testConfig(t)
	cfg.ModelDir = filepath.Join(cfg.ModelDir, "missing")
	_, err := ConvertModel(cfg, opts)
	require.ErrorIs(t, err, collector.ErrShardDirectory)

	cfg = testConfig(t)
	_, err = ConvertModel(cfg, opts)
	require.ErrorIs(t, err, collector.ErrNoShards)

	cfg = testConfig(t)
	cfg.MergePolicy = collector.Reject
	testutil.WriteSafetensors(t, cfg.ModelDir, "model-a.safetensors", testutil.Ramp("model.norm.weight", 2, 0))
	testutil.WriteSafetensors(t, cfg.ModelDir, "model-b.safetensors", testutil.Ramp("model.norm.weight", 2, 0))
	_, err = ConvertModel(cfg, opts)
	require.ErrorIs(t, err, collector.ErrDuplicateTensor)

	cfg = testConfig(t)
	opts.Memory = memory.NewStaticMemoryInfo(opts.Log, 1024)
	testutil.WriteSafetensors(t, cfg.ModelDir, "model.safetensors", testutil.Ramp("model.norm.weight", 2, 0))
	_, err = ConvertModel(cfg, opts)
	require.ErrorIs(t, err, memory.ErrInsufficientMemory)
}

func TestConvertModel_Progress(t *testing.T) {
	cfg := testConfig(t)
	names := writeCheckpoint(t, cfg.ModelDir)
	opts, _ := testOptions()
	var progressOut bytes.Buffer
	opts.Progress = &progressOut

	_, err := ConvertModel(cfg, opts)
	require.NoError(t, err)

	lines := bytes.Split(bytes.TrimSpace(progressOut.Bytes()), []byte("\n"))
	// Every tensor is completed in one chunk, so each gets one line.
	require.Len(t, lines, len(names)+1)
	require.Contains(t, string(lines[len(lines)-1]), `"type":"success"`)
}

func TestPlanModel(t *testing.T) {
	cfg := testConfig(t)
	names := writeCheckpoint(t, cfg.ModelDir)
	opts, _ := testOptions()

	plan, err := PlanModel(cfg, opts)
	require.NoError(t, err)
	require.Len(t, plan.Entries, len(names))

	for i, e := range plan.Entries {
		require.Equal(t, i, e.Index)
		require.Equal(t, names[i], e.Name)
		require.Equal(t, weights.HeaderSize(cfg.ModelID)+int64(12*i), e.Offset)
	}
	require.Equal(t, layout.Embedding, plan.Entries[0].Role.Component)
	require.Equal(t, layout.FinalNorm, plan.Entries[len(names)-1].Role.Component)
	require.Equal(t, weights.HeaderSize(cfg.ModelID)+int64(12*len(names)), plan.Size())

	_, err = os.Stat(cfg.WeightsOutput)
	require.True(t, os.IsNotExist(err), "plan must not write")
}

func TestConvertTokenizer(t *testing.T) {
	for _, format := range []vocab.Format{vocab.FormatV1, vocab.FormatV2} {
		t.Run(format.String(), func(t *testing.T) {
			cfg := testConfig(t)
			cfg.VocabFormat = format
			sp := testutil.HelloWorld()
			testutil.WriteSentencePiece(t, cfg.ModelDir, "tokenizer.model", sp)
			opts, logs := testOptions()

			result, err := ConvertTokenizer(cfg, opts)
			require.NoError(t, err)
			require.Equal(t, len(sp.Pieces), result.VocabSize)
			require.Equal(t, vocab.SpecialTokens{Bos: 2, Eos: 1, Pad: 0}, result.Special)
			require.Contains(t, logs.String(), "bos=\"<bos>\"")

			data, err := os.ReadFile(cfg.VocabOutput)
			require.NoError(t, err)
			require.Equal(t, []byte("GRTK"), data[:4])
			require.Equal(t, uint32(len(sp.Pieces)), binary.LittleEndian.Uint32(data[4:]))

			v, err := vocab.Read(bytes.NewReader(data), format)
			require.NoError(t, err)
			require.Len(t, v.Entries, len(sp.Pieces))
			for id, e := range v.Entries {
				require.Equal(t, id, e.ID)
				require.Equal(t, sp.Pieces[id].Piece, string(e.Piece))
				require.Equal(t, sp.Pieces[id].Score, e.Score)
			}
		})
	}
}

func TestConvertTokenizer_LoadFailure(t *testing.T) {
	cfg := testConfig(t)
	require.NoError(t, os.WriteFile(cfg.Tokenizer, []byte{0x0a, 0xff}, 0o644))
	opts, _ := testOptions()

	_, err := ConvertTokenizer(cfg, opts)
	require.Error(t, err)

	_, err = os.Stat(cfg.VocabOutput)
	require.True(t, os.IsNotExist(err))
}

func TestRoundTrip(t *testing.T) {
	path := testutil.WriteSentencePiece(t, t.TempDir(), "tokenizer.model", testutil.HelloWorld())

	ids, text, err := RoundTrip(path, "hello world!")
	require.NoError(t, err)
	require.Len(t, ids, 3)
	require.Equal(t, "hello world!", text)
}
