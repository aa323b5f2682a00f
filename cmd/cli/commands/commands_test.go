package commands

import (
	"bytes"
	"encoding/json"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"

	"github.com/gemmars/model-compiler/internal/testutil"
	"github.com/gemmars/model-compiler/pkg/config"
	"github.com/gemmars/model-compiler/pkg/weights"
)

func testConfig(t *testing.T) config.Config {
	t.Helper()
	dir := t.TempDir()

	var tensors []testutil.Tensor
	tensors = append(tensors, testutil.Ramp("model.norm.weight", 4, 100))
	for i, name := range testutil.LayerNames(0) {
		tensors = append(tensors, testutil.Ramp(name, 4, float32(4*i)))
	}
	tensors = append(tensors, testutil.Ramp("model.embed_tokens.weight", 8, 0))
	testutil.WriteSafetensors(t, dir, "model-00001-of-00002.safetensors", tensors[:6]...)
	testutil.WriteSafetensors(t, dir, "model-00002-of-00002.safetensors", tensors[6:]...)

	cfg := config.Default()
	cfg.ModelDir = dir
	cfg.WeightsOutput = filepath.Join(dir, "model.bin")
	cfg.Tokenizer = testutil.WriteSentencePiece(t, dir, "tokenizer.model", testutil.HelloWorld())
	cfg.VocabOutput = filepath.Join(dir, "tokenizer.bin")
	return cfg
}

func execute(cfg config.Config, args ...string) (string, string, error) {
	log := logrus.New()
	log.SetOutput(io.Discard)

	var stdout, stderr bytes.Buffer
	cmd := NewRootCmd(log, cfg)
	cmd.SetOut(&stdout)
	cmd.SetErr(&stderr)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return stdout.String(), stderr.String(), err
}

func TestConvert(t *testing.T) {
	cfg := testConfig(t)

	out, _, err := execute(cfg, "convert")
	require.NoError(t, err)
	require.Contains(t, out, "Wrote 13 tensors")
	require.Contains(t, out, "Wrote 279 pieces (v2)")

	require.NoError(t, weights.Verify(cfg.WeightsOutput, cfg.ModelID, 8+11*4+4))
	data, err := os.ReadFile(cfg.VocabOutput)
	require.NoError(t, err)
	require.Equal(t, "GRTK", string(data[:4]))
}

func TestConvert_Flags(t *testing.T) {
	cfg := testConfig(t)
	output := filepath.Join(t.TempDir(), "gemma.bin")

	out, stderr, err := execute(cfg, "convert-model",
		"--weights-output", output,
		"--model-id", "test/model",
		"--chunk-size", "3",
		"--progress")
	require.NoError(t, err)
	require.Contains(t, out, output)
	require.NoError(t, weights.Verify(output, "test/model", 8+11*4+4))

	lines := strings.Split(strings.TrimSpace(stderr), "\n")
	require.NotEmpty(t, lines)
	var last map[string]interface{}
	require.NoError(t, json.Unmarshal([]byte(lines[len(lines)-1]), &last))
	require.Equal(t, "success", last["type"])

	_, err = os.Stat(cfg.WeightsOutput)
	require.True(t, os.IsNotExist(err))
}

func TestConvert_NoForce(t *testing.T) {
	cfg := testConfig(t)
	require.NoError(t, os.WriteFile(cfg.VocabOutput, []byte("previous"), 0o644))

	_, _, err := execute(cfg, "convert-tokenizer", "--force=false")
	require.Error(t, err)
	require.Contains(t, err.Error(), "Failed to convert tokenizer")

	data, err := os.ReadFile(cfg.VocabOutput)
	require.NoError(t, err)
	require.Equal(t, "previous", string(data))
}

func TestConvert_UnrecognizedTensor(t *testing.T) {
	cfg := testConfig(t)
	testutil.WriteSafetensors(t, cfg.ModelDir, "model-extra.safetensors", testutil.Ramp("lm_head.weight", 2, 0))

	_, stderr, err := execute(cfg, "convert", "--progress")
	require.Error(t, err)
	require.Contains(t, err.Error(), "lm_head.weight")
	require.Contains(t, stderr, `"type":"error"`)

	_, err = os.Stat(cfg.WeightsOutput)
	require.True(t, os.IsNotExist(err))
	_, err = os.Stat(cfg.VocabOutput)
	require.True(t, os.IsNotExist(err), "tokenizer must not be converted after a failed model conversion")
}

func TestConvert_SanitizesTensorNames(t *testing.T) {
	cfg := testConfig(t)
	name := "model.layers.0.input_layernorm.weight\n\x1b[2J"
	testutil.WriteSafetensors(t, cfg.ModelDir, "model-x1.safetensors", testutil.Ramp(name, 2, 0))
	testutil.WriteSafetensors(t, cfg.ModelDir, "model-x2.safetensors", testutil.Ramp(name, 2, 5))

	out, _, err := execute(cfg, "plan")
	require.NoError(t, err)
	require.NotContains(t, out, "\x1b")
	require.Contains(t, out, `input_layernorm.weight\n?[2J`)

	out, _, err = execute(cfg, "convert-model")
	require.NoError(t, err)
	require.NotContains(t, out, "\x1b")
	require.Contains(t, out, `Tensor model.layers.0.input_layernorm.weight\n?[2J is defined in model-x1.safetensors and model-x2.safetensors`)
}

func TestInvalidFlags(t *testing.T) {
	cfg := testConfig(t)

	for _, args := range [][]string{
		{"plan", "--chunk-size", "0"},
		{"plan", "--vocab-format", "v3"},
		{"plan", "--merge-policy", "first-wins"},
		{"plan", "--model-dir", ""},
	} {
		_, _, err := execute(cfg, args...)
		require.Error(t, err, args)
	}
}

func TestPlan(t *testing.T) {
	cfg := testConfig(t)

	out, _, err := execute(cfg, "plan")
	require.NoError(t, err)
	require.Contains(t, out, "Shards:   2")

	lines := strings.Split(strings.TrimSpace(out), "\n")
	// Three summary lines, a blank line, the header and 13 tensors.
	require.Len(t, lines, 18)
	require.Contains(t, lines[5], "model.embed_tokens.weight")
	require.Contains(t, lines[5], "-1")
	require.Contains(t, lines[6], "model.layers.0.input_layernorm.weight")
	require.Contains(t, lines[6], "0.00")
	require.Contains(t, lines[17], "model.norm.weight")
	require.Contains(t, lines[17], "+Inf")

	_, err = os.Stat(cfg.WeightsOutput)
	require.True(t, os.IsNotExist(err))
}

func TestPlan_JSON(t *testing.T) {
	cfg := testConfig(t)

	out, _, err := execute(cfg, "plan", "--json")
	require.NoError(t, err)

	var plan planOutput
	require.NoError(t, json.Unmarshal([]byte(out), &plan))
	require.Equal(t, cfg.ModelID, plan.ModelID)
	require.Equal(t, []string{"model-00001-of-00002.safetensors", "model-00002-of-00002.safetensors"}, plan.Shards)
	require.Len(t, plan.Tensors, 13)
	require.Equal(t, "embedding", plan.Tensors[0].Role)
	require.Equal(t, weights.HeaderSize(cfg.ModelID), plan.Tensors[0].Offset)
	require.Equal(t, weights.HeaderSize(cfg.ModelID)+32, plan.Tensors[1].Offset)
	require.Equal(t, "+Inf", plan.Tensors[12].Key)
	require.Equal(t, weights.HeaderSize(cfg.ModelID)+4*(8+11*4+4), plan.Size)
}

func TestInspect(t *testing.T) {
	cfg := testConfig(t)
	_, _, err := execute(cfg, "convert")
	require.NoError(t, err)

	out, _, err := execute(cfg, "inspect", cfg.WeightsOutput)
	require.NoError(t, err)
	require.Contains(t, out, "Model ID:   "+cfg.ModelID)
	require.Contains(t, out, "Payload:    224B")

	out, _, err = execute(cfg, "inspect", cfg.VocabOutput, "--limit", "2")
	require.NoError(t, err)
	require.Contains(t, out, "Vocab size: 279")
	require.Contains(t, out, "BOS:        2")
	require.Contains(t, out, "PAD:        0")
	require.Contains(t, out, `"<pad>"`)
	require.Contains(t, out, `"<eos>"`)
	require.NotContains(t, out, `"<bos>"`)
}

func TestInspect_Errors(t *testing.T) {
	cfg := testConfig(t)

	_, _, err := execute(cfg, "inspect")
	require.ErrorContains(t, err, "requires 1 argument")

	_, _, err = execute(cfg, "inspect", cfg.Tokenizer)
	require.ErrorContains(t, err, "neither a GRMD nor a GRTK artifact")

	truncated := filepath.Join(t.TempDir(), "model.bin")
	var buf bytes.Buffer
	w := weights.NewWriter(&buf)
	require.NoError(t, w.WriteHeader("m"))
	buf.Write([]byte{1, 2, 3, 4, 5})
	require.NoError(t, os.WriteFile(truncated, buf.Bytes(), 0o644))
	out, _, err := execute(cfg, "inspect", truncated)
	require.ErrorIs(t, err, weights.ErrTruncated)
	require.Contains(t, out, "Model ID:   m")
}

func TestTokenize(t *testing.T) {
	cfg := testConfig(t)

	out, _, err := execute(cfg, "tokenize", "hello world!")
	require.NoError(t, err)
	require.Contains(t, out, "IDs:     [17 22 12]")
	require.Contains(t, out, `Decoded: "hello world!"`)

	_, _, err = execute(cfg, "tokenize", "hello  world!")
	require.ErrorContains(t, err, "round trip mismatch")
}

func TestVersion(t *testing.T) {
	out, _, err := execute(config.Default(), "version")
	require.NoError(t, err)
	require.Equal(t, "grmd version dev\n", out)
}
