// Package testutil builds real input files for tests: safetensors shards and
// SentencePiece model protobufs.
package testutil

import (
	"encoding/binary"
	"encoding/json"
	"math"
	"os"
	"path/filepath"
	"strconv"
	"testing"

	"github.com/d4l3k/go-bfloat16"
	"github.com/x448/float16"
)

// Tensor describes one tensor to be written into a safetensors fixture.
type Tensor struct {
	Name  string
	DType string
	Shape []int64
	Data  []byte
}

// F32 returns an F32 tensor holding values.
func F32(name string, shape []int64, values ...float32) Tensor {
	data := make([]byte, 4*len(values))
	for i, v := range values {
		binary.LittleEndian.PutUint32(data[4*i:], math.Float32bits(v))
	}
	return Tensor{Name: name, DType: "F32", Shape: shape, Data: data}
}

// F16 returns an F16 tensor holding values rounded to half precision.
func F16(name string, shape []int64, values ...float32) Tensor {
	data := make([]byte, 2*len(values))
	for i, v := range values {
		binary.LittleEndian.PutUint16(data[2*i:], float16.Fromfloat32(v).Bits())
	}
	return Tensor{Name: name, DType: "F16", Shape: shape, Data: data}
}

// BF16 returns a BF16 tensor holding values truncated to bfloat16.
func BF16(name string, shape []int64, values ...float32) Tensor {
	return Tensor{Name: name, DType: "BF16", Shape: shape, Data: bfloat16.EncodeFloat32(values)}
}

// Ramp returns an F32 tensor of n elements whose values are start, start+1, ...
func Ramp(name string, n int, start float32) Tensor {
	values := make([]float32, n)
	for i := range values {
		values[i] = start + float32(i)
	}
	return F32(name, []int64{int64(n)}, values...)
}

// WriteSafetensors writes tensors into dir/name in safetensors layout and
// returns the file path.
func WriteSafetensors(t testing.TB, dir, name string, tensors ...Tensor) string {
	t.Helper()

	header := map[string]interface{}{
		"__metadata__": map[string]string{"format": "pt"},
	}
	var offset int64
	for _, tensor := range tensors {
		end := offset + int64(len(tensor.Data))
		header[tensor.Name] = map[string]interface{}{
			"dtype":        tensor.DType,
			"shape":        tensor.Shape,
			"data_offsets": []int64{offset, end},
		}
		offset = end
	}

	headerJSON, err := json.Marshal(header)
	if err != nil {
		t.Fatalf("failed to marshal header: %v", err)
	}

	path := filepath.Join(dir, name)
	file, err := os.Create(path)
	if err != nil {
		t.Fatalf("failed to create test file: %v", err)
	}
	defer file.Close()

	if err := binary.Write(file, binary.LittleEndian, uint64(len(headerJSON))); err != nil {
		t.Fatalf("failed to write header length: %v", err)
	}
	if _, err := file.Write(headerJSON); err != nil {
		t.Fatalf("failed to write header: %v", err)
	}
	for _, tensor := range tensors {
		if _, err := file.Write(tensor.Data); err != nil {
			t.Fatalf("failed to write tensor %s: %v", tensor.Name, err)
		}
	}
	return path
}

// LayerNames returns the tensor names of one decoder layer in the order the
// runtime expects them.
func LayerNames(layer int) []string {
	prefix := "model.layers." + strconv.Itoa(layer) + "."
	return []string{
		prefix + "input_layernorm.weight",
		prefix + "self_attn.q_proj.weight",
		prefix + "self_attn.k_proj.weight",
		prefix + "self_attn.v_proj.weight",
		prefix + "self_attn.o_proj.weight",
		prefix + "post_attention_layernorm.weight",
		prefix + "pre_feedforward_layernorm.weight",
		prefix + "mlp.down_proj.weight",
		prefix + "mlp.gate_proj.weight",
		prefix + "mlp.up_proj.weight",
		prefix + "post_feedforward_layernorm.weight",
	}
}

