package safetensors

import (
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"

	"github.com/docker/go-units"
)

// maxHeaderLen bounds the JSON header we are willing to read.
const maxHeaderLen = 100 * 1024 * 1024

var (
	ErrHeaderTooLarge = errors.New("safetensors header too large")
	ErrInvalidOffsets = errors.New("invalid tensor data offsets")
	ErrInvalidShape   = errors.New("invalid tensor shape")
)

// Header represents the JSON header in a safetensors file
type Header struct {
	Metadata map[string]interface{}
	Tensors  map[string]TensorInfo
}

// TensorInfo contains information about a tensor
type TensorInfo struct {
	Dtype       DType
	Shape       []int64
	DataOffsets [2]int64
}

// NumElements returns the product of the shape. A scalar has one element.
func (ti TensorInfo) NumElements() int64 {
	n := int64(1)
	for _, dim := range ti.Shape {
		n *= dim
	}
	return n
}

// checkShape reports whether every dimension is non-negative and the
// element count stays addressable in bytes for any supported dtype.
func checkShape(shape []int64) error {
	n := int64(1)
	for index, dim := range shape {
		if dim < 0 {
			return fmt.Errorf("%w: dimension %d is %d", ErrInvalidShape, index, dim)
		}
		if dim != 0 && n > math.MaxInt64/MaxElementSize/dim {
			return fmt.Errorf("%w: %v overflows the element count", ErrInvalidShape, shape)
		}
		n *= dim
	}
	return nil
}

// ByteSize returns the length of the tensor's data section.
func (ti TensorInfo) ByteSize() int64 {
	return ti.DataOffsets[1] - ti.DataOffsets[0]
}

// ReadHeader reads the header of a safetensors stream. It returns the header and
// the number of bytes consumed, which is where the tensor data section starts.
//
// Safetensors format:
//
//	[8 bytes: header length (uint64, little-endian)]
//	[N bytes: JSON header]
//	[remaining: tensor data]
func ReadHeader(r io.Reader) (*Header, int64, error) {
	var headerLen uint64
	if err := binary.Read(r, binary.LittleEndian, &headerLen); err != nil {
		return nil, 0, fmt.Errorf("read header length: %w", err)
	}

	if headerLen > maxHeaderLen {
		return nil, 0, fmt.Errorf("%w: %d bytes", ErrHeaderTooLarge, headerLen)
	}

	headerBytes := make([]byte, headerLen)
	if _, err := io.ReadFull(r, headerBytes); err != nil {
		return nil, 0, fmt.Errorf("read header: %w", err)
	}

	header, err := parseHeader(headerBytes)
	if err != nil {
		return nil, 0, err
	}
	return header, int64(8 + headerLen), nil
}

func parseHeader(headerBytes []byte) (*Header, error) {
	var rawHeader map[string]json.RawMessage
	if err := json.Unmarshal(headerBytes, &rawHeader); err != nil {
		return nil, fmt.Errorf("parse JSON header: %w", err)
	}

	// Metadata is stored under the "__metadata__" key.
	var metadata map[string]interface{}
	if raw, ok := rawHeader["__metadata__"]; ok {
		if err := json.Unmarshal(raw, &metadata); err != nil {
			return nil, fmt.Errorf("parse metadata: %w", err)
		}
		delete(rawHeader, "__metadata__")
	}

	tensors := make(map[string]TensorInfo, len(rawHeader))
	for name, raw := range rawHeader {
		var v struct {
			Dtype       string  `json:"dtype"`
			Shape       []int64 `json:"shape"`
			DataOffsets []int64 `json:"data_offsets"`
		}
		if err := json.Unmarshal(raw, &v); err != nil {
			return nil, fmt.Errorf("parse tensor %q: %w", name, err)
		}
		if len(v.DataOffsets) != 2 {
			return nil, fmt.Errorf("%w for tensor %q: expected 2 elements, got %d", ErrInvalidOffsets, name, len(v.DataOffsets))
		}
		if err := checkShape(v.Shape); err != nil {
			return nil, fmt.Errorf("tensor %q: %w", name, err)
		}
		tensors[name] = TensorInfo{
			Dtype:       DType(v.Dtype),
			Shape:       v.Shape,
			DataOffsets: [2]int64{v.DataOffsets[0], v.DataOffsets[1]},
		}
	}

	return &Header{
		Metadata: metadata,
		Tensors:  tensors,
	}, nil
}

// CalculateParameters sums up all tensor parameters
func (h *Header) CalculateParameters() int64 {
	var total int64
	for _, tensor := range h.Tensors {
		total += tensor.NumElements()
	}
	return total
}

// FormatParameters converts parameter count to human-readable format matching GGUF style
// Returns format like "361.82 M" or "1.5 B" (space before unit, base 1000, where B = Billion)
func FormatParameters(params int64) string {
	return units.CustomSize("%.2f%s", float64(params), 1000.0, []string{"", " K", " M", " B", " T"})
}

// FormatSize converts bytes to human-readable format
func FormatSize(bytes int64) string {
	return units.HumanSize(float64(bytes))
}
