package safetensors

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math"

	"github.com/d4l3k/go-bfloat16"
	"github.com/x448/float16"
)

// DType is a safetensors element type tag.
type DType string

// Floating point dtypes that can be cast to float32.
const (
	F64  DType = "F64"
	F32  DType = "F32"
	F16  DType = "F16"
	BF16 DType = "BF16"
)

var ErrUnsupportedDType = errors.New("unsupported tensor dtype")

// Size returns the element size in bytes, or 0 for dtypes that cannot be
// converted to float32.
func (d DType) Size() int {
	switch d {
	case F64:
		return 8
	case F32:
		return 4
	case F16, BF16:
		return 2
	default:
		return 0
	}
}

// MaxElementSize is the largest Size of any supported dtype.
const MaxElementSize = 8

// DecodeFloat32 casts little-endian elements of dtype d from src into dst.
// src must hold exactly len(dst) elements. It does not allocate.
func (d DType) DecodeFloat32(src []byte, dst []float32) error {
	size := d.Size()
	if size == 0 {
		return fmt.Errorf("%w: %q", ErrUnsupportedDType, string(d))
	}
	if len(src) != len(dst)*size {
		return fmt.Errorf("decode %s: have %d bytes for %d elements", d, len(src), len(dst))
	}

	switch d {
	case F32:
		for i := range dst {
			dst[i] = math.Float32frombits(binary.LittleEndian.Uint32(src[4*i:]))
		}
	case F64:
		for i := range dst {
			dst[i] = float32(math.Float64frombits(binary.LittleEndian.Uint64(src[8*i:])))
		}
	case F16:
		for i := range dst {
			dst[i] = float16.Frombits(binary.LittleEndian.Uint16(src[2*i:])).Float32()
		}
	case BF16:
		for i := range dst {
			dst[i] = bfloat16.ToFloat32(bfloat16.FromBytes(src[2*i:]))
		}
	}
	return nil
}
