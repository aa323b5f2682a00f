// Package weights writes the GRMD weight artifact: a short header followed by
// the float32 values of every tensor, back to back, in canonical order.
//
// Artifact layout (little-endian):
//
//	[4 bytes]  magic "GRMD"
//	[u32]      model identifier length L
//	[L bytes]  UTF-8 model identifier
//	per tensor: [4*N bytes] float32 values
//
// No tensor names, shapes or boundaries are stored.
package weights

import (
	"encoding/binary"
	"fmt"
	"io"
	"math"

	"github.com/sirupsen/logrus"

	"github.com/gemmars/model-compiler/internal/utils"
	"github.com/gemmars/model-compiler/pkg/progress"
	"github.com/gemmars/model-compiler/pkg/safetensors"
)

const (
	// Magic opens every weight artifact.
	Magic = "GRMD"

	// DefaultModelID is written when no model identifier is configured.
	DefaultModelID = "google/gemma-2-2b-it"

	// DefaultChunkSize is the number of elements converted per write.
	DefaultChunkSize = 1024 * 1024

	// maxModelIDLen bounds the identifier accepted by ReadHeader.
	maxModelIDLen = 64 * 1024
)

// Tensor is a source of float32 values that can be read a chunk at a time.
type Tensor interface {
	Name() string
	NumElements() int64
	ReadFloat32(offset int64, raw []byte, dst []float32) error
}

// ScratchBytes returns the memory a Writer allocates for chunkSize.
func ScratchBytes(chunkSize int) int64 {
	return int64(chunkSize) * (safetensors.MaxElementSize + 4 + 4)
}

// HeaderSize returns the length of the header written for modelID.
func HeaderSize(modelID string) int64 {
	return int64(len(Magic) + 4 + len(modelID))
}

// Writer streams tensors into a weight artifact. Its scratch buffers are
// allocated once and reused for every chunk, so memory use depends on the
// chunk size only.
//
// It is not safe for use across multiple goroutines.
type Writer struct {
	w         io.Writer
	chunkSize int
	log       logrus.FieldLogger
	progress  *progress.Reporter

	raw    []byte
	values []float32
	packed []byte

	written int64
	tensors int
}

// Option configures a Writer.
type Option func(*Writer)

// WithChunkSize sets the number of elements converted per write. Values below
// one select DefaultChunkSize.
func WithChunkSize(n int) Option {
	return func(w *Writer) {
		if n > 0 {
			w.chunkSize = n
		}
	}
}

// WithLogger sets the logger for per-tensor debug lines.
func WithLogger(log logrus.FieldLogger) Option {
	return func(w *Writer) {
		if log != nil {
			w.log = log
		}
	}
}

// WithProgress reports every written chunk to r.
func WithProgress(r *progress.Reporter) Option {
	return func(w *Writer) {
		w.progress = r
	}
}

// NewWriter returns a Writer on w.
func NewWriter(w io.Writer, opts ...Option) *Writer {
	wr := &Writer{
		w:         w,
		chunkSize: DefaultChunkSize,
		log:       logrus.StandardLogger(),
	}
	for _, opt := range opts {
		opt(wr)
	}
	wr.raw = make([]byte, wr.chunkSize*safetensors.MaxElementSize)
	wr.values = make([]float32, wr.chunkSize)
	wr.packed = make([]byte, wr.chunkSize*4)
	return wr
}

// ChunkSize returns the number of elements converted per write.
func (w *Writer) ChunkSize() int { return w.chunkSize }

// BytesWritten returns the number of bytes written so far, header included.
func (w *Writer) BytesWritten() int64 { return w.written }

// WriteHeader writes the magic and the length-prefixed model identifier.
func (w *Writer) WriteHeader(modelID string) error {
	if uint64(len(modelID)) > math.MaxUint32 {
		return fmt.Errorf("model identifier too long: %d bytes", len(modelID))
	}
	if _, err := io.WriteString(w.w, Magic); err != nil {
		return fmt.Errorf("write magic: %w", err)
	}
	if err := binary.Write(w.w, binary.LittleEndian, uint32(len(modelID))); err != nil {
		return fmt.Errorf("write model identifier length: %w", err)
	}
	if _, err := io.WriteString(w.w, modelID); err != nil {
		return fmt.Errorf("write model identifier: %w", err)
	}
	w.written += HeaderSize(modelID)
	return nil
}

// WriteTensor casts every element of t to float32 and appends the values,
// one chunk at a time.
func (w *Writer) WriteTensor(t Tensor) error {
	n := t.NumElements()
	size := uint64(n) * 4
	log := w.log.WithFields(logrus.Fields{
		"tensor":   utils.SanitizeForLog(t.Name()),
		"elements": n,
	})
	log.Debug("Writing tensor")

	for offset := int64(0); offset < n; offset += int64(w.chunkSize) {
		m := int(min(int64(w.chunkSize), n-offset))
		values := w.values[:m]
		if err := t.ReadFloat32(offset, w.raw, values); err != nil {
			return err
		}

		packed := w.packed[:4*m]
		for i, v := range values {
			binary.LittleEndian.PutUint32(packed[4*i:], math.Float32bits(v))
		}
		if _, err := w.w.Write(packed); err != nil {
			return fmt.Errorf("write tensor %q: %w", t.Name(), err)
		}
		w.written += int64(len(packed))

		w.progress.Update(progress.Tensor{
			Name:    t.Name(),
			Index:   w.tensors,
			Size:    size,
			Current: uint64(offset+int64(m)) * 4,
		}, uint64(w.written))
	}

	w.tensors++
	return nil
}
