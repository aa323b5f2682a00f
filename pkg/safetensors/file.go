package safetensors

import (
	"fmt"
	"io"
	"os"
	"slices"
	"strings"
)

// File is an opened safetensors shard. Tensors returned by a File read from it
// lazily, so the File must stay open until they have been consumed.
type File struct {
	path       string
	file       *os.File
	header     *Header
	dataOffset int64
}

// Open opens a safetensors file and reads its header. Tensor data is not read.
func Open(path string) (*File, error) {
	//nolint:gosec // G304: shard paths come from the configured model directory
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open file: %w", err)
	}

	header, dataOffset, err := ReadHeader(file)
	if err != nil {
		_ = file.Close()
		return nil, fmt.Errorf("%s: %w", path, err)
	}

	fi, err := file.Stat()
	if err != nil {
		_ = file.Close()
		return nil, fmt.Errorf("stat file: %w", err)
	}
	for name, info := range header.Tensors {
		if err := checkBeginEnd(fi.Size(), dataOffset+info.DataOffsets[0], dataOffset+info.DataOffsets[1]); err != nil {
			_ = file.Close()
			return nil, fmt.Errorf("%s: tensor %q: %w", path, name, err)
		}
	}

	return &File{
		path:       path,
		file:       file,
		header:     header,
		dataOffset: dataOffset,
	}, nil
}

// Path returns the path the file was opened from.
func (f *File) Path() string { return f.path }

// Header returns the parsed header.
func (f *File) Header() *Header { return f.header }

// Close closes the underlying file.
func (f *File) Close() error {
	if f.file != nil {
		return f.file.Close()
	}
	return nil
}

// Tensors returns the file's tensors ordered by name.
func (f *File) Tensors() []*Tensor {
	tensors := make([]*Tensor, 0, len(f.header.Tensors))
	for name, info := range f.header.Tensors {
		tensors = append(tensors, &Tensor{
			name:  name,
			info:  info,
			shard: f.path,
			data:  io.NewSectionReader(f.file, f.dataOffset+info.DataOffsets[0], info.ByteSize()),
		})
	}
	slices.SortFunc(tensors, func(a, b *Tensor) int {
		return strings.Compare(a.name, b.name)
	})
	return tensors
}

func checkBeginEnd(size, begin, end int64) error {
	if begin < 0 {
		return fmt.Errorf("%w: begin must not be negative: %d", ErrInvalidOffsets, begin)
	}
	if end < begin {
		return fmt.Errorf("%w: end must be >= begin: %d < %d", ErrInvalidOffsets, end, begin)
	}
	if end > size {
		return fmt.Errorf("%w: end must be <= size: %d > %d", ErrInvalidOffsets, end, size)
	}
	return nil
}

// Tensor is one named tensor inside a shard. Its values are decoded on demand,
// a chunk at a time, with ReadFloat32.
//
// It is not safe for use across multiple goroutines.
type Tensor struct {
	name  string
	info  TensorInfo
	shard string
	data  *io.SectionReader
}

func (t *Tensor) Name() string       { return t.name }
func (t *Tensor) DType() DType       { return t.info.Dtype }
func (t *Tensor) Shape() []int64     { return slices.Clone(t.info.Shape) }
func (t *Tensor) Shard() string      { return t.shard }
func (t *Tensor) NumElements() int64 { return t.info.NumElements() }
func (t *Tensor) ByteSize() int64    { return t.info.ByteSize() }
func (t *Tensor) ElementSize() int   { return t.info.Dtype.Size() }
func (t *Tensor) Info() TensorInfo   { return t.info }
func (t *Tensor) String() string     { return t.name }

// Validate checks that the dtype can be cast to float32 and that the data
// section holds exactly NumElements elements.
func (t *Tensor) Validate() error {
	size := t.info.Dtype.Size()
	if size == 0 {
		return fmt.Errorf("tensor %q: %w: %q", t.name, ErrUnsupportedDType, string(t.info.Dtype))
	}
	if want := t.NumElements() * int64(size); want != t.ByteSize() {
		return fmt.Errorf("tensor %q: %w: shape %v needs %d bytes, data section has %d",
			t.name, ErrInvalidOffsets, t.info.Shape, want, t.ByteSize())
	}
	return nil
}

// ReadFloat32 decodes len(dst) elements starting at element offset into dst,
// using raw as the scratch buffer for the undecoded bytes. raw must hold at
// least len(dst)*ElementSize bytes.
func (t *Tensor) ReadFloat32(offset int64, raw []byte, dst []float32) error {
	size := t.info.Dtype.Size()
	if size == 0 {
		return fmt.Errorf("tensor %q: %w: %q", t.name, ErrUnsupportedDType, string(t.info.Dtype))
	}
	if offset < 0 || offset+int64(len(dst)) > t.NumElements() {
		return fmt.Errorf("tensor %q: read [%d, %d) out of range %d", t.name, offset, offset+int64(len(dst)), t.NumElements())
	}

	n := len(dst) * size
	if len(raw) < n {
		return fmt.Errorf("tensor %q: scratch buffer too small: %d < %d", t.name, len(raw), n)
	}
	if _, err := t.data.ReadAt(raw[:n], offset*int64(size)); err != nil {
		return fmt.Errorf("tensor %q: read data: %w", t.name, err)
	}
	return t.info.Dtype.DecodeFloat32(raw[:n], dst)
}
