package weights

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"os"
)

var (
	ErrInvalidMagic = errors.New("not a GRMD weight artifact")
	ErrTruncated    = errors.New("weight artifact is truncated")
)

// ReadHeader reads the header of a weight artifact and returns the model
// identifier and the header length.
func ReadHeader(r io.Reader) (string, int64, error) {
	magic := make([]byte, len(Magic))
	if _, err := io.ReadFull(r, magic); err != nil {
		return "", 0, fmt.Errorf("read magic: %w", err)
	}
	if !bytes.Equal(magic, []byte(Magic)) {
		return "", 0, fmt.Errorf("%w: magic %q", ErrInvalidMagic, magic)
	}

	var n uint32
	if err := binary.Read(r, binary.LittleEndian, &n); err != nil {
		return "", 0, fmt.Errorf("read model identifier length: %w", err)
	}
	if n > maxModelIDLen {
		return "", 0, fmt.Errorf("model identifier length %d exceeds %d", n, maxModelIDLen)
	}
	id := make([]byte, n)
	if _, err := io.ReadFull(r, id); err != nil {
		return "", 0, fmt.Errorf("read model identifier: %w", err)
	}
	return string(id), HeaderSize(string(id)), nil
}

// Info describes a weight artifact on disk.
type Info struct {
	ModelID      string
	HeaderSize   int64
	PayloadBytes int64
	// Truncated is set when the payload is not a whole number of floats.
	Truncated bool
}

// Floats returns the number of complete float32 values in the payload.
func (i Info) Floats() int64 { return i.PayloadBytes / 4 }

// Inspect reads the header of the artifact at path and sizes its payload.
func Inspect(path string) (*Info, error) {
	//nolint:gosec // G304: path is provided by the operator
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	modelID, headerSize, err := ReadHeader(f)
	if err != nil {
		return nil, err
	}
	fi, err := f.Stat()
	if err != nil {
		return nil, fmt.Errorf("stat artifact: %w", err)
	}

	payload := fi.Size() - headerSize
	return &Info{
		ModelID:      modelID,
		HeaderSize:   headerSize,
		PayloadBytes: payload,
		Truncated:    payload%4 != 0,
	}, nil
}

// Verify checks that the artifact at path holds exactly floats values after a
// header for modelID.
func Verify(path, modelID string, floats int64) error {
	info, err := Inspect(path)
	if err != nil {
		return err
	}
	if info.ModelID != modelID {
		return fmt.Errorf("artifact model identifier %q, want %q", info.ModelID, modelID)
	}
	if info.Truncated || info.Floats() != floats {
		return fmt.Errorf("%w: %d payload bytes, want %d", ErrTruncated, info.PayloadBytes, 4*floats)
	}
	return nil
}
