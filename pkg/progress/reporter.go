// Package progress writes conversion progress as JSON lines.
package progress

import (
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/docker/go-units"
)

// UpdateInterval defines how often progress updates should be sent
const UpdateInterval = 100 * time.Millisecond

// MinBytesForUpdate defines the minimum number of bytes that need to be written
// before sending a progress update
const MinBytesForUpdate = 1024 * 1024 // 1MB

// Tensor identifies the tensor being written.
type Tensor struct {
	Name    string `json:"name"`
	Index   int    `json:"index"`
	Count   int    `json:"count"`
	Size    uint64 `json:"size"`
	Current uint64 `json:"current"`
}

// Message represents a structured message for progress reporting
type Message struct {
	Type    string  `json:"type"`              // "progress", "success", or "error"
	Message string  `json:"message"`           // Human-readable message
	Total   uint64  `json:"total,omitempty"`   // Bytes the artifact will hold
	Written uint64  `json:"written,omitempty"` // Bytes written so far
	Tensor  *Tensor `json:"tensor,omitempty"`
}

// Reporter throttles progress updates for one artifact. It is synchronous:
// Update writes on the caller's goroutine.
type Reporter struct {
	out   io.Writer
	total uint64
	count int
	now   func() time.Time

	lastUpdate  time.Time
	lastWritten uint64
	err         error
}

// NewReporter returns a Reporter for an artifact of total bytes made of count
// tensors. A nil writer discards every update.
func NewReporter(w io.Writer, total uint64, count int) *Reporter {
	return &Reporter{out: w, total: total, count: count, now: time.Now}
}

// Update reports that written bytes of the artifact are done, currently
// inside the index-th tensor. Updates closer together than UpdateInterval and
// MinBytesForUpdate are dropped, except the one completing a tensor.
func (r *Reporter) Update(tensor Tensor, written uint64) {
	if r == nil || r.out == nil || r.err != nil {
		return // If we fail to write progress, don't try again
	}
	now := r.now()
	done := tensor.Current >= tensor.Size
	if !done && now.Sub(r.lastUpdate) < UpdateInterval && written-r.lastWritten < MinBytesForUpdate {
		return
	}

	tensor.Count = r.count
	msg := fmt.Sprintf("Written: %s of %s", units.HumanSize(float64(written)), units.HumanSize(float64(r.total)))
	if err := write(r.out, Message{
		Type:    "progress",
		Message: msg,
		Total:   r.total,
		Written: written,
		Tensor:  &tensor,
	}); err != nil {
		r.err = err
	}
	r.lastUpdate = now
	r.lastWritten = written
}

// Err returns the first error encountered while writing updates.
func (r *Reporter) Err() error {
	if r == nil {
		return nil
	}
	return r.err
}

// WriteSuccess writes a success message
func WriteSuccess(w io.Writer, message string) error {
	return write(w, Message{
		Type:    "success",
		Message: message,
	})
}

// WriteError writes an error message
func WriteError(w io.Writer, message string) error {
	return write(w, Message{
		Type:    "error",
		Message: message,
	})
}

// write writes a JSON-formatted progress message to the writer
func write(w io.Writer, msg Message) error {
	if w == nil {
		return nil
	}
	data, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintf(w, "%s\n", data)
	return err
}
