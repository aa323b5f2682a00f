// Package convert runs the two conversion pipelines: checkpoint shards to a
// GRMD weight artifact, and a SentencePiece model to a GRTK vocabulary
// artifact.
package convert

import (
	"bufio"
	"fmt"
	"io"

	"github.com/sirupsen/logrus"

	"github.com/gemmars/model-compiler/pkg/artifact"
	"github.com/gemmars/model-compiler/pkg/collector"
	"github.com/gemmars/model-compiler/pkg/config"
	"github.com/gemmars/model-compiler/pkg/layout"
	"github.com/gemmars/model-compiler/pkg/memory"
	"github.com/gemmars/model-compiler/pkg/progress"
	"github.com/gemmars/model-compiler/pkg/safetensors"
	"github.com/gemmars/model-compiler/pkg/weights"
)

// Options carries the collaborators of a conversion.
type Options struct {
	Log logrus.FieldLogger
	// Progress receives JSON-lines progress messages when set.
	Progress io.Writer
	// Memory is consulted before allocating chunk buffers. Nil reads the
	// host's RAM size.
	Memory memory.SystemMemoryInfo
}

func (o Options) logger() logrus.FieldLogger {
	if o.Log == nil {
		return logrus.StandardLogger()
	}
	return o.Log
}

// ModelResult summarizes a weight conversion.
type ModelResult struct {
	Path         string
	Shards       []string
	Tensors      int
	Parameters   int64
	BytesWritten int64
	Collisions   []collector.Collision
}

// PlanEntry is one tensor of the canonical layout.
type PlanEntry struct {
	Index    int
	Name     string
	Role     layout.Role
	Key      layout.OrderKey
	DType    safetensors.DType
	Shape    []int64
	Elements int64
	// Offset is where the tensor's values start in the weight artifact.
	Offset int64
}

// Plan is the canonical layout of a checkpoint.
type Plan struct {
	ModelID    string
	Shards     []string
	Collisions []collector.Collision
	Entries    []PlanEntry
}

// Size returns the length of the weight artifact the plan produces.
func (p *Plan) Size() int64 {
	size := weights.HeaderSize(p.ModelID)
	for _, e := range p.Entries {
		size += 4 * e.Elements
	}
	return size
}

// planArchive orders every tensor of archive and checks that each can be
// converted. Nothing is written.
func planArchive(archive *collector.Archive, modelID string) ([]layout.Entry[*safetensors.Tensor], *Plan, error) {
	ordered, err := layout.Plan(archive.Tensors())
	if err != nil {
		return nil, nil, err
	}

	plan := &Plan{
		ModelID:    modelID,
		Shards:     archive.Shards,
		Collisions: archive.Collisions,
		Entries:    make([]PlanEntry, 0, len(ordered)),
	}
	offset := weights.HeaderSize(modelID)
	for i, e := range ordered {
		t := e.Item
		if err := t.Validate(); err != nil {
			return nil, nil, err
		}
		plan.Entries = append(plan.Entries, PlanEntry{
			Index:    i,
			Name:     t.Name(),
			Role:     e.Role,
			Key:      e.Key,
			DType:    t.DType(),
			Shape:    t.Shape(),
			Elements: t.NumElements(),
			Offset:   offset,
		})
		offset += 4 * t.NumElements()
	}
	return ordered, plan, nil
}

// PlanModel resolves the canonical layout of the checkpoint in
// cfg.ModelDir without writing anything.
func PlanModel(cfg config.Config, opts Options) (*Plan, error) {
	archive, err := collector.Collect(cfg.ModelDir, collector.Options{Policy: cfg.MergePolicy, Log: opts.logger()})
	if err != nil {
		return nil, err
	}
	defer archive.Close()

	_, plan, err := planArchive(archive, cfg.ModelID)
	return plan, err
}

// ConvertModel writes the weight artifact for the checkpoint in
// cfg.ModelDir to cfg.WeightsOutput.
//
// Every tensor name is resolved and every dtype checked before the artifact
// is created, so those failures leave no output behind. A failure while
// streaming leaves a partial artifact.
func ConvertModel(cfg config.Config, opts Options) (*ModelResult, error) {
	log := opts.logger().WithField("artifact", "weights")
	log.Info("Start converting model")

	mem := opts.Memory
	if mem == nil {
		mem = memory.NewSystemMemoryInfo(log)
	}
	if err := memory.CheckScratch(mem, weights.ScratchBytes(cfg.ChunkSize)); err != nil {
		return nil, err
	}

	archive, err := collector.Collect(cfg.ModelDir, collector.Options{Policy: cfg.MergePolicy, Log: log})
	if err != nil {
		return nil, err
	}
	defer archive.Close()

	ordered, plan, err := planArchive(archive, cfg.ModelID)
	if err != nil {
		return nil, err
	}

	f, err := artifact.Create(cfg.WeightsOutput, cfg.Force, log)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	reporter := progress.NewReporter(opts.Progress, uint64(plan.Size()), len(ordered))
	bw := bufio.NewWriter(f)
	w := weights.NewWriter(bw,
		weights.WithChunkSize(cfg.ChunkSize),
		weights.WithLogger(log),
		weights.WithProgress(reporter),
	)

	if err := w.WriteHeader(cfg.ModelID); err != nil {
		return nil, err
	}
	for _, e := range ordered {
		if err := w.WriteTensor(e.Item); err != nil {
			return nil, err
		}
	}
	if err := bw.Flush(); err != nil {
		return nil, fmt.Errorf("flush %s: %w", cfg.WeightsOutput, err)
	}
	if err := f.Close(); err != nil {
		return nil, fmt.Errorf("close %s: %w", cfg.WeightsOutput, err)
	}
	if w.BytesWritten() != plan.Size() {
		return nil, fmt.Errorf("%w: wrote %d bytes, expected %d", weights.ErrTruncated, w.BytesWritten(), plan.Size())
	}

	if err := reporter.Err(); err != nil {
		log.Warnf("Progress reporting failed: %v", err)
	}
	_ = progress.WriteSuccess(opts.Progress, fmt.Sprintf("Wrote %s", cfg.WeightsOutput))
	log.WithFields(logrus.Fields{
		"tensors": len(ordered),
		"size":    safetensors.FormatSize(w.BytesWritten()),
	}).Info("Finish converting model")

	return &ModelResult{
		Path:         cfg.WeightsOutput,
		Shards:       archive.Shards,
		Tensors:      len(ordered),
		Parameters:   archive.Parameters(),
		BytesWritten: w.BytesWritten(),
		Collisions:   archive.Collisions,
	}, nil
}
