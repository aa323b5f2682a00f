// Package collector discovers the safetensors shards of a checkpoint and
// merges their tensors into one name-keyed archive.
package collector

import (
	"errors"
	"fmt"
	"slices"
	"strings"

	"github.com/sirupsen/logrus"

	"github.com/gemmars/model-compiler/internal/utils"
	"github.com/gemmars/model-compiler/pkg/safetensors"
)

var ErrDuplicateTensor = errors.New("tensor defined in more than one shard")

// MergePolicy decides what happens when two shards define the same tensor.
type MergePolicy string

const (
	// LastWins keeps the tensor from the shard merged last and records the
	// collision.
	LastWins MergePolicy = "last-wins"
	// Reject fails collection on the first collision.
	Reject MergePolicy = "reject"
)

// ParseMergePolicy parses a policy name. The empty string selects LastWins.
func ParseMergePolicy(s string) (MergePolicy, error) {
	switch MergePolicy(strings.ToLower(strings.TrimSpace(s))) {
	case "", LastWins:
		return LastWins, nil
	case Reject:
		return Reject, nil
	default:
		return "", fmt.Errorf("unknown merge policy %q (want %q or %q)", s, LastWins, Reject)
	}
}

// Collision records a tensor name defined by more than one shard.
type Collision struct {
	Name     string
	Previous string // shard whose tensor was replaced
	Winner   string // shard whose tensor was kept
}

// Archive is the merged view of every shard in a checkpoint directory. It
// keeps the shards open until Close.
type Archive struct {
	Shards     []string
	Collisions []Collision
	Missing    []string

	files   []*safetensors.File
	tensors map[string]*safetensors.Tensor
}

// Len returns the number of distinct tensors.
func (a *Archive) Len() int { return len(a.tensors) }

// Tensor returns the tensor stored under name.
func (a *Archive) Tensor(name string) (*safetensors.Tensor, bool) {
	t, ok := a.tensors[name]
	return t, ok
}

// Tensors returns every tensor ordered by name.
func (a *Archive) Tensors() []*safetensors.Tensor {
	tensors := make([]*safetensors.Tensor, 0, len(a.tensors))
	for _, t := range a.tensors {
		tensors = append(tensors, t)
	}
	slices.SortFunc(tensors, func(x, y *safetensors.Tensor) int {
		return strings.Compare(x.Name(), y.Name())
	})
	return tensors
}

// Parameters returns the total element count across all tensors.
func (a *Archive) Parameters() int64 {
	var total int64
	for _, t := range a.tensors {
		total += t.NumElements()
	}
	return total
}

// Close closes every shard.
func (a *Archive) Close() error {
	var errs []error
	for _, f := range a.files {
		if err := f.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	a.files = nil
	return errors.Join(errs...)
}

// Options configures Collect.
type Options struct {
	Policy MergePolicy
	Log    logrus.FieldLogger
}

// Collect opens every shard in dir, in lexicographic order, and merges their
// tensors according to opts.Policy.
func Collect(dir string, opts Options) (*Archive, error) {
	log := opts.Log
	if log == nil {
		log = logrus.StandardLogger()
	}
	policy := opts.Policy
	if policy == "" {
		policy = LastWins
	}

	shards, err := ListShards(dir)
	if err != nil {
		return nil, err
	}

	archive := &Archive{
		Shards:  shards,
		Missing: MissingShards(shards),
		tensors: make(map[string]*safetensors.Tensor),
	}
	for _, path := range archive.Missing {
		log.Warnf("Shard series is incomplete, missing %s", utils.SanitizeForLog(path))
	}

	for _, path := range shards {
		f, err := safetensors.Open(path)
		if err != nil {
			_ = archive.Close()
			return nil, fmt.Errorf("open shard: %w", err)
		}
		archive.files = append(archive.files, f)

		tensors := f.Tensors()
		log.WithFields(logrus.Fields{
			"shard":   utils.SanitizeForLog(path),
			"tensors": len(tensors),
		}).Debug("Loaded shard")

		for _, t := range tensors {
			prev, ok := archive.tensors[t.Name()]
			if ok {
				c := Collision{Name: t.Name(), Previous: prev.Shard(), Winner: t.Shard()}
				if policy == Reject {
					_ = archive.Close()
					return nil, fmt.Errorf("%w: %q in %s and %s", ErrDuplicateTensor, c.Name, c.Previous, c.Winner)
				}
				archive.Collisions = append(archive.Collisions, c)
				log.WithFields(logrus.Fields{
					"tensor":   utils.SanitizeForLog(c.Name),
					"previous": utils.SanitizeForLog(c.Previous),
					"winner":   utils.SanitizeForLog(c.Winner),
				}).Warn("Duplicate tensor, keeping the later shard")
			}
			archive.tensors[t.Name()] = t
		}
	}

	log.Infof("Collected %d tensors (%s parameters) from %d shard(s)",
		archive.Len(), safetensors.FormatParameters(archive.Parameters()), len(shards))
	return archive, nil
}
