package collector

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"slices"
	"strconv"
	"strings"
)

const (
	shardPrefix = "model"
	shardSuffix = "safetensors"
)

var (
	ErrShardDirectory = errors.New("cannot read shard directory")
	ErrNoShards       = errors.New("no safetensors shards found")
)

// shardPattern matches series names such as model-00001-of-00003.safetensors.
var shardPattern = regexp.MustCompile(`^(.+)-(\d{5})-of-(\d{5})\.safetensors$`)

// ListShards returns the paths of the regular files in dir whose name starts
// with "model" and ends with "safetensors", in lexicographic order.
func ListShards(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("%w %q: %w", ErrShardDirectory, dir, err)
	}

	var shards []string
	for _, entry := range entries {
		name := entry.Name()
		if !strings.HasPrefix(name, shardPrefix) || !strings.HasSuffix(name, shardSuffix) {
			continue
		}
		if !entry.Type().IsRegular() {
			// Follow symlinks; skip directories and devices.
			info, err := os.Stat(filepath.Join(dir, name))
			if err != nil || !info.Mode().IsRegular() {
				continue
			}
		}
		shards = append(shards, filepath.Join(dir, name))
	}
	if len(shards) == 0 {
		return nil, fmt.Errorf("%w in %q", ErrNoShards, dir)
	}

	slices.Sort(shards)
	return shards, nil
}

// MissingShards returns the expected series members that are absent from
// paths. Paths outside a <prefix>-NNNNN-of-MMMMM.safetensors series are
// ignored.
func MissingShards(paths []string) []string {
	type series struct {
		dir, prefix string
		total       int
		present     map[int]bool
	}
	seen := make(map[string]*series)
	var keys []string

	for _, path := range paths {
		matches := shardPattern.FindStringSubmatch(filepath.Base(path))
		if len(matches) != 4 {
			continue
		}
		index, err := strconv.Atoi(matches[2])
		if err != nil {
			continue
		}
		total, err := strconv.Atoi(matches[3])
		if err != nil {
			continue
		}

		key := filepath.Join(filepath.Dir(path), matches[1]) + "/" + matches[3]
		s, ok := seen[key]
		if !ok {
			s = &series{dir: filepath.Dir(path), prefix: matches[1], total: total, present: make(map[int]bool)}
			seen[key] = s
			keys = append(keys, key)
		}
		s.present[index] = true
	}

	var missing []string
	for _, key := range keys {
		s := seen[key]
		for i := 1; i <= s.total; i++ {
			if !s.present[i] {
				missing = append(missing, filepath.Join(s.dir, fmt.Sprintf("%s-%05d-of-%05d.safetensors", s.prefix, i, s.total)))
			}
		}
	}
	return missing
}
