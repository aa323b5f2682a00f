// Package config holds the conversion settings and reads them from the
// environment.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/docker/go-units"
	"github.com/mattn/go-shellwords"

	"github.com/gemmars/model-compiler/pkg/collector"
	"github.com/gemmars/model-compiler/pkg/vocab"
	"github.com/gemmars/model-compiler/pkg/weights"
)

// Environment variables read by FromEnv.
const (
	EnvModelDir      = "GRMD_MODEL_DIR"
	EnvWeightsOutput = "GRMD_WEIGHTS_OUTPUT"
	EnvModelID       = "GRMD_MODEL_ID"
	EnvChunkSize     = "GRMD_CHUNK_SIZE"
	EnvForce         = "GRMD_FORCE"
	EnvTokenizer     = "GRMD_TOKENIZER"
	EnvVocabOutput   = "GRMD_VOCAB_OUTPUT"
	EnvVocabFormat   = "GRMD_VOCAB_FORMAT"
	EnvMergePolicy   = "GRMD_MERGE_POLICY"
	EnvDebug         = "GRMD_DEBUG"
	EnvArgs          = "GRMD_ARGS"
)

const DefaultModelDir = "./model"

// Config is the full set of conversion settings.
type Config struct {
	ModelDir      string
	WeightsOutput string
	ModelID       string
	ChunkSize     int
	Force         bool
	MergePolicy   collector.MergePolicy

	Tokenizer   string
	VocabOutput string
	VocabFormat vocab.Format

	Debug    bool
	Progress bool
}

// Default returns the settings used when nothing is configured.
func Default() Config {
	return Config{
		ModelDir:      DefaultModelDir,
		WeightsOutput: filepath.Join(DefaultModelDir, "model.bin"),
		ModelID:       weights.DefaultModelID,
		ChunkSize:     weights.DefaultChunkSize,
		Force:         true,
		MergePolicy:   collector.LastWins,
		Tokenizer:     filepath.Join(DefaultModelDir, "tokenizer.model"),
		VocabOutput:   filepath.Join(DefaultModelDir, "tokenizer.bin"),
		VocabFormat:   vocab.DefaultFormat,
	}
}

// FromEnv returns Default overridden by the GRMD_* environment variables.
func FromEnv() (Config, error) {
	return FromLookup(os.LookupEnv)
}

// FromLookup is FromEnv reading variables through lookup.
func FromLookup(lookup func(string) (string, bool)) (Config, error) {
	cfg := Default()
	var errs []error

	str := func(key string, dst *string) {
		if v, ok := lookup(key); ok && v != "" {
			*dst = v
		}
	}
	boolean := func(key string, dst *bool) {
		if v, ok := lookup(key); ok && v != "" {
			b, err := strconv.ParseBool(v)
			if err != nil {
				errs = append(errs, fmt.Errorf("%s: %w", key, err))
				return
			}
			*dst = b
		}
	}

	str(EnvModelDir, &cfg.ModelDir)
	str(EnvWeightsOutput, &cfg.WeightsOutput)
	str(EnvModelID, &cfg.ModelID)
	str(EnvTokenizer, &cfg.Tokenizer)
	str(EnvVocabOutput, &cfg.VocabOutput)
	boolean(EnvForce, &cfg.Force)
	boolean(EnvDebug, &cfg.Debug)

	if v, ok := lookup(EnvChunkSize); ok && v != "" {
		n, err := ParseChunkSize(v)
		if err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", EnvChunkSize, err))
		} else {
			cfg.ChunkSize = n
		}
	}
	if v, ok := lookup(EnvVocabFormat); ok {
		f, err := vocab.ParseFormat(v)
		if err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", EnvVocabFormat, err))
		} else {
			cfg.VocabFormat = f
		}
	}
	if v, ok := lookup(EnvMergePolicy); ok {
		p, err := collector.ParseMergePolicy(v)
		if err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", EnvMergePolicy, err))
		} else {
			cfg.MergePolicy = p
		}
	}

	if len(errs) > 0 {
		return Config{}, errors.Join(errs...)
	}
	return cfg, nil
}

// ParseChunkSize parses an element count such as "1048576", "64k" or "1m".
// Suffixes are binary: "1m" is 1,048,576 elements.
func ParseChunkSize(s string) (int, error) {
	n, err := units.RAMInBytes(strings.TrimSpace(s))
	if err != nil {
		return 0, fmt.Errorf("invalid chunk size %q: %w", s, err)
	}
	if n < 1 || n > 1<<30 {
		return 0, fmt.Errorf("chunk size %d out of range [1, %d]", n, 1<<30)
	}
	return int(n), nil
}

// Validate reports settings that cannot produce a conversion.
func (c Config) Validate() error {
	var errs []error
	if c.ModelDir == "" {
		errs = append(errs, errors.New("model directory must be set"))
	}
	if c.WeightsOutput == "" {
		errs = append(errs, errors.New("weights output path must be set"))
	}
	if c.Tokenizer == "" {
		errs = append(errs, errors.New("tokenizer path must be set"))
	}
	if c.VocabOutput == "" {
		errs = append(errs, errors.New("vocabulary output path must be set"))
	}
	if c.ChunkSize < 1 {
		errs = append(errs, fmt.Errorf("chunk size must be positive, got %d", c.ChunkSize))
	}
	if c.VocabFormat != vocab.FormatV1 && c.VocabFormat != vocab.FormatV2 {
		errs = append(errs, fmt.Errorf("unknown vocabulary format %s", c.VocabFormat))
	}
	if c.MergePolicy != collector.LastWins && c.MergePolicy != collector.Reject {
		errs = append(errs, fmt.Errorf("unknown merge policy %q", c.MergePolicy))
	}
	return errors.Join(errs...)
}

// disallowedArgs are flags GRMD_ARGS may not set: output locations must be
// chosen on the command line.
var disallowedArgs = []string{"--weights-output", "--vocab-output"}

// ExtraArgs splits the value of GRMD_ARGS into arguments, honoring shell
// quoting. Output path flags are rejected.
func ExtraArgs(s string) ([]string, error) {
	if strings.TrimSpace(s) == "" {
		return nil, nil
	}
	args, err := shellwords.Parse(s)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", EnvArgs, err)
	}
	for _, arg := range args {
		name, _, _ := strings.Cut(arg, "=")
		for _, disallowed := range disallowedArgs {
			if name == disallowed {
				return nil, fmt.Errorf("%s cannot set the %s argument", EnvArgs, disallowed)
			}
		}
	}
	return args, nil
}
