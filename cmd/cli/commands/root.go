package commands

import (
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/gemmars/model-compiler/pkg/collector"
	"github.com/gemmars/model-compiler/pkg/config"
	"github.com/gemmars/model-compiler/pkg/vocab"
)

// settings is the configuration the commands run with: environment
// defaults overridden by flags.
type settings struct {
	log *logrus.Logger
	cfg config.Config

	chunkSize   string
	vocabFormat string
	mergePolicy string
}

// resolve parses the string flags into cfg and validates the result.
func (s *settings) resolve() error {
	var err error
	if s.cfg.ChunkSize, err = config.ParseChunkSize(s.chunkSize); err != nil {
		return err
	}
	if s.cfg.VocabFormat, err = vocab.ParseFormat(s.vocabFormat); err != nil {
		return err
	}
	if s.cfg.MergePolicy, err = collector.ParseMergePolicy(s.mergePolicy); err != nil {
		return err
	}
	if s.cfg.Debug {
		s.log.SetLevel(logrus.DebugLevel)
	}
	return s.cfg.Validate()
}

// NewRootCmd returns the grmd command tree. cfg holds the defaults flags
// start from; log receives conversion logs.
func NewRootCmd(log *logrus.Logger, cfg config.Config) *cobra.Command {
	s := &settings{
		log:         log,
		cfg:         cfg,
		chunkSize:   formatChunkSize(cfg.ChunkSize),
		vocabFormat: cfg.VocabFormat.String(),
		mergePolicy: string(cfg.MergePolicy),
	}

	rootCmd := &cobra.Command{
		Use:           "grmd",
		Short:         "Compile safetensors checkpoints and SentencePiece tokenizers into runtime artifacts",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return s.resolve()
		},
	}

	flags := rootCmd.PersistentFlags()
	flags.StringVar(&s.cfg.ModelDir, "model-dir", s.cfg.ModelDir, "Directory holding the model*.safetensors shards")
	flags.StringVar(&s.cfg.WeightsOutput, "weights-output", s.cfg.WeightsOutput, "Path of the weight artifact")
	flags.StringVar(&s.cfg.ModelID, "model-id", s.cfg.ModelID, "Model identifier written into the weight artifact header")
	flags.StringVar(&s.chunkSize, "chunk-size", s.chunkSize, "Elements converted per write (e.g. 1048576, 64k, 1m)")
	flags.StringVar(&s.mergePolicy, "merge-policy", s.mergePolicy, "What to do with tensors defined by several shards (last-wins, reject)")
	flags.StringVar(&s.cfg.Tokenizer, "tokenizer", s.cfg.Tokenizer, "Path of the SentencePiece tokenizer.model")
	flags.StringVar(&s.cfg.VocabOutput, "vocab-output", s.cfg.VocabOutput, "Path of the vocabulary artifact")
	flags.StringVar(&s.vocabFormat, "vocab-format", s.vocabFormat, "Vocabulary artifact format (v1, v2)")
	flags.BoolVar(&s.cfg.Force, "force", s.cfg.Force, "Overwrite existing artifacts")
	flags.BoolVar(&s.cfg.Debug, "debug", s.cfg.Debug, "Enable debug logging")
	flags.BoolVar(&s.cfg.Progress, "progress", s.cfg.Progress, "Write JSON progress messages to stderr")

	rootCmd.AddCommand(
		newVersionCmd(),
		newConvertCmd(s),
		newConvertModelCmd(s),
		newConvertTokenizerCmd(s),
		newPlanCmd(s),
		newInspectCmd(s),
		newTokenizeCmd(s),
	)
	return rootCmd
}
