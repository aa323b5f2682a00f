package commands

import (
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/gemmars/model-compiler/cmd/cli/commands/completion"
	"github.com/gemmars/model-compiler/internal/utils"
	"github.com/gemmars/model-compiler/pkg/convert"
	"github.com/gemmars/model-compiler/pkg/safetensors"
)

func newConvertCmd(s *settings) *cobra.Command {
	c := &cobra.Command{
		Use:   "convert",
		Short: "Compile both the weight and the vocabulary artifacts",
		Long: "Compile the checkpoint in --model-dir into --weights-output, then the tokenizer\n" +
			"in --tokenizer into --vocab-output. The vocabulary is not written when the\n" +
			"weight conversion fails.",
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := runConvertModel(cmd, s); err != nil {
				return err
			}
			return runConvertTokenizer(cmd, s)
		},
		ValidArgsFunction: completion.NoComplete,
	}
	return c
}

func newConvertModelCmd(s *settings) *cobra.Command {
	c := &cobra.Command{
		Use:   "convert-model",
		Short: "Compile the safetensors checkpoint into the weight artifact",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runConvertModel(cmd, s)
		},
		ValidArgsFunction: completion.NoComplete,
	}
	return c
}

func newConvertTokenizerCmd(s *settings) *cobra.Command {
	c := &cobra.Command{
		Use:   "convert-tokenizer",
		Short: "Compile the SentencePiece tokenizer into the vocabulary artifact",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runConvertTokenizer(cmd, s)
		},
		ValidArgsFunction: completion.NoComplete,
	}
	return c
}

func runConvertModel(cmd *cobra.Command, s *settings) error {
	opts := s.options(cmd)
	result, err := convert.ConvertModel(s.cfg, opts)
	if err != nil {
		return handleConvertError(opts, err, "Failed to convert model")
	}
	cmd.Printf("Wrote %d tensors (%s parameters, %s) to %s\n",
		result.Tensors,
		safetensors.FormatParameters(result.Parameters),
		safetensors.FormatSize(result.BytesWritten),
		result.Path)
	for _, c := range result.Collisions {
		cmd.Printf("Tensor %s is defined in %s and %s, kept the later shard\n",
			utils.SanitizeForLog(c.Name),
			utils.SanitizeForLog(filepath.Base(c.Previous)),
			utils.SanitizeForLog(filepath.Base(c.Winner)))
	}
	return nil
}

func runConvertTokenizer(cmd *cobra.Command, s *settings) error {
	opts := s.options(cmd)
	result, err := convert.ConvertTokenizer(s.cfg, opts)
	if err != nil {
		return handleConvertError(opts, err, "Failed to convert tokenizer")
	}
	cmd.Printf("Wrote %d pieces (%s) to %s\n", result.VocabSize, result.Format, result.Path)
	return nil
}
