package commands

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"

	"github.com/gemmars/model-compiler/cmd/cli/commands/completion"
	"github.com/gemmars/model-compiler/pkg/convert"
)

func newTokenizeCmd(s *settings) *cobra.Command {
	c := &cobra.Command{
		Use:   "tokenize TEXT",
		Short: "Encode text with the tokenizer and check that it decodes back",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			text := args[0]
			ids, decoded, err := convert.RoundTrip(s.cfg.Tokenizer, text)
			if err != nil {
				return errors.Wrap(err, "Failed to tokenize")
			}
			cmd.Printf("IDs:     %s\n", formatIDs(ids))
			cmd.Printf("Decoded: %q\n", decoded)
			if decoded != text {
				return fmt.Errorf("round trip mismatch: encoded %q, decoded %q", text, decoded)
			}
			return nil
		},
		ValidArgsFunction: completion.NoComplete,
	}
	return c
}

func formatIDs(ids []int) string {
	parts := make([]string, len(ids))
	for i, id := range ids {
		parts[i] = strconv.Itoa(id)
	}
	return "[" + strings.Join(parts, " ") + "]"
}
