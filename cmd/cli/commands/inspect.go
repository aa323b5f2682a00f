package commands

import (
	"bytes"
	"fmt"
	"io"
	"os"
	"strconv"

	"github.com/olekukonko/tablewriter"
	"github.com/pkg/errors"
	"github.com/spf13/cobra"

	"github.com/gemmars/model-compiler/cmd/cli/commands/completion"
	"github.com/gemmars/model-compiler/internal/utils"
	"github.com/gemmars/model-compiler/pkg/safetensors"
	"github.com/gemmars/model-compiler/pkg/vocab"
	"github.com/gemmars/model-compiler/pkg/weights"
)

func newInspectCmd(s *settings) *cobra.Command {
	var limit int
	c := &cobra.Command{
		Use:   "inspect ARTIFACT",
		Short: "Display the header of a weight or vocabulary artifact",
		Args: func(cmd *cobra.Command, args []string) error {
			if len(args) != 1 {
				return fmt.Errorf(
					"'grmd inspect' requires 1 argument.\n\n" +
						"Usage:  grmd inspect ARTIFACT\n\n" +
						"See 'grmd inspect --help' for more information",
				)
			}
			return nil
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			path := args[0]
			magic, err := readMagic(path)
			if err != nil {
				return errors.Wrap(err, "Failed to read artifact")
			}
			switch magic {
			case weights.Magic:
				info, err := weights.Inspect(path)
				if err != nil {
					return errors.Wrap(err, "Failed to inspect weight artifact")
				}
				cmd.Print(weightsInfo(info))
				if info.Truncated {
					return fmt.Errorf("%w: %d trailing bytes", weights.ErrTruncated, info.PayloadBytes%4)
				}
				return nil
			case vocab.Magic:
				//nolint:gosec // G304: path is provided by the operator
				f, err := os.Open(path)
				if err != nil {
					return err
				}
				defer f.Close()
				v, err := vocab.Read(f, s.cfg.VocabFormat)
				if err != nil {
					return errors.Wrap(err, "Failed to inspect vocabulary artifact")
				}
				cmd.Print(vocabInfo(v, s.cfg.VocabFormat, limit))
				return nil
			default:
				return fmt.Errorf("%s is neither a %s nor a %s artifact (magic %q)", path, weights.Magic, vocab.Magic, magic)
			}
		},
		ValidArgsFunction: completion.Artifacts,
	}
	c.Flags().IntVar(&limit, "limit", 10, "Number of vocabulary entries to list")
	return c
}

func readMagic(path string) (string, error) {
	//nolint:gosec // G304: path is provided by the operator
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()
	magic := make([]byte, 4)
	if _, err := io.ReadFull(f, magic); err != nil {
		return "", err
	}
	return string(magic), nil
}

func weightsInfo(info *weights.Info) string {
	var buf bytes.Buffer
	fmt.Fprintf(&buf, "Format:     %s\n", weights.Magic)
	fmt.Fprintf(&buf, "Model ID:   %s\n", utils.SanitizeForLog(info.ModelID))
	fmt.Fprintf(&buf, "Header:     %d bytes\n", info.HeaderSize)
	fmt.Fprintf(&buf, "Parameters: %s\n", safetensors.FormatParameters(info.Floats()))
	fmt.Fprintf(&buf, "Payload:    %s\n", safetensors.FormatSize(info.PayloadBytes))
	return buf.String()
}

func specialID(id int) string {
	if id < 0 {
		return "none"
	}
	return strconv.Itoa(id)
}

func vocabInfo(v *vocab.Vocabulary, format vocab.Format, limit int) string {
	var buf bytes.Buffer
	fmt.Fprintf(&buf, "Format:     %s %s\n", vocab.Magic, format)
	fmt.Fprintf(&buf, "Vocab size: %d\n", v.Size())
	if format == vocab.FormatV2 {
		fmt.Fprintf(&buf, "BOS:        %s\n", specialID(v.Special.Bos))
		fmt.Fprintf(&buf, "EOS:        %s\n", specialID(v.Special.Eos))
		fmt.Fprintf(&buf, "PAD:        %s\n", specialID(v.Special.Pad))
	}
	if limit <= 0 {
		return buf.String()
	}
	buf.WriteString("\n")

	table := tablewriter.NewWriter(&buf)

	table.SetHeader([]string{"ID", "PIECE", "SCORE"})

	table.SetBorder(false)
	table.SetColumnSeparator("")
	table.SetHeaderLine(false)
	table.SetTablePadding("  ")
	table.SetNoWhiteSpace(true)

	table.SetColumnAlignment([]int{
		tablewriter.ALIGN_RIGHT, // ID
		tablewriter.ALIGN_LEFT,  // PIECE
		tablewriter.ALIGN_RIGHT, // SCORE
	})
	table.SetHeaderAlignment(tablewriter.ALIGN_LEFT)

	for _, e := range v.Entries[:min(limit, len(v.Entries))] {
		table.Append([]string{
			strconv.Itoa(e.ID),
			strconv.Quote(string(e.Piece)),
			strconv.FormatFloat(float64(e.Score), 'g', -1, 32),
		})
	}

	table.Render()
	return buf.String()
}
