package commands

import (
	"bytes"
	"fmt"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"

	"github.com/gemmars/model-compiler/cmd/cli/commands/completion"
	"github.com/gemmars/model-compiler/internal/utils"
	"github.com/gemmars/model-compiler/cmd/cli/commands/formatter"
	"github.com/gemmars/model-compiler/pkg/convert"
	"github.com/gemmars/model-compiler/pkg/safetensors"
)

func newPlanCmd(s *settings) *cobra.Command {
	var jsonFormat bool
	c := &cobra.Command{
		Use:   "plan",
		Short: "Show the order in which tensors would be written, without writing",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			opts := s.options(cmd)
			plan, err := convert.PlanModel(s.cfg, opts)
			if err != nil {
				return handleConvertError(opts, err, "Failed to plan conversion")
			}
			if jsonFormat {
				out, err := formatter.ToStandardJSON(planJSON(plan))
				if err != nil {
					return err
				}
				cmd.Print(out)
				return nil
			}
			cmd.Printf("Model ID: %s\n", utils.SanitizeForLog(plan.ModelID))
			cmd.Printf("Shards:   %d\n", len(plan.Shards))
			cmd.Printf("Size:     %s\n\n", safetensors.FormatSize(plan.Size()))
			cmd.Print(planTable(plan))
			return nil
		},
		ValidArgsFunction: completion.NoComplete,
	}
	c.Flags().BoolVar(&jsonFormat, "json", false, "List tensors in JSON format")
	return c
}

type planEntryJSON struct {
	Index    int     `json:"index"`
	Name     string  `json:"name"`
	Role     string  `json:"role"`
	Key      string  `json:"key"`
	DType    string  `json:"dtype"`
	Shape    []int64 `json:"shape"`
	Elements int64   `json:"elements"`
	Offset   int64   `json:"offset"`
}

type planOutput struct {
	ModelID string          `json:"model_id"`
	Shards  []string        `json:"shards"`
	Size    int64           `json:"size"`
	Tensors []planEntryJSON `json:"tensors"`
}

func planJSON(plan *convert.Plan) planOutput {
	out := planOutput{
		ModelID: plan.ModelID,
		Size:    plan.Size(),
		Tensors: make([]planEntryJSON, 0, len(plan.Entries)),
	}
	for _, shard := range plan.Shards {
		out.Shards = append(out.Shards, filepath.Base(shard))
	}
	for _, e := range plan.Entries {
		out.Tensors = append(out.Tensors, planEntryJSON{
			Index:    e.Index,
			Name:     e.Name,
			Role:     e.Role.String(),
			Key:      e.Key.String(),
			DType:    string(e.DType),
			Shape:    e.Shape,
			Elements: e.Elements,
			Offset:   e.Offset,
		})
	}
	return out
}

func formatShape(shape []int64) string {
	dims := make([]string, len(shape))
	for i, d := range shape {
		dims[i] = strconv.FormatInt(d, 10)
	}
	return "[" + strings.Join(dims, ", ") + "]"
}

func planTable(plan *convert.Plan) string {
	var buf bytes.Buffer
	table := tablewriter.NewWriter(&buf)

	table.SetHeader([]string{"#", "NAME", "ROLE", "KEY", "DTYPE", "SHAPE", "SIZE"})

	table.SetBorder(false)
	table.SetColumnSeparator("")
	table.SetHeaderLine(false)
	table.SetTablePadding("  ")
	table.SetNoWhiteSpace(true)

	table.SetColumnAlignment([]int{
		tablewriter.ALIGN_RIGHT, // #
		tablewriter.ALIGN_LEFT,  // NAME
		tablewriter.ALIGN_LEFT,  // ROLE
		tablewriter.ALIGN_LEFT,  // KEY
		tablewriter.ALIGN_LEFT,  // DTYPE
		tablewriter.ALIGN_LEFT,  // SHAPE
		tablewriter.ALIGN_LEFT,  // SIZE
	})
	table.SetHeaderAlignment(tablewriter.ALIGN_LEFT)

	for _, e := range plan.Entries {
		table.Append([]string{
			fmt.Sprintf("%d", e.Index),
			utils.SanitizeForLog(e.Name),
			e.Role.String(),
			e.Key.String(),
			utils.SanitizeForLog(string(e.DType)),
			formatShape(e.Shape),
			safetensors.FormatSize(4 * e.Elements),
		})
	}

	table.Render()
	return buf.String()
}
