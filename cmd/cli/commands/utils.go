package commands

import (
	"strconv"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"

	"github.com/gemmars/model-compiler/pkg/convert"
	"github.com/gemmars/model-compiler/pkg/progress"
)

func formatChunkSize(n int) string {
	return strconv.Itoa(n)
}

// options returns the conversion collaborators for cmd. Progress messages
// go to stderr so stdout stays readable.
func (s *settings) options(cmd *cobra.Command) convert.Options {
	opts := convert.Options{Log: s.log}
	if s.cfg.Progress {
		opts.Progress = cmd.ErrOrStderr()
	}
	return opts
}

// handleConvertError wraps err with message and reports it on the progress
// stream when one is open.
func handleConvertError(opts convert.Options, err error, message string) error {
	_ = progress.WriteError(opts.Progress, err.Error())
	return errors.Wrap(err, message)
}
