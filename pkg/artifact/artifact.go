// Package artifact creates the output files of a conversion.
package artifact

import (
	"errors"
	"fmt"
	"io/fs"
	"os"

	"github.com/sirupsen/logrus"
)

var ErrArtifactExists = errors.New("artifact already exists")

// Create creates path for writing. An existing file at path is removed first
// when force is set; otherwise it is an ErrArtifactExists error. There is no
// atomic replace: once removed, the old artifact is gone even if the new one
// is never completed.
func Create(path string, force bool, log logrus.FieldLogger) (*os.File, error) {
	if log == nil {
		log = logrus.StandardLogger()
	}

	if _, err := os.Lstat(path); err == nil {
		if !force {
			return nil, fmt.Errorf("%w: %s", ErrArtifactExists, path)
		}
		if err := os.Remove(path); err != nil {
			return nil, fmt.Errorf("remove existing artifact: %w", err)
		}
		log.Warnf("%s will be overwritten", path)
	} else if !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("stat artifact: %w", err)
	}

	//nolint:gosec // G304: output paths are provided by the operator
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		if errors.Is(err, fs.ErrExist) {
			return nil, fmt.Errorf("%w: %s", ErrArtifactExists, path)
		}
		return nil, fmt.Errorf("create artifact: %w", err)
	}
	return f, nil
}
