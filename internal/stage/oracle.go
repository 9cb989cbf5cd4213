package stage

import (
	"encoding/json"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/spachava753/sortbatch/internal/mda"
	"github.com/spachava753/sortbatch/internal/reference"
)

// Oracle answers whether an artifact is present and usable.
type Oracle interface {
	Present(path string) bool
}

// FSOracle inspects the filesystem. An artifact that exists but fails to parse
// is reported absent so the stage that makes it runs again.
type FSOracle struct{}

// Present implements Oracle.
func (FSOracle) Present(path string) bool {
	target := path
	if reference.IsDescriptor(path) {
		resolved, err := reference.Resolve(path)
		if err != nil {
			if _, statErr := os.Lstat(path); statErr == nil {
				slog.Warn("descriptor does not resolve, treating as absent", "path", path, "error", err)
			}
			return false
		}
		target = resolved
	}

	info, err := os.Stat(target)
	if err != nil || info.IsDir() || info.Size() == 0 {
		return false
	}

	switch strings.ToLower(filepath.Ext(target)) {
	case ".mda":
		if _, err := mda.ReadHeaderFile(target); err != nil {
			slog.Warn("artifact corrupt, treating as absent", "path", target, "error", err)
			return false
		}
	case ".json":
		data, err := os.ReadFile(target)
		if err != nil || !json.Valid(data) {
			slog.Warn("artifact corrupt, treating as absent", "path", target)
			return false
		}
	}
	return true
}
