package dataset

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"

	"github.com/spachava753/sortbatch/internal/models"
)

// unitPattern matches the unit index embedded in raw file and directory names,
// e.g. 20161205_JZ1_nt3.mda or 20161205_JZ1_04.nt3.mnt.
var unitPattern = regexp.MustCompile(`(?i)(?:^|[._])nt(\d+)(?:\.mda|\.mnt)?$`)

// UnitIndexFromName extracts the unit index from a raw file or directory name.
func UnitIndexFromName(name string) (int, bool) {
	m := unitPattern.FindStringSubmatch(name)
	if m == nil {
		return 0, false
	}
	idx, err := strconv.Atoi(m[1])
	if err != nil || idx < 1 {
		return 0, false
	}
	return idx, true
}

// EpochName strips directory and extension suffixes from an epoch path.
func EpochName(path string) string {
	name := filepath.Base(path)
	for _, ext := range []string{".mda", ".mnt"} {
		name = strings.TrimSuffix(name, ext)
	}
	return name
}

// ParamsFile is the dataset parameter record shared by an epoch and a unit directory.
const ParamsFile = "params.json"

// Params is the dataset parameter record.
type Params struct {
	SampleRate float64 `json:"samplerate"`
}

// ReadParams reads params.json from dir. A missing file reports ok=false.
func ReadParams(dir string) (Params, bool, error) {
	data, err := os.ReadFile(filepath.Join(dir, ParamsFile))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return Params{}, false, nil
		}
		return Params{}, false, err
	}
	var p Params
	if err := json.Unmarshal(data, &p); err != nil {
		return Params{}, false, fmt.Errorf("%w: %s: %v", models.ErrArtifactCorrupt, filepath.Join(dir, ParamsFile), err)
	}
	if p.SampleRate <= 0 {
		return Params{}, false, fmt.Errorf("%w: %s: samplerate must be positive", models.ErrArtifactCorrupt, filepath.Join(dir, ParamsFile))
	}
	return p, true, nil
}
