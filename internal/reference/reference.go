// Package reference implements pointer descriptors: small JSON records that
// stand in for large binary artifacts without copying them.
package reference

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/spachava753/sortbatch/internal/models"
	"github.com/spachava753/sortbatch/internal/util"
)

// Ext is the filename suffix of a pointer descriptor.
const Ext = ".prv"

// ErrNotFound is returned when a descriptor is unreadable, malformed, or names
// a path that does not exist.
var ErrNotFound = fmt.Errorf("%w: descriptor does not resolve", models.ErrReferenceResolution)

// Descriptor is the on-disk record.
type Descriptor struct {
	OriginalPath string `json:"original_path"`
	OriginalSize int64  `json:"original_size"`
	Label        string `json:"label,omitempty"`
}

// Reference is a loaded descriptor together with the path it was loaded from.
type Reference struct {
	Path       string
	Descriptor Descriptor
}

// PathFor returns the descriptor path conventionally paired with an artifact.
func PathFor(artifact string) string {
	return artifact + Ext
}

// IsDescriptor reports whether name looks like a pointer descriptor.
func IsDescriptor(name string) bool {
	return strings.HasSuffix(name, Ext)
}

// Create writes a descriptor at path naming target. The target must already
// exist; the descriptor is renamed into place only once fully written.
func Create(path, target, label string) (*Reference, error) {
	abs, err := filepath.Abs(target)
	if err != nil {
		return nil, fmt.Errorf("resolving %s: %w", target, err)
	}
	info, err := os.Stat(abs)
	if err != nil {
		return nil, fmt.Errorf("%w: target %s: %v", ErrNotFound, abs, err)
	}
	if info.IsDir() {
		return nil, fmt.Errorf("%w: target %s is a directory", ErrNotFound, abs)
	}

	ref := &Reference{
		Path: path,
		Descriptor: Descriptor{
			OriginalPath: abs,
			OriginalSize: info.Size(),
			Label:        label,
		},
	}
	if err := util.WriteJSONAtomic(path, ref.Descriptor); err != nil {
		return nil, fmt.Errorf("writing descriptor %s: %w", path, err)
	}
	return ref, nil
}

// Load reads and parses a descriptor without checking its target.
func Load(path string) (*Reference, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("%w: reading %s: %v", ErrNotFound, path, err)
	}
	var d Descriptor
	if err := json.Unmarshal(data, &d); err != nil {
		return nil, fmt.Errorf("%w: parsing %s: %v", ErrNotFound, path, err)
	}
	if d.OriginalPath == "" {
		return nil, fmt.Errorf("%w: %s has no original_path", ErrNotFound, path)
	}
	return &Reference{Path: path, Descriptor: d}, nil
}

// Resolve loads the descriptor at path and returns the artifact path it names.
func Resolve(path string) (string, error) {
	ref, err := Load(path)
	if err != nil {
		return "", err
	}
	return ref.Resolve()
}

// Resolve returns the artifact path, failing if it no longer exists.
func (r *Reference) Resolve() (string, error) {
	f, err := os.Open(r.Descriptor.OriginalPath)
	if err != nil {
		return "", fmt.Errorf("%w: %s -> %s: %v", ErrNotFound, r.Path, r.Descriptor.OriginalPath, err)
	}
	_ = f.Close()
	return r.Descriptor.OriginalPath, nil
}

// Relocate moves the artifact into dir and leaves a symlink at the original
// path, so holders of the original path keep working. Relocating an artifact
// that already lives in dir is a no-op. It returns the artifact's new path.
func (r *Reference) Relocate(dir string) (string, error) {
	orig := r.Descriptor.OriginalPath
	linfo, err := os.Lstat(orig)
	if err != nil {
		return "", fmt.Errorf("%w: %s: %v", ErrNotFound, orig, err)
	}

	target := orig
	isLink := linfo.Mode()&fs.ModeSymlink != 0
	if isLink {
		target, err = filepath.EvalSymlinks(orig)
		if err != nil {
			return "", fmt.Errorf("%w: %s: %v", ErrNotFound, orig, err)
		}
	}

	absDir, err := filepath.Abs(dir)
	if err != nil {
		return "", err
	}
	if err := os.MkdirAll(absDir, 0755); err != nil {
		return "", fmt.Errorf("creating relocation dir: %w", err)
	}
	if resolvedDir, err := filepath.EvalSymlinks(absDir); err == nil && filepath.Dir(target) == resolvedDir {
		return target, nil
	}

	dest := filepath.Join(absDir, filepath.Base(orig))
	if err := util.MoveFile(target, dest); err != nil {
		return "", fmt.Errorf("moving %s: %w", target, err)
	}
	if isLink {
		if err := os.Remove(orig); err != nil {
			return dest, fmt.Errorf("removing stale link %s: %w", orig, err)
		}
	}
	if err := os.Symlink(dest, orig); err != nil {
		// Put the artifact back rather than leave the descriptor dangling.
		if mvErr := util.MoveFile(dest, orig); mvErr != nil {
			return dest, errors.Join(fmt.Errorf("linking %s: %w", orig, err), mvErr)
		}
		return orig, fmt.Errorf("linking %s: %w", orig, err)
	}
	return dest, nil
}

// Discard deletes the artifact, any link at its original path, and the
// descriptor itself.
func (r *Reference) Discard() error {
	orig := r.Descriptor.OriginalPath
	var errs []error

	if target, err := filepath.EvalSymlinks(orig); err == nil && target != orig {
		if err := os.Remove(target); err != nil && !errors.Is(err, fs.ErrNotExist) {
			errs = append(errs, err)
		}
	}
	if err := os.Remove(orig); err != nil && !errors.Is(err, fs.ErrNotExist) {
		errs = append(errs, err)
	}
	if err := os.Remove(r.Path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		errs = append(errs, err)
	}

	if len(errs) > 0 {
		return fmt.Errorf("discarding %s: %w", r.Path, errors.Join(errs...))
	}
	return nil
}
