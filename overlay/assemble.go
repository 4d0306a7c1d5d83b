package overlay

import (
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/bytedance/sonic"
	"golang.org/x/sys/unix"
)

// WriteError reports a destination filesystem failure. Assembly may have
// produced partial output by then; the non-nil error is what keeps a half
// written overlay from being mistaken for success.
type WriteError struct {
	Path string
	Err  error
}

func (e *WriteError) Error() string {
	return fmt.Sprintf("overlay: write %s: %v", e.Path, e.Err)
}

func (e *WriteError) Unwrap() error { return e.Err }

type manifestFile struct {
	ShmDir  string         `json:"shm_dir"`
	Created time.Time      `json:"created"`
	Files   []manifestItem `json:"files"`
}

type manifestItem struct {
	Path    string  `json:"path"`
	Mode    string  `json:"mode"`
	Size    int     `json:"size"`
	Offsets []int64 `json:"patched_offsets,omitempty"`
}

// Assemble materializes the manifest under dest, mirroring each entry's
// original absolute path, and writes the manifest sidecar at the dest
// root. The manifest freezes on entry.
func (m *Manifest) Assemble(dest string) error {
	entries := m.freeze()

	if err := os.MkdirAll(dest, 0o755); err != nil {
		return &WriteError{Path: dest, Err: err}
	}
	if err := unix.Access(dest, unix.W_OK); err != nil {
		return &WriteError{Path: dest, Err: err}
	}

	side := manifestFile{ShmDir: m.ShmDir, Created: time.Now().UTC()}
	for _, path := range m.Paths() {
		e := entries[path]
		mode := e.Mode
		if len(e.Offsets) > 0 {
			mode = LibraryMode
		}
		if mode == 0 {
			mode = 0o644
		}
		if err := writeFile(dest, path, e.Data, mode); err != nil {
			return err
		}
		side.Files = append(side.Files, manifestItem{
			Path:    path,
			Mode:    fmt.Sprintf("%04o", mode),
			Size:    len(e.Data),
			Offsets: e.Offsets,
		})
	}

	b, err := sonic.MarshalIndent(side, "", "  ")
	if err != nil {
		return &WriteError{Path: ManifestName, Err: err}
	}
	target := filepath.Join(dest, ManifestName)
	if err := os.WriteFile(target, append(b, '\n'), 0o644); err != nil {
		return &WriteError{Path: target, Err: err}
	}
	return nil
}

func writeFile(dest, abs string, data []byte, mode fs.FileMode) error {
	target := filepath.Join(dest, strings.TrimPrefix(abs, "/"))
	if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
		return &WriteError{Path: target, Err: err}
	}
	// Write then chmod: the final mode may be read-only and must not be
	// narrowed by umask.
	if err := os.WriteFile(target, data, 0o600); err != nil {
		return &WriteError{Path: target, Err: err}
	}
	if err := os.Chmod(target, mode); err != nil {
		return &WriteError{Path: target, Err: err}
	}
	return nil
}
