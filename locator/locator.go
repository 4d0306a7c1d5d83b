// Package locator enumerates candidate shared libraries under a source
// root. Candidates are selected by filename pattern first and by ELF
// header second, so unrelated binaries are never string-scanned.
package locator

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/charlievieth/fastwalk"

	"github.com/lambshm/lambshm/config"
	"github.com/lambshm/lambshm/pkg/elfident"
)

// NotFoundError reports a missing or unreadable source root or library.
type NotFoundError struct {
	Path string
	Err  error
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("locator: %s: %v", e.Path, e.Err)
}

func (e *NotFoundError) Unwrap() error { return e.Err }

// Target is one discovered library, its content loaded once. The original
// file is never written; all patching happens on this copy.
type Target struct {
	// Path is the absolute path of the library under the source root,
	// with symlinks resolved.
	Path   string
	Data   []byte
	Format elfident.FormatTag
	Rule   config.Target
}

// WalkFunc receives each discovered target. Callbacks may run concurrently
// when Locate is given more than one worker; returning an error cancels
// the walk.
type WalkFunc func(*Target) error

// Locate walks root and calls fn for every file matching one of the target
// patterns that identifies as an ELF shared object. Symlinks are resolved
// and deduplicated; links escaping the root are skipped the same way the
// walk skips unrelated files.
func Locate(ctx context.Context, root string, targets []config.Target, workers int, fn WalkFunc) error {
	info, err := os.Stat(root)
	if err != nil {
		return &NotFoundError{Path: root, Err: err}
	}
	if !info.IsDir() {
		return &NotFoundError{Path: root, Err: fmt.Errorf("not a directory")}
	}
	root, err = filepath.Abs(root)
	if err != nil {
		return &NotFoundError{Path: root, Err: err}
	}
	// Resolve the root itself so the escape check below compares
	// canonical paths.
	if resolved, err := filepath.EvalSymlinks(root); err == nil {
		root = resolved
	}

	var (
		mu   sync.Mutex
		seen = make(map[string]bool)
	)
	// Follow descends symlinked directories the way the runtime linker
	// search path expects (e.g. /lib64 -> usr/lib64); fastwalk detects
	// cycles itself.
	conf := fastwalk.Config{NumWorkers: workers, Follow: true}
	werr := fastwalk.Walk(&conf, root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			// Unreadable entries are skipped; the root itself was
			// checked above.
			return nil
		}
		if cerr := ctx.Err(); cerr != nil {
			return cerr
		}
		if d.IsDir() {
			return nil
		}

		rule, ok := matchTarget(targets, root, path)
		if !ok {
			return nil
		}

		resolved := path
		if d.Type()&fs.ModeSymlink != 0 {
			resolved, err = filepath.EvalSymlinks(path)
			if err != nil {
				return nil
			}
			if !strings.HasPrefix(resolved, root+string(filepath.Separator)) {
				return nil // link escapes the source root
			}
			if fi, err := os.Stat(resolved); err != nil || fi.IsDir() {
				return nil
			}
		}
		mu.Lock()
		dup := seen[resolved]
		seen[resolved] = true
		mu.Unlock()
		if dup {
			return nil
		}

		t, err := load(resolved, rule)
		if err != nil {
			// Format rejections are expected (linker scripts, static
			// archives); a matched library that exists but cannot be
			// read must abort instead of silently thinning the
			// overlay.
			var notFound *NotFoundError
			if errors.As(err, &notFound) {
				return err
			}
			return nil
		}
		return fn(t)
	})
	if werr != nil {
		return werr
	}
	return nil
}

func matchTarget(targets []config.Target, root, path string) (config.Target, bool) {
	rel, err := filepath.Rel(root, path)
	if err != nil {
		return config.Target{}, false
	}
	base := filepath.Base(path)
	for _, t := range targets {
		name := base
		if strings.ContainsRune(t.Pattern, '/') {
			name = filepath.ToSlash(rel)
		}
		if ok, err := doublestar.Match(t.Pattern, name); err == nil && ok {
			return t, true
		}
	}
	return config.Target{}, false
}

func load(path string, rule config.Target) (*Target, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, &NotFoundError{Path: path, Err: err}
	}
	defer f.Close()

	header := make([]byte, elfident.HeaderLen)
	if _, err := io.ReadFull(f, header); err != nil {
		return nil, elfident.ErrNotELF
	}
	tag, err := elfident.Identify(header)
	if err != nil {
		return nil, err
	}

	rest, err := io.ReadAll(f)
	if err != nil {
		return nil, &NotFoundError{Path: path, Err: err}
	}
	return &Target{
		Path:   path,
		Data:   append(header, rest...),
		Format: tag,
		Rule:   rule,
	}, nil
}
