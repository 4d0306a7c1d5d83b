// Package patcher wires the locator, scanner, validator and writer into
// the single entry point consumed by the CLI: locate the libraries under
// the source roots, rewrite their shared-memory path and assemble the
// overlay tree.
package patcher

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"sync"

	"go.uber.org/zap"

	"github.com/lambshm/lambshm/config"
	"github.com/lambshm/lambshm/locator"
	"github.com/lambshm/lambshm/overlay"
	"github.com/lambshm/lambshm/patch"
)

// ErrNothingPatched reports a run in which no library contained the
// shared-memory path at all. A silent no-op would defeat the tool, so this
// aborts the run the same way a per-library miss does.
var ErrNothingPatched = errors.New("patcher: no library contained the shared-memory path")

// AuxFile is a pass-through file copied into the overlay unmodified, for
// example the bootstrap wrapper executable.
type AuxFile struct {
	Source string
	// Dest is the absolute path inside the overlay.
	Dest string
	Mode fs.FileMode
}

// Options configures one run.
type Options struct {
	// SourceRoots are the directories searched for target libraries.
	SourceRoots []string
	// ShmDir overrides the configured replacement directory.
	ShmDir string
	// DestRoot receives the overlay tree. Required unless DryRun.
	DestRoot string
	// Config defaults to the built-in glibc description.
	Config *config.Config
	// Parallel bounds the per-library workers; 0 falls back to the
	// configured value, which itself defaults to one per CPU.
	Parallel int
	// DryRun runs everything except assembly.
	DryRun bool
	Aux    []AuxFile
	Logger *zap.Logger
}

// Patch locates, patches and assembles. Any validation failure aborts the
// whole run before assembly begins, so a failed run never leaves a partial
// destination root; the source tree is never modified in any case.
func Patch(ctx context.Context, opts Options) (*overlay.Manifest, error) {
	log := opts.Logger
	if log == nil {
		log = zap.NewNop()
	}
	cfg := opts.Config
	if cfg == nil {
		var err error
		if cfg, err = config.LoadOrDefault(""); err != nil {
			return nil, err
		}
	}
	shmDir := opts.ShmDir
	if shmDir == "" {
		shmDir = cfg.ShmDir
	}
	if err := patch.CheckPath(shmDir); err != nil {
		return nil, err
	}
	if len(opts.SourceRoots) == 0 {
		return nil, fmt.Errorf("patcher: no source roots given")
	}
	if opts.DestRoot == "" && !opts.DryRun {
		return nil, fmt.Errorf("patcher: no destination root given")
	}
	parallel := opts.Parallel
	if parallel == 0 {
		parallel = cfg.Parallel
	}

	manifest := overlay.NewManifest(shmDir)
	var (
		mu                 sync.Mutex
		patched, satisfied int
		skipped            int
	)
	for _, root := range opts.SourceRoots {
		err := locator.Locate(ctx, root, cfg.Targets, parallel, func(t *locator.Target) error {
			out, err := patchLibrary(t, shmDir)
			if err != nil {
				return err
			}
			log.Debug("library located",
				zap.String("library", t.Path),
				zap.String("format", t.Format.String()))

			mu.Lock()
			defer mu.Unlock()
			switch {
			case out.skipped:
				skipped++
				log.Info("no shared-memory path, skipping optional library",
					zap.String("library", t.Path))
				return nil
			case out.satisfied:
				satisfied++
				log.Info("library already satisfied",
					zap.String("library", t.Path),
					zap.String("shm_dir", shmDir))
			default:
				patched++
				log.Info("patched library",
					zap.String("library", t.Path),
					zap.String("shm_dir", shmDir),
					zap.Int64s("offsets", out.offsets))
			}
			return manifest.Add(t.Path, overlay.Entry{
				Data:    out.data,
				Mode:    overlay.LibraryMode,
				Offsets: out.offsets,
			})
		})
		if err != nil {
			return nil, err
		}
	}

	if patched+satisfied == 0 {
		return nil, ErrNothingPatched
	}

	for _, a := range opts.Aux {
		data, err := os.ReadFile(a.Source)
		if err != nil {
			return nil, &locator.NotFoundError{Path: a.Source, Err: err}
		}
		mode := a.Mode
		if mode == 0 {
			mode = 0o755
		}
		if err := manifest.Add(a.Dest, overlay.Entry{Data: data, Mode: mode}); err != nil {
			return nil, err
		}
	}

	if opts.DryRun {
		log.Info("dry run, overlay not assembled",
			zap.Int("patched", patched),
			zap.Int("satisfied", satisfied),
			zap.Int("skipped", skipped))
		return manifest, nil
	}
	if err := manifest.Assemble(opts.DestRoot); err != nil {
		return nil, err
	}
	log.Info("overlay assembled",
		zap.String("dest", opts.DestRoot),
		zap.Int("files", manifest.Len()),
		zap.Int("patched", patched),
		zap.Int("satisfied", satisfied),
		zap.Int("skipped", skipped))
	return manifest, nil
}

type outcome struct {
	data      []byte
	offsets   []int64
	satisfied bool
	skipped   bool
}

// patchLibrary runs scan, validate and apply for one library. Variant
// presence rules: a mandatory variant missing from a library that matched
// other variants is an error; a library where nothing matched is an error
// unless its target is optional or the replacement is already in place.
func patchLibrary(t *locator.Target, shmDir string) (*outcome, error) {
	var (
		plans      []patch.Plan
		missed     []patch.Variant
		matchedAny bool
		already    bool
	)
	for _, v := range t.Rule.PatchVariants() {
		ms := patch.Scan(t.Data, v)
		if len(ms) == 0 {
			if patch.AlreadySatisfied(t.Data, v, shmDir) {
				already = true
			} else if !v.Optional {
				missed = append(missed, v)
			}
			continue
		}
		matchedAny = true
		repl := v.ReplacementFor(shmDir)
		for _, m := range ms {
			p, err := patch.Validate(t.Path, m, repl)
			if err != nil {
				return nil, err
			}
			plans = append(plans, p)
		}
	}

	if !matchedAny {
		if already {
			return &outcome{data: t.Data, satisfied: true}, nil
		}
		if len(missed) > 0 && !t.Rule.Optional {
			return nil, &patch.NoMatchError{
				Library: t.Path,
				Literal: string(missed[0].Literal),
			}
		}
		return &outcome{skipped: true}, nil
	}
	if len(missed) > 0 {
		// Some variants hit, a mandatory one did not: a library
		// version mismatch worth failing loudly over.
		return nil, &patch.NoMatchError{
			Library: t.Path,
			Literal: string(missed[0].Literal),
		}
	}

	res, err := patch.Apply(t.Path, t.Data, plans)
	if err != nil {
		return nil, err
	}
	return &outcome{data: res.Data, offsets: res.Applied}, nil
}
