// Command lambshm rewrites the shared-memory directory compiled into a
// tree of shared libraries and assembles the patched files into an overlay
// root ready for container layering.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io/fs"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/lambshm/lambshm/config"
	"github.com/lambshm/lambshm/locator"
	"github.com/lambshm/lambshm/overlay"
	"github.com/lambshm/lambshm/patch"
	"github.com/lambshm/lambshm/patcher"
)

// Exit codes by failure class
const (
	exitOK       = 0
	exitUsage    = 1
	exitNoMatch  = 2
	exitTooLong  = 3
	exitNotFound = 4
	exitWrite    = 5
	exitFatal    = 6
)

func printUsage() {
	fmt.Fprintf(flag.CommandLine.Output(), "Usage: %s [options]\n", os.Args[0])
	flag.PrintDefaults()
	os.Exit(exitUsage)
}

func main() {
	os.Exit(run())
}

// run carries the whole invocation so deferred cleanup, the logger flush
// included, happens before the process exits.
func run() int {
	var (
		searchIn, aux              arrayFlags
		shmDir, copyTo, configPath string
		parallel                   int
		dryRun, verbose            bool
	)

	flag.StringVar(&shmDir, "shm-dir", "", "Set the replacement shared memory directory (default from config)")
	flag.StringVar(&copyTo, "copy-to", "", "Set the destination root for the patched overlay")
	flag.StringVar(&configPath, "config", "", "Set the patch target config file (default built-in glibc targets)")
	flag.Var(&searchIn, "search-in", "Add a source root to search for libraries")
	flag.Var(&aux, "aux", "Add a pass-through file as source:dest[:mode]")
	flag.IntVar(&parallel, "parallel", 0, "Set the number of patch workers (0 = config value or one per CPU)")
	flag.BoolVar(&dryRun, "dry-run", false, "Validate and patch in memory without writing the overlay")
	flag.BoolVar(&verbose, "v", false, "Show debug details")
	flag.Usage = printUsage

	flag.Parse()

	if len(searchIn) == 0 {
		fmt.Fprintln(os.Stderr, "at least one -search-in root is required")
		printUsage()
	}
	if copyTo == "" && !dryRun {
		fmt.Fprintln(os.Stderr, "-copy-to is required unless -dry-run is set")
		printUsage()
	}

	auxFiles, err := parseAux(aux)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		printUsage()
	}

	cfg, err := config.LoadOrDefault(configPath)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return exitUsage
	}

	logger := buildLogger(verbose, cfg.LogLevel)
	defer logger.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	_, err = patcher.Patch(ctx, patcher.Options{
		SourceRoots: searchIn,
		ShmDir:      shmDir,
		DestRoot:    copyTo,
		Config:      cfg,
		Parallel:    parallel,
		DryRun:      dryRun,
		Aux:         auxFiles,
		Logger:      logger,
	})
	if err != nil {
		logger.Error("patch run failed", zap.Error(err))
		return exitCode(err)
	}
	return exitOK
}

// buildLogger prefers -v over the configured level; the flag is a debugging
// switch, the level a deployment default.
func buildLogger(verbose bool, level string) *zap.Logger {
	if verbose {
		logger, err := zap.NewDevelopment()
		if err != nil {
			return zap.NewNop()
		}
		return logger
	}
	conf := zap.NewProductionConfig()
	if level != "" {
		if lvl, err := zapcore.ParseLevel(level); err == nil {
			conf.Level = zap.NewAtomicLevelAt(lvl)
		}
	}
	logger, err := conf.Build()
	if err != nil {
		return zap.NewNop()
	}
	return logger
}

// parseAux splits source:dest[:mode] arguments; mode is octal.
func parseAux(args []string) ([]patcher.AuxFile, error) {
	files := make([]patcher.AuxFile, 0, len(args))
	for _, a := range args {
		parts := strings.Split(a, ":")
		if len(parts) < 2 || len(parts) > 3 {
			return nil, fmt.Errorf("invalid -aux value %q, want source:dest[:mode]", a)
		}
		f := patcher.AuxFile{Source: parts[0], Dest: parts[1]}
		if len(parts) == 3 {
			mode, err := strconv.ParseUint(parts[2], 8, 32)
			if err != nil {
				return nil, fmt.Errorf("invalid -aux mode %q: %v", parts[2], err)
			}
			f.Mode = fs.FileMode(mode)
		}
		files = append(files, f)
	}
	return files, nil
}

func exitCode(err error) int {
	var (
		noMatch  *patch.NoMatchError
		tooLong  *patch.ReplacementTooLongError
		badRepl  *patch.BadReplacementError
		notFound *locator.NotFoundError
		write    *overlay.WriteError
	)
	switch {
	case errors.As(err, &noMatch), errors.Is(err, patcher.ErrNothingPatched):
		return exitNoMatch
	case errors.As(err, &tooLong), errors.As(err, &badRepl):
		return exitTooLong
	case errors.As(err, &notFound):
		return exitNotFound
	case errors.As(err, &write):
		return exitWrite
	default:
		return exitFatal
	}
}
