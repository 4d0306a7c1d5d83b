package patcher

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lambshm/lambshm/config"
	"github.com/lambshm/lambshm/patch"
)

func fakeELF(payload string) []byte {
	h := make([]byte, 64)
	copy(h, "\x7fELF")
	h[4] = 2   // ELFCLASS64
	h[5] = 1   // little endian
	h[6] = 1   // EV_CURRENT
	h[16] = 3  // ET_DYN
	h[18] = 62 // EM_X86_64
	return append(h, payload...)
}

func testConfig(optional bool) *config.Config {
	return &config.Config{
		ShmDir: "/tmp/shm/",
		Targets: []config.Target{
			{
				Pattern:  "lib*.so*",
				Optional: optional,
				Variants: []config.Variant{
					{Literal: "/dev/shm/", Kind: patch.KindSeparatorLiteral},
					{Literal: "/dev/shm/", Kind: patch.KindNamePrefix, Optional: true},
					{Literal: "/dev/shm", Kind: patch.KindDirectoryPrefix, Optional: true},
				},
			},
		},
	}
}

func writeLib(t *testing.T, root, name, payload string) string {
	t.Helper()
	path := filepath.Join(root, "lib64", name)
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, fakeELF(payload), 0o644))
	return path
}

func TestPatch(t *testing.T) {
	root := t.TempDir()
	pthread := writeLib(t, root, "libpthread-2.26.so", "\x00/dev/shm/\x00\x00/dev/shm/sem.%s\x00")
	libc := writeLib(t, root, "libc-2.26.so", "\x00/dev/shm/\x00")
	dest := filepath.Join(t.TempDir(), "overlay")

	m, err := Patch(context.Background(), Options{
		SourceRoots: []string{root},
		DestRoot:    dest,
		Config:      testConfig(false),
	})
	require.NoError(t, err)
	require.Equal(t, 2, m.Len())

	for _, src := range []string{pthread, libc} {
		out := filepath.Join(dest, src[1:])
		b, err := os.ReadFile(out)
		require.NoError(t, err)

		orig, err := os.ReadFile(src)
		require.NoError(t, err)
		assert.Equal(t, len(orig), len(b), "patched length must equal original length")
		assert.NotContains(t, string(b), "/dev/shm", "original path must be gone")
		assert.Contains(t, string(b), "/tmp/shm/")

		info, err := os.Stat(out)
		require.NoError(t, err)
		assert.Equal(t, os.FileMode(0o555), info.Mode().Perm())
	}

	// trailing data of the sem pattern survives
	b, err := os.ReadFile(filepath.Join(dest, pthread[1:]))
	require.NoError(t, err)
	assert.True(t, bytes.Contains(b, []byte("/tmp/shm/sem.%s\x00")), "sem tail must be preserved")

	// sources are untouched
	orig, err := os.ReadFile(libc)
	require.NoError(t, err)
	assert.True(t, bytes.Contains(orig, []byte("/dev/shm/")))
}

func TestPatch_NoMatchAborts(t *testing.T) {
	root := t.TempDir()
	writeLib(t, root, "libc-2.26.so", "\x00/dev/shm/\x00")
	writeLib(t, root, "libpthread-2.26.so", "\x00no shared memory here\x00")
	dest := filepath.Join(t.TempDir(), "overlay")

	_, err := Patch(context.Background(), Options{
		SourceRoots: []string{root},
		DestRoot:    dest,
		Config:      testConfig(false),
	})
	var noMatch *patch.NoMatchError
	require.ErrorAs(t, err, &noMatch)

	_, err = os.Stat(dest)
	assert.True(t, os.IsNotExist(err), "aborted run must not write a partial overlay")
}

func TestPatch_OptionalLibrarySkipped(t *testing.T) {
	root := t.TempDir()
	libc := writeLib(t, root, "libc-2.26.so", "\x00/dev/shm/\x00")
	writeLib(t, root, "libpthread-2.26.so", "\x00no shared memory here\x00")
	dest := filepath.Join(t.TempDir(), "overlay")

	m, err := Patch(context.Background(), Options{
		SourceRoots: []string{root},
		DestRoot:    dest,
		Config:      testConfig(true),
	})
	require.NoError(t, err)
	assert.Equal(t, 1, m.Len())
	_, ok := m.Entry(libc)
	assert.True(t, ok)
}

func TestPatch_ReplacementTooLong(t *testing.T) {
	root := t.TempDir()
	writeLib(t, root, "libc-2.26.so", "\x00/dev/shm/\x00")
	dest := filepath.Join(t.TempDir(), "overlay")

	_, err := Patch(context.Background(), Options{
		SourceRoots: []string{root},
		ShmDir:      "/tmp/sharedmem/",
		DestRoot:    dest,
		Config:      testConfig(false),
	})
	var tooLong *patch.ReplacementTooLongError
	require.ErrorAs(t, err, &tooLong)
	assert.Equal(t, 10, tooLong.Span)

	_, statErr := os.Stat(dest)
	assert.True(t, os.IsNotExist(statErr))
}

func TestPatch_Idempotent(t *testing.T) {
	root := t.TempDir()
	writeLib(t, root, "libc-2.26.so", "\x00/dev/shm/\x00")
	dest1 := filepath.Join(t.TempDir(), "first")
	dest2 := filepath.Join(t.TempDir(), "second")

	_, err := Patch(context.Background(), Options{
		SourceRoots: []string{root},
		DestRoot:    dest1,
		Config:      testConfig(false),
	})
	require.NoError(t, err)

	// re-patching the patched tree is a no-op success
	m, err := Patch(context.Background(), Options{
		SourceRoots: []string{dest1},
		DestRoot:    dest2,
		Config:      testConfig(false),
	})
	require.NoError(t, err)
	require.Equal(t, 1, m.Len())

	first, err := os.ReadFile(filepath.Join(dest1, root[1:], "lib64", "libc-2.26.so"))
	require.NoError(t, err)
	paths := m.Paths()
	e, _ := m.Entry(paths[0])
	assert.Equal(t, first, e.Data)
	assert.Empty(t, e.Offsets, "nothing to rewrite on the second pass")
}

func TestPatch_NothingPatched(t *testing.T) {
	root := t.TempDir()
	writeLib(t, root, "libpthread-2.26.so", "\x00no shared memory here\x00")

	_, err := Patch(context.Background(), Options{
		SourceRoots: []string{root},
		DestRoot:    filepath.Join(t.TempDir(), "overlay"),
		Config:      testConfig(true),
	})
	require.ErrorIs(t, err, ErrNothingPatched)
}

func TestPatch_DryRun(t *testing.T) {
	root := t.TempDir()
	writeLib(t, root, "libc-2.26.so", "\x00/dev/shm/\x00")
	dest := filepath.Join(t.TempDir(), "overlay")

	m, err := Patch(context.Background(), Options{
		SourceRoots: []string{root},
		DestRoot:    dest,
		Config:      testConfig(false),
		DryRun:      true,
	})
	require.NoError(t, err)
	assert.Equal(t, 1, m.Len())

	_, statErr := os.Stat(dest)
	assert.True(t, os.IsNotExist(statErr), "dry run must not write")
}

func TestPatch_AuxFiles(t *testing.T) {
	root := t.TempDir()
	writeLib(t, root, "libc-2.26.so", "\x00/dev/shm/\x00")

	wrapper := filepath.Join(t.TempDir(), "shm-init")
	require.NoError(t, os.WriteFile(wrapper, []byte("#!/bin/sh\nmkdir -p -m 1777 \"$LAMBSHM_SHM_DIR\"\nexec \"$@\"\n"), 0o644))

	dest := filepath.Join(t.TempDir(), "overlay")
	m, err := Patch(context.Background(), Options{
		SourceRoots: []string{root},
		DestRoot:    dest,
		Config:      testConfig(false),
		Aux: []AuxFile{
			{Source: wrapper, Dest: "/usr/local/bin/shm-init", Mode: 0o755},
		},
	})
	require.NoError(t, err)
	assert.Equal(t, 2, m.Len())

	info, err := os.Stat(filepath.Join(dest, "usr", "local", "bin", "shm-init"))
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o755), info.Mode().Perm())
}

func TestPatch_Cancelled(t *testing.T) {
	root := t.TempDir()
	writeLib(t, root, "libc-2.26.so", "\x00/dev/shm/\x00")
	dest := filepath.Join(t.TempDir(), "overlay")

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := Patch(ctx, Options{
		SourceRoots: []string{root},
		DestRoot:    dest,
		Config:      testConfig(false),
	})
	require.ErrorIs(t, err, context.Canceled)

	// a cancelled run stops before assembly, leaving no partial overlay
	_, statErr := os.Stat(dest)
	assert.True(t, os.IsNotExist(statErr))
}

func TestPatch_BadOptions(t *testing.T) {
	_, err := Patch(context.Background(), Options{DestRoot: "/x", Config: testConfig(false)})
	assert.Error(t, err, "source roots are required")

	_, err = Patch(context.Background(), Options{
		SourceRoots: []string{t.TempDir()},
		Config:      testConfig(false),
	})
	assert.Error(t, err, "destination root is required without dry-run")
}
