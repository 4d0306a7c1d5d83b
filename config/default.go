package config

import "github.com/lambshm/lambshm/patch"

// DefaultShmDir matches /dev/shm/ in length so every glibc variant,
// including the ones with trailing data, accepts it.
const DefaultShmDir = "/tmp/shm/"

// Default describes the glibc family. Which of the dynamic loader, the
// threading library and libc proper embeds the shared-memory directory
// moved between glibc versions, so every target is optional and the run
// fails only when no library at all contained the path.
func Default() *Config {
	variants := []Variant{
		// The canonical directory with its separator. Every variant is
		// optional here because no single glibc build embeds all three
		// forms; strict per-variant presence is opt-in via a config
		// file.
		{Literal: "/dev/shm/", Kind: patch.KindSeparatorLiteral, Optional: true},
		// Bare mount-point form used by shm-directory probing.
		{Literal: "/dev/shm", Kind: patch.KindDirectoryPrefix, Optional: true},
		// Prefix of longer strings such as the sem_open filename
		// pattern; the tail after the directory is preserved.
		{Literal: "/dev/shm/", Kind: patch.KindNamePrefix, Optional: true},
	}
	return &Config{
		ShmDir: DefaultShmDir,
		Targets: []Target{
			{Pattern: "ld-linux*.so*", Optional: true, Variants: variants},
			{Pattern: "libpthread*.so*", Optional: true, Variants: variants},
			{Pattern: "libc.so*", Optional: true, Variants: variants},
			{Pattern: "libc-*.so*", Optional: true, Variants: variants},
			{Pattern: "librt*.so*", Optional: true, Variants: variants},
		},
	}
}
