package patch

import (
	"bytes"
	"errors"
	"testing"
)

func TestCheckPath(t *testing.T) {
	tests := []struct {
		name string
		path string
		ok   bool
	}{
		{"absolute", "/tmp/shm/", true},
		{"empty", "", false},
		{"relative", "tmp/shm", false},
		{"embedded NUL", "/tmp/\x00shm", false},
		{"control byte", "/tmp/\tshm", false},
		{"non-ascii", "/tmp/shm\x80", false},
	}
	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			err := CheckPath(test.path)
			if test.ok && err != nil {
				t.Errorf("CheckPath(%q) = %v, want nil", test.path, err)
			}
			if !test.ok && err == nil {
				t.Errorf("CheckPath(%q) = nil, want error", test.path)
			}
		})
	}
}

func TestValidate_CompleteString(t *testing.T) {
	m := Match{Offset: 1, Literal: []byte("/dev/shm/"), Span: 10, Kind: KindSeparatorLiteral}

	p, err := Validate("libc.so.6", m, []byte("/tmp/shm/"))
	if err != nil {
		t.Fatalf("Validate error: %v", err)
	}
	if p.Region != 10 {
		t.Errorf("region = %d, want 10", p.Region)
	}
	if !bytes.Equal(p.Bytes, []byte("/tmp/shm/\x00")) {
		t.Errorf("plan bytes = %q", p.Bytes)
	}

	// shorter replacements pad the remainder of the span
	p, err = Validate("libc.so.6", m, []byte("/tmp/x/"))
	if err != nil {
		t.Fatalf("Validate error: %v", err)
	}
	if !bytes.Equal(p.Bytes, []byte("/tmp/x/\x00\x00\x00")) {
		t.Errorf("plan bytes = %q", p.Bytes)
	}
}

func TestValidate_TooLong(t *testing.T) {
	m := Match{Offset: 1024, Literal: []byte("/dev/shm/"), Span: 10, Kind: KindSeparatorLiteral}

	_, err := Validate("libc.so.6", m, []byte("/tmp/sharedmem/"))
	var tooLong *ReplacementTooLongError
	if !errors.As(err, &tooLong) {
		t.Fatalf("Validate error = %v, want ReplacementTooLongError", err)
	}
	if tooLong.Offset != 1024 || tooLong.Span != 10 || tooLong.Need != 16 {
		t.Errorf("error fields = %+v", tooLong)
	}
	if tooLong.Library != "libc.so.6" {
		t.Errorf("library = %q", tooLong.Library)
	}
}

func TestValidate_NamePrefix(t *testing.T) {
	m := Match{Offset: 64, Literal: []byte("/dev/shm/"), Span: 16, Kind: KindNamePrefix}

	p, err := Validate("libpthread.so.0", m, []byte("/tmp/shm/"))
	if err != nil {
		t.Fatalf("Validate error: %v", err)
	}
	if p.Region != 9 {
		t.Errorf("region = %d, want 9", p.Region)
	}
	if !bytes.Equal(p.Bytes, []byte("/tmp/shm/")) {
		t.Errorf("plan bytes = %q", p.Bytes)
	}

	var tooLong *ReplacementTooLongError
	if _, err = Validate("libpthread.so.0", m, []byte("/tmp/sharedmem/")); !errors.As(err, &tooLong) {
		t.Errorf("long prefix error = %v, want ReplacementTooLongError", err)
	}

	var bad *BadReplacementError
	if _, err = Validate("libpthread.so.0", m, []byte("/tmp/x/")); !errors.As(err, &bad) {
		t.Errorf("short prefix error = %v, want BadReplacementError", err)
	}
}

func TestAlreadySatisfied(t *testing.T) {
	v := Variant{Literal: []byte("/dev/shm/"), Kind: KindSeparatorLiteral}

	patched := image("\x00/tmp/shm/\x00")
	if !AlreadySatisfied(patched, v, "/tmp/shm/") {
		t.Error("patched image not recognized as satisfied")
	}
	if AlreadySatisfied(image("\x00/dev/shm/\x00"), v, "/tmp/shm/") {
		t.Error("unpatched image reported satisfied")
	}
	// same-path replacement is never "already satisfied"
	if AlreadySatisfied(image("\x00/dev/shm/\x00"), v, "/dev/shm/") {
		t.Error("identity replacement reported satisfied")
	}
}
