package patch

import (
	"fmt"
	"sort"
)

// Result is the outcome of applying plans to a library image.
type Result struct {
	// Data is the patched copy, always exactly as long as the input.
	Data []byte
	// Applied lists the offsets rewritten, in ascending order.
	Applied []int64
}

// Apply overwrites each plan's region on a copy of data. Overlap and bounds
// checks run before the first byte is written, so application is
// all-or-nothing and the input slice is never modified.
func Apply(library string, data []byte, plans []Plan) (*Result, error) {
	ps := append([]Plan(nil), plans...)
	sort.Slice(ps, func(i, j int) bool { return ps[i].Match.Offset < ps[j].Match.Offset })

	for i, p := range ps {
		if len(p.Bytes) != p.Region {
			return nil, fmt.Errorf("patch: %s: plan at offset %d has %d bytes for a %d byte region",
				library, p.Match.Offset, len(p.Bytes), p.Region)
		}
		if p.Match.Offset < 0 || p.Match.Offset+int64(p.Region) > int64(len(data)) {
			return nil, fmt.Errorf("patch: %s: plan at offset %d exceeds image size %d",
				library, p.Match.Offset, len(data))
		}
		if i > 0 {
			prev := ps[i-1]
			if prev.Match.Offset+int64(prev.Region) > p.Match.Offset {
				return nil, &OverlappingPatchError{
					Library: library,
					OffsetA: prev.Match.Offset,
					OffsetB: p.Match.Offset,
				}
			}
		}
	}

	out := append([]byte(nil), data...)
	applied := make([]int64, 0, len(ps))
	for _, p := range ps {
		copy(out[p.Match.Offset:], p.Bytes)
		applied = append(applied, p.Match.Offset)
	}
	return &Result{Data: out, Applied: applied}, nil
}
