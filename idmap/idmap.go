// Package idmap implements the identity-map projector: the algorithm that
// combines a user's administratively-allowed sub-UID/GID ranges, the current
// process's existing uid/gid map, and the caller's desired mapping into a
// kernel-acceptable, minimally-normalized id map.
//
// The output of Make is the exact text burned into /proc/<pid>/uid_map or
// /proc/<pid>/gid_map for a child entering a fresh user namespace.
package idmap

import (
	"fmt"
	"math"
	"sort"
	"strings"

	"bst-go/bsterrors"
)

// MaxUserMappings bounds the number of ranges an id map may hold; the
// reference implementation uses 340, which keeps the kernel buffer
// (ID_MAP_MAX, 4*4096 bytes) from overflowing.
const MaxUserMappings = 340

// idMapMax is the fixed buffer size the formatted map text must fit within.
const idMapMax = 4 * 4096

// Range is a single id range: length consecutive ids starting at Outer in
// the parent namespace map to length consecutive ids starting at Inner in
// the child namespace.
type Range struct {
	Inner  uint32
	Outer  uint32
	Length uint32
}

// Map is an ordered sequence of id ranges.
type Map []Range

// Empty reports whether m has no ranges.
func (m Map) Empty() bool {
	return len(m) == 0
}

// CountIDs returns the sum of lengths across all ranges in m, or
// math.MaxUint32 if that sum would overflow a uint32.
func (m Map) CountIDs() uint32 {
	var total uint64
	for _, r := range m {
		total += uint64(r.Length)
		if total > math.MaxUint32 {
			return math.MaxUint32
		}
	}
	return uint32(total)
}

// sortKey selects which coordinate of a Range normalization sorts and
// coalesces by.
type sortKey int

const (
	// byInner sorts by Inner, used for kernel-facing maps (cur_map,
	// final output).
	byInner sortKey = iota
	// byOuter sorts by Outer, used for the subid pool and the caller's
	// desired map before projection.
	byOuter
)

func keyOf(r Range, key sortKey) uint32 {
	if key == byOuter {
		return r.Outer
	}
	return r.Inner
}

// normalize sorts m by the given key, coalesces adjacent ranges that are
// contiguous in both coordinates, and rejects overlap in the key
// coordinate.
func normalize(m Map, key sortKey) (Map, error) {
	if len(m) == 0 {
		return Map{}, nil
	}

	sorted := make(Map, len(m))
	copy(sorted, m)
	sort.Slice(sorted, func(i, j int) bool {
		return keyOf(sorted[i], key) < keyOf(sorted[j], key)
	})

	out := make(Map, 0, len(sorted))
	out = append(out, sorted[0])
	for _, r := range sorted[1:] {
		last := &out[len(out)-1]
		lastEnd := keyOf(*last, key) + last.Length
		curStart := keyOf(r, key)

		if curStart < lastEnd {
			return nil, bsterrors.ErrIDMapOverlap
		}

		contiguousInner := last.Inner+last.Length == r.Inner
		contiguousOuter := last.Outer+last.Length == r.Outer
		if curStart == lastEnd && contiguousInner && contiguousOuter {
			last.Length += r.Length
			continue
		}
		out = append(out, r)
	}
	return out, nil
}

// project locates, for each range in src, the containing range in onto
// (keyed by matchKey) and emits the intersection with Inner taken from src
// and Outer recomputed against onto's coordinate frame. matchKey selects
// which of onto's coordinates r.Outer is looked up against: byOuter for
// "src.Outer lives in onto's Outer space" (projecting the desired map
// through the subid pool), byInner for "src.Outer lives in onto's Inner
// space" (projecting the intermediate map through cur_map, where Inner is
// the current process's own namespace-relative id). A src range not fully
// covered by a single onto range is a hard failure.
func project(src, onto Map, matchKey sortKey) (Map, error) {
	out := make(Map, 0, len(src))
	for _, r := range src {
		covering, ok := findCovering(onto, matchKey, r.Outer, r.Length)
		if !ok {
			return nil, bsterrors.ErrDesiredUnmapped
		}
		offset := r.Outer - keyOf(covering, matchKey)
		otherCoord := covering.Inner
		if matchKey == byInner {
			otherCoord = covering.Outer
		}
		out = append(out, Range{
			Inner:  r.Inner,
			Outer:  otherCoord + offset,
			Length: r.Length,
		})
	}
	return out, nil
}

// findCovering returns the single range in onto whose [key, key+Length)
// interval, for the given coordinate, fully contains [start, start+length).
func findCovering(onto Map, key sortKey, start, length uint32) (Range, bool) {
	for _, r := range onto {
		s := keyOf(r, key)
		if start >= s && start+length <= s+r.Length {
			return r, true
		}
	}
	return Range{}, false
}

// Make produces the id map text to burn into /proc/<pid>/uid_map (or
// gid_map). curMap is the current process's existing map for the given
// kind; subids is the administratively-allowed pool parsed from
// /etc/subuid or /etc/subgid; desired is the caller's requested mapping,
// possibly empty; ownID is the invoking user's own uid (resp. gid), used
// only when desired is empty.
func Make(curMap, subids, desired Map, ownID uint32) (string, error) {
	if len(subids) > MaxUserMappings || len(desired) > MaxUserMappings {
		return "", bsterrors.ErrTooManyMappings
	}

	curMap, err := normalize(curMap, byInner)
	if err != nil {
		return "", bsterrors.Wrap(err, bsterrors.ErrIDMap, "normalize current map")
	}

	subids, err = normalize(subids, byOuter)
	if err != nil {
		return "", bsterrors.Wrap(err, bsterrors.ErrIDMap, "normalize subid pool")
	}

	var intermediate Map
	if !desired.Empty() {
		intermediate, err = projectDesired(subids, desired)
		if err != nil {
			return "", err
		}
	} else {
		intermediate = generate(subids, ownID)
	}

	final, err := project(intermediate, curMap, byInner)
	if err != nil {
		return "", bsterrors.Wrap(err, bsterrors.ErrIDMap, "project through current map")
	}

	return format(final)
}

// projectDesired implements the non-empty-desired branch: subids is
// rebound to an identity map (Inner := Outer) before desired is normalized
// and projected onto it.
func projectDesired(subids, desired Map) (Map, error) {
	identity := make(Map, len(subids))
	for i, r := range subids {
		identity[i] = Range{Inner: r.Outer, Outer: r.Outer, Length: r.Length}
	}

	desired, err := normalize(desired, byOuter)
	if err != nil {
		return nil, bsterrors.Wrap(err, bsterrors.ErrIDMap, "normalize desired map")
	}

	projected, err := project(desired, identity, byOuter)
	if err != nil {
		return nil, err
	}

	nids := projected.CountIDs()
	desiredIDs := desired.CountIDs()
	if nids == math.MaxUint32 || desiredIDs == math.MaxUint32 {
		return nil, bsterrors.ErrIDMapOverflow
	}
	if nids != desiredIDs {
		return nil, bsterrors.ErrDesiredUnmapped
	}

	return projected, nil
}

// generate implements id_map_generate: the invoking user's own id maps to
// inner id 0; thereafter each subid range is appended, with Inner advancing
// by the previous range's length.
func generate(subids Map, ownID uint32) Map {
	out := make(Map, 0, len(subids)+1)
	out = append(out, Range{Inner: 0, Outer: ownID, Length: 1})
	inner := uint32(1)
	for _, r := range subids {
		out = append(out, Range{Inner: inner, Outer: r.Outer, Length: r.Length})
		inner += r.Length
	}
	return out
}

// format renders m as "inner outer length\n" lines, erroring if the result
// would exceed the fixed kernel buffer.
func format(m Map) (string, error) {
	var b strings.Builder
	for _, r := range m {
		fmt.Fprintf(&b, "%d %d %d\n", r.Inner, r.Outer, r.Length)
	}
	if b.Len() > idMapMax {
		return "", bsterrors.ErrIDMapOverflow
	}
	return b.String(), nil
}
