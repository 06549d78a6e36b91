package version

import (
	"strconv"
	"strings"
)

// Compare classifies the relationship between a local and cloud version
// string. Both are parsed as three dot-separated integers (major.minor.patch);
// if either fails to parse that way, the result is DiffUnknown — the CORE
// never guesses at version ordering it cannot prove.
//
// Pre-release/build metadata (anything after a "-" or "+") is stripped
// before parsing, so "1.2.3-rc1" compares as "1.2.3" (see DESIGN.md for
// the Open Question this resolves).
func Compare(local, cloud string) Diff {
	if local == cloud {
		return DiffSame
	}

	lMajor, lMinor, lPatch, lOK := parseSemver(local)
	cMajor, cMinor, cPatch, cOK := parseSemver(cloud)
	if !lOK || !cOK {
		return DiffUnknown
	}

	if cMajor != lMajor {
		return DiffMajor
	}
	if cMinor != lMinor {
		return DiffMinor
	}
	if cPatch != lPatch {
		return DiffPatch
	}
	return DiffSame
}

func parseSemver(v string) (major, minor, patch int, ok bool) {
	v = strings.TrimPrefix(v, "v")
	if i := strings.IndexAny(v, "-+"); i >= 0 {
		v = v[:i]
	}
	parts := strings.Split(v, ".")
	if len(parts) != 3 {
		return 0, 0, 0, false
	}
	nums := make([]int, 3)
	for i, p := range parts {
		n, err := strconv.Atoi(p)
		if err != nil {
			return 0, 0, 0, false
		}
		nums[i] = n
	}
	return nums[0], nums[1], nums[2], true
}
