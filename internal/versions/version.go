// Package versions fetches release and tag records from GitHub and turns them into
// display values for the landing badges and the versions page.
package versions

import (
	"regexp"
	"slices"
	"strconv"
	"strings"
)

// Record is one semantic-version-like tag. Date is the raw commit or publish timestamp
// and is empty when unknown.
type Record struct {
	Name       string `json:"name"`
	Date       string `json:"date,omitempty"`
	ZipballURL string `json:"zipball_url,omitempty"`
	TarballURL string `json:"tarball_url,omitempty"`
	CommitURL  string `json:"commit_url,omitempty"`
}

// Group holds the records sharing one major version, newest first.
type Group struct {
	Major   int      `json:"major"`
	Records []Record `json:"records"`
}

var (
	validPattern = regexp.MustCompile(`^v?\d+\.\d+(\.\d+)?`)
	majorPattern = regexp.MustCompile(`^v?(\d+)`)
)

// Valid reports whether name starts with a major.minor version.
func Valid(name string) bool {
	return validPattern.MatchString(name)
}

// Major is the first numeric group of name, or 0.
func Major(name string) int {
	m := majorPattern.FindStringSubmatch(name)
	if m == nil {
		return 0
	}
	n, err := strconv.Atoi(m[1])
	if err != nil {
		return 0
	}
	return n
}

// parts returns (major, minor, patch) for name with a leading v removed. Missing
// segments are 0. A segment that is not all decimal digits is -1, so "1.2.0-rc1"
// orders below "1.2.0".
func parts(name string) [3]int {
	var out [3]int
	segments := strings.Split(strings.TrimPrefix(name, "v"), ".")
	for i := 0; i < len(out) && i < len(segments); i++ {
		out[i] = segmentValue(segments[i])
	}
	return out
}

func segmentValue(s string) int {
	if s == "" {
		return 0
	}
	for _, r := range s {
		if r < '0' || r > '9' {
			return -1
		}
	}
	n, err := strconv.Atoi(s)
	if err != nil {
		return -1
	}
	return n
}

// Compare orders version names by (major, minor, patch). Names that compare equal
// numerically are ordered by their raw text, so the result is a total order.
func Compare(a, b string) int {
	pa, pb := parts(a), parts(b)
	for i := range pa {
		if pa[i] != pb[i] {
			if pa[i] < pb[i] {
				return -1
			}
			return 1
		}
	}
	return strings.Compare(a, b)
}

// Sort orders records newest first, the reverse of Compare.
func Sort(records []Record) {
	slices.SortStableFunc(records, func(x, y Record) int {
		return Compare(y.Name, x.Name)
	})
}

// Process drops records whose names are not versions and sorts the rest newest first.
// The input slice is not modified.
func Process(raw []Record) []Record {
	out := make([]Record, 0, len(raw))
	for _, r := range raw {
		if Valid(r.Name) {
			out = append(out, r)
		}
	}
	Sort(out)
	return out
}

// GroupByMajor buckets sorted records by major version. Groups come back highest major
// first and keep the input order inside each group.
func GroupByMajor(sorted []Record) []Group {
	index := make(map[int]int)
	var groups []Group
	for _, r := range sorted {
		major := Major(r.Name)
		i, ok := index[major]
		if !ok {
			i = len(groups)
			index[major] = i
			groups = append(groups, Group{Major: major})
		}
		groups[i].Records = append(groups[i].Records, r)
	}

	slices.SortStableFunc(groups, func(a, b Group) int {
		return b.Major - a.Major
	})
	return groups
}

// Latest is the newest record of the highest major group.
func Latest(groups []Group) (Record, bool) {
	if len(groups) == 0 || len(groups[0].Records) == 0 {
		return Record{}, false
	}
	return groups[0].Records[0], true
}
