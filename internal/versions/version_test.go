package versions

import (
	"fmt"
	"math/rand"
	"slices"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func names(records []Record) []string {
	out := make([]string, len(records))
	for i, r := range records {
		out[i] = r.Name
	}
	return out
}

func recordsNamed(in ...string) []Record {
	out := make([]Record, len(in))
	for i, name := range in {
		out[i] = Record{Name: name}
	}
	return out
}

func TestProcessFilterSortGroup(t *testing.T) {
	sorted := Process(recordsNamed("v2.0.0", "v1.5.0", "v2.1.0", "invalid", "3"))
	assert.Equal(t, []string{"v2.1.0", "v2.0.0", "v1.5.0"}, names(sorted))

	groups := GroupByMajor(sorted)
	require.Len(t, groups, 2)
	assert.Equal(t, 2, groups[0].Major)
	assert.Equal(t, []string{"v2.1.0", "v2.0.0"}, names(groups[0].Records))
	assert.Equal(t, 1, groups[1].Major)
	assert.Equal(t, []string{"v1.5.0"}, names(groups[1].Records))

	latest, ok := Latest(groups)
	require.True(t, ok)
	assert.Equal(t, "v2.1.0", latest.Name)
}

func TestProcessDoesNotModifyInput(t *testing.T) {
	in := recordsNamed("1.0", "2.0")
	_ = Process(in)
	assert.Equal(t, []string{"1.0", "2.0"}, names(in))
}

func TestValid(t *testing.T) {
	for _, name := range []string{"v1.0", "1.0", "v10.20.30", "1.2.3-beta", "v1.2.3.4"} {
		assert.True(t, Valid(name), name)
	}
	for _, name := range []string{"", "v1", "3", "release-1.0", "vv1.0", "1.", "latest"} {
		assert.False(t, Valid(name), name)
	}
}

func TestCompareNumericSegments(t *testing.T) {
	assert.Equal(t, 1, Compare("v1.10.0", "v1.9.0"))
	assert.Equal(t, -1, Compare("1.2", "1.2.1"))
	assert.Equal(t, 1, Compare("v3.0", "2.99.99"))
	assert.Equal(t, 0, Compare("v1.0.0", "v1.0.0"))
}

func TestCompareMalformedSegmentsSortBelowNumbers(t *testing.T) {
	assert.Equal(t, -1, Compare("1.2.0-rc1", "1.2.0"))
	assert.Equal(t, 1, Compare("1.2.x", "1.1.9"))
	assert.Equal(t, -1, Compare("1.0.beta", "1.0.0"))
}

func TestCompareTieBreaksOnName(t *testing.T) {
	// Numerically equal names still order deterministically.
	assert.NotZero(t, Compare("v1.0", "1.0.0"))
	assert.Equal(t, -Compare("v1.0", "1.0.0"), Compare("1.0.0", "v1.0"))
	assert.NotZero(t, Compare("1.0.rc1", "1.0.rc2"))
}

func TestCompareIsTotalOrder(t *testing.T) {
	pool := []string{"v1.0", "1.0.0", "v1.0.0", "1.0.rc1", "2.0", "v2.0.0-beta", "v10.1", "0.9", "1.2.3.4", "1.2.3"}
	for _, a := range pool {
		assert.Zero(t, Compare(a, a))
		for _, b := range pool {
			assert.Equal(t, -Compare(a, b), Compare(b, a), "%s vs %s", a, b)
			for _, c := range pool {
				if Compare(a, b) < 0 && Compare(b, c) < 0 {
					assert.Negative(t, Compare(a, c), "%s < %s < %s", a, b, c)
				}
			}
		}
	}
}

func TestSortIsIdempotent(t *testing.T) {
	rng := rand.New(rand.NewSource(7))
	for round := 0; round < 50; round++ {
		var records []Record
		for i := 0; i < 30; i++ {
			records = append(records, Record{Name: fmt.Sprintf("v%d.%d.%d", rng.Intn(4), rng.Intn(12), rng.Intn(5))})
		}
		records = append(records, recordsNamed("1.0.rc1", "v2.0", "2.0.0")...)
		rng.Shuffle(len(records), func(i, j int) { records[i], records[j] = records[j], records[i] })

		Sort(records)
		once := slices.Clone(records)
		Sort(records)
		assert.Equal(t, names(once), names(records))

		for i := 1; i < len(records); i++ {
			assert.GreaterOrEqual(t, Compare(records[i-1].Name, records[i].Name), 0)
		}
	}
}

func TestGroupByMajorInvariants(t *testing.T) {
	sorted := Process(recordsNamed("v3.1", "1.0", "v3.0.2", "v12.0", "2.4.1", "v1.9"))
	groups := GroupByMajor(sorted)

	majors := make([]int, len(groups))
	for i, g := range groups {
		majors[i] = g.Major
		require.NotEmpty(t, g.Records)
		for _, r := range g.Records {
			assert.Equal(t, g.Major, Major(r.Name))
		}
	}
	assert.Equal(t, []int{12, 3, 2, 1}, majors)
	assert.Equal(t, []string{"v1.9", "1.0"}, names(groups[3].Records))
}

func TestLatestEmpty(t *testing.T) {
	_, ok := Latest(nil)
	assert.False(t, ok)
}

func TestMajor(t *testing.T) {
	assert.Equal(t, 4, Major("v4.2"))
	assert.Equal(t, 17, Major("17.0.1"))
	assert.Equal(t, 0, Major("beta"))
}

func TestFormatVersionNumber(t *testing.T) {
	assert.Equal(t, "v1.2.3", FormatVersionNumber("1.2.3"))
	assert.Equal(t, "v1.2.3", FormatVersionNumber("v1.2.3"))
}

func TestFormatDate(t *testing.T) {
	assert.Equal(t, "June 22, 2025", FormatDate("2025-06-22T08:30:00Z"))
	assert.Equal(t, DateUnavailable, FormatDate(""))
	assert.Equal(t, InvalidDate, FormatDate("yesterday"))
}

func TestDescription(t *testing.T) {
	assert.Equal(t, "Previous stable line. 3 releases available.", Description(4, 3))
	assert.Equal(t, "2 releases available for version 9.", Description(9, 2))
}

func TestParseRepo(t *testing.T) {
	repo, err := ParseRepo("mudrikam/Image-Tea-mini")
	require.NoError(t, err)
	assert.Equal(t, Repo{Owner: "mudrikam", Name: "Image-Tea-mini"}, repo)
	assert.Equal(t, "https://github.com/mudrikam/Image-Tea-mini", repo.HTMLURL())

	for _, bad := range []string{"", "owner", "/repo", "owner/", "a/b/c"} {
		_, err := ParseRepo(bad)
		assert.Error(t, err, bad)
	}
}
