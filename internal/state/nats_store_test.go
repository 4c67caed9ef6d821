package state

import (
	"strings"
	"testing"
)

func TestFeedTokenIsSubjectSafe(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name string
		in   string
		want string
	}{
		{"plain id unchanged", "facility-1", "facility-1"},
		{"dot escaped", "fac.1", "fac~002e1"},
		{"wildcards escaped", "a*b>c", "a~002ab~003ec"},
		{"space escaped", "fac 1", "fac~00201"},
	}
	for _, tc := range cases {
		got := feedToken(tc.in)
		if got != tc.want {
			t.Fatalf("%s: feedToken(%q) = %q, want %q", tc.name, tc.in, got, tc.want)
		}
		if strings.ContainsAny(got, ".*> \t") {
			t.Fatalf("%s: token %q contains subject metacharacters", tc.name, got)
		}
	}
}

func TestFeedTokenIsInjective(t *testing.T) {
	t.Parallel()

	ids := []string{"fac.1", "fac~002e1", "fac_1", "fac 1", "fac-1"}
	seen := make(map[string]string, len(ids))
	for _, id := range ids {
		token := feedToken(id)
		if other, dup := seen[token]; dup {
			t.Fatalf("ids %q and %q collide on token %q", id, other, token)
		}
		seen[token] = id
	}
}
