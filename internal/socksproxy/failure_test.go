package socksproxy

import "testing"

func TestIsConnectionFailureMatchesPatternSet(t *testing.T) {
	cases := []struct {
		err  string
		want bool
	}{
		{"dial tcp: ECONNREFUSED", true},
		{"lookup abc.onion: ENOTFOUND", true},
		{"General SOCKS server failure", true},
		{"context deadline exceeded: ETIMEDOUT", true},
		{"unexpected EOF", false},
		{"malformed response", false},
	}
	for _, tc := range cases {
		if got := IsConnectionFailure(tc.err); got != tc.want {
			t.Errorf("IsConnectionFailure(%q) = %v, want %v", tc.err, got, tc.want)
		}
	}
}
