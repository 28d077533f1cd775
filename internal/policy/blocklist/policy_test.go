package blocklist

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestExactPattern(t *testing.T) {
	t.Parallel()

	p := New([]string{" Example.org ", ""})
	assert.True(t, p.Blocked("example.org"))
	assert.True(t, p.Blocked("www.example.org"))
	assert.False(t, p.Blocked("sub.example.org"))
	assert.False(t, p.AllowFetch("https://example.org/calendar"))
	assert.True(t, p.AllowFetch("https://races.example.com/"))
}

func TestSuffixPatterns(t *testing.T) {
	t.Parallel()

	p := New([]string{"*.ru", ".spam.example", "*.ru"})
	cases := []struct {
		host    string
		blocked bool
	}{
		{"example.ru", true},
		{"sub.domain.ru", true},
		{"ru", true},
		{"spam.example", true},
		{"a.spam.example", true},
		{"notspam.example", false},
		{"example.com", false},
		{"", false},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.blocked, p.Blocked(tc.host), tc.host)
	}
}

func TestEmptyPolicyAllowsEverything(t *testing.T) {
	t.Parallel()

	var nilPolicy *Policy
	assert.True(t, nilPolicy.Empty())
	assert.True(t, nilPolicy.AllowFetch("https://example.org/"))

	p := New(nil)
	assert.True(t, p.Empty())
	assert.True(t, p.AllowFetch("https://example.org/"))
}
