package event

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestMatchTopic(t *testing.T) {
	cases := []struct {
		pattern string
		topic   string
		want    bool
	}{
		{"a.b.c", "a.b.c", true},
		{"a.b.c", "a.b.d", false},
		{"a.b.c", "a.b", false},

		{"*", "a", true},
		{"*", "a.b.c.d", true},

		{"a.b.*", "a.b.c", true},
		{"a.b.*", "a.b.c.d", true},
		{"a.b.*", "a.b", false},
		{"a.b.*", "a.bc", false},

		{"a.*.c", "a.b.c", true},
		{"a.*.c", "a.x.c", true},
		{"a.*.c", "a.b.d", false},
		{"a.*.c", "a.b.c.d", false},
		{"*.b", "a.b", true},
		{"*.b", "a.c", false},
	}
	for _, tc := range cases {
		t.Run(tc.pattern+"~"+tc.topic, func(t *testing.T) {
			assert.Equal(t, tc.want, MatchTopic(tc.pattern, tc.topic))
		})
	}
}

func TestValidPattern(t *testing.T) {
	valid := []string{"a", "a.b", "*", "a.*", "a.*.c", "a.b.*"}
	for _, p := range valid {
		assert.True(t, ValidPattern(p), p)
	}
	invalid := []string{"", ".", "a.", ".a", "a..b", "a*", "a.b*", "*a.b"}
	for _, p := range invalid {
		assert.False(t, ValidPattern(p), p)
	}
}
