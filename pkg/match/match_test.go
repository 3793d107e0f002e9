package match

import (
	"regexp"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestExact(t *testing.T) {
	m := Exact("/items")
	assert.True(t, m.Match("/items"))
	assert.False(t, m.Match("/items/7"))
	assert.False(t, m.Match("/Items"))
	assert.Equal(t, "/items", m.String())
}

func TestPattern(t *testing.T) {
	tests := []struct {
		name    string
		expr    string
		subject string
		want    bool
	}{
		{name: "unanchored substring", expr: `items`, subject: "/v1/items/7", want: true},
		{name: "anchored full match", expr: `^/items/\d+$`, subject: "/items/7", want: true},
		{name: "anchored miss", expr: `^/items/\d+$`, subject: "/items/7/reviews", want: false},
		{name: "host fragment", expr: `\.example\.com`, subject: "api.example.com:443", want: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := Pattern(regexp.MustCompile(tt.expr))
			assert.Equal(t, tt.want, m.Match(tt.subject))
		})
	}
}

func TestPredicate(t *testing.T) {
	m := Predicate(func(s string) bool { return strings.HasPrefix(s, "/admin") })
	assert.True(t, m.Match("/admin/users"))
	assert.False(t, m.Match("/items"))

	assert.False(t, Predicate(nil).Match("anything"))
}
