package core

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNewGUID(t *testing.T) {
	seen := make(map[string]bool, 1000)
	for i := 0; i < 1000; i++ {
		guid := NewGUID()
		assert.Len(t, guid, GUIDLength)
		assert.True(t, IsGUID(guid), "invalid guid %q", guid)
		assert.False(t, seen[guid], "duplicate guid %q", guid)
		seen[guid] = true
	}
}

func TestIsGUID(t *testing.T) {
	tests := []struct {
		name string
		s    string
		want bool
	}{
		{name: "empty", s: "", want: false},
		{name: "too short", s: "abc123", want: false},
		{name: "too long", s: "abcdefghijk1", want: false},
		{name: "special chars", s: "abc-efgh_jk", want: false},
		{name: "sequential guid", s: "SANC000001", want: false},
		{name: "valid", s: "aZ09bY18cX2", want: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, IsGUID(tt.s))
		})
	}
}

func TestSequentialGUID(t *testing.T) {
	tests := []struct {
		prefix string
		id     int64
		want   string
	}{
		{prefix: IncidentPrefix, id: 1, want: "INC000001"},
		{prefix: SanctionPrefix, id: 42, want: "SANC000042"},
		{prefix: SanctionPrefix, id: 999999, want: "SANC999999"},
	}
	for _, tt := range tests {
		t.Run(tt.want, func(t *testing.T) {
			assert.Equal(t, tt.want, SequentialGUID(tt.prefix, tt.id))
		})
	}
}
