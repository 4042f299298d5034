package sets

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSet(t *testing.T) {
	s := NewSet("tcp", "packet")
	assert.True(t, s.Contains("tcp"))
	assert.False(t, s.Contains("tls"))
	assert.Equal(t, 2, s.Size())

	s.Insert("tls")
	assert.True(t, s.Contains("tls"))

	// Duplicate inserts are no-ops.
	s.Insert("tls")
	assert.Equal(t, 3, s.Size())
}

func TestAsSortedSlice(t *testing.T) {
	s := NewSet("c", "a", "b")
	assert.Equal(t, []string{"a", "b", "c"}, AsSortedSlice(s))
}
