package notify

import (
	"sort"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegistry_RegisterReplaces(t *testing.T) {
	r := NewRegistry()
	a := newMockTransport("a")
	b := newMockTransport("b")

	r.Register("admin", a)
	r.Register("admin", b)

	got, ok := r.Lookup("admin")
	require.True(t, ok)
	assert.Same(t, b, got)
	assert.Equal(t, 1, r.Len())
}

func TestRegistry_Unregister(t *testing.T) {
	r := NewRegistry()
	r.Register("admin", newMockTransport("a"))

	r.Unregister("admin")
	r.Unregister("admin")
	r.Unregister("unknown")

	_, ok := r.Lookup("admin")
	assert.False(t, ok)
	assert.Equal(t, 0, r.Len())
}

func TestRegistry_Recipients(t *testing.T) {
	r := NewRegistry()
	r.Register("b", newMockTransport("b"))
	r.Register("a", newMockTransport("a"))

	got := r.Recipients()
	sort.Slice(got, func(i, j int) bool { return got[i] < got[j] })
	assert.Equal(t, []RecipientID{"a", "b"}, got)
}
