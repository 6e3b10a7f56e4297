package ws

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"chat-relay/internal/models"
)

func TestRegistryLifecycle(t *testing.T) {
	r := NewRegistry()
	sink := &recordingSink{}
	r.Attach(ConnInfo{Handle: "c1"}, sink)

	_, ok := r.Resolve("c1")
	assert.False(t, ok)

	r.Register("c1", u1)
	got, ok := r.Resolve("c1")
	require.True(t, ok)
	assert.Equal(t, u1, got)

	s, ok := r.Sink("c1")
	require.True(t, ok)
	assert.Same(t, sink, s)

	identity, remaining, ok := r.Unregister("c1")
	require.True(t, ok)
	assert.Equal(t, u1, identity)
	assert.Equal(t, 0, remaining)

	_, ok = r.Resolve("c1")
	assert.False(t, ok)
	_, _, ok = r.Unregister("c1")
	assert.False(t, ok)
}

func TestRegistryRegisterOverwrites(t *testing.T) {
	r := NewRegistry()
	r.Attach(ConnInfo{Handle: "c1"}, &recordingSink{})

	r.Register("c1", u1)
	r.Register("c1", u2)

	got, ok := r.Resolve("c1")
	require.True(t, ok)
	assert.Equal(t, u2, got)
	assert.Equal(t, 0, r.Count(u1.ID))
	assert.Equal(t, 1, r.Count(u2.ID))
}

func TestRegistryCountsConnectionsPerIdentity(t *testing.T) {
	r := NewRegistry()
	for _, h := range []string{"b", "a", "c"} {
		r.Attach(ConnInfo{Handle: h}, &recordingSink{})
	}
	r.Register("a", u1)
	r.Register("b", u1)

	assert.Equal(t, []string{"a", "b", "c"}, r.Handles())
	assert.Equal(t, 2, r.Count(u1.ID))

	_, remaining, ok := r.Unregister("a")
	require.True(t, ok)
	assert.Equal(t, 1, remaining)

	_, _, ok = r.Unregister("c")
	assert.False(t, ok, "unauthenticated connections report no identity")
	assert.Equal(t, []string{"b"}, r.Handles())
}

func TestRegistryRegisterWithoutAttach(t *testing.T) {
	r := NewRegistry()
	r.Register("ghost", models.Identity{ID: "u3"})

	got, ok := r.Resolve("ghost")
	require.True(t, ok)
	assert.Equal(t, "u3", got.ID)
	_, ok = r.Sink("ghost")
	assert.False(t, ok)
}

func TestRegistryIdentitiesAreDistinct(t *testing.T) {
	r := NewRegistry()
	for _, h := range []string{"c1", "c2", "c3", "anon"} {
		r.Attach(ConnInfo{Handle: h}, &recordingSink{})
	}
	r.Register("c1", u2)
	r.Register("c2", u1)
	r.Register("c3", u2)

	assert.Equal(t, []models.Identity{u1, u2}, r.Identities())

	r.Unregister("c2")
	assert.Equal(t, []models.Identity{u2}, r.Identities())
}
