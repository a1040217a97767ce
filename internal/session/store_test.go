package session

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPutGetDestroyInvariant(t *testing.T) {
	s := NewStore()
	s.Put("sid-abc", Record{
		Username:   "alice",
		Ticket:     "ST-1",
		Attributes: map[string][]string{"role": {"admin"}},
	})

	rec, ok := s.Get("sid-abc")
	require.True(t, ok)
	assert.Equal(t, "alice", rec.Username)

	sid, ok := s.ResolveTicket("ST-1")
	require.True(t, ok)
	assert.Equal(t, "sid-abc", sid)

	s.Destroy("sid-abc")

	_, ok = s.Get("sid-abc")
	assert.False(t, ok)
	_, ok = s.ResolveTicket("ST-1")
	assert.False(t, ok, "logout index entry must be removed when the session is destroyed")
}

func TestDestroyIsIdempotent(t *testing.T) {
	s := NewStore()
	s.Destroy("never-existed")
	s.Put("sid", Record{Ticket: "ST-1"})
	s.Destroy("sid")
	s.Destroy("sid")
}

func TestPutReplacesStaleTicketMapping(t *testing.T) {
	s := NewStore()
	s.Put("sid", Record{Username: "alice", Ticket: "ST-1"})
	s.Put("sid", Record{Username: "alice", Ticket: "ST-2"})

	_, ok := s.ResolveTicket("ST-1")
	assert.False(t, ok, "superseded ticket must not remain in the logout index")

	sid, ok := s.ResolveTicket("ST-2")
	require.True(t, ok)
	assert.Equal(t, "sid", sid)
}

func TestDestroyByTicket(t *testing.T) {
	s := NewStore()
	s.Put("sid", Record{Username: "alice", Ticket: "ST-1"})

	id, ok := s.DestroyByTicket("ST-1")
	require.True(t, ok)
	assert.Equal(t, "sid", id)

	_, ok = s.Get("sid")
	assert.False(t, ok)
}
