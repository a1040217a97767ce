// Package session implements the in-memory session record and logout
// index: a bi-directional map between a browser session id and a CAS
// service ticket, with the invariant logoutIndex[record.Ticket] ==
// sessionID for every live record.
//
// Sessions are process-local by design; a clustered deployment would
// satisfy this same interface against an external KV instead.
package session

import "sync"

// Record is a single session's identity: the authenticated username, the
// CAS ticket that established it, and its attributes.
type Record struct {
	Username   string
	Ticket     string
	Attributes map[string][]string
}

// Store is the session & ticket store. All mutation happens under a
// single lock so that a session write sequence (validate -> insert ->
// redirect) is linearizable with respect to that session id.
type Store struct {
	mu          sync.RWMutex
	sessions    map[string]*Record
	logoutIndex map[string]string // ticket -> session id
}

// NewStore returns an empty Store.
func NewStore() *Store {
	return &Store{
		sessions:    make(map[string]*Record),
		logoutIndex: make(map[string]string),
	}
}

// Get returns the record bound to id, and whether one exists. A session
// is "authenticated" iff it has a record here.
func (s *Store) Get(id string) (Record, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.sessions[id]
	if !ok {
		return Record{}, false
	}
	return *r, true
}

// Put creates or overwrites the record bound to id, and indexes its
// ticket in the logout index. If id previously held a different ticket,
// the stale logout-index entry is removed first so that no ticket maps
// to more than one live session.
func (s *Store) Put(id string, rec Record) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if old, ok := s.sessions[id]; ok && old.Ticket != rec.Ticket {
		delete(s.logoutIndex, old.Ticket)
	}
	copied := rec
	s.sessions[id] = &copied
	s.logoutIndex[rec.Ticket] = id
}

// Destroy removes the session id and its logout-index entry, idempotently.
// Safe to call for an id with no record -- the session-expiry callback and
// the logout-pattern handler may both race to destroy the same session.
func (s *Store) Destroy(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if rec, ok := s.sessions[id]; ok {
		delete(s.logoutIndex, rec.Ticket)
		delete(s.sessions, id)
	}
}

// ResolveTicket resolves a CAS service ticket (SAML SessionIndex) to a
// local session id, via the logout index.
func (s *Store) ResolveTicket(ticket string) (string, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	id, ok := s.logoutIndex[ticket]
	return id, ok
}

// DestroyByTicket resolves ticket through the logout index and destroys
// the matching session, returning the session id destroyed, if any.
func (s *Store) DestroyByTicket(ticket string) (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	id, ok := s.logoutIndex[ticket]
	if !ok {
		return "", false
	}
	delete(s.logoutIndex, ticket)
	delete(s.sessions, id)
	return id, true
}
