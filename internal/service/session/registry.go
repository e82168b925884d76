package session

import (
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Registry indexes live sessions by session id and by call sid. Both maps
// point at the same *Session once the identifiers are correlated.
type Registry struct {
	mu          sync.RWMutex
	bySessionID map[string]*Session
	byCallSid   map[string]*Session

	defaultLang string
	newID       func() string
	now         func() time.Time
}

// NewRegistry creates an empty registry; new sessions start in defaultLang.
func NewRegistry(defaultLang string) *Registry {
	return &Registry{
		bySessionID: make(map[string]*Session),
		byCallSid:   make(map[string]*Session),
		defaultLang: defaultLang,
		newID:       func() string { return "call_" + uuid.NewString() },
		now:         func() time.Time { return time.Now().UTC() },
	}
}

// Resolve finds the session for candidate, falling back to the identifiers
// already bound to the caller's channel. Identifiers the session does not have
// yet are merged into it. When nothing matches and create is set a new session
// is indexed under whatever is known. created reports whether that happened.
func (r *Registry) Resolve(candidate, bound Keys, create bool) (s *Session, created bool) {
	candidate = candidate.trimmed()
	bound = bound.trimmed()
	now := r.now()

	r.mu.Lock()
	defer r.mu.Unlock()

	s = r.lookupLocked(candidate.SessionID, candidate.CallSid, bound.SessionID, bound.CallSid)
	if s != nil {
		r.bindLocked(s, candidate)
		s.touch(now)
		return s, false
	}
	if !create {
		return nil, false
	}

	keys := Keys{SessionID: candidate.SessionID, CallSid: candidate.CallSid}
	if keys.SessionID == "" {
		keys.SessionID = bound.SessionID
	}
	if keys.CallSid == "" {
		keys.CallSid = bound.CallSid
	}
	if keys.IsZero() {
		keys.SessionID = r.newID()
	}

	s = newSession(keys, r.defaultLang, now)
	if keys.SessionID != "" {
		r.bySessionID[keys.SessionID] = s
	}
	if keys.CallSid != "" {
		r.byCallSid[keys.CallSid] = s
	}
	log.Printf("[session] created %s", keys)
	return s, true
}

func (r *Registry) lookupLocked(sessionID, callSid, boundSessionID, boundCallSid string) *Session {
	if s, ok := r.bySessionID[sessionID]; ok && sessionID != "" {
		return s
	}
	if s, ok := r.byCallSid[callSid]; ok && callSid != "" {
		return s
	}
	if s, ok := r.bySessionID[boundSessionID]; ok && boundSessionID != "" {
		return s
	}
	if s, ok := r.byCallSid[boundCallSid]; ok && boundCallSid != "" {
		return s
	}
	return nil
}

// bindLocked adds identifiers the session is missing. A key that is already
// indexed to another session, or that would replace one the session already
// has, is refused.
func (r *Registry) bindLocked(s *Session, candidate Keys) {
	keys := s.Keys()
	changed := false

	if id := candidate.SessionID; id != "" && id != keys.SessionID {
		switch owner := r.bySessionID[id]; {
		case keys.SessionID != "":
			log.Printf("[session] refusing to rebind %s to session id %s", keys, id)
		case owner != nil && owner != s:
			log.Printf("[session] session id %s already belongs to another call, keeping %s", id, keys)
		default:
			keys.SessionID = id
			r.bySessionID[id] = s
			changed = true
		}
	}

	if sid := candidate.CallSid; sid != "" && sid != keys.CallSid {
		switch owner := r.byCallSid[sid]; {
		case keys.CallSid != "":
			log.Printf("[session] refusing to rebind %s to call %s", keys, sid)
		case owner != nil && owner != s:
			log.Printf("[session] call %s already belongs to another session, keeping %s", sid, keys)
		default:
			keys.CallSid = sid
			r.byCallSid[sid] = s
			changed = true
		}
	}

	if changed {
		s.setKeys(keys)
		log.Printf("[session] bound %s", keys)
	}
}

// Destroy cancels the session's generation, closes its channel and removes
// every index entry still pointing at it. Calling it again is a no-op.
func (r *Registry) Destroy(s *Session, reason string) {
	if s == nil {
		return
	}

	r.mu.Lock()
	keys := s.Keys()
	removed := false
	if keys.SessionID != "" && r.bySessionID[keys.SessionID] == s {
		delete(r.bySessionID, keys.SessionID)
		removed = true
	}
	if keys.CallSid != "" && r.byCallSid[keys.CallSid] == s {
		delete(r.byCallSid, keys.CallSid)
		removed = true
	}
	r.mu.Unlock()

	if _, cancelled := s.shutdown(fmt.Errorf("%w: %s", ErrClosed, reason)); cancelled {
		log.Printf("[session] cancelled active generation of %s (%s)", keys, reason)
	}
	if removed {
		log.Printf("[session] destroyed %s (%s)", keys, reason)
	}
}

// Lookup returns the session indexed under key, trying session ids first.
func (r *Registry) Lookup(key string) (*Session, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if s, ok := r.bySessionID[key]; ok {
		return s, true
	}
	s, ok := r.byCallSid[key]
	return s, ok
}

// Len returns the number of distinct live sessions.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	seen := make(map[*Session]struct{}, len(r.bySessionID)+len(r.byCallSid))
	for _, s := range r.bySessionID {
		seen[s] = struct{}{}
	}
	for _, s := range r.byCallSid {
		seen[s] = struct{}{}
	}
	return len(seen)
}
