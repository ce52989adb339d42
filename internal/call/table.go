// Package call maintains the in-memory table of signaling conversations
// and its state machine. Terminated calls leave the table immediately;
// their record survives only in the journal.
package call

import (
	"errors"
	"sync"
	"time"
)

// State of a live call. There is no terminated state in the table: leaving
// the table is termination.
type State string

const (
	StateRinging State = "ringing"
	StateActive  State = "active"
)

// Kind of media the call will carry.
const (
	KindAudio = "audio"
	KindVideo = "video"
)

var (
	// ErrNotFound is returned for call ids absent from the table. Benign
	// for answers and hangups that race with teardown.
	ErrNotFound = errors.New("call: not found")
	// ErrBusy is returned when a participant already has a ringing or
	// active call.
	ErrBusy = errors.New("call: participant busy")
	// ErrNotCallee rejects answers from anyone but the callee.
	ErrNotCallee = errors.New("call: answer from non-callee")
	// ErrNotParticipant rejects hangups and ICE from outsiders.
	ErrNotParticipant = errors.New("call: sender not a participant")
)

// Call is one signaling conversation.
type Call struct {
	ID         string
	Caller     string
	Callee     string
	Kind       string
	State      State
	StartedAt  time.Time
	AnsweredAt time.Time
}

// Other returns the participant opposite to username.
func (c *Call) Other(username string) string {
	if username == c.Caller {
		return c.Callee
	}
	return c.Caller
}

// Participant reports whether username is the caller or the callee.
func (c *Call) Participant(username string) bool {
	return username == c.Caller || username == c.Callee
}

// Table holds the live calls under a single mutex. A per-user index
// enforces single-call-per-user exclusivity: at any moment at most one
// ringing or active call references a given username.
type Table struct {
	mu     sync.Mutex
	calls  map[string]*Call
	byUser map[string]string // username -> call id
}

func NewTable() *Table {
	return &Table{
		calls:  make(map[string]*Call),
		byUser: make(map[string]string),
	}
}

// Start inserts a ringing call. ErrBusy if either participant is already
// in a call.
func (t *Table) Start(id, caller, callee, kind string) (*Call, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, busy := t.byUser[caller]; busy {
		return nil, ErrBusy
	}
	if _, busy := t.byUser[callee]; busy {
		return nil, ErrBusy
	}
	c := &Call{
		ID:        id,
		Caller:    caller,
		Callee:    callee,
		Kind:      kind,
		State:     StateRinging,
		StartedAt: time.Now(),
	}
	t.calls[id] = c
	t.byUser[caller] = id
	t.byUser[callee] = id
	return c.clone(), nil
}

// Accept transitions ringing -> active. Only the callee may accept.
func (t *Table) Accept(id, callee string) (*Call, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	c, ok := t.calls[id]
	if !ok {
		return nil, ErrNotFound
	}
	if c.Callee != callee {
		return nil, ErrNotCallee
	}
	c.State = StateActive
	c.AnsweredAt = time.Now()
	return c.clone(), nil
}

// Reject removes a ringing call. Only the callee may reject.
func (t *Table) Reject(id, callee string) (*Call, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	c, ok := t.calls[id]
	if !ok {
		return nil, ErrNotFound
	}
	if c.Callee != callee {
		return nil, ErrNotCallee
	}
	t.removeLocked(c)
	return c.clone(), nil
}

// End removes a call on behalf of a participant and returns it so the
// caller can notify the other side and journal the duration.
func (t *Table) End(id, participant string) (*Call, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	c, ok := t.calls[id]
	if !ok {
		return nil, ErrNotFound
	}
	if !c.Participant(participant) {
		return nil, ErrNotParticipant
	}
	t.removeLocked(c)
	return c.clone(), nil
}

// Get returns a copy of the call.
func (t *Table) Get(id string) (*Call, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	c, ok := t.calls[id]
	if !ok {
		return nil, false
	}
	return c.clone(), true
}

// RemoveFor drops every call involving username and returns the removed
// calls. Used by connection teardown.
func (t *Table) RemoveFor(username string) []*Call {
	t.mu.Lock()
	defer t.mu.Unlock()
	var removed []*Call
	if id, ok := t.byUser[username]; ok {
		if c, ok := t.calls[id]; ok {
			t.removeLocked(c)
			removed = append(removed, c.clone())
		}
	}
	return removed
}

// SweepStale removes calls stuck past their defensive bounds: ringing
// longer than ringingMax, active longer than activeMax. Normal teardown is
// explicit; these bounds only catch the stuck ones.
func (t *Table) SweepStale(ringingMax, activeMax time.Duration) []*Call {
	now := time.Now()
	t.mu.Lock()
	defer t.mu.Unlock()
	var swept []*Call
	for _, c := range t.calls {
		age := now.Sub(c.StartedAt)
		if (c.State == StateRinging && age > ringingMax) ||
			(c.State == StateActive && age > activeMax) {
			swept = append(swept, c.clone())
		}
	}
	for _, c := range swept {
		t.removeLocked(t.calls[c.ID])
	}
	return swept
}

// Count reports how many calls are live.
func (t *Table) Count() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.calls)
}

// IDs lists the live call ids, for the server_status diagnostic.
func (t *Table) IDs() []string {
	t.mu.Lock()
	defer t.mu.Unlock()
	ids := make([]string, 0, len(t.calls))
	for id := range t.calls {
		ids = append(ids, id)
	}
	return ids
}

func (t *Table) removeLocked(c *Call) {
	delete(t.calls, c.ID)
	if t.byUser[c.Caller] == c.ID {
		delete(t.byUser, c.Caller)
	}
	if t.byUser[c.Callee] == c.ID {
		delete(t.byUser, c.Callee)
	}
}

func (c *Call) clone() *Call {
	cp := *c
	return &cp
}
