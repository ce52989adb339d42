package presence

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dialog-im/dialogd/internal/wire"
)

// fakeLink records sends; identity (pointer equality) is what the registry
// checks on Remove.
type fakeLink struct {
	sent   []*wire.Record
	closed bool
}

func (f *fakeLink) SendRecord(rec *wire.Record) error { f.sent = append(f.sent, rec); return nil }
func (f *fakeLink) Close() error                      { f.closed = true; return nil }

func TestAddDisplacesPriorLink(t *testing.T) {
	r := NewRegistry()
	old := &fakeLink{}
	fresh := &fakeLink{}

	assert.Nil(t, r.Add("alice", old, "10.0.0.1", 7000))
	displaced := r.Add("alice", fresh, "10.0.0.2", 7001)
	assert.Same(t, old, displaced.(*fakeLink))
	assert.Equal(t, 1, r.Count())

	e, ok := r.Get("alice")
	require.True(t, ok)
	assert.Equal(t, "10.0.0.2", e.Host)
	assert.Equal(t, 7001, e.MediaPort)
}

func TestRemoveChecksLinkIdentity(t *testing.T) {
	r := NewRegistry()
	old := &fakeLink{}
	fresh := &fakeLink{}

	r.Add("alice", old, "h", 1)
	r.Add("alice", fresh, "h", 1)

	// The stale connection's teardown must not evict the fresh entry.
	assert.False(t, r.Remove("alice", old))
	assert.Equal(t, 1, r.Count())

	assert.True(t, r.Remove("alice", fresh))
	assert.Equal(t, 0, r.Count())
	assert.False(t, r.Remove("alice", fresh))
}

func TestRemoveNilLinkIsUnconditional(t *testing.T) {
	r := NewRegistry()
	r.Add("alice", &fakeLink{}, "h", 1)
	assert.True(t, r.Remove("alice", nil))
}

func TestSnapshotExcludesRequester(t *testing.T) {
	r := NewRegistry()
	r.Add("alice", &fakeLink{}, "10.0.0.1", 7000)
	r.Add("bob", &fakeLink{}, "10.0.0.2", 7001)

	users := r.Snapshot("alice")
	require.Len(t, users, 1)
	assert.Equal(t, "bob", users[0].Username)
	assert.Equal(t, 7001, users[0].P2PPort)
	assert.Equal(t, "10.0.0.2", users[0].ExternalIP)

	_, err := time.Parse(time.RFC3339, users[0].LastSeen)
	assert.NoError(t, err)
}

func TestTouchAndStale(t *testing.T) {
	r := NewRegistry()
	r.Add("alice", &fakeLink{}, "h", 1)
	r.Add("bob", &fakeLink{}, "h", 1)

	assert.True(t, r.Touch("alice"))
	assert.False(t, r.Touch("ghost"))

	// Nothing is stale against a generous cutoff; everything is against a
	// negative one.
	assert.Empty(t, r.Stale(time.Hour))
	assert.ElementsMatch(t, []string{"alice", "bob"}, r.Stale(-time.Second))
}

func TestUpdateReach(t *testing.T) {
	r := NewRegistry()
	r.Add("alice", &fakeLink{}, "10.0.0.1", 7000)

	assert.True(t, r.UpdateReach("alice", "203.0.113.9", 7500))
	e, _ := r.Get("alice")
	assert.Equal(t, "203.0.113.9", e.Host)
	assert.Equal(t, 7500, e.MediaPort)

	assert.False(t, r.UpdateReach("ghost", "h", 1))
}
