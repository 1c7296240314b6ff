package template

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

type noopSession struct{ diff float64 }

func (n *noopSession) SendSetDifficulty(float64) error { return nil }
func (n *noopSession) SendNotify(JobParams) error       { return nil }
func (n *noopSession) CurrentDifficulty() float64       { return n.diff }
func (n *noopSession) SetCurrentDifficulty(d float64)   { n.diff = d }

func TestNewTemplateHasNoPayout(t *testing.T) {
	tmpl := New()
	assert.False(t, tmpl.HasPayout())
}

func TestSetPayoutOnlyFirstWins(t *testing.T) {
	tmpl := New()
	assert.True(t, tmpl.SetPayout(make([]byte, 20)))
	assert.False(t, tmpl.SetPayout(make([]byte, 20)))
	assert.True(t, tmpl.HasPayout())
}

func TestClearPayoutResets(t *testing.T) {
	tmpl := New()
	tmpl.SetPayout(make([]byte, 20))
	tmpl.ClearPayout()
	assert.False(t, tmpl.HasPayout())
}

func TestSessionSetDisjointness(t *testing.T) {
	tmpl := New()
	s := &noopSession{}
	tmpl.AddNewSession(s)

	tmpl.mu.RLock()
	_, inNew := tmpl.newSessions[s]
	_, inAll := tmpl.allSessions[s]
	tmpl.mu.RUnlock()
	assert.True(t, inNew)
	assert.False(t, inAll)

	remaining := tmpl.RemoveSession(s)
	assert.False(t, remaining)
}

func TestSnapshotNotReadyBeforeFirstPublish(t *testing.T) {
	tmpl := New()
	snap := tmpl.Snapshot()
	assert.False(t, snap.Ready)
}
