package shares

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/radiant-proxy/rxdproxy/internal/rpc"
	"github.com/radiant-proxy/rxdproxy/internal/template"
)

type fakeEvents struct {
	events []Event
}

func (f *fakeEvents) EmitShare(evt Event) { f.events = append(f.events, evt) }

type fakeHashrate struct {
	calls int
}

func (f *fakeHashrate) AddShare(worker string, difficulty float64, accepted bool, now time.Time) {
	f.calls++
}

type fakeVarDiff struct {
	calls int
}

func (f *fakeVarDiff) RecordShare(worker string, diffUsed float64) { f.calls++ }

func newReadyTemplate(t *testing.T) (*template.Template, *rpc.Client) {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		resp := map[string]interface{}{
			"id": 1,
			"result": rpc.BlockTemplate{
				Version:       1,
				Height:        500,
				Bits:          "1d00ffff",
				PreviousHash:  "0000000000000000000000000000000000000000000000000000000000000001",
				CoinbaseValue: 5000000000,
				Target:        "00000000ffff0000000000000000000000000000000000000000000000000000",
			},
		}
		require.NoError(t, json.NewEncoder(w).Encode(resp))
	}))
	t.Cleanup(srv.Close)

	parsed, err := url.Parse(srv.URL)
	require.NoError(t, err)
	port, err := strconv.Atoi(parsed.Port())
	require.NoError(t, err)
	client := rpc.New(parsed.Hostname(), port, "u", "p", 2*time.Second)

	tmpl := template.New()
	require.True(t, tmpl.SetPayout(make([]byte, 20)))

	updater := template.NewUpdater(client, tmpl, template.Config{NtimeRollSeconds: 30, StaticShareDifficulty: 1})
	published, err := updater.UpdateOnce(context.Background())
	require.NoError(t, err)
	require.True(t, published)

	return tmpl, client
}

func activeJobIDHex(t *testing.T, tmpl *template.Template) string {
	t.Helper()
	snap := tmpl.Snapshot()
	require.True(t, snap.Ready)
	return fmt.Sprintf("%x", snap.JobID)
}

func TestValidateRejectsStaleJob(t *testing.T) {
	tmpl, client := newReadyTemplate(t)
	v := NewValidator(tmpl, client, nil, nil, nil, nil)

	_, err := v.Validate(context.Background(), Submission{
		WorkerID:       "alice",
		JobIDHex:       "deadbeef",
		Extranonce1Hex: "00000001",
		Extranonce2Hex: "00000000",
		NtimeHex:       "00000000",
		NonceHex:       "00000000",
		SentDifficulty: 0.0001,
	})

	require.Error(t, err)
	ve, ok := err.(*ValidationError)
	require.True(t, ok)
	assert.Equal(t, ErrStaleJob, ve.Code)
}

func TestValidateRejectsMalformedHex(t *testing.T) {
	tmpl, client := newReadyTemplate(t)
	v := NewValidator(tmpl, client, nil, nil, nil, nil)
	jobID := activeJobIDHex(t, tmpl)

	_, err := v.Validate(context.Background(), Submission{
		WorkerID:       "alice",
		JobIDHex:       jobID,
		Extranonce1Hex: "00000001",
		Extranonce2Hex: "00000000",
		NtimeHex:       "zz",
		NonceHex:       "00000000",
		SentDifficulty: 0.0001,
	})

	require.Error(t, err)
	ve, ok := err.(*ValidationError)
	require.True(t, ok)
	assert.Equal(t, ErrOther, ve.Code)
}

func TestValidateAcceptsShareAtTinyDifficulty(t *testing.T) {
	tmpl, client := newReadyTemplate(t)
	events := &fakeEvents{}
	hr := &fakeHashrate{}
	vd := &fakeVarDiff{}
	history := t.TempDir() + "/history.jsonl"
	hw, err := NewHistoryWriter(HistoryWriterConfig{Path: history})
	require.NoError(t, err)
	defer hw.Close()

	v := NewValidator(tmpl, client, hr, vd, events, hw)
	jobID := activeJobIDHex(t, tmpl)

	result, err := v.Validate(context.Background(), Submission{
		WorkerID:       "alice",
		JobIDHex:       jobID,
		Extranonce1Hex: "00000001",
		Extranonce2Hex: "00000000",
		NtimeHex:       "01020304",
		NonceHex:       "0a0b0c0d",
		SentDifficulty: 1e-9,
	})

	require.NoError(t, err, "this fixed header's share difficulty clears a sent difficulty of 1e-9")
	require.NotNil(t, result)
	assert.Equal(t, 1, hr.calls)
	assert.Equal(t, 1, vd.calls)
	require.Len(t, events.events, 1)
	assert.True(t, events.events[0].Accepted)
}

func TestValidateRejectsDuplicateSubmission(t *testing.T) {
	tmpl, client := newReadyTemplate(t)
	v := NewValidator(tmpl, client, nil, nil, nil, nil)
	jobID := activeJobIDHex(t, tmpl)

	sub := Submission{
		WorkerID:       "alice",
		JobIDHex:       jobID,
		Extranonce1Hex: "00000001",
		Extranonce2Hex: "00000000",
		NtimeHex:       "01020304",
		NonceHex:       "0a0b0c0d",
		SentDifficulty: 1e-9,
	}

	_, err := v.Validate(context.Background(), sub)
	require.NoError(t, err)

	_, err = v.Validate(context.Background(), sub)
	require.Error(t, err)
	ve, ok := err.(*ValidationError)
	require.True(t, ok)
	assert.Equal(t, ErrDuplicate, ve.Code)
}

func TestForgetStaleJobsDropsUnlistedDuplicateState(t *testing.T) {
	tmpl, client := newReadyTemplate(t)
	v := NewValidator(tmpl, client, nil, nil, nil, nil)
	jobID := activeJobIDHex(t, tmpl)

	v.isDuplicate(jobID, "x")
	assert.Len(t, v.duplicates, 1)

	v.ForgetStaleJobs(map[string]struct{}{})
	assert.Len(t, v.duplicates, 0)
}
