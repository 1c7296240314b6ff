package template

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/radiant-proxy/rxdproxy/internal/rpc"
)

type fakeSession struct {
	diff        float64
	notifies    []JobParams
	setDiffs    []float64
	failOnSend  bool
}

func (f *fakeSession) SendSetDifficulty(diff float64) error {
	if f.failOnSend {
		return assert.AnError
	}
	f.setDiffs = append(f.setDiffs, diff)
	return nil
}

func (f *fakeSession) SendNotify(params JobParams) error {
	if f.failOnSend {
		return assert.AnError
	}
	f.notifies = append(f.notifies, params)
	return nil
}

func (f *fakeSession) CurrentDifficulty() float64    { return f.diff }
func (f *fakeSession) SetCurrentDifficulty(d float64) { f.diff = d }

func gbtServer(t *testing.T, height int64) *httptest.Server {
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		resp := map[string]interface{}{
			"id": 1,
			"result": rpc.BlockTemplate{
				Version:           1,
				Height:            height,
				Bits:              "1d00ffff",
				PreviousHash:      "00000000000000000000000000000000000000000000000000000000000001",
				CoinbaseValue:     5000000000,
				Target:            "00000000ffff0000000000000000000000000000000000000000000000000000",
				Transactions:      nil,
			},
		}
		require.NoError(t, json.NewEncoder(w).Encode(resp))
	}))
}

func TestUpdateOnceSkipsWithoutPayout(t *testing.T) {
	srv := gbtServer(t, 100)
	defer srv.Close()

	host, port := splitHostPort(t, srv.URL)
	client := rpc.New(host, port, "u", "p", 2*time.Second)
	tmpl := New()
	updater := NewUpdater(client, tmpl, Config{NtimeRollSeconds: 30, StaticShareDifficulty: 1})

	published, err := updater.UpdateOnce(context.Background())
	require.NoError(t, err)
	assert.False(t, published)
}

func TestUpdateOncePublishesAndMigratesNewSession(t *testing.T) {
	srv := gbtServer(t, 100)
	defer srv.Close()

	host, port := splitHostPort(t, srv.URL)
	client := rpc.New(host, port, "u", "p", 2*time.Second)
	tmpl := New()
	h160 := make([]byte, 20)
	require.True(t, tmpl.SetPayout(h160))

	sess := &fakeSession{}
	tmpl.AddNewSession(sess)

	updater := NewUpdater(client, tmpl, Config{NtimeRollSeconds: 30, StaticShareDifficulty: 2})
	published, err := updater.UpdateOnce(context.Background())
	require.NoError(t, err)
	assert.True(t, published)
	require.Len(t, sess.notifies, 1)
	assert.True(t, sess.notifies[0].Clean)
	assert.NotZero(t, sess.diff)

	snap := tmpl.Snapshot()
	assert.True(t, snap.Ready)
	assert.Equal(t, int64(100), snap.Height)
}

func TestUpdateOnceSecondCallWithoutRollIsNoPublish(t *testing.T) {
	srv := gbtServer(t, 100)
	defer srv.Close()

	host, port := splitHostPort(t, srv.URL)
	client := rpc.New(host, port, "u", "p", 2*time.Second)
	tmpl := New()
	h160 := make([]byte, 20)
	tmpl.SetPayout(h160)

	updater := NewUpdater(client, tmpl, Config{NtimeRollSeconds: 3600, StaticShareDifficulty: 1})
	_, err := updater.UpdateOnce(context.Background())
	require.NoError(t, err)

	published, err := updater.UpdateOnce(context.Background())
	require.NoError(t, err)
	assert.False(t, published)
}

func splitHostPort(t *testing.T, rawURL string) (string, int) {
	t.Helper()
	parsed, err := url.Parse(rawURL)
	require.NoError(t, err)
	port, err := strconv.Atoi(parsed.Port())
	require.NoError(t, err)
	return parsed.Hostname(), port
}
