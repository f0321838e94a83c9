package httpserver

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"GazeTrialRunner/internal/trial"
)

// staticSource 固定快照
type staticSource struct {
	snap Snapshot
}

func (s *staticSource) Snapshot() Snapshot { return s.snap }

func newTestServer(t *testing.T, snap Snapshot) *httptest.Server {
	t.Helper()
	m := NewMonitor(":0", &staticSource{snap: snap}, nil)
	srv := httptest.NewServer(m.Handler())
	t.Cleanup(srv.Close)
	return srv
}

// TestStatusEndpoint 状态接口返回完整快照
func TestStatusEndpoint(t *testing.T) {
	srv := newTestServer(t, Snapshot{
		RunID:        "run-42",
		SessionState: "RECORDING",
		TrialState:   "WAIT_FOR_INPUT",
		TrialsDone:   1,
		MessageCount: 9,
		Trials:       []*trial.Trial{{Index: 1, ReactionMS: 320, Result: 0}},
	})

	resp, err := http.Get(srv.URL + "/api/v1/status")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "application/json", resp.Header.Get("Content-Type"))

	var snap Snapshot
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&snap))
	assert.Equal(t, "run-42", snap.RunID)
	assert.Equal(t, "RECORDING", snap.SessionState)
	assert.Equal(t, 1, snap.TrialsDone)
	assert.Equal(t, 9, snap.MessageCount)
}

// TestTrialsEndpoint 试次接口只返回试次历史
func TestTrialsEndpoint(t *testing.T) {
	srv := newTestServer(t, Snapshot{
		Trials: []*trial.Trial{
			{Index: 1, ReactionMS: 310},
			{Index: 2, ReactionMS: 450},
		},
	})

	resp, err := http.Get(srv.URL + "/api/v1/trials")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var trials []*trial.Trial
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&trials))
	require.Len(t, trials, 2)
	assert.Equal(t, int64(450), trials[1].ReactionMS)
}

// TestHealthEndpoint 健康检查
func TestHealthEndpoint(t *testing.T) {
	srv := newTestServer(t, Snapshot{})

	resp, err := http.Get(srv.URL + "/healthz")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

// TestMethodNotAllowed 状态接口只接受GET
func TestMethodNotAllowed(t *testing.T) {
	srv := newTestServer(t, Snapshot{})

	resp, err := http.Post(srv.URL+"/api/v1/status", "application/json", nil)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusMethodNotAllowed, resp.StatusCode)
}
