package supervisor

import (
	"bytes"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/tunedex/tunecrawler/internal/config"
)

type fakeManager struct {
	procs    []Process
	listErr  error
	startErr error
	stopErr  error

	startedRole string
	startedID   string
	stopped     [][2]string
	stopAllN    int
}

func (m *fakeManager) List() ([]Process, error) { return m.procs, m.listErr }

func (m *fakeManager) Start(role, id string) (Process, error) {
	m.startedRole, m.startedID = role, id
	if m.startErr != nil {
		return Process{}, m.startErr
	}
	if id == "" {
		id = "generated"
	}
	return Process{Role: role, ID: id, PID: 4321, Alive: true}, nil
}

func (m *fakeManager) Stop(role, id string) error {
	m.stopped = append(m.stopped, [2]string{role, id})
	return m.stopErr
}

func (m *fakeManager) StopAll() (int, error) { return m.stopAllN, m.listErr }

func newTestServer(m *fakeManager, auth config.AuthConfig) *httptest.Server {
	return httptest.NewServer(NewServer(m, auth, zap.NewNop()).Handler())
}

func decodeBody(t *testing.T, resp *http.Response, into any) {
	t.Helper()
	defer resp.Body.Close()
	require.NoError(t, json.NewDecoder(resp.Body).Decode(into))
}

func TestHealthz(t *testing.T) {
	t.Parallel()
	srv := newTestServer(&fakeManager{}, config.AuthConfig{})
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/healthz")
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.NotEmpty(t, resp.Header.Get("X-Request-ID"))

	var body map[string]string
	decodeBody(t, resp, &body)
	require.Equal(t, "ok", body["status"])
}

func TestReadyzReportsRegistryFailure(t *testing.T) {
	t.Parallel()
	srv := newTestServer(&fakeManager{listErr: errors.New("boom")}, config.AuthConfig{})
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/readyz")
	require.NoError(t, err)
	resp.Body.Close()
	require.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
}

func TestListProcesses(t *testing.T) {
	t.Parallel()
	m := &fakeManager{procs: []Process{
		{Role: "fetcher", ID: "f-1", PID: 100, Alive: true},
		{Role: "parser", ID: "p-1", PID: 101, Alive: false},
	}}
	srv := newTestServer(m, config.AuthConfig{})
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/v1/processes")
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var body struct {
		Processes []Process `json:"processes"`
	}
	decodeBody(t, resp, &body)
	require.Len(t, body.Processes, 2)
	require.Equal(t, "f-1", body.Processes[0].ID)
	require.False(t, body.Processes[1].Alive)
}

func TestListProcessesEmptyIsArray(t *testing.T) {
	t.Parallel()
	srv := newTestServer(&fakeManager{}, config.AuthConfig{})
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/v1/processes")
	require.NoError(t, err)
	var body struct {
		Processes []Process `json:"processes"`
	}
	decodeBody(t, resp, &body)
	require.NotNil(t, body.Processes)
	require.Empty(t, body.Processes)
}

func TestStartProcess(t *testing.T) {
	t.Parallel()
	m := &fakeManager{}
	srv := newTestServer(m, config.AuthConfig{})
	defer srv.Close()

	payload := bytes.NewBufferString(`{"role":"fetcher","id":"f-7"}`)
	resp, err := http.Post(srv.URL+"/v1/processes", "application/json", payload)
	require.NoError(t, err)
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	require.Equal(t, "fetcher", m.startedRole)
	require.Equal(t, "f-7", m.startedID)

	var body struct {
		Process Process `json:"process"`
	}
	decodeBody(t, resp, &body)
	require.Equal(t, 4321, body.Process.PID)
}

func TestStartProcessRejectsUnknownRole(t *testing.T) {
	t.Parallel()
	srv := newTestServer(&fakeManager{}, config.AuthConfig{})
	defer srv.Close()

	payload := bytes.NewBufferString(`{"role":"dispatcher"}`)
	resp, err := http.Post(srv.URL+"/v1/processes", "application/json", payload)
	require.NoError(t, err)
	resp.Body.Close()
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestStartProcessRejectsBadJSON(t *testing.T) {
	t.Parallel()
	srv := newTestServer(&fakeManager{}, config.AuthConfig{})
	defer srv.Close()

	resp, err := http.Post(srv.URL+"/v1/processes", "application/json", bytes.NewBufferString("{"))
	require.NoError(t, err)
	resp.Body.Close()
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestStopProcess(t *testing.T) {
	t.Parallel()
	m := &fakeManager{}
	srv := newTestServer(m, config.AuthConfig{})
	defer srv.Close()

	req, err := http.NewRequest(http.MethodDelete, srv.URL+"/v1/processes/fetcher/f-1", nil)
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Equal(t, [][2]string{{"fetcher", "f-1"}}, m.stopped)
}

func TestStopProcessNotFound(t *testing.T) {
	t.Parallel()
	m := &fakeManager{stopErr: os.ErrNotExist}
	srv := newTestServer(m, config.AuthConfig{})
	defer srv.Close()

	req, err := http.NewRequest(http.MethodDelete, srv.URL+"/v1/processes/fetcher/missing", nil)
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	resp.Body.Close()
	require.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestStopAll(t *testing.T) {
	t.Parallel()
	m := &fakeManager{stopAllN: 3}
	srv := newTestServer(m, config.AuthConfig{})
	defer srv.Close()

	resp, err := http.Post(srv.URL+"/v1/processes/stop-all", "application/json", nil)
	require.NoError(t, err)
	var body map[string]int
	decodeBody(t, resp, &body)
	require.Equal(t, 3, body["stopped"])
}

func TestAPIKeyMiddleware(t *testing.T) {
	t.Parallel()
	auth := config.AuthConfig{Enabled: true, APIKey: "secret"}
	srv := newTestServer(&fakeManager{}, auth)
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/v1/processes")
	require.NoError(t, err)
	resp.Body.Close()
	require.Equal(t, http.StatusForbidden, resp.StatusCode)

	req, err := http.NewRequest(http.MethodGet, srv.URL+"/v1/processes", nil)
	require.NoError(t, err)
	req.Header.Set("X-API-Key", "secret")
	resp, err = http.DefaultClient.Do(req)
	require.NoError(t, err)
	resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	resp, err = http.Get(srv.URL + "/v1/processes?api_key=secret")
	require.NoError(t, err)
	resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestMetricsEndpointServesPrometheus(t *testing.T) {
	t.Parallel()
	srv := newTestServer(&fakeManager{}, config.AuthConfig{})
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/metrics")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
}
