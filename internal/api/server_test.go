package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cuemby/bay/internal/allocator"
	"github.com/cuemby/bay/internal/config"
	"github.com/cuemby/bay/internal/containerdriver"
	"github.com/cuemby/bay/internal/scheduler"
	"github.com/cuemby/bay/internal/store"
	"github.com/cuemby/bay/pkg/forwarder"
)

type fakeStore struct {
	mu           sync.Mutex
	ships        map[string]*store.Ship
	sessionShips map[string]*store.SessionShip
}

func newFakeStore() *fakeStore {
	return &fakeStore{ships: make(map[string]*store.Ship), sessionShips: make(map[string]*store.SessionShip)}
}

func (s *fakeStore) CreateShip(_ context.Context, ship *store.Ship) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *ship
	s.ships[ship.ID] = &cp
	return nil
}

func (s *fakeStore) GetShip(_ context.Context, id string) (*store.Ship, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	ship, ok := s.ships[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	cp := *ship
	return &cp, nil
}

func (s *fakeStore) UpdateShip(_ context.Context, ship *store.Ship) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *ship
	s.ships[ship.ID] = &cp
	return nil
}

func (s *fakeStore) DeleteShip(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.ships, id)
	return nil
}

func (s *fakeStore) ListActiveShips(_ context.Context) ([]*store.Ship, error) { return nil, nil }

func (s *fakeStore) CountActiveShips(_ context.Context) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.ships), nil
}

func (s *fakeStore) CreateSessionShip(_ context.Context, binding *store.SessionShip) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *binding
	s.sessionShips[binding.ID] = &cp
	return nil
}

func (s *fakeStore) GetSessionShip(_ context.Context, sessionID, shipID string) (*store.SessionShip, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, b := range s.sessionShips {
		if b.SessionID == sessionID && b.ShipID == shipID {
			cp := *b
			return &cp, nil
		}
	}
	return nil, store.ErrNotFound
}

func (s *fakeStore) ListSessionShipsForShip(_ context.Context, _ string) ([]*store.SessionShip, error) {
	return nil, nil
}

func (s *fakeStore) UpdateSessionActivity(_ context.Context, _, _ string) error { return nil }

func (s *fakeStore) FindAvailableShip(_ context.Context, _ string) (*store.Ship, error) {
	return nil, store.ErrNotFound
}

func (s *fakeStore) IncrementShipSessionCount(_ context.Context, _ string) error { return nil }
func (s *fakeStore) DecrementShipSessionCount(_ context.Context, _ string) error { return nil }
func (s *fakeStore) Close() error                                               { return nil }

type fakeDriver struct {
	ip string
}

func (d *fakeDriver) CreateShipContainer(_ context.Context, _ string, _ int, _ containerdriver.ResourceSpec) (*containerdriver.CreateResult, error) {
	return &containerdriver.CreateResult{ContainerID: "container-1", IPAddress: d.ip}, nil
}
func (d *fakeDriver) StopShipContainer(_ context.Context, _ string) (bool, error) { return true, nil }
func (d *fakeDriver) GetContainerLogs(_ context.Context, _ string) (string, error) {
	return "log output", nil
}
func (d *fakeDriver) IsContainerRunning(_ context.Context, _ string) bool { return true }
func (d *fakeDriver) Close() error                                       { return nil }

func newTestServer(t *testing.T) (*Server, *fakeStore, string) {
	t.Helper()

	worker := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	t.Cleanup(worker.Close)

	st := newFakeStore()
	drv := &fakeDriver{ip: "127.0.0.1"}
	sched := scheduler.New(st, drv)
	t.Cleanup(sched.Stop)

	cfg := &config.Config{
		AccessToken:             "secret-token",
		MaxShipNum:              10,
		BehaviorAfterMaxShip:    config.BehaviorWait,
		ShipHealthCheckTimeout:  200 * time.Millisecond,
		ShipHealthCheckInterval: 5 * time.Millisecond,
		MaxUploadSize:           1024,
		DefaultShipCPUs:         1,
		DefaultShipMemory:       "512m",
	}

	alloc := allocator.New(st, drv, forwarder.New(serverPort(worker)), sched, cfg)
	return New(alloc, cfg), st, cfg.AccessToken
}

func serverPort(s *httptest.Server) int {
	addr := s.Listener.Addr().String()
	for i := len(addr) - 1; i >= 0; i-- {
		if addr[i] == ':' {
			port := 0
			for _, c := range addr[i+1:] {
				port = port*10 + int(c-'0')
			}
			return port
		}
	}
	return 0
}

func doRequest(t *testing.T, s *Server, method, path, token string, body []byte, headers map[string]string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, bytes.NewReader(body))
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)
	return rec
}

func TestHealth_NoAuthRequired(t *testing.T) {
	s, _, _ := newTestServer(t)
	rec := doRequest(t, s, http.MethodGet, "/health", "", nil, nil)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestRoot_NoAuthRequired(t *testing.T) {
	s, _, _ := newTestServer(t)
	rec := doRequest(t, s, http.MethodGet, "/", "", nil, nil)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestAuth_MissingHeader(t *testing.T) {
	s, _, _ := newTestServer(t)
	rec := doRequest(t, s, http.MethodGet, "/ship/whatever", "", nil, nil)
	assert.Equal(t, http.StatusForbidden, rec.Code)
}

func TestAuth_WrongToken(t *testing.T) {
	s, _, _ := newTestServer(t)
	rec := doRequest(t, s, http.MethodGet, "/ship/whatever", "wrong", nil, nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestCreateShip_MissingSessionID(t *testing.T) {
	s, _, token := newTestServer(t)
	body, _ := json.Marshal(CreateShipRequest{TTL: 60, MaxSessionNum: 1})
	rec := doRequest(t, s, http.MethodPost, "/ship", token, body, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestCreateShip_InvalidBody(t *testing.T) {
	s, _, token := newTestServer(t)
	body, _ := json.Marshal(CreateShipRequest{TTL: 0, MaxSessionNum: 1})
	rec := doRequest(t, s, http.MethodPost, "/ship", token, body, map[string]string{"X-SESSION-ID": "s1"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestCreateShip_Success(t *testing.T) {
	s, _, token := newTestServer(t)
	body, _ := json.Marshal(CreateShipRequest{TTL: 60, MaxSessionNum: 1})
	rec := doRequest(t, s, http.MethodPost, "/ship", token, body, map[string]string{"X-SESSION-ID": "s1"})
	require.Equal(t, http.StatusCreated, rec.Code)

	var resp ShipResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, 1, resp.Status)
	assert.NotEmpty(t, resp.ID)
}

func TestGetShip_NotFound(t *testing.T) {
	s, _, token := newTestServer(t)
	rec := doRequest(t, s, http.MethodGet, "/ship/missing", token, nil, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestGetShip_Success(t *testing.T) {
	s, st, token := newTestServer(t)
	ship := &store.Ship{ID: "ship-1", Status: store.ShipRunning, CreatedAt: time.Now()}
	require.NoError(t, st.CreateShip(context.Background(), ship))

	rec := doRequest(t, s, http.MethodGet, "/ship/ship-1", token, nil, nil)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestDeleteShip_Success(t *testing.T) {
	s, st, token := newTestServer(t)
	ship := &store.Ship{ID: "ship-1", Status: store.ShipRunning, CreatedAt: time.Now()}
	require.NoError(t, st.CreateShip(context.Background(), ship))

	rec := doRequest(t, s, http.MethodDelete, "/ship/ship-1", token, nil, nil)
	assert.Equal(t, http.StatusNoContent, rec.Code)
}

func TestExec_AffinityDenied(t *testing.T) {
	s, st, token := newTestServer(t)
	ship := &store.Ship{ID: "ship-1", Status: store.ShipRunning, IPAddress: "127.0.0.1", CreatedAt: time.Now()}
	require.NoError(t, st.CreateShip(context.Background(), ship))

	body, _ := json.Marshal(ExecRequest{Type: "echo"})
	rec := doRequest(t, s, http.MethodPost, "/ship/ship-1/exec", token, body, map[string]string{"X-SESSION-ID": "unbound-session"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	var respBody ExecResponseBody
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &respBody))
	assert.False(t, respBody.Success)
	assert.Equal(t, "Session does not have access to this ship", respBody.Error)
}

func TestExtendTTL_Success(t *testing.T) {
	s, st, token := newTestServer(t)
	ship := &store.Ship{ID: "ship-1", Status: store.ShipRunning, TTLSeconds: 60, CreatedAt: time.Now()}
	require.NoError(t, st.CreateShip(context.Background(), ship))

	body, _ := json.Marshal(ExtendTTLRequest{TTL: 120})
	rec := doRequest(t, s, http.MethodPost, "/ship/ship-1/extend-ttl", token, body, nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var resp ShipResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, 120, resp.TTL)
}

func TestUpload_MissingFilePathHeader(t *testing.T) {
	s, _, token := newTestServer(t)
	rec := doRequest(t, s, http.MethodPost, "/ship/ship-1/upload", token, nil, map[string]string{"X-SESSION-ID": "s1"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestLogs_Success(t *testing.T) {
	s, st, token := newTestServer(t)
	ship := &store.Ship{ID: "ship-1", Status: store.ShipRunning, ContainerID: "c1", CreatedAt: time.Now()}
	require.NoError(t, st.CreateShip(context.Background(), ship))

	rec := doRequest(t, s, http.MethodGet, "/ship/logs/ship-1", token, nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var resp LogsResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "log output", resp.Logs)
}
