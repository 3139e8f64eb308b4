// Copyright © 2026 the aemstarter authors
// SPDX-License-Identifier: Apache-2.0

package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dfoerderreuther/aemstarter/internal/backup"
	"github.com/dfoerderreuther/aemstarter/internal/events"
	"github.com/dfoerderreuther/aemstarter/internal/instance"
	"github.com/dfoerderreuther/aemstarter/internal/orchestrate"
	"github.com/dfoerderreuther/aemstarter/internal/project"
	"github.com/dfoerderreuther/aemstarter/internal/terminal"
)

type nullScanner struct{}

func (nullScanner) FindListenerPID(ctx context.Context, port int) (int, bool) { return 0, false }

func testServer(t *testing.T) (*httptest.Server, func()) {
	t.Helper()

	proj := &project.Project{
		ID:         "test",
		Name:       "Test",
		Folder:     t.TempDir(),
		Author:     project.InstanceSettings{Port: 4502},
		Publish:    project.InstanceSettings{Port: 4503},
		Dispatcher: project.InstanceSettings{Port: 8080},
	}
	bus := events.NewMemoryEventBus(events.MemoryBusConfig{HistoryMaxEvents: 100})
	reg := instance.NewRegistry(bus, nullScanner{}, nil, instance.HealthConfig{Path: "/"})
	engine := backup.NewEngine(proj, bus, backup.Config{})
	coord := orchestrate.NewCoordinator(proj, reg, nil, bus)
	tasks := orchestrate.NewTaskRunner(coord, engine)
	terms := terminal.NewMultiplexer(bus, proj.ID)

	router := NewRouter(Dependencies{
		Project:     proj,
		Registry:    reg,
		Coordinator: coord,
		Tasks:       tasks,
		Backups:     engine,
		Terminals:   terms,
		EventBus:    bus,
	})

	srv := httptest.NewServer(router)
	return srv, func() {
		srv.Close()
		reg.Shutdown()
		bus.Close()
	}
}

// decodeData unwraps the standard response envelope.
func decodeData(t *testing.T, resp *http.Response) map[string]interface{} {
	t.Helper()
	defer resp.Body.Close()
	var envelope struct {
		Data map[string]interface{} `json:"data"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&envelope))
	return envelope.Data
}

func TestListInstances(t *testing.T) {
	srv, cleanup := testServer(t)
	defer cleanup()

	resp, err := http.Get(srv.URL + "/api/v1/instances")
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	data := decodeData(t, resp)
	instances, ok := data["instances"].([]interface{})
	require.True(t, ok)
	assert.Len(t, instances, 3)
}

func TestUnknownInstanceTypeIs400(t *testing.T) {
	srv, cleanup := testServer(t)
	defer cleanup()

	resp, err := http.Get(srv.URL + "/api/v1/instances/bogus")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestStopNeverStartedInstance(t *testing.T) {
	srv, cleanup := testServer(t)
	defer cleanup()

	resp, err := http.Post(srv.URL+"/api/v1/instances/author/stop", "application/json", nil)
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	data := decodeData(t, resp)
	assert.Equal(t, false, data["wasRunning"])
}

func TestDispatcherHasNoHealthEndpoint(t *testing.T) {
	srv, cleanup := testServer(t)
	defer cleanup()

	resp, err := http.Get(srv.URL + "/api/v1/instances/dispatcher/health")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestBackupLifecycleOverHTTP(t *testing.T) {
	srv, cleanup := testServer(t)
	defer cleanup()

	body, _ := json.Marshal(map[string]interface{}{"name": "Test Run!", "compress": true})
	resp, err := http.Post(srv.URL+"/api/v1/backups", "application/json", bytes.NewReader(body))
	require.NoError(t, err)
	assert.Equal(t, http.StatusCreated, resp.StatusCode)
	data := decodeData(t, resp)
	assert.Equal(t, "Test_Run", data["name"])

	resp, err = http.Get(srv.URL + "/api/v1/backups")
	require.NoError(t, err)
	listData := decodeData(t, resp)
	backups, ok := listData["backups"].([]interface{})
	require.True(t, ok)
	assert.Len(t, backups, 1)

	req, _ := http.NewRequest(http.MethodDelete, srv.URL+"/api/v1/backups/Test_Run", nil)
	resp, err = http.DefaultClient.Do(req)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestRestoreUnknownBackupIs404(t *testing.T) {
	srv, cleanup := testServer(t)
	defer cleanup()

	resp, err := http.Post(srv.URL+"/api/v1/backups/ghost/restore", "application/json", nil)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestTaskListAndUnknownTask(t *testing.T) {
	srv, cleanup := testServer(t)
	defer cleanup()

	resp, err := http.Get(srv.URL + "/api/v1/stack/tasks")
	require.NoError(t, err)
	data := decodeData(t, resp)
	tasks, ok := data["tasks"].([]interface{})
	require.True(t, ok)
	assert.Contains(t, tasks, "start")
	assert.Contains(t, tasks, "restore-last")

	resp, err = http.Post(srv.URL+"/api/v1/stack/tasks/explode/run", "application/json", nil)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestKillUnknownTerminalIs404(t *testing.T) {
	srv, cleanup := testServer(t)
	defer cleanup()

	req, _ := http.NewRequest(http.MethodDelete, srv.URL+"/api/v1/terminals/nope", nil)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestCheckTLSConfig(t *testing.T) {
	enabled, err := CheckTLSConfig("", "")
	require.NoError(t, err)
	assert.False(t, enabled)

	_, err = CheckTLSConfig("cert.pem", "")
	assert.Error(t, err)

	_, err = CheckTLSConfig("/does/not/exist.pem", "/does/not/exist.key")
	assert.Error(t, err)
}
