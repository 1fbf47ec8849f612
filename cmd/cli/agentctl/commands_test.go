package main

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/core-tools/hsu-node-agent/pkg/config"
	"github.com/core-tools/hsu-node-agent/pkg/domain"
	"github.com/core-tools/hsu-node-agent/pkg/errors"
	"github.com/core-tools/hsu-node-agent/pkg/logging"

	"github.com/fatih/color"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestUpdateCommand(t *testing.T) {
	color.NoColor = true

	var received config.ServerDefinition
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPut, r.Method)
		assert.Equal(t, "/api/servers/survival", r.URL.Path)
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&received))

		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(domain.ServerStatus{
			ServerDefinition: received,
			Status:           domain.RunStateStopped,
		})
	}))
	defer server.Close()

	path := filepath.Join(t.TempDir(), "survival.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"name":"Survival","directory":"/srv/survival","jar":"server.jar","memory_mb":4096,"port":25565}`), 0644))

	a := &app{
		opts:   globalOptions{URL: server.URL, Timeout: 5 * time.Second},
		logger: logging.NewNopLogger(),
	}
	cmd := &updateCommand{app: a, File: path}
	cmd.Args.ID = "survival"

	require.NoError(t, cmd.Execute(nil))
	assert.Equal(t, "survival", received.ID, "id defaults to the positional argument")
	assert.Equal(t, 4096, received.MemoryMB)
}

func TestUpdateCommand_ErrorResponse(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusConflict)
		_, _ = w.Write([]byte(`{"error":"cannot change directory while running","type":"conflict"}`))
	}))
	defer server.Close()

	path := filepath.Join(t.TempDir(), "survival.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"id":"survival"}`), 0644))

	a := &app{
		opts:   globalOptions{URL: server.URL, Timeout: 5 * time.Second},
		logger: logging.NewNopLogger(),
	}
	cmd := &updateCommand{app: a, File: path}
	cmd.Args.ID = "survival"

	err := cmd.Execute(nil)
	assert.True(t, errors.IsConflictError(err))
	assert.Contains(t, err.Error(), "cannot change directory while running")
}
