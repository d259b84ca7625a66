package main

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/urfave/cli/v2"
)

func TestHealthCommand_Success(t *testing.T) {
	url, _, _ := newTestServer(t)

	out, err := runApp(t, "--server-url", url, "server", "health")
	require.NoError(t, err)
	assert.Contains(t, out, "Server is healthy")

	out, err = runApp(t, "--server-url", url, "--jq", ".status", "server", "health")
	require.NoError(t, err)
	assert.Equal(t, "ok\n", out)
}

func TestHealthCommand_Failure(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/health", r.URL.Path)
		w.WriteHeader(http.StatusServiceUnavailable)
		w.Write([]byte(`{"status":"unavailable","version":"dev"}`))
	}))
	defer server.Close()

	_, err := runApp(t, "--server-url", server.URL, "server", "health")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "health check failed")
}

func TestHealthCommand_MissingURL(t *testing.T) {
	_, err := runApp(t, "--server-url", "", "server", "health")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "server-url is required")
}

func TestVersionCommand(t *testing.T) {
	out, err := runApp(t, "--json", "server", "version")
	require.NoError(t, err)

	var v map[string]string
	require.NoError(t, json.Unmarshal([]byte(out), &v))
	assert.Equal(t, version, v["version"])
	assert.Equal(t, commit, v["commit"])
}

func TestAppCommandStructure(t *testing.T) {
	app := newApp()

	groups := map[string][]string{
		"db":       {"list-accounts", "list-trust", "list-payments", "list-transfers", "migrate"},
		"account":  {"create", "get", "list", "history"},
		"trust":    {"set", "list"},
		"payment":  {"get"},
		"temporal": {"pay", "result"},
		"nats":     {"subscribe", "await", "inspect-stream"},
		"server":   {"health", "version"},
		"events":   {"stream"},
	}
	for name, subs := range groups {
		cmd := app.Command(name)
		require.NotNil(t, cmd, name)
		for _, sub := range subs {
			assert.NotNil(t, subcommand(cmd, sub), "%s %s", name, sub)
		}
	}
	for _, name := range []string{"pay", "route", "max-sendable", "graph"} {
		assert.NotNil(t, app.Command(name), name)
	}
}

func subcommand(cmd *cli.Command, name string) *cli.Command {
	for _, sub := range cmd.Subcommands {
		if sub.HasName(name) {
			return sub
		}
	}
	return nil
}
