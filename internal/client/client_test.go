package client

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/isol8/isol8/internal/engine"
	"github.com/stretchr/testify/require"
)

func TestHealth(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/health", r.URL.Path)
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	c := New(srv.URL, "secret")
	require.NoError(t, c.Health(context.Background()))
}

func TestExecuteSendsBearerAndDecodesResult(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "Bearer secret", r.Header.Get("Authorization"))
		require.Equal(t, "/execute", r.URL.Path)
		var env wireRequestEnvelope
		require.NoError(t, json.NewDecoder(r.Body).Decode(&env))
		require.Equal(t, "python", env.Request.Runtime)

		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(wireResultEnvelope{Result: wireResult{ExitCode: 0, Stdout: "hi\n"}})
	}))
	defer srv.Close()

	c := New(srv.URL, "secret")
	result, err := c.Execute(context.Background(), engine.Request{Code: "print('hi')", Runtime: "python"})
	require.NoError(t, err)
	require.Equal(t, int64(0), result.ExitCode)
	require.Equal(t, "hi\n", result.Stdout)
}

func TestExecuteSurfacesGatewayError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
		_ = json.NewEncoder(w).Encode(map[string]string{"error": "invalid key"})
	}))
	defer srv.Close()

	c := New(srv.URL, "wrong")
	_, err := c.Execute(context.Background(), engine.Request{Code: "x", Runtime: "python"})
	require.Error(t, err)
	require.Contains(t, err.Error(), "invalid key")
}

func TestExecuteStreamDecodesEvents(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/x-ndjson")
		w.WriteHeader(http.StatusOK)
		enc := json.NewEncoder(w)
		_ = enc.Encode(wireStreamEvent{Type: "stdout", Data: "hi\n"})
		_ = enc.Encode(wireStreamEvent{Type: "exit", ExitCode: 0})
	}))
	defer srv.Close()

	c := New(srv.URL, "secret")
	ch, err := c.ExecuteStream(context.Background(), engine.Request{Code: "print('hi')", Runtime: "python"})
	require.NoError(t, err)

	var gotStdout string
	var gotExit int64
	for ev := range ch {
		switch ev.Type {
		case engine.StreamStdout:
			gotStdout += string(ev.Data)
		case engine.StreamExit:
			gotExit = ev.ExitCode
		}
	}
	require.Equal(t, "hi\n", gotStdout)
	require.Equal(t, int64(0), gotExit)
}
