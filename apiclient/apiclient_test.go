package apiclient

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestGet_DecodesJSONResponse(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/status", r.URL.Path)
		json.NewEncoder(w).Encode(map[string]string{"status": "running"}) //nolint:errcheck
	}))
	defer srv.Close()

	c := New(Options{BaseURL: srv.URL})

	var out map[string]string
	require.NoError(t, c.Get(context.Background(), "/status", &out))
	require.Equal(t, "running", out["status"])
}

func TestGet_NonOKStatusIsAnError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	c := New(Options{BaseURL: srv.URL})

	var out map[string]string
	require.Error(t, c.Get(context.Background(), "/status", &out))
}

func TestPost_AttachesBearerToken(t *testing.T) {
	var gotAuth string

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		w.WriteHeader(http.StatusAccepted)
	}))
	defer srv.Close()

	c := New(Options{BaseURL: srv.URL, BearerToken: "cancel-token-123"})

	require.NoError(t, c.Post(context.Background(), "/cancel", nil))
	require.Equal(t, "Bearer cancel-token-123", gotAuth)
}

func TestPost_OmitsAuthorizationHeaderWithoutToken(t *testing.T) {
	var gotAuth string

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	c := New(Options{BaseURL: srv.URL})

	require.NoError(t, c.Post(context.Background(), "/cancel", nil))
	require.Empty(t, gotAuth)
}

func TestPost_NonSuccessStatusIsAnError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	c := New(Options{BaseURL: srv.URL})

	require.Error(t, c.Post(context.Background(), "/cancel", nil))
}
