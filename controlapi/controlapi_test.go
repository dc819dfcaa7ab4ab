package controlapi

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/kopia/imageintact/config"
	"github.com/kopia/imageintact/destination"
	"github.com/kopia/imageintact/orchestrator"
	"github.com/kopia/imageintact/session"
)

func newTestServer(t *testing.T) (*Server, *httptest.Server) {
	t.Helper()

	srcDir, destDir := t.TempDir(), t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(srcDir, "a.jpg"), []byte("one"), 0o644))

	sess := session.New(srcDir, []string{destDir})
	orch := orchestrator.New(sess, srcDir, []orchestrator.Destination{{
		MountPath: destDir,
		Medium:    destination.MediumInternal,
		Backend:   destination.NewLocalBackend(destDir),
	}}, config.Default())

	srv := New(sess, orch, []byte("test-signing-key"))
	hs := httptest.NewServer(srv.Handler())

	t.Cleanup(hs.Close)

	return srv, hs
}

func TestHandleStatus_ReportsSessionIdentity(t *testing.T) {
	srv, hs := newTestServer(t)

	resp, err := http.Get(hs.URL + "/status")
	require.NoError(t, err)
	defer resp.Body.Close()

	require.Equal(t, http.StatusOK, resp.StatusCode)

	var status StatusResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&status))
	require.Equal(t, srv.Session.ID, status.SessionID)
	require.Equal(t, srv.Session.Nickname, status.Nickname)
}

func TestHandleCancel_RejectsMissingToken(t *testing.T) {
	_, hs := newTestServer(t)

	resp, err := http.Post(hs.URL+"/cancel", "", nil)
	require.NoError(t, err)
	defer resp.Body.Close()

	require.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestHandleCancel_AcceptsValidToken(t *testing.T) {
	srv, hs := newTestServer(t)

	token, err := MintCancelToken(srv.Session.ID, srv.SigningKey)
	require.NoError(t, err)

	req, err := http.NewRequest(http.MethodPost, hs.URL+"/cancel", nil)
	require.NoError(t, err)
	req.Header.Set("Authorization", "Bearer "+token)

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	require.Equal(t, http.StatusAccepted, resp.StatusCode)
}

func TestHandleCancel_RejectsTokenForAnotherSession(t *testing.T) {
	srv, hs := newTestServer(t)

	token, err := MintCancelToken("some-other-session-id", srv.SigningKey)
	require.NoError(t, err)

	req, err := http.NewRequest(http.MethodPost, hs.URL+"/cancel", nil)
	require.NoError(t, err)
	req.Header.Set("Authorization", "Bearer "+token)

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	require.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestHandleProgress_ReturnsZeroValueBeforeRun(t *testing.T) {
	_, hs := newTestServer(t)

	resp, err := http.Get(hs.URL + "/progress")
	require.NoError(t, err)
	defer resp.Body.Close()

	require.Equal(t, http.StatusOK, resp.StatusCode)

	var p progressJSON
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&p))
	require.Equal(t, int64(0), p.CopiedFiles)
}

func TestHandleMetrics_ServesPrometheusExposition(t *testing.T) {
	_, hs := newTestServer(t)

	resp, err := http.Get(hs.URL + "/metrics")
	require.NoError(t, err)
	defer resp.Body.Close()

	require.Equal(t, http.StatusOK, resp.StatusCode)
}
