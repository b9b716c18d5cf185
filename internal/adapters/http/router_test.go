package http

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/veilcall/morph/internal/adapters/signal"
	"github.com/veilcall/morph/internal/config"
	"github.com/veilcall/morph/internal/relay"
	"github.com/veilcall/morph/internal/store"
)

func testRouter(t *testing.T) (*store.Memory, http.Handler) {
	t.Helper()
	cfg := &config.Config{Mode: "release", Secret: "test", StaticPath: t.TempDir()}
	st := store.NewMemory()
	ctl := signal.NewController(relay.New(st), st, nil, 0)
	return st, SetupRouter(context.Background(), cfg, st, ctl)
}

func TestGetSession(t *testing.T) {
	st, r := testRouter(t)
	_, err := st.Create("r1", "P1")
	require.NoError(t, err)

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/api/session/r1", nil)
	r.ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)
	var v sessionView
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &v))
	assert.Equal(t, "pending", v.State)
	assert.Len(t, v.Participants, 1)
}

func TestGetSessionNotFound(t *testing.T) {
	_, r := testRouter(t)

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/api/session/nope", nil)
	r.ServeHTTP(w, req)

	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestListSessions(t *testing.T) {
	st, r := testRouter(t)
	_, err := st.Create("r1", "P1")
	require.NoError(t, err)
	_, err = st.Create("r2", "P2")
	require.NoError(t, err)

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/api/sessions", nil)
	r.ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)
	var body struct {
		Sessions []sessionView `json:"sessions"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Len(t, body.Sessions, 2)
}
