package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/felixge/httpsnoop"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mmynk/eventlist/internal/auth"
	"github.com/mmynk/eventlist/internal/models"
)

func TestTokenFromRequest(t *testing.T) {
	r := httptest.NewRequest(http.MethodGet, "/ws?token=from-query", nil)
	token, err := TokenFromRequest(r)
	require.NoError(t, err)
	assert.Equal(t, "from-query", token)

	r.Header.Set("Authorization", "bearer from-header")
	token, err = TokenFromRequest(r)
	require.NoError(t, err)
	assert.Equal(t, "from-header", token, "the header wins over the query")

	r.Header.Set("Authorization", "Basic abc")
	_, err = TokenFromRequest(r)
	assert.ErrorIs(t, err, auth.ErrInvalidToken)

	_, err = TokenFromRequest(httptest.NewRequest(http.MethodGet, "/events/alice", nil))
	assert.ErrorIs(t, err, auth.ErrMissingToken)
}

func TestAuthenticate(t *testing.T) {
	jwtManager := auth.NewJWTManager("secret", time.Hour)
	token, err := jwtManager.Generate(models.NewUser("alice@example.com", "Alice", "hash"))
	require.NoError(t, err)

	var seen string
	h := Authenticate(jwtManager)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = GetIdentity(r.Context())
	}))

	r := httptest.NewRequest(http.MethodGet, "/events/alice@example.com", nil)
	r.Header.Set("Authorization", "Bearer "+token)
	w := httptest.NewRecorder()
	h.ServeHTTP(w, r)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "alice@example.com", seen)

	w = httptest.NewRecorder()
	h.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/events/alice@example.com?token=garbage", nil))
	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.Contains(t, w.Body.String(), "invalid or expired token")
}

func TestLoggingObservesMetrics(t *testing.T) {
	var got httpsnoop.Metrics
	h := Logging(func(_ *http.Request, m httpsnoop.Metrics) { got = m })(
		http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			w.WriteHeader(http.StatusTeapot)
			_, _ = w.Write([]byte("short and stout"))
		}))

	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Equal(t, http.StatusTeapot, got.Code)
	assert.Equal(t, int64(len("short and stout")), got.Written)
}

func TestCORSPreflight(t *testing.T) {
	called := false
	h := CORS(http.HandlerFunc(func(http.ResponseWriter, *http.Request) { called = true }))

	w := httptest.NewRecorder()
	h.ServeHTTP(w, httptest.NewRequest(http.MethodOptions, "/events", nil))
	assert.Equal(t, http.StatusOK, w.Code)
	assert.False(t, called)
	assert.Equal(t, "*", w.Header().Get("Access-Control-Allow-Origin"))
}
