package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/parlo-app/parlo-api/internal/domain"
)

const testSecret = "0123456789abcdef0123456789abcdef"

// echoIdentity responds 200 with the identity the middleware stored, so
// tests can assert on what reached the handler.
func echoIdentity(t *testing.T, wantUserID uuid.UUID, wantRole domain.Role) http.Handler {
	t.Helper()
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		userID, ok := GetUserID(r)
		require.True(t, ok)
		assert.Equal(t, wantUserID, userID)

		role, ok := GetUserRole(r)
		require.True(t, ok)
		assert.Equal(t, wantRole, role)

		w.WriteHeader(http.StatusOK)
	})
}

func TestAuthenticate(t *testing.T) {
	t.Parallel()
	mw := NewAuthMiddleware(testSecret)
	userID := uuid.New()

	t.Run("valid token passes identity to handler", func(t *testing.T) {
		t.Parallel()
		token, err := mw.GenerateToken(userID, domain.RolePlus, time.Hour)
		require.NoError(t, err)

		w := httptest.NewRecorder()
		r := httptest.NewRequest(http.MethodGet, "/api/generations", nil)
		r.Header.Set("Authorization", "Bearer "+token)

		mw.Authenticate(echoIdentity(t, userID, domain.RolePlus)).ServeHTTP(w, r)
		assert.Equal(t, http.StatusOK, w.Code)
	})

	t.Run("missing header returns 401", func(t *testing.T) {
		t.Parallel()
		w := httptest.NewRecorder()
		r := httptest.NewRequest(http.MethodGet, "/api/generations", nil)

		mw.Authenticate(failHandler(t)).ServeHTTP(w, r)
		assert.Equal(t, http.StatusUnauthorized, w.Code)
	})

	t.Run("malformed header returns 401", func(t *testing.T) {
		t.Parallel()
		w := httptest.NewRecorder()
		r := httptest.NewRequest(http.MethodGet, "/api/generations", nil)
		r.Header.Set("Authorization", "Basic abc123")

		mw.Authenticate(failHandler(t)).ServeHTTP(w, r)
		assert.Equal(t, http.StatusUnauthorized, w.Code)
	})

	t.Run("expired token returns 401", func(t *testing.T) {
		t.Parallel()
		token, err := mw.GenerateToken(userID, domain.RoleFree, -time.Minute)
		require.NoError(t, err)

		w := httptest.NewRecorder()
		r := httptest.NewRequest(http.MethodGet, "/api/generations", nil)
		r.Header.Set("Authorization", "Bearer "+token)

		mw.Authenticate(failHandler(t)).ServeHTTP(w, r)
		assert.Equal(t, http.StatusUnauthorized, w.Code)
		assert.Contains(t, w.Body.String(), "expired")
	})

	t.Run("token signed with another secret returns 401", func(t *testing.T) {
		t.Parallel()
		other := NewAuthMiddleware("another-secret-another-secret-xx")
		token, err := other.GenerateToken(userID, domain.RoleFree, time.Hour)
		require.NoError(t, err)

		w := httptest.NewRecorder()
		r := httptest.NewRequest(http.MethodGet, "/api/generations", nil)
		r.Header.Set("Authorization", "Bearer "+token)

		mw.Authenticate(failHandler(t)).ServeHTTP(w, r)
		assert.Equal(t, http.StatusUnauthorized, w.Code)
	})

	t.Run("unknown role returns 401", func(t *testing.T) {
		t.Parallel()
		token, err := mw.GenerateToken(userID, domain.Role("superuser"), time.Hour)
		require.NoError(t, err)

		w := httptest.NewRecorder()
		r := httptest.NewRequest(http.MethodGet, "/api/generations", nil)
		r.Header.Set("Authorization", "Bearer "+token)

		mw.Authenticate(failHandler(t)).ServeHTTP(w, r)
		assert.Equal(t, http.StatusUnauthorized, w.Code)
	})
}

// failHandler fails the test if the middleware lets the request through.
func failHandler(t *testing.T) http.Handler {
	t.Helper()
	return http.HandlerFunc(func(_ http.ResponseWriter, _ *http.Request) {
		t.Fatal("handler should not be reached")
	})
}
