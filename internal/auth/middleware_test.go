package auth

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func protected(t *testing.T) (http.Handler, *TokenService, *string) {
	t.Helper()
	ts := newTestTokenService(t)
	var seen string
	h := RequireAuth(ts)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen, _ = SubjectFromContext(r.Context())
		w.WriteHeader(http.StatusNoContent)
	}))
	return h, ts, &seen
}

func TestRequireAuth(t *testing.T) {
	h, ts, seen := protected(t)
	valid, err := ts.Generate("editor", time.Hour)
	require.NoError(t, err)
	expired, err := ts.Generate("editor", -time.Minute)
	require.NoError(t, err)

	tests := []struct {
		name        string
		prepare     func(r *http.Request)
		wantStatus  int
		wantSubject string
	}{
		{
			name:        "bearer header",
			prepare:     func(r *http.Request) { r.Header.Set("Authorization", "Bearer "+valid) },
			wantStatus:  http.StatusNoContent,
			wantSubject: "editor",
		},
		{
			name:        "lowercase scheme",
			prepare:     func(r *http.Request) { r.Header.Set("Authorization", "bearer "+valid) },
			wantStatus:  http.StatusNoContent,
			wantSubject: "editor",
		},
		{
			name:        "cookie",
			prepare:     func(r *http.Request) { r.AddCookie(&http.Cookie{Name: CookieName, Value: valid}) },
			wantStatus:  http.StatusNoContent,
			wantSubject: "editor",
		},
		{
			name:       "no token",
			prepare:    func(*http.Request) {},
			wantStatus: http.StatusUnauthorized,
		},
		{
			name:       "basic scheme",
			prepare:    func(r *http.Request) { r.Header.Set("Authorization", "Basic dXNlcjpwYXNz") },
			wantStatus: http.StatusUnauthorized,
		},
		{
			name:       "expired",
			prepare:    func(r *http.Request) { r.Header.Set("Authorization", "Bearer "+expired) },
			wantStatus: http.StatusUnauthorized,
		},
		{
			name: "bad header wins over good cookie",
			prepare: func(r *http.Request) {
				r.Header.Set("Authorization", "Bearer nope")
				r.AddCookie(&http.Cookie{Name: CookieName, Value: valid})
			},
			wantStatus: http.StatusUnauthorized,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			*seen = ""
			req := httptest.NewRequest(http.MethodGet, "/api/evaluations", nil)
			tt.prepare(req)
			rr := httptest.NewRecorder()

			h.ServeHTTP(rr, req)

			assert.Equal(t, tt.wantStatus, rr.Code)
			assert.Equal(t, tt.wantSubject, *seen)
			if tt.wantStatus == http.StatusUnauthorized {
				assert.JSONEq(t, `{"error":"unauthorized","message":"valid authentication required"}`, rr.Body.String())
			}
		})
	}
}

func TestSubjectFromContext_Anonymous(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	_, ok := SubjectFromContext(req.Context())
	assert.False(t, ok)
}
