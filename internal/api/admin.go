package api

import (
	"crypto/subtle"
	"errors"
	"net/http"
	"strconv"
	"strings"

	"go.uber.org/zap"

	"github.com/sells-group/estimator/internal/store"
)

const (
	defaultListLimit = 50
	maxListLimit     = 200
)

// requireAdmin accepts the token as a Bearer header or a token query
// parameter. An empty configured token locks the admin routes.
func (s *server) requireAdmin(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.adminToken == "" || !validToken(bearerToken(r), s.adminToken) {
			respondError(w, http.StatusUnauthorized, "unauthorized", "")
			return
		}
		next.ServeHTTP(w, r)
	})
}

func bearerToken(r *http.Request) string {
	if h := r.Header.Get("Authorization"); h != "" {
		if tok, ok := strings.CutPrefix(h, "Bearer "); ok {
			return strings.TrimSpace(tok)
		}
	}
	return r.URL.Query().Get("token")
}

func validToken(got, want string) bool {
	return subtle.ConstantTimeCompare([]byte(got), []byte(want)) == 1
}

// handleAdminList pages through stored quote records.
func (s *server) handleAdminList(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	limit := defaultListLimit
	if raw := q.Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 || n > maxListLimit {
			respondError(w, http.StatusBadRequest, "invalid limit", "limit must be between 1 and 200")
			return
		}
		limit = n
	}

	page, err := s.records.List(r.Context(), store.RecordFilter{
		Date:   q.Get("date"),
		Zip:    q.Get("zip"),
		Limit:  limit,
		Cursor: q.Get("cursor"),
	})
	if err != nil {
		if errors.Is(err, store.ErrInvalidFilter) {
			respondError(w, http.StatusBadRequest, "invalid filter", "date must be YYYY-MM-DD")
			return
		}
		zap.L().Error("api: list records failed", zap.Error(err))
		respondError(w, http.StatusInternalServerError, "list failed", "")
		return
	}
	respondJSON(w, http.StatusOK, page)
}

// handleAdminGet returns one record by the URL the listing gave for it.
// URLs outside the configured store are never fetched.
func (s *server) handleAdminGet(w http.ResponseWriter, r *http.Request) {
	raw := r.URL.Query().Get("url")
	if raw == "" {
		respondError(w, http.StatusBadRequest, "missing url", "")
		return
	}
	key, ok := s.records.Store().KeyFromURL(raw)
	if !ok {
		respondError(w, http.StatusNotFound, "not found", "")
		return
	}

	body, err := s.records.Get(r.Context(), key)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			respondError(w, http.StatusNotFound, "not found", "")
			return
		}
		zap.L().Error("api: get record failed", zap.String("key", key), zap.Error(err))
		respondError(w, http.StatusInternalServerError, "get failed", "")
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	if _, err := w.Write(body); err != nil {
		zap.L().Debug("api: write record", zap.Error(err))
	}
}
