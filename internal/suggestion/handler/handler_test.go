package handler

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"focuswatch/internal/suggestion/models"
	dErrors "focuswatch/pkg/domain-errors"
	"focuswatch/pkg/testutil"
)

type stubService struct {
	got    models.Query
	result *models.Result
	err    error
}

func (s *stubService) Suggestions(_ context.Context, q models.Query) (*models.Result, error) {
	s.got = q
	return s.result, s.err
}

func newRouter(svc Service) http.Handler {
	r := chi.NewRouter()
	r.Route("/api", New(svc, slog.New(slog.NewTextHandler(io.Discard, nil))).Register)
	return r
}

func TestHandleSuggestions(t *testing.T) {
	t.Run("passes the window and returns the list", func(t *testing.T) {
		svc := &stubService{result: &models.Result{
			UserID:      "u1",
			Suggestions: []models.Suggestion{{ID: "sg1", RuleID: "context_switch", Confidence: 0.7}},
		}}
		rr := testutil.DoRequest(newRouter(svc), testutil.NewRequest(t, http.MethodGet,
			"/api/suggestions?user_id=u1&since=2024-03-01T09:00:00Z&until=2024-03-01T10:00:00Z"))

		testutil.AssertStatusOK(t, rr)
		assert.Equal(t, "u1", svc.got.UserID)
		assert.Equal(t, time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC), svc.got.Since)
		assert.Equal(t, time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC), svc.got.Until)

		resp := testutil.UnmarshalResponse[models.Result](t, rr)
		require.Len(t, resp.Suggestions, 1)
		assert.Equal(t, "sg1", resp.Suggestions[0].ID)
		assert.False(t, resp.Stale)
	})

	t.Run("stale list is a success with the flag set", func(t *testing.T) {
		svc := &stubService{result: &models.Result{UserID: "u1", Stale: true}}
		rr := testutil.DoRequest(newRouter(svc), testutil.NewRequest(t, http.MethodGet, "/api/suggestions?user_id=u1"))

		testutil.AssertStatusOK(t, rr)
		resp := testutil.UnmarshalResponse[map[string]any](t, rr)
		assert.Equal(t, true, (*resp)["stale"])
		assert.Equal(t, []any{}, (*resp)["suggestions"])
	})

	t.Run("unavailable maps to 503", func(t *testing.T) {
		svc := &stubService{err: dErrors.New(dErrors.CodeUnavailable, "event store unavailable")}
		rr := testutil.DoRequest(newRouter(svc), testutil.NewRequest(t, http.MethodGet, "/api/suggestions?user_id=u1"))

		testutil.AssertStatusAndError(t, rr, http.StatusServiceUnavailable, "unavailable")
	})

	t.Run("query validation", func(t *testing.T) {
		svc := &stubService{}
		for _, path := range []string{
			"/api/suggestions",
			"/api/suggestions?user_id=u1&since=yesterday",
			"/api/suggestions?user_id=u1&until=soon",
		} {
			rr := testutil.DoRequest(newRouter(svc), testutil.NewRequest(t, http.MethodGet, path))
			testutil.AssertStatusAndError(t, rr, http.StatusBadRequest, "validation_error")
		}
	})
}
