package handler_test

import (
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/coldpath/campaign-engine/internal/handler"
	"github.com/coldpath/campaign-engine/internal/model"
	"github.com/coldpath/campaign-engine/internal/repository"
)

// memTrackingRepo is a minimal in-memory TrackingRepositoryInterface for
// exercising the HTTP endpoints.
type memTrackingRepo struct {
	mu      sync.Mutex
	records map[string]*model.TrackingRecord
}

var _ repository.TrackingRepositoryInterface = (*memTrackingRepo)(nil)

func newMemTrackingRepo(records ...*model.TrackingRecord) *memTrackingRepo {
	r := &memTrackingRepo{records: make(map[string]*model.TrackingRecord)}
	for _, rec := range records {
		r.records[rec.TrackingID] = rec
	}
	return r
}

func (r *memTrackingRepo) GetByTrackingID(id string) (*model.TrackingRecord, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	rec, ok := r.records[id]
	if !ok {
		return nil, nil
	}
	rp := *rec
	return &rp, nil
}

func (r *memTrackingRepo) ListByCampaign(string) ([]*model.TrackingRecord, error) { return nil, nil }
func (r *memTrackingRepo) ListDue(string, time.Time) ([]*model.TrackingRecord, error) {
	return nil, nil
}
func (r *memTrackingRepo) CountByOutcome(string) (map[model.Outcome]int, error) { return nil, nil }
func (r *memTrackingRepo) ListUnsubscribedEmails() ([]string, error)            { return nil, nil }
func (r *memTrackingRepo) MarkSent(string, time.Time) (bool, error)             { return false, nil }
func (r *memTrackingRepo) MarkApplicationError(string, string, time.Time) (bool, error) {
	return false, nil
}
func (r *memTrackingRepo) MarkBounced(string, string, time.Time) (bool, error) { return false, nil }

func (r *memTrackingRepo) RecordOpen(id string, at time.Time) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	rec, ok := r.records[id]
	if !ok {
		return false, nil
	}
	rec.Opens++
	if rec.FirstOpenAt == nil {
		first := at
		rec.FirstOpenAt = &first
	}
	return true, nil
}

func (r *memTrackingRepo) RecordClick(id string, at time.Time) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	rec, ok := r.records[id]
	if !ok {
		return false, nil
	}
	rec.Clicks++
	if rec.FirstClickAt == nil {
		first := at
		rec.FirstClickAt = &first
	}
	return true, nil
}

func (r *memTrackingRepo) MarkReplied(string, time.Time) (bool, error) { return false, nil }

func (r *memTrackingRepo) MarkUnsubscribed(id string, at time.Time) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	rec, ok := r.records[id]
	if !ok || rec.Unsubscribed {
		return false, nil
	}
	rec.Unsubscribed = true
	return true, nil
}

func newRouter(repo *memTrackingRepo) *chi.Mux {
	h := handler.NewTrackingHandler(repo)
	r := chi.NewRouter()
	r.Get("/tracking/open/{trackingID}", h.TrackOpen)
	r.Get("/tracking/click/{trackingID}", h.TrackClick)
	r.Get("/tracking/unsubscribe/{trackingID}", h.Unsubscribe)
	r.Get("/tracking/email/{trackingID}", h.GetTrackingDetails)
	return r
}

func TestTrackOpenServesPixelAndCounts(t *testing.T) {
	repo := newMemTrackingRepo(&model.TrackingRecord{TrackingID: "tid-1", Outcome: model.OutcomeSent})
	router := newRouter(repo)

	for i := 0; i < 3; i++ {
		w := httptest.NewRecorder()
		router.ServeHTTP(w, httptest.NewRequest("GET", "/tracking/open/tid-1", nil))

		resp := w.Result()
		assert.Equal(t, http.StatusOK, resp.StatusCode)
		assert.Equal(t, "image/gif", resp.Header.Get("Content-Type"))
		assert.Contains(t, resp.Header.Get("Cache-Control"), "no-store")
		assert.Equal(t, 43, w.Body.Len())
	}

	rec, err := repo.GetByTrackingID("tid-1")
	require.NoError(t, err)
	assert.Equal(t, 3, rec.Opens)
	require.NotNil(t, rec.FirstOpenAt)

	// The first-open timestamp never moves on later opens.
	first := *rec.FirstOpenAt
	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest("GET", "/tracking/open/tid-1", nil))
	rec, _ = repo.GetByTrackingID("tid-1")
	assert.Equal(t, 4, rec.Opens)
	assert.True(t, rec.FirstOpenAt.Equal(first))
}

func TestTrackOpenUnknownIDStillServesPixel(t *testing.T) {
	router := newRouter(newMemTrackingRepo())

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest("GET", "/tracking/open/nope", nil))

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "image/gif", w.Result().Header.Get("Content-Type"))
	assert.Equal(t, 43, w.Body.Len())
}

func TestTrackClickRedirectsToDestination(t *testing.T) {
	repo := newMemTrackingRepo(&model.TrackingRecord{TrackingID: "tid-1", Outcome: model.OutcomeSent})
	router := newRouter(repo)

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest("GET",
		"/tracking/click/tid-1?url=https%3A%2F%2Fexample.com%2Foffer%3Fx%3D1", nil))

	assert.Equal(t, http.StatusFound, w.Code)
	assert.Equal(t, "https://example.com/offer?x=1", w.Result().Header.Get("Location"))

	rec, _ := repo.GetByTrackingID("tid-1")
	assert.Equal(t, 1, rec.Clicks)
	assert.NotNil(t, rec.FirstClickAt)
}

func TestTrackClickMissingURLRedirectsToRoot(t *testing.T) {
	router := newRouter(newMemTrackingRepo())

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest("GET", "/tracking/click/nope", nil))

	assert.Equal(t, http.StatusFound, w.Code)
	assert.Equal(t, "/", w.Result().Header.Get("Location"))
}

func TestUnsubscribeFlagsRecipient(t *testing.T) {
	repo := newMemTrackingRepo(&model.TrackingRecord{TrackingID: "tid-1", Outcome: model.OutcomeSent})
	router := newRouter(repo)

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest("GET", "/tracking/unsubscribe/tid-1", nil))

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "unsubscribed")

	rec, _ := repo.GetByTrackingID("tid-1")
	assert.True(t, rec.Unsubscribed)
}

func TestGetTrackingDetails(t *testing.T) {
	repo := newMemTrackingRepo(&model.TrackingRecord{
		TrackingID:     "tid-1",
		RecipientEmail: "ada@example.com",
		Outcome:        model.OutcomeSent,
		Opens:          2,
	})
	router := newRouter(repo)

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest("GET", "/tracking/email/tid-1", nil))
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "ada@example.com")

	w = httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest("GET", "/tracking/email/nope", nil))
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Contains(t, w.Body.String(), "tracking record nope not found")
}
