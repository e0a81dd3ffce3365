package batch

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"bookpipeline/internal/apperr"

	"github.com/golang/mock/gomock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHTTPHandler_List(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()
	mockRepo := NewMockRepository(ctrl)
	handler := NewHTTPHandler(NewService(mockRepo, nil))

	t.Run("success with filters", func(t *testing.T) {
		mockRepo.EXPECT().List(gomock.Any(), Query{
			Status: StatusFailed, Source: SourceGutenberg, Environment: "staging", Limit: 10, Offset: 10,
		}).Return([]Batch{{ID: "b-1", Status: StatusFailed}}, 11, nil)

		w := httptest.NewRecorder()
		r := httptest.NewRequest(http.MethodGet, "/v1/batches?status=failed&source=GUTENBERG&environment=staging&page=2&page_size=10", nil)
		handler.List(w, r)

		assert.Equal(t, http.StatusOK, w.Code)
		var resp struct {
			Data []Batch        `json:"data"`
			Meta map[string]any `json:"meta"`
		}
		require.NoError(t, json.NewDecoder(w.Body).Decode(&resp))
		assert.Len(t, resp.Data, 1)
		assert.EqualValues(t, 2, resp.Meta["total_pages"])
	})

	t.Run("unknown status", func(t *testing.T) {
		w := httptest.NewRecorder()
		r := httptest.NewRequest(http.MethodGet, "/v1/batches?status=sleeping", nil)
		handler.List(w, r)

		assert.Equal(t, http.StatusBadRequest, w.Code)
	})

	t.Run("repository error", func(t *testing.T) {
		mockRepo.EXPECT().List(gomock.Any(), gomock.Any()).Return(nil, 0, context.DeadlineExceeded)

		w := httptest.NewRecorder()
		handler.List(w, httptest.NewRequest(http.MethodGet, "/v1/batches", nil))

		assert.Equal(t, http.StatusInternalServerError, w.Code)
	})
}

func TestHTTPHandler_Get(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()
	mockRepo := NewMockRepository(ctrl)
	handler := NewHTTPHandler(NewService(mockRepo, nil))

	t.Run("found", func(t *testing.T) {
		mockRepo.EXPECT().Get(gomock.Any(), "b-1").Return(Batch{ID: "b-1"}, nil)

		w := httptest.NewRecorder()
		r := httptest.NewRequest(http.MethodGet, "/v1/batches/b-1", nil)
		r.SetPathValue("id", "b-1")
		handler.Get(w, r)

		assert.Equal(t, http.StatusOK, w.Code)
	})

	t.Run("not found", func(t *testing.T) {
		mockRepo.EXPECT().Get(gomock.Any(), "nope").Return(Batch{}, apperr.NotFound("batch", "nope"))

		w := httptest.NewRecorder()
		r := httptest.NewRequest(http.MethodGet, "/v1/batches/nope", nil)
		r.SetPathValue("id", "nope")
		handler.Get(w, r)

		assert.Equal(t, http.StatusNotFound, w.Code)
	})
}

func TestHTTPHandler_Stats(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()
	mockRepo := NewMockRepository(ctrl)
	handler := NewHTTPHandler(NewService(mockRepo, nil))

	mockRepo.EXPECT().CreatedSince(gomock.Any(), gomock.Any()).Return([]Batch{
		{ID: "a", Status: StatusCompleted, SuccessBooks: 5},
	}, nil)

	w := httptest.NewRecorder()
	handler.Stats(w, httptest.NewRequest(http.MethodGet, "/v1/batches/stats?window=7d", nil))

	assert.Equal(t, http.StatusOK, w.Code)
	var resp struct {
		Data Stats `json:"data"`
	}
	require.NoError(t, json.NewDecoder(w.Body).Decode(&resp))
	assert.Equal(t, 1, resp.Data.TotalBatches)
	assert.Equal(t, 5, resp.Data.TotalBooksImported)

	w = httptest.NewRecorder()
	handler.Stats(w, httptest.NewRequest(http.MethodGet, "/v1/batches/stats?window=eventually", nil))
	assert.Equal(t, http.StatusBadRequest, w.Code)
}
