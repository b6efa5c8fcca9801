package handler

//go:generate mockgen -source=handler.go -destination=mocks/registry-mocks.go -package=mocks Service

import (
	"bytes"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"

	"zonecore/internal/registry/handler/mocks"
	"zonecore/internal/registry/service"
	"zonecore/internal/sink"
	"zonecore/pkg/domain"
	"zonecore/pkg/platform/sentinel"
)

var testBase = time.Date(2026, 8, 27, 10, 0, 0, 0, time.UTC)

func newTestRouter(t *testing.T) (*chi.Mux, *mocks.MockService) {
	t.Helper()
	ctrl := gomock.NewController(t)
	svc := mocks.NewMockService(ctrl)

	router := chi.NewRouter()
	New(svc, slog.New(slog.DiscardHandler)).Register(router)
	return router, svc
}

func doJSON(t *testing.T, router http.Handler, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	return rec
}

func TestHandleCommit(t *testing.T) {
	t.Run("returns the transaction identity", func(t *testing.T) {
		router, svc := newTestRouter(t)
		txID := domain.NewTransactionID()
		svc.EXPECT().Commit(gomock.Any(), gomock.Any()).DoAndReturn(
			func(_ any, req service.CommitRequest) (service.CommitResult, error) {
				assert.Equal(t, domain.GroupID("tld:example"), req.GroupID)
				require.Len(t, req.Mutations, 1)
				return service.CommitResult{TransactionID: txID, CommittedAt: testBase}, nil
			})

		rec := doJSON(t, router, http.MethodPost, "/registry/commit", map[string]any{
			"group_id": "tld:example",
			"mutations": []map[string]any{{
				"kind":      "domain",
				"entity_id": "example.test",
				"type":      "upsert",
				"payload":   map[string]any{"status": "ok"},
			}},
		})

		require.Equal(t, http.StatusCreated, rec.Code)
		var resp struct {
			TransactionID string    `json:"transaction_id"`
			CommittedAt   time.Time `json:"commit_timestamp"`
		}
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
		assert.Equal(t, txID.String(), resp.TransactionID)
		assert.True(t, resp.CommittedAt.Equal(testBase))
	})

	t.Run("rejects malformed JSON", func(t *testing.T) {
		router, _ := newTestRouter(t)
		req := httptest.NewRequest(http.MethodPost, "/registry/commit", bytes.NewBufferString("{"))
		req.Header.Set("Content-Type", "application/json")
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, req)
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("rejects non-JSON content type", func(t *testing.T) {
		router, _ := newTestRouter(t)
		req := httptest.NewRequest(http.MethodPost, "/registry/commit", bytes.NewBufferString("{}"))
		req.Header.Set("Content-Type", "text/plain")
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, req)
		assert.Equal(t, http.StatusUnsupportedMediaType, rec.Code)
	})

	t.Run("maps error taxonomy to statuses", func(t *testing.T) {
		cases := []struct {
			err  error
			want int
		}{
			{sentinel.ErrInvalidInput, http.StatusBadRequest},
			{sentinel.ErrTimestampCollision, http.StatusConflict},
			{sentinel.ErrClockRegression, http.StatusServiceUnavailable},
			{assert.AnError, http.StatusInternalServerError},
		}
		for _, tc := range cases {
			router, svc := newTestRouter(t)
			svc.EXPECT().Commit(gomock.Any(), gomock.Any()).
				Return(service.CommitResult{}, fmt.Errorf("commit: %w", tc.err))

			rec := doJSON(t, router, http.MethodPost, "/registry/commit", map[string]any{
				"group_id": "tld:example",
			})
			assert.Equal(t, tc.want, rec.Code, "error %v", tc.err)
		}
	})
}

func TestHandleReconstruct(t *testing.T) {
	t.Run("returns the snapshot grouped by kind", func(t *testing.T) {
		router, svc := newTestRouter(t)
		snapshot := sink.New(map[domain.Kind]map[domain.EntityID]sink.Entity{
			domain.KindDomain: {
				"example.test": {
					EntityID:    "example.test",
					EffectiveAt: testBase,
					Payload:     json.RawMessage(`{"status":"active"}`),
				},
			},
		})
		svc.EXPECT().Reconstruct(gomock.Any(), gomock.Any()).DoAndReturn(
			func(_ any, req service.ReconstructRequest) (*sink.Snapshot, error) {
				assert.Equal(t, "dump-2026-08-27", req.Export)
				assert.Equal(t, []domain.Kind{domain.KindDomain}, req.Kinds)
				return snapshot, nil
			})

		rec := doJSON(t, router, http.MethodPost, "/registry/reconstruct", map[string]any{
			"export_dir": "dump-2026-08-27",
			"start":      testBase,
			"end":        testBase.Add(time.Hour),
			"kinds":      []string{"domain"},
		})

		require.Equal(t, http.StatusOK, rec.Code)
		var resp struct {
			Kinds map[string]map[string]struct {
				Timestamp time.Time       `json:"timestamp"`
				Payload   json.RawMessage `json:"payload"`
			} `json:"kinds"`
		}
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
		entity, ok := resp.Kinds["domain"]["example.test"]
		require.True(t, ok)
		assert.True(t, entity.Timestamp.Equal(testBase))
		assert.JSONEq(t, `{"status":"active"}`, string(entity.Payload))
	})

	t.Run("rejects unknown kinds before calling the service", func(t *testing.T) {
		router, _ := newTestRouter(t)
		rec := doJSON(t, router, http.MethodPost, "/registry/reconstruct", map[string]any{
			"export_dir": "dump",
			"start":      testBase,
			"end":        testBase.Add(time.Hour),
			"kinds":      []string{"bogus"},
		})
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("window gap is unprocessable", func(t *testing.T) {
		router, svc := newTestRouter(t)
		svc.EXPECT().Reconstruct(gomock.Any(), gomock.Any()).
			Return(nil, fmt.Errorf("bucket missing: %w", sentinel.ErrWindowGap))

		rec := doJSON(t, router, http.MethodPost, "/registry/reconstruct", map[string]any{
			"export_dir": "dump",
			"start":      testBase,
			"end":        testBase.Add(time.Hour),
			"kinds":      []string{"domain"},
		})
		assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	})

	t.Run("corrupt export is unprocessable", func(t *testing.T) {
		router, svc := newTestRouter(t)
		svc.EXPECT().Reconstruct(gomock.Any(), gomock.Any()).
			Return(nil, fmt.Errorf("line 7: %w", sentinel.ErrCorruptExportRecord))

		rec := doJSON(t, router, http.MethodPost, "/registry/reconstruct", map[string]any{
			"export_dir": "dump",
			"start":      testBase,
			"end":        testBase.Add(time.Hour),
			"kinds":      []string{"domain"},
		})
		assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	})
}

func TestHandleCheckpoint(t *testing.T) {
	t.Run("confirm returns no content", func(t *testing.T) {
		router, svc := newTestRouter(t)
		svc.EXPECT().ConfirmWatermark(gomock.Any(), "escrow-feed", gomock.Any()).Return(nil)

		rec := doJSON(t, router, http.MethodPost, "/registry/checkpoint/confirm", map[string]any{
			"consumer":  "escrow-feed",
			"watermark": testBase,
		})
		assert.Equal(t, http.StatusNoContent, rec.Code)
	})

	t.Run("advance blocked maps to conflict", func(t *testing.T) {
		router, svc := newTestRouter(t)
		svc.EXPECT().AdvanceCheckpoint(gomock.Any(), gomock.Any()).
			Return(fmt.Errorf("escrow lags: %w", sentinel.ErrCheckpointBlocked))

		rec := doJSON(t, router, http.MethodPost, "/registry/checkpoint/advance", map[string]any{
			"timestamp": testBase,
		})
		assert.Equal(t, http.StatusConflict, rec.Code)
	})

	t.Run("purge without checkpoint maps to conflict", func(t *testing.T) {
		router, svc := newTestRouter(t)
		svc.EXPECT().Purge(gomock.Any()).
			Return(fmt.Errorf("no checkpoint: %w", sentinel.ErrRetentionViolation))

		rec := doJSON(t, router, http.MethodPost, "/registry/checkpoint/purge", nil)
		assert.Equal(t, http.StatusConflict, rec.Code)
	})

	t.Run("get reports checkpoint and watermarks", func(t *testing.T) {
		router, svc := newTestRouter(t)
		svc.EXPECT().Checkpoint(gomock.Any()).Return(testBase, map[string]time.Time{
			"escrow-feed": testBase.Add(time.Hour),
		}, nil)

		req := httptest.NewRequest(http.MethodGet, "/registry/checkpoint", nil)
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, req)

		require.Equal(t, http.StatusOK, rec.Code)
		var resp struct {
			Checkpoint *time.Time           `json:"checkpoint"`
			Watermarks map[string]time.Time `json:"watermarks"`
		}
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
		require.NotNil(t, resp.Checkpoint)
		assert.True(t, resp.Checkpoint.Equal(testBase))
		assert.True(t, resp.Watermarks["escrow-feed"].Equal(testBase.Add(time.Hour)))
	})

	t.Run("get reports null before the first advance", func(t *testing.T) {
		router, svc := newTestRouter(t)
		svc.EXPECT().Checkpoint(gomock.Any()).Return(time.Time{}, map[string]time.Time{}, nil)

		req := httptest.NewRequest(http.MethodGet, "/registry/checkpoint", nil)
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, req)

		require.Equal(t, http.StatusOK, rec.Code)
		var resp struct {
			Checkpoint *time.Time `json:"checkpoint"`
		}
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
		assert.Nil(t, resp.Checkpoint)
	})
}
