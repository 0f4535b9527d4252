package remote

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"offlinesync/internal/config"
	"offlinesync/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordedRequest struct {
	Method string
	Path   string
	Body   string
	Key    string
	Idem   string
}

func newTestServer(t *testing.T, status int) (*httptest.Server, chan recordedRequest) {
	t.Helper()
	reqs := make(chan recordedRequest, 8)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		reqs <- recordedRequest{
			Method: r.Method,
			Path:   r.URL.Path,
			Body:   string(body),
			Key:    r.Header.Get("x-api-key"),
			Idem:   r.Header.Get("X-Idempotency-Key"),
		}
		w.WriteHeader(status)
		_, _ = w.Write([]byte(`{"error":"nope"}`))
	}))
	t.Cleanup(srv.Close)
	return srv, reqs
}

func newExecutor(baseURL string) *HTTPExecutor {
	return NewHTTPExecutor(config.RemoteConfig{
		BaseURL:      baseURL + "/",
		APIKey:       "secret",
		HeaderAPIKey: "x-api-key",
		Timeout:      5,
	}, nil)
}

func TestHTTPExecutorRoutes(t *testing.T) {
	srv, reqs := newTestServer(t, http.StatusOK)
	exec := newExecutor(srv.URL)
	ctx := context.Background()

	payload := json.RawMessage(`{"title":"Fix sink"}`)
	tests := []struct {
		kind       models.OperationKind
		wantMethod string
		wantPath   string
		wantBody   string
	}{
		{models.KindCreate, http.MethodPost, "/task", `{"title":"Fix sink"}`},
		{models.KindUpdate, http.MethodPut, "/task/t-1", `{"title":"Fix sink"}`},
		{models.KindDelete, http.MethodDelete, "/task/t-1", ""},
	}

	for _, tt := range tests {
		t.Run(string(tt.kind), func(t *testing.T) {
			op := models.SyncOperation{
				ID:           "op-" + string(tt.kind),
				Kind:         tt.kind,
				ResourceType: models.ResourceTask,
				ResourceID:   "t-1",
				Payload:      payload,
			}
			require.NoError(t, exec.Execute(ctx, op))

			got := <-reqs
			assert.Equal(t, tt.wantMethod, got.Method)
			assert.Equal(t, tt.wantPath, got.Path)
			assert.Equal(t, tt.wantBody, got.Body)
			assert.Equal(t, "secret", got.Key)
			assert.Equal(t, op.ID, got.Idem)
		})
	}
}

func TestHTTPExecutorClassifiesStatus(t *testing.T) {
	tests := []struct {
		status    int
		permanent bool
	}{
		{http.StatusBadRequest, true},
		{http.StatusNotFound, true},
		{http.StatusUnprocessableEntity, true},
		{http.StatusRequestTimeout, false},
		{http.StatusTooManyRequests, false},
		{http.StatusInternalServerError, false},
		{http.StatusBadGateway, false},
	}

	for _, tt := range tests {
		t.Run(http.StatusText(tt.status), func(t *testing.T) {
			srv, _ := newTestServer(t, tt.status)
			err := newExecutor(srv.URL).Execute(context.Background(), models.SyncOperation{
				ID: "1", Kind: models.KindUpdate, ResourceType: "job", ResourceID: "j-1",
			})
			require.Error(t, err)
			assert.Equal(t, tt.permanent, IsPermanent(err))

			var statusErr *StatusError
			require.ErrorAs(t, err, &statusErr)
			assert.Equal(t, tt.status, statusErr.StatusCode)
			assert.Contains(t, statusErr.Error(), "nope")
		})
	}
}

func TestHTTPExecutorTransportErrorIsTransient(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	base := srv.URL
	srv.Close()

	err := newExecutor(base).Execute(context.Background(), models.SyncOperation{
		ID: "1", Kind: models.KindCreate, ResourceType: "task", ResourceID: "t-1",
	})
	require.Error(t, err)
	assert.False(t, IsPermanent(err))
}

func TestHTTPExecutorRejectsUnknownKind(t *testing.T) {
	err := newExecutor("http://example.invalid").Execute(context.Background(), models.SyncOperation{
		ID: "1", Kind: "merge", ResourceType: "task", ResourceID: "t-1",
	})
	assert.True(t, IsPermanent(err))
	assert.ErrorIs(t, err, models.ErrInvalidOperation)
}

func TestHTTPExecutorRateLimitHonoursContext(t *testing.T) {
	srv, _ := newTestServer(t, http.StatusOK)
	exec := NewHTTPExecutor(config.RemoteConfig{BaseURL: srv.URL, RPS: 0.001, Burst: 1}, nil)
	op := models.SyncOperation{ID: "1", Kind: models.KindCreate, ResourceType: "task", ResourceID: "t-1"}

	require.NoError(t, exec.Execute(context.Background(), op))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := exec.Execute(ctx, op)
	require.Error(t, err)
	assert.False(t, IsPermanent(err))
}
