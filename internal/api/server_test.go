package api_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/knowledge-engine/siteqa/internal/answer"
	"github.com/knowledge-engine/siteqa/internal/api"
	"github.com/knowledge-engine/siteqa/internal/config"
	"github.com/knowledge-engine/siteqa/internal/engine"
	"github.com/knowledge-engine/siteqa/internal/observability"
	"github.com/knowledge-engine/siteqa/internal/search"
)

// Mocks

type MockSource struct {
	mock.Mock
}

func (m *MockSource) FetchCandidates(ctx context.Context, query string) ([]search.Document, error) {
	args := m.Called(ctx, query)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]search.Document), args.Error(1)
}

func setupServer() (*api.Server, *MockSource) {
	cfg := config.Load()
	logger := logrus.New()
	logger.SetLevel(logrus.PanicLevel)
	entry := logger.WithField("test", "api")

	source := new(MockSource)
	metrics := observability.NewMetrics()
	eng := engine.New(cfg, entry, source, metrics)

	return api.NewServer(eng, metrics, entry), source
}

func TestHandleAsk(t *testing.T) {
	server, source := setupServer()
	source.On("FetchCandidates", mock.Anything, "context cancellation").Return([]search.Document{
		{ID: 1, Title: "Context cancellation", Content: "<p>Use context to stop work.</p>", Link: "https://blog.example.com/ctx", Date: "2024-05-01T10:00:00"},
		{ID: 2, Title: "Pasta", Content: "<p>Boil salted water.</p>", Link: "https://blog.example.com/pasta", Date: "2024-05-02T10:00:00"},
		{ID: 3, Title: "Garden tips", Content: "<p>Water tomatoes early.</p>", Link: "https://blog.example.com/garden", Date: "2024-05-03T10:00:00"},
	}, nil)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/ask?q=context+cancellation", nil)
	rr := httptest.NewRecorder()
	server.Handler().ServeHTTP(rr, req)

	require.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, "application/json", rr.Header().Get("Content-Type"))

	var resp api.AskResponse
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &resp))
	assert.Equal(t, "context cancellation", resp.Query)
	require.Len(t, resp.Sources, 1)
	assert.Equal(t, "https://blog.example.com/ctx", resp.Sources[0].Link)
	assert.Equal(t, "01.05.2024", resp.Sources[0].Date)
}

func TestHandleAsk_FixedReplies(t *testing.T) {
	server, source := setupServer()
	source.On("FetchCandidates", mock.Anything, "nothing here").Return([]search.Document{}, nil)

	tests := []struct {
		query    string
		expected string
	}{
		{"ab", answer.ShortQueryMessage},
		{"nothing+here", answer.NoMatchesMessage},
	}

	for _, tt := range tests {
		t.Run(tt.query, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/api/v1/ask?q="+tt.query, nil)
			rr := httptest.NewRecorder()
			server.Handler().ServeHTTP(rr, req)

			require.Equal(t, http.StatusOK, rr.Code)
			var resp api.AskResponse
			require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &resp))
			assert.Equal(t, tt.expected, resp.Answer)
			assert.NotNil(t, resp.Sources)
			assert.Empty(t, resp.Sources)
		})
	}
}

func TestHandleAsk_Validation(t *testing.T) {
	server, _ := setupServer()

	req := httptest.NewRequest(http.MethodGet, "/api/v1/ask", nil)
	rr := httptest.NewRecorder()
	server.Handler().ServeHTTP(rr, req)
	assert.Equal(t, http.StatusBadRequest, rr.Code)
	assert.Contains(t, rr.Body.String(), "Query 'q' is required")

	req = httptest.NewRequest(http.MethodPost, "/api/v1/ask?q=hello", strings.NewReader("{}"))
	rr = httptest.NewRecorder()
	server.Handler().ServeHTTP(rr, req)
	assert.Equal(t, http.StatusMethodNotAllowed, rr.Code)
}

func TestHandleStatus(t *testing.T) {
	server, source := setupServer()
	source.On("FetchCandidates", mock.Anything, mock.Anything).Return([]search.Document{}, nil)
	server.Engine.ProcessQuery(context.Background(), "first question")

	req := httptest.NewRequest(http.MethodGet, "/api/v1/status", nil)
	rr := httptest.NewRecorder()
	server.Handler().ServeHTTP(rr, req)

	require.Equal(t, http.StatusOK, rr.Code)
	var resp api.StatusResponse
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &resp))
	assert.Equal(t, int64(1), resp.Queries)
	assert.False(t, resp.Running)
	assert.Nil(t, resp.Gate)
}

func TestRequestID(t *testing.T) {
	server, _ := setupServer()

	req := httptest.NewRequest(http.MethodGet, "/api/v1/status", nil)
	rr := httptest.NewRecorder()
	server.Handler().ServeHTTP(rr, req)

	generated := rr.Header().Get(api.RequestIDHeader)
	_, err := uuid.Parse(generated)
	assert.NoError(t, err)

	req = httptest.NewRequest(http.MethodGet, "/api/v1/status", nil)
	req.Header.Set(api.RequestIDHeader, "caller-supplied")
	rr = httptest.NewRecorder()
	server.Handler().ServeHTTP(rr, req)
	assert.Equal(t, "caller-supplied", rr.Header().Get(api.RequestIDHeader))
}

func TestMetricsEndpoint(t *testing.T) {
	server, source := setupServer()
	source.On("FetchCandidates", mock.Anything, mock.Anything).Return([]search.Document{}, nil)
	server.Engine.ProcessQuery(context.Background(), "some question")

	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	rr := httptest.NewRecorder()
	server.Handler().ServeHTTP(rr, req)

	require.Equal(t, http.StatusOK, rr.Code)
	assert.Contains(t, rr.Body.String(), `siteqa_queries_total{outcome="no_matches"} 1`)
}
