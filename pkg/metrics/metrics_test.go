package metrics

import (
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMetricsExposition(t *testing.T) {
	m := New()
	m.ObserveJob("process_document", "completed", 2*time.Second)
	m.AddEmbeddingUsage(1500, 0.000195)
	m.ObserveRequest("POST", "/api/search", 200, 120*time.Millisecond)
	m.SetDocumentsTotal(42)

	recorder := httptest.NewRecorder()
	m.Handler().ServeHTTP(recorder, httptest.NewRequest("GET", "/metrics", nil))
	require.Equal(t, 200, recorder.Code)

	body := recorder.Body.String()
	assert.Contains(t, body, `knowd_jobs_processed_total{status="completed",type="process_document"} 1`)
	assert.Contains(t, body, "knowd_embedding_tokens_total 1500")
	assert.Contains(t, body, `knowd_http_request_duration_seconds_count{method="POST",route="/api/search",status="200"} 1`)
	assert.Contains(t, body, "knowd_documents_total 42")
}
