package metrics

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestRecordRefresh(t *testing.T) {
	before := testutil.ToFloat64(RefreshesTotal.WithLabelValues("conversations", "error"))
	RecordRefresh("conversations", errors.New("boom"))
	after := testutil.ToFloat64(RefreshesTotal.WithLabelValues("conversations", "error"))
	assert.Equal(t, before+1, after)
}

func TestRecordRequestWithoutResponse(t *testing.T) {
	before := testutil.ToFloat64(RequestsTotal.WithLabelValues("GET", "/chat/contacts/", "error"))
	RecordRequest("GET", "/chat/contacts/", 0, 0.1)
	after := testutil.ToFloat64(RequestsTotal.WithLabelValues("GET", "/chat/contacts/", "error"))
	assert.Equal(t, before+1, after)
}

func TestHandlerExposesMetrics(t *testing.T) {
	RecordSend(nil)
	rec := httptest.NewRecorder()
	Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, strings.Contains(rec.Body.String(), "chatsync_sends_total"))
}
