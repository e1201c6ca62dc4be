package metrics

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestMiddlewareLabelsByRouteTemplate(t *testing.T) {
	r := mux.NewRouter()
	r.Use(Middleware)
	r.HandleFunc("/api/v1/requests/{requestID}/accept", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusConflict)
	})

	counter := httpRequestsTotal.WithLabelValues(http.MethodPost, "/api/v1/requests/{requestID}/accept", "409")
	before := testutil.ToFloat64(counter)

	for _, id := range []string{"r1", "r2"} {
		req := httptest.NewRequest(http.MethodPost, "/api/v1/requests/"+id+"/accept", nil)
		r.ServeHTTP(httptest.NewRecorder(), req)
	}
	assert.Equal(t, before+2, testutil.ToFloat64(counter))
}

func TestRecordOperation(t *testing.T) {
	ok := operationsTotal.WithLabelValues("metrics_test", "ok")
	failed := operationsTotal.WithLabelValues("metrics_test", "error")
	okBefore, failedBefore := testutil.ToFloat64(ok), testutil.ToFloat64(failed)

	RecordOperation("metrics_test", time.Now(), nil)
	RecordOperation("metrics_test", time.Now(), errors.New("boom"))

	assert.Equal(t, okBefore+1, testutil.ToFloat64(ok))
	assert.Equal(t, failedBefore+1, testutil.ToFloat64(failed))
}
