package metrics

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestInstrumentHandlerLabelsByRoutePattern(t *testing.T) {
	r := chi.NewRouter()
	r.Use(InstrumentHandler)
	r.Get("/categories/{id}", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	})

	before := testutil.ToFloat64(httpRequests.WithLabelValues("GET", "/categories/{id}", "418"))
	for _, id := range []string{"a", "b", "c"} {
		rec := httptest.NewRecorder()
		r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/categories/"+id, nil))
	}
	after := testutil.ToFloat64(httpRequests.WithLabelValues("GET", "/categories/{id}", "418"))

	if after-before != 3 {
		t.Fatalf("requests counter delta = %v, want 3", after-before)
	}
}

func TestRecordUploadCountsBytesOnlyOnSuccess(t *testing.T) {
	before := testutil.ToFloat64(uploadBytes.WithLabelValues("metrics-test"))

	RecordUpload("metrics-test", 500, time.Millisecond, true)
	RecordUpload("metrics-test", 700, time.Millisecond, false)

	if got := testutil.ToFloat64(uploadBytes.WithLabelValues("metrics-test")) - before; got != 500 {
		t.Fatalf("upload bytes delta = %v, want 500", got)
	}
}

func TestHandlerExposesDomainMetrics(t *testing.T) {
	RecordLogin("credential", true)
	RecordRefresh("used")
	RecordProgressEvent()

	rec := httptest.NewRecorder()
	Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	body := rec.Body.String()
	for _, name := range []string{
		"storefront_auth_logins_total",
		"storefront_auth_refresh_total",
		"storefront_progress_events_total",
	} {
		if !strings.Contains(body, name) {
			t.Fatalf("metrics output missing %s", name)
		}
	}
}
