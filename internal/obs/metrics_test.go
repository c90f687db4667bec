package obs

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

func TestInstrumentLabelsByRoutePattern(t *testing.T) {
	Init()
	r := chi.NewRouter()
	r.Use(Instrument)
	r.Get("/api/posts/{id}", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	})

	before := testutil.ToFloat64(httpRequestsTotal.WithLabelValues(http.MethodGet, "/api/posts/{id}", "418"))
	for _, id := range []string{"a", "b", "c"} {
		rr := httptest.NewRecorder()
		r.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/api/posts/"+id, nil))
	}
	after := testutil.ToFloat64(httpRequestsTotal.WithLabelValues(http.MethodGet, "/api/posts/{id}", "418"))
	if after-before != 3 {
		t.Fatalf("expected 3 requests under one route label, got %v", after-before)
	}
}

func TestDomainCounters(t *testing.T) {
	Init()
	before := testutil.ToFloat64(auditWriteFailures.WithLabelValues("posts"))
	AuditWriteFailed("posts")
	if got := testutil.ToFloat64(auditWriteFailures.WithLabelValues("posts")) - before; got != 1 {
		t.Fatalf("expected one audit failure, got %v", got)
	}
	NestedBatch("committed")
	AuthorizationDenied("posts", "destroy")
}

func TestSetLogger(t *testing.T) {
	core, logs := observer.New(zap.InfoLevel)
	restore := SetLogger(zap.New(core))
	Logger().Info("hello", zap.String("k", "v"))
	restore()

	if logs.Len() != 1 || logs.All()[0].ContextMap()["k"] != "v" {
		t.Fatalf("unexpected logs: %+v", logs.All())
	}
}
