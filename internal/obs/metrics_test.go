package obs

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"runtime"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestCanonicalPath(t *testing.T) {
	cases := map[string]string{
		"":                                  "/",
		"/metrics":                          "/metrics",
		"/v1/credentials":                   "/v1/credentials",
		"/v1/credentials/01HZX":             "/v1/credentials/:id",
		"/v1/credentials/01HZX/revoke":      "/v1/credentials/:id/revoke",
		"/v1/credentials/consume":           "/v1/credentials/consume",
		"/v1/deliveries/01HZX/resolve":      "/v1/deliveries/:id/resolve",
		"/v1/deliveries?status=authorized":  "/v1/deliveries",
		"/v1/access-logs":                   "/v1/access-logs",
		"/v1/deliveries/01HZX/extra/deeper": "/v1/deliveries/01HZX/extra/deeper",
	}
	for input, expected := range cases {
		if got := CanonicalPath(input); got != expected {
			t.Fatalf("CanonicalPath(%q)=%q, want %q", input, got, expected)
		}
	}
}

func TestInstrumentCountsByRoute(t *testing.T) {
	h := Instrument(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	}), func(*http.Request) string { return "/v1/test/{id}" })

	before := testutil.ToFloat64(httpRequestsTotal.WithLabelValues(http.MethodGet, "/v1/test/{id}", "418"))
	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/v1/test/abc", nil))
	after := testutil.ToFloat64(httpRequestsTotal.WithLabelValues(http.MethodGet, "/v1/test/{id}", "418"))
	if after-before != 1 {
		t.Fatalf("expected one request counted, got %v", after-before)
	}
}

func TestEngineCounters(t *testing.T) {
	before := testutil.ToFloat64(consumeTotal.WithLabelValues("accepted"))
	ObserveConsume("accepted")
	if got := testutil.ToFloat64(consumeTotal.WithLabelValues("accepted")); got-before != 1 {
		t.Fatalf("consume counter did not move")
	}
	dropped := testutil.ToFloat64(eventsDropped)
	ObserveEventDropped()
	if testutil.ToFloat64(eventsDropped)-dropped != 1 {
		t.Fatalf("dropped counter did not move")
	}
}

func TestLoggerWritesJSON(t *testing.T) {
	var buf bytes.Buffer
	prev := SetLogger(NewLogger(&buf, "debug"))
	defer SetLogger(prev)

	Logger().Debug("hello", "component", "obs")
	var entry map[string]any
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("log not valid JSON: %v (%q)", err, buf.String())
	}
	if entry["msg"] != "hello" || entry["component"] != "obs" || entry["level"] != "DEBUG" {
		t.Fatalf("unexpected entry: %v", entry)
	}
}

func TestInitBuildInfoKeepsLatestLabels(t *testing.T) {
	InitBuildInfo("0.1.0", "abc")
	InitBuildInfo("0.2.0", "def")
	if n := testutil.CollectAndCount(buildInfo); n != 1 {
		t.Fatalf("expected one build_info series, got %d", n)
	}
	if v := testutil.ToFloat64(buildInfo.WithLabelValues("0.2.0", "def", runtime.Version())); v != 1 {
		t.Fatalf("build_info=%v, want 1", v)
	}
}
