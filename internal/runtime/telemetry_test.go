package runtime

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"go.opentelemetry.io/otel"

	"github.com/loqalabs/readaloud/internal/config"
)

func TestSetupTelemetryServesMetrics(t *testing.T) {
	cfg := config.Default()
	shutdown, handler, err := setupTelemetry(cfg, newLogger())
	if err != nil {
		t.Fatalf("setup telemetry: %v", err)
	}
	defer shutdown(context.Background())
	if handler == nil {
		t.Fatalf("expected a metrics handler")
	}

	counter, err := otel.Meter("readaloud-test").Int64Counter("readaloud.test.events")
	if err != nil {
		t.Fatalf("counter: %v", err)
	}
	counter.Add(context.Background(), 3)

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	body, _ := io.ReadAll(rec.Body)
	for _, want := range []string{"readaloud_test_events", "go_goroutines"} {
		if !strings.Contains(string(body), want) {
			t.Fatalf("metrics output missing %q", want)
		}
	}
}
