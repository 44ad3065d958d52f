package brandscan

import (
	"testing"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

// TestHTTPClientUsesOtelTransport verifies direct fetches and logo downloads
// carry trace context
func TestHTTPClientUsesOtelTransport(t *testing.T) {
	p, err := New(DefaultConfig(), &fakeModel{}, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if _, ok := p.httpClient.Transport.(*otelhttp.Transport); !ok {
		t.Error("pipeline HTTP client does not use otelhttp.Transport, traces stop at outbound fetches")
	}
}
