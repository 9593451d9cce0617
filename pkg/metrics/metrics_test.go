package metrics

import (
	"errors"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestRecordTransfer(t *testing.T) {
	okBefore := testutil.ToFloat64(transfersTotal.WithLabelValues("upload", "ok"))
	errBefore := testutil.ToFloat64(transfersTotal.WithLabelValues("upload", "error"))
	bytesBefore := testutil.ToFloat64(transferBytes.WithLabelValues("upload"))

	RecordTransfer("upload", 100, time.Millisecond, nil)
	RecordTransfer("upload", 50, time.Millisecond, errors.New("boom"))

	if got := testutil.ToFloat64(transfersTotal.WithLabelValues("upload", "ok")) - okBefore; got != 1 {
		t.Errorf("ok transfers delta = %v, want 1", got)
	}
	if got := testutil.ToFloat64(transfersTotal.WithLabelValues("upload", "error")) - errBefore; got != 1 {
		t.Errorf("error transfers delta = %v, want 1", got)
	}
	// Failed transfers do not count bytes.
	if got := testutil.ToFloat64(transferBytes.WithLabelValues("upload")) - bytesBefore; got != 100 {
		t.Errorf("bytes delta = %v, want 100", got)
	}
}

func TestSessionGauge(t *testing.T) {
	before := testutil.ToFloat64(poolSessions)
	SessionOpened()
	SessionOpened()
	SessionClosed()
	if got := testutil.ToFloat64(poolSessions) - before; got != 1 {
		t.Errorf("gauge delta = %v, want 1", got)
	}
	SessionClosed()
}

func TestHandlerExposesMetrics(t *testing.T) {
	RecordHandshake(nil)
	RecordListing("local", nil)
	RecordCompression(nil)

	rec := httptest.NewRecorder()
	Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))

	body := rec.Body.String()
	for _, name := range []string{
		"sftpdeck_pool_handshakes_total",
		"sftpdeck_listings_total",
		"sftpdeck_compressions_total",
	} {
		if !strings.Contains(body, name) {
			t.Errorf("metrics output missing %s", name)
		}
	}
}
