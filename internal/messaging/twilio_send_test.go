package messaging

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/wolfman30/clinic-booking-ai/internal/observability/metrics"
	"github.com/wolfman30/clinic-booking-ai/pkg/logging"
)

func TestTwilioSender_SendsForm(t *testing.T) {
	var gotForm map[string]string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		user, pass, ok := r.BasicAuth()
		if !ok || user != "AC1" || pass != "token" {
			t.Errorf("unexpected basic auth %q %q", user, pass)
		}
		if !strings.HasSuffix(r.URL.Path, "/Accounts/AC1/Messages.json") {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		_ = r.ParseForm()
		gotForm = map[string]string{"To": r.PostForm.Get("To"), "From": r.PostForm.Get("From"), "Body": r.PostForm.Get("Body")}
		w.WriteHeader(http.StatusCreated)
		_, _ = w.Write([]byte(`{"sid":"SM1","status":"queued"}`))
	}))
	defer srv.Close()

	reg := prometheus.NewRegistry()
	m := metrics.NewMessagingMetrics(reg)
	sender := NewTwilioSender("AC1", "token", "+15557654321", logging.Default(), WithTwilioAPIBase(srv.URL), WithSenderMetrics(m))

	if err := sender.Send(context.Background(), "whatsapp:+919876543210", "Booked!"); err != nil {
		t.Fatalf("send: %v", err)
	}
	if gotForm["To"] != "whatsapp:+919876543210" || gotForm["From"] != "whatsapp:+15557654321" || gotForm["Body"] != "Booked!" {
		t.Fatalf("unexpected form %#v", gotForm)
	}
	if n := testutil.CollectAndCount(reg); n == 0 {
		t.Fatal("expected outbound metrics to be recorded")
	}
}

func TestTwilioSender_RetriesServerErrors(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&calls, 1) < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusCreated)
	}))
	defer srv.Close()

	sender := NewTwilioSender("AC1", "token", "+15557654321", logging.Default(), WithTwilioAPIBase(srv.URL))
	if err := sender.Send(context.Background(), "+15551234567", "hi"); err != nil {
		t.Fatalf("expected the third attempt to succeed, got %v", err)
	}
	if atomic.LoadInt32(&calls) != 3 {
		t.Fatalf("expected 3 attempts, got %d", calls)
	}
}

func TestTwilioSender_DoesNotRetryClientErrors(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"code":21211,"message":"Invalid 'To' Phone Number","status":400}`))
	}))
	defer srv.Close()

	sender := NewTwilioSender("AC1", "token", "+15557654321", logging.Default(), WithTwilioAPIBase(srv.URL))
	err := sender.Send(context.Background(), "+1", "hi")
	if err == nil || !strings.Contains(err.Error(), "code 21211") {
		t.Fatalf("expected a formatted twilio error, got %v", err)
	}
	if atomic.LoadInt32(&calls) != 1 {
		t.Fatalf("expected a single attempt, got %d", calls)
	}
}

func TestTwilioSender_ValidatesInput(t *testing.T) {
	if err := NewTwilioSender("", "", "+1555", nil).Send(context.Background(), "+1555", "hi"); err == nil {
		t.Fatal("expected missing credentials to fail")
	}
	sender := NewTwilioSender("AC1", "token", "+1555", nil)
	if err := sender.Send(context.Background(), "", "hi"); err == nil {
		t.Fatal("expected missing recipient to fail")
	}
	if err := sender.Send(context.Background(), "+1555", "  "); err == nil {
		t.Fatal("expected empty body to fail")
	}
}

func TestFormatTwilioError(t *testing.T) {
	if got := formatTwilioError(500, nil); got != "status 500" {
		t.Fatalf("unexpected %q", got)
	}
	if got := formatTwilioError(502, []byte("bad gateway")); got != "status 502: bad gateway" {
		t.Fatalf("unexpected %q", got)
	}
}
