package relay

import (
	"bytes"
	"context"
	"errors"
	"io"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/julienstroheker/relaycat/internal/logging"
)

// fakeTransport answers every request with status and an empty JSON body
type fakeTransport struct {
	status int
	err    error
	reqs   []*http.Request
}

func (f *fakeTransport) Do(req *http.Request) (*http.Response, error) {
	f.reqs = append(f.reqs, req)
	if f.err != nil {
		return nil, f.err
	}
	return &http.Response{
		StatusCode: f.status,
		Header:     http.Header{"Content-Type": []string{"application/json"}},
		Body:       io.NopCloser(strings.NewReader("{}")),
		Request:    req,
	}, nil
}

func TestFormatHeaders(t *testing.T) {
	tests := []struct {
		name    string
		headers http.Header
		want    string
	}{
		{name: "empty", headers: http.Header{}, want: ""},
		{name: "plain", headers: http.Header{"Accept": {"application/json"}}, want: "Accept: application/json"},
		{name: "multiple values", headers: http.Header{"Accept": {"a", "b"}}, want: "Accept: a, b"},
		{name: "authorization", headers: http.Header{"Authorization": {"Bearer secret"}}, want: "Authorization: [REDACTED]"},
		{name: "relay authorization", headers: http.Header{"Servicebusauthorization": {"SharedAccessSignature sr=x"}}, want: "Servicebusauthorization: [REDACTED]"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := formatHeaders(tt.headers); got != tt.want {
				t.Errorf("Expected %q, got: %q", tt.want, got)
			}
		})
	}
}

func TestManager_LogsManagementRequests(t *testing.T) {
	var buf bytes.Buffer
	transport := &fakeTransport{status: http.StatusOK}

	m, err := NewManager(&ManagerOptions{
		SubscriptionID:    "00000000-0000-0000-0000-000000000000",
		ResourceGroupName: "rg",
		Namespace:         "ns",
		Credential:        &fakeCredential{lifetime: time.Hour},
		Logger:            logging.NewWithOutput(logging.DebugLevel, &buf),
		Transport:         transport,
	})
	if err != nil {
		t.Fatalf("NewManager() error = %v", err)
	}

	if err := m.EnsureHybridConnection(context.Background(), "hc"); err != nil {
		t.Fatalf("EnsureHybridConnection() error = %v", err)
	}

	if len(transport.reqs) != 1 {
		t.Fatalf("Expected 1 request, got: %d", len(transport.reqs))
	}
	req := transport.reqs[0]
	if req.Method != http.MethodPut {
		t.Errorf("Expected PUT, got: %s", req.Method)
	}
	if !strings.Contains(req.URL.Path, "/namespaces/ns/hybridConnections/hc") {
		t.Errorf("Unexpected request path: %s", req.URL.Path)
	}
	if ua := req.Header.Get("User-Agent"); !strings.Contains(ua, "relaycat") {
		t.Errorf("Expected User-Agent to name relaycat, got: %s", ua)
	}

	out := buf.String()
	for _, want := range []string{"HTTP Request", "HTTP Response", "[REDACTED]"} {
		if !strings.Contains(out, want) {
			t.Errorf("Expected log to contain %q, got: %s", want, out)
		}
	}
	if strings.Contains(out, "token-1") {
		t.Errorf("Expected bearer token to be redacted, got: %s", out)
	}
}

func TestManager_LogsFailedRequests(t *testing.T) {
	var buf bytes.Buffer
	cause := errors.New("connection refused")

	m, err := NewManager(&ManagerOptions{
		SubscriptionID:    "00000000-0000-0000-0000-000000000000",
		ResourceGroupName: "rg",
		Namespace:         "ns",
		Credential:        &fakeCredential{lifetime: time.Hour},
		Logger:            logging.NewWithOutput(logging.DebugLevel, &buf),
		Transport:         &fakeTransport{err: cause},
	})
	if err != nil {
		t.Fatalf("NewManager() error = %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()

	if err := m.EnsureHybridConnection(ctx, "hc"); err == nil {
		t.Fatal("Expected error from failing transport")
	}
	if !strings.Contains(buf.String(), "HTTP Request failed") {
		t.Errorf("Expected failure to be logged, got: %s", buf.String())
	}
}
