package relay

import (
	"net/http"
	"strings"
	"time"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore/policy"
	"github.com/julienstroheker/relaycat/internal/logging"
)

// redactedHeaders never reach the log
var redactedHeaders = []string{"Authorization", "ServiceBusAuthorization"}

// loggingPolicy logs management requests at debug level. It runs once per
// retry so every attempt is visible.
type loggingPolicy struct {
	logger *logging.Logger
}

func newLoggingPolicy(logger *logging.Logger) *loggingPolicy {
	if logger == nil {
		logger = logging.Nop()
	}
	return &loggingPolicy{logger: logger}
}

// Do implements policy.Policy
func (p *loggingPolicy) Do(req *policy.Request) (*http.Response, error) {
	raw := req.Raw()
	fields := []logging.Field{
		logging.String("method", raw.Method),
		logging.String("url", raw.URL.Redacted()),
		logging.String("request_headers", formatHeaders(raw.Header)),
	}
	p.logger.Debug("HTTP Request", fields...)

	start := time.Now()
	resp, err := req.Next()
	duration := logging.Int("duration_ms", int(time.Since(start).Milliseconds()))

	if err != nil {
		p.logger.Debug("HTTP Request failed",
			logging.String("method", raw.Method),
			logging.String("url", raw.URL.Redacted()),
			logging.Error(err),
			duration)
		return resp, err
	}

	p.logger.Debug("HTTP Response",
		logging.String("method", raw.Method),
		logging.String("url", raw.URL.Redacted()),
		logging.Int("status", resp.StatusCode),
		duration)
	return resp, nil
}

// formatHeaders renders headers in one field, masking credentials
func formatHeaders(headers http.Header) string {
	parts := make([]string, 0, len(headers))
	for name, values := range headers {
		value := strings.Join(values, ", ")
		for _, h := range redactedHeaders {
			if strings.EqualFold(name, h) {
				value = "[REDACTED]"
				break
			}
		}
		parts = append(parts, name+": "+value)
	}
	return strings.Join(parts, "; ")
}
