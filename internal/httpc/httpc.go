package httpc

import (
	"crypto/tls"
	"net/http"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/loykin/botexport/internal/constants"
)

// Options describes the long lived session shared by every call of a run.
type Options struct {
	BaseURL   string
	UserAgent string
	Timeout   time.Duration

	Insecure      bool
	MinTLSVersion string
	MaxTLSVersion string

	// Trace wraps the transport with otelhttp so every attempt becomes a client span.
	Trace bool
}

// New returns a resty client with the base URL, fixed headers and TLS settings applied.
// Authorization is not set here; it depends on the credential and the request.
func New(opts Options) *resty.Client {
	base := strings.TrimRight(opts.BaseURL, "/")
	if base == "" {
		base = constants.DefaultBaseURL
	}
	ua := opts.UserAgent
	if ua == "" {
		ua = constants.DefaultUserAgent
	}
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = constants.DefaultRequestTimeout
	}

	var rt http.RoundTripper = newTransport(opts)
	if opts.Trace {
		rt = otelhttp.NewTransport(rt)
	}

	return resty.New().
		SetTransport(rt).
		SetBaseURL(base).
		SetTimeout(timeout).
		SetHeader("User-Agent", ua).
		SetHeader("Content-Type", "application/json").
		SetHeader("Accept", "application/json")
}

func newTransport(opts Options) *http.Transport {
	tr := http.DefaultTransport.(*http.Transport).Clone()
	tr.TLSClientConfig = tlsConfig(opts)
	return tr
}

func tlsConfig(opts Options) *tls.Config {
	cfg := &tls.Config{MinVersion: tls.VersionTLS12}
	if v := ParseTLSVersion(opts.MinTLSVersion); v != 0 {
		cfg.MinVersion = v
	}
	if v := ParseTLSVersion(opts.MaxTLSVersion); v != 0 {
		cfg.MaxVersion = v
	}
	if opts.Insecure {
		cfg.InsecureSkipVerify = true //nolint:gosec // opt-in for local sandboxes
	}
	return cfg
}

// ParseTLSVersion accepts "1.2", "tls1.2", "TLS12" style strings. Unknown input yields 0.
func ParseTLSVersion(s string) uint16 {
	v := strings.ToLower(strings.TrimSpace(s))
	v = strings.TrimPrefix(v, "tls")
	v = strings.TrimPrefix(v, "v")
	v = strings.ReplaceAll(v, ".", "")
	switch v {
	case "10":
		return tls.VersionTLS10
	case "11":
		return tls.VersionTLS11
	case "12":
		return tls.VersionTLS12
	case "13":
		return tls.VersionTLS13
	default:
		return 0
	}
}
