// Package transport performs single logical calls against the platform API,
// absorbing rate limits and transient failures and reporting the rest.
package transport

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"go.opentelemetry.io/otel/attribute"

	"github.com/loykin/botexport/internal/common"
	"github.com/loykin/botexport/internal/credential"
	"github.com/loykin/botexport/internal/document"
	"github.com/loykin/botexport/internal/httpc"
	"github.com/loykin/botexport/internal/metrics"
	"github.com/loykin/botexport/internal/retry"
	"github.com/loykin/botexport/internal/telemetry"
)

// Request is immutable once issued.
type Request struct {
	Method string
	// Path is relative to the API base and may carry a query string.
	Path string
	Body any
	// Anonymous requests never carry the Authorization header (webhook token calls).
	Anonymous bool
	// Reason is an optional audit log reason sent as X-Audit-Log-Reason.
	Reason string
}

// Result describes how a logical call ended.
type Result struct {
	Method  string
	Path    string
	Status  int
	Outcome retry.Outcome
	Value   document.Value
	// Message is the platform's error message for a rejected call. Value stays empty.
	Message     string
	Attempts    int
	RateLimited int
	Exhausted   bool
}

// OK reports a 2xx outcome, with or without a body.
func (r *Result) OK() bool {
	return r != nil && (r.Outcome == retry.Success || r.Outcome == retry.NoContent)
}

// Options configures New.
type Options struct {
	// HTTP is the session; when nil one is built from Session.
	HTTP       *resty.Client
	Session    httpc.Options
	Credential *credential.Credential
	Retry      *retry.Config
	Logger     *common.Logger
	Metrics    *metrics.Metrics
}

// Client owns the HTTP session for one run. Calls are sequential.
type Client struct {
	http    *resty.Client
	cred    *credential.Credential
	retry   *retry.Config
	logger  *common.Logger
	metrics *metrics.Metrics
}

func New(opts Options) *Client {
	hc := opts.HTTP
	if hc == nil {
		hc = httpc.New(opts.Session)
	}
	return &Client{
		http:    hc,
		cred:    opts.Credential,
		retry:   opts.Retry.Normalize(),
		logger:  common.OrDefault(opts.Logger).WithComponent("transport"),
		metrics: opts.Metrics,
	}
}

func (c *Client) Credential() *credential.Credential { return c.cred }

func (c *Client) Metrics() *metrics.Metrics { return c.metrics }

// Close releases idle connections held by the session.
func (c *Client) Close() {
	if c == nil || c.http == nil {
		return
	}
	c.http.GetClient().CloseIdleConnections()
}

// Get is Do for a GET returning only the value. The error is non-nil only for
// fatal credential failures and cancellation.
func (c *Client) Get(ctx context.Context, path string) (document.Value, error) {
	res, err := c.Do(ctx, Request{Method: http.MethodGet, Path: path})
	if err != nil {
		return nil, err
	}
	return res.Value, nil
}

func (c *Client) Post(ctx context.Context, path string, body any) (*Result, error) {
	return c.Do(ctx, Request{Method: http.MethodPost, Path: path, Body: body})
}

// Do runs one logical call. 429 responses are waited out without consuming an
// attempt, 5xx and network failures consume one, other 4xx return an empty
// value at once, and 401 returns a *FatalError.
func (c *Client) Do(ctx context.Context, req Request) (res *Result, err error) {
	method := strings.ToUpper(req.Method)
	if method == "" {
		method = http.MethodGet
	}
	res = &Result{Method: method, Path: req.Path}
	log := c.logger.WithRequest(method, req.Path)

	ctx, span := telemetry.Start(ctx, "botexport "+method,
		attribute.String("http.route", req.Path),
		attribute.Bool("anonymous", req.Anonymous))
	defer func() {
		span.SetAttributes(
			attribute.String("outcome", res.Outcome.String()),
			attribute.Int("attempts", res.Attempts),
			attribute.Int("rate_limited", res.RateLimited),
		)
		telemetry.End(span, err)
		if err == nil {
			c.metrics.RecordRequest(method, res.Outcome.String())
		}
	}()

	consumed := 0
	for {
		if cerr := ctx.Err(); cerr != nil {
			return res, cerr
		}
		res.Attempts++

		start := time.Now()
		resp, herr := c.request(ctx, req).Execute(method, req.Path)
		c.metrics.ObserveAttempt(method, time.Since(start))

		var body []byte
		outcome := retry.Transient
		if herr == nil {
			res.Status = resp.StatusCode()
			body = resp.Body()
			outcome = retry.Classify(res.Status)
		} else if cerr := ctx.Err(); cerr != nil {
			return res, cerr
		}

		if outcome == retry.Success {
			v, verr := document.FromRaw(body)
			if verr == nil {
				res.Outcome = retry.Success
				res.Value = v
				log.Debug("request succeeded", "status", res.Status, "attempts", res.Attempts)
				return res, nil
			}
			herr = fmt.Errorf("decode response body: %w", verr)
			outcome = retry.Transient
		}
		res.Outcome = outcome

		switch outcome {
		case retry.NoContent:
			log.Debug("request succeeded without content", "status", res.Status)
			return res, nil

		case retry.RateLimited:
			res.RateLimited++
			wait := retry.ParseRetryAfter(resp.Header().Get("Retry-After"), body, c.retry.RateLimitDefault)
			log.Warn("rate limited, waiting", "retry_after", wait, "attempt", res.Attempts)
			c.metrics.RecordRateLimit(wait)
			if serr := c.retry.Sleep(ctx, wait); serr != nil {
				return res, serr
			}

		case retry.Unauthorized:
			log.Error("credential rejected", "status", res.Status)
			return res, &FatalError{Method: method, Path: req.Path, Status: res.Status, Err: ErrUnauthorized}

		case retry.PermanentFailure:
			res.Message = errorMessage(body)
			log.Info("resource unavailable", "status", res.Status, "message", res.Message)
			return res, nil

		default:
			consumed++
			if consumed >= c.retry.MaxAttempts {
				res.Exhausted = true
				log.Error("request failed after retries", "status", res.Status, "error", herr, "attempts", consumed)
				return res, nil
			}
			delay := c.retry.Delay(consumed)
			log.Warn("request failed, retrying", "status", res.Status, "error", herr,
				"attempt", consumed, "max_attempts", c.retry.MaxAttempts, "retry_delay", delay)
			c.metrics.RecordRetry(method)
			if serr := c.retry.Sleep(ctx, delay); serr != nil {
				return res, serr
			}
		}
	}
}

func (c *Client) request(ctx context.Context, req Request) *resty.Request {
	r := c.http.R().SetContext(ctx)
	if req.Body != nil {
		r.SetBody(req.Body)
	}
	if !req.Anonymous {
		if h := c.cred.AuthorizationHeader(); h != "" {
			r.SetHeader("Authorization", h)
		}
	}
	if req.Reason != "" {
		r.SetHeader("X-Audit-Log-Reason", req.Reason)
	}
	return r
}

// Fetch downloads an absolute URL without credentials, used for auxiliary
// assets such as webhook avatars. A single attempt is made.
func (c *Client) Fetch(ctx context.Context, url string) ([]byte, string, error) {
	resp, err := c.http.R().SetContext(ctx).SetHeader("Accept", "*/*").Get(url)
	if err != nil {
		return nil, "", err
	}
	if resp.StatusCode() < 200 || resp.StatusCode() >= 300 {
		return nil, "", fmt.Errorf("fetch %s: status %d", url, resp.StatusCode())
	}
	return resp.Body(), resp.Header().Get("Content-Type"), nil
}

func errorMessage(body []byte) string {
	v, err := document.FromRaw(body)
	if err != nil {
		return ""
	}
	return v.Get("message").String()
}
