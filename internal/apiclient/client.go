// Package apiclient is the authenticated REST transport for the chat
// backend. It carries the Django session cookie, injects the CSRF header on
// unsafe requests and normalizes every failure into *Error.
package apiclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/matheus3301/chatsync/internal/metrics"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

const (
	// CSRFCookie is the cookie Django stores the CSRF token in.
	CSRFCookie = "csrftoken"
	// CSRFHeader is the header Django reads the token from.
	CSRFHeader = "X-CSRFToken"
	// SessionCookie is the Django session cookie.
	SessionCookie = "sessionid"

	// DefaultBaseURL matches the web app's fallback.
	DefaultBaseURL = "http://localhost:8000/"
)

// Options configures a Client.
type Options struct {
	BaseURL       string
	SessionCookie string
	CSRFToken     string
	Timeout       time.Duration
	Logger        *zap.Logger
	HTTPClient    *http.Client
}

// Client talks to the backend REST API.
type Client struct {
	base   *url.URL
	http   *http.Client
	jar    http.CookieJar
	logger *zap.Logger
	tracer trace.Tracer
}

// New creates a client with a cookie jar seeded from opts.
func New(opts Options) (*Client, error) {
	raw := opts.BaseURL
	if raw == "" {
		raw = DefaultBaseURL
	}
	if !strings.HasSuffix(raw, "/") {
		raw += "/"
	}
	base, err := url.Parse(raw)
	if err != nil {
		return nil, fmt.Errorf("parse base url: %w", err)
	}
	if base.Scheme != "http" && base.Scheme != "https" {
		return nil, fmt.Errorf("base url %q: scheme must be http or https", raw)
	}

	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	hc := opts.HTTPClient
	if hc == nil {
		hc = &http.Client{Timeout: opts.Timeout}
	}
	if hc.Jar == nil {
		jar, err := cookiejar.New(nil)
		if err != nil {
			return nil, fmt.Errorf("create cookie jar: %w", err)
		}
		hc.Jar = jar
	}

	var seed []*http.Cookie
	if opts.SessionCookie != "" {
		seed = append(seed, &http.Cookie{Name: SessionCookie, Value: opts.SessionCookie, Path: "/"})
	}
	if opts.CSRFToken != "" {
		seed = append(seed, &http.Cookie{Name: CSRFCookie, Value: opts.CSRFToken, Path: "/"})
	}
	if len(seed) > 0 {
		hc.Jar.SetCookies(base, seed)
	}

	return &Client{
		base:   base,
		http:   hc,
		jar:    hc.Jar,
		logger: logger,
		tracer: otel.Tracer("github.com/matheus3301/chatsync/internal/apiclient"),
	}, nil
}

// BaseURL returns the API root.
func (c *Client) BaseURL() *url.URL {
	u := *c.base
	return &u
}

// Jar exposes the cookie jar so other transports share the session.
func (c *Client) Jar() http.CookieJar { return c.jar }

// CSRFToken returns the current csrftoken cookie value, if any.
func (c *Client) CSRFToken() string {
	for _, ck := range c.jar.Cookies(c.base) {
		if ck.Name == CSRFCookie {
			return ck.Value
		}
	}
	return ""
}

// Multipart is a form body; sending it lets the transport pick the
// multipart content type and boundary instead of JSON.
type Multipart struct {
	Fields map[string]string
	Files  []FormFile
}

// FormFile is a single file part.
type FormFile struct {
	Field    string
	Filename string
	Content  []byte
}

// request describes one REST call. route is the templated path used for
// metrics and span names.
type request struct {
	method string
	route  string
	path   string
	query  url.Values
	body   any
}

func (c *Client) do(ctx context.Context, r request, out any) (int, error) {
	ctx, span := c.tracer.Start(ctx, r.method+" "+r.route, trace.WithSpanKind(trace.SpanKindClient))
	defer span.End()

	u := c.base.ResolveReference(&url.URL{Path: strings.TrimPrefix(r.path, "/")})
	if len(r.query) > 0 {
		u.RawQuery = r.query.Encode()
	}

	body, contentType, err := encodeBody(r.body)
	if err != nil {
		return 0, &Error{Method: r.method, Path: r.path, Err: err}
	}

	req, err := http.NewRequestWithContext(ctx, r.method, u.String(), body)
	if err != nil {
		return 0, &Error{Method: r.method, Path: r.path, Err: err}
	}
	requestID := uuid.NewString()
	req.Header.Set("Accept", "application/json")
	req.Header.Set("X-Request-ID", requestID)
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	if unsafeMethod(r.method) {
		if token := c.CSRFToken(); token != "" {
			req.Header.Set(CSRFHeader, token)
		}
		req.Header.Set("Referer", c.base.String())
	}
	span.SetAttributes(
		attribute.String("http.request.method", r.method),
		attribute.String("url.path", r.path),
		attribute.String("chatsync.request_id", requestID),
	)

	start := time.Now()
	resp, err := c.http.Do(req)
	elapsed := time.Since(start).Seconds()
	if err != nil {
		metrics.RecordRequest(r.method, r.route, 0, elapsed)
		span.RecordError(err)
		span.SetStatus(codes.Error, "transport error")
		c.logger.Debug("backend request failed", zap.String("method", r.method), zap.String("path", r.path), zap.Error(err))
		return 0, &Error{Method: r.method, Path: r.path, Err: err}
	}
	defer func() { _ = resp.Body.Close() }()

	metrics.RecordRequest(r.method, r.route, resp.StatusCode, elapsed)
	span.SetAttributes(attribute.Int("http.response.status_code", resp.StatusCode))

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return resp.StatusCode, &Error{Status: resp.StatusCode, Method: r.method, Path: r.path, Err: err}
	}

	if resp.StatusCode >= 400 {
		apiErr := &Error{Status: resp.StatusCode, Method: r.method, Path: r.path, Detail: parseDetail(data)}
		span.SetStatus(codes.Error, http.StatusText(resp.StatusCode))
		c.logger.Debug("backend request rejected",
			zap.String("method", r.method),
			zap.String("path", r.path),
			zap.Int("status", resp.StatusCode),
			zap.String("detail", apiErr.Detail),
			zap.String("request_id", requestID))
		return resp.StatusCode, apiErr
	}

	if out != nil && len(bytes.TrimSpace(data)) > 0 {
		if err := json.Unmarshal(data, out); err != nil {
			return resp.StatusCode, &Error{Status: resp.StatusCode, Method: r.method, Path: r.path, Err: fmt.Errorf("decode response: %w", err)}
		}
	}
	return resp.StatusCode, nil
}

func encodeBody(body any) (io.Reader, string, error) {
	switch b := body.(type) {
	case nil:
		return nil, "", nil
	case *Multipart:
		var buf bytes.Buffer
		w := multipart.NewWriter(&buf)
		for k, v := range b.Fields {
			if err := w.WriteField(k, v); err != nil {
				return nil, "", err
			}
		}
		for _, f := range b.Files {
			part, err := w.CreateFormFile(f.Field, f.Filename)
			if err != nil {
				return nil, "", err
			}
			if _, err := part.Write(f.Content); err != nil {
				return nil, "", err
			}
		}
		if err := w.Close(); err != nil {
			return nil, "", err
		}
		return &buf, w.FormDataContentType(), nil
	default:
		data, err := json.Marshal(b)
		if err != nil {
			return nil, "", fmt.Errorf("encode body: %w", err)
		}
		return bytes.NewReader(data), "application/json", nil
	}
}

func unsafeMethod(m string) bool {
	switch m {
	case http.MethodGet, http.MethodHead, http.MethodOptions, http.MethodTrace:
		return false
	}
	return true
}
