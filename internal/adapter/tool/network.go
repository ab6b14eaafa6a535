package tool

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime"
	"net/http"
	"net/url"
	"strings"
	"time"

	"localagent/internal/domain"
	"localagent/internal/infra/config"
	"localagent/internal/security"
)

// NetworkToolID is the tool id of the HTTP client tool.
const NetworkToolID = domain.ToolNetwork

const defaultAccept = "application/json, text/plain, */*"

var allowedMethods = []string{
	http.MethodGet, http.MethodPost, http.MethodPut, http.MethodDelete,
	http.MethodHead, http.MethodOptions, http.MethodPatch,
}

// errUpstream marks 5xx responses so the breaker counts them as failures.
// The response itself is still returned to the caller.
var errUpstream = errors.New("upstream server error")

// NetworkTool performs HTTP requests with default headers, per-host rate
// limiting and circuit breaking, and optional private-address blocking.
type NetworkTool struct {
	client    *http.Client
	guard     *security.URLGuard // nil when private targets are allowed
	limiter   *HostLimiter
	breakers  *hostBreakers[*NetworkResponse]
	userAgent string
	maxBody   int64
	timeout   time.Duration
	logger    *slog.Logger
}

// NetworkOption configures optional NetworkTool features.
type NetworkOption func(*NetworkTool)

// WithURLGuard overrides the guard used when private blocking is enabled.
func WithURLGuard(g *security.URLGuard) NetworkOption {
	return func(t *NetworkTool) { t.guard = g }
}

// NewNetworkTool creates an HTTP tool from cfg.
func NewNetworkTool(cfg config.NetworkConfig, logger *slog.Logger, opts ...NetworkOption) *NetworkTool {
	t := &NetworkTool{
		limiter:   NewHostLimiter(cfg.RequestsPerSecond, cfg.Burst),
		breakers:  newHostBreakers[*NetworkResponse](cfg.Breaker, logger),
		userAgent: cfg.UserAgent,
		maxBody:   cfg.MaxBodyBytes,
		timeout:   cfg.Timeout,
		logger:    logger,
	}
	if t.userAgent == "" {
		t.userAgent = "LocalAgent/1.0"
	}
	if t.maxBody <= 0 {
		t.maxBody = 5 << 20
	}
	if t.timeout <= 0 {
		t.timeout = 30 * time.Second
	}
	if cfg.BlockPrivate {
		t.guard = security.NewURLGuard(nil)
	}
	for _, opt := range opts {
		opt(t)
	}

	var transport http.RoundTripper = http.DefaultTransport.(*http.Transport).Clone()
	if t.guard != nil {
		transport = t.guard.Transport()
	}
	t.client = &http.Client{
		Transport: transport,
		Timeout:   t.timeout,
		CheckRedirect: func(req *http.Request, via []*http.Request) error {
			if len(via) >= 5 {
				return fmt.Errorf("too many redirects")
			}
			if t.guard != nil {
				return t.guard.ValidateURL(req.Context(), req.URL.String())
			}
			return nil
		},
	}
	return t
}

func (t *NetworkTool) ID() string       { return NetworkToolID }
func (t *NetworkTool) Name() string     { return "Network Tool" }
func (t *NetworkTool) Category() string { return domain.ToolCategoryNetwork }
func (t *NetworkTool) Description() string {
	return "Send HTTP requests and decode JSON or text responses"
}

const networkRequestSchema = `{
	"type": "object",
	"properties": {
		"method": {"type": "string", "description": "HTTP method (default: GET)"},
		"url": {"type": "string", "minLength": 1},
		"headers": {"type": "object", "additionalProperties": {"type": "string"}},
		"query": {"type": "object"},
		"body": {},
		"timeout": {"type": "number", "exclusiveMinimum": 0, "description": "Timeout in seconds"}
	},
	"required": ["url"]
}`

type networkParams struct {
	Method  string            `json:"method,omitempty"`
	URL     string            `json:"url"`
	Headers map[string]string `json:"headers,omitempty"`
	Query   map[string]any    `json:"query,omitempty"`
	Body    any               `json:"body,omitempty"`
	Timeout float64           `json:"timeout,omitempty"`
}

// NetworkResponse is the decoded outcome of one request.
type NetworkResponse struct {
	StatusCode int               `json:"status_code"`
	Headers    map[string]string `json:"headers"`
	Data       any               `json:"data"`
	Truncated  bool              `json:"truncated,omitempty"`
}

func (t *NetworkTool) Operations() map[string]domain.Operation {
	return map[string]domain.Operation{
		"request": Op("Send an HTTP request", networkRequestSchema, t.request),
	}
}

func (t *NetworkTool) request(ctx context.Context, p networkParams) (any, error) {
	method := strings.ToUpper(p.Method)
	if method == "" {
		method = http.MethodGet
	}
	if err := ValidateAll(
		ValidateEnum("method", method, allowedMethods...),
		ValidateURL("url", p.URL),
	); err != nil {
		return nil, err
	}
	if t.guard != nil {
		if err := t.guard.ValidateURL(ctx, p.URL); err != nil {
			return nil, err
		}
	}

	u, err := url.Parse(p.URL)
	if err != nil {
		return nil, invalid("NetworkTool.request", "invalid url: %v", err)
	}
	if len(p.Query) > 0 {
		q := u.Query()
		for k, v := range p.Query {
			q.Set(k, fmt.Sprint(v))
		}
		u.RawQuery = q.Encode()
	}

	timeout := t.timeout
	if p.Timeout > 0 {
		timeout = time.Duration(p.Timeout * float64(time.Second))
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	host := u.Host
	if err := t.limiter.Wait(ctx, host); err != nil {
		return nil, err
	}

	req, err := t.newRequest(ctx, method, u.String(), p)
	if err != nil {
		return nil, err
	}

	resp, err := t.breakers.Execute(host, func() (*NetworkResponse, error) {
		return t.do(req)
	})
	if errors.Is(err, errUpstream) {
		err = nil
	}
	if err != nil {
		return nil, t.classify(ctx, err)
	}

	t.logger.Debug("network request completed", "method", method, "url", u.Redacted(), "status", resp.StatusCode)
	return resp, nil
}

func (t *NetworkTool) newRequest(ctx context.Context, method, target string, p networkParams) (*http.Request, error) {
	var (
		body        io.Reader
		contentType string
	)
	switch b := p.Body.(type) {
	case nil:
	case string:
		body = strings.NewReader(b)
	default:
		data, err := json.Marshal(b)
		if err != nil {
			return nil, invalid("NetworkTool.request", "body is not JSON-serializable: %v", err)
		}
		body = bytes.NewReader(data)
		contentType = "application/json"
	}

	req, err := http.NewRequestWithContext(ctx, method, target, body)
	if err != nil {
		return nil, invalid("NetworkTool.request", "create request: %v", err)
	}
	req.Header.Set("User-Agent", t.userAgent)
	req.Header.Set("Accept", defaultAccept)
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	for k, v := range p.Headers {
		if containsCRLF(k) || containsCRLF(v) {
			return nil, invalid("NetworkTool.request", "invalid header: CRLF characters not allowed")
		}
		req.Header.Set(k, v)
	}
	return req, nil
}

func (t *NetworkTool) do(req *http.Request) (*NetworkResponse, error) {
	resp, err := t.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, t.maxBody+1))
	if err != nil {
		return nil, fmt.Errorf("read body: %w", err)
	}
	truncated := int64(len(raw)) > t.maxBody
	if truncated {
		raw = raw[:t.maxBody]
	}

	out := &NetworkResponse{
		StatusCode: resp.StatusCode,
		Headers:    make(map[string]string, len(resp.Header)),
		Data:       decodeBody(resp.Header.Get("Content-Type"), raw, truncated),
		Truncated:  truncated,
	}
	for k, vs := range resp.Header {
		out.Headers[k] = strings.Join(vs, ", ")
	}

	if resp.StatusCode >= http.StatusInternalServerError {
		return out, errUpstream
	}
	return out, nil
}

// decodeBody returns parsed JSON for JSON content types and text otherwise.
// Malformed or truncated JSON falls back to text.
func decodeBody(contentType string, raw []byte, truncated bool) any {
	mt, _, _ := mime.ParseMediaType(contentType)
	if !truncated && (mt == "application/json" || strings.HasSuffix(mt, "+json")) {
		var v any
		if err := json.Unmarshal(raw, &v); err == nil {
			return v
		}
	}
	return string(raw)
}

func (t *NetworkTool) classify(ctx context.Context, err error) error {
	switch {
	case errors.Is(err, domain.ErrSSRFBlocked), errors.Is(err, domain.ErrCircuitOpen):
		return err
	case errors.Is(err, context.DeadlineExceeded), ctx.Err() != nil:
		return domain.NewSubSystemError("network", "NetworkTool.request", domain.ErrTimeout, err.Error())
	}
	var ue *url.Error
	if errors.As(err, &ue) && ue.Timeout() {
		return domain.NewSubSystemError("network", "NetworkTool.request", domain.ErrTimeout, err.Error())
	}
	return domain.NewSubSystemError("network", "NetworkTool.request", domain.ErrUnavailable, err.Error())
}

// Cleanup closes idle keep-alive connections.
func (t *NetworkTool) Cleanup(_ context.Context) error {
	t.client.CloseIdleConnections()
	return nil
}

// containsCRLF checks if a string contains CRLF characters that could be used for header injection.
func containsCRLF(s string) bool {
	return strings.ContainsAny(s, "\r\n")
}
