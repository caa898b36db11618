package hostfunc

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"slices"
	"strings"
	"time"
)

const (
	DefaultMaxURLLength   = 8192
	DefaultMaxBodySize    = 1 << 20 // 1MB
	DefaultRequestTimeout = 30 * time.Second
)

var (
	ErrHTTPDisabled   = errors.New("http not enabled")
	ErrHostNotAllowed = errors.New("host not allowed")
)

var httpMethods = []string{"GET", "POST", "PUT", "DELETE", "PATCH", "HEAD", "OPTIONS"}

// HTTPConfig restricts what an HTTP module may reach. With no AllowedHosts
// every request is refused.
type HTTPConfig struct {
	AllowedHosts   []string
	MaxBodySize    int64
	MaxURLLength   int
	RequestTimeout time.Duration
}

// HTTP performs outbound requests on behalf of scripts.
type HTTP struct {
	cfg    HTTPConfig
	client *http.Client
}

func NewHTTP(cfg HTTPConfig) *HTTP {
	if cfg.MaxBodySize <= 0 {
		cfg.MaxBodySize = DefaultMaxBodySize
	}
	if cfg.MaxURLLength <= 0 {
		cfg.MaxURLLength = DefaultMaxURLLength
	}
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = DefaultRequestTimeout
	}
	return &HTTP{
		cfg:    cfg,
		client: &http.Client{Timeout: cfg.RequestTimeout},
	}
}

// Register adds request, get and post to reg.
func (h *HTTP) Register(reg *Registry) {
	reg.Register("request", h.Request)
	reg.Register("get", h.withMethod(http.MethodGet))
	reg.Register("post", h.withMethod(http.MethodPost))
}

func (h *HTTP) withMethod(method string) Func {
	return func(ctx context.Context, args map[string]any) (any, error) {
		fixed := make(map[string]any, len(args)+1)
		for k, v := range args {
			fixed[k] = v
		}
		fixed["method"] = method
		return h.Request(ctx, fixed)
	}
}

// Request performs args.method (default GET) against args.url. args.body
// is sent as is when it is a string and JSON-encoded otherwise. The result
// holds status, headers and body; json holds the decoded body when the
// response declares a JSON content type.
func (h *HTTP) Request(ctx context.Context, args map[string]any) (any, error) {
	method, _ := args["method"].(string)
	if method == "" {
		method = http.MethodGet
	}
	method = strings.ToUpper(method)
	if !slices.Contains(httpMethods, method) {
		return nil, fmt.Errorf("unsupported method: %s", method)
	}

	rawURL, ok := stringArg(args, "url")
	if !ok {
		return nil, errors.New("url required")
	}
	target, err := h.checkURL(rawURL)
	if err != nil {
		return nil, err
	}

	body, contentType, err := h.encodeBody(args["body"])
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, method, target.String(), body)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	if headers, ok := args["headers"].(map[string]any); ok {
		for k, v := range headers {
			if vs, ok := v.(string); ok {
				req.Header.Set(k, vs)
			}
		}
	}

	resp, err := h.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, h.cfg.MaxBodySize))
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}

	respHeaders := make(map[string]any, len(resp.Header))
	for k, v := range resp.Header {
		if len(v) > 0 {
			respHeaders[strings.ToLower(k)] = v[0]
		}
	}

	result := map[string]any{
		"status":  resp.StatusCode,
		"ok":      resp.StatusCode >= 200 && resp.StatusCode < 300,
		"body":    string(respBody),
		"headers": respHeaders,
	}
	if strings.Contains(resp.Header.Get("Content-Type"), "json") {
		var decoded any
		if json.Unmarshal(respBody, &decoded) == nil {
			result["json"] = decoded
		}
	}
	return result, nil
}

func (h *HTTP) checkURL(rawURL string) (*url.URL, error) {
	if len(rawURL) > h.cfg.MaxURLLength {
		return nil, fmt.Errorf("url exceeds %d bytes", h.cfg.MaxURLLength)
	}
	parsed, err := url.Parse(rawURL)
	if err != nil {
		return nil, fmt.Errorf("invalid url: %w", err)
	}
	if parsed.Scheme != "http" && parsed.Scheme != "https" {
		return nil, errors.New("scheme must be http or https")
	}
	if len(h.cfg.AllowedHosts) == 0 {
		return nil, ErrHTTPDisabled
	}
	if host := parsed.Hostname(); !h.hostAllowed(host) {
		return nil, fmt.Errorf("%w: %s", ErrHostNotAllowed, host)
	}
	return parsed, nil
}

func (h *HTTP) encodeBody(v any) (io.Reader, string, error) {
	var data []byte
	contentType := ""
	switch b := v.(type) {
	case nil:
		return nil, "", nil
	case string:
		if b == "" {
			return nil, "", nil
		}
		data = []byte(b)
	default:
		encoded, err := json.Marshal(b)
		if err != nil {
			return nil, "", fmt.Errorf("encode body: %w", err)
		}
		data = encoded
		contentType = "application/json"
	}
	if int64(len(data)) > h.cfg.MaxBodySize {
		return nil, "", fmt.Errorf("request body exceeds %d bytes", h.cfg.MaxBodySize)
	}
	return bytes.NewReader(data), contentType, nil
}

func (h *HTTP) hostAllowed(host string) bool {
	for _, allowed := range h.cfg.AllowedHosts {
		if host == allowed || strings.HasSuffix(host, "."+allowed) {
			return true
		}
	}
	return false
}
