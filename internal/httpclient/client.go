// Package httpclient is the single outbound HTTP path used by every
// other component: discovery probes, source-map fetches, lockfile
// reads, and any plain (non-browser) asset fetch during capture. It
// wraps net/http with a Chrome TLS fingerprint via utls and adds
// bounded retry with backoff on transient network errors.
package httpclient

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	tls "github.com/refraction-networking/utls"

	"github.com/use-agent/reconweb/config"
	"github.com/use-agent/reconweb/models"
)

// Client performs GET/HEAD requests with a browser-identifying TLS
// fingerprint, bounded body size, and transient-error retry.
type Client struct {
	httpClient *http.Client
	cfg        config.HTTPConfig
}

// chromeH1Spec is computed once and reused for every connection.
// ALPN is pinned to http/1.1 so utls and Go's http.Transport never
// disagree on framing.
var chromeH1Spec tls.ClientHelloSpec

func init() {
	spec, err := tls.UTLSIdToSpec(tls.HelloChrome_Auto)
	if err != nil {
		return
	}
	for i, ext := range spec.Extensions {
		if alpn, ok := ext.(*tls.ALPNExtension); ok {
			alpn.AlpnProtocols = []string{"http/1.1"}
			spec.Extensions[i] = alpn
			break
		}
	}
	chromeH1Spec = spec
}

// New builds a Client from HTTPConfig.
func New(cfg config.HTTPConfig) *Client {
	transport := &http.Transport{
		DialTLSContext: func(ctx context.Context, network, addr string) (net.Conn, error) {
			dialer := &net.Dialer{Timeout: 10 * time.Second}
			var conn net.Conn
			var err error
			if cfg.Proxy != "" {
				conn, err = dialThroughProxy(ctx, dialer, network, addr, cfg.Proxy)
			} else {
				conn, err = dialer.DialContext(ctx, network, addr)
			}
			if err != nil {
				return nil, err
			}
			host, _, _ := net.SplitHostPort(addr)
			tlsConf := &tls.Config{ServerName: host, InsecureSkipVerify: cfg.Insecure}
			tlsConn := tls.UClient(conn, tlsConf, tls.HelloCustom)
			if err := tlsConn.ApplyPreset(&chromeH1Spec); err != nil {
				conn.Close()
				return nil, fmt.Errorf("httpclient: apply tls spec: %w", err)
			}
			if err := tlsConn.HandshakeContext(ctx); err != nil {
				conn.Close()
				return nil, err
			}
			return tlsConn, nil
		},
		ForceAttemptHTTP2: false,
	}
	return &Client{
		cfg: cfg,
		httpClient: &http.Client{
			Transport: transport,
			Timeout:   cfg.Timeout,
			CheckRedirect: func(req *http.Request, via []*http.Request) error {
				if len(via) >= 10 {
					return fmt.Errorf("httpclient: too many redirects")
				}
				return nil
			},
		},
	}
}

func dialThroughProxy(ctx context.Context, dialer *net.Dialer, network, addr, proxy string) (net.Conn, error) {
	proxyURL, err := url.Parse(proxy)
	if err != nil {
		return dialer.DialContext(ctx, network, addr)
	}
	if proxyURL.Scheme == "socks5" || proxyURL.Scheme == "socks5h" {
		return dialer.DialContext(ctx, "tcp", proxyURL.Host)
	}
	return dialer.DialContext(ctx, network, addr)
}

// Response is the result of a successful fetch.
type Response struct {
	Body       []byte
	StatusCode int
	Header     http.Header
	FinalURL   string
}

// Get performs a GET request, retrying transient failures with
// exponential backoff. maxBytes bounds the response body; 0 means use
// a 10 MB default.
func (c *Client) Get(ctx context.Context, rawURL string, maxBytes int64) (*Response, error) {
	return c.do(ctx, http.MethodGet, rawURL, maxBytes)
}

// Head performs a HEAD request without retrying the body (there is
// none), but does retry transient connection failures.
func (c *Client) Head(ctx context.Context, rawURL string) (*Response, error) {
	return c.do(ctx, http.MethodHead, rawURL, 0)
}

func (c *Client) do(ctx context.Context, method, rawURL string, maxBytes int64) (*Response, error) {
	if maxBytes <= 0 {
		maxBytes = 10 << 20
	}

	var lastErr error
	backoff := c.cfg.BackoffBase
	attempts := c.cfg.Retries + 1
	for attempt := 0; attempt < attempts; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(backoff):
			}
			backoff *= 2
		}

		resp, err := c.attempt(ctx, method, rawURL, maxBytes)
		if err == nil {
			return resp, nil
		}
		lastErr = err
		var re *models.ReconError
		if !errors.As(err, &re) {
			return nil, err
		}
		switch re.Code {
		case models.ErrFetchTimeout, models.ErrFetchConnectionReset,
			models.ErrFetchConnectionRefused, models.ErrFetchDNSError:
			// transient: retry after backoff
		default:
			return nil, err
		}
	}
	return nil, lastErr
}

func (c *Client) attempt(ctx context.Context, method, rawURL string, maxBytes int64) (*Response, error) {
	req, err := http.NewRequestWithContext(ctx, method, rawURL, nil)
	if err != nil {
		return nil, models.NewError(models.ErrFetchFailed, "build request", err).WithURL(rawURL)
	}
	applyBrowserHeaders(req, c.cfg.UserAgent)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		code := classifyTransient(err)
		return nil, models.NewError(code, err.Error(), err).WithURL(rawURL)
	}
	defer resp.Body.Close()

	if method == http.MethodHead {
		return &Response{StatusCode: resp.StatusCode, Header: resp.Header, FinalURL: resp.Request.URL.String()}, nil
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBytes))
	if err != nil {
		return nil, models.NewError(models.ErrFetchFailed, "read body", err).WithURL(rawURL)
	}

	if resp.StatusCode >= 400 {
		return nil, models.NewError(models.ErrHTTPError,
			fmt.Sprintf("HTTP %d", resp.StatusCode), nil).
			WithURL(rawURL).
			WithDetail("status", resp.StatusCode)
	}

	return &Response{
		Body:       body,
		StatusCode: resp.StatusCode,
		Header:     resp.Header,
		FinalURL:   resp.Request.URL.String(),
	}, nil
}

func applyBrowserHeaders(req *http.Request, ua string) {
	if ua == "" {
		ua = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/131.0.0.0 Safari/537.36"
	}
	req.Header.Set("User-Agent", ua)
	req.Header.Set("Accept", "text/html,application/xhtml+xml,application/xml;q=0.9,*/*;q=0.8")
	req.Header.Set("Accept-Language", "en-US,en;q=0.9")
	req.Header.Set("Accept-Encoding", "identity")
	req.Header.Set("Cache-Control", "no-cache")
}

// classifyTransient maps a low-level error to a network ReconError
// code, distinguishing retryable conditions (timeout, reset, refused,
// DNS) from a bare fetch failure.
func classifyTransient(err error) string {
	msg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(msg, "timeout"), strings.Contains(msg, "deadline exceeded"):
		return models.ErrFetchTimeout
	case strings.Contains(msg, "connection reset"), strings.Contains(msg, "socket hang up"):
		return models.ErrFetchConnectionReset
	case strings.Contains(msg, "connection refused"):
		return models.ErrFetchConnectionRefused
	case strings.Contains(msg, "no such host"), strings.Contains(msg, "dns"):
		return models.ErrFetchDNSError
	case strings.Contains(msg, "certificate"), strings.Contains(msg, "tls"), strings.Contains(msg, "x509"):
		return models.ErrFetchSSLError
	default:
		return models.ErrFetchFailed
	}
}

// DecodeDataURI decodes a data: URI body, used for inline source maps
// and inline <script>/<style> content.
func DecodeDataURI(raw string) ([]byte, string, error) {
	if !strings.HasPrefix(raw, "data:") {
		return nil, "", fmt.Errorf("httpclient: not a data URI")
	}
	rest := raw[len("data:"):]
	comma := strings.IndexByte(rest, ',')
	if comma < 0 {
		return nil, "", fmt.Errorf("httpclient: malformed data URI")
	}
	meta, payload := rest[:comma], rest[comma+1:]
	mediaType := "text/plain"
	base64Encoded := false
	parts := strings.Split(meta, ";")
	if len(parts) > 0 && parts[0] != "" {
		mediaType = parts[0]
	}
	for _, p := range parts[1:] {
		if p == "base64" {
			base64Encoded = true
		}
	}
	if base64Encoded {
		decoded, err := base64.StdEncoding.DecodeString(payload)
		if err != nil {
			decoded, err = base64.RawStdEncoding.DecodeString(payload)
			if err != nil {
				return nil, mediaType, models.NewError(models.ErrInvalidBase64, "decode data URI", err)
			}
		}
		return decoded, mediaType, nil
	}
	unescaped, err := url.QueryUnescape(payload)
	if err != nil {
		return []byte(payload), mediaType, nil
	}
	return []byte(unescaped), mediaType, nil
}
