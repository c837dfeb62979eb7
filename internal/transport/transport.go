// Package transport wraps net/http with proxy-aware requests and the
// operations the download engine needs from an origin server: probing a
// URL's size/range support, opening a byte range for reading, and opening
// a plain unranged stream. It does not retry; retries are made by the
// download engine's segment workers. Generalized from the teacher's utils/http.go HTTPClient, with
// the Terabox-specific header set and user-agent rotation dropped (see
// DESIGN.md) and HEAD/Range probing added per the spec.
package transport

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"golang.org/x/net/proxy"

	"gridfetch/internal/xerrors"
)

// Probe describes what a HEAD (or ranged GET fallback) request learned
// about a remote resource.
type Probe struct {
	Size           int64
	AcceptsRanges  bool
	Validator      string // ETag or Last-Modified, whichever is present
	SuggestedName  string
}

// Transport performs the HTTP operations the download engine needs.
type Transport struct {
	client *http.Client
}

// Config configures a Transport.
type Config struct {
	Timeout  time.Duration
	ProxyURL string
}

// New builds a Transport from cfg.
func New(cfg Config) (*Transport, error) {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	transport := &http.Transport{
		DialContext: (&net.Dialer{
			Timeout:   10 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		TLSHandshakeTimeout:   10 * time.Second,
		ResponseHeaderTimeout: 15 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
		MaxIdleConns:          100,
		MaxIdleConnsPerHost:   16,
		IdleConnTimeout:       90 * time.Second,
		TLSClientConfig:       &tls.Config{},
	}

	if cfg.ProxyURL != "" {
		if err := configureProxy(transport, cfg.ProxyURL); err != nil {
			return nil, fmt.Errorf("configure proxy: %w", err)
		}
	}

	return &Transport{
		client: &http.Client{
			Transport: transport,
			Timeout:   0, // per-request context carries the deadline instead
			CheckRedirect: func(req *http.Request, via []*http.Request) error {
				if len(via) >= 10 {
					return fmt.Errorf("too many redirects")
				}
				return nil
			},
		},
	}, nil
}

func configureProxy(transport *http.Transport, proxyURL string) error {
	parsed, err := url.Parse(proxyURL)
	if err != nil {
		return fmt.Errorf("invalid proxy URL: %w", err)
	}
	switch parsed.Scheme {
	case "http", "https":
		transport.Proxy = http.ProxyURL(parsed)
	case "socks5":
		dialer, err := proxy.SOCKS5("tcp", parsed.Host, nil, proxy.Direct)
		if err != nil {
			return fmt.Errorf("create socks5 dialer: %w", err)
		}
		transport.DialContext = func(ctx context.Context, network, addr string) (net.Conn, error) {
			return dialer.Dial(network, addr)
		}
	default:
		return fmt.Errorf("unsupported proxy scheme: %s", parsed.Scheme)
	}
	return nil
}

// Probe issues a HEAD request (falling back to a single-byte ranged GET if
// HEAD is rejected) to learn the resource's size and range support.
func (t *Transport) Probe(ctx context.Context, rawURL string) (Probe, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodHead, rawURL, nil)
	if err != nil {
		return Probe{}, xerrors.New(xerrors.Permanent, rawURL, "build HEAD request", err)
	}
	resp, err := t.client.Do(req)
	if err != nil {
		return Probe{}, classifyNetErr(rawURL, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusMethodNotAllowed || resp.StatusCode == http.StatusNotImplemented {
		return t.probeViaRangedGet(ctx, rawURL)
	}
	if resp.StatusCode == http.StatusNotFound || resp.StatusCode == http.StatusGone {
		return Probe{}, xerrors.New(xerrors.Permanent, rawURL, fmt.Sprintf("HEAD status %d", resp.StatusCode), nil)
	}
	if resp.StatusCode == http.StatusForbidden || resp.StatusCode == http.StatusUnauthorized {
		return Probe{}, xerrors.New(xerrors.Permanent, rawURL, fmt.Sprintf("HEAD status %d", resp.StatusCode), nil)
	}
	if resp.StatusCode >= 500 {
		return Probe{}, xerrors.New(xerrors.Transient, rawURL, fmt.Sprintf("HEAD status %d", resp.StatusCode), nil)
	}
	if resp.StatusCode != http.StatusOK {
		return Probe{}, xerrors.New(xerrors.Permanent, rawURL, fmt.Sprintf("unexpected HEAD status %d", resp.StatusCode), nil)
	}

	return Probe{
		Size:          resp.ContentLength,
		AcceptsRanges: resp.Header.Get("Accept-Ranges") == "bytes",
		Validator:     validatorOf(resp.Header),
		SuggestedName: resp.Header.Get("Content-Disposition"),
	}, nil
}

func (t *Transport) probeViaRangedGet(ctx context.Context, rawURL string) (Probe, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return Probe{}, xerrors.New(xerrors.Permanent, rawURL, "build ranged GET", err)
	}
	req.Header.Set("Range", "bytes=0-0")
	resp, err := t.client.Do(req)
	if err != nil {
		return Probe{}, classifyNetErr(rawURL, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusPartialContent {
		total := parseContentRangeTotal(resp.Header.Get("Content-Range"))
		return Probe{Size: total, AcceptsRanges: true, Validator: validatorOf(resp.Header)}, nil
	}
	if resp.StatusCode == http.StatusOK {
		return Probe{Size: resp.ContentLength, AcceptsRanges: false, Validator: validatorOf(resp.Header)}, nil
	}
	return Probe{}, xerrors.New(xerrors.Permanent, rawURL, fmt.Sprintf("ranged GET status %d", resp.StatusCode), nil)
}

// OpenRange issues a ranged GET for [start,end] (inclusive) and returns the
// live response body for the caller to copy and close.
func (t *Transport) OpenRange(ctx context.Context, rawURL string, start, end int64) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, xerrors.New(xerrors.Permanent, rawURL, "build ranged request", err)
	}
	req.Header.Set("Range", fmt.Sprintf("bytes=%d-%d", start, end))

	resp, err := t.client.Do(req)
	if err != nil {
		return nil, classifyNetErr(rawURL, err)
	}

	switch resp.StatusCode {
	case http.StatusPartialContent:
		return resp, nil
	case http.StatusOK:
		resp.Body.Close()
		return nil, xerrors.New(xerrors.RangeUnsupported, rawURL, "origin ignored Range and sent 200", nil)
	case http.StatusRequestedRangeNotSatisfiable:
		resp.Body.Close()
		return nil, xerrors.New(xerrors.SourceChanged, rawURL, "range not satisfiable", nil)
	case http.StatusTooManyRequests:
		resp.Body.Close()
		return nil, xerrors.New(xerrors.Transient, rawURL, "rate limited", nil)
	case http.StatusForbidden, http.StatusUnauthorized, http.StatusNotFound:
		resp.Body.Close()
		return nil, xerrors.New(xerrors.Permanent, rawURL, fmt.Sprintf("status %d", resp.StatusCode), nil)
	default:
		if resp.StatusCode >= 500 {
			resp.Body.Close()
			return nil, xerrors.New(xerrors.Transient, rawURL, fmt.Sprintf("status %d", resp.StatusCode), nil)
		}
		resp.Body.Close()
		return nil, xerrors.New(xerrors.Permanent, rawURL, fmt.Sprintf("unexpected status %d", resp.StatusCode), nil)
	}
}

// OpenStream issues a plain GET with no Range header, for origins that
// have been found not to honor byte ranges at all.
func (t *Transport) OpenStream(ctx context.Context, rawURL string) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, xerrors.New(xerrors.Permanent, rawURL, "build stream request", err)
	}

	resp, err := t.client.Do(req)
	if err != nil {
		return nil, classifyNetErr(rawURL, err)
	}

	switch resp.StatusCode {
	case http.StatusOK, http.StatusPartialContent:
		return resp, nil
	case http.StatusTooManyRequests:
		resp.Body.Close()
		return nil, xerrors.New(xerrors.Transient, rawURL, "rate limited", nil)
	case http.StatusForbidden, http.StatusUnauthorized, http.StatusNotFound:
		resp.Body.Close()
		return nil, xerrors.New(xerrors.Permanent, rawURL, fmt.Sprintf("status %d", resp.StatusCode), nil)
	default:
		if resp.StatusCode >= 500 {
			resp.Body.Close()
			return nil, xerrors.New(xerrors.Transient, rawURL, fmt.Sprintf("status %d", resp.StatusCode), nil)
		}
		resp.Body.Close()
		return nil, xerrors.New(xerrors.Permanent, rawURL, fmt.Sprintf("unexpected status %d", resp.StatusCode), nil)
	}
}

func classifyNetErr(rawURL string, err error) error {
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return xerrors.New(xerrors.Transient, rawURL, "network timeout", err)
	}
	return xerrors.New(xerrors.Transient, rawURL, "network error", err)
}

func validatorOf(h http.Header) string {
	if et := h.Get("ETag"); et != "" {
		return et
	}
	return h.Get("Last-Modified")
}

func parseContentRangeTotal(cr string) int64 {
	// Format: "bytes 0-0/12345"
	idx := -1
	for i := len(cr) - 1; i >= 0; i-- {
		if cr[i] == '/' {
			idx = i
			break
		}
	}
	if idx == -1 || idx+1 >= len(cr) {
		return 0
	}
	n, err := strconv.ParseInt(cr[idx+1:], 10, 64)
	if err != nil {
		return 0
	}
	return n
}
