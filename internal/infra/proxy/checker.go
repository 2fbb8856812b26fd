package proxy

import (
	"context"
	"crypto/tls"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"time"

	xproxy "golang.org/x/net/proxy"

	"telegram-outreach-fleet/internal/domain/model"
)

// checkTimeout bounds one full health probe, dial included.
const checkTimeout = 15 * time.Second

// checkEndpoint is the well-known HTTPS endpoint probed through the proxy.
const checkEndpoint = "https://www.google.com/generate_204"

// Checker probes proxies end to end. Implementations must keep the probe
// within the 15s budget.
type Checker interface {
	Check(ctx context.Context, p *model.Proxy) (time.Duration, error)
}

// HTTPChecker dials through the proxy and fetches a lightweight HTTPS
// endpoint, returning the observed round-trip latency.
type HTTPChecker struct{}

func NewHTTPChecker() *HTTPChecker { return &HTTPChecker{} }

var _ Checker = (*HTTPChecker)(nil)

func (c *HTTPChecker) Check(ctx context.Context, p *model.Proxy) (time.Duration, error) {
	ctx, cancel := context.WithTimeout(ctx, checkTimeout)
	defer cancel()

	transport, err := transportFor(p)
	if err != nil {
		return 0, err
	}
	client := &http.Client{Transport: transport, Timeout: checkTimeout}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, checkEndpoint, nil)
	if err != nil {
		return 0, err
	}
	start := time.Now()
	resp, err := client.Do(req)
	if err != nil {
		return 0, fmt.Errorf("probe via %s: %w", p.Addr(), err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 400 {
		return 0, fmt.Errorf("probe via %s: http %d", p.Addr(), resp.StatusCode)
	}
	return time.Since(start), nil
}

// transportFor builds an http.Transport that routes through the proxy.
func transportFor(p *model.Proxy) (*http.Transport, error) {
	switch p.Type {
	case model.ProxyTypeSocks5, model.ProxyTypeSocks4:
		var auth *xproxy.Auth
		if p.Username != "" {
			auth = &xproxy.Auth{User: p.Username, Password: p.Password}
		}
		dialer, err := xproxy.SOCKS5("tcp", p.Addr(), auth, &net.Dialer{Timeout: checkTimeout})
		if err != nil {
			return nil, fmt.Errorf("socks dialer for %s: %w", p.Addr(), err)
		}
		dialCtx := func(ctx context.Context, network, addr string) (net.Conn, error) {
			if cd, ok := dialer.(xproxy.ContextDialer); ok {
				return cd.DialContext(ctx, network, addr)
			}
			return dialer.Dial(network, addr)
		}
		return &http.Transport{DialContext: dialCtx, TLSClientConfig: &tls.Config{MinVersion: tls.VersionTLS12}}, nil
	case model.ProxyTypeHTTP, model.ProxyTypeHTTPS:
		u, err := url.Parse(p.URL())
		if err != nil {
			return nil, fmt.Errorf("proxy url %s: %w", p.Addr(), err)
		}
		return &http.Transport{Proxy: http.ProxyURL(u), TLSClientConfig: &tls.Config{MinVersion: tls.VersionTLS12}}, nil
	default:
		return nil, fmt.Errorf("unsupported proxy type %q for health check", p.Type)
	}
}
