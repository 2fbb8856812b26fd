package model

import (
	"fmt"
	"time"

	"telegram-outreach-fleet/internal/domain"
)

type ProxyType string

const (
	ProxyTypeSocks5  ProxyType = "socks5"
	ProxyTypeSocks4  ProxyType = "socks4"
	ProxyTypeHTTP    ProxyType = "http"
	ProxyTypeHTTPS   ProxyType = "https"
	ProxyTypeMTProto ProxyType = "mtproto"
)

type ProxyStatus string

const (
	ProxyStatusUnknown     ProxyStatus = "unknown"
	ProxyStatusActive      ProxyStatus = "active"
	ProxyStatusSlow        ProxyStatus = "slow"
	ProxyStatusUnavailable ProxyStatus = "unavailable"
	ProxyStatusBanned      ProxyStatus = "banned"
)

// slowLatency is the health-check latency above which a working proxy is
// classified slow instead of active.
const slowLatency = 5 * time.Second

// maxProxyFailures trips the unavailable transition.
const maxProxyFailures = 3

// Proxy is one upstream endpoint. At most one account may reference a proxy
// at a time; the uniqueness is enforced by the manager and the repository,
// the model only carries the weak back-reference.
type Proxy struct {
	ID           string
	Host         string
	Port         int
	Type         ProxyType
	Username     string
	Password     string
	Status       ProxyStatus
	Latency      time.Duration
	FailureCount int
	AccountID    string // assigned account, empty when free
	LastChecked  *time.Time
	Version      int
}

func NewProxy(id, host string, port int, typ ProxyType) (*Proxy, error) {
	if id == "" || host == "" || port <= 0 || port > 65535 {
		return nil, domain.ErrInvalidArgument
	}
	return &Proxy{ID: id, Host: host, Port: port, Type: typ, Status: ProxyStatusUnknown}, nil
}

// Addr renders host:port.
func (p *Proxy) Addr() string { return fmt.Sprintf("%s:%d", p.Host, p.Port) }

// URL renders the proxy as a scheme://[user:pass@]host:port string for
// dialers that take a URL.
func (p *Proxy) URL() string {
	if p.Username != "" {
		return fmt.Sprintf("%s://%s:%s@%s", p.Type, p.Username, p.Password, p.Addr())
	}
	return fmt.Sprintf("%s://%s", p.Type, p.Addr())
}

// Available reports whether the proxy can be handed to an account: it must
// look usable and be unassigned.
func (p *Proxy) Available() bool {
	switch p.Status {
	case ProxyStatusActive, ProxyStatusSlow, ProxyStatusUnknown:
		return p.AccountID == ""
	default:
		return false
	}
}

// MarkActive records a passed health check: latency is stored, the failure
// streak resets and the status becomes active (or slow above the latency
// threshold). Banned proxies stay banned.
func (p *Proxy) MarkActive(latency time.Duration, now time.Time) {
	if p.Status == ProxyStatusBanned {
		return
	}
	p.Latency = latency
	p.FailureCount = 0
	if latency > slowLatency {
		p.Status = ProxyStatusSlow
	} else {
		p.Status = ProxyStatusActive
	}
	t := now
	p.LastChecked = &t
}

// MarkFailed records a failed check; three consecutive failures make the
// proxy unavailable.
func (p *Proxy) MarkFailed(now time.Time) {
	if p.Status == ProxyStatusBanned {
		return
	}
	p.FailureCount++
	if p.FailureCount >= maxProxyFailures {
		p.Status = ProxyStatusUnavailable
	}
	t := now
	p.LastChecked = &t
}

// MarkBanned is terminal.
func (p *Proxy) MarkBanned() { p.Status = ProxyStatusBanned }
