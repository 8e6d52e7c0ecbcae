package dns

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"
	"time"

	"github.com/cuemby/lobby/pkg/log"
	"github.com/miekg/dns"
)

const (
	// DefaultUpstream is used when no resolv.conf nameserver is available
	DefaultUpstream = "8.8.8.8:53"

	// DefaultTimeout bounds one reverse lookup across all upstreams
	DefaultTimeout = 2 * time.Second

	resolvConf = "/etc/resolv.conf"
)

// ErrNoPTR is returned when no upstream has a PTR record for the address
var ErrNoPTR = errors.New("no PTR record")

// Resolver performs reverse (PTR) lookups against upstream nameservers
type Resolver struct {
	upstream []string
	client   *dns.Client
	timeout  time.Duration
}

// NewResolver creates a resolver. An empty upstream list falls back to the
// system resolv.conf, then to DefaultUpstream.
func NewResolver(upstream []string, timeout time.Duration) *Resolver {
	if len(upstream) == 0 {
		upstream = systemUpstream()
	}
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Resolver{
		upstream: upstream,
		client:   &dns.Client{Net: "udp", Timeout: timeout},
		timeout:  timeout,
	}
}

// Upstream returns the nameservers queried, in order
func (r *Resolver) Upstream() []string {
	return append([]string(nil), r.upstream...)
}

// LookupPTR returns the first PTR name for ip, without the trailing dot
func (r *Resolver) LookupPTR(ctx context.Context, ip string) (string, error) {
	if net.ParseIP(ip) == nil {
		return "", fmt.Errorf("invalid IP address %q", ip)
	}

	arpa, err := dns.ReverseAddr(ip)
	if err != nil {
		return "", fmt.Errorf("reverse name for %s: %w", ip, err)
	}

	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	msg := new(dns.Msg)
	msg.SetQuestion(arpa, dns.TypePTR)
	msg.RecursionDesired = true

	// Try each upstream server
	var lastErr error = ErrNoPTR
	for _, upstream := range r.upstream {
		resp, _, err := r.client.ExchangeContext(ctx, msg, upstream)
		if err != nil {
			log.Logger.Debug().
				Err(err).
				Str("component", "dns").
				Str("upstream", upstream).
				Msg("reverse lookup failed")
			lastErr = err
			if ctx.Err() != nil {
				break
			}
			continue
		}

		if resp.Rcode != dns.RcodeSuccess {
			lastErr = fmt.Errorf("%w: %s", ErrNoPTR, dns.RcodeToString[resp.Rcode])
			continue
		}
		for _, rr := range resp.Answer {
			if ptr, ok := rr.(*dns.PTR); ok {
				return strings.TrimSuffix(ptr.Ptr, "."), nil
			}
		}
		lastErr = ErrNoPTR
	}

	return "", lastErr
}

func systemUpstream() []string {
	cfg, err := dns.ClientConfigFromFile(resolvConf)
	if err != nil || len(cfg.Servers) == 0 {
		return []string{DefaultUpstream}
	}

	servers := make([]string, 0, len(cfg.Servers))
	for _, s := range cfg.Servers {
		servers = append(servers, net.JoinHostPort(s, cfg.Port))
	}
	return servers
}
