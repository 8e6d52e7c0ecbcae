package dns

import (
	"context"
	"net"
	"strings"
)

// Enrichment keys written by Enricher
const (
	KeyHostname  = "hostname"
	KeyIPVersion = "ipVersion"
	KeyNetwork   = "network"
)

// Enricher annotates a visitor with what can be learned from its address.
// It reads the "ip" metadata key set by the API layer.
type Enricher struct {
	resolver *Resolver
}

// NewEnricher creates an enricher. A nil resolver disables PTR lookups.
func NewEnricher(resolver *Resolver) *Enricher {
	return &Enricher{resolver: resolver}
}

// Enrich returns the enrichment for a new visitor. Lookups that fail are
// left out; the result is never an error.
func (e *Enricher) Enrich(ctx context.Context, visitorID string, metadata map[string]string) map[string]string {
	ip := net.ParseIP(strings.TrimSpace(metadata["ip"]))
	if ip == nil {
		return nil
	}

	out := map[string]string{
		KeyIPVersion: "6",
		KeyNetwork:   classify(ip),
	}
	if ip.To4() != nil {
		out[KeyIPVersion] = "4"
	}

	// Private and loopback ranges have no useful public PTR
	if e.resolver != nil && out[KeyNetwork] == "public" {
		if host, err := e.resolver.LookupPTR(ctx, ip.String()); err == nil {
			out[KeyHostname] = host
		}
	}
	return out
}

func classify(ip net.IP) string {
	switch {
	case ip.IsLoopback():
		return "loopback"
	case ip.IsPrivate():
		return "private"
	case ip.IsLinkLocalUnicast():
		return "link-local"
	default:
		return "public"
	}
}
