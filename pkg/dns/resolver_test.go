package dns

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/miekg/dns"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// startPTRServer serves PTR answers from records on a loopback UDP port
func startPTRServer(t *testing.T, records map[string]string) string {
	t.Helper()

	pc, err := net.ListenPacket("udp", "127.0.0.1:0")
	require.NoError(t, err)

	mux := dns.NewServeMux()
	mux.HandleFunc(".", func(w dns.ResponseWriter, r *dns.Msg) {
		msg := new(dns.Msg)
		msg.SetReply(r)

		q := r.Question[0]
		host, ok := records[q.Name]
		if q.Qtype != dns.TypePTR || !ok {
			msg.Rcode = dns.RcodeNameError
			_ = w.WriteMsg(msg)
			return
		}
		msg.Answer = append(msg.Answer, &dns.PTR{
			Hdr: dns.RR_Header{Name: q.Name, Rrtype: dns.TypePTR, Class: dns.ClassINET, Ttl: 60},
			Ptr: host,
		})
		_ = w.WriteMsg(msg)
	})

	started := make(chan struct{})
	srv := &dns.Server{PacketConn: pc, Handler: mux, NotifyStartedFunc: func() { close(started) }}
	go func() { _ = srv.ActivateAndServe() }()
	t.Cleanup(func() { _ = srv.Shutdown() })

	select {
	case <-started:
	case <-time.After(5 * time.Second):
		t.Fatal("DNS server did not start")
	}
	return pc.LocalAddr().String()
}

func deadUpstream(t *testing.T) string {
	t.Helper()
	pc, err := net.ListenPacket("udp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := pc.LocalAddr().String()
	require.NoError(t, pc.Close())
	return addr
}

func TestLookupPTR(t *testing.T) {
	addr := startPTRServer(t, map[string]string{
		"4.3.2.1.in-addr.arpa.": "gate.example.com.",
	})
	r := NewResolver([]string{addr}, time.Second)

	host, err := r.LookupPTR(context.Background(), "1.2.3.4")
	require.NoError(t, err)
	assert.Equal(t, "gate.example.com", host)

	_, err = r.LookupPTR(context.Background(), "5.6.7.8")
	assert.ErrorIs(t, err, ErrNoPTR)

	_, err = r.LookupPTR(context.Background(), "not-an-ip")
	assert.Error(t, err)
}

func TestLookupPTRFallsThroughUpstreams(t *testing.T) {
	live := startPTRServer(t, map[string]string{
		"4.3.2.1.in-addr.arpa.": "gate.example.com.",
	})
	r := NewResolver([]string{deadUpstream(t), live}, 2*time.Second)
	assert.Len(t, r.Upstream(), 2)

	host, err := r.LookupPTR(context.Background(), "1.2.3.4")
	require.NoError(t, err)
	assert.Equal(t, "gate.example.com", host)
}

func TestNewResolverDefaults(t *testing.T) {
	r := NewResolver(nil, 0)
	assert.NotEmpty(t, r.Upstream())
	assert.Equal(t, DefaultTimeout, r.timeout)
}

func TestEnricher(t *testing.T) {
	addr := startPTRServer(t, map[string]string{
		"4.3.2.1.in-addr.arpa.": "gate.example.com.",
	})
	e := NewEnricher(NewResolver([]string{addr}, time.Second))
	ctx := context.Background()

	tests := []struct {
		name string
		ip   string
		want map[string]string
	}{
		{
			name: "public with PTR",
			ip:   "1.2.3.4",
			want: map[string]string{KeyIPVersion: "4", KeyNetwork: "public", KeyHostname: "gate.example.com"},
		},
		{
			name: "public without PTR",
			ip:   "5.6.7.8",
			want: map[string]string{KeyIPVersion: "4", KeyNetwork: "public"},
		},
		{
			name: "private",
			ip:   "10.1.2.3",
			want: map[string]string{KeyIPVersion: "4", KeyNetwork: "private"},
		},
		{
			name: "loopback v6",
			ip:   "::1",
			want: map[string]string{KeyIPVersion: "6", KeyNetwork: "loopback"},
		},
		{
			name: "missing",
			ip:   "",
			want: nil,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := e.Enrich(ctx, "v-1", map[string]string{"ip": tt.ip})
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestEnricherWithoutResolver(t *testing.T) {
	got := NewEnricher(nil).Enrich(context.Background(), "v-1", map[string]string{"ip": "1.2.3.4"})
	assert.Equal(t, map[string]string{KeyIPVersion: "4", KeyNetwork: "public"}, got)
}
