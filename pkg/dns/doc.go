/*
Package dns enriches new visitors with reverse DNS information.

The Resolver sends PTR queries with github.com/miekg/dns to each upstream in
turn and returns the first answer. Upstreams default to the nameservers in
/etc/resolv.conf and fall back to 8.8.8.8:53.

The Enricher plugs into the engine's enrichment hook. It reads the "ip"
metadata key and records:

	ipVersion   "4" or "6"
	network     loopback, private, link-local or public
	hostname    PTR name, public addresses only

Enrichment is best effort. A failed or slow lookup never blocks registration
beyond the resolver timeout and never fails it.
*/
package dns
