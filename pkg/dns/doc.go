/*
Package dns serves registry lookups over DNS so that clients without the
relay SDK can still discover healthy instances.

The server is authoritative for one zone (default "relay.") and answers
from the live registry on every query; nothing is cached beyond the record
TTL handed to clients.

# Names

	orders.relay.               A/AAAA for each healthy orders instance, shuffled
	eu.orders.relay.            as above, only instances tagged "eu"
	_orders._tcp.relay.         SRV per instance with its port; address
	                            records for the targets travel in the
	                            additional section
	orders-1.instance.relay.    a single instance by id

Instances registered with a hostname instead of an IP are answered with a
CNAME to that hostname, and SRV targets point at it directly.

A name inside the zone with no usable instance gets NXDOMAIN. Queries
outside the zone are forwarded to the configured upstreams, or REFUSED
when there are none.

# Usage

	srv := dns.NewServer(registry, dns.Config{Address: "127.0.0.1:8600"})
	if err := srv.Start(); err != nil {
		return err
	}
	defer srv.Stop(ctx)

	$ dig @127.0.0.1 -p 8600 _orders._tcp.relay SRV
*/
package dns
