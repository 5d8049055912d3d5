package dns

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/miekg/dns"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cuemby/relay/pkg/registry"
	"github.com/cuemby/relay/pkg/types"
)

func testRegistry(t *testing.T) *registry.Registry {
	t.Helper()
	reg := registry.New()
	for _, inst := range []types.ServiceInstance{
		{InstanceID: "orders-1", ServiceName: "orders", Host: "127.0.0.1", Port: 7001, Tags: []string{"eu"}, Status: types.InstanceStatusUp},
		{InstanceID: "orders-2", ServiceName: "orders", Host: "10.0.0.2", Port: 7002, Status: types.InstanceStatusUp},
		{InstanceID: "orders-3", ServiceName: "orders", Host: "::1", Port: 7003, Status: types.InstanceStatusUp},
		{InstanceID: "orders-4", ServiceName: "orders", Host: "10.0.0.4", Port: 7004, Status: types.InstanceStatusStarting},
		{InstanceID: "billing-1", ServiceName: "billing", Host: "billing.internal", Port: 8000, Status: types.InstanceStatusUp},
	} {
		_, err := reg.Register(context.Background(), inst)
		require.NoError(t, err)
	}
	return reg
}

func question(name string, qtype uint16) dns.Question {
	return dns.Question{Name: name, Qtype: qtype, Qclass: dns.ClassINET}
}

// rdata renders the data part of each record, e.g. "127.0.0.1" or
// "orders-1.instance.relay.:7001"
func rdata(rrs []dns.RR) []string {
	out := make([]string, 0, len(rrs))
	for _, rr := range rrs {
		switch v := rr.(type) {
		case *dns.A:
			out = append(out, v.A.String())
		case *dns.AAAA:
			out = append(out, v.AAAA.String())
		case *dns.CNAME:
			out = append(out, v.Target)
		case *dns.SRV:
			out = append(out, fmt.Sprintf("%s:%d", v.Target, v.Port))
		default:
			out = append(out, rr.String())
		}
	}
	return out
}

func TestResolve(t *testing.T) {
	r := NewResolver(testRegistry(t), "relay", 5*time.Second)

	tests := []struct {
		name    string
		q       dns.Question
		want    []string
		wantErr error
	}{
		{name: "service A records skip non-usable and IPv6", q: question("orders.relay.", dns.TypeA), want: []string{"127.0.0.1", "10.0.0.2"}},
		{name: "service AAAA", q: question("orders.relay.", dns.TypeAAAA), want: []string{"::1"}},
		{name: "tag filter", q: question("eu.orders.relay.", dns.TypeA), want: []string{"127.0.0.1"}},
		{name: "case insensitive", q: question("ORDERS.Relay.", dns.TypeAAAA), want: []string{"::1"}},
		{name: "single instance", q: question("orders-2.instance.relay.", dns.TypeA), want: []string{"10.0.0.2"}},
		{name: "instance not usable", q: question("orders-4.instance.relay.", dns.TypeA), wantErr: ErrNotFound},
		{name: "unknown instance", q: question("nope.instance.relay.", dns.TypeA), wantErr: ErrNotFound},
		{name: "hostname answered with CNAME", q: question("billing.relay.", dns.TypeA), want: []string{"billing.internal."}},
		{name: "unknown service", q: question("payments.relay.", dns.TypeA), wantErr: ErrNotFound},
		{name: "unknown tag", q: question("us.orders.relay.", dns.TypeA), wantErr: ErrNotFound},
		{name: "too many labels", q: question("a.b.orders.relay.", dns.TypeA), wantErr: ErrNotFound},
		{name: "outside domain", q: question("example.com.", dns.TypeA), wantErr: ErrOutsideDomain},
		{name: "suffix is not a label boundary", q: question("notrelay.", dns.TypeA), wantErr: ErrOutsideDomain},
		{name: "zone apex", q: question("relay.", dns.TypeA), want: []string{}},
		{name: "known name, other type", q: question("orders.relay.", dns.TypeTXT), want: []string{}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ans, err := r.Resolve(tt.q)
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.ElementsMatch(t, tt.want, rdata(ans.Records))
			for _, rr := range ans.Records {
				assert.Equal(t, uint32(5), rr.Header().Ttl)
				assert.Equal(t, dns.Fqdn(tt.q.Name), rr.Header().Name)
			}
		})
	}
}

func TestResolveSRV(t *testing.T) {
	r := NewResolver(testRegistry(t), "relay.", 5*time.Second)

	ans, err := r.Resolve(question("_orders._tcp.relay.", dns.TypeSRV))
	require.NoError(t, err)
	require.Len(t, ans.Records, 3)

	targets := map[string]uint16{}
	for _, rr := range ans.Records {
		srv, ok := rr.(*dns.SRV)
		require.True(t, ok)
		targets[srv.Target] = srv.Port
	}
	assert.Equal(t, map[string]uint16{
		"orders-1.instance.relay.": 7001,
		"orders-2.instance.relay.": 7002,
		"orders-3.instance.relay.": 7003,
	}, targets)

	extra := map[string]string{}
	for _, rr := range ans.Extra {
		extra[rr.Header().Name] = rdata([]dns.RR{rr})[0]
	}
	assert.Equal(t, map[string]string{
		"orders-1.instance.relay.": "127.0.0.1",
		"orders-2.instance.relay.": "10.0.0.2",
		"orders-3.instance.relay.": "::1",
	}, extra)

	// hostname targets are used as-is and need no glue
	ans, err = r.Resolve(question("_billing._tcp.relay.", dns.TypeSRV))
	require.NoError(t, err)
	require.Len(t, ans.Records, 1)
	assert.Equal(t, "billing.internal.", ans.Records[0].(*dns.SRV).Target)
	assert.Empty(t, ans.Extra)

	// plain service names answer SRV too
	ans, err = r.Resolve(question("orders.relay.", dns.TypeSRV))
	require.NoError(t, err)
	assert.Len(t, ans.Records, 3)

	ans, err = r.Resolve(question("_orders._tcp.relay.", dns.TypeA))
	require.NoError(t, err)
	assert.Empty(t, ans.Records)

	_, err = r.Resolve(question("_payments._tcp.relay.", dns.TypeSRV))
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestResolveFollowsRegistry(t *testing.T) {
	reg := testRegistry(t)
	r := NewResolver(reg, "relay", time.Second)

	require.True(t, reg.MarkStatus("orders-2", types.InstanceStatusDraining))
	ans, err := r.Resolve(question("orders.relay.", dns.TypeA))
	require.NoError(t, err)
	assert.Equal(t, []string{"127.0.0.1"}, rdata(ans.Records))

	require.True(t, reg.Deregister("orders-1"))
	require.True(t, reg.Deregister("orders-3"))
	_, err = r.Resolve(question("orders.relay.", dns.TypeA))
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestNewResolverDomain(t *testing.T) {
	assert.Equal(t, "relay.", NewResolver(nil, "relay", 0).Domain())
	assert.Equal(t, "svc.relay.", NewResolver(nil, ".Svc.Relay.", 0).Domain())
}
