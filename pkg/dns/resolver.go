package dns

import (
	"errors"
	"math/rand"
	"net"
	"strings"
	"time"

	"github.com/miekg/dns"

	"github.com/cuemby/relay/pkg/types"
)

var (
	// ErrNotFound means the name is inside the relay domain but nothing
	// usable is registered under it
	ErrNotFound = errors.New("name not found")

	// ErrOutsideDomain means the query is for a name relay does not own
	ErrOutsideDomain = errors.New("name outside relay domain")
)

// instanceLabel separates instance names from service names:
// <instance-id>.instance.<domain>
const instanceLabel = "instance"

// Source is the part of the registry the resolver reads
type Source interface {
	GetHealthy(serviceName string, requiredTags []string) []types.ServiceInstance
	GetInstance(instanceID string) (types.ServiceInstance, bool)
}

// Answer holds the records for one question
type Answer struct {
	Records []dns.RR
	Extra   []dns.RR
}

// Resolver maps names under the relay domain to registered instances.
//
// Supported names (domain "relay"):
//
//	orders.relay.              A/AAAA of every healthy orders instance
//	eu.orders.relay.           same, restricted to instances tagged eu
//	_orders._tcp.relay.        SRV with ports, targets resolved in Extra
//	orders-1.instance.relay.   the single instance orders-1
type Resolver struct {
	src    Source
	domain string
	ttl    uint32
}

// NewResolver creates a resolver answering for domain
func NewResolver(src Source, domain string, ttl time.Duration) *Resolver {
	secs := uint32(ttl / time.Second)
	return &Resolver{
		src:    src,
		domain: dns.Fqdn(strings.ToLower(strings.Trim(domain, "."))),
		ttl:    secs,
	}
}

// Domain returns the fully qualified domain the resolver answers for
func (r *Resolver) Domain() string {
	return r.domain
}

// Resolve answers q. A name inside the domain with nothing behind it is
// ErrNotFound; a known name with no records of the asked type is an empty
// Answer.
func (r *Resolver) Resolve(q dns.Question) (Answer, error) {
	labels, err := r.split(q.Name)
	if err != nil {
		return Answer{}, err
	}
	if len(labels) == 0 {
		return Answer{}, nil
	}

	if len(labels) == 2 && labels[1] == instanceLabel {
		inst, ok := r.src.GetInstance(labels[0])
		if !ok || !inst.Status.Usable() {
			return Answer{}, ErrNotFound
		}
		return Answer{Records: r.addressRecords(q.Name, inst, q.Qtype)}, nil
	}

	if len(labels) == 2 && strings.HasPrefix(labels[0], "_") && labels[1] == "_tcp" {
		instances := r.src.GetHealthy(strings.TrimPrefix(labels[0], "_"), nil)
		if len(instances) == 0 {
			return Answer{}, ErrNotFound
		}
		if q.Qtype != dns.TypeSRV && q.Qtype != dns.TypeANY {
			return Answer{}, nil
		}
		return r.srv(q.Name, instances), nil
	}

	var service string
	var tags []string
	switch len(labels) {
	case 1:
		service = labels[0]
	case 2:
		tags = []string{labels[0]}
		service = labels[1]
	default:
		return Answer{}, ErrNotFound
	}

	instances := r.src.GetHealthy(service, tags)
	if len(instances) == 0 {
		return Answer{}, ErrNotFound
	}
	shuffle(instances)

	if q.Qtype == dns.TypeSRV {
		return r.srv(q.Name, instances), nil
	}
	var ans Answer
	for _, inst := range instances {
		ans.Records = append(ans.Records, r.addressRecords(q.Name, inst, q.Qtype)...)
	}
	return ans, nil
}

// split returns the labels in front of the domain
func (r *Resolver) split(name string) ([]string, error) {
	name = dns.Fqdn(strings.ToLower(name))
	if name == r.domain {
		return nil, nil
	}
	if !strings.HasSuffix(name, "."+r.domain) {
		return nil, ErrOutsideDomain
	}
	rel := strings.TrimSuffix(name, "."+r.domain)
	return strings.Split(rel, "."), nil
}

func (r *Resolver) srv(name string, instances []types.ServiceInstance) Answer {
	var ans Answer
	for _, inst := range instances {
		target := r.instanceName(inst)
		if net.ParseIP(inst.Host) == nil {
			target = dns.Fqdn(inst.Host)
		} else {
			ans.Extra = append(ans.Extra, r.addressRecords(target, inst, dns.TypeANY)...)
		}
		ans.Records = append(ans.Records, &dns.SRV{
			Hdr:      r.header(name, dns.TypeSRV),
			Priority: 1,
			Weight:   1,
			Port:     uint16(inst.Port),
			Target:   target,
		})
	}
	return ans
}

// addressRecords returns the A, AAAA or CNAME record for inst that
// answers qtype
func (r *Resolver) addressRecords(name string, inst types.ServiceInstance, qtype uint16) []dns.RR {
	ip := net.ParseIP(inst.Host)
	if ip == nil {
		if qtype == dns.TypeA || qtype == dns.TypeAAAA || qtype == dns.TypeCNAME || qtype == dns.TypeANY {
			return []dns.RR{&dns.CNAME{Hdr: r.header(name, dns.TypeCNAME), Target: dns.Fqdn(inst.Host)}}
		}
		return nil
	}
	if v4 := ip.To4(); v4 != nil {
		if qtype == dns.TypeA || qtype == dns.TypeANY {
			return []dns.RR{&dns.A{Hdr: r.header(name, dns.TypeA), A: v4}}
		}
		return nil
	}
	if qtype == dns.TypeAAAA || qtype == dns.TypeANY {
		return []dns.RR{&dns.AAAA{Hdr: r.header(name, dns.TypeAAAA), AAAA: ip}}
	}
	return nil
}

func (r *Resolver) instanceName(inst types.ServiceInstance) string {
	return strings.ToLower(inst.InstanceID) + "." + instanceLabel + "." + r.domain
}

func (r *Resolver) header(name string, rrtype uint16) dns.RR_Header {
	return dns.RR_Header{
		Name:   dns.Fqdn(name),
		Rrtype: rrtype,
		Class:  dns.ClassINET,
		Ttl:    r.ttl,
	}
}

// shuffle spreads clients that take the first answer across instances
func shuffle(instances []types.ServiceInstance) {
	rand.Shuffle(len(instances), func(i, j int) {
		instances[i], instances[j] = instances[j], instances[i]
	})
}
