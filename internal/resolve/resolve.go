package resolve

import (
	"context"
	"fmt"
	"net"
	"strings"
	"time"

	"github.com/miekg/dns"
)

type Config struct {
	Resolvers []string
	Timeout   time.Duration
}

// Result is the outcome of a diagnostic lookup. Resolver is the last
// resolver tried.
type Result struct {
	Resolver string
	Addrs    []string
	Err      string
}

type Resolver struct {
	servers []string
	client  *dns.Client
}

func New(cfg Config) (*Resolver, error) {
	if len(cfg.Resolvers) == 0 {
		return nil, fmt.Errorf("dns resolvers empty")
	}

	servers := make([]string, 0, len(cfg.Resolvers))
	for _, r := range cfg.Resolvers {
		servers = append(servers, withPort(strings.TrimSpace(r)))
	}

	return &Resolver{
		servers: servers,
		client:  &dns.Client{Timeout: cfg.Timeout},
	}, nil
}

// Lookup resolves host to its A and AAAA records. Resolvers are tried in
// order until one answers; an answer with a failure rcode still stops the
// search.
func (r *Resolver) Lookup(ctx context.Context, host string) Result {
	if ip := net.ParseIP(host); ip != nil {
		return Result{Addrs: []string{ip.String()}}
	}

	var res Result
	for _, server := range r.servers {
		res = Result{Resolver: server}

		addrs, rcode, err := r.query(ctx, server, host)
		if err != nil {
			res.Err = err.Error()
			if ctx.Err() != nil {
				return res
			}
			continue
		}

		res.Addrs = addrs
		if rcode != dns.RcodeSuccess {
			res.Err = dns.RcodeToString[rcode]
		}
		return res
	}

	return res
}

func (r *Resolver) query(ctx context.Context, server, host string) ([]string, int, error) {
	var addrs []string

	for _, qtype := range []uint16{dns.TypeA, dns.TypeAAAA} {
		msg := new(dns.Msg)
		msg.SetQuestion(dns.Fqdn(host), qtype)

		reply, _, err := r.client.ExchangeContext(ctx, msg, server)
		if err != nil {
			return nil, 0, fmt.Errorf("query %s via %s: %w", dns.TypeToString[qtype], server, err)
		}
		if reply.Rcode != dns.RcodeSuccess {
			return addrs, reply.Rcode, nil
		}

		for _, rr := range reply.Answer {
			switch v := rr.(type) {
			case *dns.A:
				addrs = append(addrs, v.A.String())
			case *dns.AAAA:
				addrs = append(addrs, v.AAAA.String())
			}
		}
	}

	return addrs, dns.RcodeSuccess, nil
}

func withPort(server string) string {
	if _, _, err := net.SplitHostPort(server); err == nil {
		return server
	}

	return net.JoinHostPort(server, "53")
}
