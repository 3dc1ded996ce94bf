package nimbus

import (
	"context"
	"fmt"
	"net"
	"net/url"
	"strconv"
	"strings"
	"time"
)

// ConnectionString is a parsed couchbase[s]://... connection string
// (§6): a scheme (plain or TLS), an explicit host list or a single host
// to resolve via DNS SRV, an optional default bucket, and a bag of
// string options the caller's ClusterOptions reads typed values out of.
type ConnectionString struct {
	TLS     bool
	Hosts   []string // host[:port], already DNS-SRV-expanded if applicable
	Bucket  string
	Options map[string]string
}

// ParseConnectionString parses raw per §6's grammar:
//
//	couchbase[s]://host1[:port1][,host2...][/bucket][?key=value&...]
//
// A single bare host with no port triggers DNS SRV resolution of
// _couchbase._tcp/_couchbases._tcp (per the scheme) unless the caller's
// environment has no resolver; ParseConnectionString itself never
// resolves SRV records — call ResolveSRV separately once TLS/non-TLS is
// known, since the resolution is a network operation this package keeps
// explicit rather than hiding inside a parse function.
func ParseConnectionString(raw string) (*ConnectionString, error) {
	var tls bool
	switch {
	case strings.HasPrefix(raw, "couchbases://"):
		tls = true
		raw = strings.TrimPrefix(raw, "couchbases://")
	case strings.HasPrefix(raw, "couchbase://"):
		raw = strings.TrimPrefix(raw, "couchbase://")
	default:
		return nil, fmt.Errorf("nimbus: connection string must start with couchbase:// or couchbases://")
	}

	hostPart := raw
	var bucket string
	var query string

	if i := strings.IndexAny(raw, "/?"); i >= 0 {
		hostPart = raw[:i]
		rest := raw[i:]
		if strings.HasPrefix(rest, "/") {
			rest = rest[1:]
			if j := strings.IndexByte(rest, '?'); j >= 0 {
				bucket = rest[:j]
				query = rest[j+1:]
			} else {
				bucket = rest
			}
		} else {
			query = rest[1:]
		}
	}

	if hostPart == "" {
		return nil, fmt.Errorf("nimbus: connection string has no host")
	}
	hosts := strings.Split(hostPart, ",")

	opts := make(map[string]string)
	if query != "" {
		values, err := url.ParseQuery(query)
		if err != nil {
			return nil, fmt.Errorf("nimbus: parse connection string options: %w", err)
		}
		for k, v := range values {
			if len(v) > 0 {
				opts[k] = v[len(v)-1]
			}
		}
	}

	return &ConnectionString{TLS: tls, Hosts: hosts, Bucket: bucket, Options: opts}, nil
}

// IsSRVCandidate reports whether this connection string names exactly one
// host with no port, the shape that should go through DNS SRV lookup
// rather than being dialed directly.
func (c *ConnectionString) IsSRVCandidate() bool {
	if len(c.Hosts) != 1 {
		return false
	}
	_, _, err := net.SplitHostPort(c.Hosts[0])
	return err != nil // SplitHostPort fails exactly when there's no ":port"
}

// ResolveSRV replaces c.Hosts with the target hosts of a
// _couchbase._tcp/_couchbases._tcp SRV lookup against c.Hosts[0], if
// c.IsSRVCandidate(). Safe to call unconditionally; it is a no-op
// otherwise.
func (c *ConnectionString) ResolveSRV(ctx context.Context) error {
	if !c.IsSRVCandidate() {
		return nil
	}
	service := "couchbase"
	if c.TLS {
		service = "couchbases"
	}

	timeout := c.DurationOption("dns_srv_timeout", 500*time.Millisecond)
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	resolver := net.DefaultResolver
	_, srvs, err := resolver.LookupSRV(ctx, service, "tcp", c.Hosts[0])
	if err != nil || len(srvs) == 0 {
		return fmt.Errorf("nimbus: dns srv lookup for %s failed: %w", c.Hosts[0], err)
	}

	hosts := make([]string, 0, len(srvs))
	for _, srv := range srvs {
		hosts = append(hosts, net.JoinHostPort(strings.TrimSuffix(srv.Target, "."), strconv.Itoa(int(srv.Port))))
	}
	c.Hosts = hosts
	return nil
}

// BoolOption returns the parsed boolean value of an option, or def if
// absent or unparseable.
func (c *ConnectionString) BoolOption(key string, def bool) bool {
	v, ok := c.Options[key]
	if !ok {
		return def
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return def
	}
	return b
}

// DurationOption interprets an option as milliseconds (the scheme used by
// every *_timeout option in §6) and returns def if absent or
// unparseable.
func (c *ConnectionString) DurationOption(key string, def time.Duration) time.Duration {
	v, ok := c.Options[key]
	if !ok {
		return def
	}
	ms, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return def
	}
	return time.Duration(ms) * time.Millisecond
}

// FloatOption parses an option as a float64, returning def if absent or
// unparseable (e.g. compression_min_ratio).
func (c *ConnectionString) FloatOption(key string, def float64) float64 {
	v, ok := c.Options[key]
	if !ok {
		return def
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return def
	}
	return f
}

// IntOption parses an option as an int, returning def if absent or
// unparseable.
func (c *ConnectionString) IntOption(key string, def int) int {
	v, ok := c.Options[key]
	if !ok {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return n
}

// StringOption returns an option verbatim, or def if absent.
func (c *ConnectionString) StringOption(key, def string) string {
	if v, ok := c.Options[key]; ok {
		return v
	}
	return def
}
