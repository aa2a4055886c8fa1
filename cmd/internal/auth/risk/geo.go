package risk

import (
	"context"
	"fmt"
	"net/netip"
	"strings"
)

// Location is a geo verdict for a network origin.
type Location struct {
	Country    string // ISO 3166-1 alpha-2, upper-case; "" when unknown
	Datacenter bool
}

// GeoResolver maps a network origin to a Location.
// Implementations should return an empty Location (not an error) for unknown origins.
type GeoResolver interface {
	Resolve(ctx context.Context, ip string) (Location, error)
}

// NopResolver never resolves anything.
type NopResolver struct{}

func (NopResolver) Resolve(context.Context, string) (Location, error) { return Location{}, nil }

type cidrEntry struct {
	prefix netip.Prefix
	loc    Location
}

// StaticResolver resolves origins from a fixed CIDR table using longest-prefix match.
type StaticResolver struct {
	entries []cidrEntry
}

// ParseStaticTable parses a table of comma-separated entries "CIDR=CC" or "CIDR=CC:dc",
// for example "203.0.113.0/24=NL,198.51.100.0/24=US:dc". The ":dc" suffix marks
// datacenter ranges; "CIDR=:dc" marks a datacenter range without a country.
func ParseStaticTable(table string) (*StaticResolver, error) {
	r := &StaticResolver{}
	for _, raw := range strings.Split(table, ",") {
		raw = strings.TrimSpace(raw)
		if raw == "" {
			continue
		}

		cidr, val, ok := strings.Cut(raw, "=")
		if !ok {
			return nil, fmt.Errorf("%w: geo entry %q: missing '='", ErrConfig, raw)
		}
		prefix, err := netip.ParsePrefix(strings.TrimSpace(cidr))
		if err != nil {
			return nil, fmt.Errorf("%w: geo entry %q: %v", ErrConfig, raw, err)
		}

		country, flag, _ := strings.Cut(strings.TrimSpace(val), ":")
		country = strings.ToUpper(strings.TrimSpace(country))
		if country != "" && len(country) != 2 {
			return nil, fmt.Errorf("%w: geo entry %q: country must be two letters", ErrConfig, raw)
		}
		flag = strings.ToLower(strings.TrimSpace(flag))
		if flag != "" && flag != "dc" {
			return nil, fmt.Errorf("%w: geo entry %q: unknown flag %q", ErrConfig, raw, flag)
		}

		r.entries = append(r.entries, cidrEntry{
			prefix: prefix.Masked(),
			loc:    Location{Country: country, Datacenter: flag == "dc"},
		})
	}
	return r, nil
}

// Resolve returns the most specific matching entry, or an empty Location.
func (r *StaticResolver) Resolve(ctx context.Context, ip string) (Location, error) {
	if err := ctx.Err(); err != nil {
		return Location{}, err
	}

	addr, err := netip.ParseAddr(strings.TrimSpace(ip))
	if err != nil || r == nil {
		return Location{}, nil
	}
	addr = addr.Unmap().WithZone("")

	best := -1
	var out Location
	for _, e := range r.entries {
		if e.prefix.Bits() > best && e.prefix.Contains(addr) {
			best = e.prefix.Bits()
			out = e.loc
		}
	}
	return out, nil
}

// Len returns the number of table entries.
func (r *StaticResolver) Len() int { return len(r.entries) }
