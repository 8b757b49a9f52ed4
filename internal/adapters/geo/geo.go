// Package geo resolve o país de origem de um IP para as sobrescritas geográficas.
package geo

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/netip"
	"slices"
	"strings"

	"github.com/oschwald/geoip2-golang"

	"github.com/JeanGrijp/throttle-io/internal/core/ports"
)

// ErrUnknownIP é devolvido quando o endereço não tem país conhecido.
var ErrUnknownIP = errors.New("ip not found in geo database")

// StaticResolver mapeia prefixos CIDR para códigos de país. O prefixo mais
// específico vence.
type StaticResolver struct {
	entries []staticEntry
}

type staticEntry struct {
	prefix  netip.Prefix
	country string
}

var _ ports.GeoResolver = (*StaticResolver)(nil)

// ParseStatic lê pares "cidr=CC" separados por vírgula, por exemplo
// "200.0.0.0/8=BR,2001:db8::/32=DE".
func ParseStatic(raw string) (*StaticResolver, error) {
	r := &StaticResolver{}
	for _, pair := range strings.Split(raw, ",") {
		pair = strings.TrimSpace(pair)
		if pair == "" {
			continue
		}
		cidr, country, ok := strings.Cut(pair, "=")
		if !ok || strings.TrimSpace(country) == "" {
			return nil, fmt.Errorf("invalid geo entry %q: expected cidr=COUNTRY", pair)
		}
		prefix, err := netip.ParsePrefix(strings.TrimSpace(cidr))
		if err != nil {
			return nil, fmt.Errorf("invalid geo entry %q: %w", pair, err)
		}
		r.entries = append(r.entries, staticEntry{
			prefix:  prefix.Masked(),
			country: strings.ToUpper(strings.TrimSpace(country)),
		})
	}
	slices.SortStableFunc(r.entries, func(a, b staticEntry) int {
		return b.prefix.Bits() - a.prefix.Bits()
	})
	return r, nil
}

func (r *StaticResolver) Country(_ context.Context, ip string) (string, error) {
	addr, err := netip.ParseAddr(ip)
	if err != nil {
		return "", fmt.Errorf("parse ip %q: %w", ip, err)
	}
	addr = addr.Unmap()
	for _, e := range r.entries {
		if e.prefix.Contains(addr) {
			return e.country, nil
		}
	}
	return "", ErrUnknownIP
}

// MaxMindResolver consulta endereços em uma base GeoLite2/GeoIP2 Country ou City.
type MaxMindResolver struct {
	db *geoip2.Reader
}

var _ ports.GeoResolver = (*MaxMindResolver)(nil)

func OpenMaxMind(path string) (*MaxMindResolver, error) {
	db, err := geoip2.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open geoip database: %w", err)
	}
	return &MaxMindResolver{db: db}, nil
}

func (r *MaxMindResolver) Country(_ context.Context, ip string) (string, error) {
	parsed := net.ParseIP(ip)
	if parsed == nil {
		return "", fmt.Errorf("parse ip %q: invalid address", ip)
	}
	record, err := r.db.Country(parsed)
	if err != nil {
		return "", err
	}
	if record.Country.IsoCode == "" {
		return "", ErrUnknownIP
	}
	return record.Country.IsoCode, nil
}

func (r *MaxMindResolver) Close() error {
	return r.db.Close()
}
