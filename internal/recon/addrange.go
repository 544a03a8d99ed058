package recon

import (
	"errors"
	"fmt"
	"net/netip"
	"strings"
)

// MaxTargets caps how many addresses one scan probes.
const MaxTargets = 20

// ErrInvalidRange is returned for malformed or inconsistent scan ranges.
var ErrInvalidRange = errors.New("invalid address range")

// AddressRange is an inclusive IPv4 range within a single /24.
type AddressRange struct {
	Start netip.Addr
	End   netip.Addr
}

// ParseRange validates start and end. Both must be dotted-quad IPv4, share
// their first three octets, and satisfy start <= end.
func ParseRange(start, end string) (AddressRange, error) {
	s, err := parseIPv4(start)
	if err != nil {
		return AddressRange{}, fmt.Errorf("%w: start: %v", ErrInvalidRange, err)
	}
	e, err := parseIPv4(end)
	if err != nil {
		return AddressRange{}, fmt.Errorf("%w: end: %v", ErrInvalidRange, err)
	}

	sb, eb := s.As4(), e.As4()
	if sb[0] != eb[0] || sb[1] != eb[1] || sb[2] != eb[2] {
		return AddressRange{}, fmt.Errorf("%w: %s and %s are not in the same /24", ErrInvalidRange, s, e)
	}
	if s.Compare(e) > 0 {
		return AddressRange{}, fmt.Errorf("%w: start %s is after end %s", ErrInvalidRange, s, e)
	}
	return AddressRange{Start: s, End: e}, nil
}

func parseIPv4(raw string) (netip.Addr, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return netip.Addr{}, errors.New("empty address")
	}
	a, err := netip.ParseAddr(raw)
	if err != nil {
		return netip.Addr{}, err
	}
	if !a.Is4() {
		return netip.Addr{}, fmt.Errorf("%s is not IPv4", raw)
	}
	return a, nil
}

// Size is the number of addresses in the range.
func (r AddressRange) Size() int {
	return int(r.End.As4()[3]) - int(r.Start.As4()[3]) + 1
}

// Expand returns up to limit addresses in ascending order from Start.
// A limit <= 0 returns the whole range.
func (r AddressRange) Expand(limit int) []netip.Addr {
	n := r.Size()
	if limit > 0 && n > limit {
		n = limit
	}
	out := make([]netip.Addr, 0, n)
	for a := r.Start; len(out) < n; a = a.Next() {
		out = append(out, a)
	}
	return out
}

func (r AddressRange) String() string {
	return r.Start.String() + "-" + r.End.String()
}
