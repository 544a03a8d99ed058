package recon

import (
	"strings"

	"github.com/endobit/oui"
)

// OUITable maps MAC addresses to the registered vendor.
type OUITable struct {
	lookup func(mac string) string
}

// NewOUITable returns a table backed by the IEEE registry bundled in endobit/oui.
func NewOUITable() *OUITable {
	return &OUITable{lookup: oui.Vendor}
}

// Lookup returns the vendor for mac in any common notation, or "" when the
// MAC is malformed or unregistered.
func (o *OUITable) Lookup(mac string) string {
	canon := canonicalMAC(mac)
	if canon == "" {
		return ""
	}
	return strings.TrimSpace(o.lookup(strings.ToLower(canon)))
}

// normalizeMAC returns the OUI prefix of mac as AA:BB:CC.
func normalizeMAC(mac string) string {
	canon := canonicalMAC(mac)
	if canon == "" {
		return ""
	}
	return canon[:8]
}
