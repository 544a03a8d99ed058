package recon

import (
	"context"
	"os"
	"os/exec"
	"runtime"
	"strings"
)

// ARPReader returns the host's IP-to-MAC neighbor table.
type ARPReader interface {
	Table(ctx context.Context) (map[string]string, error)
}

// SystemARP reads /proc/net/arp on Linux and runs "arp -a" elsewhere.
type SystemARP struct{}

// Table implements ARPReader.
func (SystemARP) Table(ctx context.Context) (map[string]string, error) {
	if runtime.GOOS == "linux" {
		data, err := os.ReadFile("/proc/net/arp")
		if err == nil {
			return ParseARPOutput(string(data), "linux"), nil
		}
	}
	out, err := exec.CommandContext(ctx, "arp", "-a").Output()
	if err != nil {
		return nil, err
	}
	return ParseARPOutput(string(out), runtime.GOOS), nil
}

// ParseARPOutput parses ARP table text for platform ("linux" for
// /proc/net/arp, "windows" and "darwin" for "arp -a"). MACs are returned
// upper-case and colon separated. Incomplete and broadcast entries are skipped.
func ParseARPOutput(output, platform string) map[string]string {
	table := make(map[string]string)
	for _, line := range strings.Split(output, "\n") {
		ip, mac := parseARPLine(strings.Fields(line), platform)
		if ip == "" {
			continue
		}
		mac = canonicalMAC(mac)
		if mac == "" || mac == "00:00:00:00:00:00" || mac == "FF:FF:FF:FF:FF:FF" {
			continue
		}
		table[ip] = mac
	}
	return table
}

func parseARPLine(f []string, platform string) (ip, mac string) {
	switch platform {
	case "linux":
		// IP address  HW type  Flags  HW address  Mask  Device
		if len(f) < 4 || f[2] == "0x0" || !looksLikeIPv4(f[0]) {
			return "", ""
		}
		return f[0], f[3]
	case "windows":
		// Internet Address  Physical Address  Type
		if len(f) < 3 || !looksLikeIPv4(f[0]) {
			return "", ""
		}
		return f[0], f[1]
	case "darwin":
		// ? (192.168.1.1) at aa:bb:cc:dd:ee:ff on en0 ifscope [ethernet]
		if len(f) < 4 || f[2] != "at" {
			return "", ""
		}
		return strings.Trim(f[1], "()"), f[3]
	}
	return "", ""
}

func looksLikeIPv4(s string) bool {
	return strings.Count(s, ".") == 3 && strings.IndexFunc(s, func(r rune) bool {
		return (r < '0' || r > '9') && r != '.'
	}) < 0
}

// canonicalMAC returns mac as AA:BB:CC:DD:EE:FF, accepting colon, dash and
// dotted forms and unpadded octets. Anything else yields "".
func canonicalMAC(mac string) string {
	mac = strings.ToUpper(strings.TrimSpace(mac))
	var octets []string
	switch {
	case strings.ContainsAny(mac, ":-"):
		octets = strings.FieldsFunc(mac, func(r rune) bool { return r == ':' || r == '-' })
		if len(octets) != 6 {
			return ""
		}
		for i, o := range octets {
			if len(o) == 1 {
				octets[i] = "0" + o
			}
		}
	default:
		raw := strings.ReplaceAll(mac, ".", "")
		if len(raw) != 12 {
			return ""
		}
		for i := 0; i < 12; i += 2 {
			octets = append(octets, raw[i:i+2])
		}
	}
	for _, o := range octets {
		if len(o) != 2 || !isHex(o[0]) || !isHex(o[1]) {
			return ""
		}
	}
	return strings.Join(octets, ":")
}

func isHex(c byte) bool {
	return (c >= '0' && c <= '9') || (c >= 'A' && c <= 'F')
}
