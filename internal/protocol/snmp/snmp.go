// Package snmp reads the MIB-II system group from a device.
package snmp

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/gosnmp/gosnmp"

	"github.com/HerbHall/lockwatch/internal/protocol"
)

const protoName = "snmp"

// System group OIDs.
const (
	OIDSysDescr    = ".1.3.6.1.2.1.1.1.0"
	OIDSysObjectID = ".1.3.6.1.2.1.1.2.0"
	OIDSysName     = ".1.3.6.1.2.1.1.5.0"
	OIDSysLocation = ".1.3.6.1.2.1.1.6.0"
)

// SystemInfo is the subset of the system group used for enrichment.
type SystemInfo struct {
	Descr    string `json:"descr,omitempty"`
	ObjectID string `json:"object_id,omitempty"`
	Name     string `json:"name,omitempty"`
	Location string `json:"location,omitempty"`
}

// Client queries SNMPv2c agents.
type Client struct {
	Community string
	Port      uint16
	Timeout   time.Duration
	Retries   int
}

// NewClient returns a Client with the usual defaults for anything left zero.
func NewClient(community string, timeout time.Duration) *Client {
	if community == "" {
		community = "public"
	}
	if timeout <= 0 {
		timeout = 2 * time.Second
	}
	return &Client{Community: community, Port: 161, Timeout: timeout, Retries: 1}
}

// System fetches the system group from host.
func (c *Client) System(ctx context.Context, host string) (*SystemInfo, error) {
	const op = "GET"
	g := &gosnmp.GoSNMP{
		Target:    host,
		Port:      c.Port,
		Community: c.Community,
		Version:   gosnmp.Version2c,
		Timeout:   c.Timeout,
		Retries:   c.Retries,
		Context:   ctx,
	}
	if err := g.Connect(); err != nil {
		return nil, protocol.Wrap(protoName, op, host, err)
	}
	defer g.Conn.Close()

	pkt, err := g.Get([]string{OIDSysDescr, OIDSysObjectID, OIDSysName, OIDSysLocation})
	if err != nil {
		return nil, protocol.Wrap(protoName, op, host, err)
	}
	if pkt.Error != gosnmp.NoError {
		return nil, protocol.Malformed(protoName, op, host, fmt.Errorf("agent error %s", pkt.Error))
	}
	return systemFromPDUs(pkt.Variables), nil
}

func systemFromPDUs(vars []gosnmp.SnmpPDU) *SystemInfo {
	info := &SystemInfo{}
	for _, v := range vars {
		s := pduString(v)
		switch v.Name {
		case OIDSysDescr:
			info.Descr = s
		case OIDSysObjectID:
			info.ObjectID = s
		case OIDSysName:
			info.Name = s
		case OIDSysLocation:
			info.Location = s
		}
	}
	return info
}

func pduString(v gosnmp.SnmpPDU) string {
	switch v.Type {
	case gosnmp.OctetString:
		if b, ok := v.Value.([]byte); ok {
			return strings.TrimSpace(string(b))
		}
	case gosnmp.ObjectIdentifier:
		if s, ok := v.Value.(string); ok {
			return s
		}
	case gosnmp.NoSuchObject, gosnmp.NoSuchInstance, gosnmp.Null:
		return ""
	}
	if v.Value == nil {
		return ""
	}
	return fmt.Sprint(v.Value)
}
