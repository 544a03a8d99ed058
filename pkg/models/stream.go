package models

import (
	"net/url"
	"strings"
)

// StreamTransport is the delivery format of a stream.
type StreamTransport string

const (
	TransportRTSP StreamTransport = "rtsp"
	TransportHLS  StreamTransport = "hls"
)

// StreamDescriptor is a resolved, playable source for a camera.
type StreamDescriptor struct {
	DeviceAddress string          `json:"device_address"`
	ProfileToken  string          `json:"profile_token,omitempty"`
	Transport     StreamTransport `json:"transport"`
	URI           string          `json:"uri"`
	HasAuth       bool            `json:"has_auth"`
	Resolver      string          `json:"resolver"` // "onvif" or "composed"
}

// Redacted returns a copy whose URI has the password masked.
func (s StreamDescriptor) Redacted() StreamDescriptor {
	s.URI = RedactURI(s.URI)
	return s
}

// RedactURI masks the password in a URI's userinfo. Unparseable input is
// returned unchanged only when it carries no '@'.
func RedactURI(raw string) string {
	u, err := url.Parse(raw)
	if err != nil {
		if strings.Contains(raw, "@") {
			return "<redacted>"
		}
		return raw
	}
	if u.User == nil {
		return raw
	}
	if _, ok := u.User.Password(); ok {
		u.User = url.UserPassword(u.User.Username(), "xxxxx")
	}
	return u.String()
}
