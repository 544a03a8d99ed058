package onvif

import (
	"encoding/xml"
	"html"
	"regexp"
	"strings"
)

// uriPattern matches the first Uri element, with or without a namespace prefix.
var uriPattern = regexp.MustCompile(`<(?:[A-Za-z0-9_]+:)?Uri>\s*([^<]*?)\s*</(?:[A-Za-z0-9_]+:)?Uri>`)

// ExtractStreamURI returns the first <Uri> value in a raw GetStreamUri
// response, or "" when there is none. It never fails: a missing URI means
// "no stream available".
func ExtractStreamURI(raw string) string {
	m := uriPattern.FindStringSubmatch(raw)
	if m == nil {
		return ""
	}
	return html.UnescapeString(m[1])
}

// Capabilities lists the service endpoints a device advertises.
type Capabilities struct {
	DeviceXAddr string
	MediaXAddr  string
	PTZXAddr    string
	EventsXAddr string
}

// DeviceInformation is the GetDeviceInformation response.
type DeviceInformation struct {
	Manufacturer    string
	Model           string
	FirmwareVersion string
	SerialNumber    string
	HardwareID      string
}

// Profile is a media profile.
type Profile struct {
	Token string
	Name  string
	// Encoding and resolution of the profile's video encoder, when present.
	Encoding string
	Width    int
	Height   int
}

// Fault is a SOAP 1.2 fault body.
type Fault struct {
	Code    string
	Subcode string
	Reason  string
}

// Response shapes. encoding/xml matches local names when a tag has no
// namespace, so prefixes chosen by the device do not matter.

type capabilitiesEnvelope struct {
	Body struct {
		Fault *faultXML `xml:"Fault"`
		Resp  struct {
			Capabilities struct {
				Device struct {
					XAddr string `xml:"XAddr"`
				} `xml:"Device"`
				Media struct {
					XAddr string `xml:"XAddr"`
				} `xml:"Media"`
				PTZ struct {
					XAddr string `xml:"XAddr"`
				} `xml:"PTZ"`
				Events struct {
					XAddr string `xml:"XAddr"`
				} `xml:"Events"`
			} `xml:"Capabilities"`
		} `xml:"GetCapabilitiesResponse"`
	} `xml:"Body"`
}

type deviceInfoEnvelope struct {
	Body struct {
		Fault *faultXML `xml:"Fault"`
		Resp  struct {
			Manufacturer    string `xml:"Manufacturer"`
			Model           string `xml:"Model"`
			FirmwareVersion string `xml:"FirmwareVersion"`
			SerialNumber    string `xml:"SerialNumber"`
			HardwareID      string `xml:"HardwareId"`
		} `xml:"GetDeviceInformationResponse"`
	} `xml:"Body"`
}

type profilesEnvelope struct {
	Body struct {
		Fault *faultXML `xml:"Fault"`
		Resp  struct {
			Profiles []struct {
				Token        string `xml:"token,attr"`
				Name         string `xml:"Name"`
				VideoEncoder struct {
					Encoding   string `xml:"Encoding"`
					Resolution struct {
						Width  int `xml:"Width"`
						Height int `xml:"Height"`
					} `xml:"Resolution"`
				} `xml:"VideoEncoderConfiguration"`
			} `xml:"Profiles"`
		} `xml:"GetProfilesResponse"`
	} `xml:"Body"`
}

type faultXML struct {
	Code struct {
		Value   string `xml:"Value"`
		Subcode struct {
			Value string `xml:"Value"`
		} `xml:"Subcode"`
	} `xml:"Code"`
	Reason struct {
		Text string `xml:"Text"`
	} `xml:"Reason"`
}

func (f *faultXML) toFault() *Fault {
	if f == nil {
		return nil
	}
	return &Fault{
		Code:    strings.TrimSpace(f.Code.Value),
		Subcode: strings.TrimSpace(f.Code.Subcode.Value),
		Reason:  strings.TrimSpace(f.Reason.Text),
	}
}

// parseFault extracts a SOAP fault from raw, if any.
func parseFault(raw []byte) *Fault {
	var env struct {
		Body struct {
			Fault *faultXML `xml:"Fault"`
		} `xml:"Body"`
	}
	if err := xml.Unmarshal(raw, &env); err != nil {
		return nil
	}
	return env.Body.Fault.toFault()
}

func parseCapabilities(raw []byte) (*Capabilities, error) {
	var env capabilitiesEnvelope
	if err := xml.Unmarshal(raw, &env); err != nil {
		return nil, err
	}
	c := env.Body.Resp.Capabilities
	caps := &Capabilities{
		DeviceXAddr: strings.TrimSpace(c.Device.XAddr),
		MediaXAddr:  strings.TrimSpace(c.Media.XAddr),
		PTZXAddr:    strings.TrimSpace(c.PTZ.XAddr),
		EventsXAddr: strings.TrimSpace(c.Events.XAddr),
	}
	if *caps == (Capabilities{}) {
		return nil, errNoPayload("GetCapabilitiesResponse")
	}
	return caps, nil
}

func parseDeviceInformation(raw []byte) (*DeviceInformation, error) {
	var env deviceInfoEnvelope
	if err := xml.Unmarshal(raw, &env); err != nil {
		return nil, err
	}
	r := env.Body.Resp
	info := &DeviceInformation{
		Manufacturer:    strings.TrimSpace(r.Manufacturer),
		Model:           strings.TrimSpace(r.Model),
		FirmwareVersion: strings.TrimSpace(r.FirmwareVersion),
		SerialNumber:    strings.TrimSpace(r.SerialNumber),
		HardwareID:      strings.TrimSpace(r.HardwareID),
	}
	if *info == (DeviceInformation{}) {
		return nil, errNoPayload("GetDeviceInformationResponse")
	}
	return info, nil
}

func parseProfiles(raw []byte) ([]Profile, error) {
	var env profilesEnvelope
	if err := xml.Unmarshal(raw, &env); err != nil {
		return nil, err
	}
	out := make([]Profile, 0, len(env.Body.Resp.Profiles))
	for _, p := range env.Body.Resp.Profiles {
		if p.Token == "" {
			continue
		}
		out = append(out, Profile{
			Token:    p.Token,
			Name:     strings.TrimSpace(p.Name),
			Encoding: strings.TrimSpace(p.VideoEncoder.Encoding),
			Width:    p.VideoEncoder.Resolution.Width,
			Height:   p.VideoEncoder.Resolution.Height,
		})
	}
	return out, nil
}

type errNoPayload string

func (e errNoPayload) Error() string { return "response has no " + string(e) }
