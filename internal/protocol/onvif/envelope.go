package onvif

import (
	"bytes"
	"crypto/rand"
	"crypto/sha1" //nolint:gosec // G505: WS-Security UsernameToken digest is defined over SHA-1
	"encoding/base64"
	"encoding/xml"
	"fmt"
	"time"
)

// XML namespaces used in requests.
const (
	nsSOAP   = "http://www.w3.org/2003/05/soap-envelope"
	nsWSSE   = "http://docs.oasis-open.org/wss/2004/01/oasis-200401-wss-wssecurity-secext-1.0.xsd"
	nsWSU    = "http://docs.oasis-open.org/wss/2004/01/oasis-200401-wss-wssecurity-utility-1.0.xsd"
	nsDevice = "http://www.onvif.org/ver10/device/wsdl"
	nsMedia  = "http://www.onvif.org/ver10/media/wsdl"
	nsPTZ    = "http://www.onvif.org/ver20/ptz/wsdl"
	nsSchema = "http://www.onvif.org/ver10/schema"

	passwordDigestType = "http://docs.oasis-open.org/wss/2004/01/oasis-200401-wss-username-token-profile-1.0#PasswordDigest"
	base64EncodingType = "http://docs.oasis-open.org/wss/2004/01/oasis-200401-wss-soap-message-security-1.0#Base64Binary"
)

// Credentials authenticate ONVIF requests. An empty Username sends
// unauthenticated requests.
type Credentials struct {
	Username string
	Password string
}

type envelope struct {
	XMLName xml.Name `xml:"s:Envelope"`
	NS      string   `xml:"xmlns:s,attr"`
	Header  *header  `xml:"s:Header,omitempty"`
	Body    body     `xml:"s:Body"`
}

type header struct {
	Security security `xml:"wsse:Security"`
}

type security struct {
	MustUnderstand string        `xml:"s:mustUnderstand,attr"`
	NSWSSE         string        `xml:"xmlns:wsse,attr"`
	NSWSU          string        `xml:"xmlns:wsu,attr"`
	Token          usernameToken `xml:"wsse:UsernameToken"`
}

type usernameToken struct {
	Username string        `xml:"wsse:Username"`
	Password tokenPassword `xml:"wsse:Password"`
	Nonce    tokenNonce    `xml:"wsse:Nonce"`
	Created  string        `xml:"wsu:Created"`
}

type tokenPassword struct {
	Type  string `xml:"Type,attr"`
	Value string `xml:",chardata"`
}

type tokenNonce struct {
	EncodingType string `xml:"EncodingType,attr"`
	Value        string `xml:",chardata"`
}

type body struct {
	Content string `xml:",innerxml"`
}

// securityToken is the material of one UsernameToken.
type securityToken struct {
	Nonce   []byte
	Created string
	Digest  string
}

// newSecurityToken stamps a token with a fresh 16-byte nonce and now in UTC.
func newSecurityToken(password string, now time.Time, nonceFn func([]byte) error) (securityToken, error) {
	nonce := make([]byte, 16)
	if err := nonceFn(nonce); err != nil {
		return securityToken{}, fmt.Errorf("generate nonce: %w", err)
	}
	created := now.UTC().Format("2006-01-02T15:04:05.000Z")
	return securityToken{
		Nonce:   nonce,
		Created: created,
		Digest:  passwordDigest(nonce, created, password),
	}, nil
}

// passwordDigest computes Base64(SHA1(nonce + created + password)).
func passwordDigest(nonce []byte, created, password string) string {
	h := sha1.New() //nolint:gosec // see import
	h.Write(nonce)
	h.Write([]byte(created))
	h.Write([]byte(password))
	return base64.StdEncoding.EncodeToString(h.Sum(nil))
}

func randomNonce(b []byte) error {
	_, err := rand.Read(b)
	return err
}

// buildEnvelope wraps bodyXML in a SOAP envelope, adding a WS-Security header
// when creds carry a username.
func buildEnvelope(bodyXML string, creds Credentials, now time.Time, nonceFn func([]byte) error) ([]byte, error) {
	env := envelope{
		NS:   nsSOAP,
		Body: body{Content: bodyXML},
	}
	if creds.Username != "" {
		tok, err := newSecurityToken(creds.Password, now, nonceFn)
		if err != nil {
			return nil, err
		}
		env.Header = &header{Security: security{
			MustUnderstand: "1",
			NSWSSE:         nsWSSE,
			NSWSU:          nsWSU,
			Token: usernameToken{
				Username: creds.Username,
				Password: tokenPassword{Type: passwordDigestType, Value: tok.Digest},
				Nonce:    tokenNonce{EncodingType: base64EncodingType, Value: base64.StdEncoding.EncodeToString(tok.Nonce)},
				Created:  tok.Created,
			},
		}}
	}

	var buf bytes.Buffer
	buf.WriteString(xml.Header)
	if err := xml.NewEncoder(&buf).Encode(env); err != nil {
		return nil, fmt.Errorf("encode envelope: %w", err)
	}
	return buf.Bytes(), nil
}

// escape returns s safe for use as XML character data.
func escape(s string) string {
	var buf bytes.Buffer
	_ = xml.EscapeText(&buf, []byte(s))
	return buf.String()
}

// Request bodies.

func getCapabilitiesBody() string {
	return `<tds:GetCapabilities xmlns:tds="` + nsDevice + `"><tds:Category>All</tds:Category></tds:GetCapabilities>`
}

func getDeviceInformationBody() string {
	return `<tds:GetDeviceInformation xmlns:tds="` + nsDevice + `"/>`
}

func getProfilesBody() string {
	return `<trt:GetProfiles xmlns:trt="` + nsMedia + `"/>`
}

func getStreamURIBody(profileToken string) string {
	return `<trt:GetStreamUri xmlns:trt="` + nsMedia + `" xmlns:tt="` + nsSchema + `">` +
		`<trt:StreamSetup><tt:Stream>RTP-Unicast</tt:Stream><tt:Transport><tt:Protocol>RTSP</tt:Protocol></tt:Transport></trt:StreamSetup>` +
		`<trt:ProfileToken>` + escape(profileToken) + `</trt:ProfileToken></trt:GetStreamUri>`
}

func continuousMoveBody(profileToken string, v Velocity) string {
	return fmt.Sprintf(`<tptz:ContinuousMove xmlns:tptz="%s" xmlns:tt="%s">`+
		`<tptz:ProfileToken>%s</tptz:ProfileToken>`+
		`<tptz:Velocity><tt:PanTilt x="%g" y="%g"/><tt:Zoom x="%g"/></tptz:Velocity>`+
		`</tptz:ContinuousMove>`, nsPTZ, nsSchema, escape(profileToken), v.Pan, v.Tilt, v.Zoom)
}
