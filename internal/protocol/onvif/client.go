// Package onvif is a minimal ONVIF SOAP client covering device capability,
// media profile, stream URI and continuous PTZ operations.
package onvif

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/HerbHall/lockwatch/internal/protocol"
)

const (
	protoName = "onvif"

	// DefaultTimeout bounds every data query.
	DefaultTimeout = 3 * time.Second

	maxResponseBytes = 512 * 1024
	contentType      = "application/soap+xml; charset=utf-8"

	devicePath = "/onvif/device_service"
	mediaPath  = "/onvif/media_service"
	ptzPath    = "/onvif/ptz_service"
)

// FaultError is returned when the device answered with a SOAP fault or a
// non-2xx status. The device speaks HTTP and likely ONVIF, but refused the
// request. It classifies as protocol.ErrConnectionFailed.
type FaultError struct {
	StatusCode  int
	Fault       *Fault
	ContentType string // response Content-Type
	Challenge   string // WWW-Authenticate, if any
}

func (e *FaultError) Error() string {
	if e.Fault != nil && e.Fault.Reason != "" {
		return fmt.Sprintf("soap fault (http %d): %s", e.StatusCode, e.Fault.Reason)
	}
	return fmt.Sprintf("soap request rejected: http %d", e.StatusCode)
}

// Unwrap classifies the fault.
func (e *FaultError) Unwrap() error { return protocol.ErrConnectionFailed }

// Unauthorized reports whether the device asked for credentials.
func (e *FaultError) Unauthorized() bool {
	if e.StatusCode == http.StatusUnauthorized || e.StatusCode == http.StatusForbidden {
		return true
	}
	if e.Fault != nil {
		switch e.Fault.Subcode {
		case "ter:NotAuthorized", "NotAuthorized", "wsse:FailedAuthentication":
			return true
		}
	}
	return false
}

// SOAPResponse reports whether the rejection came back as a SOAP document.
func (e *FaultError) SOAPResponse() bool {
	ct := strings.ToLower(e.ContentType)
	return strings.Contains(ct, "application/soap+xml")
}

// DigestChallenge reports whether the device asked for HTTP digest auth,
// which ONVIF devices use and plain web logins rarely do.
func (e *FaultError) DigestChallenge() bool {
	return strings.HasPrefix(strings.ToLower(strings.TrimSpace(e.Challenge)), "digest")
}

// Client talks to one ONVIF device. Service addresses default to the
// conventional paths on the device host and are replaced by the XAddrs
// returned from GetCapabilities. Safe for concurrent use.
type Client struct {
	httpClient *http.Client
	creds      Credentials
	timeout    time.Duration
	now        func() time.Time
	nonce      func([]byte) error

	mu        sync.RWMutex
	deviceURL string
	mediaURL  string
	ptzURL    string
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient sets the HTTP client used for requests.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.httpClient = hc }
}

// WithTimeout overrides DefaultTimeout.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) {
		if d > 0 {
			c.timeout = d
		}
	}
}

// WithClock sets the time source used for WS-Security timestamps.
func WithClock(now func() time.Time) Option {
	return func(c *Client) { c.now = now }
}

// DeviceURL returns the device service URL for host:port.
func DeviceURL(host string, port int) string {
	return "http://" + net.JoinHostPort(host, strconv.Itoa(port)) + devicePath
}

// NewClient returns a client for the device service at deviceURL.
func NewClient(deviceURL string, creds Credentials, opts ...Option) *Client {
	c := &Client{
		httpClient: &http.Client{},
		creds:      creds,
		timeout:    DefaultTimeout,
		now:        time.Now,
		nonce:      randomNonce,
		deviceURL:  deviceURL,
		mediaURL:   siblingURL(deviceURL, mediaPath),
		ptzURL:     siblingURL(deviceURL, ptzPath),
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

// siblingURL replaces the path of base with path.
func siblingURL(base, path string) string {
	u, err := url.Parse(base)
	if err != nil {
		return base
	}
	u.Path = path
	u.RawQuery = ""
	return u.String()
}

// Addr returns the host:port this client targets.
func (c *Client) Addr() string {
	u, err := url.Parse(c.deviceURL)
	if err != nil {
		return c.deviceURL
	}
	return u.Host
}

// GetCapabilities queries the device's services and records the media and
// PTZ endpoints for later calls.
func (c *Client) GetCapabilities(ctx context.Context) (*Capabilities, error) {
	const op = "GetCapabilities"
	raw, err := c.call(ctx, op, c.deviceURL, getCapabilitiesBody())
	if err != nil {
		return nil, err
	}
	caps, err := parseCapabilities(raw)
	if err != nil {
		return nil, protocol.Malformed(protoName, op, c.Addr(), err)
	}

	c.mu.Lock()
	if caps.MediaXAddr != "" {
		c.mediaURL = caps.MediaXAddr
	}
	if caps.PTZXAddr != "" {
		c.ptzURL = caps.PTZXAddr
	}
	c.mu.Unlock()
	return caps, nil
}

// GetDeviceInformation returns manufacturer, model and firmware.
func (c *Client) GetDeviceInformation(ctx context.Context) (*DeviceInformation, error) {
	const op = "GetDeviceInformation"
	raw, err := c.call(ctx, op, c.deviceURL, getDeviceInformationBody())
	if err != nil {
		return nil, err
	}
	info, err := parseDeviceInformation(raw)
	if err != nil {
		return nil, protocol.Malformed(protoName, op, c.Addr(), err)
	}
	return info, nil
}

// GetProfiles lists the media profiles.
func (c *Client) GetProfiles(ctx context.Context) ([]Profile, error) {
	const op = "GetProfiles"
	raw, err := c.call(ctx, op, c.media(), getProfilesBody())
	if err != nil {
		return nil, err
	}
	profiles, err := parseProfiles(raw)
	if err != nil {
		return nil, protocol.Malformed(protoName, op, c.Addr(), err)
	}
	return profiles, nil
}

// GetStreamURI returns the RTSP URI of profileToken. An empty string with a
// nil error means the device returned no URI.
func (c *Client) GetStreamURI(ctx context.Context, profileToken string) (string, error) {
	raw, err := c.call(ctx, "GetStreamUri", c.media(), getStreamURIBody(profileToken))
	if err != nil {
		return "", err
	}
	return ExtractStreamURI(string(raw)), nil
}

func (c *Client) media() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.mediaURL
}

func (c *Client) ptz() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.ptzURL
}

// call posts a SOAP request under the client timeout and returns the raw body.
func (c *Client) call(ctx context.Context, op, endpoint, bodyXML string) ([]byte, error) {
	addr := c.Addr()
	payload, err := buildEnvelope(bodyXML, c.creds, c.now(), c.nonce)
	if err != nil {
		return nil, protocol.Wrap(protoName, op, addr, err)
	}

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(payload))
	if err != nil {
		return nil, protocol.Wrap(protoName, op, addr, err)
	}
	req.Header.Set("Content-Type", contentType)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, protocol.Wrap(protoName, op, addr, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return nil, protocol.Wrap(protoName, op, addr, err)
	}

	fault := parseFault(raw)
	if resp.StatusCode < 200 || resp.StatusCode >= 300 || fault != nil {
		return nil, &protocol.Error{
			Protocol: protoName, Op: op, Addr: addr,
			Kind: protocol.ErrConnectionFailed,
			Err: &FaultError{
				StatusCode:  resp.StatusCode,
				Fault:       fault,
				ContentType: resp.Header.Get("Content-Type"),
				Challenge:   resp.Header.Get("WWW-Authenticate"),
			},
		}
	}
	if len(bytes.TrimSpace(raw)) == 0 {
		return nil, protocol.Malformed(protoName, op, addr, errors.New("empty body"))
	}
	return raw, nil
}
