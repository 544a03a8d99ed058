package onvif

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/HerbHall/lockwatch/internal/protocol"
)

const capabilitiesResponse = `<?xml version="1.0" encoding="UTF-8"?>
<SOAP-ENV:Envelope xmlns:SOAP-ENV="http://www.w3.org/2003/05/soap-envelope" xmlns:tds="http://www.onvif.org/ver10/device/wsdl" xmlns:tt="http://www.onvif.org/ver10/schema">
<SOAP-ENV:Body><tds:GetCapabilitiesResponse><tds:Capabilities>
<tt:Device><tt:XAddr>http://CAMERA/onvif/device_service</tt:XAddr></tt:Device>
<tt:Media><tt:XAddr>http://CAMERA/onvif/Media</tt:XAddr></tt:Media>
<tt:PTZ><tt:XAddr>http://CAMERA/onvif/PTZ</tt:XAddr></tt:PTZ>
</tds:Capabilities></tds:GetCapabilitiesResponse></SOAP-ENV:Body></SOAP-ENV:Envelope>`

const deviceInfoResponse = `<?xml version="1.0"?>
<env:Envelope xmlns:env="http://www.w3.org/2003/05/soap-envelope" xmlns:tds="http://www.onvif.org/ver10/device/wsdl">
<env:Body><tds:GetDeviceInformationResponse>
<tds:Manufacturer>Hikvision</tds:Manufacturer><tds:Model>DS-2CD2143G2-I</tds:Model>
<tds:FirmwareVersion>V5.7.3</tds:FirmwareVersion><tds:SerialNumber>ABC123</tds:SerialNumber><tds:HardwareId>88</tds:HardwareId>
</tds:GetDeviceInformationResponse></env:Body></env:Envelope>`

const profilesResponse = `<?xml version="1.0"?>
<s:Envelope xmlns:s="http://www.w3.org/2003/05/soap-envelope" xmlns:trt="http://www.onvif.org/ver10/media/wsdl" xmlns:tt="http://www.onvif.org/ver10/schema">
<s:Body><trt:GetProfilesResponse>
<trt:Profiles token="Profile_1" fixed="true"><tt:Name>mainStream</tt:Name>
<tt:VideoEncoderConfiguration token="VE1"><tt:Encoding>H264</tt:Encoding><tt:Resolution><tt:Width>1920</tt:Width><tt:Height>1080</tt:Height></tt:Resolution></tt:VideoEncoderConfiguration>
</trt:Profiles>
<trt:Profiles token="Profile_2"><tt:Name>subStream</tt:Name></trt:Profiles>
</trt:GetProfilesResponse></s:Body></s:Envelope>`

const streamURIResponse = `<?xml version="1.0"?>
<s:Envelope xmlns:s="http://www.w3.org/2003/05/soap-envelope" xmlns:trt="http://www.onvif.org/ver10/media/wsdl" xmlns:tt="http://www.onvif.org/ver10/schema">
<s:Body><trt:GetStreamUriResponse><trt:MediaUri>
<tt:Uri>rtsp://192.168.1.64:554/Streaming/Channels/101?transportmode=unicast&amp;profile=Profile_1</tt:Uri>
<tt:InvalidAfterConnect>false</tt:InvalidAfterConnect>
</trt:MediaUri></trt:GetStreamUriResponse></s:Body></s:Envelope>`

const faultResponse = `<?xml version="1.0"?>
<s:Envelope xmlns:s="http://www.w3.org/2003/05/soap-envelope" xmlns:ter="http://www.onvif.org/ver10/error">
<s:Body><s:Fault><s:Code><s:Value>s:Sender</s:Value><s:Subcode><s:Value>ter:NotAuthorized</s:Value></s:Subcode></s:Code>
<s:Reason><s:Text xml:lang="en">Sender not Authorized</s:Text></s:Reason></s:Fault></s:Body></s:Envelope>`

// fakeCamera serves canned SOAP responses keyed by the operation name found
// in the request body and records each request.
type fakeCamera struct {
	mu       sync.Mutex
	requests []recordedRequest
	status   int
	replies  map[string]string
	delay    time.Duration
}

type recordedRequest struct {
	Path        string
	ContentType string
	Body        string
}

func newFakeCamera() *fakeCamera {
	return &fakeCamera{
		status: http.StatusOK,
		replies: map[string]string{
			"GetCapabilities":      capabilitiesResponse,
			"GetDeviceInformation": deviceInfoResponse,
			"GetProfiles":          profilesResponse,
			"GetStreamUri":         streamURIResponse,
			"ContinuousMove":       `<s:Envelope xmlns:s="http://www.w3.org/2003/05/soap-envelope"><s:Body><tptz:ContinuousMoveResponse xmlns:tptz="http://www.onvif.org/ver20/ptz/wsdl"/></s:Body></s:Envelope>`,
		},
	}
}

func (f *fakeCamera) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	b, _ := io.ReadAll(r.Body)
	f.mu.Lock()
	f.requests = append(f.requests, recordedRequest{Path: r.URL.Path, ContentType: r.Header.Get("Content-Type"), Body: string(b)})
	status, delay := f.status, f.delay
	f.mu.Unlock()

	if delay > 0 {
		select {
		case <-time.After(delay):
		case <-r.Context().Done():
			return
		}
	}
	w.WriteHeader(status)
	for op, reply := range f.replies {
		if strings.Contains(string(b), ":"+op) {
			_, _ = io.WriteString(w, reply)
			return
		}
	}
}

func (f *fakeCamera) last() recordedRequest {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.requests[len(f.requests)-1]
}

func newTestClient(t *testing.T, cam *fakeCamera, creds Credentials, opts ...Option) (*Client, *httptest.Server) {
	t.Helper()
	srv := httptest.NewServer(cam)
	t.Cleanup(srv.Close)
	return NewClient(srv.URL+devicePath, creds, opts...), srv
}

func TestGetCapabilities_RecordsXAddrs(t *testing.T) {
	cam := newFakeCamera()
	c, _ := newTestClient(t, cam, Credentials{Username: "admin", Password: "secret"})

	caps, err := c.GetCapabilities(context.Background())
	if err != nil {
		t.Fatalf("GetCapabilities() error = %v", err)
	}
	if caps.MediaXAddr != "http://CAMERA/onvif/Media" {
		t.Errorf("MediaXAddr = %q", caps.MediaXAddr)
	}
	if got := c.media(); got != "http://CAMERA/onvif/Media" {
		t.Errorf("media endpoint = %q, want XAddr from capabilities", got)
	}
	if got := c.ptz(); got != "http://CAMERA/onvif/PTZ" {
		t.Errorf("ptz endpoint = %q, want XAddr from capabilities", got)
	}

	req := cam.last()
	if req.Path != devicePath {
		t.Errorf("path = %q, want %q", req.Path, devicePath)
	}
	if req.ContentType != contentType {
		t.Errorf("content-type = %q, want %q", req.ContentType, contentType)
	}
	for _, want := range []string{"wsse:UsernameToken", "<wsse:Username>admin</wsse:Username>", "PasswordDigest", "wsu:Created", "tds:GetCapabilities"} {
		if !strings.Contains(req.Body, want) {
			t.Errorf("request body missing %q", want)
		}
	}
	if strings.Contains(req.Body, "secret") {
		t.Error("request body contains the plaintext password")
	}
}

func TestCall_NoCredentialsOmitsSecurityHeader(t *testing.T) {
	cam := newFakeCamera()
	c, _ := newTestClient(t, cam, Credentials{})

	if _, err := c.GetDeviceInformation(context.Background()); err != nil {
		t.Fatalf("GetDeviceInformation() error = %v", err)
	}
	if strings.Contains(cam.last().Body, "Security") {
		t.Error("unauthenticated request should not carry a Security header")
	}
}

func TestGetDeviceInformation(t *testing.T) {
	c, _ := newTestClient(t, newFakeCamera(), Credentials{})

	info, err := c.GetDeviceInformation(context.Background())
	if err != nil {
		t.Fatalf("GetDeviceInformation() error = %v", err)
	}
	if info.Manufacturer != "Hikvision" || info.Model != "DS-2CD2143G2-I" {
		t.Errorf("info = %+v", info)
	}
	if info.HardwareID != "88" {
		t.Errorf("HardwareID = %q, want 88", info.HardwareID)
	}
}

func TestGetProfilesAndStreamURI(t *testing.T) {
	cam := newFakeCamera()
	c, _ := newTestClient(t, cam, Credentials{Username: "admin", Password: "pw"})

	profiles, err := c.GetProfiles(context.Background())
	if err != nil {
		t.Fatalf("GetProfiles() error = %v", err)
	}
	if len(profiles) != 2 {
		t.Fatalf("len(profiles) = %d, want 2", len(profiles))
	}
	if profiles[0].Token != "Profile_1" || profiles[0].Width != 1920 || profiles[0].Encoding != "H264" {
		t.Errorf("profiles[0] = %+v", profiles[0])
	}
	if cam.last().Path != mediaPath {
		t.Errorf("GetProfiles path = %q, want %q", cam.last().Path, mediaPath)
	}

	uri, err := c.GetStreamURI(context.Background(), "Profile_1")
	if err != nil {
		t.Fatalf("GetStreamURI() error = %v", err)
	}
	want := "rtsp://192.168.1.64:554/Streaming/Channels/101?transportmode=unicast&profile=Profile_1"
	if uri != want {
		t.Errorf("uri = %q, want %q", uri, want)
	}
	if !strings.Contains(cam.last().Body, "<trt:ProfileToken>Profile_1</trt:ProfileToken>") {
		t.Error("GetStreamUri body missing profile token")
	}
}

func TestGetStreamURI_MissingURIIsEmpty(t *testing.T) {
	cam := newFakeCamera()
	cam.replies["GetStreamUri"] = `<s:Envelope xmlns:s="http://www.w3.org/2003/05/soap-envelope"><s:Body><trt:GetStreamUriResponse xmlns:trt="x"/></s:Body></s:Envelope>`
	c, _ := newTestClient(t, cam, Credentials{})

	uri, err := c.GetStreamURI(context.Background(), "p")
	if err != nil {
		t.Fatalf("GetStreamURI() error = %v, want nil", err)
	}
	if uri != "" {
		t.Errorf("uri = %q, want empty", uri)
	}
}

func TestCall_TimeoutIsDistinct(t *testing.T) {
	cam := newFakeCamera()
	cam.delay = 500 * time.Millisecond
	c, _ := newTestClient(t, cam, Credentials{}, WithTimeout(50*time.Millisecond))

	_, err := c.GetCapabilities(context.Background())
	if !errors.Is(err, protocol.ErrTimeout) {
		t.Fatalf("err = %v, want ErrTimeout", err)
	}
	if errors.Is(err, protocol.ErrConnectionFailed) {
		t.Error("timeout should not also classify as connection failed")
	}
}

func TestCall_FaultIsConnectionFailed(t *testing.T) {
	cam := newFakeCamera()
	cam.status = http.StatusBadRequest
	cam.replies = map[string]string{"GetCapabilities": faultResponse}
	c, _ := newTestClient(t, cam, Credentials{})

	_, err := c.GetCapabilities(context.Background())
	if !errors.Is(err, protocol.ErrConnectionFailed) {
		t.Fatalf("err = %v, want ErrConnectionFailed", err)
	}
	var fe *FaultError
	if !errors.As(err, &fe) {
		t.Fatalf("errors.As(*FaultError) = false for %v", err)
	}
	if !fe.Unauthorized() {
		t.Errorf("Unauthorized() = false for subcode %q", fe.Fault.Subcode)
	}
}

func TestCall_GarbageIsMalformed(t *testing.T) {
	cam := newFakeCamera()
	cam.replies = map[string]string{"GetCapabilities": "<html><body>not soap"}
	c, _ := newTestClient(t, cam, Credentials{})

	_, err := c.GetCapabilities(context.Background())
	if !errors.Is(err, protocol.ErrMalformedResponse) {
		t.Fatalf("err = %v, want ErrMalformedResponse", err)
	}
}

func TestCall_ConnectionRefused(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	c := NewClient(url+devicePath, Credentials{})
	_, err := c.GetCapabilities(context.Background())
	if !errors.Is(err, protocol.ErrConnectionFailed) {
		t.Fatalf("err = %v, want ErrConnectionFailed", err)
	}
}

func TestContinuousMove_Velocities(t *testing.T) {
	tests := []struct {
		dir  Direction
		want string
	}{
		{DirectionUp, `<tt:PanTilt x="0" y="0.5"/>`},
		{DirectionDown, `<tt:PanTilt x="0" y="-0.5"/>`},
		{DirectionLeft, `<tt:PanTilt x="-0.5" y="0"/>`},
		{DirectionRight, `<tt:PanTilt x="0.5" y="0"/>`},
		{DirectionStop, `<tt:PanTilt x="0" y="0"/><tt:Zoom x="0"/>`},
	}
	for _, tt := range tests {
		t.Run(string(tt.dir), func(t *testing.T) {
			cam := newFakeCamera()
			c, _ := newTestClient(t, cam, Credentials{})
			if err := c.ContinuousMove(context.Background(), "Profile_1", tt.dir); err != nil {
				t.Fatalf("ContinuousMove() error = %v", err)
			}
			req := cam.last()
			if req.Path != ptzPath {
				t.Errorf("path = %q, want %q", req.Path, ptzPath)
			}
			if !strings.Contains(req.Body, tt.want) {
				t.Errorf("body missing %s:\n%s", tt.want, req.Body)
			}
		})
	}
}

func TestContinuousMove_UnknownDirection(t *testing.T) {
	c := NewClient("http://127.0.0.1:1"+devicePath, Credentials{})
	if err := c.ContinuousMove(context.Background(), "p", Direction("sideways")); err == nil {
		t.Fatal("expected error for unknown direction")
	}
}

func TestFaultError_Evidence(t *testing.T) {
	tests := []struct {
		name       string
		fe         FaultError
		wantSOAP   bool
		wantDigest bool
	}{
		{"soap content type", FaultError{StatusCode: 400, ContentType: "application/soap+xml; charset=utf-8"}, true, false},
		{"html page", FaultError{StatusCode: 401, ContentType: "text/html"}, false, false},
		{"digest", FaultError{StatusCode: 401, Challenge: `Digest realm="IP Camera", qop="auth"`}, false, true},
		{"basic", FaultError{StatusCode: 401, Challenge: `Basic realm="Router"`}, false, false},
	}
	for _, tt := range tests {
		if got := tt.fe.SOAPResponse(); got != tt.wantSOAP {
			t.Errorf("%s: SOAPResponse() = %v, want %v", tt.name, got, tt.wantSOAP)
		}
		if got := tt.fe.DigestChallenge(); got != tt.wantDigest {
			t.Errorf("%s: DigestChallenge() = %v, want %v", tt.name, got, tt.wantDigest)
		}
	}
}
