package media

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/HerbHall/lockwatch/internal/protocol/onvif"
	"github.com/HerbHall/lockwatch/internal/protocol/rtsp"
	"github.com/HerbHall/lockwatch/internal/recon"
	"github.com/HerbHall/lockwatch/pkg/models"
)

// DefaultONVIFPort is used when a target names no port.
const DefaultONVIFPort = 80

// ErrInvalidTarget is returned for a target without an address.
var ErrInvalidTarget = errors.New("invalid stream target")

// Target identifies a camera and, optionally, the credentials and profile
// to use. Empty credentials are looked up in the credential source.
type Target struct {
	FacilityID   string
	Address      string
	Port         int
	Username     string
	Password     string
	ProfileToken string
}

// DeviceLookup returns the persisted record of a device. *recon.Module
// satisfies it.
type DeviceLookup interface {
	DeviceByAddress(ctx context.Context, facilityID, address string) (*models.DeviceRecord, error)
}

// PathCatalog maps a manufacturer to its conventional RTSP path.
// *recon.Catalog satisfies it.
type PathCatalog interface {
	RTSPPath(manufacturer string) string
}

// Resolver turns a Target into a playable RTSP source. It asks the camera
// over ONVIF first and composes a vendor-conventional URI when that fails.
type Resolver struct {
	creds      recon.CredentialSource
	devices    DeviceLookup
	catalog    PathCatalog
	httpClient *http.Client
	timeout    time.Duration
	logger     *zap.Logger
}

// ResolverOption configures a Resolver.
type ResolverOption func(*Resolver)

// WithCredentialSource fills missing credentials from src.
func WithCredentialSource(src recon.CredentialSource) ResolverOption {
	return func(r *Resolver) { r.creds = src }
}

// WithDeviceLookup supplies manufacturers for composed URIs.
func WithDeviceLookup(d DeviceLookup) ResolverOption {
	return func(r *Resolver) { r.devices = d }
}

// WithONVIFTimeout bounds each ONVIF call.
func WithONVIFTimeout(d time.Duration) ResolverOption {
	return func(r *Resolver) {
		if d > 0 {
			r.timeout = d
		}
	}
}

// NewResolver returns a Resolver composing fallback URIs from catalog.
func NewResolver(catalog PathCatalog, logger *zap.Logger, opts ...ResolverOption) *Resolver {
	if logger == nil {
		logger = zap.NewNop()
	}
	r := &Resolver{
		catalog:    catalog,
		httpClient: &http.Client{},
		timeout:    onvif.DefaultTimeout,
		logger:     logger,
	}
	for _, o := range opts {
		o(r)
	}
	return r
}

// Resolve returns the stream descriptor for t. The URI carries credentials
// when any are known; callers redact it before it leaves the process.
func (r *Resolver) Resolve(ctx context.Context, t Target) (models.StreamDescriptor, error) {
	t.Address = strings.TrimSpace(t.Address)
	if t.Address == "" {
		return models.StreamDescriptor{}, fmt.Errorf("%w: address is required", ErrInvalidTarget)
	}
	if t.Port <= 0 {
		t.Port = DefaultONVIFPort
	}
	t = r.withCredentials(ctx, t)

	desc, err := r.resolveONVIF(ctx, t)
	if err == nil {
		return desc, nil
	}
	r.logger.Debug("onvif stream lookup failed, composing uri",
		zap.String("address", t.Address),
		zap.Error(err),
	)
	return r.compose(ctx, t), nil
}

// ONVIFClient returns a client for t's device service, with credentials
// filled in the same way Resolve does. The service addresses the device
// advertises are loaded before returning; when that fails the client keeps
// the conventional paths.
func (r *Resolver) ONVIFClient(ctx context.Context, t Target) *onvif.Client {
	if t.Port <= 0 {
		t.Port = DefaultONVIFPort
	}
	t = r.withCredentials(ctx, t)
	c := r.client(t)
	if _, err := c.GetCapabilities(ctx); err != nil {
		r.logger.Debug("onvif capabilities unavailable", zap.String("address", t.Address), zap.Error(err))
	}
	return c
}

func (r *Resolver) client(t Target) *onvif.Client {
	return onvif.NewClient(
		onvif.DeviceURL(t.Address, t.Port),
		onvif.Credentials{Username: t.Username, Password: t.Password},
		onvif.WithHTTPClient(r.httpClient),
		onvif.WithTimeout(r.timeout),
	)
}

func (r *Resolver) withCredentials(ctx context.Context, t Target) Target {
	if t.Username != "" || r.creds == nil {
		return t
	}
	user, pass, ok, err := r.creds.Lookup(ctx, t.Address)
	if err != nil {
		r.logger.Debug("credential lookup failed", zap.String("address", t.Address), zap.Error(err))
		return t
	}
	if ok {
		t.Username, t.Password = user, pass
	}
	return t
}

func (r *Resolver) resolveONVIF(ctx context.Context, t Target) (models.StreamDescriptor, error) {
	c := r.client(t)

	// Capabilities only refine the service addresses; the conventional
	// paths still work without them.
	if _, err := c.GetCapabilities(ctx); err != nil {
		r.logger.Debug("onvif capabilities unavailable", zap.String("address", t.Address), zap.Error(err))
	}

	token := t.ProfileToken
	if token == "" {
		profiles, err := c.GetProfiles(ctx)
		if err != nil {
			return models.StreamDescriptor{}, err
		}
		if len(profiles) == 0 {
			return models.StreamDescriptor{}, errors.New("device has no media profiles")
		}
		token = profiles[0].Token
	}

	uri, err := c.GetStreamURI(ctx, token)
	if err != nil {
		return models.StreamDescriptor{}, err
	}
	if uri == "" {
		return models.StreamDescriptor{}, errors.New("device returned no stream uri")
	}
	uri, err = rtsp.EmbedCredentials(uri, t.Username, t.Password)
	if err != nil {
		return models.StreamDescriptor{}, err
	}
	return models.StreamDescriptor{
		DeviceAddress: t.Address,
		ProfileToken:  token,
		Transport:     models.TransportRTSP,
		URI:           uri,
		HasAuth:       t.Username != "",
		Resolver:      "onvif",
	}, nil
}

func (r *Resolver) compose(ctx context.Context, t Target) models.StreamDescriptor {
	manufacturer := ""
	if r.devices != nil {
		rec, err := r.devices.DeviceByAddress(ctx, t.FacilityID, t.Address)
		if err == nil && rec != nil {
			manufacturer = rec.Manufacturer
		}
	}
	path := r.catalog.RTSPPath(manufacturer)
	return models.StreamDescriptor{
		DeviceAddress: t.Address,
		ProfileToken:  t.ProfileToken,
		Transport:     models.TransportRTSP,
		URI:           rtsp.Compose("rtsp", t.Address, rtsp.DefaultPort, path, t.Username, t.Password),
		HasAuth:       t.Username != "",
		Resolver:      "composed",
	}
}
