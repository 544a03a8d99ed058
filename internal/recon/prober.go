package recon

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"time"

	"go.uber.org/zap"

	"github.com/HerbHall/lockwatch/internal/protocol"
	"github.com/HerbHall/lockwatch/internal/protocol/httpprobe"
	"github.com/HerbHall/lockwatch/internal/protocol/onvif"
	"github.com/HerbHall/lockwatch/internal/protocol/rtsp"
	"github.com/HerbHall/lockwatch/pkg/models"
)

// Candidate is one (protocol, port) pair to try against a target.
type Candidate struct {
	Protocol models.ProtocolKind `json:"protocol"`
	Port     int                 `json:"port"`
}

// Attempt records the outcome of one candidate.
type Attempt struct {
	Protocol models.ProtocolKind `json:"protocol"`
	Port     int                 `json:"port"`
	OK       bool                `json:"ok"`
	Error    string              `json:"error,omitempty"` // protocol.KindName of the failure
	Duration time.Duration       `json:"duration_ns"`
}

// ProbeResult is the classification of one address.
type ProbeResult struct {
	Address      string
	Status       models.DeviceStatus
	Protocol     models.ProtocolKind
	Port         int
	Manufacturer models.Optional[string]
	Model        models.Optional[string]
	Banner       string
	Attempts     []Attempt
}

// Success is what a successful attempt learned about the device.
type Success struct {
	Manufacturer models.Optional[string]
	Model        models.Optional[string]
	Banner       string
}

// AttemptFunc tries one protocol on addr:port.
type AttemptFunc func(ctx context.Context, addr string, port int) (Success, error)

// CredentialSource looks up stored camera credentials for an address.
type CredentialSource interface {
	Lookup(ctx context.Context, address string) (username, password string, ok bool, err error)
}

// Prober classifies one address by trying every candidate concurrently and
// keeping the highest-priority success. It holds no per-call state.
type Prober struct {
	catalog  *Catalog
	ports    map[models.ProtocolKind][]int
	attempts map[models.ProtocolKind]AttemptFunc
	logger   *zap.Logger
}

// ProberOption configures a Prober.
type ProberOption func(*Prober)

// WithPorts overrides the catalog ports for p.
func WithPorts(p models.ProtocolKind, ports []int) ProberOption {
	return func(pr *Prober) {
		if len(ports) > 0 {
			pr.ports[p] = ports
		}
	}
}

// WithAttempt replaces the attempt function for p.
func WithAttempt(p models.ProtocolKind, fn AttemptFunc) ProberOption {
	return func(pr *Prober) { pr.attempts[p] = fn }
}

// WithCredentials makes ONVIF attempts authenticate with stored credentials.
func WithCredentials(src CredentialSource) ProberOption {
	return func(pr *Prober) {
		if src != nil {
			pr.attempts[models.ProtocolONVIF] = onvifAttempt(pr.catalog, src)
		}
	}
}

// NewProber returns a Prober using the real protocol clients.
func NewProber(catalog *Catalog, logger *zap.Logger, opts ...ProberOption) *Prober {
	p := &Prober{
		catalog: catalog,
		ports:   make(map[models.ProtocolKind][]int),
		logger:  logger,
	}
	for _, kind := range []models.ProtocolKind{models.ProtocolONVIF, models.ProtocolRTSP, models.ProtocolHTTP} {
		p.ports[kind] = catalog.Ports(kind)
	}
	p.attempts = map[models.ProtocolKind]AttemptFunc{
		models.ProtocolONVIF: onvifAttempt(catalog, nil),
		models.ProtocolRTSP:  rtspAttempt(catalog),
		models.ProtocolHTTP:  httpAttempt(catalog),
	}
	for _, o := range opts {
		o(p)
	}
	return p
}

// Candidates returns the ordered candidate list, restricted to protocols
// when it is non-empty.
func (p *Prober) Candidates(protocols []models.ProtocolKind) []Candidate {
	want := func(k models.ProtocolKind) bool {
		if len(protocols) == 0 {
			return true
		}
		for _, pk := range protocols {
			if pk == k {
				return true
			}
		}
		return false
	}
	var out []Candidate
	for _, kind := range []models.ProtocolKind{models.ProtocolONVIF, models.ProtocolRTSP, models.ProtocolHTTP} {
		if !want(kind) || p.attempts[kind] == nil {
			continue
		}
		for _, port := range p.ports[kind] {
			out = append(out, Candidate{Protocol: kind, Port: port})
		}
	}
	return out
}

type attemptOutcome struct {
	idx     int
	success Success
	attempt Attempt
}

// Probe classifies address. It never returns an error: every failure,
// including a panic inside a protocol client, yields an unreachable result.
// Cancelling ctx cancels only this target's attempts.
func (p *Prober) Probe(ctx context.Context, address string, protocols []models.ProtocolKind) ProbeResult {
	res := ProbeResult{Address: address, Status: models.DeviceStatusUnreachable, Protocol: models.ProtocolUnknown}
	cands := p.Candidates(protocols)
	if len(cands) == 0 {
		return res
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	results := make(chan attemptOutcome, len(cands))
	for i, c := range cands {
		go p.run(ctx, i, address, c, results)
	}

	outcomes := make([]*attemptOutcome, len(cands))
	for received := 0; received < len(cands); received++ {
		var o attemptOutcome
		select {
		case o = <-results:
		case <-ctx.Done():
			// Deadline with higher-priority attempts still pending: keep
			// the best success already received.
			res.Attempts = drain(results, outcomes, res.Attempts)
			if winner := firstSuccess(outcomes); winner != nil {
				res.apply(cands[winner.idx], winner.success)
			}
			return res
		}
		outcomes[o.idx] = &o
		res.Attempts = append(res.Attempts, o.attempt)

		if winner, decided := pickWinner(outcomes); decided {
			if winner == nil {
				break
			}
			res.apply(cands[winner.idx], winner.success)
			return res
		}
	}
	return res
}

func (r *ProbeResult) apply(c Candidate, s Success) {
	r.Status = models.DeviceStatusDiscovered
	r.Protocol = c.Protocol
	r.Port = c.Port
	r.Manufacturer = s.Manufacturer
	r.Model = s.Model
	r.Banner = s.Banner
}

// drain records outcomes already buffered in results without blocking.
func drain(results <-chan attemptOutcome, outcomes []*attemptOutcome, attempts []Attempt) []Attempt {
	for {
		select {
		case o := <-results:
			outcomes[o.idx] = &o
			attempts = append(attempts, o.attempt)
		default:
			return attempts
		}
	}
}

// firstSuccess returns the highest-priority successful outcome received so
// far, ignoring gaps.
func firstSuccess(outcomes []*attemptOutcome) *attemptOutcome {
	for _, o := range outcomes {
		if o != nil && o.attempt.OK {
			return o
		}
	}
	return nil
}

// pickWinner walks the outcomes in priority order. It reports decided once
// the first success is preceded only by failures, or once everything failed.
func pickWinner(outcomes []*attemptOutcome) (*attemptOutcome, bool) {
	for _, o := range outcomes {
		if o == nil {
			return nil, false
		}
		if o.attempt.OK {
			return o, true
		}
	}
	return nil, true
}

func (p *Prober) run(ctx context.Context, idx int, address string, c Candidate, out chan<- attemptOutcome) {
	start := time.Now()
	o := attemptOutcome{idx: idx, attempt: Attempt{Protocol: c.Protocol, Port: c.Port}}
	defer func() {
		if r := recover(); r != nil {
			p.logger.Warn("probe attempt panicked",
				zap.String("address", address),
				zap.String("protocol", string(c.Protocol)),
				zap.Int("port", c.Port),
				zap.Any("panic", r),
			)
			o.success = Success{}
			o.attempt.OK = false
			o.attempt.Error = protocol.KindName(protocol.ErrConnectionFailed)
		}
		o.attempt.Duration = time.Since(start)
		out <- o
	}()

	s, err := p.attempts[c.Protocol](ctx, address, c.Port)
	if err != nil {
		o.attempt.Error = protocol.KindName(err)
		p.logger.Debug("probe attempt failed",
			zap.String("address", address),
			zap.String("protocol", string(c.Protocol)),
			zap.Int("port", c.Port),
			zap.Error(err),
		)
		return
	}
	o.success = s
	o.attempt.OK = true
}

// onvifAttempt asks for device information. A rejection still proves an
// ONVIF endpoint when it carries SOAP evidence; identity stays unknown then.
// A plain web login (bare 401 with Basic auth, HTML error page) is left to
// the HTTP candidate.
func onvifAttempt(catalog *Catalog, creds CredentialSource) AttemptFunc {
	hc := &http.Client{}
	return func(ctx context.Context, addr string, port int) (Success, error) {
		var c onvif.Credentials
		if creds != nil {
			if u, pw, ok, err := creds.Lookup(ctx, addr); err == nil && ok {
				c = onvif.Credentials{Username: u, Password: pw}
			}
		}
		client := onvif.NewClient(onvif.DeviceURL(addr, port), c, onvif.WithHTTPClient(hc))
		info, err := client.GetDeviceInformation(ctx)
		if err != nil {
			var fe *onvif.FaultError
			if errors.As(err, &fe) && onvifPresence(fe) {
				return Success{Banner: "onvif: " + fe.Error()}, nil
			}
			return Success{}, err
		}
		s := Success{Manufacturer: models.KnownString(info.Manufacturer), Model: models.KnownString(info.Model)}
		if v, ok := catalog.MatchVendor(info.Manufacturer); ok {
			s.Manufacturer = models.Known(v.Name)
		}
		return s, nil
	}
}

func onvifPresence(fe *onvif.FaultError) bool {
	if fe.Fault != nil || fe.SOAPResponse() {
		return true
	}
	return fe.StatusCode == http.StatusUnauthorized && fe.DigestChallenge()
}

// rtspAttempt runs a real OPTIONS exchange. Any RTSP status line counts.
func rtspAttempt(catalog *Catalog) AttemptFunc {
	checker := rtsp.NewChecker(rtsp.ReachableTimeout)
	return func(ctx context.Context, addr string, port int) (Success, error) {
		resp, err := checker.Options(ctx, addr, port)
		if err != nil {
			return Success{}, err
		}
		s := Success{Banner: resp.Server}
		if v, ok := catalog.MatchVendor(resp.Server); ok {
			s.Manufacturer = models.Known(v.Name)
		}
		return s, nil
	}
}

// httpAttempt sends HEAD and, for a vendor hint, reads the page title.
// Port 443 is probed over TLS.
func httpAttempt(catalog *Catalog) AttemptFunc {
	prober := httpprobe.New(httpprobe.DefaultTimeout)
	return func(ctx context.Context, addr string, port int) (Success, error) {
		scheme := "http"
		if port == 443 {
			scheme = "https"
		}
		u := fmt.Sprintf("%s://%s/", scheme, net.JoinHostPort(addr, strconv.Itoa(port)))
		head, err := prober.Head(ctx, u)
		if err != nil {
			return Success{}, err
		}
		s := Success{Banner: head.Server}
		hints := []string{head.Server, head.Realm}
		if title, err := prober.Title(ctx, u); err == nil && title != "" {
			hints = append(hints, title)
			if s.Banner == "" {
				s.Banner = title
			}
		}
		if v, ok := catalog.MatchVendor(hints...); ok {
			s.Manufacturer = models.Known(v.Name)
		}
		return s, nil
	}
}
