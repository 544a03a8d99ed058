package recon

import (
	"context"
	"fmt"
	"net"
	"time"

	"go.uber.org/zap"

	"github.com/HerbHall/lockwatch/internal/protocol"
	"github.com/HerbHall/lockwatch/internal/protocol/httpprobe"
	"github.com/HerbHall/lockwatch/internal/protocol/onvif"
	"github.com/HerbHall/lockwatch/internal/protocol/rtsp"
)

// Connectivity check methods, in chain order.
const (
	MethodONVIF = "onvif"
	MethodRTSP  = "rtsp"
	MethodHTTP  = "http"
)

// ConnectivityRequest identifies the device to test.
type ConnectivityRequest struct {
	Address   string
	ONVIFPort int // 0 means 80
	RTSPPort  int // 0 means 554
	Username  string
	Password  string
}

// StepResult is the outcome of one link in the chain.
type StepResult struct {
	Method string        `json:"method"`
	OK     bool          `json:"ok"`
	Error  string        `json:"error,omitempty"`
	Took   time.Duration `json:"took_ns"`
}

// ConnectivityResult reports whether the device answered and how.
type ConnectivityResult struct {
	Address  string       `json:"address"`
	Online   bool         `json:"online"`
	Method   string       `json:"method,omitempty"`
	Attempts []StepResult `json:"attempts"`
}

// step checks one method; a nil error means the device answered.
type step struct {
	method string
	run    func(ctx context.Context, req ConnectivityRequest) error
}

// ConnectivityTester runs the ONVIF, RTSP, HTTP fallback chain.
type ConnectivityTester struct {
	steps  []step
	creds  CredentialSource
	logger *zap.Logger
}

// NewConnectivityTester returns a tester using the real protocol clients.
// creds may be nil.
func NewConnectivityTester(creds CredentialSource, logger *zap.Logger) *ConnectivityTester {
	checker := rtsp.NewChecker(rtsp.ReachableTimeout)
	head := httpprobe.New(httpprobe.DefaultTimeout)
	return &ConnectivityTester{
		creds:  creds,
		logger: logger,
		steps: []step{
			{MethodONVIF, func(ctx context.Context, req ConnectivityRequest) error {
				c := onvif.NewClient(onvif.DeviceURL(req.Address, portOr(req.ONVIFPort, 80)),
					onvif.Credentials{Username: req.Username, Password: req.Password})
				_, err := c.GetCapabilities(ctx)
				return err
			}},
			{MethodRTSP, func(ctx context.Context, req ConnectivityRequest) error {
				if !checker.Reachable(ctx, req.Address, portOr(req.RTSPPort, rtsp.DefaultPort)) {
					return fmt.Errorf("rtsp %s: %w", req.Address, protocol.ErrConnectionFailed)
				}
				return nil
			}},
			{MethodHTTP, func(ctx context.Context, req ConnectivityRequest) error {
				_, err := head.Head(ctx, "http://"+net.JoinHostPort(req.Address, "80")+"/")
				return err
			}},
		},
	}
}

func portOr(p, def int) int {
	if p > 0 {
		return p
	}
	return def
}

// Test walks the chain and stops at the first method that answers. Online
// is false only when every method failed. Stored credentials fill in a
// request that has none.
func (t *ConnectivityTester) Test(ctx context.Context, req ConnectivityRequest) ConnectivityResult {
	res := ConnectivityResult{Address: req.Address}
	if req.Username == "" && t.creds != nil {
		if u, p, ok, err := t.creds.Lookup(ctx, req.Address); err == nil && ok {
			req.Username, req.Password = u, p
		}
	}

	for _, s := range t.steps {
		start := time.Now()
		err := s.run(ctx, req)
		sr := StepResult{Method: s.method, OK: err == nil, Took: time.Since(start)}
		if err != nil {
			sr.Error = protocol.KindName(err)
			t.logger.Debug("connectivity step failed",
				zap.String("address", req.Address),
				zap.String("method", s.method),
				zap.Error(err),
			)
		}
		res.Attempts = append(res.Attempts, sr)
		if err == nil {
			res.Online = true
			res.Method = s.method
			return res
		}
	}
	return res
}
