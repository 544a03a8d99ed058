package pulse

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/mdlayher/wifi"

	"github.com/HerbHall/lockwatch/pkg/models"
)

// ErrNoEstimate means an estimator had nothing to report.
var ErrNoEstimate = errors.New("no bandwidth estimate available")

// BandwidthEstimator produces one bandwidth figure.
type BandwidthEstimator interface {
	Estimate(ctx context.Context) (models.Bandwidth, error)
}

// chainEstimator returns the first estimate that succeeds.
type chainEstimator []BandwidthEstimator

func (c chainEstimator) Estimate(ctx context.Context) (models.Bandwidth, error) {
	var errs []error
	for _, e := range c {
		bw, err := e.Estimate(ctx)
		if err == nil {
			return bw, nil
		}
		errs = append(errs, err)
	}
	return models.Bandwidth{}, errors.Join(append(errs, ErrNoEstimate)...)
}

// WiFiEstimator reports the negotiated link rate of the first connected
// Wi-Fi station interface. Only Linux (nl80211) is supported.
type WiFiEstimator struct{}

// Estimate implements BandwidthEstimator.
func (WiFiEstimator) Estimate(_ context.Context) (models.Bandwidth, error) {
	c, err := wifi.New()
	if err != nil {
		return models.Bandwidth{}, fmt.Errorf("wifi: %w", err)
	}
	defer c.Close()

	ifis, err := c.Interfaces()
	if err != nil {
		return models.Bandwidth{}, fmt.Errorf("wifi interfaces: %w", err)
	}
	for _, ifi := range ifis {
		if ifi.Type != wifi.InterfaceTypeStation {
			continue
		}
		stations, err := c.StationInfo(ifi)
		if err != nil || len(stations) == 0 {
			continue
		}
		st := stations[0]
		down := float64(st.ReceiveBitrate) / 1e6
		up := float64(st.TransmitBitrate) / 1e6
		if down == 0 && up == 0 {
			continue
		}
		return models.Bandwidth{Download: down, Upload: up, Total: down + up, Source: models.BandwidthLink}, nil
	}
	return models.Bandwidth{}, fmt.Errorf("wifi: %w", ErrNoEstimate)
}

// DownloadEstimator times a GET of URL, reading at most MaxBytes.
type DownloadEstimator struct {
	URL      string
	MaxBytes int64
	client   *resty.Client
}

// NewDownloadEstimator returns an estimator for url bounded by timeout.
func NewDownloadEstimator(url string, timeout time.Duration) *DownloadEstimator {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &DownloadEstimator{
		URL:      url,
		MaxBytes: 8 << 20,
		client:   resty.New().SetTimeout(timeout),
	}
}

// Estimate implements BandwidthEstimator.
func (d *DownloadEstimator) Estimate(ctx context.Context) (models.Bandwidth, error) {
	if d.URL == "" {
		return models.Bandwidth{}, fmt.Errorf("download: %w", ErrNoEstimate)
	}
	start := time.Now()
	resp, err := d.client.R().SetContext(ctx).SetDoNotParseResponse(true).Get(d.URL)
	if err != nil {
		return models.Bandwidth{}, fmt.Errorf("download %s: %w", d.URL, err)
	}
	body := resp.RawBody()
	defer body.Close()
	if resp.StatusCode() >= 300 {
		return models.Bandwidth{}, fmt.Errorf("download %s: status %d", d.URL, resp.StatusCode())
	}

	n, err := io.Copy(io.Discard, io.LimitReader(body, d.MaxBytes))
	elapsed := time.Since(start)
	if err != nil && n == 0 {
		return models.Bandwidth{}, fmt.Errorf("download %s: %w", d.URL, err)
	}
	if n == 0 || elapsed <= 0 {
		return models.Bandwidth{}, fmt.Errorf("download %s: %w", d.URL, ErrNoEstimate)
	}
	mbps := float64(n) * 8 / elapsed.Seconds() / 1e6
	return models.Bandwidth{Download: mbps, Total: mbps, Source: models.BandwidthMeasured}, nil
}

// SyntheticEstimator always succeeds with fixed figures marked synthetic.
type SyntheticEstimator struct {
	Download float64
	Upload   float64
}

// Estimate implements BandwidthEstimator.
func (s SyntheticEstimator) Estimate(context.Context) (models.Bandwidth, error) {
	return models.Bandwidth{
		Download: s.Download,
		Upload:   s.Upload,
		Total:    s.Download + s.Upload,
		Source:   models.BandwidthSynthetic,
	}, nil
}
