// Package httpprobe checks device presence over plain HTTP.
package httpprobe

import (
	"context"
	"crypto/tls"
	"io"
	"net/http"
	"strings"
	"time"

	"golang.org/x/net/html"

	"github.com/HerbHall/lockwatch/internal/protocol"
)

const (
	protoName = "http"

	// DefaultTimeout bounds Head.
	DefaultTimeout = time.Second

	maxTitleBytes = 64 * 1024
)

// Result describes an HTTP answer. Any status code counts as presence.
type Result struct {
	StatusCode int
	Server     string
	Realm      string
	Latency    time.Duration
}

// Prober issues HEAD and lightweight GET requests.
type Prober struct {
	client  *http.Client
	timeout time.Duration
}

// New returns a Prober with the given timeout, or DefaultTimeout if zero.
func New(timeout time.Duration) *Prober {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	transport := http.DefaultTransport.(*http.Transport).Clone()
	// Cameras and NVRs ship self-signed certificates; presence is all we check.
	transport.TLSClientConfig = &tls.Config{InsecureSkipVerify: true} //nolint:gosec // presence probe only
	return &Prober{
		client: &http.Client{
			Transport: transport,
			// A redirect is already proof of life.
			CheckRedirect: func(*http.Request, []*http.Request) error { return http.ErrUseLastResponse },
		},
		timeout: timeout,
	}
}

// Head sends a HEAD request to url. A response with any status means the
// device is present; it does not confirm any particular protocol.
func (p *Prober) Head(ctx context.Context, url string) (*Result, error) {
	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodHead, url, http.NoBody)
	if err != nil {
		return nil, protocol.Wrap(protoName, "HEAD", url, err)
	}
	req.Header.Set("User-Agent", "lockwatch")

	start := time.Now()
	resp, err := p.client.Do(req)
	if err != nil {
		return nil, protocol.Wrap(protoName, "HEAD", url, err)
	}
	defer resp.Body.Close()

	return &Result{
		StatusCode: resp.StatusCode,
		Server:     resp.Header.Get("Server"),
		Realm:      parseRealm(resp.Header.Get("WWW-Authenticate")),
		Latency:    time.Since(start),
	}, nil
}

// Title fetches url and returns the document <title>, or "" if there is none.
func (p *Prober) Title(ctx context.Context, url string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, http.NoBody)
	if err != nil {
		return "", protocol.Wrap(protoName, "GET", url, err)
	}
	resp, err := p.client.Do(req)
	if err != nil {
		return "", protocol.Wrap(protoName, "GET", url, err)
	}
	defer resp.Body.Close()

	return ExtractTitle(io.LimitReader(resp.Body, maxTitleBytes)), nil
}

// ExtractTitle returns the trimmed text of the first <title> element in r.
func ExtractTitle(r io.Reader) string {
	z := html.NewTokenizer(r)
	inTitle := false
	for {
		switch z.Next() {
		case html.ErrorToken:
			return ""
		case html.StartTagToken:
			name, _ := z.TagName()
			inTitle = string(name) == "title"
		case html.TextToken:
			if inTitle {
				return strings.Join(strings.Fields(string(z.Text())), " ")
			}
		case html.EndTagToken:
			inTitle = false
		}
	}
}

// parseRealm pulls realm="..." out of a WWW-Authenticate header.
func parseRealm(h string) string {
	i := strings.Index(strings.ToLower(h), "realm=")
	if i < 0 {
		return ""
	}
	v := h[i+len("realm="):]
	if strings.HasPrefix(v, `"`) {
		v = v[1:]
		if j := strings.IndexByte(v, '"'); j >= 0 {
			return v[:j]
		}
		return v
	}
	if j := strings.IndexAny(v, ", "); j >= 0 {
		return v[:j]
	}
	return v
}
