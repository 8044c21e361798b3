// Package httpclient builds the http.Client instances used by the trust
// subsystem: system proxy disabled, explicit connect and total timeouts,
// a stable User-Agent.
package httpclient

import (
	"context"
	"fmt"
	"io"
	"net"
	"net/http"
	"time"

	ferrors "github.com/ruminasu/fsdecrypt/internal/errors"
)

const userAgent = "fsdecrypt-trust/1"

// Config controls the timeouts of a constructed client.
type Config struct {
	ConnectTimeout time.Duration
	TotalTimeout   time.Duration
}

// New builds an *http.Client with no system proxy, the given connect and
// total timeouts, and a User-Agent-setting RoundTripper.
func New(cfg Config) *http.Client {
	transport := &http.Transport{
		Proxy: nil,
		DialContext: (&net.Dialer{
			Timeout: cfg.ConnectTimeout,
		}).DialContext,
		TLSHandshakeTimeout: cfg.ConnectTimeout,
	}
	return &http.Client{
		Timeout:   cfg.TotalTimeout,
		Transport: &userAgentTransport{next: transport},
	}
}

type userAgentTransport struct {
	next http.RoundTripper
}

func (t *userAgentTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	req.Header.Set("User-Agent", userAgent)
	return t.next.RoundTrip(req)
}

// Open issues a GET request and returns the still-open response for
// streaming consumption. Callers must close the returned body. A non-2xx
// status closes the body and returns ErrNetwork.
func Open(ctx context.Context, client *http.Client, url string) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("build request for %s: %w", url, err)
	}
	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: fetch %s: %v", ferrors.ErrNetwork, url, err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		resp.Body.Close()
		return nil, fmt.Errorf("%w: %s returned status %d", ferrors.ErrNetwork, url, resp.StatusCode)
	}
	return resp, nil
}

// GetBytes issues a GET request and reads the whole response body.
func GetBytes(ctx context.Context, client *http.Client, url string) ([]byte, error) {
	resp, err := Open(ctx, client, url)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("%w: read body of %s: %v", ferrors.ErrNetwork, url, err)
	}
	return body, nil
}
