package processor

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"io"
	"net"
	"net/http"
	"time"

	"github.com/disintegration/imaging"

	"github.com/aliskhannn/image-gateway/internal/model"
	"github.com/aliskhannn/image-gateway/internal/netguard"
)

const maxRedirects = 5

// Fetcher downloads watermark images from user supplied URLs.
// Every hop, including redirects, is checked against the network policy
// and every dialed address against the blocked ranges.
type Fetcher struct {
	client    *http.Client
	guard     netguard.Policy
	maxBytes  int64
	maxPixels int
}

// NewFetcher creates a Fetcher with the given policy, per-fetch timeout, size cap
// and decoded pixel cap. Zero caps disable the check.
func NewFetcher(guard netguard.Policy, timeout time.Duration, maxBytes int64, maxPixels int) *Fetcher {
	dialer := &net.Dialer{
		Timeout: timeout,
		Control: netguard.Control,
	}

	transport := &http.Transport{
		Proxy:                 nil,
		DialContext:           dialer.DialContext,
		TLSHandshakeTimeout:   timeout,
		ResponseHeaderTimeout: timeout,
		MaxIdleConns:          16,
		IdleConnTimeout:       90 * time.Second,
	}

	client := &http.Client{
		Transport: transport,
		Timeout:   timeout,
		CheckRedirect: func(req *http.Request, via []*http.Request) error {
			if len(via) >= maxRedirects {
				return fmt.Errorf("stopped after %d redirects", maxRedirects)
			}
			_, err := guard.CheckURL(req.URL.String())
			return err
		},
	}

	return &Fetcher{client: client, guard: guard, maxBytes: maxBytes, maxPixels: maxPixels}
}

// Fetch downloads and decodes the image at rawURL.
func (f *Fetcher) Fetch(ctx context.Context, rawURL string) (image.Image, error) {
	u, err := f.guard.CheckURL(rawURL)
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("build watermark request: %w", err)
	}

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch watermark: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("watermark source returned %s", resp.Status)
	}

	body := io.Reader(resp.Body)
	if f.maxBytes > 0 {
		if resp.ContentLength > f.maxBytes {
			return nil, model.Errorf(model.ErrLimitExceeded, "watermark exceeds %d bytes", f.maxBytes)
		}
		body = io.LimitReader(resp.Body, f.maxBytes+1)
	}

	data, err := io.ReadAll(body)
	if err != nil {
		return nil, fmt.Errorf("read watermark: %w", err)
	}
	if f.maxBytes > 0 && int64(len(data)) > f.maxBytes {
		return nil, model.Errorf(model.ErrLimitExceeded, "watermark exceeds %d bytes", f.maxBytes)
	}

	cfg, _, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		return nil, model.NewError(model.ErrOperation, "watermark is not a decodable image", err)
	}
	if f.maxPixels > 0 && cfg.Width*cfg.Height > f.maxPixels {
		return nil, model.Errorf(model.ErrLimitExceeded, "watermark of %dx%d exceeds the pixel limit", cfg.Width, cfg.Height)
	}

	img, err := imaging.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, model.NewError(model.ErrOperation, "watermark is not a decodable image", err)
	}

	return img, nil
}
