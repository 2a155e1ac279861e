package services

import (
	"context"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/netip"
	"strings"
	"syscall"
	"time"

	"imagepipe/internal/pool"
)

// Downloader fetches source images from hosts that cannot transform them
// server side, so they can go through the local engine instead.
type Downloader struct {
	client       *http.Client
	bufferPool   *pool.BufferPool
	maxSize      int64
	allowPrivate bool
}

// sharedAddressSpace is the carrier-grade NAT range, not covered by
// netip.Addr.IsPrivate.
var sharedAddressSpace = netip.MustParsePrefix("100.64.0.0/10")

// NewDownloader creates a new downloader with optimized HTTP client
func NewDownloader(bufferPool *pool.BufferPool, maxSize int64, timeout time.Duration) *Downloader {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}

	if maxSize <= 0 {
		maxSize = DefaultMaxInputBytes
	}

	if bufferPool == nil {
		bufferPool = pool.NewBufferPool(0, 256*1024, 16*1024*1024)
	}

	d := &Downloader{
		bufferPool: bufferPool,
		maxSize:    maxSize,
	}

	// The address check runs on every dial, after DNS resolution and on
	// redirects, so a public hostname cannot point the fetch inward.
	dialer := &net.Dialer{
		Timeout:   10 * time.Second,
		KeepAlive: 30 * time.Second,
		Control:   d.checkAddress,
	}

	d.client = &http.Client{
		Timeout: timeout,
		Transport: &http.Transport{
			DialContext:         dialer.DialContext,
			MaxIdleConns:        100,
			MaxIdleConnsPerHost: 10,
			IdleConnTimeout:     90 * time.Second,
			ForceAttemptHTTP2:   true,
		},
	}
	return d
}

// AllowPrivateNetworks lets downloads reach loopback, private and link-local
// addresses. Off by default.
func (d *Downloader) AllowPrivateNetworks(allow bool) *Downloader {
	d.allowPrivate = allow
	return d
}

func (d *Downloader) checkAddress(_, address string, _ syscall.RawConn) error {
	if d.allowPrivate {
		return nil
	}

	host, _, err := net.SplitHostPort(address)
	if err != nil {
		return fmt.Errorf("%w: %s", ErrBlockedAddress, address)
	}
	ip, err := netip.ParseAddr(host)
	if err != nil {
		return fmt.Errorf("%w: %s", ErrBlockedAddress, host)
	}
	ip = ip.Unmap()

	if ip.IsLoopback() || ip.IsPrivate() || ip.IsUnspecified() ||
		ip.IsLinkLocalUnicast() || ip.IsLinkLocalMulticast() ||
		ip.IsInterfaceLocalMulticast() || ip.IsMulticast() ||
		sharedAddressSpace.Contains(ip) {
		return fmt.Errorf("%w: %s", ErrBlockedAddress, ip)
	}
	return nil
}

// Download fetches url, refusing bodies larger than the configured ceiling.
// An oversize body is detected from Content-Length when present and otherwise
// by reading one byte past the limit.
func (d *Downloader) Download(ctx context.Context, url string) ([]byte, error) {
	if url == "" {
		return nil, fmt.Errorf("empty URL")
	}

	if !strings.HasPrefix(url, "http://") && !strings.HasPrefix(url, "https://") {
		return nil, fmt.Errorf("invalid URL scheme: must be http:// or https://")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Accept", "image/*")

	resp, err := d.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("download failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("download failed: HTTP %d", resp.StatusCode)
	}

	if resp.ContentLength > d.maxSize {
		return nil, fmt.Errorf("%w: %d bytes (max %d)", ErrOversizeInput, resp.ContentLength, d.maxSize)
	}

	buf := d.bufferPool.Get()
	n, err := buf.ReadFrom(io.LimitReader(resp.Body, d.maxSize+1))
	if err != nil {
		d.bufferPool.Put(buf)
		return nil, fmt.Errorf("read failed: %w", err)
	}
	if n > d.maxSize {
		d.bufferPool.Put(buf)
		return nil, fmt.Errorf("%w: more than %d bytes", ErrOversizeInput, d.maxSize)
	}
	if n == 0 {
		d.bufferPool.Put(buf)
		return nil, fmt.Errorf("downloaded file is empty")
	}

	return d.bufferPool.Detach(buf), nil
}
