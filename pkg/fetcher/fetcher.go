// Package fetcher retrieves version manifests and payloads from the
// update server over HTTP(S). Server certificates are checked against
// the root pool passed to New; a nil pool means the system roots.
package fetcher

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"time"

	cerrors "github.com/clipos/updater/pkg/errors"
)

// Client fetches from a single update server, attaching the machine
// identity headers to every request it makes.
type Client struct {
	http    *http.Client
	headers http.Header
}

// New builds a Client whose TLS transport trusts only rootCAs (or the
// system root pool when rootCAs is nil) and whose requests time out
// after timeout. headers are sent on every request
// (conventionally X-Machine-Id and X-Current-Version).
func New(rootCAs *x509.CertPool, timeout time.Duration, headers http.Header) *Client {
	transport := &http.Transport{
		TLSClientConfig: &tls.Config{
			RootCAs:    rootCAs,
			MinVersion: tls.VersionTLS12,
		},
	}
	return &Client{
		http:    &http.Client{Transport: transport, Timeout: timeout},
		headers: headers,
	}
}

func (c *Client) newRequest(ctx context.Context, url string) (*http.Request, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	for k, vs := range c.headers {
		for _, v := range vs {
			req.Header.Add(k, v)
		}
	}
	return req, nil
}

// GetText fetches url and returns its body decoded as text, used for
// version manifests.
func (c *Client) GetText(ctx context.Context, url string) (string, error) {
	slog.Info("fetch_text_start", "url", url)

	req, err := c.newRequest(ctx, url)
	if err != nil {
		return "", cerrors.Wrap(cerrors.HTTPStatus, fmt.Sprintf("building request for %s", url), err)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return "", classifyTransportError(url, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		slog.Error("fetch_text_bad_status", "url", url, "status", resp.StatusCode)
		return "", cerrors.New(cerrors.HTTPStatus, fmt.Sprintf("GET %s: status %d", url, resp.StatusCode))
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		slog.Error("fetch_text_read_failed", "url", url, "error", err)
		return "", cerrors.Wrap(cerrors.HTTPTruncation, fmt.Sprintf("reading body of %s", url), err)
	}

	slog.Info("fetch_text_complete", "url", url, "bytes", len(body))
	return string(body), nil
}

// GetStream fetches url and copies its body into w, returning the
// number of bytes written. If the server declared a Content-Length and
// fewer bytes arrive, the copy is treated as a truncated download
// rather than a successful short one.
func (c *Client) GetStream(ctx context.Context, url string, w io.Writer) (int64, error) {
	slog.Info("fetch_stream_start", "url", url)

	req, err := c.newRequest(ctx, url)
	if err != nil {
		return 0, cerrors.Wrap(cerrors.HTTPStatus, fmt.Sprintf("building request for %s", url), err)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return 0, classifyTransportError(url, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		slog.Error("fetch_stream_bad_status", "url", url, "status", resp.StatusCode)
		return 0, cerrors.New(cerrors.HTTPStatus, fmt.Sprintf("GET %s: status %d", url, resp.StatusCode))
	}

	n, err := io.Copy(w, resp.Body)
	if err != nil {
		slog.Error("fetch_stream_copy_failed", "url", url, "error", err)
		return n, cerrors.Wrap(cerrors.HTTPTruncation, fmt.Sprintf("streaming body of %s", url), err)
	}

	if resp.ContentLength >= 0 && n != resp.ContentLength {
		slog.Error("fetch_stream_truncated", "url", url, "got", n, "want", resp.ContentLength)
		return n, cerrors.New(cerrors.HTTPTruncation,
			fmt.Sprintf("GET %s: got %d bytes, want %d", url, n, resp.ContentLength))
	}

	slog.Info("fetch_stream_complete", "url", url, "bytes", n)
	return n, nil
}

func classifyTransportError(url string, err error) error {
	var tlsErr *tls.CertificateVerificationError
	var x509UnknownAuth x509.UnknownAuthorityError
	var x509HostnameErr x509.HostnameError
	if errors.As(err, &tlsErr) || errors.As(err, &x509UnknownAuth) || errors.As(err, &x509HostnameErr) {
		slog.Error("fetch_tls_failed", "url", url, "error", err)
		return cerrors.Wrap(cerrors.HTTPTls, fmt.Sprintf("GET %s", url), err)
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		slog.Error("fetch_timeout", "url", url, "error", err)
		return cerrors.Wrap(cerrors.HTTPTimeout, fmt.Sprintf("GET %s", url), err)
	}

	slog.Error("fetch_transport_failed", "url", url, "error", err)
	return cerrors.Wrap(cerrors.HTTPTruncation, fmt.Sprintf("GET %s", url), err)
}
