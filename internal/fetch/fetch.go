// Package fetch downloads runtime artifacts together with the digest they are
// expected to match.
package fetch

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"path"
	"strings"
	"time"

	"pyvm/internal/errkind"
	"pyvm/internal/integrity"
)

const userAgent = "pyvm/1.0"

// Artifact is an open download. Body must be closed by the caller.
type Artifact struct {
	Name   string
	URL    string
	Body   io.ReadCloser
	Digest string
	Size   int64
}

// Fetcher resolves a version identifier to a downloadable artifact.
type Fetcher interface {
	Fetch(ctx context.Context, id string) (*Artifact, error)
}

// HTTPFetcher downloads artifacts from a URL template such as
// https://www.python.org/ftp/python/{version}/python-{version}-embed-amd64.zip.
type HTTPFetcher struct {
	Client              *http.Client
	URLTemplate         string
	ChecksumURLTemplate string
	Checksums           map[string]string
}

// NewHTTPFetcher builds a fetcher with its own client timeout.
func NewHTTPFetcher(urlTemplate, checksumTemplate string, checksums map[string]string, timeout time.Duration) *HTTPFetcher {
	return &HTTPFetcher{
		Client:              &http.Client{Timeout: timeout},
		URLTemplate:         urlTemplate,
		ChecksumURLTemplate: checksumTemplate,
		Checksums:           checksums,
	}
}

// Fetch starts the download. A 404 means the release does not exist and is
// reported as ErrVersionNotFound; every other failure is ErrDownloadFailed.
func (f *HTTPFetcher) Fetch(ctx context.Context, id string) (*Artifact, error) {
	artifactURL := expand(f.URLTemplate, id)
	name, err := artifactName(artifactURL)
	if err != nil {
		return nil, err
	}

	digest, err := f.expectedDigest(ctx, id)
	if err != nil {
		return nil, err
	}

	resp, err := f.get(ctx, artifactURL)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %w", errkind.ErrDownloadFailed, artifactURL, err)
	}
	if resp.StatusCode == http.StatusNotFound {
		resp.Body.Close()
		return nil, fmt.Errorf("%w: %s returned %s", errkind.ErrVersionNotFound, artifactURL, resp.Status)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		resp.Body.Close()
		return nil, fmt.Errorf("%w: %s: unexpected status %s", errkind.ErrDownloadFailed, artifactURL, resp.Status)
	}

	return &Artifact{
		Name:   name,
		URL:    artifactURL,
		Body:   &body{rc: resp.Body, want: resp.ContentLength, url: artifactURL},
		Digest: digest,
		Size:   resp.ContentLength,
	}, nil
}

func (f *HTTPFetcher) expectedDigest(ctx context.Context, id string) (string, error) {
	if pinned := strings.TrimSpace(f.Checksums[id]); pinned != "" {
		return integrity.Normalize(pinned)
	}
	if f.ChecksumURLTemplate == "" {
		return "", nil
	}

	sumURL := expand(f.ChecksumURLTemplate, id)
	resp, err := f.get(ctx, sumURL)
	if err != nil {
		return "", fmt.Errorf("%w: checksum %s: %w", errkind.ErrDownloadFailed, sumURL, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return "", nil
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", fmt.Errorf("%w: checksum %s: unexpected status %s", errkind.ErrDownloadFailed, sumURL, resp.Status)
	}

	scanner := bufio.NewScanner(io.LimitReader(resp.Body, 64<<10))
	for scanner.Scan() {
		fields := strings.Fields(scanner.Text())
		if len(fields) == 0 {
			continue
		}
		return integrity.Normalize(fields[0])
	}
	if err := scanner.Err(); err != nil {
		return "", fmt.Errorf("%w: read checksum %s: %w", errkind.ErrDownloadFailed, sumURL, err)
	}
	return "", nil
}

func (f *HTTPFetcher) get(ctx context.Context, target string) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("User-Agent", userAgent)

	client := f.Client
	if client == nil {
		client = http.DefaultClient
	}
	return client.Do(req)
}

// body reports any incomplete transfer as ErrDownloadFailed.
type body struct {
	rc   io.ReadCloser
	want int64
	got  int64
	url  string
}

func (b *body) Read(p []byte) (int, error) {
	n, err := b.rc.Read(p)
	b.got += int64(n)
	switch {
	case err == nil:
		return n, nil
	case errors.Is(err, io.EOF):
		if b.want >= 0 && b.got != b.want {
			return n, fmt.Errorf("%w: %s: received %d of %d bytes", errkind.ErrDownloadFailed, b.url, b.got, b.want)
		}
		return n, io.EOF
	default:
		return n, fmt.Errorf("%w: %s: %w", errkind.ErrDownloadFailed, b.url, err)
	}
}

func (b *body) Close() error {
	return b.rc.Close()
}

func expand(template, id string) string {
	return strings.ReplaceAll(template, "{version}", id)
}

func artifactName(raw string) (string, error) {
	parsed, err := url.Parse(raw)
	if err != nil {
		return "", fmt.Errorf("parse download url: %w", err)
	}
	base := path.Base(parsed.Path)
	if base == "." || base == "" || base == "/" {
		return "", fmt.Errorf("infer artifact name from url: %s", raw)
	}
	return base, nil
}
