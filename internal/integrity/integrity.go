// Package integrity checks downloaded artifacts against an expected digest
// before anything derived from them is trusted.
package integrity

import (
	"crypto/sha256"
	"crypto/sha512"
	"encoding/hex"
	"fmt"
	"hash"
	"io"
	"strings"

	"pyvm/internal/errkind"
)

const defaultAlgorithm = "sha256"

// Verifier validates artifacts. With RequireDigest unset, an empty expected
// digest is accepted and the computed digest is returned for recording.
type Verifier struct {
	RequireDigest bool
}

// Verify consumes r to EOF and compares its digest with expected. The
// returned digest is always "<algo>:<hex>".
func (v Verifier) Verify(r io.Reader, expected string) (string, error) {
	w, err := v.NewWriter(expected)
	if err != nil {
		return "", err
	}
	if _, err := io.Copy(w, r); err != nil {
		return "", fmt.Errorf("hash stream: %w", err)
	}
	return w.Check()
}

// NewWriter returns a hashing writer for expected. Bytes written to it are not
// trusted until Check succeeds.
func (v Verifier) NewWriter(expected string) (*Writer, error) {
	algo, want, err := parseDigest(expected)
	if err != nil {
		return nil, err
	}
	if want == "" && v.RequireDigest {
		return nil, fmt.Errorf("%w: no expected digest available", errkind.ErrIntegrityMismatch)
	}
	h, err := newHash(algo)
	if err != nil {
		return nil, err
	}
	return &Writer{algo: algo, want: want, h: h}, nil
}

// Writer hashes everything written to it.
type Writer struct {
	algo string
	want string
	h    hash.Hash
	n    int64
}

func (w *Writer) Write(p []byte) (int, error) {
	n, err := w.h.Write(p)
	w.n += int64(n)
	return n, err
}

// Written returns the number of bytes hashed so far.
func (w *Writer) Written() int64 {
	return w.n
}

// Check compares the digest of everything written against the expected value.
func (w *Writer) Check() (string, error) {
	got := hex.EncodeToString(w.h.Sum(nil))
	digest := w.algo + ":" + got
	if w.want != "" && !strings.EqualFold(got, w.want) {
		return digest, fmt.Errorf("%w: expected %s:%s, got %s", errkind.ErrIntegrityMismatch, w.algo, w.want, digest)
	}
	return digest, nil
}

// Normalize renders a digest in "<algo>:<hex>" form, lower-cased.
func Normalize(digest string) (string, error) {
	algo, sum, err := parseDigest(digest)
	if err != nil || sum == "" {
		return "", err
	}
	return algo + ":" + strings.ToLower(sum), nil
}

func parseDigest(raw string) (string, string, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return defaultAlgorithm, "", nil
	}
	algo, sum := defaultAlgorithm, raw
	if idx := strings.IndexByte(raw, ':'); idx >= 0 {
		algo, sum = strings.ToLower(raw[:idx]), raw[idx+1:]
	}
	h, err := newHash(algo)
	if err != nil {
		return "", "", err
	}
	if _, err := hex.DecodeString(sum); err != nil || len(sum) != h.Size()*2 {
		return "", "", fmt.Errorf("%w: malformed %s digest %q", errkind.ErrIntegrityMismatch, algo, raw)
	}
	return algo, sum, nil
}

func newHash(algo string) (hash.Hash, error) {
	switch algo {
	case "sha256":
		return sha256.New(), nil
	case "sha512":
		return sha512.New(), nil
	default:
		return nil, fmt.Errorf("%w: unsupported digest algorithm %q", errkind.ErrIntegrityMismatch, algo)
	}
}
