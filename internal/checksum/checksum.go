// Package checksum verifies downloaded files against the digests published
// in the data catalog.
package checksum

import (
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"strings"

	mh "github.com/multiformats/go-multihash"
	"github.com/spf13/afero"
)

var (
	// ErrMismatch is returned by Verify when the computed digest differs
	// from the expected one.
	ErrMismatch = errors.New("checksum: digest mismatch")

	// ErrUnknownKind is returned when a checksum kind is not recognised.
	ErrUnknownKind = errors.New("checksum: unknown kind")
)

// Kind names a digest algorithm using multihash naming ("sha2-256", "md5").
type Kind string

const (
	MD5    Kind = "md5"
	SHA1   Kind = "sha1"
	SHA256 Kind = "sha2-256"
	SHA384 Kind = "sha2-384"
	SHA512 Kind = "sha2-512"
)

// aliases maps the spellings found in catalog records to multihash names.
var aliases = map[string]Kind{
	"md5":     MD5,
	"sha1":    SHA1,
	"sha-1":   SHA1,
	"sha256":  SHA256,
	"sha-256": SHA256,
	"sha384":  SHA384,
	"sha-384": SHA384,
	"sha512":  SHA512,
	"sha-512": SHA512,
}

// ParseKind normalises a catalog checksum type such as "SHA256" or "MD5".
// Any name known to the multihash registry is also accepted.
func ParseKind(s string) (Kind, error) {
	name := strings.ToLower(strings.TrimSpace(s))
	if k, ok := aliases[name]; ok {
		return k, nil
	}
	if _, ok := mh.Names[name]; ok {
		return Kind(name), nil
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownKind, s)
}

func (k Kind) String() string { return string(k) }

// Sum computes the hex digest of r.
func Sum(r io.Reader, kind Kind) (string, error) {
	code, ok := mh.Names[string(kind)]
	if !ok {
		return "", fmt.Errorf("%w: %q", ErrUnknownKind, kind)
	}
	h, err := mh.GetHasher(code)
	if err != nil {
		return "", fmt.Errorf("checksum: hasher for %s: %w", kind, err)
	}
	if _, err := io.Copy(h, r); err != nil {
		return "", fmt.Errorf("checksum: read: %w", err)
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

// SumFile computes the hex digest of the file at path.
func SumFile(fs afero.Fs, path string, kind Kind) (string, error) {
	f, err := fs.Open(path)
	if err != nil {
		return "", fmt.Errorf("checksum: open: %w", err)
	}
	defer f.Close()

	return Sum(f, kind)
}

// Verify computes the digest of the file at path and compares it with
// expected, ignoring case. It returns ErrMismatch when they differ.
func Verify(fs afero.Fs, path string, kind Kind, expected string) error {
	actual, err := SumFile(fs, path, kind)
	if err != nil {
		return err
	}
	if !strings.EqualFold(actual, strings.TrimSpace(expected)) {
		return fmt.Errorf("%w: %s expected %s, got %s", ErrMismatch, kind, expected, actual)
	}
	return nil
}
