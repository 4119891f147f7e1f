package utils

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"net/url"
	"path"
	"regexp"

	validation "github.com/go-ozzo/ozzo-validation/v4"
)

// MaxModelNameLength bounds model names so they stay valid directory names everywhere
const MaxModelNameLength = 128

var modelNamePattern = regexp.MustCompile(`^[A-Za-z0-9_](?:[A-Za-z0-9_. -]*[A-Za-z0-9_-])?$`)

// ValidateModelName checks that name can be used as a single directory name
// inside the archive store.
func ValidateModelName(name string) error {
	return validation.Validate(name,
		validation.Required,
		validation.Length(1, MaxModelNameLength),
		validation.Match(modelNamePattern).Error("must contain only letters, digits, spaces, '.', '_' or '-' and must not start with '.'"),
	)
}

// ValidateArchiveURL checks that rawURL is an absolute http(s) URL
func ValidateArchiveURL(rawURL string) error {
	return validation.Validate(rawURL,
		validation.Required,
		validation.By(func(value interface{}) error {
			s, _ := value.(string)
			u, err := url.Parse(s)
			if err != nil {
				return errors.New("must be a valid URL")
			}
			if u.Scheme != "http" && u.Scheme != "https" {
				return errors.New("must use http or https")
			}
			if u.Host == "" {
				return errors.New("must include a host")
			}
			return nil
		}),
	)
}

// ArchiveFilename returns the last path element of an archive URL, used for
// logging and acquisition records.
func ArchiveFilename(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil || u.Path == "" {
		return ""
	}
	name := path.Base(u.Path)
	if name == "/" || name == "." {
		return ""
	}
	return name
}

// ComputeSHA256FromReader computes SHA256 hash from an io.Reader
func ComputeSHA256FromReader(reader io.Reader) (string, error) {
	hash := sha256.New()
	if _, err := io.Copy(hash, reader); err != nil {
		return "", err
	}
	return hex.EncodeToString(hash.Sum(nil)), nil
}

// CopyClassified copies src to dst like io.Copy, but wraps read failures with
// readKind and write failures with writeKind so callers can tell a broken
// source from a broken destination.
func CopyClassified(dst io.Writer, src io.Reader, readKind, writeKind error) (int64, error) {
	buf := make([]byte, 32*1024)
	var written int64
	for {
		n, rerr := src.Read(buf)
		if n > 0 {
			w, werr := dst.Write(buf[:n])
			written += int64(w)
			if werr != nil {
				return written, fmt.Errorf("%w: %w", writeKind, werr)
			}
			if w != n {
				return written, fmt.Errorf("%w: %w", writeKind, io.ErrShortWrite)
			}
		}
		if rerr == io.EOF {
			return written, nil
		}
		if rerr != nil {
			return written, fmt.Errorf("%w: %w", readKind, rerr)
		}
	}
}

// FormatBytes formats byte size in human-readable format
func FormatBytes(bytes int64) string {
	const unit = 1024
	if bytes < unit {
		return fmt.Sprintf("%d B", bytes)
	}

	div, exp := int64(unit), 0
	for n := bytes / unit; n >= unit; n /= unit {
		div *= unit
		exp++
	}

	suffixes := []string{"B", "KB", "MB", "GB", "TB", "PB", "EB"}
	return fmt.Sprintf("%.1f %s", float64(bytes)/float64(div), suffixes[exp+1])
}
