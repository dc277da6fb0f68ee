package storage

import (
	"fmt"
	"net/url"
	"path"
	"path/filepath"
	"strings"

	"github.com/franz/sparkify-lake/internal/util"
)

const (
	SchemeS3   = "s3"
	SchemeFile = "file"
)

// Location addresses an object or a prefix of objects. For the file scheme
// Bucket is empty and Key is a slash-separated filesystem path.
type Location struct {
	Scheme string
	Bucket string
	Key    string
}

// ParseLocation parses s3://, s3a://, s3n://, file:// URLs and bare
// filesystem paths.
func ParseLocation(raw string) (Location, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return Location{}, fmt.Errorf("%w: empty location", util.ErrConfig)
	}

	if !strings.Contains(raw, "://") {
		return Location{Scheme: SchemeFile, Key: cleanKey(filepath.ToSlash(raw))}, nil
	}

	u, err := url.Parse(raw)
	if err != nil {
		return Location{}, fmt.Errorf("%w: invalid location %q: %v", util.ErrConfig, raw, err)
	}

	switch strings.ToLower(u.Scheme) {
	case "s3", "s3a", "s3n":
		if u.Host == "" {
			return Location{}, fmt.Errorf("%w: location %q has no bucket", util.ErrConfig, raw)
		}
		return Location{
			Scheme: SchemeS3,
			Bucket: u.Host,
			Key:    strings.TrimPrefix(cleanKey(u.Path), "/"),
		}, nil
	case "file":
		p := u.Path
		if u.Host != "" && u.Host != "localhost" {
			p = u.Host + p
		}
		return Location{Scheme: SchemeFile, Key: cleanKey(p)}, nil
	default:
		return Location{}, fmt.Errorf("%w: unsupported location scheme %q", util.ErrConfig, u.Scheme)
	}
}

// MustParseLocation is like ParseLocation but panics on error
func MustParseLocation(raw string) Location {
	loc, err := ParseLocation(raw)
	if err != nil {
		panic(err)
	}
	return loc
}

// Join returns the location of rel below l
func (l Location) Join(rel ...string) Location {
	elems := append([]string{l.Key}, rel...)
	key := path.Join(elems...)
	if l.Scheme == SchemeS3 {
		key = strings.TrimPrefix(key, "/")
	}
	l.Key = key
	return l
}

// WithKey returns a copy of l addressing key in the same bucket
func (l Location) WithKey(key string) Location {
	l.Key = key
	return l
}

// Base returns the last element of the key
func (l Location) Base() string {
	return path.Base(l.Key)
}

// Rel returns the key of child relative to l, or false when child is not
// below l.
func (l Location) Rel(child string) (string, bool) {
	prefix := l.Key
	if prefix == "" || prefix == "." {
		return child, true
	}
	if !strings.HasSuffix(prefix, "/") {
		prefix += "/"
	}
	if !strings.HasPrefix(child, prefix) {
		return "", false
	}
	return strings.TrimPrefix(child, prefix), true
}

func (l Location) String() string {
	switch l.Scheme {
	case SchemeS3:
		return "s3://" + l.Bucket + "/" + l.Key
	default:
		return l.Key
	}
}

func cleanKey(k string) string {
	if k == "" {
		return ""
	}
	return path.Clean(k)
}
