// Package config loads the credentials file and the job options of an ETL run.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"strings"

	"github.com/franz/sparkify-lake/internal/util"
	"gopkg.in/ini.v1"
)

const (
	// CredentialsSection is the section of the credentials file holding keys
	CredentialsSection = "AWS"

	KeyAccessKeyID     = "AWS_ACCESS_KEY_ID"
	KeySecretAccessKey = "AWS_SECRET_ACCESS_KEY"
	KeySessionToken    = "AWS_SESSION_TOKEN"
	KeyRegion          = "AWS_REGION"
)

// Credentials are the object storage credentials of a run. They are handed
// to the storage connector explicitly; the process environment is never
// modified.
type Credentials struct {
	AccessKeyID     string
	SecretAccessKey string
	SessionToken    string
	Region          string
}

// IsZero reports whether no credentials were provided
func (c Credentials) IsZero() bool {
	return c.AccessKeyID == "" && c.SecretAccessKey == ""
}

// String masks the secret so credentials can be logged safely
func (c Credentials) String() string {
	return fmt.Sprintf("Credentials{AccessKeyID: %s, SecretAccessKey: %s}",
		mask(c.AccessKeyID), mask(c.SecretAccessKey))
}

// LoadCredentials reads a sectioned key-value file (dl.cfg style):
//
//	[AWS]
//	AWS_ACCESS_KEY_ID=...
//	AWS_SECRET_ACCESS_KEY=...
//
// A missing file, a missing [AWS] section, or a missing or empty key is a
// configuration error.
func LoadCredentials(path string) (Credentials, error) {
	file, err := ini.Load(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return Credentials{}, fmt.Errorf("%w: credentials file %s does not exist", util.ErrConfig, path)
		}
		return Credentials{}, fmt.Errorf("%w: failed to parse credentials file %s: %v", util.ErrConfig, path, err)
	}
	return credentialsFromFile(file, path)
}

// ParseCredentials parses credentials from the contents of a credentials file
func ParseCredentials(data []byte) (Credentials, error) {
	file, err := ini.Load(data)
	if err != nil {
		return Credentials{}, fmt.Errorf("%w: failed to parse credentials: %v", util.ErrConfig, err)
	}
	return credentialsFromFile(file, "<inline>")
}

func credentialsFromFile(file *ini.File, source string) (Credentials, error) {
	section, err := file.GetSection(CredentialsSection)
	if err != nil {
		return Credentials{}, fmt.Errorf("%w: %s has no [%s] section", util.ErrConfig, source, CredentialsSection)
	}

	var missing []string
	value := func(key string, required bool) string {
		v := strings.TrimSpace(section.Key(key).String())
		if required && v == "" {
			missing = append(missing, key)
		}
		return v
	}

	creds := Credentials{
		AccessKeyID:     value(KeyAccessKeyID, true),
		SecretAccessKey: value(KeySecretAccessKey, true),
		SessionToken:    value(KeySessionToken, false),
		Region:          value(KeyRegion, false),
	}

	if len(missing) > 0 {
		return Credentials{}, fmt.Errorf("%w: %s [%s] is missing %s",
			util.ErrConfig, source, CredentialsSection, strings.Join(missing, ", "))
	}

	return creds, nil
}

func mask(s string) string {
	if len(s) <= 4 {
		return strings.Repeat("*", len(s))
	}
	return s[:4] + strings.Repeat("*", len(s)-4)
}
