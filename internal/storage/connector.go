package storage

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/franz/sparkify-lake/internal/config"
	"github.com/franz/sparkify-lake/internal/util"
	"github.com/spf13/afero"
)

// Settings configure a connector when the engine opens it
type Settings struct {
	Credentials  config.Credentials
	Region       string
	Endpoint     string
	UsePathStyle bool
	Retry        *util.RetryConfig

	// Fs overrides the filesystem of the file connector
	Fs afero.Fs
}

// Connector is a named, versioned storage package the engine depends on to
// address locations of the given schemes.
type Connector struct {
	Name    string
	Version string
	Schemes []string
	Open    func(ctx context.Context, settings Settings) (Backend, error)
}

// ID renders the connector declaration name:version
func (c Connector) ID() string {
	return c.Name + ":" + c.Version
}

// Serves reports whether the connector can address loc
func (c Connector) Serves(loc Location) bool {
	for _, s := range c.Schemes {
		if s == loc.Scheme {
			return true
		}
	}
	return false
}

var (
	registryMu sync.RWMutex
	registry   = map[string]Connector{}
)

func init() {
	Register(Connector{
		Name:    "file",
		Version: "v1",
		Schemes: []string{SchemeFile},
		Open: func(_ context.Context, s Settings) (Backend, error) {
			return NewLocal(s.Fs, s.Retry), nil
		},
	})
	Register(Connector{
		Name:    "s3",
		Version: "v2",
		Schemes: []string{SchemeS3},
		Open: func(ctx context.Context, s Settings) (Backend, error) {
			return NewS3(ctx, s)
		},
	})
}

// Register adds or replaces a connector
func Register(c Connector) {
	registryMu.Lock()
	defer registryMu.Unlock()
	registry[strings.ToLower(c.Name)] = c
}

// Lookup resolves a connector by name. An empty version accepts any version.
func Lookup(name, version string) (Connector, error) {
	registryMu.RLock()
	defer registryMu.RUnlock()

	c, ok := registry[strings.ToLower(name)]
	if !ok {
		return Connector{}, fmt.Errorf("%w: unknown storage connector %q (available: %s)",
			util.ErrEngineInit, name, strings.Join(connectorIDs(), ", "))
	}
	if version != "" && version != c.Version {
		return Connector{}, fmt.Errorf("%w: storage connector %s requested at version %s, have %s",
			util.ErrEngineInit, name, version, c.Version)
	}
	return c, nil
}

// ForLocation returns the registered connector serving loc's scheme
func ForLocation(loc Location) (Connector, error) {
	registryMu.RLock()
	defer registryMu.RUnlock()

	names := make([]string, 0, len(registry))
	for name := range registry {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		if c := registry[name]; c.Serves(loc) {
			return c, nil
		}
	}
	return Connector{}, fmt.Errorf("%w: no storage connector serves %s locations", util.ErrEngineInit, loc.Scheme)
}

func connectorIDs() []string {
	ids := make([]string, 0, len(registry))
	for _, c := range registry {
		ids = append(ids, c.ID())
	}
	sort.Strings(ids)
	return ids
}
