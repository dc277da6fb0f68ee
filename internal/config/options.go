package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/franz/sparkify-lake/internal/util"
)

// Defaults reproduce the locations of the original Udacity data lake job
const (
	DefaultInputRoot       = "s3a://udacity-dend/"
	DefaultOutputRoot      = "s3a://dend-data-lake-p4/sparkify/"
	DefaultSongGlob        = "song_data/A/*/*/*.json"
	DefaultLogGlob         = "log_data/2018/11/*.json"
	DefaultCredentialsFile = "dl.cfg"
	DefaultStateDB         = "sparkify-state.db"
	DefaultArtifactsDir    = "artifacts"
	DefaultTimeZone        = "Local"
	DefaultParallelism     = 8
	DefaultRowsPerFile     = 100000
	DefaultRegion          = "us-west-2"
)

// Options are the parameters of one ETL run
type Options struct {
	InputRoot  string
	OutputRoot string
	SongGlob   string
	LogGlob    string

	// Connector is the storage connector declared as name:version (e.g.
	// "s3:v2", "file:v1"). Empty selects the connector serving InputRoot.
	Connector string

	CredentialsFile string
	Credentials     Credentials

	// S3 connector settings
	Region       string
	Endpoint     string
	UsePathStyle bool

	// TimeZone is the IANA zone used to derive wall-clock time parts
	TimeZone string

	Staging     bool
	Parallelism int
	RowsPerFile int

	StateDB      string
	ArtifactsDir string

	MetricsPushURL  string
	MetricsTextfile string
}

// DefaultOptions returns options with every default applied
func DefaultOptions() *Options {
	return &Options{
		InputRoot:       DefaultInputRoot,
		OutputRoot:      DefaultOutputRoot,
		SongGlob:        DefaultSongGlob,
		LogGlob:         DefaultLogGlob,
		CredentialsFile: DefaultCredentialsFile,
		Region:          DefaultRegion,
		TimeZone:        DefaultTimeZone,
		Staging:         true,
		Parallelism:     DefaultParallelism,
		RowsPerFile:     DefaultRowsPerFile,
		StateDB:         DefaultStateDB,
		ArtifactsDir:    DefaultArtifactsDir,
	}
}

// Validate checks the options and fills zero values with defaults
func (o *Options) Validate() error {
	if strings.TrimSpace(o.InputRoot) == "" {
		return fmt.Errorf("%w: input root is required", util.ErrConfig)
	}
	if strings.TrimSpace(o.OutputRoot) == "" {
		return fmt.Errorf("%w: output root is required", util.ErrConfig)
	}
	if o.SongGlob == "" {
		o.SongGlob = DefaultSongGlob
	}
	if o.LogGlob == "" {
		o.LogGlob = DefaultLogGlob
	}
	if o.TimeZone == "" {
		o.TimeZone = DefaultTimeZone
	}
	if o.Parallelism <= 0 {
		o.Parallelism = DefaultParallelism
	}
	if o.RowsPerFile <= 0 {
		o.RowsPerFile = DefaultRowsPerFile
	}
	if strings.HasPrefix(o.SongGlob, "/") || strings.HasPrefix(o.LogGlob, "/") {
		return fmt.Errorf("%w: glob patterns must be relative to the input root", util.ErrConfig)
	}
	if _, err := o.Location(); err != nil {
		return err
	}
	if o.Connector != "" {
		if _, _, err := ParseConnector(o.Connector); err != nil {
			return err
		}
	}
	return nil
}

// Location resolves TimeZone
func (o *Options) Location() (*time.Location, error) {
	loc, err := time.LoadLocation(o.TimeZone)
	if err != nil {
		return nil, fmt.Errorf("%w: unknown time zone %q: %v", util.ErrConfig, o.TimeZone, err)
	}
	return loc, nil
}

// ParseConnector splits a connector declaration of the form name:version.
// The version part is optional.
func ParseConnector(decl string) (name, version string, err error) {
	decl = strings.TrimSpace(decl)
	if decl == "" {
		return "", "", fmt.Errorf("%w: empty connector declaration", util.ErrConfig)
	}
	name, version, _ = strings.Cut(decl, ":")
	if name == "" || strings.ContainsAny(name, " /") {
		return "", "", fmt.Errorf("%w: invalid connector declaration %q", util.ErrConfig, decl)
	}
	return strings.ToLower(name), version, nil
}
