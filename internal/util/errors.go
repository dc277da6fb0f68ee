package util

import "errors"

// Sentinel errors for the failure classes of an ETL run. Callers wrap them
// with fmt.Errorf("...: %w") and classify with errors.Is.
var (
	// ErrConfig indicates a missing or invalid configuration file, key or option
	ErrConfig = errors.New("configuration error")

	// ErrEngineInit indicates the engine session or its storage connector
	// could not be established
	ErrEngineInit = errors.New("engine init error")

	// ErrRead indicates an input pattern matched nothing or an input object
	// could not be read or decoded
	ErrRead = errors.New("read error")

	// ErrSchema indicates a record that does not conform to its declared schema
	ErrSchema = errors.New("schema error")

	// ErrWrite indicates an output location could not be written
	ErrWrite = errors.New("write error")

	// ErrNotFound indicates a required object was not found
	ErrNotFound = errors.New("not found")
)

// ErrorKind returns a short, stable name for the failure class of err,
// used in the run ledger and the event log.
func ErrorKind(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrConfig):
		return "config"
	case errors.Is(err, ErrEngineInit):
		return "engine_init"
	case errors.Is(err, ErrSchema):
		return "schema"
	case errors.Is(err, ErrRead):
		return "read"
	case errors.Is(err, ErrWrite):
		return "write"
	default:
		return "internal"
	}
}
