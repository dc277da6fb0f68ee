package engine

import (
	"database/sql/driver"
	"fmt"
	"sort"
	"sync"

	sqlite "modernc.org/sqlite"
)

// ScalarFunc is the Go body of a SQL scalar function
type ScalarFunc func(args []driver.Value) (driver.Value, error)

var (
	funcsMu sync.Mutex
	funcs   = map[string]int32{}
)

// RegisterFunction makes a deterministic scalar function available to SQL
// run by every session. Registration is process-wide and must happen before
// the session that uses it is created. Registering the same name and arity
// again is a no-op.
func RegisterFunction(name string, nArgs int32, fn ScalarFunc) error {
	funcsMu.Lock()
	defer funcsMu.Unlock()

	if n, ok := funcs[name]; ok {
		if n != nArgs {
			return fmt.Errorf("function %s already registered with %d arguments", name, n)
		}
		return nil
	}

	err := sqlite.RegisterDeterministicScalarFunction(name, nArgs,
		func(_ *sqlite.FunctionContext, args []driver.Value) (driver.Value, error) {
			return fn(args)
		})
	if err != nil {
		return fmt.Errorf("failed to register function %s: %w", name, err)
	}
	funcs[name] = nArgs
	return nil
}

// MustRegisterFunction is RegisterFunction for package initialization
func MustRegisterFunction(name string, nArgs int32, fn ScalarFunc) {
	if err := RegisterFunction(name, nArgs, fn); err != nil {
		panic(err)
	}
}

// Functions returns the sorted names of the registered functions
func Functions() []string {
	funcsMu.Lock()
	defer funcsMu.Unlock()
	names := make([]string, 0, len(funcs))
	for name := range funcs {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Int64Arg converts a SQL argument to int64. ok is false for NULL.
func Int64Arg(v driver.Value) (n int64, ok bool, err error) {
	switch x := v.(type) {
	case nil:
		return 0, false, nil
	case int64:
		return x, true, nil
	case float64:
		return int64(x), true, nil
	default:
		return 0, false, fmt.Errorf("expected integer argument, got %T", v)
	}
}

// StringArg converts a SQL argument to string. ok is false for NULL.
func StringArg(v driver.Value) (s string, ok bool, err error) {
	switch x := v.(type) {
	case nil:
		return "", false, nil
	case string:
		return x, true, nil
	case []byte:
		return string(x), true, nil
	default:
		return "", false, fmt.Errorf("expected text argument, got %T", v)
	}
}
