package sqlite

import (
	"database/sql/driver"
	"errors"
	"fmt"
	"strings"

	msqlite "modernc.org/sqlite"
)

func init() {
	msqlite.MustRegisterDeterministicScalarFunction("split_part", 3, splitPart)
}

// splitPart provides the scalar function the generated load statement
// depends on: split_part(string, delimiter, n) returns the nth
// delimiter-separated fragment of string, 1-based. Postgres semantics:
//   - any NULL argument yields NULL
//   - n beyond the fragment count yields the empty string
//   - negative n counts fragments from the end
//   - n = 0 is an error
//   - an empty delimiter treats the whole string as a single fragment
func splitPart(ctx *msqlite.FunctionContext, args []driver.Value) (driver.Value, error) {
	if len(args) != 3 {
		return nil, fmt.Errorf("split_part: expected 3 arguments, got %d", len(args))
	}
	if args[0] == nil || args[1] == nil || args[2] == nil {
		return nil, nil
	}

	s, err := textArg("string", args[0])
	if err != nil {
		return nil, err
	}
	delim, err := textArg("delimiter", args[1])
	if err != nil {
		return nil, err
	}
	n, err := intArg(args[2])
	if err != nil {
		return nil, err
	}
	if n == 0 {
		return nil, errors.New("split_part: field position must not be zero")
	}

	if delim == "" {
		if n == 1 || n == -1 {
			return s, nil
		}
		return "", nil
	}

	parts := strings.Split(s, delim)
	if n < 0 {
		n = len(parts) + n + 1
		if n < 1 {
			return "", nil
		}
	}
	if n > len(parts) {
		return "", nil
	}
	return parts[n-1], nil
}

func textArg(what string, v driver.Value) (string, error) {
	switch t := v.(type) {
	case string:
		return t, nil
	case []byte:
		return string(t), nil
	default:
		return "", fmt.Errorf("split_part: %s must be text, got %T", what, v)
	}
}

func intArg(v driver.Value) (int, error) {
	switch t := v.(type) {
	case int64:
		return int(t), nil
	case float64:
		return int(t), nil
	default:
		return 0, fmt.Errorf("split_part: field position must be an integer, got %T", v)
	}
}
