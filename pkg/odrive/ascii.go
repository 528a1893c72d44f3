package odrive

import (
	"fmt"
	"strconv"
	"strings"
)

// Responses the firmware sends instead of a value.
const (
	respInvalidProperty = "invalid property"
	respInvalidValue    = "invalid value"
	respInvalidFormat   = "invalid command format"
	respUnknownCommand  = "unknown command"
)

// formatRead builds a read request: "r <path>\n".
func formatRead(path string) (string, error) {
	if err := checkPath(path); err != nil {
		return "", err
	}
	return "r " + path + "\n", nil
}

// formatWrite builds a write request: "w <path> <value>\n".
// The firmware parses values with %f, so exponents are never emitted.
func formatWrite(path string, value float64) (string, error) {
	if err := checkPath(path); err != nil {
		return "", err
	}
	return "w " + path + " " + strconv.FormatFloat(value, 'f', -1, 64) + "\n", nil
}

func checkPath(path string) error {
	if path == "" || strings.ContainsAny(path, " \t\r\n*") {
		return fmt.Errorf("%w: %q", ErrInvalidProperty, path)
	}
	return nil
}

// parseResponse converts one response line into a value or an error.
func parseResponse(line string) (float64, error) {
	line = strings.TrimSpace(line)
	if err := responseError(line); err != nil {
		return 0, err
	}

	switch line {
	case "True", "true":
		return 1, nil
	case "False", "false":
		return 0, nil
	}

	v, err := strconv.ParseFloat(line, 64)
	if err != nil {
		return 0, fmt.Errorf("%w: unexpected response %q", ErrInvalidValue, line)
	}
	return v, nil
}

// responseError maps firmware error lines to sentinel errors. It returns nil
// for anything that is not an error line.
func responseError(line string) error {
	switch line {
	case respInvalidProperty:
		return ErrInvalidProperty
	case respInvalidValue:
		return ErrInvalidValue
	case respInvalidFormat:
		return fmt.Errorf("%w: invalid command format", ErrInvalidValue)
	case respUnknownCommand:
		return ErrUnknownCommand
	}
	return nil
}
