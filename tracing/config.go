package tracing

import (
	"fmt"
	"os"
	"strconv"
)

// IDFormat determines how trace IDs are generated.
type IDFormat string

// All available trace ID formats
const (
	IDFormatUUID IDFormat = "uuid"
	IDFormatULID IDFormat = "ulid"
)

// Config represents the configuration of a [Layer].
type Config struct {
	// Header is the request header the trace ID is read from.
	Header string
	// IDFormat is the format of generated trace IDs.
	IDFormat IDFormat
	// ResponseHeader sends the trace ID back on the response, see [WithResponseHeader].
	ResponseHeader bool
}

// LoadConfig will load the tracing Config of the service from environment variables.
// The service name is used as a prefix for the environment variables.
// So a service "TEST" will load the header from "TEST_TRACE_HEADER".
//
//   - <SERVICE>_TRACE_HEADER: header name, defaults to [DefaultHeader]
//   - <SERVICE>_TRACE_ID_FMT: "uuid" or "ulid", defaults to "uuid"
//   - <SERVICE>_TRACE_ECHO: "true" to send the trace ID back on responses
func LoadConfig(service string) (Config, error) {
	header := os.Getenv(service + "_TRACE_HEADER")
	if header == "" {
		header = DefaultHeader
	}

	format, err := ParseIDFormat(os.Getenv(service + "_TRACE_ID_FMT"))
	if err != nil {
		return Config{}, err
	}

	var echo bool
	if v := os.Getenv(service + "_TRACE_ECHO"); v != "" {
		echo, err = strconv.ParseBool(v)
		if err != nil {
			return Config{}, fmt.Errorf("invalid %s_TRACE_ECHO %q: %w", service, v, err)
		}
	}

	return Config{
		Header:         header,
		IDFormat:       format,
		ResponseHeader: echo,
	}, nil
}

// ParseIDFormat parses the string and returns the corresponding [IDFormat].
func ParseIDFormat(format string) (IDFormat, error) {
	switch IDFormat(format) {
	case IDFormatUUID, "":
		return IDFormatUUID, nil
	case IDFormatULID:
		return IDFormatULID, nil
	default:
		return "", fmt.Errorf("unknown trace id format %q", format)
	}
}

// NewFromConfig creates a new [Layer] from the given [Config].
// The given options are applied after the configuration, so they take precedence.
func NewFromConfig(cfg Config, options ...Option) *Layer {
	opts := []Option{WithHeader(cfg.Header)}
	if cfg.IDFormat == IDFormatULID {
		opts = append(opts, WithULID())
	}
	if cfg.ResponseHeader {
		opts = append(opts, WithResponseHeader())
	}
	return New(append(opts, options...)...)
}
