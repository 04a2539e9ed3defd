package config

import "fmt"

// LogFormat selects the encoding of the daemon's log output.
type LogFormat int

const (
	LogFormatText LogFormat = iota
	LogFormatJSON
)

func (f LogFormat) String() string {
	if f == LogFormatJSON {
		return "json"
	}
	return "text"
}

// ParseLogFormat maps a configuration value to a format.
func ParseLogFormat(s string) (LogFormat, error) {
	switch s {
	case "text":
		return LogFormatText, nil
	case "json":
		return LogFormatJSON, nil
	default:
		return LogFormatText, fmt.Errorf("unknown log format %q, expected text or json", s)
	}
}
