package config

import (
	"fmt"
	"reflect"
	"strings"
	"time"

	"github.com/spf13/pflag"
)

// Option describes one configuration value: where it can come from (flag,
// environment, TOML file), where it lands (ConfigKey must be a pointer), and
// how it is validated.
type Option struct {
	Name         string
	EnvVar       string // set to "-" to disable the environment variable
	TomlKey      string // set to "-" to disable the TOML key
	Usage        string
	ConfigKey    interface{}
	DefaultValue interface{}

	// CustomSetValue overrides the type-inferred parser. Options with one
	// are surfaced as string flags.
	CustomSetValue func(*Option, interface{}) error

	// Validate runs after all sources are merged.
	Validate func(*Option) error

	flag *pflag.Flag
}

// getEnvKey returns the environment variable for the option, deriving
// SCREAMING_SNAKE from the flag name unless one was set explicitly.
func (o Option) getEnvKey() (string, bool) {
	if o.EnvVar == "-" {
		return "", false
	}
	if o.EnvVar != "" {
		return o.EnvVar, true
	}
	if o.Name == "" {
		return "", false
	}
	return strings.ToUpper(strings.ReplaceAll(o.Name, "-", "_")), true
}

// getTomlKey returns the TOML key for the option. It falls back to the env
// var spelling so the file and the environment read the same.
func (o Option) getTomlKey() (string, bool) {
	if o.TomlKey == "-" || o.TomlKey == "_" {
		return "", false
	}
	if o.TomlKey != "" {
		return o.TomlKey, true
	}
	if envVar, ok := o.getEnvKey(); ok {
		return envVar, true
	}
	if o.Name == "" {
		return "", false
	}
	return strings.ToUpper(strings.ReplaceAll(o.Name, "-", "_")), true
}

// setValue assigns i to the ConfigKey, converting from the loosely typed
// values a TOML file or an environment string produce.
func (o *Option) setValue(i interface{}) error {
	if o.CustomSetValue != nil {
		return o.CustomSetValue(o, i)
	}
	parser := o.parserForKey()
	if parser == nil {
		return fmt.Errorf("no parser for flag %s", o.Name)
	}
	return parser(o, i)
}

func (o *Option) parserForKey() func(*Option, interface{}) error {
	switch o.ConfigKey.(type) {
	case *bool:
		return parseBool
	case *int, *int64:
		return parseInt
	case *uint, *uint64:
		return parseUint
	case *uint32:
		return parseUint32
	case *float64:
		return parseFloat
	case *string:
		return parseString
	case *[]string:
		return parseStringSlice
	case *time.Duration:
		return parseDuration
	default:
		return nil
	}
}

// required rejects zero values.
func required(option *Option) error {
	value := reflect.ValueOf(option.ConfigKey).Elem()
	if !value.IsZero() {
		return nil
	}
	return fmt.Errorf("%s is required", option.Name)
}

// positive rejects zero and negative numbers.
func positive(option *Option) error {
	value := reflect.ValueOf(option.ConfigKey).Elem()
	switch value.Kind() {
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		if value.Int() <= 0 {
			return fmt.Errorf("%s must be positive", option.Name)
		}
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		if value.Uint() == 0 {
			return fmt.Errorf("%s must be positive", option.Name)
		}
	default:
		return fmt.Errorf("%s must be a number", option.Name)
	}
	return nil
}
