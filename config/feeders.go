package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/golobby/cast"
	"gopkg.in/yaml.v3"
)

// Feeder fills a struct from one source.
type Feeder interface {
	Feed(structure any) error
}

// YamlFeeder reads a YAML file. Unknown keys are rejected.
type YamlFeeder struct {
	Path string
}

// NewYamlFeeder creates a YamlFeeder for path.
func NewYamlFeeder(path string) YamlFeeder {
	return YamlFeeder{Path: path}
}

// Feed decodes the file into structure.
func (f YamlFeeder) Feed(structure any) error {
	if err := checkStructure(structure); err != nil {
		return err
	}
	data, err := os.ReadFile(f.Path)
	if err != nil {
		return fmt.Errorf("read %s: %w", f.Path, err)
	}
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(structure); err != nil && !errors.Is(err, io.EOF) {
		return wrapYamlError(f.Path, err)
	}
	return nil
}

// TomlFeeder reads a TOML file. Unknown keys are rejected.
type TomlFeeder struct {
	Path string
}

// NewTomlFeeder creates a TomlFeeder for path.
func NewTomlFeeder(path string) TomlFeeder {
	return TomlFeeder{Path: path}
}

// Feed decodes the file into structure.
func (f TomlFeeder) Feed(structure any) error {
	if err := checkStructure(structure); err != nil {
		return err
	}
	md, err := toml.DecodeFile(f.Path, structure)
	if err != nil {
		return wrapTomlError(f.Path, err)
	}
	if undecoded := md.Undecoded(); len(undecoded) > 0 {
		keys := make([]string, len(undecoded))
		for i, k := range undecoded {
			keys[i] = k.String()
		}
		return wrapTomlError(f.Path, fmt.Errorf("%w: %s", ErrTomlUnknownKeys, strings.Join(keys, ", ")))
	}
	return nil
}

// FileFeeder picks a feeder by the file extension of path.
func FileFeeder(path string) (Feeder, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return NewYamlFeeder(path), nil
	case ".toml":
		return NewTomlFeeder(path), nil
	}
	return nil, wrapFormatError(path)
}

// EnvFeeder reads environment variables named after env tags. Nested
// structs extend the name with their own tag, so with prefix MICROAPP the
// field Timeouts.Mount is read from MICROAPP_TIMEOUT_MOUNT. Fields without
// a tag and empty variables are left alone.
type EnvFeeder struct {
	Prefix string
	// Lookup defaults to os.LookupEnv.
	Lookup func(string) (string, bool)
}

// NewEnvFeeder creates an EnvFeeder reading variables under prefix.
func NewEnvFeeder(prefix string) EnvFeeder {
	return EnvFeeder{Prefix: prefix}
}

var durationType = reflect.TypeFor[time.Duration]()

// Feed sets the tagged fields of structure.
func (f EnvFeeder) Feed(structure any) error {
	if err := checkStructure(structure); err != nil {
		return err
	}
	lookup := f.Lookup
	if lookup == nil {
		lookup = os.LookupEnv
	}
	return f.fillStruct(reflect.ValueOf(structure).Elem(), strings.ToUpper(f.Prefix), lookup)
}

func (f EnvFeeder) fillStruct(rv reflect.Value, prefix string, lookup func(string) (string, bool)) error {
	for i := 0; i < rv.NumField(); i++ {
		field := rv.Field(i)
		fieldType := rv.Type().Field(i)
		tag, ok := fieldType.Tag.Lookup("env")
		if !ok || !fieldType.IsExported() {
			continue
		}
		name := strings.ToUpper(tag)
		if prefix != "" {
			name = prefix + "_" + name
		}

		if field.Kind() == reflect.Struct {
			if err := f.fillStruct(field, name, lookup); err != nil {
				return err
			}
			continue
		}
		value, ok := lookup(name)
		if !ok || value == "" {
			continue
		}
		if err := setField(field, name, value); err != nil {
			return fmt.Errorf("error in field '%s': %w", fieldType.Name, err)
		}
	}
	return nil
}

func setField(field reflect.Value, name, value string) error {
	if !field.CanSet() {
		return fmt.Errorf("%s: %w", name, ErrEnvFieldCannotBeSet)
	}
	switch {
	case field.Type() == durationType:
		d, err := time.ParseDuration(value)
		if err != nil {
			return wrapEnvConvertError(name, value, field.Type().String(), err)
		}
		field.SetInt(int64(d))
	case field.Kind() == reflect.Slice && field.Type().Elem().Kind() == reflect.String:
		parts := strings.Split(value, ",")
		out := reflect.MakeSlice(field.Type(), 0, len(parts))
		for _, p := range parts {
			if p = strings.TrimSpace(p); p != "" {
				out = reflect.Append(out, reflect.ValueOf(p).Convert(field.Type().Elem()))
			}
		}
		field.Set(out)
	default:
		converted, err := cast.FromType(value, field.Type())
		if err != nil {
			return wrapEnvConvertError(name, value, field.Type().String(), err)
		}
		field.Set(reflect.ValueOf(converted).Convert(field.Type()))
	}
	return nil
}

func checkStructure(structure any) error {
	t := reflect.TypeOf(structure)
	if t == nil || t.Kind() != reflect.Pointer || t.Elem().Kind() != reflect.Struct || reflect.ValueOf(structure).IsNil() {
		return wrapStructureError(structure)
	}
	return nil
}

// Load applies feeders over Default, in order, and validates the result.
func Load(feeders ...Feeder) (*Config, error) {
	cfg := Default()
	for _, f := range feeders {
		if err := f.Feed(cfg); err != nil {
			return nil, err
		}
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// LoadFile loads the file at path and then, when envPrefix is not empty, the
// environment variables under envPrefix.
func LoadFile(path, envPrefix string) (*Config, error) {
	file, err := FileFeeder(path)
	if err != nil {
		return nil, err
	}
	feeders := []Feeder{file}
	if envPrefix != "" {
		feeders = append(feeders, NewEnvFeeder(envPrefix))
	}
	return Load(feeders...)
}
