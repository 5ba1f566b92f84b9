// Package config loads service configuration for the AVA auth services
// from struct tag defaults, an optional YAML/JSON file, an optional dotenv
// file, and environment variables, in that order of precedence (later
// wins).
//
// # Struct Tags
//
//   - `env:"NAME"` maps the field to an environment variable. Nested struct
//     fields with an env tag contribute it as a prefix for their children.
//   - `envDefault:"value"` applies when the field is still zero.
//   - `envFile:"true"` additionally accepts NAME_FILE, the path of a file
//     whose trimmed contents become the value. This is how PEM keys and
//     shared secrets are read from mounted Kubernetes secrets. NAME itself
//     wins when both are set.
//   - `required:"true"` fails Load when the field is zero after loading.
//
// # Usage
//
//	type ServiceConfig struct {
//	    Addr string      `env:"ADDR" envDefault:":8000" yaml:"addr"`
//	    Keys keys.Config `env:"JWT" yaml:"jwt"`
//	}
//
//	cfg := config.MustLoad[ServiceConfig](
//	    config.New().WithEnvPrefix("AVA").WithFile("/etc/ava/auth.yaml").WithDotEnv(".env"),
//	)
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"reflect"
	"strings"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	sserr "github.com/ava-platform/ava-core/pkg/errors"
)

// Loader resolves configuration into a struct. It is not safe for
// concurrent use.
type Loader struct {
	envPrefix  string
	filePath   string
	dotEnvPath string
	lookupEnv  func(string) (string, bool)
	readFile   func(string) ([]byte, error)
}

// New returns a Loader that reads unprefixed environment variables and no
// file.
func New() *Loader {
	return &Loader{
		lookupEnv: os.LookupEnv,
		readFile:  os.ReadFile,
	}
}

// WithEnvPrefix sets a prefix joined with "_" to every variable name. The
// prefix is uppercased.
func (l *Loader) WithEnvPrefix(prefix string) *Loader {
	l.envPrefix = strings.ToUpper(prefix)
	return l
}

// WithFile sets a YAML (.yaml, .yml) or JSON (.json) file to load. A missing
// file is not an error.
func (l *Loader) WithFile(path string) *Loader {
	l.filePath = path
	return l
}

// WithDotEnv sets a dotenv file (KEY=value lines) whose variables apply
// where the process environment does not set them. A missing file is not
// an error.
func (l *Loader) WithDotEnv(path string) *Loader {
	l.dotEnvPath = path
	return l
}

// Load populates cfg, which must be a non-nil pointer to a struct, and then
// validates it. Loading failures carry CodeInternalConfiguration; missing
// required fields carry CodeValidationRequired.
func (l *Loader) Load(cfg any) error {
	rv := reflect.ValueOf(cfg)
	if rv.Kind() != reflect.Pointer || rv.IsNil() {
		return sserr.New(sserr.CodeInternalConfiguration,
			"config: Load requires a non-nil pointer to a struct")
	}
	rv = rv.Elem()
	if rv.Kind() != reflect.Struct {
		return sserr.New(sserr.CodeInternalConfiguration,
			"config: Load requires a pointer to a struct")
	}

	if err := walk(rv, "", l.applyDefault); err != nil {
		return err
	}
	if l.filePath != "" {
		if err := l.loadFile(cfg); err != nil {
			return err
		}
	}
	if l.dotEnvPath != "" {
		if err := l.loadDotEnv(); err != nil {
			return err
		}
	}
	if err := walk(rv, l.envPrefix, l.applyEnv); err != nil {
		return err
	}
	return validate(cfg, rv)
}

// MustLoad loads a T or panics. Intended for main.
func MustLoad[T any](loader *Loader) T {
	var cfg T
	if err := loader.Load(&cfg); err != nil {
		panic(fmt.Sprintf("config: MustLoad failed: %v", err))
	}
	return cfg
}

// loadDotEnv layers the dotenv variables under the current lookup.
func (l *Loader) loadDotEnv() error {
	if _, err := os.Stat(l.dotEnvPath); os.IsNotExist(err) {
		return nil
	}
	vars, err := godotenv.Read(l.dotEnvPath)
	if err != nil {
		return sserr.Wrapf(err, sserr.CodeInternalConfiguration,
			"config: failed to read dotenv file %q", l.dotEnvPath)
	}
	lookup := l.lookupEnv
	l.lookupEnv = func(key string) (string, bool) {
		if v, ok := lookup(key); ok {
			return v, true
		}
		v, ok := vars[key]
		return v, ok
	}
	return nil
}

func (l *Loader) loadFile(cfg any) error {
	if strings.Contains(l.filePath, "..") {
		return sserr.New(sserr.CodeInternalConfiguration,
			"config: file path must not contain directory traversal (..) sequences")
	}

	data, err := l.readFile(l.filePath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return sserr.Wrapf(err, sserr.CodeInternalConfiguration,
			"config: failed to read file %q", l.filePath)
	}

	switch ext := strings.ToLower(filepath.Ext(l.filePath)); ext {
	case ".yaml", ".yml":
		err = yaml.Unmarshal(data, cfg)
	case ".json":
		err = json.Unmarshal(data, cfg)
	default:
		return sserr.Newf(sserr.CodeInternalConfiguration,
			"config: unsupported file extension %q (use .yaml, .yml, or .json)", ext)
	}
	if err != nil {
		return sserr.Wrapf(err, sserr.CodeInternalConfiguration,
			"config: failed to parse file %q", l.filePath)
	}
	return nil
}

func (l *Loader) applyDefault(field reflect.Value, sf reflect.StructField, _ string) error {
	def, ok := sf.Tag.Lookup("envDefault")
	if !ok || !field.IsZero() {
		return nil
	}
	if err := setField(field, def); err != nil {
		return sserr.Wrapf(err, sserr.CodeInternalConfiguration,
			"config: failed to apply default for field %q", sf.Name)
	}
	return nil
}

func (l *Loader) applyEnv(field reflect.Value, sf reflect.StructField, envKey string) error {
	if envKey == "" {
		return nil
	}

	val, ok := l.lookupEnv(envKey)
	source := envKey
	if !ok && sf.Tag.Get("envFile") == "true" {
		path, hasPath := l.lookupEnv(envKey + "_FILE")
		if !hasPath || path == "" {
			return nil
		}
		data, err := l.readFile(path)
		if err != nil {
			return sserr.Wrapf(err, sserr.CodeInternalConfiguration,
				"config: failed to read %s_FILE", envKey)
		}
		val, ok, source = strings.TrimSpace(string(data)), true, envKey+"_FILE"
	}
	if !ok {
		return nil
	}

	if err := setField(field, val); err != nil {
		return sserr.Wrapf(err, sserr.CodeInternalConfiguration,
			"config: failed to set field %q from %s", sf.Name, source)
	}
	return nil
}
