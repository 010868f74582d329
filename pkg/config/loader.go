package config

import (
	"reflect"
	"strings"

	"github.com/ajitpratap0/zerowire/pkg/ingesterrors"
	"github.com/spf13/viper"
)

// EnvPrefix prefixes every environment override. The dot in keys becomes an
// underscore: "debug.output_dir" is read from ZEROWIRE_DEBUG_OUTPUT_DIR.
const EnvPrefix = "ZEROWIRE"

// Load reads configuration with environment > config file > defaults
// precedence and validates it. An empty path skips the file.
//
//	# zerowire.yaml
//	table: main.default.events
//	endpoint: ingest.example.com:443
//	debug:
//	  encoded_enabled: true
//	  encoded_max_files: 20
//
// Secrets are best left to the environment, e.g.
// ZEROWIRE_SECURITY_CLIENT_SECRET.
func Load(path string) (*Config, error) {
	return LoadWithOverrides(path, nil)
}

// LoadWithOverrides is Load with explicit values, keyed like the config
// file ("debug.output_dir"), taking precedence over every other source.
func LoadWithOverrides(path string, overrides map[string]any) (*Config, error) {
	cfg := DefaultConfig("")

	v := viper.New()
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	bindEnvs(v, cfg)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, ingesterrors.Wrap(err, ingesterrors.ErrorTypeConfig, "failed to read config file").
				WithDetail("path", path)
		}
	}

	for key, val := range overrides {
		v.Set(key, val)
	}

	if err := v.Unmarshal(cfg); err != nil {
		return nil, ingesterrors.Wrap(err, ingesterrors.ErrorTypeConfig, "failed to decode configuration")
	}
	// Comma separated lists arrive from the environment as one string.
	if len(cfg.Security.Scopes) == 1 && strings.Contains(cfg.Security.Scopes[0], ",") {
		cfg.Security.Scopes = strings.Split(cfg.Security.Scopes[0], ",")
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// bindEnvs registers every key of cfg so viper consults the environment
// for keys absent from the config file.
func bindEnvs(v *viper.Viper, cfg any, parts ...string) {
	val := reflect.ValueOf(cfg)
	typ := reflect.TypeOf(cfg)
	if typ.Kind() == reflect.Ptr {
		val = val.Elem()
		typ = typ.Elem()
	}
	for i := 0; i < typ.NumField(); i++ {
		f := typ.Field(i)
		tag := f.Tag.Get("mapstructure")
		if tag == "" || tag == "-" {
			continue
		}
		key := append(append([]string{}, parts...), tag)
		if f.Type.Kind() == reflect.Struct {
			bindEnvs(v, val.Field(i).Interface(), key...)
			continue
		}
		_ = v.BindEnv(strings.Join(key, "."))
	}
}
