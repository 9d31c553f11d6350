package config

import (
	"fmt"
	"reflect"
	"strings"

	"github.com/mitchellh/mapstructure"
	"github.com/spf13/viper"
)

// Load reads file into config, which must be a pointer to a struct. Values already set on
// config act as defaults, and every key can be overridden by an environment variable named
// after its path, e.g. HTTP_PORT for HTTP.Port. An empty file means defaults and env only.
func Load(file string, config any) error {
	v := viper.New()

	defaults := make(map[string]any)
	if err := flatten("", config, defaults); err != nil {
		return fmt.Errorf("mapstructure: %v", err)
	}

	for k, val := range defaults {
		v.SetDefault(k, val)
	}

	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if file != "" {
		v.SetConfigFile(file)
		if err := v.ReadInConfig(); err != nil {
			return fmt.Errorf("read config from file %s: %v", file, err)
		}
	}

	if err := v.Unmarshal(config); err != nil {
		return fmt.Errorf("unmarshal config: %v", err)
	}

	return nil
}

// flatten decodes nested structs into dotted keys so viper knows every key up front,
// which is what lets AutomaticEnv find overrides for keys absent from the file.
func flatten(prefix string, in any, out map[string]any) error {
	m := make(map[string]any)
	if err := mapstructure.Decode(in, &m); err != nil {
		return err
	}

	for k, val := range m {
		key := k
		if prefix != "" {
			key = prefix + "." + k
		}

		if reflect.Indirect(reflect.ValueOf(val)).Kind() == reflect.Struct {
			if err := flatten(key, val, out); err != nil {
				return err
			}
			continue
		}

		out[key] = val
	}

	return nil
}
