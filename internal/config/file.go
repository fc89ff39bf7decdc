package config

import (
	"fmt"
	"strings"

	"github.com/spf13/viper"
)

// FileLookup reads a YAML, TOML, or JSON file whose flat keys are the
// environment names without the BQBRIDGE_ prefix, lowercased
// (bigquery_project_id). List values may be written as arrays.
func FileLookup(path string) (LookupFunc, error) {
	v := viper.New()
	v.SetConfigFile(path)
	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("read config file %q: %w", path, err)
	}

	return func(key string) (string, bool) {
		if !strings.HasPrefix(key, envPrefix) {
			return "", false
		}
		name := strings.ToLower(strings.TrimPrefix(key, envPrefix))
		if !v.IsSet(name) {
			return "", false
		}
		switch value := v.Get(name).(type) {
		case []any:
			items := make([]string, 0, len(value))
			for _, item := range value {
				items = append(items, fmt.Sprint(item))
			}
			return strings.Join(items, ","), true
		default:
			return v.GetString(name), true
		}
	}, nil
}
