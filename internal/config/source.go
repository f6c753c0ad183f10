package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"unicode"

	"gopkg.in/yaml.v3"
)

// source resolves keys from the environment first and then from the
// flattened YAML config file.
type source struct {
	lookupEnv func(string) (string, bool)
	values    map[string]string
	phase     string
	path      string
	loaded    bool
}

type ConfigSource struct {
	Phase  string
	Path   string
	Loaded bool
}

var (
	runtimeSourceOnce sync.Once
	runtimeSourceErr  error
	runtimeSourceVal  *source
)

func runtimeSource() (*source, error) {
	runtimeSourceOnce.Do(func() {
		runtimeSourceVal, runtimeSourceErr = loadSource(os.LookupEnv)
	})
	return runtimeSourceVal, runtimeSourceErr
}

func CurrentConfigSource() (ConfigSource, error) {
	src, err := runtimeSource()
	if err != nil {
		return ConfigSource{}, err
	}
	return ConfigSource{
		Phase:  src.phase,
		Path:   src.path,
		Loaded: src.loaded,
	}, nil
}

// loadSource reads CONFIG_FILE, or config/config-<CONFIG_PHASE>.yaml when it
// exists. An explicit CONFIG_FILE must exist.
func loadSource(lookupEnv func(string) (string, bool)) (*source, error) {
	src := &source{
		lookupEnv: lookupEnv,
		values:    make(map[string]string),
	}
	getenv := func(key string) string {
		value, _ := lookupEnv(key)
		return value
	}

	phase := strings.TrimSpace(getenv("CONFIG_PHASE"))
	if phase == "" {
		phase = "local"
	}
	src.phase = phase

	configPath := strings.TrimSpace(getenv("CONFIG_FILE"))
	explicitPath := configPath != ""
	if configPath == "" {
		configPath = filepath.Join("config", "config-"+phase+".yaml")
	}

	body, err := os.ReadFile(configPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) && !explicitPath {
			return src, nil
		}
		return nil, fmt.Errorf("read config file %q: %w", configPath, err)
	}

	raw := make(map[string]any)
	if err := yaml.Unmarshal(body, &raw); err != nil {
		return nil, fmt.Errorf("parse config file %q: %w", configPath, err)
	}

	flattened := make(map[string]string)
	for key, value := range raw {
		segment := normalizeKeySegment(key)
		if segment == "" {
			continue
		}
		if err := flattenConfigValue(segment, value, flattened); err != nil {
			return nil, fmt.Errorf("flatten config file %q: %w", configPath, err)
		}
	}

	src.values = flattened
	src.loaded = true
	if absPath, err := filepath.Abs(configPath); err == nil {
		src.path = absPath
	} else {
		src.path = configPath
	}
	return src, nil
}

func (s *source) value(key string) string {
	if value, ok := s.lookupEnv(key); ok && strings.TrimSpace(value) != "" {
		return strings.TrimSpace(value)
	}
	return strings.TrimSpace(s.values[key])
}

// lookup reports whether key is set at all, so that an explicitly empty
// value can be told apart from a missing one.
func (s *source) lookup(key string) (string, bool) {
	if value, ok := s.lookupEnv(key); ok {
		return strings.TrimSpace(value), true
	}
	value, ok := s.values[key]
	return strings.TrimSpace(value), ok
}

func (s *source) valueOr(key, fallback string) string {
	if value := s.value(key); value != "" {
		return value
	}
	return fallback
}

// flattenConfigValue turns nested YAML into upper-snake keys, so
// crank: {poll_interval: 30s} becomes CRANK_POLL_INTERVAL. Lists become
// comma separated values.
func flattenConfigValue(prefix string, value any, out map[string]string) error {
	switch typed := value.(type) {
	case map[string]any:
		for key, child := range typed {
			segment := normalizeKeySegment(key)
			if segment == "" {
				continue
			}
			if err := flattenConfigValue(prefix+"_"+segment, child, out); err != nil {
				return err
			}
		}
		return nil
	case []any:
		parts := make([]string, 0, len(typed))
		for _, item := range typed {
			switch scalar := item.(type) {
			case string:
				if trimmed := strings.TrimSpace(scalar); trimmed != "" {
					parts = append(parts, trimmed)
				}
			case bool, int, int64, uint64, float64:
				parts = append(parts, fmt.Sprint(scalar))
			default:
				return fmt.Errorf("unsupported list item type %T under %q", item, prefix)
			}
		}
		out[prefix] = strings.Join(parts, ",")
		return nil
	case nil:
		return nil
	default:
		out[prefix] = fmt.Sprint(typed)
		return nil
	}
}

func normalizeKeySegment(raw string) string {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return ""
	}

	var b strings.Builder
	b.Grow(len(raw))
	lastUnderscore := false

	for _, r := range raw {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			b.WriteRune(unicode.ToUpper(r))
			lastUnderscore = false
			continue
		}
		if !lastUnderscore && b.Len() > 0 {
			b.WriteByte('_')
			lastUnderscore = true
		}
	}

	return strings.Trim(b.String(), "_")
}
