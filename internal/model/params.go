package model

import (
	"bytes"
	"fmt"
	"maps"
	"os"
	"path/filepath"
	"slices"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/ewatercycle/ewatercycle-go/internal/forcing"
	"github.com/ewatercycle/ewatercycle-go/internal/isotime"
)

// ParamString returns params[key] as text, def when absent.
func ParamString(params map[string]any, key, def string) (string, error) {
	v, ok := params[key]
	if !ok || v == nil {
		return def, nil
	}
	switch x := v.(type) {
	case string:
		return x, nil
	case fmt.Stringer:
		return x.String(), nil
	case float64:
		return strconv.FormatFloat(x, 'g', -1, 64), nil
	case int:
		return strconv.Itoa(x), nil
	default:
		return "", fmt.Errorf("parameter %s: unsupported value %v of type %T", key, v, v)
	}
}

// ParamFloat returns params[key] as a number. Text is parsed.
func ParamFloat(params map[string]any, key string, def float64) (float64, error) {
	v, ok := params[key]
	if !ok || v == nil {
		return def, nil
	}
	switch x := v.(type) {
	case float64:
		return x, nil
	case float32:
		return float64(x), nil
	case int:
		return float64(x), nil
	case int64:
		return float64(x), nil
	case string:
		f, err := strconv.ParseFloat(x, 64)
		if err != nil {
			return 0, fmt.Errorf("parameter %s: %w", key, err)
		}
		return f, nil
	default:
		return 0, fmt.Errorf("parameter %s: unsupported value %v of type %T", key, v, v)
	}
}

// ParamInt returns params[key] as an integer. Text is parsed.
func ParamInt(params map[string]any, key string, def int) (int, error) {
	v, ok := params[key]
	if !ok || v == nil {
		return def, nil
	}
	switch x := v.(type) {
	case int:
		return x, nil
	case int64:
		return int(x), nil
	case float64:
		if x != float64(int(x)) {
			return 0, fmt.Errorf("parameter %s: %v is not a whole number", key, x)
		}
		return int(x), nil
	case string:
		n, err := strconv.Atoi(x)
		if err != nil {
			return 0, fmt.Errorf("parameter %s: %w", key, err)
		}
		return n, nil
	default:
		return 0, fmt.Errorf("parameter %s: unsupported value %v of type %T", key, v, v)
	}
}

// ParamTime returns params[key] as a UTC time. Text must be ISO 8601 UTC.
func ParamTime(params map[string]any, key string, def time.Time) (time.Time, error) {
	v, ok := params[key]
	if !ok || v == nil {
		return def, nil
	}
	switch x := v.(type) {
	case time.Time:
		if x.Location() != time.UTC {
			return time.Time{}, fmt.Errorf("parameter %s: %w", key, isotime.ErrNotUTC)
		}
		return x, nil
	case string:
		t, err := isotime.Parse(x)
		if err != nil {
			return time.Time{}, fmt.Errorf("parameter %s: %w", key, err)
		}
		return t, nil
	default:
		return time.Time{}, fmt.Errorf("parameter %s: unsupported value %v of type %T", key, v, v)
	}
}

// CheckPeriod fails with ErrOutsideForcingRange when start or end lies
// outside the forcing period.
func CheckPeriod(f forcing.Forcing, start, end time.Time) error {
	if f == nil {
		return nil
	}
	b := f.Common()
	if !b.Contains(start) || !b.Contains(end) {
		return fmt.Errorf("%w: %s - %s is not within %s - %s", ErrOutsideForcingRange,
			isotime.String(start), isotime.String(end), isotime.String(b.StartTime), isotime.String(b.EndTime))
	}
	if start.After(end) {
		return fmt.Errorf("%w: start_time %s is after end_time %s", ErrOutsideForcingRange, isotime.String(start), isotime.String(end))
	}
	return nil
}

// ConfigFileName is the file WriteYAMLConfig writes.
const ConfigFileName = "config.yaml"

// WriteYAMLConfig writes the parameters, overridden by params, as a YAML
// mapping to dir/config.yaml. Parameter order is kept, extra keys follow
// sorted.
func WriteYAMLConfig(dir string, parameters []Parameter, params map[string]any) (string, error) {
	doc := &yaml.Node{Kind: yaml.MappingNode}
	seen := map[string]bool{}
	add := func(key string, value any) error {
		var v yaml.Node
		if err := v.Encode(value); err != nil {
			return fmt.Errorf("encode %s: %w", key, err)
		}
		doc.Content = append(doc.Content, &yaml.Node{Kind: yaml.ScalarNode, Value: key}, &v)
		return nil
	}
	for _, p := range parameters {
		value := p.Value
		if v, ok := params[p.Name]; ok {
			value = v
		}
		seen[p.Name] = true
		if err := add(p.Name, value); err != nil {
			return "", err
		}
	}
	for _, key := range slices.Sorted(maps.Keys(params)) {
		if seen[key] {
			continue
		}
		if err := add(key, params[key]); err != nil {
			return "", err
		}
	}

	var buf bytes.Buffer
	enc := yaml.NewEncoder(&buf)
	enc.SetIndent(2)
	if err := enc.Encode(doc); err != nil {
		return "", fmt.Errorf("encode config: %w", err)
	}
	if err := enc.Close(); err != nil {
		return "", fmt.Errorf("encode config: %w", err)
	}
	path := filepath.Join(dir, ConfigFileName)
	if err := os.WriteFile(path, buf.Bytes(), 0o644); err != nil {
		return "", fmt.Errorf("write config: %w", err)
	}
	return path, nil
}
