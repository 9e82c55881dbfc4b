package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"reflect"
	"strconv"
	"strings"
	"time"
	"unicode"

	"github.com/pelletier/go-toml/v2"
	"github.com/smazurov/edgerelay/internal/logging"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
)

// EnvPrefix prefixes every env tag.
const EnvPrefix = "EDGERELAY_"

var durationType = reflect.TypeOf(time.Duration(0))

// binding ties one options field to its sources.
type binding struct {
	field   reflect.Value
	tomlKey string
	envKey  string
}

// LoadConfig fills opts, a pointer to an options struct, from the file named
// by its Config field and then from EDGERELAY_* variables. Fields whose flag
// was set on cmd are left alone, so the order is
// defaults < file < env < flags. cmd may be nil.
//
// Fields opt in with `toml:"section.key"` and `env:"KEY"` tags. Values that
// do not parse for the field's type are skipped.
func LoadConfig(opts any, cmd *cobra.Command) error {
	v := reflect.ValueOf(opts).Elem()
	bindings, configPath := bind(v, changedFlags(cmd))

	file, err := readTOML(configPath)
	if err != nil {
		return err
	}
	for _, b := range bindings {
		if b.tomlKey == "" {
			continue
		}
		if value := getNestedValue(file, b.tomlKey); value != nil {
			assign(b.field, value)
		}
	}

	for _, b := range bindings {
		if b.envKey == "" {
			continue
		}
		if value := os.Getenv(EnvPrefix + b.envKey); value != "" {
			assign(b.field, value)
		}
	}
	return nil
}

func changedFlags(cmd *cobra.Command) map[string]bool {
	changed := make(map[string]bool)
	if cmd == nil {
		return changed
	}
	cmd.Flags().VisitAll(func(f *pflag.Flag) {
		if f.Changed {
			changed[f.Name] = true
		}
	})
	return changed
}

// bind lists the tagged fields not overridden by a flag, and returns the
// Config field's value as the file path.
func bind(v reflect.Value, skip map[string]bool) ([]binding, string) {
	t := v.Type()
	var (
		bindings   []binding
		configPath string
	)
	for i := range t.NumField() {
		sf := t.Field(i)
		if sf.Name == "Config" && sf.Type.Kind() == reflect.String {
			configPath = v.Field(i).String()
			continue
		}
		if skip[fieldNameToFlag(sf.Name)] {
			continue
		}
		b := binding{field: v.Field(i), tomlKey: sf.Tag.Get("toml"), envKey: sf.Tag.Get("env")}
		if b.tomlKey != "" || b.envKey != "" {
			bindings = append(bindings, b)
		}
	}
	return bindings, configPath
}

// readTOML returns the decoded file, or nil when path is empty or missing.
func readTOML(path string) (map[string]any, error) {
	if path == "" {
		return nil, nil
	}
	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read config %s: %w", path, err)
	}
	var out map[string]any
	if err := toml.Unmarshal(data, &out); err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}
	return out, nil
}

// fieldNameToFlag converts a struct field name to a CLI flag name.
// Example: "LoggingLevel" -> "logging-level", "UploadURL" -> "upload-url".
func fieldNameToFlag(fieldName string) string {
	runes := []rune(fieldName)
	var b strings.Builder
	for i, r := range runes {
		if i > 0 && unicode.IsUpper(r) {
			afterLower := !unicode.IsUpper(runes[i-1])
			beforeLower := i+1 < len(runes) && unicode.IsLower(runes[i+1])
			if afterLower || beforeLower {
				b.WriteByte('-')
			}
		}
		b.WriteRune(unicode.ToLower(r))
	}
	return b.String()
}

// getNestedValue looks up a dotted key such as "upload.url".
func getNestedValue(data map[string]any, path string) any {
	var current any = data
	for _, part := range strings.Split(path, ".") {
		table, ok := current.(map[string]any)
		if !ok {
			return nil
		}
		current = table[part]
	}
	return current
}

// assign stores a TOML value or an env string into field. Strings are parsed
// for non-string fields; env lists are comma separated.
func assign(field reflect.Value, value any) {
	if !field.CanSet() {
		return
	}
	if s, ok := value.(string); ok && field.Kind() != reflect.String {
		assignString(field, s)
		return
	}

	switch field.Kind() {
	case reflect.String:
		if s, ok := value.(string); ok {
			field.SetString(s)
		}
	case reflect.Bool:
		if b, ok := value.(bool); ok {
			field.SetBool(b)
		}
	case reflect.Int, reflect.Int64:
		if field.Type() == durationType {
			return
		}
		if i, ok := value.(int64); ok {
			field.SetInt(i)
		}
	case reflect.Float64:
		switch f := value.(type) {
		case float64:
			field.SetFloat(f)
		case int64:
			field.SetFloat(float64(f))
		}
	case reflect.Slice:
		items, ok := value.([]any)
		if !ok || field.Type().Elem().Kind() != reflect.String {
			return
		}
		out := make([]string, 0, len(items))
		for _, item := range items {
			if s, ok := item.(string); ok {
				out = append(out, s)
			}
		}
		field.Set(reflect.ValueOf(out))
	}
}

func assignString(field reflect.Value, s string) {
	switch {
	case field.Type() == durationType:
		if d, err := time.ParseDuration(s); err == nil {
			field.SetInt(int64(d))
		}
	case field.Kind() == reflect.Bool:
		if b, err := strconv.ParseBool(s); err == nil {
			field.SetBool(b)
		}
	case field.Kind() == reflect.Int, field.Kind() == reflect.Int64:
		if i, err := strconv.ParseInt(s, 10, 64); err == nil {
			field.SetInt(i)
		}
	case field.Kind() == reflect.Float64:
		if f, err := strconv.ParseFloat(s, 64); err == nil {
			field.SetFloat(f)
		}
	case field.Kind() == reflect.Slice && field.Type().Elem().Kind() == reflect.String:
		parts := strings.Split(s, ",")
		for i := range parts {
			parts[i] = strings.TrimSpace(parts[i])
		}
		field.Set(reflect.ValueOf(parts))
	}
}

// LoadLoggingConfig reads the [logging] table: level, format, and a level per
// module for every other key. Any problem with the file yields the defaults,
// since logging is set up before errors can be reported.
func LoadLoggingConfig(configPath string) logging.Config {
	cfg := logging.Config{Level: "info", Format: "text", Modules: map[string]string{}}

	file, err := readTOML(configPath)
	if err != nil || file == nil {
		return cfg
	}
	table, _ := file["logging"].(map[string]any)
	for key, raw := range table {
		value, ok := raw.(string)
		if !ok {
			continue
		}
		switch key {
		case "level":
			cfg.Level = value
		case "format":
			cfg.Format = value
		default:
			cfg.Modules[key] = value
		}
	}
	return cfg
}
