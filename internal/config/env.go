package config

import (
	"fmt"
	"os"
	"reflect"
	"strconv"
	"strings"
	"time"
)

var durationType = reflect.TypeOf(time.Duration(0))

// EnvLoader overrides configuration fields from environment variables. The
// variable name is the prefix followed by the yaml path in upper case, so
// storage.database.dsn becomes CURVEDEX_STORAGE_DATABASE_DSN.
type EnvLoader struct {
	prefix  string
	environ func() []string
}

// NewEnvLoader creates a new environment loader
func NewEnvLoader(prefix string) *EnvLoader {
	return &EnvLoader{
		prefix:  prefix,
		environ: os.Environ,
	}
}

// Load applies every matching variable to config.
func (el *EnvLoader) Load(config *Config) error {
	env := make(map[string]string)
	for _, kv := range el.environ() {
		if k, v, ok := strings.Cut(kv, "="); ok {
			env[k] = v
		}
	}
	return el.loadStruct(reflect.ValueOf(config).Elem(), el.prefix, env)
}

func (el *EnvLoader) loadStruct(v reflect.Value, prefix string, env map[string]string) error {
	t := v.Type()

	for i := 0; i < v.NumField(); i++ {
		field := v.Field(i)
		fieldType := t.Field(i)

		if !field.CanSet() {
			continue
		}

		name, inline := yamlName(fieldType)
		if name == "-" {
			continue
		}
		envName := prefix
		if !inline {
			envName = buildEnvName(prefix, name)
		}

		var err error
		switch {
		case field.Type() == durationType:
			err = el.loadField(field, envName, env)
		case field.Kind() == reflect.Struct:
			err = el.loadStruct(field, envName, env)
		case field.Kind() == reflect.Ptr && field.Type().Elem().Kind() == reflect.Struct:
			if !field.IsNil() {
				err = el.loadStruct(field.Elem(), envName, env)
			}
		case field.Kind() == reflect.Slice:
			err = el.loadSlice(field, envName, env)
		case field.Kind() == reflect.Map:
			err = el.loadMap(field, envName, env)
		default:
			err = el.loadField(field, envName, env)
		}
		if err != nil {
			return err
		}
	}

	return nil
}

func (el *EnvLoader) loadField(field reflect.Value, envName string, env map[string]string) error {
	value, ok := env[envName]
	if !ok || value == "" {
		return nil
	}
	return setScalar(field, value, envName)
}

// loadSlice reads a comma separated list.
func (el *EnvLoader) loadSlice(field reflect.Value, envName string, env map[string]string) error {
	value, ok := env[envName]
	if !ok || value == "" {
		return nil
	}

	parts := strings.Split(value, ",")
	slice := reflect.MakeSlice(field.Type(), len(parts), len(parts))
	for i, part := range parts {
		if err := setScalar(slice.Index(i), strings.TrimSpace(part), envName); err != nil {
			return err
		}
	}

	field.Set(slice)
	return nil
}

// loadMap reads every PREFIX_KEY=value pair into a string keyed map, with
// the key lower-cased.
func (el *EnvLoader) loadMap(field reflect.Value, envName string, env map[string]string) error {
	if field.Type().Key().Kind() != reflect.String {
		return fmt.Errorf("only string keys are supported for maps in env vars")
	}

	prefix := envName + "_"
	for key, value := range env {
		if !strings.HasPrefix(key, prefix) {
			continue
		}
		if field.IsNil() {
			field.Set(reflect.MakeMap(field.Type()))
		}

		mapKey := strings.ToLower(strings.TrimPrefix(key, prefix))
		mapValue := reflect.New(field.Type().Elem()).Elem()

		if mapValue.Kind() == reflect.Interface {
			mapValue.Set(reflect.ValueOf(guessValue(value)))
		} else if err := setScalar(mapValue, value, key); err != nil {
			return err
		}

		field.SetMapIndex(reflect.ValueOf(mapKey), mapValue)
	}

	return nil
}

func setScalar(field reflect.Value, value, envName string) error {
	if field.Type() == durationType {
		d, err := time.ParseDuration(value)
		if err != nil {
			return fmt.Errorf("invalid duration for %s: %w", envName, err)
		}
		field.SetInt(int64(d))
		return nil
	}

	switch field.Kind() {
	case reflect.String:
		field.SetString(value)

	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		n, err := strconv.ParseInt(value, 10, 64)
		if err != nil {
			return fmt.Errorf("invalid integer for %s: %w", envName, err)
		}
		field.SetInt(n)

	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		n, err := strconv.ParseUint(value, 10, 64)
		if err != nil {
			return fmt.Errorf("invalid unsigned integer for %s: %w", envName, err)
		}
		field.SetUint(n)

	case reflect.Float32, reflect.Float64:
		f, err := strconv.ParseFloat(value, 64)
		if err != nil {
			return fmt.Errorf("invalid float for %s: %w", envName, err)
		}
		field.SetFloat(f)

	case reflect.Bool:
		b, err := strconv.ParseBool(value)
		if err != nil {
			return fmt.Errorf("invalid boolean for %s: %w", envName, err)
		}
		field.SetBool(b)

	default:
		return fmt.Errorf("unsupported field type %s for %s", field.Kind(), envName)
	}

	return nil
}

func guessValue(value string) interface{} {
	if n, err := strconv.ParseInt(value, 10, 64); err == nil {
		return n
	}
	if f, err := strconv.ParseFloat(value, 64); err == nil {
		return f
	}
	if b, err := strconv.ParseBool(value); err == nil {
		return b
	}
	return value
}

// yamlName returns the yaml key of a field and whether it is inlined.
func yamlName(f reflect.StructField) (string, bool) {
	tag := f.Tag.Get("yaml")
	name, opts, _ := strings.Cut(tag, ",")
	if strings.Contains(opts, "inline") {
		return "", true
	}
	if name == "" {
		name = f.Name
	}
	return name, false
}

func buildEnvName(prefix, fieldName string) string {
	envName := strings.ToUpper(fieldName)
	envName = strings.ReplaceAll(envName, "-", "_")
	envName = strings.ReplaceAll(envName, ".", "_")

	if prefix != "" {
		return prefix + "_" + envName
	}
	return envName
}
