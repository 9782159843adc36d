package config

import (
	"fmt"
	"net/url"
	"reflect"
	"strings"
)

const redactedValue = "***"

// sensitiveKeys are masked even without a secrets file.
var sensitiveKeys = map[string]struct{}{
	"password":          {},
	"api_key":           {},
	"secret_access_key": {},
	"session_token":     {},
}

// String returns the configuration as indented key/value lines with
// credentials masked.
func (c *Config) String() string {
	return formatStruct(reflect.ValueOf(c.Redacted(nil)).Elem(), "")
}

// Redacted returns a copy of the configuration with credentials masked. Every
// string set in secrets (as returned by LoadWithSecrets) is masked as well.
func (c *Config) Redacted(secrets *Config) *Config {
	out := *c
	var mask reflect.Value
	if secrets != nil {
		mask = reflect.ValueOf(secrets).Elem()
	}
	redactStruct(reflect.ValueOf(&out).Elem(), mask)
	out.Redis.URL = redactURL(out.Redis.URL)
	return &out
}

func redactStruct(v, mask reflect.Value) {
	t := v.Type()
	for i := 0; i < v.NumField(); i++ {
		field := v.Field(i)
		if !field.CanSet() {
			continue
		}
		var maskField reflect.Value
		if mask.IsValid() {
			maskField = mask.Field(i)
		}
		switch field.Kind() {
		case reflect.Struct:
			redactStruct(field, maskField)
		case reflect.String:
			if field.String() == "" {
				continue
			}
			_, sensitive := sensitiveKeys[fieldKey(t.Field(i))]
			if sensitive || (maskField.IsValid() && maskField.String() != "") {
				field.SetString(redactedValue)
			}
		}
	}
}

// redactURL masks the password of a connection URL.
func redactURL(raw string) string {
	if raw == "" {
		return raw
	}
	parsed, err := url.Parse(raw)
	if err != nil || parsed.User == nil {
		return raw
	}
	if _, hasPassword := parsed.User.Password(); !hasPassword {
		return raw
	}
	// url escapes '*' in userinfo, so mask with a placeholder first.
	parsed.User = url.UserPassword(parsed.User.Username(), "redacted")
	return strings.Replace(parsed.String(), ":redacted@", ":"+redactedValue+"@", 1)
}

func fieldKey(field reflect.StructField) string {
	if tag := field.Tag.Get("mapstructure"); tag != "" && tag != "-" {
		return tag
	}
	return strings.ToLower(field.Name)
}

func formatStruct(v reflect.Value, prefix string) string {
	var sb strings.Builder
	t := v.Type()
	for i := 0; i < v.NumField(); i++ {
		value := v.Field(i)
		if !value.CanInterface() {
			continue
		}
		name := fieldKey(t.Field(i))
		switch value.Kind() {
		case reflect.Struct:
			sb.WriteString(fmt.Sprintf("%s%s:\n", prefix, name))
			sb.WriteString(formatStruct(value, prefix+"  "))
		case reflect.Slice:
			if value.Len() == 0 {
				sb.WriteString(fmt.Sprintf("%s%s: []\n", prefix, name))
				continue
			}
			sb.WriteString(fmt.Sprintf("%s%s:\n", prefix, name))
			for j := 0; j < value.Len(); j++ {
				sb.WriteString(fmt.Sprintf("%s  - %v\n", prefix, value.Index(j).Interface()))
			}
		default:
			sb.WriteString(fmt.Sprintf("%s%s: %v\n", prefix, name, value.Interface()))
		}
	}
	return sb.String()
}
