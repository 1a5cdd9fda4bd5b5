// Package env reads typed settings from the process environment. Values
// usually come from the deployment manifest or from a .env file loaded by
// the command before any config is read.
package env

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// String returns the raw value of key, or def when key is unset. A key set to
// the empty string yields "".
func String(key string, def string) string {
	if v, ok := os.LookupEnv(key); ok {
		return v
	}
	return def
}

// typed parses key with parse. Unset and blank keys yield def, so a .env
// line like "DWH_JOB_MAX_WAIT=" keeps the built-in default.
func typed[T any](key string, def T, parse func(string) (T, error)) (T, error) {
	v, ok := os.LookupEnv(key)
	if !ok || strings.TrimSpace(v) == "" {
		return def, nil
	}
	out, err := parse(strings.TrimSpace(v))
	if err != nil {
		var zero T
		return zero, fmt.Errorf("parse %s: %w", key, err)
	}
	return out, nil
}

func Duration(key string, def time.Duration) (time.Duration, error) {
	return typed(key, def, time.ParseDuration)
}

func Bool(key string, def bool) (bool, error) {
	return typed(key, def, strconv.ParseBool)
}

func Int(key string, def int) (int, error) {
	return typed(key, def, strconv.Atoi)
}

func Float(key string, def float64) (float64, error) {
	return typed(key, def, func(s string) (float64, error) { return strconv.ParseFloat(s, 64) })
}

// List splits a comma separated value, dropping blanks. Case is preserved.
func List(key string, def []string) []string {
	v, ok := os.LookupEnv(key)
	if !ok {
		return def
	}
	var out []string
	for _, part := range strings.Split(v, ",") {
		if item := strings.TrimSpace(part); item != "" {
			out = append(out, item)
		}
	}
	if out == nil {
		out = []string{}
	}
	return out
}
