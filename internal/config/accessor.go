package config

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
)

// tree renders cfg as the generic JSON document the dot-path helpers walk.
func tree(cfg *Config) (map[string]any, error) {
	data, err := json.Marshal(cfg)
	if err != nil {
		return nil, fmt.Errorf("encode config: %w", err)
	}
	var m map[string]any
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("decode config tree: %w", err)
	}
	return m, nil
}

func splitPath(path string) ([]string, error) {
	parts := strings.Split(path, ".")
	for _, p := range parts {
		if p == "" {
			return nil, fmt.Errorf("malformed path %q", path)
		}
	}
	return parts, nil
}

// GetByPath returns the value at a dot path such as "survey.reviewLink".
// Sections come back as maps.
func GetByPath(cfg *Config, path string) (any, error) {
	parts, err := splitPath(path)
	if err != nil {
		return nil, err
	}
	m, err := tree(cfg)
	if err != nil {
		return nil, err
	}

	var node any = m
	for i, key := range parts {
		section, ok := node.(map[string]any)
		if !ok {
			return nil, fmt.Errorf("%s is a value, not a section", strings.Join(parts[:i], "."))
		}
		if node, ok = section[key]; !ok {
			return nil, fmt.Errorf("key not found: %s", path)
		}
	}
	return node, nil
}

// SetByPath parses raw as the type of the setting at path and stores it in
// cfg. Unknown settings are rejected and cfg is left untouched on error.
func SetByPath(cfg *Config, path, raw string) error {
	parts, err := splitPath(path)
	if err != nil {
		return err
	}
	m, err := tree(cfg)
	if err != nil {
		return err
	}

	section := m
	for i, key := range parts[:len(parts)-1] {
		child, ok := section[key].(map[string]any)
		if !ok {
			return fmt.Errorf("unknown section %s", strings.Join(parts[:i+1], "."))
		}
		section = child
	}

	leaf := parts[len(parts)-1]
	current, exists := section[leaf]
	if _, isSection := current.(map[string]any); isSection {
		return fmt.Errorf("%s is a section; set one of its keys", path)
	}
	// Empty optional strings are omitted from the tree, so a missing leaf is
	// taken as a string and the strict decode below catches typos.
	v, err := coerce(current, exists, raw)
	if err != nil {
		return fmt.Errorf("%s: %w", path, err)
	}
	section[leaf] = v

	data, err := json.Marshal(m)
	if err != nil {
		return fmt.Errorf("encode config: %w", err)
	}
	var next Config
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&next); err != nil {
		return fmt.Errorf("set %s: %w", path, err)
	}
	*cfg = next
	return nil
}

// coerce converts raw to the JSON kind of the current value.
func coerce(current any, exists bool, raw string) (any, error) {
	if !exists {
		return raw, nil
	}
	switch current.(type) {
	case bool:
		b, err := strconv.ParseBool(raw)
		if err != nil {
			return nil, fmt.Errorf("want true or false, got %q", raw)
		}
		return b, nil
	case float64:
		n, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("want a whole number, got %q", raw)
		}
		return n, nil
	default:
		return raw, nil
	}
}

// Sanitize returns a copy of cfg with channel credentials masked.
func Sanitize(cfg *Config) *Config {
	masked := *cfg
	for _, secret := range []*string{
		&masked.Channels.WhatsApp.AccessToken,
		&masked.Channels.WhatsApp.AppSecret,
		&masked.Channels.WhatsApp.VerifyToken,
		&masked.Channels.Telegram.Token,
		&masked.Channels.Discord.Token,
		&masked.Channels.Slack.BotToken,
		&masked.Channels.Slack.AppToken,
	} {
		if *secret != "" {
			*secret = maskString(*secret)
		}
	}
	return &masked
}

// maskString keeps four characters at each end of long secrets.
func maskString(s string) string {
	if len(s) <= 8 {
		return "***"
	}
	return s[:4] + "****" + s[len(s)-4:]
}

// ListPaths flattens cfg into leaf paths for "config list".
func ListPaths(cfg *Config) map[string]any {
	m, err := tree(cfg)
	if err != nil {
		return nil
	}
	out := make(map[string]any)
	var walk func(prefix string, node map[string]any)
	walk = func(prefix string, node map[string]any) {
		for k, v := range node {
			if prefix != "" {
				k = prefix + "." + k
			}
			if child, ok := v.(map[string]any); ok {
				walk(k, child)
				continue
			}
			out[k] = v
		}
	}
	walk("", m)
	return out
}
