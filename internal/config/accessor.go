package config

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// tree renders cfg as nested maps keyed by the json field names, which are
// the dotted paths the config subcommands accept.
func tree(cfg *Config) (map[string]any, error) {
	data, err := json.Marshal(cfg)
	if err != nil {
		return nil, err
	}
	var root map[string]any
	if err := json.Unmarshal(data, &root); err != nil {
		return nil, err
	}
	return root, nil
}

func walk(node any, keys []string) (any, error) {
	for i, key := range keys {
		section, ok := node.(map[string]any)
		if !ok {
			return nil, fmt.Errorf("%s is not a section", strings.Join(keys[:i], "."))
		}
		if node, ok = section[key]; !ok {
			return nil, fmt.Errorf("key not found: %s", strings.Join(keys[:i+1], "."))
		}
	}
	return node, nil
}

// GetByPath returns the value at a dotted path such as "model.endpoint".
func GetByPath(cfg *Config, path string) (any, error) {
	root, err := tree(cfg)
	if err != nil {
		return nil, err
	}
	return walk(root, strings.Split(path, "."))
}

// SetByPath parses raw according to the current type of the target field and
// stores it. List fields take comma-separated values. cfg is left untouched
// when the path is unknown or the value does not fit.
func SetByPath(cfg *Config, path, raw string) error {
	keys := strings.Split(path, ".")
	root, err := tree(cfg)
	if err != nil {
		return err
	}
	node, err := walk(root, keys[:len(keys)-1])
	if err != nil {
		return err
	}
	parent, ok := node.(map[string]any)
	if !ok {
		return fmt.Errorf("%s is not a section", strings.Join(keys[:len(keys)-1], "."))
	}
	leaf := keys[len(keys)-1]

	var candidates []any
	if current, present := parent[leaf]; present {
		v, err := coerce(current, raw)
		if err != nil {
			return fmt.Errorf("set %s: %w", path, err)
		}
		candidates = []any{v}
	} else {
		// Empty optional fields are omitted from the tree, so their type
		// is unknown here. Try a parsed scalar, the raw text, then a list.
		candidates = []any{parseScalar(raw), raw, splitList(raw)}
	}

	var lastErr error
	for _, v := range candidates {
		parent[leaf] = v
		next, err := decodeStrict(root)
		if err == nil {
			*cfg = *next
			return nil
		}
		lastErr = err
	}
	return fmt.Errorf("set %s: %w", path, lastErr)
}

func decodeStrict(root map[string]any) (*Config, error) {
	data, err := json.Marshal(root)
	if err != nil {
		return nil, err
	}
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()
	var next Config
	if err := dec.Decode(&next); err != nil {
		return nil, err
	}
	return &next, nil
}

func coerce(current any, raw string) (any, error) {
	switch current.(type) {
	case bool:
		return strconv.ParseBool(raw)
	case float64:
		f, err := strconv.ParseFloat(raw, 64)
		if err != nil {
			return nil, fmt.Errorf("%q is not a number", raw)
		}
		return f, nil
	case []any:
		return splitList(raw), nil
	case map[string]any:
		return nil, errors.New("cannot overwrite a whole section")
	default:
		return raw, nil
	}
}

func parseScalar(raw string) any {
	if b, err := strconv.ParseBool(raw); err == nil {
		return b
	}
	if f, err := strconv.ParseFloat(raw, 64); err == nil {
		return f
	}
	return raw
}

func splitList(raw string) []any {
	out := []any{}
	for item := range strings.SplitSeq(raw, ",") {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	return out
}

// Sanitize returns a copy of cfg with credentials masked. Webhook URLs count
// as credentials since the token is part of the path.
func Sanitize(cfg *Config) *Config {
	out := *cfg
	out.Model.APIKey = mask(out.Model.APIKey)
	n := &out.Tools.Notification
	n.SlackWebhookURL = mask(n.SlackWebhookURL)
	n.TeamsWebhookURL = mask(n.TeamsWebhookURL)
	n.SMTP.Password = mask(n.SMTP.Password)
	return &out
}

func mask(secret string) string {
	switch {
	case secret == "":
		return ""
	case len(secret) <= 8:
		return "***"
	}
	return secret[:4] + "****" + secret[len(secret)-4:]
}

// ListPaths flattens cfg into dotted path -> value pairs.
func ListPaths(cfg *Config) map[string]any {
	root, err := tree(cfg)
	if err != nil {
		return nil
	}
	out := make(map[string]any)
	var visit func(prefix string, section map[string]any)
	visit = func(prefix string, section map[string]any) {
		for key, v := range section {
			if prefix != "" {
				key = prefix + "." + key
			}
			if child, ok := v.(map[string]any); ok {
				visit(key, child)
				continue
			}
			out[key] = v
		}
	}
	visit("", root)
	return out
}
