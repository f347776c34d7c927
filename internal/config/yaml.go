package config

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"strings"
	"time"

	yaml "go.yaml.in/yaml/v3"
)

func isYAML(path string) bool {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return true
	}
	return false
}

// yamlToJSON re-encodes a single YAML document as JSON so both file formats
// go through the same strict JSON decoder. An empty document becomes {}.
func yamlToJSON(data []byte) ([]byte, error) {
	dec := yaml.NewDecoder(bytes.NewReader(data))
	var doc any
	if err := dec.Decode(&doc); err != nil {
		if errors.Is(err, io.EOF) {
			return []byte("{}"), nil
		}
		return nil, fmt.Errorf("yaml: %w", err)
	}
	var extra any
	if err := dec.Decode(&extra); !errors.Is(err, io.EOF) {
		return nil, errors.New("yaml: multiple documents are not supported")
	}
	if doc == nil {
		return []byte("{}"), nil
	}
	out, err := jsonValue(doc)
	if err != nil {
		return nil, err
	}
	return json.Marshal(out)
}

// jsonValue rewrites YAML-only shapes: non-string map keys and timestamps.
func jsonValue(in any) (any, error) {
	switch x := in.(type) {
	case map[string]any:
		for k, v := range x {
			nv, err := jsonValue(v)
			if err != nil {
				return nil, err
			}
			x[k] = nv
		}
		return x, nil
	case map[any]any:
		m := make(map[string]any, len(x))
		for k, v := range x {
			nv, err := jsonValue(v)
			if err != nil {
				return nil, err
			}
			m[fmt.Sprint(k)] = nv
		}
		return m, nil
	case []any:
		for i, v := range x {
			nv, err := jsonValue(v)
			if err != nil {
				return nil, err
			}
			x[i] = nv
		}
		return x, nil
	case time.Time:
		return x.Format(time.RFC3339Nano), nil
	default:
		return in, nil
	}
}
