package analysis

import (
	"encoding/json"
	"strings"

	"github.com/pkg/errors"
)

// ErrIncomplete marks a reply that parsed but lacks a required section.
var ErrIncomplete = errors.New("response missing hook, core or cta")

// DecodeJSON unmarshals the first JSON object in content into target. Models
// sometimes wrap their JSON in code fences or a sentence of prose.
func DecodeJSON(content string, target interface{}) error {
	trimmed := strings.TrimSpace(content)
	if trimmed == "" {
		return errors.New("empty content")
	}

	if strings.HasPrefix(trimmed, "```") {
		trimmed = strings.TrimPrefix(trimmed, "```json")
		trimmed = strings.TrimPrefix(trimmed, "```JSON")
		trimmed = strings.TrimPrefix(trimmed, "```")
		trimmed = strings.TrimSuffix(strings.TrimSpace(trimmed), "```")
		trimmed = strings.TrimSpace(trimmed)
	}

	if err := json.Unmarshal([]byte(trimmed), target); err == nil {
		return nil
	}

	start := strings.Index(trimmed, "{")
	end := strings.LastIndex(trimmed, "}")
	if start < 0 || end <= start {
		return errors.New("no JSON object in content")
	}
	if err := json.Unmarshal([]byte(trimmed[start:end+1]), target); err != nil {
		return errors.Wrap(err, "decode JSON object")
	}
	return nil
}
