package transport

import (
	"fmt"
	"strings"

	"github.com/tidwall/gjson"
)

// Extract reads the value at path from a decoded body.
//
// Both gjson paths (data.items.0.id) and simple JSONPath ($.data.items[0].id)
// are accepted. Missing values and JSON null are reported as not found.
func Extract(doc gjson.Result, path string) (string, error) {
	if path == "" {
		return "", fmt.Errorf("empty path")
	}

	v := doc.Get(toGjsonPath(path))
	if !v.Exists() || v.Type == gjson.Null {
		return "", fmt.Errorf("path not found: %s", path)
	}
	return v.String(), nil
}

// toGjsonPath converts simple JSONPath syntax into a gjson path.
func toGjsonPath(path string) string {
	if path == "$" {
		return "@this"
	}
	path = strings.TrimPrefix(path, "$")
	if path == "" {
		return "@this"
	}
	path = strings.TrimPrefix(path, ".")

	path = strings.NewReplacer(`['`, ".", `']`, "", `["`, ".", `"]`, "").Replace(path)
	path = strings.NewReplacer("[", ".", "]", "").Replace(path)
	return strings.TrimPrefix(path, ".")
}
