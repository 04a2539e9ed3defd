package methods

import (
	"encoding/json"
	"strings"

	"github.com/sirupsen/logrus"

	"github.com/Kampouse/kvindexer/internal/db"
)

// treeResponse nests slash-separated keys into one JSON object instead of
// the flat paginated list.
type treeResponse struct {
	Tree    map[string]any `json:"tree"`
	HasMore bool           `json:"has_more,omitempty"`
}

// buildTree folds entries into a nested object, splitting keys on '/'.
// Values parse as JSON where possible and fall back to the raw string.
// A later key cannot nest under an earlier scalar leaf; such entries are
// logged and skipped rather than clobbering the leaf.
func buildTree(logger *logrus.Entry, entries []db.Entry) map[string]any {
	root := make(map[string]any)
	for _, e := range entries {
		var value any
		if err := json.Unmarshal([]byte(e.Value), &value); err != nil {
			value = e.Value
		}
		insertNested(logger, root, strings.Split(e.Key, "/"), value)
	}
	return root
}

func insertNested(logger *logrus.Entry, obj map[string]any, parts []string, value any) {
	if len(parts) == 0 {
		return
	}
	if len(parts) == 1 {
		obj[parts[0]] = value
		return
	}
	child, ok := obj[parts[0]]
	if !ok {
		child = make(map[string]any)
		obj[parts[0]] = child
	}
	nested, ok := child.(map[string]any)
	if !ok {
		logger.WithField("key", parts[0]).Warn("tree path conflict: cannot nest under a scalar value")
		return
	}
	insertNested(logger, nested, parts[1:], value)
}
