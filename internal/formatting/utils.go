package formatting

import (
	"encoding/json"
	"fmt"
)

// PrettyJSON formats any value as indented JSON for human-readable display,
// falling back to fmt's %v when the value cannot be encoded.
func PrettyJSON(v interface{}) string {
	b, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Sprintf("%v", v)
	}
	return string(b)
}
