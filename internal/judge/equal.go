package judge

import (
	"encoding/json"
	"reflect"
	"strings"
)

// OutputsEqual compares an expected example output with the actual program output. Both sides
// are compared as parsed JSON values when both parse; otherwise as whitespace-trimmed strings.
func OutputsEqual(expected, actual string) bool {
	expected = strings.TrimSpace(expected)
	actual = strings.TrimSpace(actual)

	var ev, av any
	if json.Unmarshal([]byte(expected), &ev) == nil && json.Unmarshal([]byte(actual), &av) == nil {
		return reflect.DeepEqual(ev, av)
	}
	return expected == actual
}
