package formatter

import (
	"bytes"
	"encoding/json"
)

const standardIndentation = "    "

// ToStandardJSON renders v as indented JSON without HTML escaping, so tensor
// names and pieces such as "<bos>" print as they are.
func ToStandardJSON(v any) (string, error) {
	buffer := &bytes.Buffer{}
	encoder := json.NewEncoder(buffer)
	encoder.SetEscapeHTML(false)
	encoder.SetIndent("", standardIndentation)
	err := encoder.Encode(v)
	return buffer.String(), err
}
