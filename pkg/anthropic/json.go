package anthropic

import (
	"encoding/json"
	"strings"

	"github.com/rotisserie/eris"
)

// ErrNoJSON is returned when a response carries no JSON object or array.
var ErrNoJSON = eris.New("anthropic: no json in response")

// Text concatenates the text blocks of a response.
func (r *MessageResponse) Text() string {
	if r == nil {
		return ""
	}
	var b strings.Builder
	for _, c := range r.Content {
		if c.Type == "" || c.Type == "text" {
			b.WriteString(c.Text)
		}
	}
	return strings.TrimSpace(b.String())
}

// DecodeJSON unmarshals the JSON payload of a response into v. Code fences
// and prose around the first object or array are ignored.
func DecodeJSON(resp *MessageResponse, v any) error {
	raw := ExtractJSON(resp.Text())
	if raw == "" {
		return ErrNoJSON
	}
	if err := json.Unmarshal([]byte(raw), v); err != nil {
		return eris.Wrap(err, "anthropic: decode json")
	}
	return nil
}

// ExtractJSON returns the outermost JSON object or array in s, or "".
func ExtractJSON(s string) string {
	start := strings.IndexAny(s, "{[")
	if start < 0 {
		return ""
	}
	closer := byte('}')
	if s[start] == '[' {
		closer = ']'
	}
	end := strings.LastIndexByte(s, closer)
	if end <= start {
		return ""
	}
	return s[start : end+1]
}
