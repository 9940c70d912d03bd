package intake

import (
	"fmt"
	"io"
	"net/url"
	"strconv"

	"github.com/goccy/go-json"
)

// readBounded reads at most max bytes and fails if the body is longer.
func readBounded(body io.Reader, max int64) ([]byte, error) {
	data, err := io.ReadAll(io.LimitReader(body, max+1))
	if err != nil {
		return nil, fmt.Errorf("failed to read body: %w", err)
	}
	if int64(len(data)) > max {
		return nil, fmt.Errorf("body exceeds %d bytes", max)
	}
	return data, nil
}

// parseURLEncoded decodes an application/x-www-form-urlencoded body. For
// repeated keys the last value wins.
func parseURLEncoded(body io.Reader, limits Limits) (*Submission, error) {
	data, err := readBounded(body, limits.MaxFormBytes)
	if err != nil {
		return nil, err
	}

	values, err := url.ParseQuery(string(data))
	if err != nil {
		return nil, fmt.Errorf("failed to decode form body: %w", err)
	}

	sub := &Submission{Fields: make(map[string]string, len(values))}
	for key, vals := range values {
		if len(vals) == 0 {
			continue
		}
		sub.Fields[key] = vals[len(vals)-1]
	}
	return sub, nil
}

// parseJSON decodes a JSON object body. Scalars are kept as strings, null
// members are treated as absent, arrays contribute their last scalar and
// nested objects are ignored.
func parseJSON(body io.Reader, limits Limits) (*Submission, error) {
	data, err := readBounded(body, limits.MaxFormBytes)
	if err != nil {
		return nil, err
	}

	sub := &Submission{Fields: make(map[string]string)}
	if len(data) == 0 {
		return sub, nil
	}

	var obj map[string]any
	if err := json.Unmarshal(data, &obj); err != nil {
		return nil, fmt.Errorf("failed to decode JSON body: %w", err)
	}

	for key, raw := range obj {
		if v, ok := scalarString(raw); ok {
			sub.Fields[key] = v
		}
	}
	return sub, nil
}

func scalarString(v any) (string, bool) {
	switch t := v.(type) {
	case string:
		return t, true
	case bool:
		return strconv.FormatBool(t), true
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64), true
	case json.Number:
		return t.String(), true
	case []any:
		for i := len(t) - 1; i >= 0; i-- {
			if s, ok := scalarString(t[i]); ok {
				return s, true
			}
		}
		return "", false
	default:
		return "", false
	}
}
