package classify

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"strings"
)

var fence = regexp.MustCompile("(?i)```(?:json)?")

// Clean strips markdown code fences and surrounding whitespace from a raw
// completion.
func Clean(raw string) string {
	return strings.TrimSpace(fence.ReplaceAllString(raw, ""))
}

// firstValue returns the first JSON value of s. Anything after it (such as a
// second concatenated object) is ignored.
func firstValue(s string) (json.RawMessage, error) {
	dec := json.NewDecoder(strings.NewReader(s))
	var v json.RawMessage
	if err := dec.Decode(&v); err != nil {
		return nil, fmt.Errorf("parse: %w", err)
	}
	return v, nil
}

// ParseSingle extracts and validates {"probability": number in [0,100]}.
func ParseSingle(raw string) (float64, error) {
	v, err := firstValue(Clean(raw))
	if err != nil {
		return 0, err
	}
	var obj map[string]json.RawMessage
	if err := json.Unmarshal(v, &obj); err != nil || obj == nil {
		return 0, errors.New("schema: expected a JSON object")
	}
	p, ok := obj["probability"]
	if !ok {
		return 0, errors.New("schema: missing probability")
	}
	return probability(p)
}

// BatchEntry is one validated element of a batch response.
type BatchEntry struct {
	ID          string
	Probability *float64
	Error       bool
}

// ParseBatch extracts and validates a batch response: an array of
// {"id": string, "probability"?: number in [0,100], "error"?: bool}.
// A single invalid element invalidates the whole response.
func ParseBatch(raw string) ([]BatchEntry, error) {
	v, err := firstValue(Clean(raw))
	if err != nil {
		return nil, err
	}
	var elems []json.RawMessage
	if err := json.Unmarshal(v, &elems); err != nil || elems == nil {
		return nil, errors.New("schema: expected a JSON array")
	}

	out := make([]BatchEntry, 0, len(elems))
	for i, el := range elems {
		var obj map[string]json.RawMessage
		if err := json.Unmarshal(el, &obj); err != nil || obj == nil {
			return nil, fmt.Errorf("schema: element %d: expected an object", i)
		}

		var e BatchEntry
		idRaw, ok := obj["id"]
		if !ok {
			return nil, fmt.Errorf("schema: element %d: missing id", i)
		}
		if err := json.Unmarshal(idRaw, &e.ID); err != nil || isNull(idRaw) {
			return nil, fmt.Errorf("schema: element %d: id must be a string", i)
		}
		if pr, ok := obj["probability"]; ok {
			p, err := probability(pr)
			if err != nil {
				return nil, fmt.Errorf("element %d: %w", i, err)
			}
			e.Probability = &p
		}
		if er, ok := obj["error"]; ok {
			if err := json.Unmarshal(er, &e.Error); err != nil || isNull(er) {
				return nil, fmt.Errorf("schema: element %d: error must be a boolean", i)
			}
		}
		out = append(out, e)
	}
	return out, nil
}

// probability decodes a JSON number and checks its range. Strings, nulls and
// out-of-range values are rejected, never coerced.
func probability(raw json.RawMessage) (float64, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || !(raw[0] == '-' || (raw[0] >= '0' && raw[0] <= '9')) {
		return 0, fmt.Errorf("schema: probability must be a number, got %s", truncate(string(raw), 32))
	}
	var p float64
	if err := json.Unmarshal(raw, &p); err != nil {
		return 0, fmt.Errorf("schema: probability: %w", err)
	}
	if p < 0 || p > 100 {
		return 0, fmt.Errorf("schema: probability %v outside [0,100]", p)
	}
	return p, nil
}

func isNull(raw json.RawMessage) bool {
	return bytes.Equal(bytes.TrimSpace(raw), []byte("null"))
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
