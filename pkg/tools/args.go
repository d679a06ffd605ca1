package tools

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"
)

// Models do not always respect the declared argument types, so the decoders
// below accept both JSON numbers and numeric strings.

// number is a float argument.
type number struct {
	value   float64
	invalid string
}

func (n *number) UnmarshalJSON(b []byte) error {
	var f float64
	if err := json.Unmarshal(b, &f); err == nil {
		n.value = f
		return nil
	}
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		n.invalid = fmt.Sprintf("Amount must be a number, got %s", string(b))
		return nil
	}
	f, err := strconv.ParseFloat(strings.ReplaceAll(strings.TrimSpace(s), ",", ""), 64)
	if err != nil || math.IsNaN(f) || math.IsInf(f, 0) {
		n.invalid = fmt.Sprintf("Amount must be a number, got '%s'", s)
		return nil
	}
	n.value = f
	return nil
}

// optInt is an optional whole-number argument. Empty strings and null leave
// it unset.
type optInt struct {
	value   *int
	invalid string
}

func (o *optInt) UnmarshalJSON(b []byte) error {
	if bytes.Equal(bytes.TrimSpace(b), []byte("null")) {
		return nil
	}

	var n int
	if err := json.Unmarshal(b, &n); err == nil {
		o.value = &n
		return nil
	}

	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		o.invalid = string(b)
		return nil
	}
	s = strings.TrimSpace(s)
	if s == "" {
		return nil
	}
	n, err := strconv.Atoi(s)
	if err != nil {
		o.invalid = s
		return nil
	}
	o.value = &n
	return nil
}

// text is a string argument that also accepts numbers and booleans.
type text string

func (t *text) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err == nil {
		*t = text(s)
		return nil
	}
	if bytes.Equal(bytes.TrimSpace(b), []byte("null")) {
		return nil
	}
	*t = text(bytes.TrimSpace(b))
	return nil
}

// jsonPayload is an argument carrying a JSON document either as a string or
// inline.
type jsonPayload string

func (p *jsonPayload) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err == nil {
		*p = jsonPayload(s)
		return nil
	}
	*p = jsonPayload(bytes.TrimSpace(b))
	return nil
}
