package domain

import (
	"bytes"
	"encoding/json"
)

// Freeform holds model-authored text that may arrive either as a JSON string
// or as an arbitrary JSON value. Non-string values keep their compact JSON form.
type Freeform string

func (f *Freeform) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if bytes.Equal(data, []byte("null")) {
		*f = ""
		return nil
	}
	var s string
	if err := json.Unmarshal(data, &s); err == nil {
		*f = Freeform(s)
		return nil
	}
	var buf bytes.Buffer
	if err := json.Compact(&buf, data); err != nil {
		return err
	}
	*f = Freeform(buf.String())
	return nil
}

func (f Freeform) String() string {
	return string(f)
}
