package llmjson

import (
	"errors"
	"testing"

	"citygen/internal/domain"
)

func TestExtractFragment(t *testing.T) {
	cases := []struct {
		name string
		in   string
		want string
	}{
		{name: "plain", in: `{"a":1}`, want: `{"a":1}`},
		{name: "fenced", in: "```json\n{\"a\":1}\n```", want: `{"a":1}`},
		{name: "prose", in: "Sure! Here it is: {\"a\":1} hope that helps", want: `{"a":1}`},
		{name: "array", in: "[1,2]", want: "[1,2]"},
		{name: "none", in: "no json here", want: ""},
		{name: "empty", in: "   ", want: ""},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := ExtractFragment(tc.in); got != tc.want {
				t.Fatalf("ExtractFragment(%q) = %q, want %q", tc.in, got, tc.want)
			}
		})
	}
}

func TestParseVerdict(t *testing.T) {
	v, err := ParseVerdict("```json\n{\"pass\": false, \"failed_criteria\": [3, \"lighting\"], \"reason\": \"hard shadows\"}\n```")
	if err != nil {
		t.Fatalf("ParseVerdict error: %v", err)
	}
	if v.Accepted {
		t.Fatalf("Accepted = true, want false")
	}
	if v.Reason != "hard shadows" {
		t.Fatalf("Reason = %q, want %q", v.Reason, "hard shadows")
	}
	if len(v.FailedCriteria) != 2 || v.FailedCriteria[0] != "3" || v.FailedCriteria[1] != "lighting" {
		t.Fatalf("FailedCriteria = %#v", v.FailedCriteria)
	}

	v, err = ParseVerdict(`{"pass": true, "reason": "fine"}`)
	if err != nil || !v.Accepted {
		t.Fatalf("ParseVerdict accepted = %v, err = %v", v.Accepted, err)
	}
}

func TestParseVerdictMalformed(t *testing.T) {
	for _, raw := range []string{"", "looks good to me", `{"reason": "no pass"}`, `{"pass": "yes"}`} {
		if _, err := ParseVerdict(raw); !errors.Is(err, domain.ErrMalformedVerdict) {
			t.Fatalf("ParseVerdict(%q) error = %v, want ErrMalformedVerdict", raw, err)
		}
	}
}

func TestParseDimensions(t *testing.T) {
	d, ok := ParseDimensions("Length: 12.5m, Width: 8m, Height: 30m")
	if !ok {
		t.Fatalf("ParseDimensions ok = false")
	}
	if d.Length != 12.5 || d.Width != 8 || d.Height != 30 {
		t.Fatalf("dimensions = %+v", d)
	}
	if _, ok := ParseDimensions("about the size of a bus"); ok {
		t.Fatalf("ParseDimensions ok = true for prose")
	}
}
