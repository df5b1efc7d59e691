package jsonsrc

import (
	"errors"
	"testing"
)

func TestJSONPath(t *testing.T) {
	tests := []struct {
		name    string
		path    string
		body    string
		want    float64
		wantErr bool
	}{
		// numbers
		{"integer", "power", `{"power": 812}`, 812, false},
		{"float", "power", `{"power": 0.25}`, 0.25, false},
		{"negative", "power", `{"power": -3.5}`, -3.5, false},

		// nested paths
		{"nested", "data.power", `{"data": {"power": 7}}`, 7, false},
		{"deeply nested", "a.b.c.v", `{"a": {"b": {"c": {"v": 1.5}}}}`, 1.5, false},

		// array indexing
		{"array index", "inverters.1.power", `{"inverters": [{"power": 1}, {"power": 2}]}`, 2, false},
		{"top-level array", "0", `[42]`, 42, false},
		{"index out of range", "inverters.2", `{"inverters": [1, 2]}`, 0, true},
		{"non-numeric index", "inverters.x", `{"inverters": [1, 2]}`, 0, true},

		// booleans
		{"boolean true", "on", `{"on": true}`, 1, false},
		{"boolean false", "on", `{"on": false}`, 0, false},

		// strings
		{"numeric string", "v", `{"v": "230.1"}`, 230.1, false},
		{"padded numeric string", "v", `{"v": " 12 "}`, 12, false},
		{"text string", "v", `{"v": "ok"}`, 0, true},
		{"NaN string", "v", `{"v": "NaN"}`, 0, true},
		{"lower-case nan string", "v", `{"v": "nan"}`, 0, true},
		{"Inf string", "v", `{"v": "Inf"}`, 0, true},
		{"negative Infinity string", "v", `{"v": "-Infinity"}`, 0, true},

		// missing field
		{"missing field", "power", `{"other": 1}`, 0, true},
		{"missing nested", "data.power", `{"data": {"other": 1}}`, 0, true},

		// invalid JSON
		{"invalid json", "power", `not json`, 0, true},
		{"empty body", "power", ``, 0, true},

		// wrong type at path
		{"object at path", "power", `{"power": {"w": 1}}`, 0, true},
		{"null at path", "power", `{"power": null}`, 0, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := JSONPath(tt.path)([]byte(tt.body))
			if (err != nil) != tt.wantErr {
				t.Fatalf("JSONPath(%q)(%q) error = %v, wantErr %v", tt.path, tt.body, err, tt.wantErr)
			}
			if got != tt.want {
				t.Errorf("JSONPath(%q)(%q) = %v, want %v", tt.path, tt.body, got, tt.want)
			}
		})
	}
}

func TestJSONPath_MissingIsNoValue(t *testing.T) {
	_, err := JSONPath("a.b")([]byte(`{"a": {}}`))
	if !errors.Is(err, errNoValue) {
		t.Errorf("error = %v, want errNoValue", err)
	}
}

func TestRegex(t *testing.T) {
	tests := []struct {
		name    string
		pattern string
		body    string
		want    float64
		wantErr bool
	}{
		{"plain text", `power:\s*([0-9.]+)`, "power: 812.5 W", 812.5, false},
		{"xml", `<temp>(-?[0-9.]+)</temp>`, `<temp>-4.5</temp>`, -4.5, false},
		{"first match wins", `v=(\d+)`, "v=1 v=2", 1, false},
		{"no match", `power:\s*([0-9.]+)`, "nothing here", 0, true},
		{"unparseable capture", `power:\s*(\w+)`, "power: high", 0, true},
		{"NaN capture", `power:\s*(\w+)`, "power: NaN", 0, true},
		{"Inf capture", `power:\s*([+-]?\w+)`, "power: -Inf", 0, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			extract, err := Regex(tt.pattern)
			if err != nil {
				t.Fatalf("Regex() error = %v", err)
			}
			got, err := extract([]byte(tt.body))
			if (err != nil) != tt.wantErr {
				t.Fatalf("Regex(%q)(%q) error = %v, wantErr %v", tt.pattern, tt.body, err, tt.wantErr)
			}
			if got != tt.want {
				t.Errorf("Regex(%q)(%q) = %v, want %v", tt.pattern, tt.body, got, tt.want)
			}
		})
	}
}

func TestRegex_InvalidPattern(t *testing.T) {
	if _, err := Regex(`[invalid`); err == nil {
		t.Error("Regex() expected error for invalid pattern, got nil")
	}
}

func TestRegex_NoCaptureGroup(t *testing.T) {
	if _, err := Regex(`power: \d+`); err == nil {
		t.Error("Regex() expected error for pattern without capture group, got nil")
	}
}

func TestMustRegex_Panics(t *testing.T) {
	defer func() {
		if r := recover(); r == nil {
			t.Error("MustRegex() expected panic for invalid pattern")
		}
	}()

	MustRegex(`[invalid`)
}

func TestMustRegex_Valid(t *testing.T) {
	// should not panic
	got, err := MustRegex(`"w":\s*(\d+)`)([]byte(`{"w": 12}`))
	if err != nil || got != 12 {
		t.Errorf("MustRegex() = %v, %v, want 12, nil", got, err)
	}
}
