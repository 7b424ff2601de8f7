package sanitize

import (
	"encoding/json"
	"reflect"
	"testing"
)

func TestValue_StrictJSON(t *testing.T) {
	v, ok := Value(`{"fund_name": "Apex Capital III", "vintage": 2019}`)
	if !ok {
		t.Fatal("strict JSON should parse")
	}
	m, ok := v.(map[string]any)
	if !ok {
		t.Fatalf("result type = %T, want map", v)
	}
	if m["fund_name"] != "Apex Capital III" {
		t.Errorf("fund_name = %v", m["fund_name"])
	}
	if m["vintage"] != float64(2019) {
		t.Errorf("vintage = %v (%T), want 2019 float64", m["vintage"], m["vintage"])
	}
}

func TestValue_CodeFence(t *testing.T) {
	raw := "Here is the extracted data:\n```json\n{\"net_irr\": \"18.2%\"}\n```\nLet me know if you need anything else."
	v, ok := Value(raw)
	if !ok {
		t.Fatal("fenced JSON should parse")
	}
	m := v.(map[string]any)
	if m["net_irr"] != "18.2%" {
		t.Errorf("net_irr = %v", m["net_irr"])
	}
}

func TestValue_PythonLiterals(t *testing.T) {
	v, ok := Value(`{'a': None, 'b': True,}`)
	if !ok {
		t.Fatal("python-style dict should parse")
	}
	want := map[string]any{"a": nil, "b": true}
	if !reflect.DeepEqual(v, want) {
		t.Errorf("got %#v, want %#v", v, want)
	}
}

func TestValue_SurroundingCommentary(t *testing.T) {
	raw := `Sure! The portfolio summary is {"dpi": 1.4, "tvpi": 1.9} as requested.`
	v, ok := Value(raw)
	if !ok {
		t.Fatal("embedded object should parse")
	}
	m := v.(map[string]any)
	if m["dpi"] != 1.4 || m["tvpi"] != 1.9 {
		t.Errorf("got %v", m)
	}
}

func TestValue_TopLevelArray(t *testing.T) {
	v, ok := Value(`[{"company_name": "Acme"}, {"company_name": "Globex"}]`)
	if !ok {
		t.Fatal("array should parse")
	}
	arr, ok := v.([]any)
	if !ok || len(arr) != 2 {
		t.Fatalf("got %#v", v)
	}
}

func TestValue_Comments(t *testing.T) {
	raw := "{\n  \"fund_name\": \"Apex\", // primary vehicle\n  /* metrics */ \"dpi\": 0.8\n}"
	v, ok := Value(raw)
	if !ok {
		t.Fatal("commented JSON should parse")
	}
	m := v.(map[string]any)
	if m["fund_name"] != "Apex" || m["dpi"] != 0.8 {
		t.Errorf("got %v", m)
	}
}

func TestValue_ScavengeTruncated(t *testing.T) {
	// Completion cut off mid-object: full parse is impossible but the
	// intact pairs are still recoverable.
	raw := `{"fund_name": "Apex Capital", "vintage": 2019, "gp": "Apex Part`
	v, ok := Value(raw)
	if !ok {
		t.Fatal("truncated object should scavenge")
	}
	m := v.(map[string]any)
	if m["fund_name"] != "Apex Capital" {
		t.Errorf("fund_name = %v", m["fund_name"])
	}
	if m["vintage"] != float64(2019) {
		t.Errorf("vintage = %v", m["vintage"])
	}
	if _, exists := m["gp"]; exists {
		t.Error("partial pair should be dropped")
	}
}

func TestValue_Unrecoverable(t *testing.T) {
	for _, raw := range []string{"", "   ", "I could not find any data in this document.", "42", `"just a string"`} {
		v, ok := Value(raw)
		if ok {
			t.Errorf("Value(%q) ok = true, want false", raw)
		}
		m, isMap := v.(map[string]any)
		if !isMap || len(m) != 0 {
			t.Errorf("Value(%q) = %#v, want empty map", raw, v)
		}
	}
}

func TestValue_Idempotent(t *testing.T) {
	inputs := []string{
		"```json\n{'a': None, 'b': [1, 2,]}\n```",
		`noise {"x": "y"} noise`,
		`{"nested": {"k": True}}`,
	}
	for _, raw := range inputs {
		v1, ok := Value(raw)
		if !ok {
			t.Fatalf("Value(%q) failed", raw)
		}
		b, err := json.Marshal(v1)
		if err != nil {
			t.Fatalf("marshal: %v", err)
		}
		v2, ok := Value(string(b))
		if !ok {
			t.Fatalf("re-sanitize of %q failed", b)
		}
		if !reflect.DeepEqual(v1, v2) {
			t.Errorf("not idempotent: %#v vs %#v", v1, v2)
		}
	}
}

func TestValue_NeverPanics(t *testing.T) {
	inputs := []string{
		"{{{{", "}}}}", "[", "]", "```", "'''", `{"a":`, "{'a'", "\x00\xff\xfe",
		`// comment only`, `{"a": "b"} {"c": "d"}`,
	}
	for _, raw := range inputs {
		func() {
			defer func() {
				if r := recover(); r != nil {
					t.Errorf("Value(%q) panicked: %v", raw, r)
				}
			}()
			Value(raw)
		}()
	}
}

func TestMap_ArrayDegradesToEmpty(t *testing.T) {
	m := Map(`[1, 2, 3]`)
	if len(m) != 0 {
		t.Errorf("got %v, want empty map", m)
	}
}

func TestMap_Object(t *testing.T) {
	m := Map(`{"k": "v"}`)
	if m["k"] != "v" {
		t.Errorf("got %v", m)
	}
}
