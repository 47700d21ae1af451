package main

import (
	"os"
	"path/filepath"
	"reflect"
	"testing"
)

func TestLoadToolArgumentsFromJSONFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "args.json")
	if err := os.WriteFile(path, []byte(`{"query": "index=main", "limit": 5}`), 0o600); err != nil {
		t.Fatalf("write args: %v", err)
	}
	args, err := loadToolArguments(path, nil)
	if err != nil {
		t.Fatalf("loadToolArguments: %v", err)
	}
	want := map[string]any{"query": "index=main", "limit": float64(5)}
	if !reflect.DeepEqual(args, want) {
		t.Fatalf("unexpected arguments: got %#v want %#v", args, want)
	}
}

func TestLoadToolArgumentsFromYAMLFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "args.yaml")
	payload := "query: index=main\nnested:\n  enabled: true\n"
	if err := os.WriteFile(path, []byte(payload), 0o600); err != nil {
		t.Fatalf("write args: %v", err)
	}
	args, err := loadToolArguments(path, nil)
	if err != nil {
		t.Fatalf("loadToolArguments: %v", err)
	}
	if args["query"] != "index=main" {
		t.Fatalf("unexpected query: %#v", args["query"])
	}
	nested, ok := args["nested"].(map[string]any)
	if !ok {
		t.Fatalf("expected nested object, got %#v", args["nested"])
	}
	if nested["enabled"] != true {
		t.Fatalf("unexpected nested.enabled: %#v", nested["enabled"])
	}
}

func TestLoadToolArgumentsInlineOverridesFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "args.json")
	if err := os.WriteFile(path, []byte(`{"limit": 5, "query": "index=main"}`), 0o600); err != nil {
		t.Fatalf("write args: %v", err)
	}
	args, err := loadToolArguments(path, []string{"limit=10", "earliest=-24h"})
	if err != nil {
		t.Fatalf("loadToolArguments: %v", err)
	}
	if args["limit"] != float64(10) {
		t.Fatalf("expected --arg to override file, got %#v", args["limit"])
	}
	if args["earliest"] != "-24h" {
		t.Fatalf("unexpected earliest: %#v", args["earliest"])
	}
	if args["query"] != "index=main" {
		t.Fatalf("file key lost: %#v", args["query"])
	}
}

func TestLoadToolArgumentsRejectsMalformedPair(t *testing.T) {
	if _, err := loadToolArguments("", []string{"novalue"}); err == nil {
		t.Fatal("expected error for --arg without =")
	}
	if _, err := loadToolArguments("", []string{"=orphan"}); err == nil {
		t.Fatal("expected error for --arg without key")
	}
}

func TestNormalizeArgumentsJSONFallsBackToYAML(t *testing.T) {
	out, err := normalizeArgumentsJSON("-", []byte("query: index=main\n"))
	if err != nil {
		t.Fatalf("normalizeArgumentsJSON: %v", err)
	}
	doc, err := parseJSONObject(out)
	if err != nil {
		t.Fatalf("parseJSONObject: %v", err)
	}
	if doc["query"] != "index=main" {
		t.Fatalf("unexpected query: %#v", doc["query"])
	}
}

func TestNormalizeArgumentsJSONRejectsBadJSONExtension(t *testing.T) {
	if _, err := normalizeArgumentsJSON("args.json", []byte("not: json: at all: [")); err == nil {
		t.Fatal("expected error for malformed .json input")
	}
}

func TestParseArgValue(t *testing.T) {
	cases := []struct {
		raw  string
		want any
	}{
		{raw: "true", want: true},
		{raw: "3", want: float64(3)},
		{raw: "-24h", want: "-24h"},
		{raw: "index=main", want: "index=main"},
		{raw: `{"a":1}`, want: map[string]any{"a": float64(1)}},
		{raw: `[1,2]`, want: []any{float64(1), float64(2)}},
	}
	for _, tc := range cases {
		got := parseArgValue(tc.raw)
		if !reflect.DeepEqual(got, tc.want) {
			t.Fatalf("parseArgValue(%q)=%#v want %#v", tc.raw, got, tc.want)
		}
	}
}

func TestYAMLToJSONNormalizesKeys(t *testing.T) {
	in := map[any]any{
		"outer": map[any]any{
			1:      "one",
			"list": []any{map[any]any{"k": "v"}},
		},
	}
	out, ok := yamlToJSON(in).(map[string]any)
	if !ok {
		t.Fatalf("expected map[string]any, got %T", yamlToJSON(in))
	}
	outer, ok := out["outer"].(map[string]any)
	if !ok {
		t.Fatalf("expected nested map[string]any, got %#v", out["outer"])
	}
	if outer["1"] != "one" {
		t.Fatalf("expected numeric key to stringify, got %#v", outer)
	}
	list, ok := outer["list"].([]any)
	if !ok || len(list) != 1 {
		t.Fatalf("unexpected list: %#v", outer["list"])
	}
	if elem, ok := list[0].(map[string]any); !ok || elem["k"] != "v" {
		t.Fatalf("unexpected list element: %#v", list[0])
	}
}
