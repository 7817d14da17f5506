package main

import "testing"

func TestParseEnvPairs(t *testing.T) {
	m, err := parseEnvPairs([]string{"A=1", "B=x=y", "EMPTY="})
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if m["A"] != "1" || m["B"] != "x=y" || m["EMPTY"] != "" {
		t.Fatalf("parsed map: %v", m)
	}
	if _, err := parseEnvPairs([]string{"NOVALUE"}); err == nil {
		t.Fatalf("expected error for missing separator")
	}
	if _, err := parseEnvPairs([]string{"=v"}); err == nil {
		t.Fatalf("expected error for empty key")
	}
	if m, err := parseEnvPairs(nil); err != nil || m != nil {
		t.Fatalf("empty input: %v %v", m, err)
	}
}

func TestBuildRootCommands(t *testing.T) {
	root := buildRoot()
	want := map[string]bool{
		"serve": false, "version": false, "list": false, "get": false,
		"create": false, "delete": false, "start": false, "stop": false,
		"restart": false, "logs": false, "flush": false,
	}
	for _, c := range root.Commands() {
		name := c.Name()
		if _, ok := want[name]; ok {
			want[name] = true
		}
	}
	for name, seen := range want {
		if !seen {
			t.Fatalf("command %q not registered", name)
		}
	}
	if root.PersistentFlags().Lookup("config") == nil {
		t.Fatalf("missing persistent --config flag")
	}
}
