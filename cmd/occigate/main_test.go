package main

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetErr(&out)
	rootCmd.SetArgs(args)
	err := rootCmd.Execute()
	return out.String(), err
}

func TestCategoriesCommand(t *testing.T) {
	out, err := run(t, "categories", "--config", filepath.Join(t.TempDir(), "missing.yaml"))
	if err != nil {
		t.Fatalf("categories: %v", err)
	}
	for _, want := range []string{
		`Category: compute; scheme="http://schemas.ogf.org/occi/infrastructure#"; class="kind"`,
		`Category: start; scheme="http://schemas.ogf.org/occi/infrastructure/compute/action#"; class="action"`,
		`Category: os_tpl; scheme="http://schemas.ogf.org/occi/infrastructure#"; class="mixin"`,
	} {
		if !strings.Contains(out, want) {
			t.Errorf("output lacks %q", want)
		}
	}
}

func TestValidateCommand(t *testing.T) {
	path := filepath.Join(t.TempDir(), "occigate.yaml")
	if err := os.WriteFile(path, []byte("backend:\n  type: dummy\n"), 0644); err != nil {
		t.Fatal(err)
	}
	out, err := run(t, "validate", "--config", path)
	if err != nil {
		t.Fatalf("validate: %v", err)
	}
	if !strings.Contains(out, "Configuration is valid.") {
		t.Errorf("output = %q", out)
	}

	if err := os.WriteFile(path, []byte("backend:\n  type: opennebula\n"), 0644); err != nil {
		t.Fatal(err)
	}
	if _, err := run(t, "validate", "--config", path); err == nil {
		t.Error("validate accepted an unknown backend")
	}
}

func TestVersionCommand(t *testing.T) {
	out, err := run(t, "version")
	if err != nil {
		t.Fatal(err)
	}
	if !strings.HasPrefix(out, "occigate dev") {
		t.Errorf("output = %q", out)
	}
}
