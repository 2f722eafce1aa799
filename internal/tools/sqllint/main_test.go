package main

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func writeGo(t *testing.T, dir, name, body string) {
	t.Helper()
	if err := os.WriteFile(filepath.Join(dir, name), []byte(body), 0o600); err != nil {
		t.Fatalf("write %s: %v", name, err)
	}
}

func TestLinterReportsMissingAndDuplicateMarkers(t *testing.T) {
	dir := t.TempDir()
	writeGo(t, dir, "a.go", "package q\n\nconst QOne = `--sql 0d1325f5-15a8-4b0a-afa0-4a19cc8df354\nselect 1;\n`\n\nconst QBare = `select 2;`\n")
	writeGo(t, dir, "b.go", "package q\n\nconst QTwo = `--sql 0d1325f5-15a8-4b0a-afa0-4a19cc8df354\nupdate jobs set status = 'queued';\n`\n\nconst Note = \"no sql here\"\n")
	writeGo(t, dir, "b_test.go", "package q\n\nconst qTest = `select 3;`\n")

	l := newLinter()
	if err := l.run([]string{dir}); err != nil {
		t.Fatalf("run: %v", err)
	}
	if len(l.violations) != 2 {
		t.Fatalf("violations = %+v, want 2", l.violations)
	}
	got := map[string]string{}
	for _, v := range l.violations {
		got[v.name] = v.message
	}
	if !strings.Contains(got["QBare"], "missing or invalid") {
		t.Fatalf("QBare: %q", got["QBare"])
	}
	if !strings.Contains(got["QTwo"], "duplicate marker, first used by QOne") {
		t.Fatalf("QTwo: %q", got["QTwo"])
	}
}

func TestSQLInlineQueriesAreMarked(t *testing.T) {
	l := newLinter()
	if err := l.run([]string{filepath.Join("..", "..", "sqlinline")}); err != nil {
		t.Fatalf("run: %v", err)
	}
	if len(l.violations) != 0 {
		t.Fatalf("violations in sqlinline: %+v", l.violations)
	}
}
