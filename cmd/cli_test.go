package cmd

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
)

// setupHome points FOLIO_HOME and HOME at a fresh temp dir and clears the
// embeddings environment.
func setupHome(t *testing.T) string {
	t.Helper()
	tmp := t.TempDir()
	t.Setenv("HOME", tmp)
	t.Setenv("FOLIO_HOME", filepath.Join(tmp, "folio"))
	t.Setenv("FOLIO_EMBEDDINGS_API_KEY", "")
	t.Setenv("FOLIO_EMBEDDINGS_BASE_URL", "")
	t.Setenv("FOLIO_EMBEDDINGS_MODEL", "")
	return tmp
}

// resetFlags restores every flag to its zero state; cobra keeps flag values
// between Execute calls.
func resetFlags() {
	flagLogLevel = ""
	flagInitBackend, flagInitProvider = "files", "hash"
	flagIngestSource, flagIngestExclude, flagIngestMeta = "", nil, nil
	flagSearchK, flagSearchMinScore = 0, 0
	flagContextK, flagContextBudget = 0, 0
	flagPruneKeep = -1
	flagDoctorProbe = false
	flagServeAddr = ""
	flagInspectFull = false

	var walk func(c *cobra.Command)
	walk = func(c *cobra.Command) {
		c.Flags().VisitAll(func(f *pflag.Flag) { f.Changed = false })
		for _, sub := range c.Commands() {
			walk(sub)
		}
	}
	walk(rootCmd)
}

// runCLI executes folio with args and returns captured stdout and stderr.
func runCLI(t *testing.T, args ...string) (string, string, error) {
	t.Helper()
	resetFlags()
	var out, errOut bytes.Buffer
	stdout, stderr = &out, &errOut
	t.Cleanup(func() { stdout, stderr = os.Stdout, os.Stderr })
	rootCmd.SetOut(&out)
	rootCmd.SetErr(&errOut)
	rootCmd.SetArgs(args)
	err := rootCmd.Execute()
	return out.String(), errOut.String(), err
}

func mustRun(t *testing.T, args ...string) string {
	t.Helper()
	out, errOut, err := runCLI(t, args...)
	if err != nil {
		t.Fatalf("folio %s: %v\nstdout:\n%s\nstderr:\n%s", strings.Join(args, " "), err, out, errOut)
	}
	return out
}

func writeDocs(t *testing.T, dir string) {
	t.Helper()
	files := map[string]string{
		"cats.txt":        "Cats are small furry animals. They like to sleep in the sun. Many cats chase mice at night.",
		"ships.md":        "---\ntitle: Shipping\nauthor: Grace\n---\n# Ships\n\nContainer ships carry cargo across oceans.",
		"drafts/skip.txt": "Unfinished draft about cats.",
	}
	for name, body := range files {
		p := filepath.Join(dir, name)
		if err := os.MkdirAll(filepath.Dir(p), 0o755); err != nil {
			t.Fatal(err)
		}
		if err := os.WriteFile(p, []byte(body), 0o644); err != nil {
			t.Fatal(err)
		}
	}
}

func TestInit_WritesConfigAndEnvTemplate(t *testing.T) {
	home := setupHome(t)

	out := mustRun(t, "init")
	if !strings.Contains(out, "Config written") {
		t.Fatalf("expected config to be written, got:\n%s", out)
	}
	for _, name := range []string{"folio.yaml", ".env"} {
		if _, err := os.Stat(filepath.Join(home, "folio", name)); err != nil {
			t.Fatalf("%s missing: %v", name, err)
		}
	}

	out = mustRun(t, "init")
	if !strings.Contains(out, "Config already exists") {
		t.Fatalf("expected second init to skip config, got:\n%s", out)
	}
}

func TestInit_RejectsUnknownBackend(t *testing.T) {
	setupHome(t)
	if _, _, err := runCLI(t, "init", "--backend", "postgres"); err == nil {
		t.Fatal("expected error for unknown backend")
	}
}

func TestCommands_RequireInit(t *testing.T) {
	setupHome(t)
	_, _, err := runCLI(t, "collections")
	if err == nil || !strings.Contains(err.Error(), "folio init") {
		t.Fatalf("expected not-initialized error, got %v", err)
	}
}

func TestIngestSearchContextLifecycle(t *testing.T) {
	for _, backend := range []string{"files", "sqlite", "bolt"} {
		t.Run(backend, func(t *testing.T) {
			home := setupHome(t)
			docs := filepath.Join(home, "docs")
			writeDocs(t, docs)
			mustRun(t, "init", "--backend", backend)

			out := mustRun(t, "ingest", "notes", docs, "--exclude", "drafts")
			if !strings.Contains(out, "[cats.txt]") || !strings.Contains(out, "[ships.md]") {
				t.Fatalf("ingest output missing sources:\n%s", out)
			}
			if strings.Contains(out, "skip.txt") {
				t.Fatalf("excluded file was ingested:\n%s", out)
			}

			out = mustRun(t, "search", "notes", "cats", "chase", "mice", "--k", "1")
			if !strings.Contains(out, "Results (1 found)") || !strings.Contains(out, "cats.txt#0") {
				t.Fatalf("unexpected search output:\n%s", out)
			}

			out = mustRun(t, "context", "notes", "container", "ships")
			if !strings.Contains(out, "--- Source: Shipping, Author: Grace ---") {
				t.Fatalf("context missing attribution:\n%s", out)
			}

			out = mustRun(t, "collections")
			if !strings.Contains(out, "notes") {
				t.Fatalf("collections missing notes:\n%s", out)
			}
			out = mustRun(t, "collections", "notes")
			if !strings.Contains(out, "cats.txt") || !strings.Contains(out, "Sources (2):") {
				t.Fatalf("unexpected collection detail:\n%s", out)
			}

			out = mustRun(t, "inspect", "notes", "ships.md")
			if !strings.Contains(out, "author:") || !strings.Contains(out, "Chunks (1):") || !strings.Contains(out, "#0") {
				t.Fatalf("unexpected inspect output:\n%s", out)
			}

			out = mustRun(t, "delete-source", "notes", "cats.txt")
			if !strings.Contains(out, "removed 1 chunk(s)") {
				t.Fatalf("unexpected delete-source output:\n%s", out)
			}
			out = mustRun(t, "delete-source", "notes", "cats.txt")
			if !strings.Contains(out, "no chunks found") {
				t.Fatalf("expected nothing to delete:\n%s", out)
			}

			mustRun(t, "prune", "--keep", "0")
			mustRun(t, "doctor")

			mustRun(t, "clear", "notes")
			if _, _, err := runCLI(t, "collections", "notes"); err == nil {
				t.Fatal("expected cleared collection to be gone")
			}
		})
	}
}

func TestIngest_StdinNeedsSource(t *testing.T) {
	setupHome(t)
	mustRun(t, "init")

	if _, _, err := runCLI(t, "ingest", "notes", "-"); err == nil {
		t.Fatal("expected error without --source")
	}

	rootCmd.SetIn(strings.NewReader("Piped text about lighthouses. They guide ships."))
	t.Cleanup(func() { rootCmd.SetIn(nil) })
	out := mustRun(t, "ingest", "notes", "-", "--source", "stdin-1", "--meta", "title=Lighthouses")
	if !strings.Contains(out, "[stdin-1]") {
		t.Fatalf("unexpected output:\n%s", out)
	}
	out = mustRun(t, "context", "notes", "lighthouses")
	if !strings.Contains(out, "--- Source: Lighthouses ---") {
		t.Fatalf("metadata flag not applied:\n%s", out)
	}
}

func TestParseMeta(t *testing.T) {
	m, err := parseMeta([]string{"author=Ada", "note=a=b"})
	if err != nil {
		t.Fatal(err)
	}
	if v, _ := m.Get("note"); v != "a=b" {
		t.Fatalf("note = %q", v)
	}
	if _, err := parseMeta([]string{"=x"}); err == nil {
		t.Fatal("expected error for empty key")
	}
}

func TestSnippet(t *testing.T) {
	if got := snippet("short  text", 20); got != "short text" {
		t.Fatalf("snippet = %q", got)
	}
	got := snippet("alpha beta gamma delta epsilon", 14)
	if got != "alpha beta…" {
		t.Fatalf("snippet = %q", got)
	}
}
