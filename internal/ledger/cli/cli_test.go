package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testPassphrase = "correct horse battery"

type harness struct {
	t      *testing.T
	dir    string
	store  string
	config string
}

// newHarness points the CLI at a fresh store under a temp dir with cheap KDF
// parameters, the passphrase in the environment and no terminal.
func newHarness(t *testing.T) *harness {
	t.Helper()
	dir := t.TempDir()
	h := &harness{
		t:      t,
		dir:    dir,
		store:  filepath.Join(dir, "store.ledger"),
		config: filepath.Join(dir, "config.json"),
	}
	cfg := fmt.Sprintf(`{
		"store_path": %q,
		"backup_on_close": false,
		"kdf": {"time": 1, "memory_kib": 64, "threads": 1}
	}`, h.store)
	require.NoError(t, os.WriteFile(h.config, []byte(cfg), 0o600))

	for _, k := range []string{"LEDGER_PATH", "LEDGER_CACHE_TTL"} {
		t.Setenv(k, "")
		require.NoError(t, os.Unsetenv(k))
	}
	t.Setenv("LEDGER_PASSPHRASE", testPassphrase)
	t.Setenv("XDG_RUNTIME_DIR", dir)

	orig := isTerminal
	isTerminal = func(int) bool { return false }
	t.Cleanup(func() { isTerminal = orig })
	return h
}

func (h *harness) run(args ...string) (string, string, int) {
	h.t.Helper()
	var out, errOut bytes.Buffer
	full := append([]string{"--config", h.config, "--no-cache"}, args...)
	code := Execute(context.Background(), full, strings.NewReader(""), &out, &errOut)
	return out.String(), errOut.String(), code
}

// ok runs args, fails the test on a non-zero exit and returns stdout.
func (h *harness) ok(args ...string) string {
	h.t.Helper()
	out, errOut, code := h.run(args...)
	require.Equal(h.t, ExitOK, code, "ledger %s: %s", strings.Join(args, " "), errOut)
	return out
}

func (h *harness) code(args ...string) int {
	h.t.Helper()
	_, _, code := h.run(args...)
	return code
}

// withJournal creates the store and a journal type with a body and a mood.
func (h *harness) withJournal() {
	h.t.Helper()
	h.ok("init")
	h.ok("type", "add", "journal",
		"--field", "body:text:required",
		"--field", "mood:enum:values=ok|good")
}

func (h *harness) showJSON(id string) map[string]any {
	h.t.Helper()
	var m map[string]any
	require.NoError(h.t, json.Unmarshal([]byte(h.ok("--json", "show", id)), &m))
	return m
}

func TestCLI_EntryLifecycle(t *testing.T) {
	h := newHarness(t)
	h.withJournal()

	id := strings.TrimSpace(h.ok("add", "journal", "-f", "body=hello world", "-f", "mood=good", "-t", "work"))
	require.NotEmpty(t, id)

	shown := h.showJSON(id)
	assert.Equal(t, map[string]any{"body": "hello world", "mood": "good"}, shown["data"])
	assert.Equal(t, []any{"work"}, shown["tags"])

	revised := strings.TrimSpace(h.ok("edit", id, "-f", "body=hello again"))
	require.NotEqual(t, id, revised)
	shown = h.showJSON(revised)
	assert.Equal(t, map[string]any{"body": "hello again", "mood": "good"}, shown["data"])
	assert.Equal(t, id, shown["supersedes"])
	assert.Equal(t, []any{"work"}, shown["tags"])

	list := h.ok("list")
	assert.Contains(t, list, revised)
	assert.NotContains(t, list, id)
	all := h.ok("list", "--history")
	assert.Contains(t, all, id)
	assert.Contains(t, all, revised)

	assert.Contains(t, h.ok("search", "again"), revised)
	assert.Empty(t, strings.TrimSpace(h.ok("search", "nothing-like-this")))

	var hist []map[string]any
	require.NoError(t, json.Unmarshal([]byte(h.ok("--json", "history", id)), &hist))
	require.Len(t, hist, 2)
	assert.Equal(t, revised, hist[0]["id"])

	assert.Equal(t, ExitInvalid, h.code("edit", id, "-f", "body=again"), "only the chain head can be revised")
	assert.Equal(t, ExitInvalid, h.code("add", "journal", "-f", "mood=ok"), "required field without a terminal")
	assert.Equal(t, ExitInvalid, h.code("add", "journal", "-f", "body=x", "-f", "mood=awful"))
	assert.Equal(t, ExitNotFound, h.code("add", "diary", "-f", "body=x"))
	assert.Equal(t, ExitNotFound, h.code("show", "0190a8f1-0000-7000-8000-000000000000"))
}

func TestCLI_TemplatesAndCompositions(t *testing.T) {
	h := newHarness(t)
	h.withJournal()

	h.ok("template", "add", "daily", "--type", "journal", "-f", "mood=ok", "-t", "daily", "--enum", "mood=meh")
	h.ok("template", "set-default", "journal", "daily")

	id := strings.TrimSpace(h.ok("add", "journal", "-f", "body=from template"))
	shown := h.showJSON(id)
	assert.Equal(t, map[string]any{"body": "from template", "mood": "ok"}, shown["data"])
	assert.Equal(t, []any{"daily"}, shown["tags"])

	id2 := strings.TrimSpace(h.ok("add", "journal", "-f", "body=meh day", "-f", "mood=meh"))
	bare := strings.TrimSpace(h.ok("add", "journal", "--no-defaults", "-f", "body=bare"))
	assert.Equal(t, map[string]any{"body": "bare"}, h.showJSON(bare)["data"])

	h.ok("template", "update", "daily", "-t", "evening")
	var tpl map[string]any
	require.NoError(t, json.Unmarshal([]byte(h.ok("template", "show", "daily")), &tpl))
	active := tpl["active"].(map[string]any)
	assert.EqualValues(t, 2, active["version"])
	payload := active["payload"].(map[string]any)
	assert.Equal(t, []any{"evening"}, payload["default_tags"])
	assert.Equal(t, map[string]any{"mood": "ok"}, payload["defaults"])

	h.ok("composition", "add", "trip", "--metadata", `{"where":"north"}`)
	h.ok("composition", "attach", "trip", id, id2)
	members := h.ok("composition", "members", "trip")
	assert.Contains(t, members, id)
	assert.Contains(t, members, id2)
	assert.NotContains(t, members, bare)
	assert.Contains(t, h.ok("list", "--composition", "trip"), id2)

	h.ok("composition", "detach", "trip", id2)
	assert.NotContains(t, h.ok("composition", "members", "trip"), id2)
	h.ok("composition", "rename", "trip", "voyage")
	assert.Equal(t, ExitNotFound, h.code("composition", "members", "trip"))
	h.ok("composition", "delete", "voyage")
	assert.Contains(t, h.ok("list"), id, "entries outlive their composition")

	h.ok("template", "clear-default", "journal")
	plain := strings.TrimSpace(h.ok("add", "journal", "-f", "body=plain"))
	assert.Equal(t, map[string]any{"body": "plain"}, h.showJSON(plain)["data"])
	h.ok("template", "delete", "daily")
	assert.Equal(t, ExitNotFound, h.code("template", "show", "daily"))
}

func TestCLI_TypeVersions(t *testing.T) {
	h := newHarness(t)
	h.withJournal()
	old := strings.TrimSpace(h.ok("add", "journal", "-f", "body=v1 entry", "-f", "mood=ok"))

	h.ok("type", "add", "journal", "--field", "body:text:required", "--field", "rating:integer:min=1:max=5")
	var types []map[string]any
	require.NoError(t, json.Unmarshal([]byte(h.ok("--json", "type", "list", "--all")), &types))
	assert.Len(t, types, 2)

	assert.EqualValues(t, 1, h.showJSON(old)["schema_version"])
	assert.Equal(t, ExitInvalid, h.code("add", "journal", "-f", "body=x", "-f", "rating=9"))

	revised := strings.TrimSpace(h.ok("edit", old, "-f", "rating=4"))
	shown := h.showJSON(revised)
	assert.EqualValues(t, 2, shown["schema_version"])
	assert.Equal(t, map[string]any{"body": "v1 entry", "rating": float64(4)}, shown["data"])

	assert.Contains(t, h.ok("type", "show", "journal", "--version", "1"), "mood")
	assert.Equal(t, ExitInvalid, h.code("type", "add", "broken", "--field", "x:blob"))
}

func TestCLI_ExportImport(t *testing.T) {
	h := newHarness(t)
	h.withJournal()
	id := strings.TrimSpace(h.ok("add", "journal", "-f", "body=exported", "-t", "keep"))

	for _, format := range []string{"json", "jsonl"} {
		t.Run(format, func(t *testing.T) {
			dump := filepath.Join(h.dir, "dump."+format)
			h.ok("export", "--format", format, "-o", dump)
			info, err := os.Stat(dump)
			require.NoError(t, err)
			assert.Equal(t, os.FileMode(0o600), info.Mode().Perm())

			other := filepath.Join(h.dir, "other-"+format+".ledger")
			h.ok("--store", other, "init")
			h.ok("--store", other, "import", dump)
			assert.Contains(t, h.ok("--store", other, "list"), id)
			assert.Contains(t, h.ok("--store", other, "check"), "ok")

			assert.Equal(t, ExitInvalid, h.code("--store", other, "import", dump), "import needs an empty store")
		})
	}

	assert.Equal(t, ExitUsage, h.code("export", "--format", "xml"))
	assert.Contains(t, h.ok("export"), `"version": 1`)
}

func TestCLI_StoreAndAuth(t *testing.T) {
	h := newHarness(t)
	assert.Equal(t, ExitNotFound, h.code("list"))
	h.withJournal()
	assert.Equal(t, ExitInvalid, h.code("init"), "store already exists")

	assert.Contains(t, h.ok("check"), "ok")
	assert.Contains(t, h.ok("repair"), "reindexed 0 entries")

	dest := filepath.Join(h.dir, "copy.ledger")
	h.ok("backup", dest)
	assert.Contains(t, h.ok("--store", dest, "type", "list"), "journal")

	t.Setenv("LEDGER_PASSPHRASE", "not the passphrase")
	assert.Equal(t, ExitAuth, h.code("list"))
	assert.Equal(t, ExitAuth, h.code("check"))

	require.NoError(t, os.Unsetenv("LEDGER_PASSPHRASE"))
	assert.Equal(t, ExitAuth, h.code("list"), "no passphrase source without a terminal")
}

func TestCLI_Usage(t *testing.T) {
	h := newHarness(t)
	tests := []struct {
		name string
		args []string
	}{
		{"no command", nil},
		{"unknown command", []string{"frobnicate"}},
		{"unknown flag", []string{"list", "--bogus"}},
		{"missing argument", []string{"show"}},
		{"too many arguments", []string{"show", "a", "b"}},
		{"missing subcommand", []string{"type"}},
		{"template without type", []string{"template", "add", "daily"}},
		{"negative cache ttl", []string{"--cache-ttl", "-1", "list"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, ExitUsage, h.code(tt.args...))
		})
	}
}

func TestCLI_Version(t *testing.T) {
	var out bytes.Buffer
	code := Execute(context.Background(), []string{"version"}, strings.NewReader(""), &out, &bytes.Buffer{})
	assert.Equal(t, ExitOK, code)
	assert.Contains(t, out.String(), "Build version:")
}

func TestCLI_LockWithoutDaemon(t *testing.T) {
	h := newHarness(t)
	h.ok("lock")
}

func TestCLI_Todo(t *testing.T) {
	h := newHarness(t)
	h.ok("init")
	h.ok("type", "add", "chores", "--field", "items:task_list", "--field", "note:string")
	h.ok("composition", "add", "home")
	id := strings.TrimSpace(h.ok("add", "chores", "-f", "items=buy milk;[x] call mom;fix bike", "-t", "weekly"))
	h.ok("composition", "attach", "home", id)

	assert.Equal(t, "[ ] 1. buy milk\n[x] 2. call mom\n[ ] 3. fix bike\n", h.ok("todo", "list", id))

	done := strings.TrimSpace(h.ok("todo", "done", id, "3"))
	require.NotEqual(t, id, done)
	assert.Equal(t, "[ ] 1. buy milk\n[x] 2. call mom\n[x] 3. fix bike\n", h.ok("todo", "list", done))
	shown := h.showJSON(done)
	assert.Equal(t, id, shown["supersedes"])
	assert.Equal(t, []any{"weekly"}, shown["tags"])
	assert.Contains(t, h.ok("composition", "members", "home"), done)

	undone := strings.TrimSpace(h.ok("todo", "undo", done, "2"))
	var tasks []map[string]any
	require.NoError(t, json.Unmarshal([]byte(h.ok("--json", "todo", "list", undone)), &tasks))
	require.Len(t, tasks, 3)
	assert.Equal(t, map[string]any{"text": "call mom", "done": false}, tasks[1])

	assert.Equal(t, ExitInvalid, h.code("todo", "done", id, "1"), "only the chain head can be revised")
	assert.Equal(t, ExitInvalid, h.code("todo", "done", undone, "4"))
	assert.Equal(t, ExitInvalid, h.code("todo", "done", undone, "0"))
	assert.Equal(t, ExitUsage, h.code("todo", "done", undone, "first"))
	assert.Equal(t, ExitUsage, h.code("todo", "done", undone))
	assert.Equal(t, ExitNotFound, h.code("todo", "list", "0190a8f1-0000-7000-8000-000000000000"))

	h.ok("type", "add", "journal", "--field", "body:text")
	plain := strings.TrimSpace(h.ok("add", "journal", "-f", "body=no tasks here"))
	assert.Equal(t, ExitInvalid, h.code("todo", "list", plain))
}

func TestCLI_Doctor(t *testing.T) {
	h := newHarness(t)
	assert.Equal(t, ExitNotFound, h.code("doctor"))

	h.withJournal()
	out := h.ok("doctor")
	assert.Equal(t, fmt.Sprintf("Doctor: OK\n- config: OK (%s)\n- store: OK (%s)\n- integrity: OK\n", h.config, h.store), out)

	var res map[string]any
	require.NoError(t, json.Unmarshal([]byte(h.ok("--json", "doctor")), &res))
	assert.Equal(t, h.store, res["store"])
	assert.NotNil(t, res["integrity"])

	t.Setenv("LEDGER_PASSPHRASE", "not the passphrase")
	assert.Equal(t, ExitAuth, h.code("doctor"))
}

func TestRootCommand_Tree(t *testing.T) {
	root := NewRootCommand(&bytes.Buffer{})
	want := []string{
		"init", "add", "edit", "show", "list", "search", "history",
		"type", "template", "composition", "todo",
		"check", "doctor", "repair", "export", "import", "backup", "lock", "version", "cache-daemon",
	}
	for _, name := range want {
		cmd, _, err := root.Find([]string{name})
		require.NoError(t, err, name)
		assert.Equal(t, name, cmd.Name())
	}
	daemon, _, err := root.Find([]string{"cache-daemon"})
	require.NoError(t, err)
	assert.True(t, daemon.Hidden)
}
