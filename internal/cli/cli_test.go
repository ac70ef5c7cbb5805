package cli

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"syscall"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/require"

	"github.com/calvinalkan/tagstore/internal/store"
	"github.com/calvinalkan/tagstore/internal/tags"
)

func Test_Run_Prints_Usage_When_No_Command_Given(t *testing.T) {
	t.Parallel()

	c := NewCLI(t)

	stdout := c.MustRun()
	AssertContains(t, stdout, "Usage: tagd")

	for _, name := range []string{"serve", "get <group>", "add <group> <tag>...", "ls", "compact <group>", "shell", "print-config"} {
		AssertContains(t, stdout, name)
	}

	AssertContains(t, c.MustRun("--help"), "Commands:")
}

func Test_Run_Fails_When_Arguments_Are_Wrong(t *testing.T) {
	t.Parallel()

	testCases := []struct {
		name    string
		args    []string
		wantErr string
	}{
		{name: "UnknownCommand", args: []string{"frobnicate"}, wantErr: "unknown command: frobnicate"},
		{name: "UnknownGlobalFlag", args: []string{"--verbose", "ls"}, wantErr: "unknown flag: --verbose"},
		{name: "ConfigWithoutValue", args: []string{"-c"}, wantErr: "flag requires an argument: -c"},
		{name: "GetWithoutGroup", args: []string{"get"}, wantErr: "missing arguments: get"},
		{name: "AddWithoutTags", args: []string{"add", "team1"}, wantErr: "missing arguments: add"},
		{name: "UnknownCommandFlag", args: []string{"ls", "--long"}, wantErr: "unknown flag: --long"},
		{name: "InvalidGroup", args: []string{"get", "team-1"}, wantErr: "invalid group id"},
		{name: "MissingConfigFile", args: []string{"-c", "nope.json", "ls"}, wantErr: "config file not found"},
	}

	for _, testCase := range testCases {
		t.Run(testCase.name, func(t *testing.T) {
			t.Parallel()

			c := NewCLI(t)

			stderr := c.MustFail(testCase.args...)
			AssertContains(t, stderr, testCase.wantErr)
		})
	}
}

func Test_Command_Prints_Help_When_Help_Flag_Given(t *testing.T) {
	t.Parallel()

	c := NewCLI(t)

	stdout := c.MustRun("serve", "--help")
	AssertContains(t, stdout, "Usage: tagd serve [flags]")
	AssertContains(t, stdout, "--listen")
	AssertContains(t, stdout, "--mount")
}

func Test_Add_Then_Get_Prints_Sorted_Unique_Tags(t *testing.T) {
	t.Parallel()

	c := NewCLI(t)

	added := c.MustRun("add", "team1", "Rust", " go ", "Go", "  ")
	if diff := cmp.Diff("Rust\ngo", added); diff != "" {
		t.Fatalf("add output mismatch (-want +got):\n%s", diff)
	}

	if got := c.MustRun("add", "team1", "RUST", "zig"); got != "zig" {
		t.Fatalf("second add=%q, want zig", got)
	}

	if got, want := c.ReadGroup("team1"), "Rust\ngo\nzig"; got != want {
		t.Fatalf("file=%q, want %q", got, want)
	}

	if diff := cmp.Diff("Rust\ngo\nzig", c.MustRun("get", "team1")); diff != "" {
		t.Fatalf("get output mismatch (-want +got):\n%s", diff)
	}
}

func Test_Get_Fails_When_Group_Has_No_File(t *testing.T) {
	t.Parallel()

	c := NewCLI(t)

	stderr := c.MustFail("get", "ghost")
	AssertContains(t, stderr, "group not found: ghost")
}

func Test_Ls_Lists_Groups_With_Counts(t *testing.T) {
	t.Parallel()

	c := NewCLI(t)
	c.WriteGroup("beta", "x")
	c.WriteGroup("alpha", "a\nb\nA\r\n")
	c.WriteGroup("skip-me", "ignored")

	if diff := cmp.Diff("alpha\t2\nbeta\t1", c.MustRun("ls")); diff != "" {
		t.Fatalf("ls output mismatch (-want +got):\n%s", diff)
	}
}

func Test_Compact_Removes_Duplicate_Lines(t *testing.T) {
	t.Parallel()

	c := NewCLI(t)
	c.WriteGroup("g", "x\nX\ny\n\nx")

	if got, want := c.MustRun("compact", "g"), "g: removed 2 duplicate lines"; got != want {
		t.Fatalf("compact=%q, want %q", got, want)
	}

	if got, want := c.ReadGroup("g"), "x\ny"; got != want {
		t.Fatalf("file=%q, want %q", got, want)
	}

	AssertContains(t, c.MustFail("compact", "missing"), "group not found")
}

func Test_Add_Warns_And_Exits_1_When_File_Is_Locked(t *testing.T) {
	t.Parallel()

	c := NewCLI(t)
	c.WriteConfig(`{"lock_retries": 1, "lock_min_backoff": "5ms"}`)

	require.NoError(t, os.MkdirAll(c.TagsDir(), 0o755))

	lockPath := filepath.Join(c.TagsDir(), tags.FileName("g")+".lock")
	require.NoError(t, os.WriteFile(lockPath, []byte(strconv.Itoa(os.Getpid())+" held\n"), 0o600))

	stdout, stderr, code := c.Run("add", "g", "x")
	if code != 1 {
		t.Fatalf("code=%d, want 1\nstderr: %s", code, stderr)
	}

	if strings.TrimSpace(stdout) != "x" {
		t.Fatalf("stdout=%q, want the tag still reported", stdout)
	}

	AssertContains(t, stderr, "warning: tags not written to tags_g.txt (file is locked by another writer)")
	AssertContains(t, stderr, "run the same add again")

	if _, err := os.Stat(filepath.Join(c.TagsDir(), tags.FileName("g"))); !os.IsNotExist(err) {
		t.Fatalf("storage file exists after contended add: %v", err)
	}
}

func Test_Global_Tags_Dir_Flag_Overrides_Config(t *testing.T) {
	t.Parallel()

	c := NewCLI(t)
	c.WriteConfig(`{"tags_dir": "from-config"}`)

	c.MustRun("--tags-dir", "from-flag", "add", "g", "t")

	if _, err := os.Stat(filepath.Join(c.Dir, "from-flag", tags.FileName("g"))); err != nil {
		t.Fatalf("flag dir not used: %v", err)
	}

	if _, err := os.Stat(filepath.Join(c.Dir, "from-config")); !os.IsNotExist(err) {
		t.Fatalf("config dir created: %v", err)
	}
}

func Test_Print_Config_Shows_Values_And_Sources(t *testing.T) {
	t.Parallel()

	c := NewCLI(t)

	stdout := c.MustRun("print-config")
	AssertContains(t, stdout, "tags_dir="+c.TagsDir())
	AssertContains(t, stdout, "listen=:3000")
	AssertContains(t, stdout, "lock_backoff_factor=1.2")
	AssertContains(t, stdout, "(defaults only)")

	c.WriteConfig(`{"debounce": "50ms"}`)
	c.Env["PORT"] = "8081"

	stdout = c.MustRun("print-config")
	AssertContains(t, stdout, "debounce=50ms")
	AssertContains(t, stdout, "listen=:8081")
	AssertContains(t, stdout, "project_config="+filepath.Join(c.Dir, ".tagd.json"))
	AssertContains(t, stdout, "env=PORT")
	AssertNotContains(t, stdout, "(defaults only)")
}

func Test_Print_Config_Fails_When_Config_Invalid(t *testing.T) {
	t.Parallel()

	c := NewCLI(t)
	c.WriteConfig(`{"log_level": "loud"}`)

	AssertContains(t, c.MustFail("print-config"), "config:")
}

type scriptedPrompter struct {
	lines   []string
	history []string
}

func (p *scriptedPrompter) Prompt(string) (string, error) {
	if len(p.lines) == 0 {
		return "", io.EOF
	}

	line := p.lines[0]
	p.lines = p.lines[1:]

	return line, nil
}

func (p *scriptedPrompter) AppendHistory(item string) {
	p.history = append(p.history, item)
}

func openShellStore(t *testing.T) *store.Store {
	t.Helper()

	st, err := store.Open(t.TempDir(), store.Options{Debounce: 20 * time.Millisecond})
	require.NoError(t, err)

	t.Cleanup(func() { _ = st.Close() })

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	require.NoError(t, st.WaitReady(ctx))

	return st
}

func Test_Shell_Runs_Commands_Until_EOF(t *testing.T) {
	t.Parallel()

	st := openShellStore(t)

	var out, errOut bytes.Buffer

	sh := &shell{st: st, o: NewIO(&out, &errOut)}
	p := &scriptedPrompter{lines: []string{
		"add team1 Go rust go",
		"",
		"GET team1",
		"ls",
		"get",
		"get nobody",
		"bogus",
		"help",
	}}

	require.NoError(t, sh.loop(context.Background(), p))

	stdout := out.String()
	AssertContains(t, stdout, "Go\nrust\n")
	AssertContains(t, stdout, "team1\t2\n")
	AssertContains(t, stdout, "Unknown command: bogus")
	AssertContains(t, stdout, "compact <group>")
	AssertContains(t, stdout, "Bye!")

	AssertContains(t, errOut.String(), "error: missing arguments: get <group>")
	AssertContains(t, errOut.String(), "error: group not found: nobody")

	if len(p.history) != 7 {
		t.Fatalf("history=%v, want 7 non-empty lines", p.history)
	}
}

func Test_Shell_Stops_On_Exit(t *testing.T) {
	t.Parallel()

	st := openShellStore(t)

	var out bytes.Buffer

	sh := &shell{st: st, o: NewIO(&out, io.Discard)}
	p := &scriptedPrompter{lines: []string{"quit", "add g never"}}

	require.NoError(t, sh.loop(context.Background(), p))

	if len(p.lines) != 1 {
		t.Fatalf("remaining=%v, want the line after quit unread", p.lines)
	}

	groups, err := st.Groups()
	require.NoError(t, err)
	require.Empty(t, groups)
}

func Test_Shell_Completes_Commands_And_Group_IDs(t *testing.T) {
	t.Parallel()

	st := openShellStore(t)

	_, err := st.AddTags(context.Background(), "team1", []string{"a"})
	require.NoError(t, err)
	_, err = st.AddTags(context.Background(), "team2", []string{"b"})
	require.NoError(t, err)
	_, err = st.AddTags(context.Background(), "other", []string{"c"})
	require.NoError(t, err)

	sh := &shell{st: st, o: NewIO(io.Discard, io.Discard)}

	testCases := []struct {
		line string
		want []string
	}{
		{line: "co", want: []string{"compact"}},
		{line: "q", want: []string{"quit", "q"}},
		{line: "get te", want: []string{"get team1", "get team2"}},
		{line: "compact o", want: []string{"compact other"}},
		{line: "ls te", want: nil},
		{line: "add team1 x", want: nil},
	}

	for _, testCase := range testCases {
		if diff := cmp.Diff(testCase.want, sh.complete(testCase.line)); diff != "" {
			t.Errorf("complete(%q) mismatch (-want +got):\n%s", testCase.line, diff)
		}
	}
}

// syncBuffer is a bytes.Buffer safe for a concurrent writer and reader.
type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()

	return b.buf.String()
}

func Test_Serve_Serves_Tags_Until_Signal(t *testing.T) {
	t.Parallel()

	c := NewCLI(t)
	c.WriteGroup("team1", "Go")

	var stdout, stderr syncBuffer

	sigCh := make(chan os.Signal, 1)
	done := make(chan int, 1)

	go func() {
		args := []string{"tagd", "--cwd", c.Dir, "serve", "--listen", "127.0.0.1:0", "--mount", "api/tags"}
		done <- Run(nil, &stdout, &stderr, args, c.Env, sigCh)
	}()

	var base string

	require.Eventually(t, func() bool {
		line, ok := strings.CutPrefix(strings.TrimSpace(stdout.String()), "listening on ")
		if ok {
			base = "http://" + line
		}

		return ok
	}, 5*time.Second, 10*time.Millisecond, "server never listened\nstderr: %s", stderr.String())

	if !strings.HasSuffix(base, "/api/tags") {
		t.Fatalf("base=%q, want mount /api/tags", base)
	}

	resp, err := http.Post(base+"/team1", "application/json", strings.NewReader(`["rust","GO"]`))
	require.NoError(t, err)
	_ = resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	resp, err = http.Get(base + "/team1")
	require.NoError(t, err)

	body, err := io.ReadAll(resp.Body)
	_ = resp.Body.Close()

	require.NoError(t, err)
	require.JSONEq(t, `["Go","rust"]`, string(body))

	resp, err = http.Get(strings.TrimSuffix(base, "/api/tags") + "/metrics")
	require.NoError(t, err)

	body, err = io.ReadAll(resp.Body)
	_ = resp.Body.Close()

	require.NoError(t, err)
	AssertContains(t, string(body), "tagstore_tags_added_total 1")
	AssertContains(t, string(body), "go_goroutines")

	sigCh <- syscall.SIGTERM

	select {
	case code := <-done:
		if code != 0 {
			t.Fatalf("serve exit code=%d\nstderr: %s", code, stderr.String())
		}
	case <-time.After(10 * time.Second):
		t.Fatal("serve did not stop after signal")
	}

	if got, want := c.ReadGroup("team1"), "Go\nrust"; got != want {
		t.Fatalf("file=%q, want %q", got, want)
	}
}
