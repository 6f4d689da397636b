package tool

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/javanhut/muninn/internal/engine"
	"github.com/javanhut/muninn/internal/fstree"
	"github.com/javanhut/muninn/internal/memo"
)

func openEngine(t *testing.T, base string) *engine.Engine {
	t.Helper()
	cfg := engine.DefaultConfig()
	cfg.DBRoot = filepath.Join(base, "build-files")
	cfg.SrcRoot = filepath.Join(base, "src")
	if err := os.MkdirAll(cfg.SrcRoot, 0755); err != nil {
		t.Fatal(err)
	}
	eng, err := engine.Open(cfg)
	if err != nil {
		t.Fatalf("failed to open engine: %v", err)
	}
	t.Cleanup(func() { eng.Close() })
	return eng
}

func collect(eng *engine.Engine) *[][2]string {
	var events [][2]string
	eng.Memo.SetTrace(func(ev memo.Event) {
		events = append(events, [2]string{string(ev.Kind), ev.Name})
	})
	return &events
}

func TestEchoIsMemoized(t *testing.T) {
	eng := openEngine(t, t.TempDir())
	events := collect(eng)
	runner := NewRunner(eng)

	res, err := runner.Run("echo", "hi")
	if err != nil {
		t.Fatalf("run failed: %v", err)
	}
	out, err := eng.FS.Bytes(res.Stdout)
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(out, []byte("hi\n")) {
		t.Errorf("stdout = %q, want %q", out, "hi\n")
	}
	if res.ExitCode != 0 {
		t.Errorf("exit code = %d", res.ExitCode)
	}

	res2, err := runner.Run("echo", "hi")
	if err != nil {
		t.Fatalf("replayed run failed: %v", err)
	}
	out2, err := eng.FS.Bytes(res2.Stdout)
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(out2, []byte("hi\n")) {
		t.Errorf("replayed stdout = %q", out2)
	}

	want := [][2]string{{"miss", "run_tool"}, {"store", "run_tool"}, {"hit", "run_tool"}}
	if len(*events) != len(want) {
		t.Fatalf("trace = %v, want %v", *events, want)
	}
	for i := range want {
		if (*events)[i] != want[i] {
			t.Fatalf("trace = %v, want %v", *events, want)
		}
	}
}

func TestOutputTreeIsRecorded(t *testing.T) {
	eng := openEngine(t, t.TempDir())
	runner := NewRunner(eng)

	res, err := runner.Run("sh", "-c", "echo payload > out.txt")
	if err != nil {
		t.Fatalf("run failed: %v", err)
	}
	n, err := res.Tree.Resolve("out.txt")
	if err != nil {
		t.Fatalf("out.txt missing from recorded tree: %v", err)
	}
	got, err := eng.FS.Bytes(n)
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(got, []byte("payload\n")) {
		t.Errorf("out.txt = %q", got)
	}
	// stdout/stderr files are part of the output directory.
	if _, err := res.Tree.Resolve("stdout"); err != nil {
		t.Error("stdout file missing from recorded tree")
	}
	if _, err := res.Tree.Resolve("stderr"); err != nil {
		t.Error("stderr file missing from recorded tree")
	}
}

func TestNonZeroExitIsData(t *testing.T) {
	eng := openEngine(t, t.TempDir())
	runner := NewRunner(eng)

	res, err := runner.Run("sh", "-c", "echo oops >&2; exit 3")
	if err != nil {
		t.Fatalf("non-zero exit should not be an error, got %v", err)
	}
	if res.ExitCode != 3 {
		t.Errorf("exit code = %d, want 3", res.ExitCode)
	}
	errOut, err := eng.FS.Bytes(res.Stderr)
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(errOut, []byte("oops\n")) {
		t.Errorf("stderr = %q", errOut)
	}
}

func TestMissingToolIsExternalError(t *testing.T) {
	eng := openEngine(t, t.TempDir())
	runner := NewRunner(eng)
	if _, err := runner.Run("muninn-no-such-tool-anywhere"); err == nil {
		t.Error("a missing binary should surface as an error")
	}
}

func TestCopiesShareMemoEntryAndCatConcatenates(t *testing.T) {
	base := t.TempDir()
	eng := openEngine(t, base)
	content := []byte("somefile contents\n")
	if err := os.WriteFile(filepath.Join(eng.Config.SrcRoot, "somefile"), content, 0644); err != nil {
		t.Fatal(err)
	}
	events := collect(eng)
	runner := NewRunner(eng)

	src, err := fstree.NewPath(fstree.RootSrc, "somefile")
	if err != nil {
		t.Fatal(err)
	}
	copyOnce := func() fstree.Node {
		res, err := runner.Run("cp", src, "out.txt")
		if err != nil {
			t.Fatalf("cp failed: %v", err)
		}
		n, err := res.Tree.Resolve("out.txt")
		if err != nil {
			t.Fatalf("copy output missing: %v", err)
		}
		return n
	}

	out1 := copyOnce()
	out2 := copyOnce() // identical invocation: shares the memo entry

	res, err := runner.Run("cat", out1, out2)
	if err != nil {
		t.Fatalf("cat failed: %v", err)
	}
	got, err := eng.FS.Bytes(res.Stdout)
	if err != nil {
		t.Fatal(err)
	}
	want := append(append([]byte{}, content...), content...)
	if !bytes.Equal(got, want) {
		t.Errorf("cat output = %q, want the source content twice", got)
	}

	wantTrace := [][2]string{
		{"miss", "run_tool"},
		{"store", "run_tool"},
		{"hit", "run_tool"},
		{"miss", "run_tool"},
		{"store", "run_tool"},
	}
	if len(*events) != len(wantTrace) {
		t.Fatalf("trace = %v, want %v", *events, wantTrace)
	}
	for i := range wantTrace {
		if (*events)[i] != wantTrace[i] {
			t.Fatalf("trace = %v, want %v", *events, wantTrace)
		}
	}
}

func TestGenPathsCannotBeInputs(t *testing.T) {
	eng := openEngine(t, t.TempDir())
	runner := NewRunner(eng)
	gen, err := fstree.NewPath(fstree.RootGen, "sneaky/out.txt")
	if err != nil {
		t.Fatal(err)
	}
	if _, err := runner.Run("cat", gen); err == nil {
		t.Error("a generated path must be rejected as a rule input")
	}
}
