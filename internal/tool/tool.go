// Package tool runs external commands under memoization.
//
// Each run gets a fresh random output directory under the gen root:
// stdin comes from /dev/null, stdout and stderr are redirected to files
// inside the directory, and the working directory of the command is the
// directory itself. The recorded result is the tree of the directory
// after the run plus the stdout/stderr blobs. A non-zero exit is data,
// not an error: stderr is echoed and the result returned; the caller
// decides what failure means.
package tool

import (
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"

	"github.com/javanhut/muninn/internal/codec"
	"github.com/javanhut/muninn/internal/engine"
	"github.com/javanhut/muninn/internal/fstree"
	"github.com/javanhut/muninn/internal/memo"
)

// runToolVersion is the explicit identity version of the run_tool rule.
// Bump it when the execution contract changes.
const runToolVersion = "1"

// RunResult is the recorded outcome of one tool run.
type RunResult struct {
	Tree     *fstree.Tree // output directory contents after the run
	Stdout   *fstree.Blob
	Stderr   *fstree.Blob
	ExitCode int64
}

func init() {
	codec.RegisterType(&RunResult{}, &codec.TypeCodec{
		Module: "tool",
		Name:   "RunResult",
		Encode: func(v any) ([]any, error) {
			r := v.(*RunResult)
			return []any{r.Tree, r.Stdout, r.Stderr, r.ExitCode}, nil
		},
		Decode: func(parts []any) (any, error) {
			if len(parts) != 4 {
				return nil, fmt.Errorf("run result has %d parts, want 4", len(parts))
			}
			tree, ok := parts[0].(*fstree.Tree)
			if !ok {
				return nil, fmt.Errorf("run result tree is %T", parts[0])
			}
			stdout, ok := parts[1].([]byte)
			if !ok {
				return nil, fmt.Errorf("run result stdout is %T", parts[1])
			}
			stderr, ok := parts[2].([]byte)
			if !ok {
				return nil, fmt.Errorf("run result stderr is %T", parts[2])
			}
			code, ok := parts[3].(int64)
			if !ok {
				return nil, fmt.Errorf("run result exit code is %T", parts[3])
			}
			return &RunResult{
				Tree:     tree,
				Stdout:   fstree.NewBlob(stdout),
				Stderr:   fstree.NewBlob(stderr),
				ExitCode: code,
			}, nil
		},
	})
}

// Runner executes tools through the engine's memoizer.
type Runner struct {
	eng *engine.Engine
	run *memo.Func
}

// NewRunner creates a runner bound to eng.
func NewRunner(eng *engine.Engine) *Runner {
	r := &Runner{eng: eng}
	r.run = eng.Memo.Func("tool", "run_tool", runToolVersion, r.impl)
	return r
}

// RunToolFunc exposes the underlying memoized function, e.g. for tracing.
func (r *Runner) RunToolFunc() *memo.Func { return r.run }

// Run invokes a command under memoization. Arguments may be strings,
// fstree.Path values or blob nodes; non-string arguments are part of the
// invocation signature as values, so a generated path used as an input is
// rejected when the call is signed.
func (r *Runner) Run(args ...any) (*RunResult, error) {
	if len(args) == 0 {
		return nil, memo.Buildf("run_tool needs a command")
	}
	out, err := r.run.Call(args...)
	if err != nil {
		return nil, err
	}
	res, ok := out.(*RunResult)
	if !ok {
		return nil, fmt.Errorf("memoized run_tool returned %T", out)
	}
	return res, nil
}

// argString resolves one command-line argument to its string form.
func (r *Runner) argString(arg any) (string, error) {
	switch a := arg.(type) {
	case string:
		return a, nil
	case fstree.Path:
		return r.eng.FS.Abs(a)
	case *fstree.Blob, *fstree.XBlob:
		return r.eng.FS.BlobPath(a.(fstree.Node))
	default:
		return "", fmt.Errorf("cannot use %T as a command line argument", arg)
	}
}

func (r *Runner) impl(ctx *memo.Ctx, args ...any) (any, error) {
	strargs := make([]string, len(args))
	for i, a := range args {
		s, err := r.argString(a)
		if err != nil {
			return nil, err
		}
		strargs[i] = s
	}

	odir, err := r.eng.FS.MakeOutputDir()
	if err != nil {
		return nil, err
	}
	odirAbs, err := r.eng.FS.Abs(odir)
	if err != nil {
		return nil, err
	}
	stdoutPath := filepath.Join(odirAbs, "stdout")
	stderrPath := filepath.Join(odirAbs, "stderr")

	stdin, err := os.Open(os.DevNull)
	if err != nil {
		return nil, err
	}
	defer stdin.Close()
	stdout, err := os.Create(stdoutPath)
	if err != nil {
		return nil, err
	}
	defer stdout.Close()
	stderr, err := os.Create(stderrPath)
	if err != nil {
		return nil, err
	}
	defer stderr.Close()

	cmd := exec.Command(strargs[0], strargs[1:]...)
	cmd.Dir = odirAbs
	cmd.Stdin = stdin
	cmd.Stdout = stdout
	cmd.Stderr = stderr

	var exitCode int64
	if err := cmd.Run(); err != nil {
		var ee *exec.ExitError
		if !errors.As(err, &ee) {
			return nil, fmt.Errorf("failed to run %s: %w", strargs[0], err)
		}
		exitCode = int64(ee.ExitCode())
	}
	if err := stdout.Sync(); err != nil {
		return nil, err
	}
	if err := stderr.Sync(); err != nil {
		return nil, err
	}

	stderrBytes, err := os.ReadFile(stderrPath)
	if err != nil {
		return nil, err
	}
	if exitCode != 0 {
		os.Stderr.Write(stderrBytes)
	}
	stdoutBytes, err := os.ReadFile(stdoutPath)
	if err != nil {
		return nil, err
	}

	node, err := r.eng.FS.Scan(odir)
	if err != nil {
		return nil, err
	}
	tree, ok := node.(*fstree.Tree)
	if !ok {
		return nil, fmt.Errorf("output directory %s is not a directory", odir)
	}
	return &RunResult{
		Tree:     tree,
		Stdout:   fstree.NewBlob(stdoutBytes),
		Stderr:   fstree.NewBlob(stderrBytes),
		ExitCode: exitCode,
	}, nil
}
