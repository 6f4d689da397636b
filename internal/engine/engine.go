// Package engine ties the subsystems together: it owns the configured
// roots and the lifecycle of the object store, the memo table, the stat
// cache and the materializer.
package engine

import (
	"io"
	"os"
	"path/filepath"

	"github.com/javanhut/muninn/internal/cas"
	"github.com/javanhut/muninn/internal/fstree"
	"github.com/javanhut/muninn/internal/memo"
	"github.com/javanhut/muninn/internal/store"
)

// Engine is the process-wide build engine state. Open constructs the
// subsystems in order; Close tears them down in reverse.
type Engine struct {
	Config Config

	CAS  *cas.Store
	Memo *memo.Memoizer
	FS   *fstree.FS

	closers []io.Closer
}

// Open expands cfg and initializes every subsystem.
func Open(cfg Config) (*Engine, error) {
	cfg, err := cfg.expand()
	if err != nil {
		return nil, err
	}
	for _, dir := range []string{cfg.CasRoot, cfg.GenRoot, cfg.OutRoot} {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, err
		}
	}

	e := &Engine{Config: cfg}
	cs, err := cas.Open(cfg.CasRoot)
	if err != nil {
		return nil, err
	}
	e.CAS = cs
	e.closers = append(e.closers, cs)

	memoDB, err := store.Open(filepath.Join(cfg.CasRoot, "memo_db"), "memo")
	if err != nil {
		e.Close()
		return nil, err
	}
	e.closers = append(e.closers, memoDB)
	e.Memo = memo.New(memoDB, cs)

	e.FS = fstree.NewFS(fstree.Roots{
		Src: cfg.SrcRoot,
		Gen: cfg.GenRoot,
		Out: cfg.OutRoot,
		Cas: cfg.CasRoot,
	}, cs)
	return e, nil
}

// Close shuts down the subsystems in reverse initialization order.
// The engine can be reopened with Open afterwards.
func (e *Engine) Close() error {
	var first error
	for i := len(e.closers) - 1; i >= 0; i-- {
		if err := e.closers[i].Close(); err != nil && first == nil {
			first = err
		}
	}
	e.closers = nil
	e.CAS = nil
	e.Memo = nil
	e.FS = nil
	return first
}

// SrcPath returns a path under the source root.
func (e *Engine) SrcPath(rel string) (fstree.Path, error) {
	return fstree.NewPath(fstree.RootSrc, rel)
}

// OutPath returns a path under the output root.
func (e *Engine) OutPath(rel string) (fstree.Path, error) {
	return fstree.NewPath(fstree.RootOut, rel)
}
