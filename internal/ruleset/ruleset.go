// Package ruleset loads named rule modules.
//
// A rule module is addressed as root.<dot-path> and is anchored at the
// BUILD file {src_root}/<slash-path>/BUILD. Loading requires the BUILD
// file to exist, binds the module's Loc to the tree of the surrounding
// directory, and versions the module by the BUILD file's content digest,
// so editing the file invalidates the module's memoized rules.
//
// Module bodies are Go functions declared through Register: the host
// language cannot evaluate rule source at run time, so registration
// stands in for evaluation while the loading contract stays the same —
// a failed setup removes the partial module from the registry.
package ruleset

import (
	"fmt"
	"os"
	"strings"

	"github.com/javanhut/muninn/internal/engine"
	"github.com/javanhut/muninn/internal/fstree"
	"github.com/javanhut/muninn/internal/memo"
	"github.com/javanhut/muninn/internal/sig"
)

// SetupFunc populates a rule module when it is loaded.
type SetupFunc func(*Module) error

var registry = map[string]SetupFunc{}

// Register declares the body of a rule module. Typically called from an
// init function.
func Register(name string, setup SetupFunc) {
	if _, dup := registry[name]; dup {
		panic(fmt.Sprintf("ruleset: duplicate module %s", name))
	}
	registry[name] = setup
}

// Module is a loaded rule module.
type Module struct {
	Name    string       // e.g. "root.foo.bar"
	Dir     fstree.Path  // source directory the BUILD file lives in
	Loc     *fstree.Tree // tree of that directory at load time
	Version string       // BUILD file content digest, hex

	eng   *engine.Engine
	funcs map[string]*memo.Func
}

// Engine returns the engine the module was loaded into.
func (m *Module) Engine() *engine.Engine { return m.eng }

// Func defines a memoized rule in this module. The rule's identity is
// (module name, rule name, module version).
func (m *Module) Func(name string, fn memo.RuleFunc) *memo.Func {
	f := m.eng.Memo.Func(m.Name, name, m.Version, fn)
	m.funcs[name] = f
	return f
}

// Rule returns a previously defined rule by name.
func (m *Module) Rule(name string) (*memo.Func, bool) {
	f, ok := m.funcs[name]
	return f, ok
}

// Loader resolves and caches rule modules for one engine.
type Loader struct {
	eng    *engine.Engine
	loaded map[string]*Module
}

// NewLoader creates a loader bound to eng.
func NewLoader(eng *engine.Engine) *Loader {
	return &Loader{eng: eng, loaded: make(map[string]*Module)}
}

// Load resolves a module by name, loading it on first use.
func (l *Loader) Load(name string) (*Module, error) {
	if m, ok := l.loaded[name]; ok {
		return m, nil
	}

	parts := strings.Split(name, ".")
	if len(parts) == 0 || parts[0] != "root" {
		return nil, fmt.Errorf("rule module name %q must start with \"root\"", name)
	}
	rel := strings.Join(parts[1:], "/")
	dir, err := fstree.NewPath(fstree.RootSrc, rel)
	if err != nil {
		return nil, err
	}
	buildAbs, err := l.eng.FS.Abs(dir.Join("BUILD"))
	if err != nil {
		return nil, err
	}
	src, err := os.ReadFile(buildAbs)
	if err != nil {
		return nil, fmt.Errorf("no build file for %s: %w", name, err)
	}

	setup, ok := registry[name]
	if !ok {
		return nil, fmt.Errorf("rule module %s is not registered", name)
	}

	node, err := l.eng.FS.Scan(dir)
	if err != nil {
		return nil, fmt.Errorf("failed to scan %s: %w", dir, err)
	}
	loc, ok := node.(*fstree.Tree)
	if !ok {
		return nil, fmt.Errorf("%s is not a directory", dir)
	}

	m := &Module{
		Name:    name,
		Dir:     dir,
		Loc:     loc,
		Version: sig.HashBytes(src, 0).String(),
		eng:     l.eng,
		funcs:   make(map[string]*memo.Func),
	}
	l.loaded[name] = m
	if err := setup(m); err != nil {
		delete(l.loaded, name)
		return nil, fmt.Errorf("failed to load %s: %w", name, err)
	}
	return m, nil
}
