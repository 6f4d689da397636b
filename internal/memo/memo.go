// Package memo implements invocation memoization over the object store.
//
// A memoized function has a stable identity digest. Each invocation is
// keyed by the digest of (function identity, args, kwargs); the memo
// table maps that key to the digest of the stored result. A hit decodes
// the stored result without running the function; a miss runs it, stores
// the result and records the pair. Digests flow transitively: a rule's
// key recursively depends on its callees' identities through the values
// it is passed.
package memo

import (
	"errors"
	"fmt"

	"github.com/javanhut/muninn/internal/cas"
	"github.com/javanhut/muninn/internal/codec"
	"github.com/javanhut/muninn/internal/sig"
	"github.com/javanhut/muninn/internal/store"
)

// ErrNotMemoized is returned by Get when no entry exists for a call.
var ErrNotMemoized = errors.New("no memoized value")

// BuildError is a rule-defined failure. It propagates out of the
// memoizer and is never cached.
type BuildError struct {
	Msg string
	Err error
}

func (e *BuildError) Error() string {
	if e.Err != nil {
		return e.Msg + ": " + e.Err.Error()
	}
	return e.Msg
}

func (e *BuildError) Unwrap() error { return e.Err }

// Buildf creates a BuildError.
func Buildf(format string, args ...any) *BuildError {
	return &BuildError{Msg: fmt.Sprintf(format, args...)}
}

// EventKind classifies a trace event.
type EventKind string

const (
	EventHit   EventKind = "hit"
	EventMiss  EventKind = "miss"
	EventStore EventKind = "store"
)

// Event records one memoizer action for tracing.
type Event struct {
	Kind   EventKind
	Name   string
	Call   sig.Sig
	Result sig.Sig
}

// TraceFunc observes memoizer events.
type TraceFunc func(Event)

// Ctx is passed to an executing rule on a miss. Call is the invocation
// digest; rules may use it to name outputs deterministically.
type Ctx struct {
	Call sig.Sig
}

// RuleFunc is the shape of a memoizable procedure.
type RuleFunc func(ctx *Ctx, args ...any) (any, error)

// Memoizer owns the persistent call-to-result table.
type Memoizer struct {
	db    *store.DB
	cas   *cas.Store
	trace TraceFunc
}

// New creates a memoizer over the given memo table and object store.
func New(db *store.DB, cs *cas.Store) *Memoizer {
	return &Memoizer{db: db, cas: cs}
}

// SetTrace installs a trace observer (nil disables tracing).
func (m *Memoizer) SetTrace(t TraceFunc) { m.trace = t }

func (m *Memoizer) emit(ev Event) {
	if m.trace != nil {
		m.trace(ev)
	}
}

// Func is a memoized procedure with a stable identity digest.
type Func struct {
	m    *Memoizer
	name string
	sum  sig.Sig
	fn   RuleFunc
}

// Func wraps fn as a memoized procedure. Its identity digest is derived
// from the explicit (module, name, version) triple; change the version
// whenever the procedure's behavior changes.
func (m *Memoizer) Func(module, name, version string, fn RuleFunc) *Func {
	h, err := codec.SigOf(codec.FuncVal{Module: module, Name: name, Version: version})
	if err != nil {
		// FuncVal serialization is total; failure is an invariant break.
		panic("memo: " + err.Error())
	}
	return &Func{m: m, name: name, sum: h, fn: fn}
}

// FuncWithSig wraps fn with a fixed identity digest, standing in for the
// function it was taken from.
func (m *Memoizer) FuncWithSig(name string, h sig.Sig, fn RuleFunc) *Func {
	return &Func{m: m, name: name, sum: h, fn: fn}
}

// Sig returns the function's identity digest.
func (f *Func) Sig() sig.Sig { return f.sum }

// Name returns the function's short name.
func (f *Func) Name() string { return f.name }

// Call invokes the memoized function with positional arguments.
func (f *Func) Call(args ...any) (any, error) {
	return f.CallKw(nil, args...)
}

// CallKw invokes the memoized function with keyword and positional
// arguments. Keyword ordering never affects the invocation digest.
func (f *Func) CallKw(kwargs map[string]any, args ...any) (any, error) {
	kw := codec.MapOf(kwargs)
	callSig, err := codec.SigOf(codec.Tuple{f.sum, codec.Tuple(args), kw})
	if err != nil {
		return nil, fmt.Errorf("failed to sign call to %s: %w", f.name, err)
	}

	stored, err := f.m.db.Get(callSig.Bytes())
	if err == nil {
		resSig, err := sig.FromBytes(stored)
		if err != nil {
			return nil, fmt.Errorf("corrupt memo entry for %s: %w", f.name, err)
		}
		f.m.emit(Event{Kind: EventHit, Name: f.name, Call: callSig, Result: resSig})
		return codec.Decode(f.m.cas, resSig)
	}
	if !errors.Is(err, store.ErrNotFound) {
		return nil, err
	}

	f.m.emit(Event{Kind: EventMiss, Name: f.name, Call: callSig})
	v, err := f.fn(&Ctx{Call: callSig}, args...)
	if err != nil {
		// Build errors and external errors both propagate uncached.
		return nil, err
	}
	resSig, err := codec.Encode(f.m.cas, v)
	if err != nil {
		return nil, fmt.Errorf("failed to store result of %s: %w", f.name, err)
	}
	if err := f.m.db.Put(callSig.Bytes(), resSig.Bytes()); err != nil {
		return nil, err
	}
	f.m.emit(Event{Kind: EventStore, Name: f.name, Call: callSig, Result: resSig})
	return v, nil
}

// Get returns the memoized result for a call without invoking anything,
// or ErrNotMemoized.
func (m *Memoizer) Get(fnSig sig.Sig, args ...any) (any, error) {
	callSig, err := codec.SigOf(codec.Tuple{fnSig, codec.Tuple(args), codec.MapOf(nil)})
	if err != nil {
		return nil, err
	}
	stored, err := m.db.Get(callSig.Bytes())
	if errors.Is(err, store.ErrNotFound) {
		return nil, ErrNotMemoized
	}
	if err != nil {
		return nil, err
	}
	resSig, err := sig.FromBytes(stored)
	if err != nil {
		return nil, err
	}
	return codec.Decode(m.cas, resSig)
}
