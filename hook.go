// Package inlinehook redirects x86 functions at the machine-code level.
//
// Installing a hook overwrites the first instructions of the target function
// with a 5-byte near jump to the replacement. The overwritten ("stolen")
// instructions are relocated into a trampoline followed by a jump back into
// the rest of the target, so the original behavior stays callable through
// FindOriginal.
//
// Patching a function while another goroutine or thread executes its first
// bytes is not synchronized. Callers that need that must quiesce other
// threads themselves.
package inlinehook

import (
	"sync"

	"github.com/cockroachdb/errors"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/atomic"
	"go.uber.org/zap"

	"github.com/k2io/inlinehook/internal/memory"
	"github.com/k2io/inlinehook/internal/reentry"
	"github.com/k2io/inlinehook/internal/rwlock"
	"github.com/k2io/inlinehook/internal/table"
	"github.com/k2io/inlinehook/internal/x86"
)

// DefaultCapacity is the number of hooks an Engine holds unless WithCapacity
// says otherwise.
const DefaultCapacity = 512

var (
	// ErrDecode means an instruction at the hook site could not be decoded
	ErrDecode = errors.New("decode failure")
	// ErrRelocation means a stolen instruction cannot be moved to the trampoline
	ErrRelocation = errors.New("relocation failure")
	// ErrCapacityExceeded means the registry is full
	ErrCapacityExceeded = errors.New("hook capacity exceeded")
	// ErrDoubleHook means already hooked
	ErrDoubleHook = errors.New("double hook")
	// ErrHookNotFound means the hook not found
	ErrHookNotFound = errors.New("hook not found")
	// ErrMemory means allocating or protecting memory failed
	ErrMemory = errors.New("memory service failure")
	// ErrNullAddress means a target or replacement address is zero
	ErrNullAddress = errors.New("null address")
	// ErrSameAddress means target and replacement are the same function
	ErrSameAddress = errors.New("target and replacement are the same")
	// ErrReturnInPrologue means the function returns before 5 bytes
	ErrReturnInPrologue = errors.New("return before enough bytes to patch")
	// ErrUnsupportedMode means the operation needs another instruction mode
	ErrUnsupportedMode = errors.New("unsupported instruction mode")
	// ErrDifferentType means from and to are of different types
	ErrDifferentType = errors.New("inputs are of different type")
	// ErrInputType means inputs are not func type
	ErrInputType = errors.New("inputs are not func type")
)

// record is what the registry keeps for an installed hook. The backup bytes
// live inside the trampoline allocation.
type record struct {
	trampoline uintptr
	allocSize  int
	backup     uintptr
	stolen     int
	count      int
	entry      uintptr
	reentrant  bool
	loop       loopback
}

// Hook is a snapshot of an installed hook.
type Hook struct {
	Target uintptr
	// Trampoline runs the original function.
	Trampoline uintptr
	// Entry is where the patched site jumps: the replacement, or the
	// reentrancy preamble.
	Entry uintptr
	// Backup holds the bytes the site had before patching.
	Backup       []byte
	Instructions int
	Reentrant    bool
	// GrowthJump is the stack-growth tail jump sent back to the trampoline,
	// or 0 when the target has none.
	GrowthJump uintptr
}

// Engine is a hook registry together with the installer that fills it. All
// methods are safe for concurrent use.
type Engine struct {
	mode    x86.Mode
	mem     memory.Provider
	lock    *rwlock.Sharded
	hooks   *table.Table[record]
	tracker *reentry.Tracker
	metrics *metrics
	logger  atomic.Pointer[zap.Logger]
}

type config struct {
	capacity   int
	mode       x86.Mode
	mem        memory.Provider
	logger     *zap.Logger
	registerer prometheus.Registerer
}

// Option configures New.
type Option func(*config)

// WithCapacity sets the maximum number of simultaneously installed hooks.
func WithCapacity(n int) Option {
	return func(c *config) { c.capacity = n }
}

// WithMode selects the instruction set width of the code being patched.
func WithMode(m x86.Mode) Option {
	return func(c *config) { c.mode = m }
}

// WithMemory replaces the operating system memory provider.
func WithMemory(p memory.Provider) Option {
	return func(c *config) { c.mem = p }
}

// WithLogger sets the logger used for install and remove diagnostics.
func WithLogger(l *zap.Logger) Option {
	return func(c *config) { c.logger = l }
}

// WithRegisterer registers the engine's collectors with r.
func WithRegisterer(r prometheus.Registerer) Option {
	return func(c *config) { c.registerer = r }
}

// New builds an Engine. The registry is sized once and never grows.
func New(opts ...Option) (*Engine, error) {
	c := config{
		capacity: DefaultCapacity,
		mode:     x86.HostMode(),
	}
	for _, opt := range opts {
		opt(&c)
	}
	if c.capacity <= 0 {
		return nil, errors.Newf("capacity must be positive, got %d", c.capacity)
	}
	if c.mode != x86.Mode32 && c.mode != x86.Mode64 {
		return nil, errors.Mark(errors.Newf("mode %d", int(c.mode)), ErrUnsupportedMode)
	}
	if c.mem == nil {
		c.mem = memory.NewSystem()
	}
	if c.logger == nil {
		c.logger = zap.NewNop()
	}
	m, err := newMetrics(c.registerer)
	if err != nil {
		return nil, err
	}
	e := &Engine{
		mode:    c.mode,
		mem:     c.mem,
		lock:    rwlock.New(),
		hooks:   table.New[record](c.capacity),
		tracker: reentry.NewTracker(reentry.DefaultCapacity),
		metrics: m,
	}
	e.logger.Store(c.logger)
	return e, nil
}

var (
	defaultOnce   sync.Once
	defaultEngine *Engine
)

// Default returns the process-wide engine, creating it on first use.
func Default() *Engine {
	defaultOnce.Do(func() {
		e, err := New()
		if err != nil {
			panic(err)
		}
		defaultEngine = e
	})
	return defaultEngine
}

// Install hooks target on the default engine.
func Install(target, replacement uintptr) error {
	return Default().Install(target, replacement)
}

// Remove unhooks target on the default engine.
func Remove(target uintptr) error {
	return Default().Remove(target)
}

// FindOriginal returns the trampoline for target on the default engine, or 0.
func FindOriginal(target uintptr) uintptr {
	return Default().FindOriginal(target)
}

// Mode reports the instruction set width the engine decodes.
func (e *Engine) Mode() x86.Mode { return e.mode }

// FindOriginal returns the address that runs target's original code, or 0
// when target is not hooked.
func (e *Engine) FindOriginal(target uintptr) uintptr {
	e.lock.RLock()
	defer e.lock.RUnlock()
	rec, ok := e.hooks.Find(target)
	if !ok {
		return 0
	}
	return rec.trampoline
}

// Lookup returns a snapshot of the hook on target.
func (e *Engine) Lookup(target uintptr) (Hook, bool) {
	e.lock.RLock()
	defer e.lock.RUnlock()
	rec, ok := e.hooks.Find(target)
	if !ok {
		return Hook{}, false
	}
	return Hook{
		Target:       target,
		Trampoline:   rec.trampoline,
		Entry:        rec.entry,
		Backup:       append([]byte(nil), memory.Bytes(rec.backup, rec.stolen)...),
		Instructions: rec.count,
		Reentrant:    rec.reentrant,
		GrowthJump:   rec.loop.addr,
	}, true
}

// Len returns the number of installed hooks.
func (e *Engine) Len() int {
	e.lock.RLock()
	defer e.lock.RUnlock()
	return e.hooks.Len()
}
