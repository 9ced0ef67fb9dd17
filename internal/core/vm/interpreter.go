// Package vm executes progs bytecode against typed entity and global memory.
package vm

import (
	"fmt"
	"math"
	"math/rand/v2"
	"time"

	"golang.org/x/time/rate"

	"github.com/zeusync/qcserver/internal/core/entity"
	"github.com/zeusync/qcserver/internal/core/observability/log"
	"github.com/zeusync/qcserver/internal/core/observability/metrics"
	"github.com/zeusync/qcserver/internal/core/progs"
	"github.com/zeusync/qcserver/internal/core/strtab"
	"github.com/zeusync/qcserver/internal/core/vmath"
)

const tempStringSize = 128

// Config bounds the work one interpreter may do.
type Config struct {
	// StatementBudget caps the statements a single Execute may run.
	StatementBudget int
	MaxCallDepth    int
	// LocalStackSize is the save area for callee locals, in words.
	LocalStackSize int
	// WarnInterval throttles repeated warnings for one unimplemented builtin.
	WarnInterval time.Duration
	Seed         uint64
}

func DefaultConfig() Config {
	return Config{
		StatementBudget: 10000,
		MaxCallDepth:    32,
		LocalStackSize:  2048,
		WarnInterval:    10 * time.Second,
		Seed:            1,
	}
}

type Option func(*Interpreter)

func WithConfig(cfg Config) Option {
	return func(vm *Interpreter) {
		vm.cfg = cfg
	}
}

func WithLogger(l log.Log) Option {
	return func(vm *Interpreter) {
		vm.logger = l
	}
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(vm *Interpreter) {
		vm.metrics = m
	}
}

// Interpreter runs script functions on the simulation goroutine. It is not
// safe for concurrent use.
type Interpreter struct {
	prog    *progs.Program
	globals *entity.Globals
	store   *entity.Store
	world   World

	cfg     Config
	ctx     *ExecutionContext
	logger  log.Log
	metrics *metrics.Metrics
	rng     *rand.Rand
	warn    map[Builtin]*rate.Limiter

	// temp is the run ftos and vtos write their result into.
	temp strtab.ID

	argc   int
	active bool
	trace  bool
}

func New(prog *progs.Program, globals *entity.Globals, store *entity.Store, world World, opts ...Option) *Interpreter {
	vm := &Interpreter{
		prog:    prog,
		globals: globals,
		store:   store,
		world:   world,
		cfg:     DefaultConfig(),
		logger:  log.NewNop(),
		warn:    make(map[Builtin]*rate.Limiter),
	}
	for _, opt := range opts {
		opt(vm)
	}
	vm.temp = prog.Strings.Reserve(tempStringSize)
	vm.ctx = newExecutionContext(vm.cfg.MaxCallDepth, vm.cfg.LocalStackSize)
	vm.rng = rand.New(rand.NewPCG(vm.cfg.Seed, vm.cfg.Seed^0x9e3779b97f4a7c15))
	vm.logger = vm.logger.With(log.String("component", "vm"))
	return vm
}

func (vm *Interpreter) Program() *progs.Program    { return vm.prog }
func (vm *Interpreter) Globals() *entity.Globals   { return vm.globals }
func (vm *Interpreter) Store() *entity.Store       { return vm.store }
func (vm *Interpreter) Context() *ExecutionContext { return vm.ctx }

// SetActive marks the level as running. Once active, scripts may no longer
// take field addresses on the world entity.
func (vm *Interpreter) SetActive(active bool) { vm.active = active }

func (vm *Interpreter) SetTrace(on bool) { vm.trace = on }

// Call runs fn with self and other set, restoring both afterwards.
func (vm *Interpreter) Call(fn progs.FunctionID, self, other entity.ID) error {
	oldSelf, oldOther := vm.globals.Self(), vm.globals.Other()
	vm.globals.SetSelf(self)
	vm.globals.SetOther(other)
	err := vm.Execute(fn)
	vm.globals.SetSelf(oldSelf)
	vm.globals.SetOther(oldOther)
	return err
}

// Execute runs fn until its frame returns. The statement budget applies
// to the whole call chain. On error every frame the chain pushed is
// unwound and the error is returned as an *ExecError.
func (vm *Interpreter) Execute(fn progs.FunctionID) error {
	f, err := vm.function(fn)
	if err != nil {
		return vm.fail(err, -1, vm.ctx.Depth())
	}
	if num, ok := f.Builtin(); ok {
		vm.argc = 0
		if err := vm.callBuiltin(num); err != nil {
			return vm.fail(err, -1, vm.ctx.Depth())
		}
		return nil
	}

	slots := vm.globals.Slots()
	entry := vm.ctx.Depth()
	pc, err := vm.ctx.enter(slots, fn, f, -1)
	if err != nil {
		return vm.fail(err, -1, entry)
	}

	r := regs{g: vm.globals}
	executed := 0
	defer func() { vm.metrics.AddStatements(executed) }()

	for {
		if pc < 0 || pc >= len(vm.prog.Statements) {
			return vm.fail(fmt.Errorf("%w: %d", ErrProgramCounter, pc), pc, entry)
		}
		executed++
		if executed > vm.cfg.StatementBudget {
			return vm.fail(fmt.Errorf("%w: %d statements", ErrRunaway, vm.cfg.StatementBudget), pc, entry)
		}

		st := vm.prog.Statements[pc]
		if vm.trace {
			vm.logger.Debug("exec",
				log.String("function", vm.currentName()),
				log.Int("statement", pc),
				log.Stringer("op", st))
		}

		next, err := vm.step(&r, st, pc)
		if err == nil {
			err = r.err
		}
		if err != nil {
			return vm.fail(err, pc, entry)
		}
		if vm.ctx.Depth() == entry {
			return nil
		}
		pc = next
	}
}

func (vm *Interpreter) function(id progs.FunctionID) (*progs.Function, error) {
	if id == 0 {
		return nil, ErrNullFunction
	}
	f, ok := vm.prog.Function(id)
	if !ok {
		return nil, fmt.Errorf("%w: %d", ErrBadFunction, id)
	}
	return f, nil
}

func (vm *Interpreter) currentName() string {
	if id, ok := vm.ctx.Function(); ok {
		return vm.prog.FunctionName(id)
	}
	return "<none>"
}

func (vm *Interpreter) fail(err error, pc, entry int) error {
	ee := &ExecError{Kind: classify(err), Function: vm.currentName(), Statement: pc, Cause: err}
	vm.ctx.unwind(vm.globals.Slots(), entry)
	vm.metrics.ExecError(ee.Kind.String())
	return ee
}

// step executes one statement and returns the next program counter.
func (vm *Interpreter) step(r *regs, st progs.Statement, pc int) (int, error) {
	a, b, c := st.A, st.B, st.C

	switch st.Op {
	case progs.OpAddF:
		r.setF(c, r.f(a)+r.f(b))
	case progs.OpAddV:
		r.setV(c, vmath.Add(r.v(a), r.v(b)))
	case progs.OpSubF:
		r.setF(c, r.f(a)-r.f(b))
	case progs.OpSubV:
		r.setV(c, vmath.Sub(r.v(a), r.v(b)))
	case progs.OpMulF:
		r.setF(c, r.f(a)*r.f(b))
	case progs.OpMulV:
		r.setF(c, vmath.Dot(r.v(a), r.v(b)))
	case progs.OpMulFV:
		r.setV(c, vmath.Scale(r.f(a), r.v(b)))
	case progs.OpMulVF:
		r.setV(c, vmath.Scale(r.f(b), r.v(a)))
	case progs.OpDivF:
		r.setF(c, r.f(a)/r.f(b))
	case progs.OpBitAnd:
		r.setF(c, float32(int32(r.f(a))&int32(r.f(b))))
	case progs.OpBitOr:
		r.setF(c, float32(int32(r.f(a))|int32(r.f(b))))

	case progs.OpGe:
		r.setB(c, r.f(a) >= r.f(b))
	case progs.OpLe:
		r.setB(c, r.f(a) <= r.f(b))
	case progs.OpGt:
		r.setB(c, r.f(a) > r.f(b))
	case progs.OpLt:
		r.setB(c, r.f(a) < r.f(b))
	case progs.OpAnd:
		r.setB(c, r.truth(a) && r.truth(b))
	case progs.OpOr:
		r.setB(c, r.truth(a) || r.truth(b))

	case progs.OpNotF:
		r.setB(c, r.f(a) == 0)
	case progs.OpNotV:
		r.setB(c, r.v(a).IsZero())
	case progs.OpNotS:
		s := r.s(a)
		str, _ := vm.prog.Strings.Get(s)
		r.setB(c, s == 0 || str == "")
	case progs.OpNotEnt:
		r.setB(c, r.e(a).IsWorld())
	case progs.OpNotFnc:
		r.setB(c, r.fn(a) == 0)

	case progs.OpEqF:
		r.setB(c, r.f(a) == r.f(b))
	case progs.OpEqV:
		r.setB(c, r.v(a) == r.v(b))
	case progs.OpEqS:
		eq, err := vm.sameString(r.s(a), r.s(b))
		if err != nil {
			return 0, err
		}
		r.setB(c, eq)
	case progs.OpEqE:
		r.setB(c, r.e(a) == r.e(b))
	case progs.OpEqFnc:
		r.setB(c, r.fn(a) == r.fn(b))
	case progs.OpNeF:
		r.setB(c, r.f(a) != r.f(b))
	case progs.OpNeV:
		r.setB(c, r.v(a) != r.v(b))
	case progs.OpNeS:
		eq, err := vm.sameString(r.s(a), r.s(b))
		if err != nil {
			return 0, err
		}
		r.setB(c, !eq)
	case progs.OpNeE:
		r.setB(c, r.e(a) != r.e(b))
	case progs.OpNeFnc:
		r.setB(c, r.fn(a) != r.fn(b))

	case progs.OpStoreF, progs.OpStoreFld:
		r.move(b, a, 1)
	case progs.OpStoreV:
		r.move(b, a, 3)
	case progs.OpStoreS:
		r.setS(b, r.s(a))
	case progs.OpStoreEnt:
		r.setE(b, r.e(a))
	case progs.OpStoreFnc:
		r.setFn(b, r.fn(a))

	case progs.OpStorePF, progs.OpStorePV, progs.OpStorePS,
		progs.OpStorePEnt, progs.OpStorePFld, progs.OpStorePFnc:
		if err := vm.storeThrough(r, st); err != nil {
			return 0, err
		}

	case progs.OpAddress:
		id, fld := r.e(a), r.fld(b)
		if r.err != nil {
			return 0, r.err
		}
		if id.IsWorld() && vm.active {
			return 0, ErrWorldWrite
		}
		if _, err := vm.store.Get(id); err != nil {
			return 0, err
		}
		p, err := entity.NewPointer(id, fld)
		if err != nil {
			return 0, err
		}
		r.setP(c, p)

	case progs.OpLoadF, progs.OpLoadV, progs.OpLoadS,
		progs.OpLoadEnt, progs.OpLoadFld, progs.OpLoadFnc:
		if err := vm.load(r, st); err != nil {
			return 0, err
		}

	case progs.OpIfNot:
		if !r.truth(a) {
			return pc + int(b), nil
		}
	case progs.OpIf:
		if r.truth(a) {
			return pc + int(b), nil
		}
	case progs.OpGoto:
		return pc + int(a), nil

	case progs.OpCall0, progs.OpCall1, progs.OpCall2, progs.OpCall3, progs.OpCall4,
		progs.OpCall5, progs.OpCall6, progs.OpCall7, progs.OpCall8:
		n, _ := st.Op.CallArgs()
		id := r.fn(a)
		if r.err != nil {
			return 0, r.err
		}
		f, err := vm.function(id)
		if err != nil {
			return 0, err
		}
		if num, ok := f.Builtin(); ok {
			vm.argc = n
			return pc + 1, vm.callBuiltin(num)
		}
		return vm.ctx.enter(vm.globals.Slots(), id, f, pc)

	case progs.OpDone, progs.OpReturn:
		ret, err := vm.globals.RawVector(int(uint16(a)))
		if err != nil {
			return 0, err
		}
		if err := vm.globals.SetRawVector(progs.OfsReturn, ret); err != nil {
			return 0, err
		}
		return vm.ctx.leave(vm.globals.Slots()) + 1, nil

	case progs.OpState:
		self, err := vm.store.Get(vm.globals.Self())
		if err != nil {
			return 0, err
		}
		frame, think := r.f(a), r.fn(b)
		if r.err != nil {
			return 0, r.err
		}
		self.SetNextThink(vm.globals.Time() + 0.1)
		self.SetFrame(frame)
		self.SetThink(think)

	default:
		return 0, fmt.Errorf("%w: %s", ErrBadOpcode, st.Op)
	}
	return pc + 1, nil
}

// load reads entity A's field B into global C.
func (vm *Interpreter) load(r *regs, st progs.Statement) error {
	id, fld := r.e(st.A), r.fld(st.B)
	if r.err != nil {
		return r.err
	}
	e, err := vm.store.Get(id)
	if err != nil {
		return err
	}

	c := st.C
	switch st.Op {
	case progs.OpLoadF:
		v, err := e.Float(fld)
		r.setF(c, v)
		return err
	case progs.OpLoadV:
		v, err := e.Vector(fld)
		r.setV(c, v)
		return err
	case progs.OpLoadS:
		v, err := e.Str(fld)
		r.setS(c, v)
		return err
	case progs.OpLoadEnt:
		v, err := e.Ent(fld)
		r.setE(c, v)
		return err
	case progs.OpLoadFld:
		v, err := e.Fld(fld)
		r.setFld(c, v)
		return err
	default:
		v, err := e.Func(fld)
		r.setFn(c, v)
		return err
	}
}

// storeThrough writes global A into the entity field pointer held in B.
func (vm *Interpreter) storeThrough(r *regs, st progs.Statement) error {
	p := r.ptr(st.B)
	if r.err != nil {
		return r.err
	}
	e, fld, err := vm.store.Resolve(p)
	if err != nil {
		return err
	}

	a := st.A
	switch st.Op {
	case progs.OpStorePF:
		v := r.f(a)
		if r.err != nil {
			return r.err
		}
		return e.SetFloat(fld, v)
	case progs.OpStorePV:
		v := r.v(a)
		if r.err != nil {
			return r.err
		}
		return e.SetVector(fld, v)
	case progs.OpStorePS:
		v := r.s(a)
		if r.err != nil {
			return r.err
		}
		return e.SetStr(fld, v)
	case progs.OpStorePEnt:
		v := r.e(a)
		if r.err != nil {
			return r.err
		}
		return e.SetEnt(fld, v)
	case progs.OpStorePFld:
		v := r.fld(a)
		if r.err != nil {
			return r.err
		}
		return e.SetFld(fld, v)
	default:
		v := r.fn(a)
		if r.err != nil {
			return r.err
		}
		return e.SetFunc(fld, v)
	}
}

func (vm *Interpreter) sameString(a, b strtab.ID) (bool, error) {
	if a == b {
		return true, nil
	}
	sa, ok := vm.prog.Strings.Get(a)
	if !ok {
		return false, fmt.Errorf("%w: %d", ErrBadString, a)
	}
	sb, ok := vm.prog.Strings.Get(b)
	if !ok {
		return false, fmt.Errorf("%w: %d", ErrBadString, b)
	}
	return sa == sb, nil
}

// regs reads and writes statement operands with a sticky error, so a
// statement can be written as one expression and checked once.
type regs struct {
	g   *entity.Globals
	err error
}

func ofs(o int16) int { return int(uint16(o)) }

func (r *regs) keep(err error) {
	if r.err == nil {
		r.err = err
	}
}

func (r *regs) raw(o int16) uint32 {
	v, err := r.g.Raw(ofs(o))
	r.keep(err)
	return v
}

func (r *regs) truth(o int16) bool {
	return math.Float32frombits(r.raw(o)) != 0
}

func (r *regs) f(o int16) float32 {
	v, err := r.g.Float(ofs(o))
	r.keep(err)
	return v
}

func (r *regs) setF(o int16, v float32) {
	if r.err == nil {
		r.keep(r.g.SetFloat(ofs(o), v))
	}
}

func (r *regs) setB(o int16, v bool) {
	if v {
		r.setF(o, 1)
	} else {
		r.setF(o, 0)
	}
}

func (r *regs) v(o int16) vmath.Vec3 {
	v, err := r.g.Vector(ofs(o))
	r.keep(err)
	return v
}

func (r *regs) setV(o int16, v vmath.Vec3) {
	if r.err == nil {
		r.keep(r.g.SetVector(ofs(o), v))
	}
}

func (r *regs) s(o int16) strtab.ID {
	v, err := r.g.Str(ofs(o))
	r.keep(err)
	return v
}

func (r *regs) setS(o int16, v strtab.ID) {
	if r.err == nil {
		r.keep(r.g.SetStr(ofs(o), v))
	}
}

func (r *regs) e(o int16) entity.ID {
	v, err := r.g.Ent(ofs(o))
	r.keep(err)
	return v
}

func (r *regs) setE(o int16, v entity.ID) {
	if r.err == nil {
		r.keep(r.g.SetEnt(ofs(o), v))
	}
}

func (r *regs) fn(o int16) progs.FunctionID {
	v, err := r.g.Func(ofs(o))
	r.keep(err)
	return v
}

func (r *regs) setFn(o int16, v progs.FunctionID) {
	if r.err == nil {
		r.keep(r.g.SetFunc(ofs(o), v))
	}
}

func (r *regs) fld(o int16) int {
	v, err := r.g.Fld(ofs(o))
	r.keep(err)
	return v
}

func (r *regs) setFld(o int16, v int) {
	if r.err == nil {
		r.keep(r.g.SetFld(ofs(o), v))
	}
}

func (r *regs) ptr(o int16) entity.Pointer {
	v, err := r.g.Ptr(ofs(o))
	r.keep(err)
	return v
}

func (r *regs) setP(o int16, v entity.Pointer) {
	if r.err == nil {
		r.keep(r.g.SetPtr(ofs(o), v))
	}
}

func (r *regs) move(dst, src int16, n int) {
	if r.err == nil {
		r.keep(r.g.Move(ofs(dst), ofs(src), n))
	}
}
