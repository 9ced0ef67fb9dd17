// Package level runs one loaded map. It owns entity and global memory,
// drives the interpreter and the physics stepper once per tick and
// reports what scripts did through the event bus.
package level

import (
	"maps"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/zeusync/qcserver/internal/core/entity"
	"github.com/zeusync/qcserver/internal/core/events/bus"
	"github.com/zeusync/qcserver/internal/core/observability/log"
	"github.com/zeusync/qcserver/internal/core/observability/metrics"
	"github.com/zeusync/qcserver/internal/core/physics"
	"github.com/zeusync/qcserver/internal/core/progs"
	"github.com/zeusync/qcserver/internal/core/vm"
)

const (
	maxPrecache    = 256
	maxLightStyles = 64
	// loadFrames settle physics before the level is handed to clients.
	loadFrames     = 2
	loadFrameTime  = 0.1
	startFrameFunc = "StartFrame"
)

// Config gathers the tunables of every component a level owns.
type Config struct {
	Entities entity.StoreConfig
	VM       vm.Config
	// Cvars overrides console variable defaults. sv_gravity and
	// sv_maxvelocity configure the stepper.
	Cvars map[string]string
}

func DefaultConfig() Config {
	return Config{
		Entities: entity.DefaultStoreConfig(),
		VM:       vm.DefaultConfig(),
	}
}

type Option func(*Level)

func WithConfig(cfg Config) Option {
	return func(l *Level) {
		l.cfg = cfg
	}
}

func WithLogger(lg log.Log) Option {
	return func(l *Level) {
		l.logger = lg
	}
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(l *Level) {
		l.metrics = m
	}
}

// WithBus publishes sounds, prints and other side effects to b.
func WithBus(b bus.Bus) Option {
	return func(l *Level) {
		l.bus = b
	}
}

// Level is single threaded. Every method must be called from the goroutine
// that ticks it.
type Level struct {
	prog    *progs.Program
	globals *entity.Globals
	store   *entity.Store
	space   *physics.Space
	stepper *physics.Stepper
	vm      *vm.Interpreter
	cvars   *Cvars

	cfg     Config
	bus     bus.Bus
	logger  log.Log
	metrics *metrics.Metrics

	def         *MapDef
	time        float32
	frame       uint64
	loading     bool
	startFrame  progs.FunctionID
	precache    [3][]string
	lightStyles [maxLightStyles]string
	statics     []entity.State
	changeTo    string
}

func New(prog *progs.Program, opts ...Option) (*Level, error) {
	if err := prog.Validate(); err != nil {
		return nil, err
	}
	l := &Level{
		prog:   prog,
		cfg:    DefaultConfig(),
		logger: log.NewNop(),
	}
	for _, opt := range opts {
		opt(l)
	}
	base := l.logger
	l.logger = base.With(log.String("component", "level"))

	l.cvars = NewCvars(l.cfg.Cvars)
	l.globals = entity.NewGlobals(prog)
	l.store = entity.NewStore(prog.Fields, l.cfg.Entities)
	l.space = physics.NewSpace(l.store)
	l.stepper = physics.NewStepper(l.space, l.store, l,
		physics.WithConfig(physics.Config{
			Gravity:     l.cvars.Value("sv_gravity"),
			MaxVelocity: l.cvars.Value("sv_maxvelocity"),
		}),
		physics.WithLogger(base),
	)
	l.vm = vm.New(prog, l.globals, l.store, l,
		vm.WithConfig(l.cfg.VM),
		vm.WithLogger(base),
		vm.WithMetrics(l.metrics),
	)
	l.startFrame, _ = prog.FunctionByName(startFrameFunc)
	return l, nil
}

func (l *Level) Program() *progs.Program   { return l.prog }
func (l *Level) Globals() *entity.Globals  { return l.globals }
func (l *Level) Store() *entity.Store      { return l.store }
func (l *Level) VM() *vm.Interpreter       { return l.vm }
func (l *Level) Space() *physics.Space     { return l.space }
func (l *Level) Stepper() *physics.Stepper { return l.stepper }
func (l *Level) Cvars() *Cvars             { return l.cvars }
func (l *Level) Time() float32             { return l.time }
func (l *Level) Frame() uint64             { return l.frame }

// MapName is empty until a map has loaded.
func (l *Level) MapName() string {
	if l.def == nil {
		return ""
	}
	return l.def.Name
}

// PendingChange is the map a script asked to change to, if any.
func (l *Level) PendingChange() string { return l.changeTo }

// Precached lists the names registered for kind. Index 0 is always empty.
func (l *Level) Precached(kind vm.PrecacheKind) []string {
	return slices.Clone(l.precache[kind])
}

func (l *Level) LightStyles() []string {
	return slices.Clone(l.lightStyles[:])
}

// Statics are the entities made static during load. They are no longer in
// the store.
func (l *Level) Statics() []entity.State {
	return slices.Clone(l.statics)
}

// States returns the visible entities, in index order.
func (l *Level) States() []entity.State {
	var out []entity.State
	l.store.Each(func(e *entity.Entity) bool {
		if !e.IsWorld() && e.ModelIndex() != 0 {
			out = append(out, e.State())
		}
		return true
	})
	return out
}

// Load discards the current level, spawns every entity of def and runs
// the settling frames. Precaching is only allowed until Load returns.
func (l *Level) Load(def *MapDef) error {
	if err := def.Validate(); err != nil {
		return err
	}
	start := time.Now()

	l.vm.SetActive(false)
	l.store.Clear()
	l.globals.Reset(l.prog)
	l.space.SetBrushes(def.Brushes)
	l.def = def
	l.time = 1
	l.frame = 0
	l.changeTo = ""
	l.statics = nil
	l.lightStyles = [maxLightStyles]string{}
	l.loading = true
	defer func() { l.loading = false }()

	worldModel := "maps/" + def.Name + ".bsp"
	l.precache[vm.PrecacheSound] = []string{""}
	l.precache[vm.PrecacheModel] = []string{"", worldModel}
	l.precache[vm.PrecacheFile] = []string{""}
	for _, name := range slices.Sorted(maps.Keys(def.Models)) {
		if strings.HasPrefix(name, "*") {
			l.precache[vm.PrecacheModel] = append(l.precache[vm.PrecacheModel], name)
		}
	}

	skill := min(max(int(l.cvars.Value("skill")+0.5), 0), 3)
	l.cvars.Set("skill", strconv.Itoa(skill))

	world := l.store.World()
	modelID, err := l.prog.Strings.FindOrInsert(worldModel)
	if err != nil {
		return err
	}
	nameID, err := l.prog.Strings.FindOrInsert(def.Name)
	if err != nil {
		return err
	}
	world.SetModel(modelID)
	world.SetModelIndex(1)
	world.SetSolid(entity.SolidBSP)
	world.SetMoveType(entity.MovePush)

	g := l.globals
	g.SetMapName(nameID)
	g.SetDeathmatch(l.cvars.Value("deathmatch"))
	g.SetCoop(l.cvars.Value("coop"))
	g.SetServerFlags(0)

	blocks, err := ParseEntities(def.Entities)
	if err != nil {
		return err
	}

	spawned, inhibited := 0, 0
	for i, fields := range blocks {
		e := world
		if i > 0 {
			if e, err = l.store.Alloc(l.time); err != nil {
				return err
			}
		}
		ok, err := l.spawn(e, fields)
		switch {
		case err != nil:
			l.logger.Warn("entity not spawned",
				log.Int("block", i),
				log.String("classname", fields["classname"]),
				log.Error(err),
			)
		case ok:
			spawned++
		default:
			inhibited++
		}
	}

	for range loadFrames {
		l.Tick(loadFrameTime)
	}
	l.vm.SetActive(true)

	l.logger.Info("level loaded",
		log.String("map", def.Name),
		log.Int("spawned", spawned),
		log.Int("inhibited", inhibited),
		log.Int("live", l.store.Live()),
		log.Duration("took", time.Since(start)),
	)
	return nil
}

// TickStats summarizes one frame.
type TickStats struct {
	Frame    uint64
	Time     float32
	Entities int
	// Failed counts entities whose script code errored this frame. Their
	// state is left as the failure found it.
	Failed   int
	Duration time.Duration
}

// Tick runs StartFrame and then moves every entity by frametime seconds.
// A failing entity is logged and skipped so one bad script cannot stall
// the level.
func (l *Level) Tick(frametime float32) TickStats {
	start := time.Now()
	stats := TickStats{Frame: l.frame, Time: l.time}

	g := l.globals
	g.SetSelf(entity.World)
	g.SetOther(entity.World)
	g.SetTime(l.time)
	g.SetFrameTime(frametime)
	if l.startFrame != 0 {
		if err := l.vm.Execute(l.startFrame); err != nil {
			stats.Failed++
			l.logger.Warn("StartFrame failed", log.Error(err))
		}
	}

	retouch := g.ForceRetouch() > 0
	l.store.Each(func(e *entity.Entity) bool {
		if retouch {
			if err := l.stepper.Link(e, true); err != nil {
				stats.Failed++
				l.entityFailed(e, err)
				return true
			}
		}
		if e.IsFree() {
			return true
		}
		if err := l.stepper.Run(e, l.time, frametime); err != nil {
			stats.Failed++
			l.entityFailed(e, err)
		}
		return true
	})
	if retouch {
		g.SetForceRetouch(g.ForceRetouch() - 1)
	}

	l.time += frametime
	l.frame++

	stats.Entities = l.store.Live()
	stats.Duration = time.Since(start)
	l.metrics.ObserveTick(stats.Duration)
	l.metrics.SetLiveEntities(stats.Entities)
	return stats
}

func (l *Level) entityFailed(e *entity.Entity, err error) {
	l.logger.Warn("entity frame failed",
		log.Stringer("entity", e.ID()),
		log.String("classname", l.prog.Strings.MustGet(e.ClassName())),
		log.Error(err),
	)
}

func (l *Level) publish(ev bus.Event) {
	if l.bus == nil {
		return
	}
	ev.Time = l.time
	if err := l.bus.Publish(ev); err != nil {
		l.logger.Warn("event handler failed",
			log.String("kind", string(ev.Kind)),
			log.Error(err),
		)
	}
}
