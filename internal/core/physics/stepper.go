package physics

import (
	"math"
	"time"

	"golang.org/x/time/rate"

	"github.com/zeusync/qcserver/internal/core/entity"
	"github.com/zeusync/qcserver/internal/core/observability/log"
	"github.com/zeusync/qcserver/internal/core/vmath"
)

const (
	// dropDistance is how far DropToFloor searches below an entity.
	dropDistance = 256
	landSound    = "demon/dland2.wav"
	splashSound  = "misc/h2ohit1.wav"
)

type Config struct {
	Gravity     float32
	MaxVelocity float32
}

func DefaultConfig() Config {
	return Config{
		Gravity:     800,
		MaxVelocity: 2000,
	}
}

// Callbacks hands contacts and timers back to script code. Errors are
// returned to the caller of Run untouched.
type Callbacks interface {
	// Impact runs the touch functions of both a and b.
	Impact(a, b *entity.Entity) error
	// Touch runs trigger's touch function with e as the toucher.
	Touch(trigger, e *entity.Entity) error
	// Think runs e's think function with the clock set to at.
	Think(e *entity.Entity, at float32) error
	Blocked(pusher, other *entity.Entity) error
	StartSound(e *entity.Entity, channel int, sample string, volume, attenuation float32)
}

type Option func(*Stepper)

func WithConfig(cfg Config) Option {
	return func(s *Stepper) {
		s.cfg = cfg
	}
}

func WithLogger(l log.Log) Option {
	return func(s *Stepper) {
		s.logger = l
	}
}

// Stepper advances entities by one frame according to their move type.
type Stepper struct {
	cfg    Config
	tracer Tracer
	store  *entity.Store
	cb     Callbacks
	logger log.Log
	warn   *rate.Limiter
}

func NewStepper(tracer Tracer, store *entity.Store, cb Callbacks, opts ...Option) *Stepper {
	s := &Stepper{
		cfg:    DefaultConfig(),
		tracer: tracer,
		store:  store,
		cb:     cb,
		logger: log.NewNop(),
		warn:   rate.NewLimiter(rate.Every(10*time.Second), 1),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.logger = s.logger.With(log.String("component", "physics"))
	return s
}

func (s *Stepper) Config() Config { return s.cfg }

// SetGravity follows changes of the sv_gravity cvar.
func (s *Stepper) SetGravity(g float32) { s.cfg.Gravity = g }

func (s *Stepper) SetMaxVelocity(v float32) { s.cfg.MaxVelocity = v }

// Run advances e by frametime. now is the level time at the start of the
// frame.
func (s *Stepper) Run(e *entity.Entity, now, frametime float32) error {
	switch mt := e.MoveType(); mt {
	case entity.MovePush:
		return s.runPusher(e, now, frametime)
	case entity.MoveNone:
		_, err := s.RunThink(e, now, frametime)
		return err
	case entity.MoveNoClip:
		return s.runNoClip(e, now, frametime)
	case entity.MoveStep:
		return s.runStep(e, now, frametime)
	case entity.MoveToss, entity.MoveBounce, entity.MoveFly, entity.MoveFlyMissile:
		return s.runToss(e, now, frametime)
	default:
		if s.warn.Allow() {
			s.logger.Warn("move type not simulated",
				log.Stringer("entity", e.ID()),
				log.Stringer("movetype", mt),
			)
		}
		return nil
	}
}

// RunThink fires e's think function if it is due within this frame. It
// reports false when the entity was removed by its own think.
func (s *Stepper) RunThink(e *entity.Entity, now, frametime float32) (bool, error) {
	at := e.NextThink()
	if at <= 0 || at > now+frametime {
		return true, nil
	}
	if at < now {
		at = now
	}
	e.SetNextThink(0)
	if err := s.cb.Think(e, at); err != nil {
		return false, err
	}
	return !e.IsFree(), nil
}

func (s *Stepper) runNoClip(e *entity.Entity, now, frametime float32) error {
	alive, err := s.RunThink(e, now, frametime)
	if err != nil || !alive {
		return err
	}
	e.SetAngles(vmath.MulAdd(e.Angles(), frametime, e.AVelocity()))
	e.SetOrigin(vmath.MulAdd(e.Origin(), frametime, e.Velocity()))
	return s.Link(e, false)
}

func (s *Stepper) runStep(e *entity.Entity, now, frametime float32) error {
	if !e.HasFlag(entity.FlagOnGround | entity.FlagFly | entity.FlagSwim) {
		hitSound := e.Velocity()[2] < s.cfg.Gravity*-0.1

		s.addGravity(e, frametime)
		s.CheckVelocity(e)
		if _, err := s.FlyMove(e, frametime); err != nil {
			return err
		}
		if e.IsFree() {
			return nil
		}
		if err := s.Link(e, true); err != nil {
			return err
		}
		if e.HasFlag(entity.FlagOnGround) && hitSound {
			s.cb.StartSound(e, 0, landSound, 1, 1)
		}
	}

	alive, err := s.RunThink(e, now, frametime)
	if err != nil || !alive {
		return err
	}
	s.CheckWaterTransition(e)
	return nil
}

func (s *Stepper) runToss(e *entity.Entity, now, frametime float32) error {
	alive, err := s.RunThink(e, now, frametime)
	if err != nil || !alive {
		return err
	}
	if e.HasFlag(entity.FlagOnGround) {
		return nil
	}

	s.CheckVelocity(e)
	mt := e.MoveType()
	if mt != entity.MoveFly && mt != entity.MoveFlyMissile {
		s.addGravity(e, frametime)
	}
	e.SetAngles(vmath.MulAdd(e.Angles(), frametime, e.AVelocity()))

	tr, err := s.PushEntity(e, vmath.Scale(frametime, e.Velocity()))
	if err != nil || !tr.Blocked() || e.IsFree() {
		return err
	}

	overbounce := float32(1)
	if mt == entity.MoveBounce {
		overbounce = 1.5
	}
	v, _ := ClipVelocity(e.Velocity(), tr.Plane.Normal, overbounce)
	e.SetVelocity(v)

	if tr.Plane.Normal[2] > floorNormal && (v[2] < 60 || mt != entity.MoveBounce) {
		e.SetFlag(entity.FlagOnGround, true)
		e.SetGroundEntity(tr.Entity)
		e.SetVelocity(vmath.Zero)
		e.SetAVelocity(vmath.Zero)
	}
	s.CheckWaterTransition(e)
	return nil
}

// runPusher moves a door or platform. The move is cut short at the next
// think time so the think fires exactly where the script scheduled it.
func (s *Stepper) runPusher(e *entity.Entity, now, frametime float32) error {
	oldLTime := e.LTime()
	thinkAt := e.NextThink()

	moveTime := frametime
	if thinkAt < oldLTime+frametime {
		moveTime = max(thinkAt-oldLTime, 0)
	}
	if moveTime > 0 {
		if err := s.PushMove(e, moveTime); err != nil {
			return err
		}
	}

	if thinkAt > oldLTime && thinkAt <= e.LTime() {
		e.SetNextThink(0)
		return s.cb.Think(e, now)
	}
	return nil
}

// PushMove moves pusher by its velocity for dt and carries along every
// entity it rides or shoves. If something cannot be pushed the whole move
// is undone and the pusher's blocked function runs.
func (s *Stepper) PushMove(pusher *entity.Entity, dt float32) error {
	velocity := pusher.Velocity()
	if velocity.IsZero() {
		pusher.SetLTime(pusher.LTime() + dt)
		return nil
	}

	move := vmath.Scale(dt, velocity)
	mins := vmath.Add(pusher.AbsMin(), move)
	maxs := vmath.Add(pusher.AbsMax(), move)
	pushOrigin := pusher.Origin()

	pusher.SetOrigin(vmath.Add(pushOrigin, move))
	pusher.SetLTime(pusher.LTime() + dt)
	if err := s.Link(pusher, false); err != nil {
		return err
	}

	type moved struct {
		e    *entity.Entity
		from vmath.Vec3
	}
	var pushed []moved
	var blocker *entity.Entity

	var err error
	s.store.Each(func(check *entity.Entity) bool {
		if check.IsWorld() || check.IsFree() || check.ID() == pusher.ID() {
			return true
		}
		switch check.MoveType() {
		case entity.MovePush, entity.MoveNone, entity.MoveNoClip:
			return true
		}

		riding := check.HasFlag(entity.FlagOnGround) && check.GroundEntity() == pusher.ID()
		if !riding {
			if !overlaps(check.AbsMin(), check.AbsMax(), mins, maxs) {
				return true
			}
			if !s.TestEntityPosition(check) {
				return true
			}
		}

		if check.MoveType() != entity.MoveWalk {
			check.SetFlag(entity.FlagOnGround, false)
		}
		from := check.Origin()
		pushed = append(pushed, moved{check, from})

		pusher.SetSolid(entity.SolidNot)
		_, err = s.PushEntity(check, move)
		pusher.SetSolid(entity.SolidBSP)
		if err != nil {
			return false
		}

		if !s.TestEntityPosition(check) {
			return true
		}
		// Point entities and corpses never block.
		if check.Mins()[0] == check.Maxs()[0] {
			return true
		}
		if sd := check.Solid(); sd == entity.SolidNot || sd == entity.SolidTrigger {
			mn := check.Mins()
			mn[0], mn[1] = 0, 0
			check.SetMinsMaxs(mn, mn)
			return true
		}

		check.SetOrigin(from)
		err = s.Link(check, true)
		blocker = check
		return false
	})
	if err != nil {
		return err
	}
	if blocker == nil {
		return nil
	}

	pusher.SetOrigin(pushOrigin)
	pusher.SetLTime(pusher.LTime() - dt)
	if err := s.Link(pusher, false); err != nil {
		return err
	}
	if err := s.cb.Blocked(pusher, blocker); err != nil {
		return err
	}
	for _, m := range pushed {
		m.e.SetOrigin(m.from)
		if err := s.Link(m.e, false); err != nil {
			return err
		}
	}
	return nil
}

// PushEntity moves e by push without sliding and runs the touch
// functions of whatever it hit.
func (s *Stepper) PushEntity(e *entity.Entity, push vmath.Vec3) (Trace, error) {
	kind := MoveNormal
	switch {
	case e.MoveType() == entity.MoveFlyMissile:
		kind = MoveMissile
	case e.Solid() == entity.SolidTrigger || e.Solid() == entity.SolidNot:
		kind = MoveNoMonsters
	}

	origin := e.Origin()
	tr := s.tracer.Move(origin, e.Mins(), e.Maxs(), vmath.Add(origin, push), kind, e)
	e.SetOrigin(tr.End)
	if err := s.Link(e, true); err != nil {
		return tr, err
	}
	if tr.Blocked() {
		if err := s.impact(e, tr.Entity); err != nil {
			return tr, err
		}
	}
	return tr, nil
}

// TestEntityPosition reports whether e is embedded in something solid
// where it stands.
func (s *Stepper) TestEntityPosition(e *entity.Entity) bool {
	origin := e.Origin()
	return s.tracer.Move(origin, e.Mins(), e.Maxs(), origin, MoveNormal, e).StartSolid
}

// Link refreshes e's absolute bounds. With touchTriggers set every trigger
// the new bounds overlap has its touch function run.
func (s *Stepper) Link(e *entity.Entity, touchTriggers bool) error {
	if e.IsFree() || e.IsWorld() {
		return nil
	}
	origin := e.Origin()
	absMin := vmath.Add(origin, e.Mins())
	absMax := vmath.Add(origin, e.Maxs())
	if e.HasFlag(entity.FlagItem) {
		absMin = vmath.Sub(absMin, vmath.Vec3{15, 15, 1})
		absMax = vmath.Add(absMax, vmath.Vec3{15, 15, 1})
	} else {
		absMin = vmath.Sub(absMin, vmath.Vec3{1, 1, 1})
		absMax = vmath.Add(absMax, vmath.Vec3{1, 1, 1})
	}
	e.SetAbsBox(absMin, absMax)

	if !touchTriggers || e.Solid() == entity.SolidNot {
		return nil
	}

	var triggers []*entity.Entity
	s.store.Each(func(t *entity.Entity) bool {
		if t.ID() != e.ID() && !t.IsWorld() && !t.IsFree() &&
			t.Solid() == entity.SolidTrigger && t.Touch() != 0 &&
			overlaps(absMin, absMax, t.AbsMin(), t.AbsMax()) {
			triggers = append(triggers, t)
		}
		return true
	})
	for _, t := range triggers {
		if t.IsFree() || e.IsFree() {
			continue
		}
		if err := s.cb.Touch(t, e); err != nil {
			return err
		}
	}
	return nil
}

// DropToFloor moves e straight down onto whatever is below it, searching
// at most 256 units. It leaves e untouched and returns false when nothing
// is found or e starts inside solid.
func (s *Stepper) DropToFloor(e *entity.Entity) (bool, error) {
	origin := e.Origin()
	end := vmath.Vec3{origin[0], origin[1], origin[2] - dropDistance}
	tr := s.tracer.Move(origin, e.Mins(), e.Maxs(), end, MoveNormal, e)
	if tr.Fraction == 1 || tr.AllSolid {
		return false, nil
	}

	e.SetOrigin(tr.End)
	if err := s.Link(e, false); err != nil {
		return false, err
	}
	e.SetFlag(entity.FlagOnGround, true)
	e.SetGroundEntity(tr.Entity)
	return true, nil
}

// CheckVelocity clears NaNs from velocity and origin and clamps each
// velocity component to the configured maximum.
func (s *Stepper) CheckVelocity(e *entity.Entity) {
	v, o := e.Velocity(), e.Origin()
	for i := range v {
		if isNaN(v[i]) {
			s.logger.Debug("velocity is NaN", log.Stringer("entity", e.ID()))
			v[i] = 0
		}
		if isNaN(o[i]) {
			s.logger.Debug("origin is NaN", log.Stringer("entity", e.ID()))
			o[i] = 0
		}
		v[i] = min(max(v[i], -s.cfg.MaxVelocity), s.cfg.MaxVelocity)
	}
	e.SetVelocity(v)
	e.SetOrigin(o)
}

// CheckWaterTransition updates the water fields after a move and plays a
// splash when e crosses a liquid surface.
func (s *Stepper) CheckWaterTransition(e *entity.Entity) {
	cont := s.tracer.PointContents(e.Origin())
	if e.WaterType() == 0 {
		e.SetWaterType(float32(cont))
		e.SetWaterLevel(1)
		return
	}

	if cont <= ContentsWater {
		if Contents(e.WaterType()) == ContentsEmpty {
			s.cb.StartSound(e, 0, splashSound, 1, 1)
		}
		e.SetWaterType(float32(cont))
		e.SetWaterLevel(1)
		return
	}
	if Contents(e.WaterType()) != ContentsEmpty {
		s.cb.StartSound(e, 0, splashSound, 1, 1)
	}
	e.SetWaterType(float32(ContentsEmpty))
	e.SetWaterLevel(0)
}

func (s *Stepper) addGravity(e *entity.Entity, frametime float32) {
	v := e.Velocity()
	v[2] -= s.cfg.Gravity * frametime
	e.SetVelocity(v)
}

func (s *Stepper) impact(e *entity.Entity, id entity.ID) error {
	other, err := s.store.Get(id)
	if err != nil {
		return nil
	}
	return s.cb.Impact(e, other)
}

func isNaN(f float32) bool {
	return math.IsNaN(float64(f))
}
