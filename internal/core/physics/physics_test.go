package physics

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zeusync/qcserver/internal/core/entity"
	"github.com/zeusync/qcserver/internal/core/progs"
	"github.com/zeusync/qcserver/internal/core/vmath"
)

type pair [2]entity.ID

type recorder struct {
	impacts []pair
	touches []pair
	blocked []pair
	thinks  []entity.ID
	thinkAt []float32
	sounds  []string
}

func (r *recorder) Impact(a, b *entity.Entity) error {
	r.impacts = append(r.impacts, pair{a.ID(), b.ID()})
	return nil
}

func (r *recorder) Touch(trigger, e *entity.Entity) error {
	r.touches = append(r.touches, pair{trigger.ID(), e.ID()})
	return nil
}

func (r *recorder) Think(e *entity.Entity, at float32) error {
	r.thinks = append(r.thinks, e.ID())
	r.thinkAt = append(r.thinkAt, at)
	return nil
}

func (r *recorder) Blocked(pusher, other *entity.Entity) error {
	r.blocked = append(r.blocked, pair{pusher.ID(), other.ID()})
	return nil
}

func (r *recorder) StartSound(_ *entity.Entity, _ int, sample string, _, _ float32) {
	r.sounds = append(r.sounds, sample)
}

// scripted replays canned hits regardless of geometry.
type scripted struct {
	hits  []Trace
	calls int
}

func (s *scripted) Move(start, _, _, end vmath.Vec3, _ MoveKind, _ *entity.Entity) Trace {
	tr := s.hits[min(s.calls, len(s.hits)-1)]
	s.calls++
	tr.End = vmath.Lerp(start, end, tr.Fraction)
	return tr
}

func (s *scripted) PointContents(vmath.Vec3) Contents { return ContentsEmpty }

var (
	floor   = Brush{Mins: vmath.Vec3{-1000, -1000, -64}, Maxs: vmath.Vec3{1000, 1000, 0}, Contents: ContentsSolid}
	boxMins = vmath.Vec3{-16, -16, -24}
	boxMaxs = vmath.Vec3{16, 16, 32}
)

type fixture struct {
	store   *entity.Store
	space   *Space
	rec     *recorder
	stepper *Stepper
}

func newFixture(t *testing.T, brushes ...Brush) fixture {
	t.Helper()
	p := progs.NewBuilder().MustBuild()
	store := entity.NewStore(p.Fields, entity.DefaultStoreConfig())
	store.World().SetSolid(entity.SolidBSP)
	space := NewSpace(store, brushes...)
	rec := &recorder{}
	return fixture{store: store, space: space, rec: rec, stepper: NewStepper(space, store, rec)}
}

func (f fixture) withTracer(tr Tracer) fixture {
	f.stepper = NewStepper(tr, f.store, f.rec)
	return f
}

func (f fixture) spawn(t *testing.T, origin, mins, maxs vmath.Vec3) *entity.Entity {
	t.Helper()
	e, err := f.store.Alloc(0)
	require.NoError(t, err)
	e.SetMinsMaxs(mins, maxs)
	e.SetOrigin(origin)
	e.SetSolid(entity.SolidSlideBox)
	require.NoError(t, f.stepper.Link(e, false))
	return e
}

func TestClipVelocity(t *testing.T) {
	out, blocked := ClipVelocity(vmath.Vec3{100, 0, -50}, vmath.Vec3{0, 0, 1}, 1)
	assert.Equal(t, vmath.Vec3{100, 0, 0}, out)
	assert.Equal(t, BlockedFloor, blocked)

	out, blocked = ClipVelocity(vmath.Vec3{100, 0.05, 0}, vmath.Vec3{-1, 0, 0}, 1)
	assert.Equal(t, vmath.Vec3{0, 0, 0}, out)
	assert.Equal(t, BlockedWall, blocked)

	out, _ = ClipVelocity(vmath.Vec3{0, 0, -100}, vmath.Vec3{0, 0, 1}, 1.5)
	assert.Equal(t, vmath.Vec3{0, 0, 50}, out)
}

func TestSpaceTrace(t *testing.T) {
	f := newFixture(t, floor)

	t.Run("clear", func(t *testing.T) {
		tr := f.space.Move(vmath.Vec3{0, 0, 100}, boxMins, boxMaxs, vmath.Vec3{50, 0, 100}, MoveNormal, nil)
		assert.Equal(t, float32(1), tr.Fraction)
		assert.False(t, tr.Blocked())
		assert.Equal(t, vmath.Vec3{50, 0, 100}, tr.End)
		assert.True(t, tr.InOpen)
	})

	t.Run("floor", func(t *testing.T) {
		tr := f.space.Move(vmath.Vec3{0, 0, 100}, boxMins, boxMaxs, vmath.Vec3{0, 0, 0}, MoveNormal, nil)
		require.True(t, tr.Blocked())
		assert.Equal(t, vmath.Vec3{0, 0, 1}, tr.Plane.Normal)
		assert.InDelta(t, 24.03125, tr.End[2], 1e-4)
		assert.Equal(t, entity.World, tr.Entity)
	})

	t.Run("embedded", func(t *testing.T) {
		tr := f.space.Move(vmath.Vec3{0, 0, -30}, boxMins, boxMaxs, vmath.Vec3{0, 0, -31}, MoveNormal, nil)
		assert.True(t, tr.StartSolid)
		assert.True(t, tr.AllSolid)
		assert.Equal(t, float32(0), tr.Fraction)
	})

	t.Run("contents", func(t *testing.T) {
		assert.Equal(t, ContentsSolid, f.space.PointContents(vmath.Vec3{0, 0, -1}))
		assert.Equal(t, ContentsEmpty, f.space.PointContents(vmath.Vec3{0, 0, 1}))
	})
}

func TestSpaceClipsEntities(t *testing.T) {
	f := newFixture(t)
	crate := f.spawn(t, vmath.Vec3{100, 0, 0}, boxMins, boxMaxs)
	crate.SetSolid(entity.SolidBBox)
	mover := f.spawn(t, vmath.Vec3{0, 0, 0}, boxMins, boxMaxs)

	tr := f.space.Move(mover.Origin(), mover.Mins(), mover.Maxs(), vmath.Vec3{200, 0, 0}, MoveNormal, mover)
	require.True(t, tr.Blocked())
	assert.Equal(t, crate.ID(), tr.Entity)
	assert.InDelta(t, 67.96875, tr.End[0], 1e-4)

	t.Run("owner passes through", func(t *testing.T) {
		crate.SetOwner(mover.ID())
		defer crate.SetOwner(entity.World)
		tr := f.space.Move(mover.Origin(), mover.Mins(), mover.Maxs(), vmath.Vec3{200, 0, 0}, MoveNormal, mover)
		assert.False(t, tr.Blocked())
	})

	t.Run("nomonsters ignores boxes", func(t *testing.T) {
		tr := f.space.Move(mover.Origin(), mover.Mins(), mover.Maxs(), vmath.Vec3{200, 0, 0}, MoveNoMonsters, mover)
		assert.False(t, tr.Blocked())
	})

	t.Run("triggers do not block", func(t *testing.T) {
		crate.SetSolid(entity.SolidTrigger)
		defer crate.SetSolid(entity.SolidBBox)
		tr := f.space.Move(mover.Origin(), mover.Mins(), mover.Maxs(), vmath.Vec3{200, 0, 0}, MoveNormal, mover)
		assert.False(t, tr.Blocked())
	})
}

func TestFlyMoveZeroVelocity(t *testing.T) {
	f := newFixture(t, floor)
	e := f.spawn(t, vmath.Vec3{0, 0, 100}, boxMins, boxMaxs)

	res, err := f.stepper.FlyMove(e, 0.1)
	require.NoError(t, err)
	assert.Equal(t, vmath.Vec3{0, 0, 100}, e.Origin())
	assert.Zero(t, res.Blocked)
	assert.Zero(t, res.Bumps)
	assert.False(t, res.Stopped)
	assert.Empty(t, f.rec.impacts)
}

func TestFlyMoveStartingInSolidIsStuck(t *testing.T) {
	f := newFixture(t, floor)
	e := f.spawn(t, vmath.Vec3{0, 0, -30}, boxMins, boxMaxs)
	e.SetVelocity(vmath.Vec3{10, 0, 0})

	res, err := f.stepper.FlyMove(e, 0.1)
	require.NoError(t, err)
	assert.True(t, res.Stuck)
	assert.True(t, res.Stopped)
	assert.Equal(t, BlockedFloor|BlockedWall, res.Blocked)
	assert.Equal(t, vmath.Zero, e.Velocity())
	assert.Equal(t, vmath.Vec3{0, 0, -30}, e.Origin())
	assert.Empty(t, f.rec.impacts)
}

func TestFlyMoveHeadOnWallStops(t *testing.T) {
	wall := Brush{Mins: vmath.Vec3{100, -1000, -1000}, Maxs: vmath.Vec3{200, 1000, 1000}, Contents: ContentsSolid}
	f := newFixture(t, wall)
	e := f.spawn(t, vmath.Vec3{0, 0, 0}, boxMins, boxMaxs)
	e.SetVelocity(vmath.Vec3{1000, 0, 0})

	res, err := f.stepper.FlyMove(e, 0.1)
	require.NoError(t, err)
	assert.True(t, res.Stopped)
	assert.True(t, res.Blocked.Has(BlockedWall))
	require.NotNil(t, res.WallTrace)
	assert.Equal(t, vmath.Vec3{-1, 0, 0}, res.WallTrace.Plane.Normal)
	assert.Equal(t, vmath.Zero, e.Velocity())
	assert.InDelta(t, 83.96875, e.Origin()[0], 1e-4)
	assert.Equal(t, []pair{{e.ID(), entity.World}}, f.rec.impacts)
}

func TestFlyMoveSlidesAlongFloor(t *testing.T) {
	f := newFixture(t, floor)
	e := f.spawn(t, vmath.Vec3{0, 0, 30}, boxMins, boxMaxs)
	e.SetVelocity(vmath.Vec3{100, 0, -100})

	res, err := f.stepper.FlyMove(e, 0.1)
	require.NoError(t, err)
	assert.True(t, res.Blocked.Has(BlockedFloor))
	assert.True(t, e.HasFlag(entity.FlagOnGround))
	assert.Equal(t, entity.World, e.GroundEntity())
	assert.Equal(t, vmath.Vec3{100, 0, 0}, e.Velocity())
	assert.InDelta(t, 10, e.Origin()[0], 1e-3)
	assert.InDelta(t, 24.03125, e.Origin()[2], 1e-4)
}

func TestFlyMoveWedgedInCornerStops(t *testing.T) {
	tr := &scripted{hits: []Trace{
		{Fraction: 0, Plane: Plane{Normal: vmath.Vec3{1, 0, 0}}},
		{Fraction: 0, Plane: Plane{Normal: vmath.Vec3{0, 1, 0}}},
		{Fraction: 0, Plane: Plane{Normal: vmath.Vec3{0, 0, 1}}},
	}}
	f := newFixture(t).withTracer(tr)
	e := f.spawn(t, vmath.Vec3{0, 0, 0}, boxMins, boxMaxs)
	e.SetVelocity(vmath.Vec3{-100, -100, -100})

	res, err := f.stepper.FlyMove(e, 0.1)
	require.NoError(t, err)
	assert.Equal(t, 3, res.Bumps)
	assert.True(t, res.Stopped)
	assert.True(t, res.Blocked.Has(BlockedDead))
	assert.Equal(t, vmath.Zero, e.Velocity())
	assert.Len(t, f.rec.impacts, 3)
}

func TestFlyMoveBumpLimit(t *testing.T) {
	tr := &scripted{hits: []Trace{
		{Fraction: 0.5, Plane: Plane{Normal: vmath.Vec3{0, 0, 1}}},
	}}
	f := newFixture(t).withTracer(tr)
	e := f.spawn(t, vmath.Vec3{0, 0, 0}, boxMins, boxMaxs)
	e.SetVelocity(vmath.Vec3{100, 0, -10})

	res, err := f.stepper.FlyMove(e, 0.1)
	require.NoError(t, err)
	assert.Equal(t, 4, res.Bumps)
	assert.Equal(t, 4, tr.calls)
	assert.True(t, res.Stopped)
	assert.Equal(t, vmath.Vec3{100, 0, 0}, e.Velocity())
}

func TestFlyMoveReversalStops(t *testing.T) {
	// Two walls meeting in a vertical crease leave nothing to slide along.
	tr := &scripted{hits: []Trace{
		{Fraction: 0, Plane: Plane{Normal: vmath.Vec3{-0.6, 0.8, 0}}},
		{Fraction: 0, Plane: Plane{Normal: vmath.Vec3{-0.6, -0.8, 0}}},
	}}
	f := newFixture(t).withTracer(tr)
	e := f.spawn(t, vmath.Vec3{0, 0, 0}, boxMins, boxMaxs)
	e.SetVelocity(vmath.Vec3{100, 0, 0})

	res, err := f.stepper.FlyMove(e, 0.1)
	require.NoError(t, err)
	assert.True(t, res.Stopped)
	assert.Equal(t, vmath.Zero, e.Velocity())
	assert.Equal(t, 2, res.Bumps)
}

func TestStepFallsOntoFloor(t *testing.T) {
	f := newFixture(t, floor)
	e := f.spawn(t, vmath.Vec3{0, 0, 25}, boxMins, boxMaxs)
	e.SetMoveType(entity.MoveStep)

	require.NoError(t, f.stepper.Run(e, 0, 0.1))

	z := e.Origin()[2]
	assert.GreaterOrEqual(t, z, float32(24), "entity passed through the floor")
	assert.Less(t, z, float32(25))
	assert.True(t, e.HasFlag(entity.FlagOnGround))
	assert.Empty(t, f.rec.sounds)
}

func TestStepLandingSound(t *testing.T) {
	f := newFixture(t, floor)
	e := f.spawn(t, vmath.Vec3{0, 0, 30}, boxMins, boxMaxs)
	e.SetMoveType(entity.MoveStep)
	e.SetVelocity(vmath.Vec3{0, 0, -200})

	require.NoError(t, f.stepper.Run(e, 0, 0.1))
	assert.True(t, e.HasFlag(entity.FlagOnGround))
	assert.Contains(t, f.rec.sounds, landSound)
}

func TestStepThinksOnGround(t *testing.T) {
	f := newFixture(t, floor)
	e := f.spawn(t, vmath.Vec3{0, 0, 24.5}, boxMins, boxMaxs)
	e.SetMoveType(entity.MoveStep)
	e.SetFlag(entity.FlagOnGround, true)
	e.SetNextThink(1.05)

	require.NoError(t, f.stepper.Run(e, 1, 0.1))
	assert.Equal(t, vmath.Vec3{0, 0, 24.5}, e.Origin())
	assert.Equal(t, []entity.ID{e.ID()}, f.rec.thinks)
	assert.Equal(t, []float32{1.05}, f.rec.thinkAt)
	assert.Equal(t, float32(0), e.NextThink())
}

func TestRunThinkSchedule(t *testing.T) {
	f := newFixture(t)
	e := f.spawn(t, vmath.Zero, boxMins, boxMaxs)

	cases := []struct {
		name      string
		nextThink float32
		fired     bool
		at        float32
	}{
		{"unset", 0, false, 0},
		{"later", 5, false, 0},
		{"this frame", 2.05, true, 2.05},
		{"overdue", 1, true, 2},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			f.rec.thinks, f.rec.thinkAt = nil, nil
			e.SetNextThink(c.nextThink)
			alive, err := f.stepper.RunThink(e, 2, 0.1)
			require.NoError(t, err)
			assert.True(t, alive)
			if c.fired {
				assert.Equal(t, []float32{c.at}, f.rec.thinkAt)
			} else {
				assert.Empty(t, f.rec.thinks)
			}
		})
	}
}

func TestTossAndBounce(t *testing.T) {
	cases := []struct {
		mt       entity.MoveType
		onGround bool
	}{
		{entity.MoveToss, true},
		{entity.MoveBounce, false},
	}
	for _, c := range cases {
		t.Run(c.mt.String(), func(t *testing.T) {
			f := newFixture(t, floor)
			e := f.spawn(t, vmath.Vec3{0, 0, 30}, vmath.Vec3{-4, -4, -4}, vmath.Vec3{4, 4, 4})
			e.SetMoveType(c.mt)
			e.SetVelocity(vmath.Vec3{0, 0, -400})

			require.NoError(t, f.stepper.Run(e, 0, 0.1))
			assert.Equal(t, c.onGround, e.HasFlag(entity.FlagOnGround))
			if c.onGround {
				assert.Equal(t, vmath.Zero, e.Velocity())
			} else {
				assert.Greater(t, e.Velocity()[2], float32(60))
			}
			assert.GreaterOrEqual(t, e.Origin()[2], float32(4))
			assert.Len(t, f.rec.impacts, 1)
		})
	}
}

func TestNoClipIgnoresGeometry(t *testing.T) {
	f := newFixture(t, floor)
	e := f.spawn(t, vmath.Vec3{0, 0, 10}, boxMins, boxMaxs)
	e.SetMoveType(entity.MoveNoClip)
	e.SetVelocity(vmath.Vec3{0, 0, -500})
	e.SetAVelocity(vmath.Vec3{0, 90, 0})

	require.NoError(t, f.stepper.Run(e, 0, 0.1))
	assert.Equal(t, vmath.Vec3{0, 0, -40}, e.Origin())
	assert.Equal(t, vmath.Vec3{0, 9, 0}, e.Angles())
	assert.Equal(t, vmath.Vec3{-17, -17, -65}, e.AbsMin())
}

func TestWalkIsSkipped(t *testing.T) {
	f := newFixture(t, floor)
	e := f.spawn(t, vmath.Vec3{0, 0, 100}, boxMins, boxMaxs)
	e.SetMoveType(entity.MoveWalk)
	e.SetVelocity(vmath.Vec3{0, 0, -100})
	e.SetNextThink(0.05)

	require.NoError(t, f.stepper.Run(e, 0, 0.1))
	assert.Equal(t, vmath.Vec3{0, 0, 100}, e.Origin())
	assert.Empty(t, f.rec.thinks)
}

func TestDropToFloor(t *testing.T) {
	f := newFixture(t, floor)

	near := f.spawn(t, vmath.Vec3{0, 0, 100}, boxMins, boxMaxs)
	landed, err := f.stepper.DropToFloor(near)
	require.NoError(t, err)
	assert.True(t, landed)
	assert.InDelta(t, 24.03125, near.Origin()[2], 1e-4)
	assert.True(t, near.HasFlag(entity.FlagOnGround))

	far := f.spawn(t, vmath.Vec3{0, 0, 400}, boxMins, boxMaxs)
	landed, err = f.stepper.DropToFloor(far)
	require.NoError(t, err)
	assert.False(t, landed)
	assert.Equal(t, vmath.Vec3{0, 0, 400}, far.Origin())
	assert.False(t, far.HasFlag(entity.FlagOnGround))
}

func TestLinkTouchesTriggers(t *testing.T) {
	f := newFixture(t)
	trigger := f.spawn(t, vmath.Vec3{0, 0, 0}, vmath.Vec3{-32, -32, -32}, vmath.Vec3{32, 32, 32})
	trigger.SetSolid(entity.SolidTrigger)
	trigger.SetTouch(1)
	e := f.spawn(t, vmath.Vec3{200, 0, 0}, boxMins, boxMaxs)

	require.NoError(t, f.stepper.Link(e, true))
	assert.Empty(t, f.rec.touches)

	e.SetOrigin(vmath.Vec3{40, 0, 0})
	require.NoError(t, f.stepper.Link(e, true))
	assert.Equal(t, []pair{{trigger.ID(), e.ID()}}, f.rec.touches)
}

func TestItemsLinkWithWideBox(t *testing.T) {
	f := newFixture(t)
	e := f.spawn(t, vmath.Zero, vmath.Vec3{-8, -8, 0}, vmath.Vec3{8, 8, 8})
	e.SetFlag(entity.FlagItem, true)
	require.NoError(t, f.stepper.Link(e, false))
	assert.Equal(t, vmath.Vec3{-23, -23, -1}, e.AbsMin())
	assert.Equal(t, vmath.Vec3{23, 23, 9}, e.AbsMax())
}

func TestPusher(t *testing.T) {
	wall := Brush{Mins: vmath.Vec3{51, -1000, -1000}, Maxs: vmath.Vec3{100, 1000, 1000}, Contents: ContentsSolid}

	setup := func(t *testing.T, brushes ...Brush) (fixture, *entity.Entity, *entity.Entity) {
		f := newFixture(t, brushes...)
		door := f.spawn(t, vmath.Zero, vmath.Zero, vmath.Vec3{32, 32, 32})
		door.SetSolid(entity.SolidBSP)
		door.SetMoveType(entity.MovePush)
		door.SetVelocity(vmath.Vec3{100, 0, 0})
		door.SetNextThink(10)

		crate := f.spawn(t, vmath.Vec3{45, 16, 16}, vmath.Vec3{-5, -5, -5}, vmath.Vec3{5, 5, 5})
		crate.SetSolid(entity.SolidBBox)
		crate.SetMoveType(entity.MoveStep)
		return f, door, crate
	}

	t.Run("shoves", func(t *testing.T) {
		f, door, crate := setup(t)
		require.NoError(t, f.stepper.Run(door, 0, 0.1))
		assert.InDelta(t, 10, door.Origin()[0], 1e-4)
		assert.InDelta(t, 0.1, door.LTime(), 1e-6)
		assert.InDelta(t, 55, crate.Origin()[0], 1e-4)
		assert.Empty(t, f.rec.blocked)
	})

	t.Run("blocked", func(t *testing.T) {
		f, door, crate := setup(t, wall)
		require.NoError(t, f.stepper.Run(door, 0, 0.1))
		assert.Equal(t, vmath.Zero, door.Origin())
		assert.Equal(t, float32(0), door.LTime())
		assert.Equal(t, vmath.Vec3{45, 16, 16}, crate.Origin())
		assert.Equal(t, []pair{{door.ID(), crate.ID()}}, f.rec.blocked)
	})

	t.Run("stops at think", func(t *testing.T) {
		f, door, _ := setup(t)
		door.SetNextThink(0.05)
		require.NoError(t, f.stepper.Run(door, 3, 0.1))
		assert.InDelta(t, 5, door.Origin()[0], 1e-4)
		assert.Equal(t, []float32{3}, f.rec.thinkAt)
		assert.Equal(t, float32(0), door.NextThink())
	})

	t.Run("idle advances clock", func(t *testing.T) {
		f, door, _ := setup(t)
		door.SetVelocity(vmath.Zero)
		require.NoError(t, f.stepper.Run(door, 0, 0.1))
		assert.InDelta(t, 0.1, door.LTime(), 1e-6)
		assert.Equal(t, vmath.Zero, door.Origin())
	})
}

func TestWaterTransitionSplashes(t *testing.T) {
	pool := Brush{Mins: vmath.Vec3{-100, -100, -100}, Maxs: vmath.Vec3{100, 100, 0}, Contents: ContentsWater}
	f := newFixture(t, pool)
	e := f.spawn(t, vmath.Vec3{0, 0, 10}, boxMins, boxMaxs)

	f.stepper.CheckWaterTransition(e)
	assert.Equal(t, float32(ContentsEmpty), e.WaterType())
	assert.Empty(t, f.rec.sounds)

	e.SetOrigin(vmath.Vec3{0, 0, -10})
	f.stepper.CheckWaterTransition(e)
	assert.Equal(t, float32(ContentsWater), e.WaterType())
	assert.Equal(t, []string{splashSound}, f.rec.sounds)
}

func TestCheckVelocityClamps(t *testing.T) {
	f := newFixture(t)
	e := f.spawn(t, vmath.Zero, boxMins, boxMaxs)
	e.SetVelocity(vmath.Vec3{5000, -5000, 10})

	f.stepper.CheckVelocity(e)
	assert.Equal(t, vmath.Vec3{2000, -2000, 10}, e.Velocity())
}
