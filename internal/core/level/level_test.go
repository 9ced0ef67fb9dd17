package level

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zeusync/qcserver/internal/core/entity"
	"github.com/zeusync/qcserver/internal/core/events/bus"
	"github.com/zeusync/qcserver/internal/core/physics"
	"github.com/zeusync/qcserver/internal/core/progs"
	"github.com/zeusync/qcserver/internal/core/vm"
	"github.com/zeusync/qcserver/internal/core/vmath"
)

// fields of the test program beyond the reserved block
type testFields struct {
	toucher  int
	count    int
	lightLev int
}

// buildProgram assembles a small game: boxes that count their touches,
// a self-rescheduling counter, a thinker whose think always fails and a
// few one-shot spawn functions.
func buildProgram(t *testing.T) (*progs.Program, testFields) {
	t.Helper()
	b := progs.NewBuilder()
	precacheModel := b.Builtin("precache_model", int(vm.BuiltinPrecacheModel))
	precacheSound := b.Builtin("precache_sound", int(vm.BuiltinPrecacheSound))
	setModel := b.Builtin("setmodel", int(vm.BuiltinSetModel))
	remove := b.Builtin("remove", int(vm.BuiltinRemove))
	makeStatic := b.Builtin("makestatic", int(vm.BuiltinMakeStatic))

	toucher := b.Field("toucher", progs.TypeEntity)
	count := b.Field("count", progs.TypeFloat)
	lightLev := b.Field("light_lev", progs.TypeFloat)

	// box_touch: self.count = self.count + 1; self.toucher = other;
	touch := b.Func("box_touch")
	p := touch.Local("p", progs.TypePointer)
	n := touch.Local("n", progs.TypeFloat)
	countRef, toucherRef, one := b.FieldRef(count), b.FieldRef(toucher), b.Float(1)
	touch.Emit(progs.OpLoadF, progs.GlobalSelf, countRef, n)
	touch.Emit(progs.OpAddF, n, one, n)
	touch.Emit(progs.OpAddress, progs.GlobalSelf, countRef, p)
	touch.Emit(progs.OpStorePF, n, p, 0)
	touch.Emit(progs.OpAddress, progs.GlobalSelf, toucherRef, p)
	touch.Emit(progs.OpStorePEnt, progs.GlobalOther, p, 0)
	touchID := touch.End()

	ws := b.Func("worldspawn")
	mdl, snd := b.Str("progs/box.mdl"), b.Str("items/hit.wav")
	pm, ps := b.FunctionRef(precacheModel), b.FunctionRef(precacheSound)
	ws.Emit(progs.OpStoreS, mdl, progs.OfsParm0, 0)
	ws.Emit(progs.OpCall1, pm, 0, 0)
	ws.Emit(progs.OpStoreS, snd, progs.OfsParm0, 0)
	ws.Emit(progs.OpCall1, ps, 0, 0)
	ws.End()

	box := b.Func("item_box")
	bp := box.Local("p", progs.TypePointer)
	sm, touchRef := b.FunctionRef(setModel), b.FunctionRef(touchID)
	touchFld, solidFld, moveFld := b.FieldRef(progs.FieldTouch), b.FieldRef(progs.FieldSolid), b.FieldRef(progs.FieldMoveType)
	bbox, toss := b.Float(float32(entity.SolidBBox)), b.Float(float32(entity.MoveToss))
	box.Emit(progs.OpStoreEnt, progs.GlobalSelf, progs.OfsParm0, 0)
	box.Emit(progs.OpStoreS, mdl, progs.OfsParm1, 0)
	box.Emit(progs.OpCall2, sm, 0, 0)
	box.Emit(progs.OpAddress, progs.GlobalSelf, touchFld, bp)
	box.Emit(progs.OpStorePFnc, touchRef, bp, 0)
	box.Emit(progs.OpAddress, progs.GlobalSelf, solidFld, bp)
	box.Emit(progs.OpStorePF, bbox, bp, 0)
	box.Emit(progs.OpAddress, progs.GlobalSelf, moveFld, bp)
	box.Emit(progs.OpStorePF, toss, bp, 0)
	box.End()

	// count_think: self.count = self.count + 1; self.nextthink = time + 0.1;
	ct := b.Func("count_think")
	cp := ct.Local("p", progs.TypePointer)
	cn := ct.Local("n", progs.TypeFloat)
	tenth, nextFld := b.Float(0.1), b.FieldRef(progs.FieldNextThink)
	ct.Emit(progs.OpLoadF, progs.GlobalSelf, countRef, cn)
	ct.Emit(progs.OpAddF, cn, one, cn)
	ct.Emit(progs.OpAddress, progs.GlobalSelf, countRef, cp)
	ct.Emit(progs.OpStorePF, cn, cp, 0)
	ct.Emit(progs.OpAddF, progs.GlobalTime, tenth, cn)
	ct.Emit(progs.OpAddress, progs.GlobalSelf, nextFld, cp)
	ct.Emit(progs.OpStorePF, cn, cp, 0)
	countThink := ct.End()

	// broken_think calls the null function.
	bt := b.Func("broken_think")
	null := b.FunctionRef(0)
	bt.Emit(progs.OpCall0, null, 0, 0)
	brokenThink := bt.End()

	schedule := func(name string, think progs.FunctionID) {
		f := b.Func(name)
		fp := f.Local("p", progs.TypePointer)
		fn := f.Local("n", progs.TypeFloat)
		ref, thinkFld := b.FunctionRef(think), b.FieldRef(progs.FieldThink)
		f.Emit(progs.OpAddF, progs.GlobalTime, tenth, fn)
		f.Emit(progs.OpAddress, progs.GlobalSelf, nextFld, fp)
		f.Emit(progs.OpStorePF, fn, fp, 0)
		f.Emit(progs.OpAddress, progs.GlobalSelf, thinkFld, fp)
		f.Emit(progs.OpStorePFnc, ref, fp, 0)
		f.End()
	}
	schedule("counter", countThink)
	schedule("ticker", brokenThink)

	oneCall := func(name string, builtin progs.FunctionID) {
		f := b.Func(name)
		ref := b.FunctionRef(builtin)
		f.Emit(progs.OpStoreEnt, progs.GlobalSelf, progs.OfsParm0, 0)
		f.Emit(progs.OpCall1, ref, 0, 0)
		f.End()
	}
	oneCall("info_null", remove)
	oneCall("light_static", makeStatic)

	late := b.Func("late_precache")
	lateSnd := b.Str("items/late.wav")
	late.Emit(progs.OpStoreS, lateSnd, progs.OfsParm0, 0)
	late.Emit(progs.OpCall1, ps, 0, 0)
	late.End()

	prog, err := b.Build()
	require.NoError(t, err)
	return prog, testFields{toucher: int(toucher), count: int(count), lightLev: int(lightLev)}
}

var floor = physics.Brush{
	Mins:     vmath.Vec3{-512, -512, -64},
	Maxs:     vmath.Vec3{512, 512, 0},
	Contents: physics.ContentsSolid,
}

const testEntities = `
// test map
{
"classname" "worldspawn"
"wad" "gfx/base.wad"
}
{
"classname" "item_box"
"origin" "0 0 100"
}
{
"classname" "item_box"
"origin" "200 0 100"
"spawnflags" "512"
}
{
"classname" "counter"
"_comment" "editor only"
"light" "200"
"angle" "90"
}
{
"classname" "info_null"
}
{
"classname" "light_static"
"origin" "1 2 3"
}
`

func testMap(entities string) *MapDef {
	return &MapDef{
		Name:    "test",
		Brushes: []physics.Brush{floor},
		Models: map[string]ModelBounds{
			"progs/box.mdl": {Mins: vmath.Vec3{-16, -16, 0}, Maxs: vmath.Vec3{16, 16, 32}},
		},
		Entities: entities,
	}
}

type eventLog struct {
	events []bus.Event
}

func (r *eventLog) handle(ev bus.Event) error {
	r.events = append(r.events, ev)
	return nil
}

func (r *eventLog) of(kind bus.Kind) []bus.Event {
	var out []bus.Event
	for _, ev := range r.events {
		if ev.Kind == kind {
			out = append(out, ev)
		}
	}
	return out
}

func newLevel(t *testing.T, opts ...Option) (*Level, testFields, *eventLog) {
	t.Helper()
	prog, fields := buildProgram(t)
	events := &eventLog{}
	b := bus.New()
	_, err := b.Subscribe(events.handle)
	require.NoError(t, err)

	l, err := New(prog, append([]Option{WithBus(b)}, opts...)...)
	require.NoError(t, err)
	return l, fields, events
}

func loadLevel(t *testing.T, entities string, opts ...Option) (*Level, testFields, *eventLog) {
	t.Helper()
	l, fields, events := newLevel(t, opts...)
	require.NoError(t, l.Load(testMap(entities)))
	return l, fields, events
}

func findClass(t *testing.T, l *Level, class string) []*entity.Entity {
	t.Helper()
	var out []*entity.Entity
	l.Store().Each(func(e *entity.Entity) bool {
		if name, _ := l.Program().Strings.Get(e.ClassName()); name == class {
			out = append(out, e)
		}
		return true
	})
	return out
}

func TestLoadSpawnsMapEntities(t *testing.T) {
	l, fields, events := loadLevel(t, testEntities)

	assert.Equal(t, "test", l.MapName())
	assert.InDelta(t, 1.2, l.Time(), 1e-6)
	assert.Equal(t, uint64(2), l.Frame())
	assert.Equal(t, []string{"", "maps/test.bsp", "progs/box.mdl"}, l.Precached(vm.PrecacheModel))
	assert.Equal(t, []string{"", "items/hit.wav"}, l.Precached(vm.PrecacheSound))
	assert.Len(t, events.of(bus.KindPrecache), 2)

	world := l.Store().World()
	assert.Equal(t, "maps/test.bsp", l.Program().Strings.MustGet(world.Model()))
	assert.Equal(t, entity.SolidBSP, world.Solid())

	boxes := findClass(t, l, "item_box")
	require.Len(t, boxes, 1, "the not-medium box is inhibited at skill 1")
	box := boxes[0]
	assert.Equal(t, float32(2), box.ModelIndex())
	assert.Equal(t, vmath.Vec3{32, 32, 32}, box.Size())
	assert.Equal(t, entity.MoveToss, box.MoveType())

	counters := findClass(t, l, "counter")
	require.Len(t, counters, 1)
	counter := counters[0]
	assert.Equal(t, vmath.Vec3{0, 90, 0}, counter.Angles())
	lev, err := counter.Float(fields.lightLev)
	require.NoError(t, err)
	assert.Equal(t, float32(200), lev)

	assert.Empty(t, findClass(t, l, "info_null"))
	assert.Empty(t, findClass(t, l, "light_static"))
	require.Len(t, l.Statics(), 1)
	assert.Equal(t, vmath.Vec3{1, 2, 3}, l.Statics()[0].Origin)
	assert.Len(t, events.of(bus.KindEntityRemoved), 2)

	states := l.States()
	require.Len(t, states, 1)
	assert.Equal(t, box.ID(), states[0].ID)
}

func TestPrecacheClosedAfterLoad(t *testing.T) {
	l, _, _ := loadLevel(t, testEntities)

	_, err := l.SpawnEntity(map[string]string{"classname": "late_precache"})
	require.ErrorIs(t, err, ErrPrecacheClosed)

	var ee *vm.ExecError
	require.ErrorAs(t, err, &ee)
	assert.Equal(t, "late_precache", ee.Function)

	require.ErrorIs(t, l.Precache(vm.PrecacheSound, "items/hit.wav"), ErrPrecacheClosed)
	assert.NoError(t, l.Precache(vm.PrecacheFile, "gfx/palette.lmp"))
}

func TestSpawnEntityErrors(t *testing.T) {
	l, _, _ := newLevel(t)
	_, err := l.SpawnEntity(map[string]string{"classname": "item_box"})
	require.ErrorIs(t, err, ErrNotLoaded)

	require.NoError(t, l.Load(testMap(`{ "classname" "worldspawn" }`)))
	live := l.Store().Live()

	_, err = l.SpawnEntity(map[string]string{"origin": "1 2 3"})
	require.ErrorIs(t, err, ErrNoClassName)

	_, err = l.SpawnEntity(map[string]string{"classname": "monster_unknown"})
	require.ErrorIs(t, err, ErrNoSpawnFunction)
	assert.Equal(t, live, l.Store().Live(), "failed spawns are freed")
}

func TestSpawnflagsInhibit(t *testing.T) {
	cases := []struct {
		name    string
		cvars   map[string]string
		flags   string
		spawned bool
	}{
		{"easy skips not-easy", map[string]string{"skill": "0"}, "256", false},
		{"easy keeps not-hard", map[string]string{"skill": "0"}, "1024", true},
		{"medium skips not-medium", nil, "512", false},
		{"hard skips not-hard", map[string]string{"skill": "3"}, "1024", false},
		{"deathmatch skips not-deathmatch", map[string]string{"deathmatch": "1"}, "2048", false},
		{"deathmatch ignores skill flags", map[string]string{"deathmatch": "1"}, "512", true},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			cfg := DefaultConfig()
			cfg.Cvars = c.cvars
			l, _, _ := loadLevel(t, `{ "classname" "worldspawn" }`, WithConfig(cfg))

			e, err := l.SpawnEntity(map[string]string{"classname": "counter", "spawnflags": c.flags})
			require.NoError(t, err)
			assert.Equal(t, c.spawned, e != nil)
		})
	}
}

func TestImpactRunsBothTouches(t *testing.T) {
	l, fields, _ := loadLevel(t, `{ "classname" "worldspawn" }`)
	a, err := l.SpawnEntity(map[string]string{"classname": "item_box", "origin": "0 0 100"})
	require.NoError(t, err)
	b, err := l.SpawnEntity(map[string]string{"classname": "item_box", "origin": "0 0 200"})
	require.NoError(t, err)

	g := l.Globals()
	g.SetSelf(entity.World)
	g.SetOther(entity.World)
	require.NoError(t, l.Impact(a, b))

	for _, c := range []struct{ e, other *entity.Entity }{{a, b}, {b, a}} {
		n, err := c.e.Float(fields.count)
		require.NoError(t, err)
		assert.Equal(t, float32(1), n)
		who, err := c.e.Ent(fields.toucher)
		require.NoError(t, err)
		assert.Equal(t, c.other.ID(), who)
	}
	assert.Equal(t, entity.World, g.Self())
	assert.Equal(t, entity.World, g.Other())

	b.SetSolid(entity.SolidNot)
	require.NoError(t, l.Impact(a, b))
	n, _ := b.Float(fields.count)
	assert.Equal(t, float32(1), n, "non-solid entities do not touch")
}

func TestTossedBoxLandsOnFloor(t *testing.T) {
	l, fields, _ := loadLevel(t, testEntities)
	box := findClass(t, l, "item_box")[0]

	for i := 0; i < 100 && !box.HasFlag(entity.FlagOnGround); i++ {
		l.Tick(0.05)
	}
	require.True(t, box.HasFlag(entity.FlagOnGround))
	assert.InDelta(t, 0.03125, box.Origin()[2], 1e-4)
	assert.Equal(t, entity.World, box.GroundEntity())

	n, err := box.Float(fields.count)
	require.NoError(t, err)
	assert.Equal(t, float32(1), n, "landing touches once")
}

func TestTickSkipsFailingEntity(t *testing.T) {
	l, fields, _ := loadLevel(t, testEntities)
	counter := findClass(t, l, "counter")[0]

	_, err := l.SpawnEntity(map[string]string{"classname": "ticker"})
	require.NoError(t, err)

	before, _ := counter.Float(fields.count)
	stats := l.Tick(0.1)
	assert.Equal(t, 1, stats.Failed)
	after, _ := counter.Float(fields.count)
	assert.Equal(t, before+1, after, "entities after the failure still run")

	stats = l.Tick(0.1)
	assert.Zero(t, stats.Failed, "a failed think is not rescheduled")
}

func TestSoundValidation(t *testing.T) {
	l, _, events := loadLevel(t, testEntities)
	box := findClass(t, l, "item_box")[0]

	require.ErrorIs(t, l.Sound(box, 8, "items/hit.wav", 1, 1), ErrBadSound)
	require.ErrorIs(t, l.Sound(box, 0, "items/hit.wav", 1.5, 1), ErrBadSound)
	require.ErrorIs(t, l.Sound(box, 0, "items/hit.wav", 1, 5), ErrBadSound)

	require.NoError(t, l.Sound(box, 1, "items/missing.wav", 1, 1))
	assert.Empty(t, events.of(bus.KindSound))

	require.NoError(t, l.Sound(box, 1, "items/hit.wav", 0.5, 1))
	sounds := events.of(bus.KindSound)
	require.Len(t, sounds, 1)
	assert.Equal(t, box.ID(), sounds[0].Entity)
	assert.Equal(t, float32(0.5), sounds[0].Volume)
	assert.Equal(t, vmath.Add(box.Origin(), vmath.Vec3{0, 0, 16}), sounds[0].Origin)
}

func TestSetModelNeedsPrecache(t *testing.T) {
	l, _, _ := loadLevel(t, testEntities)
	e, err := l.Spawn()
	require.NoError(t, err)

	name, err := l.Program().Strings.FindOrInsert("progs/other.mdl")
	require.NoError(t, err)
	require.ErrorIs(t, l.SetModel(e, name), ErrNotPrecached)

	name, err = l.Program().Strings.FindOrInsert("maps/test.bsp")
	require.NoError(t, err)
	require.NoError(t, l.SetModel(e, name))
	assert.Equal(t, float32(1), e.ModelIndex())
	assert.Equal(t, vmath.Zero, e.Size())
}

func TestCvarsReachStepper(t *testing.T) {
	l, _, _ := newLevel(t)
	assert.Equal(t, float32(800), l.Stepper().Config().Gravity)

	l.SetCvar("sv_gravity", "400")
	assert.Equal(t, float32(400), l.Cvar("sv_gravity"))
	assert.Equal(t, float32(400), l.Stepper().Config().Gravity)

	l.SetCvar("sv_maxvelocity", "1000")
	assert.Equal(t, float32(1000), l.Stepper().Config().MaxVelocity)

	l.SetCvar("no_such_cvar", "1")
	assert.Zero(t, l.Cvar("no_such_cvar"))
}

func TestChangeLevelFirstRequestWins(t *testing.T) {
	l, _, events := loadLevel(t, testEntities)
	l.ChangeLevel("e1m2")
	l.ChangeLevel("e1m3")
	assert.Equal(t, "e1m2", l.PendingChange())
	require.Len(t, events.of(bus.KindLevelChange), 1)

	require.NoError(t, l.Load(testMap(testEntities)))
	assert.Empty(t, l.PendingChange())
}

func TestLightStylesAndPrints(t *testing.T) {
	l, _, events := loadLevel(t, testEntities)
	l.LightStyle(5, "mmnmmommommnonmmonqnmmo")
	l.LightStyle(64, "a")
	assert.Equal(t, "mmnmmommommnonmmonqnmmo", l.LightStyles()[5])
	styles := events.of(bus.KindLightStyle)
	require.Len(t, styles, 1)
	assert.Equal(t, 5, styles[0].Channel)

	l.Print(vm.PrintBroadcast, entity.World, "hello\n")
	l.Print(vm.PrintDebug, entity.World, "debug only\n")
	prints := events.of(bus.KindPrint)
	require.Len(t, prints, 1)
	assert.Equal(t, "hello\n", prints[0].Text)
}

func TestTracelineAndContents(t *testing.T) {
	l, _, _ := loadLevel(t, testEntities)

	tr := l.Traceline(vmath.Vec3{300, 0, 50}, vmath.Vec3{300, 0, -50}, true, nil)
	assert.Less(t, tr.Fraction, float32(1))
	assert.Equal(t, vmath.Vec3{0, 0, 1}, tr.PlaneNormal)
	assert.Equal(t, entity.World, tr.Ent)

	assert.Equal(t, float32(physics.ContentsSolid), l.PointContents(vmath.Vec3{0, 0, -10}))
	assert.Equal(t, float32(physics.ContentsEmpty), l.PointContents(vmath.Vec3{0, 0, 10}))
}
