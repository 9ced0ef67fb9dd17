package vm

import (
	"fmt"
	"math"
	"strconv"
	"strings"

	"golang.org/x/time/rate"

	"github.com/zeusync/qcserver/internal/core/entity"
	"github.com/zeusync/qcserver/internal/core/observability/log"
	"github.com/zeusync/qcserver/internal/core/progs"
	"github.com/zeusync/qcserver/internal/core/strtab"
	"github.com/zeusync/qcserver/internal/core/vmath"
)

// Builtin is a native function number fixed by the script ABI.
type Builtin uint8

const (
	BuiltinMakeVectors    Builtin = 1
	BuiltinSetOrigin      Builtin = 2
	BuiltinSetModel       Builtin = 3
	BuiltinSetSize        Builtin = 4
	BuiltinBreak          Builtin = 6
	BuiltinRandom         Builtin = 7
	BuiltinSound          Builtin = 8
	BuiltinNormalize      Builtin = 9
	BuiltinError          Builtin = 10
	BuiltinObjError       Builtin = 11
	BuiltinVLen           Builtin = 12
	BuiltinVecToYaw       Builtin = 13
	BuiltinSpawn          Builtin = 14
	BuiltinRemove         Builtin = 15
	BuiltinTraceLine      Builtin = 16
	BuiltinCheckClient    Builtin = 17
	BuiltinFind           Builtin = 18
	BuiltinPrecacheSound  Builtin = 19
	BuiltinPrecacheModel  Builtin = 20
	BuiltinStuffCmd       Builtin = 21
	BuiltinFindRadius     Builtin = 22
	BuiltinBPrint         Builtin = 23
	BuiltinSPrint         Builtin = 24
	BuiltinDPrint         Builtin = 25
	BuiltinFtoS           Builtin = 26
	BuiltinVtoS           Builtin = 27
	BuiltinCoreDump       Builtin = 28
	BuiltinTraceOn        Builtin = 29
	BuiltinTraceOff       Builtin = 30
	BuiltinEPrint         Builtin = 31
	BuiltinWalkMove       Builtin = 32
	BuiltinDropToFloor    Builtin = 34
	BuiltinLightStyle     Builtin = 35
	BuiltinRint           Builtin = 36
	BuiltinFloor          Builtin = 37
	BuiltinCeil           Builtin = 38
	BuiltinCheckBottom    Builtin = 40
	BuiltinPointContents  Builtin = 41
	BuiltinFabs           Builtin = 43
	BuiltinAim            Builtin = 44
	BuiltinCvar           Builtin = 45
	BuiltinLocalCmd       Builtin = 46
	BuiltinNextEnt        Builtin = 47
	BuiltinParticle       Builtin = 48
	BuiltinChangeYaw      Builtin = 49
	BuiltinVecToAngles    Builtin = 51
	BuiltinWriteByte      Builtin = 52
	BuiltinWriteChar      Builtin = 53
	BuiltinWriteShort     Builtin = 54
	BuiltinWriteLong      Builtin = 55
	BuiltinWriteCoord     Builtin = 56
	BuiltinWriteAngle     Builtin = 57
	BuiltinWriteString    Builtin = 58
	BuiltinWriteEntity    Builtin = 59
	BuiltinMoveToGoal     Builtin = 67
	BuiltinPrecacheFile   Builtin = 68
	BuiltinMakeStatic     Builtin = 69
	BuiltinChangeLevel    Builtin = 70
	BuiltinCvarSet        Builtin = 72
	BuiltinCenterPrint    Builtin = 73
	BuiltinAmbientSound   Builtin = 74
	BuiltinPrecacheModel2 Builtin = 75
	BuiltinPrecacheSound2 Builtin = 76
	BuiltinPrecacheFile2  Builtin = 77
	BuiltinSetSpawnParms  Builtin = 78

	builtinCount = 79
)

// Numbers missing from the list above are reserved and have no name.
var builtinNames = [builtinCount]string{
	1: "makevectors", 2: "setorigin", 3: "setmodel", 4: "setsize",
	6: "break", 7: "random", 8: "sound", 9: "normalize", 10: "error",
	11: "objerror", 12: "vlen", 13: "vectoyaw", 14: "spawn", 15: "remove",
	16: "traceline", 17: "checkclient", 18: "find", 19: "precache_sound",
	20: "precache_model", 21: "stuffcmd", 22: "findradius", 23: "bprint",
	24: "sprint", 25: "dprint", 26: "ftos", 27: "vtos", 28: "coredump",
	29: "traceon", 30: "traceoff", 31: "eprint", 32: "walkmove",
	34: "droptofloor", 35: "lightstyle", 36: "rint", 37: "floor", 38: "ceil",
	40: "checkbottom", 41: "pointcontents", 43: "fabs", 44: "aim", 45: "cvar",
	46: "localcmd", 47: "nextent", 48: "particle", 49: "changeyaw",
	51: "vectoangles", 52: "WriteByte", 53: "WriteChar", 54: "WriteShort",
	55: "WriteLong", 56: "WriteCoord", 57: "WriteAngle", 58: "WriteString",
	59: "WriteEntity", 67: "movetogoal", 68: "precache_file", 69: "makestatic",
	70: "changelevel", 72: "cvar_set", 73: "centerprint", 74: "ambientsound",
	75: "precache_model2", 76: "precache_sound2", 77: "precache_file2",
	78: "setspawnparms",
}

func (b Builtin) Valid() bool {
	return b < builtinCount && builtinNames[b] != ""
}

func (b Builtin) String() string {
	if b.Valid() {
		return builtinNames[b]
	}
	return "#" + strconv.Itoa(int(b))
}

// BuiltinByName resolves a catalog name to its number.
func BuiltinByName(name string) (Builtin, bool) {
	for i, n := range builtinNames {
		if n == name {
			return Builtin(i), true
		}
	}
	return 0, false
}

func (vm *Interpreter) callBuiltin(num int) error {
	if num <= 0 || num >= builtinCount || !Builtin(num).Valid() {
		return fmt.Errorf("%w: #%d", ErrBadBuiltin, num)
	}
	return vm.builtin(Builtin(num))
}

func (vm *Interpreter) builtin(b Builtin) error {
	g := vm.globals

	switch b {
	case BuiltinMakeVectors:
		g.SetVectors(vmath.AngleVectors(g.ParmVector(0)))

	case BuiltinSetOrigin:
		e, err := vm.entArg(0)
		if err != nil {
			return err
		}
		vm.world.SetOrigin(e, g.ParmVector(1))

	case BuiltinSetModel:
		e, err := vm.entArg(0)
		if err != nil {
			return err
		}
		return vm.world.SetModel(e, g.ParmStr(1))

	case BuiltinSetSize:
		e, err := vm.entArg(0)
		if err != nil {
			return err
		}
		vm.world.SetSize(e, g.ParmVector(1), g.ParmVector(2))

	case BuiltinBreak:
		vm.logger.Warn("break statement", log.String("function", vm.currentName()))

	case BuiltinRandom:
		g.SetReturnFloat(vm.rng.Float32())

	case BuiltinSound:
		e, err := vm.entArg(0)
		if err != nil {
			return err
		}
		sample, err := vm.strArg(2)
		if err != nil {
			return err
		}
		return vm.world.Sound(e, int(g.ParmFloat(1)), sample, g.ParmFloat(3), g.ParmFloat(4))

	case BuiltinNormalize:
		g.SetReturnVector(vmath.Normalize(g.ParmVector(0)))

	case BuiltinError, BuiltinObjError:
		msg, err := vm.varString(0)
		if err != nil {
			return err
		}
		self, _ := vm.store.Get(g.Self())
		fields := []log.Field{log.String("function", vm.currentName()), log.String("message", msg)}
		if self != nil {
			fields = append(fields, vm.describe(self)...)
		}
		vm.logger.Error("script "+b.String(), fields...)
		if b == BuiltinObjError && self != nil && !self.IsWorld() {
			if err := vm.world.Remove(self); err != nil {
				return err
			}
		}
		return fmt.Errorf("%w: %s", ErrScriptError, msg)

	case BuiltinVLen:
		g.SetReturnFloat(vmath.Length(g.ParmVector(0)))

	case BuiltinVecToYaw:
		g.SetReturnFloat(vmath.VecToYaw(g.ParmVector(0)))

	case BuiltinVecToAngles:
		g.SetReturnVector(vmath.VecToAngles(g.ParmVector(0)))

	case BuiltinSpawn:
		e, err := vm.world.Spawn()
		if err != nil {
			return err
		}
		g.SetReturnRaw(uint32(e.ID()))

	case BuiltinRemove:
		e, err := vm.entArg(0)
		if err != nil {
			return err
		}
		return vm.world.Remove(e)

	case BuiltinTraceLine:
		pass, err := vm.entArg(3)
		if err != nil {
			return err
		}
		g.SetTrace(vm.world.Traceline(g.ParmVector(0), g.ParmVector(1), g.ParmFloat(2) != 0, pass))

	case BuiltinCheckClient:
		g.SetReturnRaw(uint32(entity.World))

	case BuiltinFind:
		return vm.find()

	case BuiltinFindRadius:
		return vm.findRadius()

	case BuiltinNextEnt:
		next, ok := vm.store.Next(g.ParmEnt(0))
		if ok {
			g.SetReturnRaw(uint32(next.ID()))
		} else {
			g.SetReturnRaw(uint32(entity.World))
		}

	case BuiltinPrecacheSound, BuiltinPrecacheSound2:
		return vm.precache(PrecacheSound)
	case BuiltinPrecacheModel, BuiltinPrecacheModel2:
		return vm.precache(PrecacheModel)
	case BuiltinPrecacheFile, BuiltinPrecacheFile2:
		return vm.precache(PrecacheFile)

	case BuiltinBPrint:
		msg, err := vm.varString(0)
		if err != nil {
			return err
		}
		vm.world.Print(PrintBroadcast, entity.World, msg)

	case BuiltinSPrint, BuiltinCenterPrint:
		msg, err := vm.varString(1)
		if err != nil {
			return err
		}
		kind := PrintClient
		if b == BuiltinCenterPrint {
			kind = PrintCenter
		}
		vm.world.Print(kind, g.ParmEnt(0), msg)

	case BuiltinDPrint:
		msg, err := vm.varString(0)
		if err != nil {
			return err
		}
		vm.world.Print(PrintDebug, entity.World, msg)

	case BuiltinFtoS:
		return vm.returnTemp(formatFloat(g.ParmFloat(0)))

	case BuiltinVtoS:
		v := g.ParmVector(0)
		return vm.returnTemp(fmt.Sprintf("'%5.1f %5.1f %5.1f'", v[0], v[1], v[2]))

	case BuiltinCoreDump:
		vm.store.Each(func(e *entity.Entity) bool {
			if !e.IsFree() {
				vm.logger.Info("entity", vm.describe(e)...)
			}
			return true
		})

	case BuiltinTraceOn:
		vm.trace = true
	case BuiltinTraceOff:
		vm.trace = false

	case BuiltinEPrint:
		e, err := vm.entArg(0)
		if err != nil {
			return err
		}
		vm.logger.Info("entity", vm.describe(e)...)

	case BuiltinDropToFloor:
		self, err := vm.store.Get(g.Self())
		if err != nil {
			return err
		}
		g.SetReturnFloat(boolFloat(vm.world.DropToFloor(self)))

	case BuiltinLightStyle:
		value, err := vm.strArg(1)
		if err != nil {
			return err
		}
		vm.world.LightStyle(int(g.ParmFloat(0)), value)

	case BuiltinRint:
		f := g.ParmFloat(0)
		if f > 0 {
			g.SetReturnFloat(float32(int32(f + 0.5)))
		} else {
			g.SetReturnFloat(float32(int32(f - 0.5)))
		}
	case BuiltinFloor:
		g.SetReturnFloat(float32(math.Floor(float64(g.ParmFloat(0)))))
	case BuiltinCeil:
		g.SetReturnFloat(float32(math.Ceil(float64(g.ParmFloat(0)))))
	case BuiltinFabs:
		g.SetReturnFloat(float32(math.Abs(float64(g.ParmFloat(0)))))

	case BuiltinPointContents:
		g.SetReturnFloat(vm.world.PointContents(g.ParmVector(0)))

	case BuiltinAim:
		g.SetReturnVector(g.Forward())

	case BuiltinCvar:
		name, err := vm.strArg(0)
		if err != nil {
			return err
		}
		g.SetReturnFloat(vm.world.Cvar(name))

	case BuiltinCvarSet:
		name, err := vm.strArg(0)
		if err != nil {
			return err
		}
		value, err := vm.strArg(1)
		if err != nil {
			return err
		}
		vm.world.SetCvar(name, value)

	case BuiltinChangeYaw:
		self, err := vm.store.Get(g.Self())
		if err != nil {
			return err
		}
		return changeYaw(self)

	case BuiltinMakeStatic:
		e, err := vm.entArg(0)
		if err != nil {
			return err
		}
		return vm.world.MakeStatic(e)

	case BuiltinChangeLevel:
		name, err := vm.strArg(0)
		if err != nil {
			return err
		}
		vm.world.ChangeLevel(name)

	case BuiltinAmbientSound:
		sample, err := vm.strArg(1)
		if err != nil {
			return err
		}
		return vm.world.AmbientSound(g.ParmVector(0), sample, g.ParmFloat(2), g.ParmFloat(3))

	case BuiltinStuffCmd, BuiltinWalkMove, BuiltinCheckBottom, BuiltinLocalCmd,
		BuiltinParticle, BuiltinWriteByte, BuiltinWriteChar, BuiltinWriteShort,
		BuiltinWriteLong, BuiltinWriteCoord, BuiltinWriteAngle, BuiltinWriteString,
		BuiltinWriteEntity, BuiltinMoveToGoal, BuiltinSetSpawnParms:
		vm.unimplemented(b)

	default:
		return fmt.Errorf("%w: %s", ErrBadBuiltin, b)
	}
	return nil
}

func (vm *Interpreter) unimplemented(b Builtin) {
	vm.metrics.UnimplementedBuiltin(b.String())
	lim, ok := vm.warn[b]
	if !ok {
		lim = rate.NewLimiter(rate.Every(vm.cfg.WarnInterval), 1)
		vm.warn[b] = lim
	}
	if lim.Allow() {
		vm.logger.Warn("unimplemented builtin",
			log.String("builtin", b.String()),
			log.String("function", vm.currentName()))
	}
	vm.globals.SetReturnFloat(0)
}

func (vm *Interpreter) entArg(i int) (*entity.Entity, error) {
	return vm.store.Get(vm.globals.ParmEnt(i))
}

func (vm *Interpreter) strArg(i int) (string, error) {
	id := vm.globals.ParmStr(i)
	s, ok := vm.prog.Strings.Get(id)
	if !ok {
		return "", fmt.Errorf("%w: %d", ErrBadString, id)
	}
	return s, nil
}

// varString joins the string arguments from first to the call's argc.
func (vm *Interpreter) varString(first int) (string, error) {
	var sb strings.Builder
	for i := first; i < vm.argc; i++ {
		s, err := vm.strArg(i)
		if err != nil {
			return "", err
		}
		sb.WriteString(s)
	}
	return sb.String(), nil
}

// returnTemp returns s through the shared temp string. The next call
// overwrites it.
func (vm *Interpreter) returnTemp(s string) error {
	if err := vm.prog.Strings.Overwrite(vm.temp, s); err != nil {
		return err
	}
	vm.globals.SetReturnRaw(uint32(vm.temp))
	return nil
}

func (vm *Interpreter) precache(kind PrecacheKind) error {
	name, err := vm.strArg(0)
	if err != nil {
		return err
	}
	vm.globals.SetReturnRaw(vm.globals.ParmRaw(0))
	return vm.world.Precache(kind, name)
}

// find returns the next entity after parm0 whose string field parm1
// equals parm2, or the world.
func (vm *Interpreter) find() error {
	g := vm.globals
	field := int(g.ParmRaw(1))
	match, err := vm.strArg(2)
	if err != nil {
		return err
	}

	for e, ok := vm.store.Next(g.ParmEnt(0)); ok; e, ok = vm.store.Next(e.ID()) {
		id, err := e.Str(field)
		if err != nil {
			return err
		}
		s, ok := vm.prog.Strings.Get(id)
		if ok && s == match {
			g.SetReturnRaw(uint32(e.ID()))
			return nil
		}
	}
	g.SetReturnRaw(uint32(entity.World))
	return nil
}

// findRadius links every solid entity whose box center lies within the
// radius through the chain field and returns the head of the chain.
func (vm *Interpreter) findRadius() error {
	g := vm.globals
	org, radius := g.ParmVector(0), g.ParmFloat(1)

	chain := entity.World
	for e, ok := vm.store.Next(entity.World); ok; e, ok = vm.store.Next(e.ID()) {
		if e.Solid() == entity.SolidNot {
			continue
		}
		center := vmath.Add(e.Origin(), vmath.Scale(0.5, vmath.Add(e.Mins(), e.Maxs())))
		if vmath.Length(vmath.Sub(org, center)) > radius {
			continue
		}
		if err := e.SetEnt(progs.FieldChain, chain); err != nil {
			return err
		}
		chain = e.ID()
	}
	g.SetReturnRaw(uint32(chain))
	return nil
}

// changeYaw turns the entity toward ideal_yaw by at most yaw_speed.
func changeYaw(e *entity.Entity) error {
	angles, err := e.Vector(progs.FieldAngles)
	if err != nil {
		return err
	}
	ideal, err := e.Float(progs.FieldIdealYaw)
	if err != nil {
		return err
	}
	speed, err := e.Float(progs.FieldYawSpeed)
	if err != nil {
		return err
	}

	current := vmath.AngleMod(angles[vmath.Yaw])
	if current == ideal {
		return nil
	}
	move := ideal - current
	if ideal > current {
		if move >= 180 {
			move -= 360
		}
	} else if move <= -180 {
		move += 360
	}
	if move > 0 {
		move = min(move, speed)
	} else {
		move = max(move, -speed)
	}
	angles[vmath.Yaw] = vmath.AngleMod(current + move)
	return e.SetVector(progs.FieldAngles, angles)
}

func formatFloat(v float32) string {
	f := float64(v)
	if f == math.Trunc(f) && math.Abs(f) < math.MaxInt32 {
		return strconv.Itoa(int(f))
	}
	return fmt.Sprintf("%5.1f", v)
}

func boolFloat(b bool) float32 {
	if b {
		return 1
	}
	return 0
}

// describe renders the non-zero fields of e for logging.
func (vm *Interpreter) describe(e *entity.Entity) []log.Field {
	out := []log.Field{log.Stringer("entity", e.ID())}
	fields := vm.prog.Fields
	for _, d := range fields.Defs() {
		name := fields.Name(d)
		if d.Type == progs.TypeVoid || isComponent(name) {
			continue
		}
		if s, ok := vm.formatSlot(e, d); ok {
			out = append(out, log.String(name, s))
		}
	}
	return out
}

func isComponent(name string) bool {
	n := len(name)
	return n > 2 && name[n-2] == '_' && (name[n-1] == 'x' || name[n-1] == 'y' || name[n-1] == 'z')
}

func (vm *Interpreter) formatSlot(e *entity.Entity, d progs.Def) (string, bool) {
	ofs := int(d.Offset)
	if d.Type == progs.TypeVector {
		raw, err := e.RawVector(ofs)
		if err != nil || raw == [3]uint32{} {
			return "", false
		}
		v, _ := e.Vector(ofs)
		return v.String(), true
	}

	raw, err := e.Raw(ofs)
	if err != nil || raw == 0 {
		return "", false
	}
	switch d.Type {
	case progs.TypeString:
		s, _ := vm.prog.Strings.Get(strtab.ID(raw))
		return strconv.Quote(s), true
	case progs.TypeFloat:
		return formatFloat(math.Float32frombits(raw)), true
	case progs.TypeEntity:
		return entity.ID(raw).String(), true
	case progs.TypeFunction:
		return vm.prog.FunctionName(progs.FunctionID(raw)) + "()", true
	case progs.TypeField:
		if fd, ok := vm.prog.Fields.Lookup(uint16(raw)); ok {
			return "." + vm.prog.Fields.Name(fd), true
		}
		return "." + strconv.Itoa(int(raw)), true
	default:
		return fmt.Sprintf("0x%08x", raw), true
	}
}
