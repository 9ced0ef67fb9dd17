package level

import (
	"fmt"
	"slices"
	"strings"

	"github.com/zeusync/qcserver/internal/core/entity"
	"github.com/zeusync/qcserver/internal/core/events/bus"
	"github.com/zeusync/qcserver/internal/core/observability/log"
	"github.com/zeusync/qcserver/internal/core/physics"
	"github.com/zeusync/qcserver/internal/core/strtab"
	"github.com/zeusync/qcserver/internal/core/vm"
	"github.com/zeusync/qcserver/internal/core/vmath"
)

var _ vm.World = (*Level)(nil)

func (l *Level) Spawn() (*entity.Entity, error) {
	return l.store.Alloc(l.time)
}

func (l *Level) Remove(e *entity.Entity) error {
	id := e.ID()
	if err := l.store.Free(id, l.time); err != nil {
		return err
	}
	l.publish(bus.Event{Kind: bus.KindEntityRemoved, Entity: id})
	return nil
}

func (l *Level) SetOrigin(e *entity.Entity, org vmath.Vec3) {
	e.SetOrigin(org)
	l.link(e)
}

func (l *Level) SetSize(e *entity.Entity, mins, maxs vmath.Vec3) {
	e.SetMinsMaxs(mins, maxs)
	l.link(e)
}

// SetModel sets the model of e and sizes it to the model bounds from the
// map definition. Unknown models get a point-sized box.
func (l *Level) SetModel(e *entity.Entity, model strtab.ID) error {
	name, ok := l.prog.Strings.Get(model)
	if !ok {
		return fmt.Errorf("%w: string %d", ErrNotPrecached, model)
	}
	index := slices.Index(l.precache[vm.PrecacheModel], name)
	if index < 0 {
		return fmt.Errorf("%w: model %q", ErrNotPrecached, name)
	}

	e.SetModel(model)
	e.SetModelIndex(float32(index))

	var mins, maxs vmath.Vec3
	if l.def != nil {
		if b, ok := l.def.Models[name]; ok {
			mins, maxs = b.Mins, b.Maxs
		}
	}
	l.SetSize(e, mins, maxs)
	return nil
}

func (l *Level) Traceline(start, end vmath.Vec3, noMonsters bool, pass *entity.Entity) entity.TraceResult {
	kind := physics.MoveNormal
	if noMonsters {
		kind = physics.MoveNoMonsters
	}
	return l.space.Move(start, vmath.Zero, vmath.Zero, end, kind, pass).Result()
}

func (l *Level) DropToFloor(e *entity.Entity) bool {
	landed, err := l.stepper.DropToFloor(e)
	if err != nil {
		l.logger.Warn("droptofloor touch failed", log.Stringer("entity", e.ID()), log.Error(err))
	}
	return landed
}

func (l *Level) PointContents(p vmath.Vec3) float32 {
	return float32(l.space.PointContents(p))
}

// Precache registers name while the level loads. Files are accepted and
// ignored at any time.
func (l *Level) Precache(kind vm.PrecacheKind, name string) error {
	if kind == vm.PrecacheFile {
		return nil
	}
	if !l.loading {
		return fmt.Errorf("%w: %s %q", ErrPrecacheClosed, kind, name)
	}
	if name == "" || name[0] <= ' ' {
		return fmt.Errorf("bad %s name %q", kind, name)
	}

	list := l.precache[kind]
	if slices.Contains(list, name) {
		return nil
	}
	if len(list) >= maxPrecache {
		return fmt.Errorf("%w: %s %q", ErrPrecacheOverflow, kind, name)
	}
	l.precache[kind] = append(list, name)
	l.publish(bus.Event{Kind: bus.KindPrecache, Text: name, Channel: int(kind)})
	return nil
}

// Sound starts sample on a channel of e. Playing a sound that was never
// precached is logged and otherwise ignored.
func (l *Level) Sound(e *entity.Entity, channel int, sample string, volume, attenuation float32) error {
	switch {
	case volume < 0 || volume > 1:
		return fmt.Errorf("%w: volume %v", ErrBadSound, volume)
	case attenuation < 0 || attenuation > 4:
		return fmt.Errorf("%w: attenuation %v", ErrBadSound, attenuation)
	case channel < 0 || channel > 7:
		return fmt.Errorf("%w: channel %d", ErrBadSound, channel)
	}
	if !slices.Contains(l.precache[vm.PrecacheSound], sample) {
		l.logger.Warn("sound not precached", log.String("sample", sample))
		return nil
	}

	center := vmath.Add(e.Origin(), vmath.Scale(0.5, vmath.Add(e.Mins(), e.Maxs())))
	l.publish(bus.Event{
		Kind:        bus.KindSound,
		Entity:      e.ID(),
		Text:        sample,
		Channel:     channel,
		Volume:      volume,
		Attenuation: attenuation,
		Origin:      center,
	})
	return nil
}

func (l *Level) AmbientSound(pos vmath.Vec3, sample string, volume, attenuation float32) error {
	if !slices.Contains(l.precache[vm.PrecacheSound], sample) {
		l.logger.Warn("ambient sound not precached", log.String("sample", sample))
		return nil
	}
	l.publish(bus.Event{
		Kind:        bus.KindSound,
		Entity:      entity.World,
		Text:        sample,
		Volume:      volume,
		Attenuation: attenuation,
		Origin:      pos,
	})
	return nil
}

// Print delivers script text. Debug prints go to the log only.
func (l *Level) Print(kind vm.PrintKind, to entity.ID, msg string) {
	if kind == vm.PrintDebug {
		l.logger.Debug("dprint", log.String("msg", strings.TrimRight(msg, "\n")))
		return
	}
	l.publish(bus.Event{Kind: bus.KindPrint, Entity: to, Text: msg, Channel: int(kind)})
}

func (l *Level) Cvar(name string) float32 {
	return l.cvars.Value(name)
}

func (l *Level) SetCvar(name, value string) {
	if !l.cvars.Set(name, value) {
		l.logger.Warn("unknown cvar", log.String("name", name))
		return
	}
	switch name {
	case "sv_gravity":
		l.stepper.SetGravity(l.cvars.Value(name))
	case "sv_maxvelocity":
		l.stepper.SetMaxVelocity(l.cvars.Value(name))
	}
}

func (l *Level) LightStyle(style int, value string) {
	if style < 0 || style >= maxLightStyles {
		l.logger.Warn("lightstyle out of range", log.Int("style", style))
		return
	}
	l.lightStyles[style] = value
	l.publish(bus.Event{Kind: bus.KindLightStyle, Text: value, Channel: style})
}

// ChangeLevel records the next map. Only the first request of a level
// counts.
func (l *Level) ChangeLevel(mapName string) {
	if l.changeTo != "" {
		return
	}
	l.changeTo = mapName
	l.logger.Info("level change requested", log.String("map", mapName))
	l.publish(bus.Event{Kind: bus.KindLevelChange, Text: mapName})
}

// MakeStatic moves e out of the simulation into the static list.
func (l *Level) MakeStatic(e *entity.Entity) error {
	l.statics = append(l.statics, e.State())
	return l.Remove(e)
}

func (l *Level) link(e *entity.Entity) {
	if err := l.stepper.Link(e, false); err != nil {
		l.logger.Warn("link failed", log.Stringer("entity", e.ID()), log.Error(err))
	}
}
