package level

import (
	"fmt"
	"maps"
	"slices"
	"strconv"
	"strings"

	"github.com/zeusync/qcserver/internal/core/entity"
	"github.com/zeusync/qcserver/internal/core/observability/log"
	"github.com/zeusync/qcserver/internal/core/progs"
	"github.com/zeusync/qcserver/internal/core/vmath"
)

// Spawnflags that keep an entity out of some games.
const (
	spawnNotEasy       = 256
	spawnNotMedium     = 512
	spawnNotHard       = 1024
	spawnNotDeathmatch = 2048
)

// SpawnEntity creates an entity from key/value pairs and runs the spawn
// function named by its classname. It returns nil and no error when the
// current skill or game mode inhibits the entity.
func (l *Level) SpawnEntity(fields map[string]string) (*entity.Entity, error) {
	if l.def == nil {
		return nil, ErrNotLoaded
	}
	e, err := l.store.Alloc(l.time)
	if err != nil {
		return nil, err
	}
	ok, err := l.spawn(e, fields)
	if err != nil || !ok {
		return nil, err
	}
	return e, nil
}

// spawn fills e from fields and calls its spawn function. Entities that
// are inhibited or fail before the spawn function runs are freed.
func (l *Level) spawn(e *entity.Entity, fields map[string]string) (bool, error) {
	l.applyFields(e, fields)

	if e.ClassName() == 0 {
		l.discard(e)
		return false, ErrNoClassName
	}
	if l.inhibited(e) {
		l.discard(e)
		return false, nil
	}

	class := l.prog.Strings.MustGet(e.ClassName())
	fn, ok := l.prog.FunctionByName(class)
	if !ok {
		l.discard(e)
		return false, fmt.Errorf("%w: %s", ErrNoSpawnFunction, class)
	}

	l.globals.SetTime(l.time)
	if err := l.vm.Call(fn, e.ID(), entity.World); err != nil {
		return false, err
	}
	return true, nil
}

func (l *Level) discard(e *entity.Entity) {
	if e.IsWorld() || e.IsFree() {
		return
	}
	if err := l.store.Free(e.ID(), l.time); err != nil {
		l.logger.Warn("free failed", log.Stringer("entity", e.ID()), log.Error(err))
	}
}

func (l *Level) inhibited(e *entity.Entity) bool {
	flags := int(e.SpawnFlags())
	if l.cvars.Value("deathmatch") != 0 {
		return flags&spawnNotDeathmatch != 0
	}
	switch skill := int(l.cvars.Value("skill")); {
	case skill <= 0:
		return flags&spawnNotEasy != 0
	case skill == 1:
		return flags&spawnNotMedium != 0
	default:
		return flags&spawnNotHard != 0
	}
}

// applyFields stores each pair into the field of the same name. Keys
// starting with an underscore are editor notes. Bad pairs are logged and
// skipped.
func (l *Level) applyFields(e *entity.Entity, fields map[string]string) {
	for _, key := range slices.Sorted(maps.Keys(fields)) {
		value := fields[key]
		if strings.HasPrefix(key, "_") {
			continue
		}
		switch key {
		case "angle":
			key, value = "angles", "0 "+value+" 0"
		case "light":
			key = "light_lev"
		}

		def, ok := l.prog.FieldByName(key)
		if !ok {
			l.logger.Debug("not a field", log.String("key", key))
			continue
		}
		if err := l.setField(e, def, value); err != nil {
			l.logger.Warn("bad entity field",
				log.String("key", key),
				log.String("value", value),
				log.Error(err),
			)
		}
	}
}

func (l *Level) setField(e *entity.Entity, def progs.Def, value string) error {
	ofs := int(def.Offset)
	switch def.Type {
	case progs.TypeString:
		id, err := l.prog.Strings.FindOrInsert(unescape(value))
		if err != nil {
			return err
		}
		return e.SetStr(ofs, id)

	case progs.TypeFloat:
		return e.SetFloat(ofs, atof(value))

	case progs.TypeVector:
		var v vmath.Vec3
		for i, part := range strings.Fields(value) {
			if i == len(v) {
				break
			}
			v[i] = atof(part)
		}
		return e.SetVector(ofs, v)

	case progs.TypeEntity:
		n, err := strconv.Atoi(strings.TrimSpace(value))
		if err != nil {
			return err
		}
		target, ok := l.store.At(n)
		if !ok || target.IsFree() {
			return fmt.Errorf("%w: index %d", entity.ErrBadEntity, n)
		}
		return e.SetEnt(ofs, target.ID())

	case progs.TypeField:
		field, ok := l.prog.FieldByName(value)
		if !ok {
			return fmt.Errorf("no field %q", value)
		}
		return e.SetFld(ofs, int(field.Offset))

	case progs.TypeFunction:
		fn, ok := l.prog.FunctionByName(value)
		if !ok {
			return fmt.Errorf("no function %q", value)
		}
		return e.SetFunc(ofs, fn)

	default:
		return fmt.Errorf("field of type %s cannot be set from text", def.Type)
	}
}
