package entity

import (
	"fmt"

	"github.com/zeusync/qcserver/internal/core/progs"
	"github.com/zeusync/qcserver/internal/core/vmath"
)

// HardMaxEntities is the largest slot count a Pointer can address.
const HardMaxEntities = 1 << pointerIndexBits

// StoreConfig bounds the entity arena.
type StoreConfig struct {
	MaxEntities int
	// ReuseDelay is how long a freed slot stays unused so late references
	// read a cleared entity rather than a newcomer.
	ReuseDelay float32
}

func DefaultStoreConfig() StoreConfig {
	return StoreConfig{
		MaxEntities: 600,
		ReuseDelay:  0.5,
	}
}

// startupWindow lets slots freed during level start be reused at once.
const startupWindow = 2

// Store is the entity arena. Slot 0 is the world and is never freed.
type Store struct {
	fields   *progs.EntityTypeDef
	cfg      StoreConfig
	entities []*Entity
	live     int
}

func NewStore(fields *progs.EntityTypeDef, cfg StoreConfig) *Store {
	if cfg.MaxEntities <= 0 || cfg.MaxEntities > HardMaxEntities {
		cfg.MaxEntities = HardMaxEntities
	}
	s := &Store{fields: fields, cfg: cfg}
	s.entities = append(s.entities, newEntity(fields, World))
	s.live = 1
	return s
}

// Fields is the schema every entity in the store follows.
func (s *Store) Fields() *progs.EntityTypeDef { return s.fields }

func (s *Store) World() *Entity { return s.entities[0] }

// Len is the number of slots ever allocated, free ones included.
func (s *Store) Len() int { return len(s.entities) }

// Live counts allocated, non-free entities, the world included.
func (s *Store) Live() int { return s.live }

// Alloc returns a cleared entity, reusing a slot freed long enough ago or
// growing the arena.
func (s *Store) Alloc(now float32) (*Entity, error) {
	for i := 1; i < len(s.entities); i++ {
		e := s.entities[i]
		if e.free && (e.freedAt < startupWindow || now-e.freedAt > s.cfg.ReuseDelay) {
			e.id = NewID(i, nextGeneration(e.id.Generation()))
			e.clear()
			e.free = false
			s.live++
			return e, nil
		}
	}
	if len(s.entities) >= s.cfg.MaxEntities {
		return nil, fmt.Errorf("%w: limit %d", ErrNoFreeEntity, s.cfg.MaxEntities)
	}
	e := newEntity(s.fields, NewID(len(s.entities), 0))
	s.entities = append(s.entities, e)
	s.live++
	return e, nil
}

// Get resolves id. A freed slot that has not been reused still resolves,
// matching scripts that keep reading an entity they just removed.
func (s *Store) Get(id ID) (*Entity, error) {
	i := id.Index()
	if i >= len(s.entities) {
		return nil, fmt.Errorf("%w: %s", ErrBadEntity, id)
	}
	e := s.entities[i]
	if e.id.Generation() != id.Generation() {
		return nil, fmt.Errorf("%w: %s, slot holds %s", ErrStaleEntity, id, e.id)
	}
	return e, nil
}

// At returns the entity in slot i regardless of generation.
func (s *Store) At(i int) (*Entity, bool) {
	if i < 0 || i >= len(s.entities) {
		return nil, false
	}
	return s.entities[i], true
}

// Free marks the entity removed. Fields the renderer and physics look at
// are cleared now; the rest survive until the slot is reused.
func (s *Store) Free(id ID, now float32) error {
	if id.Index() == 0 {
		return ErrFreeWorld
	}
	e, err := s.Get(id)
	if err != nil {
		return err
	}
	if e.free {
		return nil
	}
	e.SetModel(0)
	e.setF(progs.FieldTakeDamage, 0)
	e.SetModelIndex(0)
	e.setF(progs.FieldColormap, 0)
	e.setF(progs.FieldSkin, 0)
	e.SetFrame(0)
	e.SetOrigin(vmath.Zero)
	e.SetAngles(vmath.Zero)
	e.SetNextThink(-1)
	e.SetSolid(SolidNot)
	e.free = true
	e.freedAt = now
	s.live--
	return nil
}

// Clear frees every entity but the world and resets its fields. Used when a
// level is reloaded. Slots are kept and their generations bumped, so ids
// from the previous level go stale.
func (s *Store) Clear() {
	s.entities[0].clear()
	for i := 1; i < len(s.entities); i++ {
		e := s.entities[i]
		e.id = NewID(i, nextGeneration(e.id.Generation()))
		e.clear()
		e.free = true
		e.freedAt = 0
	}
	s.live = 1
}

// nextGeneration skips 0 on wrap so the id a slot was first handed out
// under never validates again. Other generations repeat after 65535 reuses.
func nextGeneration(g uint16) uint16 {
	if g == 0xffff {
		return 1
	}
	return g + 1
}

// Each visits live entities in slot order, the world first. Returning false
// stops the walk. Entities allocated during the walk are visited.
func (s *Store) Each(fn func(*Entity) bool) {
	for i := 0; i < len(s.entities); i++ {
		e := s.entities[i]
		if e.free {
			continue
		}
		if !fn(e) {
			return
		}
	}
}

// Next returns the first live entity after the one named by after,
// skipping the world. Passing World starts from slot 1.
func (s *Store) Next(after ID) (*Entity, bool) {
	for i := after.Index() + 1; i < len(s.entities); i++ {
		if e := s.entities[i]; !e.free {
			return e, true
		}
	}
	return nil, false
}

// Resolve turns a Pointer back into an entity and field offset, rejecting
// pointers whose slot was reused since ADDRESS produced them.
func (s *Store) Resolve(p Pointer) (*Entity, int, error) {
	i := p.Index()
	if i >= len(s.entities) {
		return nil, 0, fmt.Errorf("%w: slot %d", ErrBadPointer, i)
	}
	e := s.entities[i]
	if uint8(e.id.Generation()) != p.generation() {
		return nil, 0, fmt.Errorf("%w: pointer into %s", ErrStaleEntity, e.id)
	}
	return e, p.Field(), nil
}
