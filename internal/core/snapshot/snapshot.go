// Package snapshot turns the visible entity states of a level into frames
// that carry only what a subscriber has not seen yet.
package snapshot

import (
	"maps"
	"slices"

	"github.com/zeusync/qcserver/internal/core/entity"
	"github.com/zeusync/qcserver/internal/core/events/bus"
	"github.com/zeusync/qcserver/internal/core/vmath"
)

// Field is a bitmask of the state fields present in an EntityState.
type Field uint16

const (
	FieldModel Field = 1 << iota
	FieldFrame
	FieldSkin
	FieldColormap
	FieldEffects
	FieldOrigin
	FieldAngles

	FieldAll = FieldModel | FieldFrame | FieldSkin | FieldColormap | FieldEffects | FieldOrigin | FieldAngles
)

func (f Field) Has(flag Field) bool { return f&flag == flag }

// EntityState is one entity in a frame. Fields not named by Changed are
// zero and must be taken from the previous frame.
type EntityState struct {
	ID         uint32     `msgpack:"id" json:"id"`
	Changed    Field      `msgpack:"c" json:"changed"`
	ModelIndex float32    `msgpack:"m,omitempty" json:"model_index"`
	Frame      float32    `msgpack:"f,omitempty" json:"frame"`
	Skin       float32    `msgpack:"s,omitempty" json:"skin"`
	Colormap   float32    `msgpack:"cm,omitempty" json:"colormap"`
	Effects    float32    `msgpack:"fx,omitempty" json:"effects"`
	Origin     vmath.Vec3 `msgpack:"o" json:"origin"`
	Angles     vmath.Vec3 `msgpack:"a" json:"angles"`
}

// FromState copies every field of s.
func FromState(s entity.State) EntityState {
	return delta(s, FieldAll)
}

func delta(s entity.State, mask Field) EntityState {
	out := EntityState{ID: uint32(s.ID), Changed: mask}
	if mask.Has(FieldModel) {
		out.ModelIndex = s.ModelIndex
	}
	if mask.Has(FieldFrame) {
		out.Frame = s.Frame
	}
	if mask.Has(FieldSkin) {
		out.Skin = s.Skin
	}
	if mask.Has(FieldColormap) {
		out.Colormap = s.Colormap
	}
	if mask.Has(FieldEffects) {
		out.Effects = s.Effects
	}
	if mask.Has(FieldOrigin) {
		out.Origin = s.Origin
	}
	if mask.Has(FieldAngles) {
		out.Angles = s.Angles
	}
	return out
}

// Compare returns the fields that differ between a and b.
func Compare(a, b entity.State) Field {
	var mask Field
	if a.ModelIndex != b.ModelIndex {
		mask |= FieldModel
	}
	if a.Frame != b.Frame {
		mask |= FieldFrame
	}
	if a.Skin != b.Skin {
		mask |= FieldSkin
	}
	if a.Colormap != b.Colormap {
		mask |= FieldColormap
	}
	if a.Effects != b.Effects {
		mask |= FieldEffects
	}
	if a.Origin != b.Origin {
		mask |= FieldOrigin
	}
	if a.Angles != b.Angles {
		mask |= FieldAngles
	}
	return mask
}

// Frame is one update for one subscriber.
type Frame struct {
	Tick uint64  `msgpack:"t" json:"tick"`
	Time float32 `msgpack:"tm" json:"time"`
	Map  string  `msgpack:"map,omitempty" json:"map,omitempty"`
	// Full frames replace everything the subscriber knew.
	Full     bool          `msgpack:"full,omitempty" json:"full,omitempty"`
	Entities []EntityState `msgpack:"e,omitempty" json:"entities,omitempty"`
	Removed  []uint32      `msgpack:"r,omitempty" json:"removed,omitempty"`
	Events   []bus.Event   `msgpack:"ev,omitempty" json:"events,omitempty"`
}

// Empty reports a frame with nothing to say.
func (f *Frame) Empty() bool {
	return !f.Full && len(f.Entities) == 0 && len(f.Removed) == 0 && len(f.Events) == 0
}

// Tracker remembers the last state sent to one subscriber. It is not safe
// for concurrent use.
type Tracker struct {
	sent map[entity.ID]entity.State
	full bool
}

func NewTracker() *Tracker {
	return &Tracker{sent: make(map[entity.ID]entity.State), full: true}
}

// Reset forgets everything sent, so the next frame is full. Level changes
// and dropped frames call it.
func (t *Tracker) Reset() {
	clear(t.sent)
	t.full = true
}

// Len is the number of entities the subscriber currently knows.
func (t *Tracker) Len() int { return len(t.sent) }

// Diff records states as sent and returns the changed entities and the
// ids of entities that disappeared since the last call. A reused slot has
// a new generation, so it shows up as one removal and one full entity.
func (t *Tracker) Diff(states []entity.State) (changed []EntityState, removed []uint32) {
	seen := make(map[entity.ID]struct{}, len(states))
	for _, s := range states {
		seen[s.ID] = struct{}{}
		mask := FieldAll
		if prev, ok := t.sent[s.ID]; ok {
			mask = Compare(prev, s)
		}
		if mask == 0 {
			continue
		}
		changed = append(changed, delta(s, mask))
		t.sent[s.ID] = s
	}

	for _, id := range slices.Sorted(maps.Keys(t.sent)) {
		if _, ok := seen[id]; !ok {
			removed = append(removed, uint32(id))
			delete(t.sent, id)
		}
	}
	return changed, removed
}

// Frame builds the next frame for this subscriber.
func (t *Tracker) Frame(tick uint64, time float32, mapName string, states []entity.State, events []bus.Event) Frame {
	full := t.full
	changed, removed := t.Diff(states)
	t.full = false

	f := Frame{
		Tick:     tick,
		Time:     time,
		Full:     full,
		Entities: changed,
		Removed:  removed,
		Events:   events,
	}
	if full {
		f.Map = mapName
		f.Removed = nil
	}
	return f
}
