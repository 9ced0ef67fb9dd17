package entity

import (
	"github.com/zeusync/qcserver/internal/core/progs"
	"github.com/zeusync/qcserver/internal/core/strtab"
	"github.com/zeusync/qcserver/internal/core/vmath"
)

// MoveType is the value of the movetype field.
type MoveType int

const (
	MoveNone MoveType = iota
	MoveAngleNoClip
	MoveAngleClip
	MoveWalk
	MoveStep
	MoveFly
	MoveToss
	MovePush
	MoveNoClip
	MoveFlyMissile
	MoveBounce
)

var moveTypeNames = [...]string{
	"none", "anglenoclip", "angleclip", "walk", "step", "fly", "toss", "push", "noclip", "flymissile", "bounce",
}

func (m MoveType) String() string {
	if m >= 0 && int(m) < len(moveTypeNames) {
		return moveTypeNames[m]
	}
	return "unknown"
}

// Solid is the value of the solid field.
type Solid int

const (
	SolidNot Solid = iota
	SolidTrigger
	SolidBBox
	SolidSlideBox
	SolidBSP
)

// Flag bits of the flags field.
const (
	FlagFly           = 1
	FlagSwim          = 2
	FlagConveyor      = 4
	FlagClient        = 8
	FlagInWater       = 16
	FlagMonster       = 32
	FlagGodMode       = 64
	FlagNoTarget      = 128
	FlagItem          = 256
	FlagOnGround      = 512
	FlagPartialGround = 1024
	FlagWaterJump     = 2048
	FlagJumpReleased  = 4096
)

// Entity is one slot of typed field memory.
type Entity struct {
	memory
	id      ID
	free    bool
	freedAt float32
}

func newEntity(fields *progs.EntityTypeDef, id ID) *Entity {
	return &Entity{
		memory: memory{
			slots: make([]uint32, fields.AddrCount),
			defs:  fields.DefTable,
			space: SpaceEntity,
		},
		id: id,
	}
}

func (e *Entity) ID() ID       { return e.id }
func (e *Entity) IsFree() bool { return e.free }
func (e *Entity) IsWorld() bool {
	return e.id.Index() == 0
}

func (e *Entity) Origin() vmath.Vec3            { return e.vec(progs.FieldOrigin) }
func (e *Entity) SetOrigin(v vmath.Vec3)        { e.setVec(progs.FieldOrigin, v) }
func (e *Entity) Velocity() vmath.Vec3          { return e.vec(progs.FieldVelocity) }
func (e *Entity) SetVelocity(v vmath.Vec3)      { e.setVec(progs.FieldVelocity, v) }
func (e *Entity) Angles() vmath.Vec3            { return e.vec(progs.FieldAngles) }
func (e *Entity) SetAngles(v vmath.Vec3)        { e.setVec(progs.FieldAngles, v) }
func (e *Entity) AVelocity() vmath.Vec3         { return e.vec(progs.FieldAVelocity) }
func (e *Entity) SetAVelocity(v vmath.Vec3)     { e.setVec(progs.FieldAVelocity, v) }
func (e *Entity) Mins() vmath.Vec3              { return e.vec(progs.FieldMins) }
func (e *Entity) Maxs() vmath.Vec3              { return e.vec(progs.FieldMaxs) }
func (e *Entity) Size() vmath.Vec3              { return e.vec(progs.FieldSize) }
func (e *Entity) AbsMin() vmath.Vec3            { return e.vec(progs.FieldAbsMin) }
func (e *Entity) AbsMax() vmath.Vec3            { return e.vec(progs.FieldAbsMax) }
func (e *Entity) OldOrigin() vmath.Vec3         { return e.vec(progs.FieldOldOrigin) }
func (e *Entity) SetOldOrigin(v vmath.Vec3)     { e.setVec(progs.FieldOldOrigin, v) }
func (e *Entity) ViewOfs() vmath.Vec3           { return e.vec(progs.FieldViewOfs) }
func (e *Entity) MoveDir() vmath.Vec3           { return e.vec(progs.FieldMoveDir) }
func (e *Entity) LTime() float32                { return e.f(progs.FieldLTime) }
func (e *Entity) SetLTime(v float32)            { e.setF(progs.FieldLTime, v) }
func (e *Entity) NextThink() float32            { return e.f(progs.FieldNextThink) }
func (e *Entity) SetNextThink(v float32)        { e.setF(progs.FieldNextThink, v) }
func (e *Entity) Frame() float32                { return e.f(progs.FieldFrame) }
func (e *Entity) SetFrame(v float32)            { e.setF(progs.FieldFrame, v) }
func (e *Entity) Health() float32               { return e.f(progs.FieldHealth) }
func (e *Entity) SetHealth(v float32)           { e.setF(progs.FieldHealth, v) }
func (e *Entity) Flags() int                    { return int(e.f(progs.FieldFlags)) }
func (e *Entity) SetFlags(v int)                { e.setF(progs.FieldFlags, float32(v)) }
func (e *Entity) WaterLevel() float32           { return e.f(progs.FieldWaterLevel) }
func (e *Entity) SetWaterLevel(v float32)       { e.setF(progs.FieldWaterLevel, v) }
func (e *Entity) WaterType() float32            { return e.f(progs.FieldWaterType) }
func (e *Entity) SetWaterType(v float32)        { e.setF(progs.FieldWaterType, v) }
func (e *Entity) SpawnFlags() int               { return int(e.f(progs.FieldSpawnFlags)) }
func (e *Entity) ModelIndex() float32           { return e.f(progs.FieldModelIndex) }
func (e *Entity) SetModelIndex(v float32)       { e.setF(progs.FieldModelIndex, v) }
func (e *Entity) MoveType() MoveType            { return MoveType(e.f(progs.FieldMoveType)) }
func (e *Entity) SetMoveType(v MoveType)        { e.setF(progs.FieldMoveType, float32(v)) }
func (e *Entity) Solid() Solid                  { return Solid(e.f(progs.FieldSolid)) }
func (e *Entity) SetSolid(v Solid)              { e.setF(progs.FieldSolid, float32(v)) }
func (e *Entity) ClassName() strtab.ID          { return strtab.ID(e.slots[progs.FieldClassName]) }
func (e *Entity) SetClassName(v strtab.ID)      { e.slots[progs.FieldClassName] = uint32(v) }
func (e *Entity) Model() strtab.ID              { return strtab.ID(e.slots[progs.FieldModel]) }
func (e *Entity) SetModel(v strtab.ID)          { e.slots[progs.FieldModel] = uint32(v) }
func (e *Entity) GroundEntity() ID              { return ID(e.slots[progs.FieldGroundEntity]) }
func (e *Entity) SetGroundEntity(v ID)          { e.slots[progs.FieldGroundEntity] = uint32(v) }
func (e *Entity) Owner() ID                     { return ID(e.slots[progs.FieldOwner]) }
func (e *Entity) SetOwner(v ID)                 { e.slots[progs.FieldOwner] = uint32(v) }
func (e *Entity) Touch() progs.FunctionID       { return progs.FunctionID(e.slots[progs.FieldTouch]) }
func (e *Entity) Think() progs.FunctionID       { return progs.FunctionID(e.slots[progs.FieldThink]) }
func (e *Entity) Blocked() progs.FunctionID     { return progs.FunctionID(e.slots[progs.FieldBlocked]) }
func (e *Entity) SetThink(v progs.FunctionID)   { e.slots[progs.FieldThink] = uint32(v) }
func (e *Entity) SetTouch(v progs.FunctionID)   { e.slots[progs.FieldTouch] = uint32(v) }
func (e *Entity) SetBlocked(v progs.FunctionID) { e.slots[progs.FieldBlocked] = uint32(v) }

// SetMinsMaxs sets the bounding box and the derived size field.
func (e *Entity) SetMinsMaxs(mins, maxs vmath.Vec3) {
	e.setVec(progs.FieldMins, mins)
	e.setVec(progs.FieldMaxs, maxs)
	e.setVec(progs.FieldSize, vmath.Sub(maxs, mins))
}

// SetAbsBox stores the world-space bounds the tracer links the entity with.
func (e *Entity) SetAbsBox(absmin, absmax vmath.Vec3) {
	e.setVec(progs.FieldAbsMin, absmin)
	e.setVec(progs.FieldAbsMax, absmax)
}

func (e *Entity) HasFlag(flag int) bool {
	return e.Flags()&flag != 0
}

func (e *Entity) SetFlag(flag int, on bool) {
	if on {
		e.SetFlags(e.Flags() | flag)
	} else {
		e.SetFlags(e.Flags() &^ flag)
	}
}

// State is the set of fields sent to observers each tick.
type State struct {
	ID         ID
	ModelIndex float32
	Frame      float32
	Skin       float32
	Colormap   float32
	Effects    float32
	Origin     vmath.Vec3
	Angles     vmath.Vec3
}

func (e *Entity) State() State {
	return State{
		ID:         e.id,
		ModelIndex: e.f(progs.FieldModelIndex),
		Frame:      e.f(progs.FieldFrame),
		Skin:       e.f(progs.FieldSkin),
		Colormap:   e.f(progs.FieldColormap),
		Effects:    e.f(progs.FieldEffects),
		Origin:     e.vec(progs.FieldOrigin),
		Angles:     e.vec(progs.FieldAngles),
	}
}
