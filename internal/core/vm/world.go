package vm

import (
	"github.com/zeusync/qcserver/internal/core/entity"
	"github.com/zeusync/qcserver/internal/core/strtab"
	"github.com/zeusync/qcserver/internal/core/vmath"
)

type PrecacheKind uint8

const (
	PrecacheSound PrecacheKind = iota
	PrecacheModel
	PrecacheFile
)

func (k PrecacheKind) String() string {
	switch k {
	case PrecacheSound:
		return "sound"
	case PrecacheModel:
		return "model"
	default:
		return "file"
	}
}

type PrintKind uint8

const (
	PrintBroadcast PrintKind = iota
	PrintClient
	PrintCenter
	PrintDebug
)

func (k PrintKind) String() string {
	switch k {
	case PrintBroadcast:
		return "broadcast"
	case PrintClient:
		return "client"
	case PrintCenter:
		return "center"
	default:
		return "debug"
	}
}

// World is the part of the simulation builtins reach outside VM memory.
// The level implements it.
type World interface {
	Spawn() (*entity.Entity, error)
	Remove(e *entity.Entity) error

	SetOrigin(e *entity.Entity, org vmath.Vec3)
	SetSize(e *entity.Entity, mins, maxs vmath.Vec3)
	SetModel(e *entity.Entity, model strtab.ID) error

	Traceline(start, end vmath.Vec3, noMonsters bool, pass *entity.Entity) entity.TraceResult
	DropToFloor(e *entity.Entity) bool
	PointContents(p vmath.Vec3) float32

	Precache(kind PrecacheKind, name string) error
	Sound(e *entity.Entity, channel int, sample string, volume, attenuation float32) error
	AmbientSound(pos vmath.Vec3, sample string, volume, attenuation float32) error
	Print(kind PrintKind, to entity.ID, msg string)

	Cvar(name string) float32
	SetCvar(name, value string)
	LightStyle(style int, value string)
	ChangeLevel(mapName string)
	MakeStatic(e *entity.Entity) error
}
