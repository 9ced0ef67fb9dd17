// Package physics moves entities through world geometry and reports
// contacts back to script code.
package physics

import (
	"fmt"
	"strconv"

	"gopkg.in/yaml.v3"

	"github.com/zeusync/qcserver/internal/core/entity"
	"github.com/zeusync/qcserver/internal/core/vmath"
)

// Contents classifies a point of the world.
type Contents int32

const (
	ContentsEmpty Contents = -1
	ContentsSolid Contents = -2
	ContentsWater Contents = -3
	ContentsSlime Contents = -4
	ContentsLava  Contents = -5
	ContentsSky   Contents = -6
)

var contentsNames = map[Contents]string{
	ContentsEmpty: "empty",
	ContentsSolid: "solid",
	ContentsWater: "water",
	ContentsSlime: "slime",
	ContentsLava:  "lava",
	ContentsSky:   "sky",
}

func (c Contents) String() string {
	if n, ok := contentsNames[c]; ok {
		return n
	}
	return strconv.Itoa(int(c))
}

// IsLiquid reports water, slime and lava.
func (c Contents) IsLiquid() bool {
	return c <= ContentsWater && c >= ContentsLava
}

// UnmarshalYAML accepts a contents name or its number.
func (c *Contents) UnmarshalYAML(n *yaml.Node) error {
	for k, name := range contentsNames {
		if n.Value == name {
			*c = k
			return nil
		}
	}
	v, err := strconv.Atoi(n.Value)
	if err != nil {
		return fmt.Errorf("line %d: unknown contents %q", n.Line, n.Value)
	}
	*c = Contents(v)
	return nil
}

type Plane struct {
	Normal vmath.Vec3
	Dist   float32
}

// Trace is the result of sweeping a box from one point to another.
type Trace struct {
	// AllSolid is set when the whole move happened inside solid.
	AllSolid   bool
	StartSolid bool
	InOpen     bool
	InWater    bool
	// Fraction of the move completed before the first contact.
	Fraction float32
	End      vmath.Vec3
	Plane    Plane
	// Entity is the contacted entity when Fraction < 1. World geometry
	// reports the world.
	Entity entity.ID
}

// Blocked reports whether the move stopped on a boundary.
func (t Trace) Blocked() bool {
	return t.Fraction < 1
}

// Result converts the trace to the form scripts read from the trace
// globals.
func (t Trace) Result() entity.TraceResult {
	return entity.TraceResult{
		AllSolid:    t.AllSolid,
		StartSolid:  t.StartSolid,
		Fraction:    t.Fraction,
		EndPos:      t.End,
		PlaneNormal: t.Plane.Normal,
		PlaneDist:   t.Plane.Dist,
		Ent:         t.Entity,
		InOpen:      t.InOpen,
		InWater:     t.InWater,
	}
}

// MoveKind selects what a trace collides with.
type MoveKind uint8

const (
	MoveNormal MoveKind = iota
	// MoveNoMonsters clips against world geometry and BSP entities only.
	MoveNoMonsters
	// MoveMissile inflates monster boxes so projectiles hit more easily.
	MoveMissile
)

// Tracer is the collision contract the stepper consumes.
type Tracer interface {
	Move(start, mins, maxs, end vmath.Vec3, kind MoveKind, pass *entity.Entity) Trace
	PointContents(p vmath.Vec3) Contents
}
