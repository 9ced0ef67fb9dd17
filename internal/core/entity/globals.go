package entity

import (
	"github.com/zeusync/qcserver/internal/core/progs"
	"github.com/zeusync/qcserver/internal/core/strtab"
	"github.com/zeusync/qcserver/internal/core/vmath"
)

// Globals is the interpreter's register file. It follows the same checked
// slot discipline as entity memory.
type Globals struct {
	memory
}

// NewGlobals copies the program's initial global values.
func NewGlobals(p *progs.Program) *Globals {
	return &Globals{memory: memory{
		slots: append([]uint32(nil), p.Globals...),
		defs:  p.GlobalDefs,
		space: SpaceGlobal,
	}}
}

// Slots exposes the raw register file. The interpreter saves and restores
// call frames through it; everything else goes through typed accessors.
func (g *Globals) Slots() []uint32 {
	return g.slots
}

// Reset restores the initial values.
func (g *Globals) Reset(p *progs.Program) {
	copy(g.slots, p.Globals)
}

func (g *Globals) Self() ID                  { return ID(g.slots[progs.GlobalSelf]) }
func (g *Globals) SetSelf(id ID)             { g.slots[progs.GlobalSelf] = uint32(id) }
func (g *Globals) Other() ID                 { return ID(g.slots[progs.GlobalOther]) }
func (g *Globals) SetOther(id ID)            { g.slots[progs.GlobalOther] = uint32(id) }
func (g *Globals) Time() float32             { return g.f(progs.GlobalTime) }
func (g *Globals) SetTime(t float32)         { g.setF(progs.GlobalTime, t) }
func (g *Globals) FrameTime() float32        { return g.f(progs.GlobalFrameTime) }
func (g *Globals) SetFrameTime(t float32)    { g.setF(progs.GlobalFrameTime, t) }
func (g *Globals) ForceRetouch() float32     { return g.f(progs.GlobalForceRetouch) }
func (g *Globals) SetForceRetouch(v float32) { g.setF(progs.GlobalForceRetouch, v) }
func (g *Globals) SetMapName(s strtab.ID)    { g.slots[progs.GlobalMapName] = uint32(s) }
func (g *Globals) SetDeathmatch(v float32)   { g.setF(progs.GlobalDeathmatch, v) }
func (g *Globals) SetCoop(v float32)         { g.setF(progs.GlobalCoop, v) }
func (g *Globals) SetServerFlags(v float32)  { g.setF(progs.GlobalServerFlags, v) }

// ReturnRaw reads the three return slots.
func (g *Globals) ReturnRaw() [3]uint32 {
	return [3]uint32{g.slots[progs.OfsReturn], g.slots[progs.OfsReturn+1], g.slots[progs.OfsReturn+2]}
}

func (g *Globals) ReturnFloat() float32 { return g.f(progs.OfsReturn) }

func (g *Globals) SetReturnFloat(v float32) { g.setF(progs.OfsReturn, v) }

func (g *Globals) SetReturnVector(v vmath.Vec3) { g.setVec(progs.OfsReturn, v) }

func (g *Globals) SetReturnRaw(v uint32) { g.slots[progs.OfsReturn] = v }

// Parm accessors read builtin arguments. Argument slots carry no type.

func (g *Globals) ParmFloat(i int) float32       { return g.f(int(progs.ParmOffset(i))) }
func (g *Globals) ParmVector(i int) vmath.Vec3   { return g.vec(int(progs.ParmOffset(i))) }
func (g *Globals) ParmRaw(i int) uint32          { return g.slots[progs.ParmOffset(i)] }
func (g *Globals) ParmEnt(i int) ID              { return ID(g.ParmRaw(i)) }
func (g *Globals) ParmStr(i int) strtab.ID       { return strtab.ID(g.ParmRaw(i)) }
func (g *Globals) SetParmFloat(i int, v float32) { g.setF(int(progs.ParmOffset(i)), v) }
func (g *Globals) SetParmRaw(i int, v uint32)    { g.slots[progs.ParmOffset(i)] = v }

// SetVectors stores the v_forward, v_right and v_up globals.
func (g *Globals) SetVectors(forward, right, up vmath.Vec3) {
	g.setVec(progs.GlobalVForward, forward)
	g.setVec(progs.GlobalVRight, right)
	g.setVec(progs.GlobalVUp, up)
}

func (g *Globals) Forward() vmath.Vec3 { return g.vec(progs.GlobalVForward) }

// TraceResult mirrors the trace_* globals.
type TraceResult struct {
	AllSolid    bool
	StartSolid  bool
	Fraction    float32
	EndPos      vmath.Vec3
	PlaneNormal vmath.Vec3
	PlaneDist   float32
	Ent         ID
	InOpen      bool
	InWater     bool
}

func (g *Globals) SetTrace(t TraceResult) {
	g.setF(progs.GlobalTraceAllSolid, b2f(t.AllSolid))
	g.setF(progs.GlobalTraceStartSolid, b2f(t.StartSolid))
	g.setF(progs.GlobalTraceFraction, t.Fraction)
	g.setVec(progs.GlobalTraceEndPos, t.EndPos)
	g.setVec(progs.GlobalTracePlaneNormal, t.PlaneNormal)
	g.setF(progs.GlobalTracePlaneDist, t.PlaneDist)
	g.slots[progs.GlobalTraceEnt] = uint32(t.Ent)
	g.setF(progs.GlobalTraceInOpen, b2f(t.InOpen))
	g.setF(progs.GlobalTraceInWater, b2f(t.InWater))
}

func b2f(b bool) float32 {
	if b {
		return 1
	}
	return 0
}
