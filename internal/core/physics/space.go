package physics

import (
	"github.com/zeusync/qcserver/internal/core/entity"
	"github.com/zeusync/qcserver/internal/core/vmath"
)

// distEpsilon keeps traces from ending exactly on a surface.
const distEpsilon = 0.03125

// Brush is an axis-aligned block of static world geometry.
type Brush struct {
	Mins     vmath.Vec3 `yaml:"mins"`
	Maxs     vmath.Vec3 `yaml:"maxs"`
	Contents Contents   `yaml:"contents"`
}

// Space traces boxes against static brushes and the solid entities of a
// store. It stands in for BSP geometry, which is loaded elsewhere.
type Space struct {
	brushes []Brush
	store   *entity.Store
}

func NewSpace(store *entity.Store, brushes ...Brush) *Space {
	return &Space{brushes: brushes, store: store}
}

func (s *Space) AddBrush(b Brush) {
	s.brushes = append(s.brushes, b)
}

// SetBrushes replaces the static geometry, as when a new map loads.
func (s *Space) SetBrushes(brushes []Brush) {
	s.brushes = append(s.brushes[:0], brushes...)
}

func (s *Space) Brushes() []Brush {
	return s.brushes
}

// PointContents returns the contents of the first brush containing p.
func (s *Space) PointContents(p vmath.Vec3) Contents {
	for _, b := range s.brushes {
		if p[0] >= b.Mins[0] && p[0] <= b.Maxs[0] &&
			p[1] >= b.Mins[1] && p[1] <= b.Maxs[1] &&
			p[2] >= b.Mins[2] && p[2] <= b.Maxs[2] {
			return b.Contents
		}
	}
	return ContentsEmpty
}

// Move sweeps the box mins..maxs from start to end. pass is ignored by
// the trace, as are entities it owns and its owner.
func (s *Space) Move(start, mins, maxs, end vmath.Vec3, kind MoveKind, pass *entity.Entity) Trace {
	tr := Trace{Fraction: 1, End: end, Entity: entity.World}

	for _, b := range s.brushes {
		if b.Contents != ContentsSolid {
			continue
		}
		c := clipBox(start, end, vmath.Sub(b.Mins, maxs), vmath.Sub(b.Maxs, mins))
		tr = merge(tr, c, entity.World)
		if tr.AllSolid {
			break
		}
	}

	if s.store != nil && !tr.AllSolid {
		tr = s.clipEntities(tr, start, mins, maxs, end, kind, pass)
	}

	if tr.Fraction < 1 {
		tr.End = vmath.Lerp(start, end, tr.Fraction)
	} else {
		tr.Entity = entity.World
	}
	if s.PointContents(tr.End).IsLiquid() {
		tr.InWater = true
	} else {
		tr.InOpen = true
	}
	return tr
}

func (s *Space) clipEntities(tr Trace, start, mins, maxs, end vmath.Vec3, kind MoveKind, pass *entity.Entity) Trace {
	boxMin := vmath.Add(vmath.Min(start, end), mins)
	boxMax := vmath.Add(vmath.Max(start, end), maxs)

	s.store.Each(func(touch *entity.Entity) bool {
		if touch.IsWorld() || touch.IsFree() {
			return true
		}
		if pass != nil && touch.ID() == pass.ID() {
			return true
		}
		solid := touch.Solid()
		if solid == entity.SolidNot || solid == entity.SolidTrigger {
			return true
		}
		if kind == MoveNoMonsters && solid != entity.SolidBSP {
			return true
		}
		if !overlaps(boxMin, boxMax, touch.AbsMin(), touch.AbsMax()) {
			return true
		}
		if pass != nil {
			if pass.Size()[0] != 0 && touch.Size()[0] == 0 {
				return true
			}
			if touch.Owner() == pass.ID() || pass.Owner() == touch.ID() {
				return true
			}
		}

		tmins, tmaxs := touch.Mins(), touch.Maxs()
		if kind == MoveMissile && touch.HasFlag(entity.FlagMonster) {
			tmins, tmaxs = vmath.Vec3{-15, -15, -15}, vmath.Vec3{15, 15, 15}
		}
		org := touch.Origin()
		c := clipBox(start, end,
			vmath.Sub(vmath.Add(org, tmins), maxs),
			vmath.Sub(vmath.Add(org, tmaxs), mins))
		tr = merge(tr, c, touch.ID())
		return !tr.AllSolid
	})
	return tr
}

// merge folds the clip against one obstacle into the running trace.
func merge(tr, c Trace, id entity.ID) Trace {
	switch {
	case c.AllSolid || c.StartSolid || c.Fraction < tr.Fraction:
		startSolid := tr.StartSolid || c.StartSolid
		c.Entity = id
		tr = c
		tr.StartSolid = startSolid
	}
	return tr
}

func overlaps(amin, amax, bmin, bmax vmath.Vec3) bool {
	for i := 0; i < 3; i++ {
		if amin[i] > bmax[i] || amax[i] < bmin[i] {
			return false
		}
	}
	return true
}

// clipBox traces a point from start to end against the box bmin..bmax,
// which has already been expanded by the moving box.
func clipBox(start, end, bmin, bmax vmath.Vec3) Trace {
	enter, leave := float32(-1), float32(1)
	var plane Plane
	startOut, getOut := false, false

	for i := 0; i < 6; i++ {
		axis := i >> 1
		var n vmath.Vec3
		var dist float32
		if i&1 == 0 {
			n[axis], dist = 1, bmax[axis]
		} else {
			n[axis], dist = -1, -bmin[axis]
		}
		d1 := vmath.Dot(start, n) - dist
		d2 := vmath.Dot(end, n) - dist

		if d2 > 0 {
			getOut = true
		}
		if d1 > 0 {
			startOut = true
		}
		if d1 > 0 && d2 >= d1 {
			return Trace{Fraction: 1}
		}
		if d1 <= 0 && d2 <= 0 {
			continue
		}
		if d1 > d2 {
			f := (d1 - distEpsilon) / (d1 - d2)
			if f > enter {
				enter = f
				plane = Plane{Normal: n, Dist: dist}
			}
		} else {
			f := (d1 + distEpsilon) / (d1 - d2)
			if f < leave {
				leave = f
			}
		}
	}

	if !startOut {
		return Trace{Fraction: 0, StartSolid: true, AllSolid: !getOut}
	}
	if enter < leave && enter > -1 {
		return Trace{Fraction: max(enter, 0), Plane: plane}
	}
	return Trace{Fraction: 1}
}
