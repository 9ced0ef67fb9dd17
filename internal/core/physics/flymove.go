package physics

import (
	"github.com/zeusync/qcserver/internal/core/entity"
	"github.com/zeusync/qcserver/internal/core/vmath"
)

const (
	maxBumps      = 4
	maxClipPlanes = 5
	stopEpsilon   = 0.1
	// floorNormal is the minimum normal z of a surface an entity can stand on.
	floorNormal = 0.7
)

// Blocked describes the surfaces a move ran into.
type Blocked uint8

const (
	BlockedFloor Blocked = 1 << iota
	BlockedWall
	// BlockedDead means no velocity satisfied every touching plane.
	BlockedDead
)

func (b Blocked) Has(flag Blocked) bool { return b&flag != 0 }

// MoveResult reports how a ballistic move ended. None of the terminal
// states are errors.
type MoveResult struct {
	Blocked Blocked
	// Stuck is set when the entity started embedded in solid.
	Stuck bool
	// Stopped is set when the move gave up before using its time budget:
	// stuck, wedged, reversed or out of bumps.
	Stopped bool
	Bumps   int
	// WallTrace is the last trace that hit a vertical surface.
	WallTrace *Trace
}

// ClipVelocity removes the part of in that points into the plane,
// scaled by overbounce. Tiny components are snapped to zero.
func ClipVelocity(in, normal vmath.Vec3, overbounce float32) (vmath.Vec3, Blocked) {
	var blocked Blocked
	if normal[2] > 0 {
		blocked |= BlockedFloor
	}
	if normal[2] == 0 {
		blocked |= BlockedWall
	}

	backoff := vmath.Dot(in, normal) * overbounce
	var out vmath.Vec3
	for i := range out {
		out[i] = in[i] - normal[i]*backoff
		if out[i] > -stopEpsilon && out[i] < stopEpsilon {
			out[i] = 0
		}
	}
	return out, blocked
}

// FlyMove moves e along its velocity for dt seconds, sliding along
// whatever it hits. Both parties of every contact get their touch
// functions run. Only errors from those callbacks are returned.
func (s *Stepper) FlyMove(e *entity.Entity, dt float32) (MoveResult, error) {
	var res MoveResult
	var planes [maxClipPlanes]vmath.Vec3
	numPlanes := 0

	primal := e.Velocity()
	original := primal
	timeLeft := dt

	for res.Bumps < maxBumps {
		velocity := e.Velocity()
		if velocity.IsZero() {
			return res, nil
		}
		res.Bumps++

		origin := e.Origin()
		end := vmath.MulAdd(origin, timeLeft, velocity)
		tr := s.tracer.Move(origin, e.Mins(), e.Maxs(), end, MoveNormal, e)

		if tr.AllSolid {
			e.SetVelocity(vmath.Zero)
			res.Blocked = BlockedFloor | BlockedWall
			res.Stuck, res.Stopped = true, true
			return res, nil
		}

		if tr.Fraction > 0 {
			e.SetOrigin(tr.End)
			original = velocity
			numPlanes = 0
		}
		if tr.Fraction == 1 {
			return res, nil
		}

		normal := tr.Plane.Normal
		if normal[2] > floorNormal {
			res.Blocked |= BlockedFloor
			if hit, err := s.store.Get(tr.Entity); err == nil && hit.Solid() == entity.SolidBSP {
				e.SetFlag(entity.FlagOnGround, true)
				e.SetGroundEntity(tr.Entity)
			}
		}
		if normal[2] == 0 {
			res.Blocked |= BlockedWall
			wall := tr
			res.WallTrace = &wall
		}

		if err := s.impact(e, tr.Entity); err != nil {
			return res, err
		}
		if e.IsFree() {
			res.Stopped = true
			return res, nil
		}

		timeLeft -= timeLeft * tr.Fraction

		if numPlanes >= maxClipPlanes {
			e.SetVelocity(vmath.Zero)
			res.Blocked |= BlockedFloor | BlockedWall
			res.Stopped = true
			return res, nil
		}
		planes[numPlanes] = normal
		numPlanes++

		next, ok := clipToPlanes(original, planes[:numPlanes])
		if !ok {
			if numPlanes != 2 {
				e.SetVelocity(vmath.Zero)
				res.Blocked |= BlockedFloor | BlockedWall | BlockedDead
				res.Stopped = true
				return res, nil
			}
			// Slide along the crease between the two planes.
			dir := vmath.Cross(planes[0], planes[1])
			next = vmath.Scale(vmath.Dot(dir, velocity), dir)
		}
		e.SetVelocity(next)

		if vmath.Dot(next, primal) <= 0 {
			e.SetVelocity(vmath.Zero)
			res.Stopped = true
			return res, nil
		}
	}

	res.Stopped = true
	return res, nil
}

// clipToPlanes finds a clip of v against one plane that does not point
// into any of the others.
func clipToPlanes(v vmath.Vec3, planes []vmath.Vec3) (vmath.Vec3, bool) {
	for i := range planes {
		out, _ := ClipVelocity(v, planes[i], 1)
		ok := true
		for j := range planes {
			if j != i && vmath.Dot(out, planes[j]) < 0 {
				ok = false
				break
			}
		}
		if ok {
			return out, true
		}
	}
	return vmath.Vec3{}, false
}
