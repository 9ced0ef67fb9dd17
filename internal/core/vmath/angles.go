package vmath

import "math"

const (
	Pitch = 0
	Yaw   = 1
	Roll  = 2
)

func deg2rad(d float32) float64 {
	return float64(d) * math.Pi / 180
}

// AngleVectors returns the forward, right and up vectors for pitch/yaw/roll
// angles given in degrees.
func AngleVectors(angles Vec3) (forward, right, up Vec3) {
	sy, cy := math.Sincos(deg2rad(angles[Yaw]))
	sp, cp := math.Sincos(deg2rad(angles[Pitch]))
	sr, cr := math.Sincos(deg2rad(angles[Roll]))

	forward = Vec3{float32(cp * cy), float32(cp * sy), float32(-sp)}
	right = Vec3{
		float32(-1*sr*sp*cy + -1*cr*-sy),
		float32(-1*sr*sp*sy + -1*cr*cy),
		float32(-1 * sr * cp),
	}
	up = Vec3{
		float32(cr*sp*cy + -sr*-sy),
		float32(cr*sp*sy + -sr*cy),
		float32(cr * cp),
	}
	return forward, right, up
}

// VecToYaw returns the yaw in degrees of v projected onto the horizontal plane.
func VecToYaw(v Vec3) float32 {
	if v[1] == 0 && v[0] == 0 {
		return 0
	}
	yaw := float32(math.Trunc(math.Atan2(float64(v[1]), float64(v[0])) * 180 / math.Pi))
	if yaw < 0 {
		yaw += 360
	}
	return yaw
}

// VecToAngles returns pitch and yaw in degrees; roll is always zero.
func VecToAngles(v Vec3) Vec3 {
	var yaw, pitch float32
	if v[1] == 0 && v[0] == 0 {
		yaw = 0
		if v[2] > 0 {
			pitch = 90
		} else {
			pitch = 270
		}
	} else {
		yaw = float32(math.Trunc(math.Atan2(float64(v[1]), float64(v[0])) * 180 / math.Pi))
		if yaw < 0 {
			yaw += 360
		}
		forward := math.Sqrt(float64(v[0]*v[0] + v[1]*v[1]))
		pitch = float32(math.Trunc(math.Atan2(float64(v[2]), forward) * 180 / math.Pi))
		if pitch < 0 {
			pitch += 360
		}
	}
	return Vec3{pitch, yaw, 0}
}

// AngleMod wraps an angle into [0, 360).
func AngleMod(a float32) float32 {
	m := float32(math.Mod(float64(a), 360))
	if m < 0 {
		m += 360
	}
	return m
}
