package engine

import (
	"github.com/chewxy/math32"
	"github.com/go-gl/mathgl/mgl32"
)

// Camera is a first-person fly camera with damped movement.
type Camera struct {
	Position mgl32.Vec3
	Up       mgl32.Vec3
	// Yaw and Pitch are in degrees. Yaw -90 looks down -Z.
	Yaw, Pitch float32

	Velocity    mgl32.Vec3
	Speed       float32
	Sensitivity float32
	// Damping is the fraction of velocity kept after one second without input.
	Damping float32
}

// MoveInput is the movement intent for one tick, each axis in [-1, 1].
type MoveInput struct {
	Forward, Right, Up float32
}

const maxPitch = 89.9

// NewCamera places a camera at position looking down -Z.
func NewCamera(position mgl32.Vec3) *Camera {
	return &Camera{
		Position:    position,
		Up:          mgl32.Vec3{0, 1, 0},
		Yaw:         -90,
		Speed:       12,
		Sensitivity: 0.1,
		Damping:     0.0005,
	}
}

// CameraLookAt returns a camera at position aimed at target.
func CameraLookAt(position, target, up mgl32.Vec3) *Camera {
	c := NewCamera(position)
	if up.Len() > 0 {
		c.Up = normalize(up)
	}
	d := normalize(target.Sub(position))
	if d.Len() == 0 {
		return c
	}
	c.Pitch = clamp(mgl32.RadToDeg(math32.Asin(clamp(d[1], -1, 1))), -maxPitch, maxPitch)
	c.Yaw = mgl32.RadToDeg(math32.Atan2(d[2], d[0]))
	return c
}

// ViewDir is the unit forward vector.
func (c *Camera) ViewDir() mgl32.Vec3 {
	yaw := mgl32.DegToRad(c.Yaw)
	pitch := mgl32.DegToRad(c.Pitch)
	return normalize(mgl32.Vec3{
		math32.Cos(yaw) * math32.Cos(pitch),
		math32.Sin(pitch),
		math32.Sin(yaw) * math32.Cos(pitch),
	})
}

// View returns the world-to-eye matrix.
func (c *Camera) View() mgl32.Mat4 {
	return mgl32.LookAtV(c.Position, c.Position.Add(c.ViewDir()), c.Up)
}

// Rotate applies a mouse delta in pixels. It reports whether the
// orientation changed.
func (c *Camera) Rotate(dx, dy float32) bool {
	if dx == 0 && dy == 0 {
		return false
	}
	c.Yaw += dx * c.Sensitivity
	c.Pitch = clamp(c.Pitch-dy*c.Sensitivity, -maxPitch, maxPitch)
	c.Yaw = math32.Mod(c.Yaw, 360)
	return true
}

// Move integrates one tick of movement. It reports whether the position
// changed.
func (c *Camera) Move(in MoveInput, dt float32) bool {
	if dt <= 0 {
		return false
	}
	forward := c.ViewDir()
	right := normalize(forward.Cross(c.Up))

	accel := forward.Mul(in.Forward).Add(right.Mul(in.Right)).Add(c.Up.Mul(in.Up))
	if accel.Len() > 0 {
		c.Velocity = normalize(accel).Mul(c.Speed)
	} else {
		// затухание скорости без ввода
		c.Velocity = c.Velocity.Mul(math32.Pow(c.Damping, dt))
		if c.Velocity.Len() < 1e-3 {
			c.Velocity = mgl32.Vec3{}
		}
	}
	if c.Velocity.Len() == 0 {
		return false
	}
	c.Position = c.Position.Add(c.Velocity.Mul(dt))
	return true
}

// Stop zeroes the velocity.
func (c *Camera) Stop() { c.Velocity = mgl32.Vec3{} }
