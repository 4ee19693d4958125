package engine

import (
	"github.com/chewxy/math32"
	"github.com/go-gl/mathgl/mgl32"
)

// Kind names a concrete GameObject variant.
type Kind int

const (
	KindSphere Kind = iota
	KindCuboid
)

func (k Kind) String() string {
	switch k {
	case KindSphere:
		return "sphere"
	case KindCuboid:
		return "cuboid"
	default:
		return "unknown"
	}
}

// AABB is an axis-aligned bounding box.
type AABB struct {
	Min, Max mgl32.Vec3
}

// NewAABB returns the box spanned by center ± halfExtents.
func NewAABB(center, halfExtents mgl32.Vec3) AABB {
	return AABB{Min: center.Sub(halfExtents), Max: center.Add(halfExtents)}
}

// Intersects reports whether the boxes overlap. Touching faces count.
func (b AABB) Intersects(o AABB) bool {
	for i := 0; i < 3; i++ {
		if b.Max[i] < o.Min[i] || o.Max[i] < b.Min[i] {
			return false
		}
	}
	return true
}

// Center returns the midpoint of the box.
func (b AABB) Center() mgl32.Vec3 {
	return b.Min.Add(b.Max).Mul(0.5)
}

// Corners lists the eight box corners; bit i of the index selects Max on axis i.
func (b AABB) Corners() [8]mgl32.Vec3 {
	var c [8]mgl32.Vec3
	for i := range c {
		for axis := 0; axis < 3; axis++ {
			if i&(1<<axis) != 0 {
				c[i][axis] = b.Max[axis]
			} else {
				c[i][axis] = b.Min[axis]
			}
		}
	}
	return c
}

// GameObject is the closed set of traceable primitives: *Sphere and *Cuboid.
type GameObject interface {
	// IntersectsRay returns the entry and exit distances along r, t1 <= t2.
	// Both may be negative when the primitive lies behind the origin.
	IntersectsRay(r Ray) (hit bool, t1, t2 float32)
	// IntersectsAABB is a conservative broad-phase test against the object's bounds.
	IntersectsAABB(box AABB) bool
	Min() mgl32.Vec3
	Max() mgl32.Vec3
	Bounds() AABB
	// NormalAt returns the outward unit normal at a surface point.
	NormalAt(p mgl32.Vec3) mgl32.Vec3
	Material() Material
	Kind() Kind
	// Slot is the GPU instance index within the object's variant, or -1
	// until the object is added to a Scene.
	Slot() int

	setMaterial(m Material)
	setSlot(slot int)
	encodeInstance(dst []byte)
}

// Sphere primitive.
type Sphere struct {
	Position mgl32.Vec3
	Radius   float32

	material Material
	slot     int
}

// NewSphere returns an unregistered sphere.
func NewSphere(position mgl32.Vec3, radius float32, m Material) *Sphere {
	return &Sphere{Position: position, Radius: radius, material: m, slot: -1}
}

func (s *Sphere) IntersectsRay(r Ray) (bool, float32, float32) {
	if !r.Valid() {
		return false, 0, 0
	}
	oc := r.Origin.Sub(s.Position)
	a := r.Direction.Dot(r.Direction)
	halfB := oc.Dot(r.Direction)
	c := oc.Dot(oc) - s.Radius*s.Radius

	discriminant := halfB*halfB - a*c
	if !(discriminant >= 0) {
		return false, 0, 0
	}
	if discriminant == 0 {
		t := -halfB / a
		return true, t, t
	}
	sqrtD := math32.Sqrt(discriminant)
	return true, (-halfB - sqrtD) / a, (-halfB + sqrtD) / a
}

func (s *Sphere) IntersectsAABB(box AABB) bool { return s.Bounds().Intersects(box) }

func (s *Sphere) Min() mgl32.Vec3 {
	return s.Position.Sub(mgl32.Vec3{s.Radius, s.Radius, s.Radius})
}

func (s *Sphere) Max() mgl32.Vec3 {
	return s.Position.Add(mgl32.Vec3{s.Radius, s.Radius, s.Radius})
}

func (s *Sphere) Bounds() AABB { return AABB{Min: s.Min(), Max: s.Max()} }

func (s *Sphere) NormalAt(p mgl32.Vec3) mgl32.Vec3 {
	return normalize(p.Sub(s.Position))
}

func (s *Sphere) Material() Material { return s.material }
func (s *Sphere) Kind() Kind         { return KindSphere }
func (s *Sphere) Slot() int          { return s.slot }

func (s *Sphere) setMaterial(m Material) { s.material = m }
func (s *Sphere) setSlot(slot int)       { s.slot = slot }

func (s *Sphere) encodeInstance(dst []byte) {
	putVec3(dst, 0, s.Position)
	putFloat(dst, 12, s.Radius)
	encodeMaterial(dst[16:], s.material)
}

// Cuboid is an axis-aligned box given by its center and full dimensions.
type Cuboid struct {
	Position   mgl32.Vec3
	Dimensions mgl32.Vec3

	material Material
	slot     int
}

// NewCuboid returns an unregistered cuboid.
func NewCuboid(position, dimensions mgl32.Vec3, m Material) *Cuboid {
	return &Cuboid{Position: position, Dimensions: dimensions, material: m, slot: -1}
}

// HalfExtents is half of Dimensions.
func (c *Cuboid) HalfExtents() mgl32.Vec3 { return c.Dimensions.Mul(0.5) }

func (c *Cuboid) IntersectsRay(r Ray) (bool, float32, float32) {
	if !r.Valid() {
		return false, 0, 0
	}
	lo, hi := c.Min(), c.Max()
	tNear := math32.Inf(-1)
	tFar := math32.Inf(1)

	for i := 0; i < 3; i++ {
		o, d := r.Origin[i], r.Direction[i]
		if d == 0 {
			// луч параллелен этой паре плоскостей
			if o < lo[i] || o > hi[i] {
				return false, 0, 0
			}
			continue
		}
		invD := 1 / d
		t0 := (lo[i] - o) * invD
		t1 := (hi[i] - o) * invD
		if t0 > t1 {
			t0, t1 = t1, t0
		}
		if t0 > tNear {
			tNear = t0
		}
		if t1 < tFar {
			tFar = t1
		}
	}

	if !(tNear <= tFar) {
		return false, 0, 0
	}
	return true, tNear, tFar
}

func (c *Cuboid) IntersectsAABB(box AABB) bool { return c.Bounds().Intersects(box) }

func (c *Cuboid) Min() mgl32.Vec3 { return c.Position.Sub(c.HalfExtents()) }
func (c *Cuboid) Max() mgl32.Vec3 { return c.Position.Add(c.HalfExtents()) }

func (c *Cuboid) Bounds() AABB { return AABB{Min: c.Min(), Max: c.Max()} }

// NormalAt picks the face whose plane p lies closest to, relative to the
// half extent on that axis.
func (c *Cuboid) NormalAt(p mgl32.Vec3) mgl32.Vec3 {
	local := p.Sub(c.Position)
	half := c.HalfExtents()

	axis := 0
	best := float32(-1)
	for i := 0; i < 3; i++ {
		var ratio float32
		if half[i] > 0 {
			ratio = math32.Abs(local[i]) / half[i]
		} else {
			ratio = math32.Inf(1)
		}
		if ratio > best {
			best = ratio
			axis = i
		}
	}

	var n mgl32.Vec3
	if local[axis] < 0 {
		n[axis] = -1
	} else {
		n[axis] = 1
	}
	return n
}

func (c *Cuboid) Material() Material { return c.material }
func (c *Cuboid) Kind() Kind         { return KindCuboid }
func (c *Cuboid) Slot() int          { return c.slot }

func (c *Cuboid) setMaterial(m Material) { c.material = m }
func (c *Cuboid) setSlot(slot int)       { c.slot = slot }

func (c *Cuboid) encodeInstance(dst []byte) {
	putVec3(dst, 0, c.Position)
	putFloat(dst, 12, 0)
	putVec3(dst, 16, c.HalfExtents())
	putFloat(dst, 28, 0)
	encodeMaterial(dst[32:], c.material)
}
