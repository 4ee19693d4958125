package engine

import (
	"github.com/chewxy/math32"
	"github.com/go-gl/mathgl/mgl32"
)

// Epsilon offsets bounce origins away from the surface they leave.
const Epsilon float32 = 0.005

// Ray is an origin and a normalized direction.
type Ray struct {
	Origin    mgl32.Vec3
	Direction mgl32.Vec3
}

// NewRay normalizes dir. A zero-length or non-finite direction produces
// a ray that never intersects anything.
func NewRay(origin, dir mgl32.Vec3) Ray {
	return Ray{Origin: origin, Direction: normalize(dir)}
}

// At returns the point at distance t along the ray.
func (r Ray) At(t float32) mgl32.Vec3 {
	return r.Origin.Add(r.Direction.Mul(t))
}

// Valid reports whether the ray can be traced.
func (r Ray) Valid() bool {
	if !finite(r.Origin) || !finite(r.Direction) {
		return false
	}
	return r.Direction.Dot(r.Direction) > 0
}

// SmallestPositive returns t1 unless it lies behind the ray origin, in
// which case the exit distance t2 is used.
func SmallestPositive(t1, t2 float32) float32 {
	if t1 < 0 {
		return t2
	}
	return t1
}

func normalize(v mgl32.Vec3) mgl32.Vec3 {
	l := v.Len()
	if l == 0 || math32.IsNaN(l) || math32.IsInf(l, 0) {
		return mgl32.Vec3{}
	}
	return v.Mul(1 / l)
}

func finite(v mgl32.Vec3) bool {
	for _, c := range v {
		if math32.IsNaN(c) || math32.IsInf(c, 0) {
			return false
		}
	}
	return true
}

func mulElem(a, b mgl32.Vec3) mgl32.Vec3 {
	return mgl32.Vec3{a[0] * b[0], a[1] * b[1], a[2] * b[2]}
}

func lerp(a, b mgl32.Vec3, t float32) mgl32.Vec3 {
	return a.Add(b.Sub(a).Mul(t))
}

// beerLambert is the transmittance through distance of a medium with the
// given absorbance.
func beerLambert(absorbance mgl32.Vec3, distance float32) mgl32.Vec3 {
	return mgl32.Vec3{
		math32.Exp(-absorbance[0] * distance),
		math32.Exp(-absorbance[1] * distance),
		math32.Exp(-absorbance[2] * distance),
	}
}

func reflect(d, n mgl32.Vec3) mgl32.Vec3 {
	return d.Sub(n.Mul(2 * d.Dot(n)))
}

// refract follows Snell's law for incident direction d and normal n facing
// against d. ok is false on total internal reflection.
func refract(d, n mgl32.Vec3, eta float32) (dir mgl32.Vec3, ok bool) {
	cosI := d.Dot(n)
	k := 1 - eta*eta*(1-cosI*cosI)
	if k < 0 {
		return mgl32.Vec3{}, false
	}
	return d.Mul(eta).Sub(n.Mul(eta*cosI + math32.Sqrt(k))), true
}

// orthonormalBasis builds two tangents perpendicular to the unit vector n.
func orthonormalBasis(n mgl32.Vec3) (mgl32.Vec3, mgl32.Vec3) {
	helper := mgl32.Vec3{1, 0, 0}
	if math32.Abs(n[0]) > 0.9 {
		helper = mgl32.Vec3{0, 1, 0}
	}
	v := normalize(n.Cross(helper))
	u := v.Cross(n)
	return u, v
}

// cosineHemisphere samples a direction around normal with probability
// proportional to the cosine of the angle to it.
func cosineHemisphere(normal mgl32.Vec3, rng *randSource) mgl32.Vec3 {
	r1 := rng.Float32()
	r2 := rng.Float32()

	phi := 2 * math32.Pi * r1
	cosTheta := math32.Sqrt(r2)
	sinTheta := math32.Sqrt(1 - r2)

	u, v := orthonormalBasis(normal)
	return u.Mul(sinTheta * math32.Cos(phi)).
		Add(v.Mul(sinTheta * math32.Sin(phi))).
		Add(normal.Mul(cosTheta))
}

// unitDisk samples a point uniformly on the unit disk.
func unitDisk(rng *randSource) (float32, float32) {
	r := math32.Sqrt(rng.Float32())
	theta := 2 * math32.Pi * rng.Float32()
	return r * math32.Cos(theta), r * math32.Sin(theta)
}

func clamp(x, lo, hi float32) float32 {
	if x < lo {
		return lo
	}
	if x > hi {
		return hi
	}
	return x
}
