package engine

import (
	"testing"

	"github.com/go-gl/mathgl/mgl32"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const tol = 1e-4

func assertVec(t *testing.T, want, got mgl32.Vec3, delta float64) {
	t.Helper()
	for i := 0; i < 3; i++ {
		assert.InDelta(t, want[i], got[i], delta, "component %d of %v", i, got)
	}
}

func TestSphereIntersectsRay(t *testing.T) {
	s := NewSphere(mgl32.Vec3{0, 0, 0}, 1, DefaultMaterial())

	hit, t1, t2 := s.IntersectsRay(NewRay(mgl32.Vec3{0, 0, -5}, mgl32.Vec3{0, 0, 1}))
	require.True(t, hit)
	assert.InDelta(t, 4, t1, tol)
	assert.InDelta(t, 6, t2, tol)

	// оба корня лежат на поверхности
	r := NewRay(mgl32.Vec3{0.3, -0.2, -4}, mgl32.Vec3{-0.05, 0.1, 1})
	hit, t1, t2 = s.IntersectsRay(r)
	require.True(t, hit)
	assert.LessOrEqual(t, t1, t2)
	assert.InDelta(t, 1, r.At(t1).Sub(s.Position).Len(), tol)
	assert.InDelta(t, 1, r.At(t2).Sub(s.Position).Len(), tol)

	hit, _, _ = s.IntersectsRay(NewRay(mgl32.Vec3{0, 2, -5}, mgl32.Vec3{0, 0, 1}))
	assert.False(t, hit)

	// касательный луч касается в одной точке
	hit, t1, t2 = s.IntersectsRay(NewRay(mgl32.Vec3{1, 0, -5}, mgl32.Vec3{0, 0, 1}))
	require.True(t, hit)
	assert.Equal(t, t1, t2)
	assert.InDelta(t, 5, t1, tol)

	// начало луча внутри сферы
	hit, t1, t2 = s.IntersectsRay(NewRay(mgl32.Vec3{}, mgl32.Vec3{1, 0, 0}))
	require.True(t, hit)
	assert.InDelta(t, -1, t1, tol)
	assert.InDelta(t, 1, t2, tol)

	hit, _, _ = s.IntersectsRay(Ray{Origin: mgl32.Vec3{0, 0, -5}})
	assert.False(t, hit, "zero direction never hits")
}

func TestCuboidIntersectsRay(t *testing.T) {
	c := NewCuboid(mgl32.Vec3{0, 0, 0}, mgl32.Vec3{2, 2, 2}, DefaultMaterial())

	hit, t1, t2 := c.IntersectsRay(NewRay(mgl32.Vec3{0, 0, 0}, mgl32.Vec3{1, 0, 0}))
	require.True(t, hit)
	assert.InDelta(t, -1, t1, tol)
	assert.InDelta(t, 1, t2, tol)

	hit, t1, t2 = c.IntersectsRay(NewRay(mgl32.Vec3{-5, 0.5, 0.5}, mgl32.Vec3{1, 0, 0}))
	require.True(t, hit)
	assert.InDelta(t, 4, t1, tol)
	assert.InDelta(t, 6, t2, tol)

	// луч параллелен оси и идёт вне слоя
	hit, _, _ = c.IntersectsRay(NewRay(mgl32.Vec3{5, 0, 0}, mgl32.Vec3{0, 0, 1}))
	assert.False(t, hit)

	hit, _, _ = c.IntersectsRay(NewRay(mgl32.Vec3{-5, 3, 0}, mgl32.Vec3{1, 0, 0}))
	assert.False(t, hit)

	// позади начала: попадание есть, но обе дистанции отрицательные
	hit, t1, t2 = c.IntersectsRay(NewRay(mgl32.Vec3{5, 0, 0}, mgl32.Vec3{1, 0, 0}))
	require.True(t, hit)
	assert.Less(t, t2, float32(0))
	assert.Less(t, t1, t2)
}

func TestNormalAt(t *testing.T) {
	s := NewSphere(mgl32.Vec3{1, 2, 3}, 2, DefaultMaterial())
	assertVec(t, mgl32.Vec3{0, 1, 0}, s.NormalAt(mgl32.Vec3{1, 4, 3}), tol)

	c := NewCuboid(mgl32.Vec3{0, 0, 0}, mgl32.Vec3{2, 4, 6}, DefaultMaterial())
	assert.Equal(t, mgl32.Vec3{1, 0, 0}, c.NormalAt(mgl32.Vec3{1, 0.2, 0.3}))
	assert.Equal(t, mgl32.Vec3{0, -1, 0}, c.NormalAt(mgl32.Vec3{0.1, -2, 1}))
	assert.Equal(t, mgl32.Vec3{0, 0, 1}, c.NormalAt(mgl32.Vec3{0.5, 1, 3}))
}

func TestAABB(t *testing.T) {
	a := NewAABB(mgl32.Vec3{0, 0, 0}, mgl32.Vec3{1, 1, 1})
	assert.True(t, a.Intersects(NewAABB(mgl32.Vec3{1.5, 0, 0}, mgl32.Vec3{0.5, 0.5, 0.5})), "touching faces")
	assert.False(t, a.Intersects(NewAABB(mgl32.Vec3{3, 0, 0}, mgl32.Vec3{1, 1, 1})))
	assert.Equal(t, mgl32.Vec3{}, a.Center())

	corners := a.Corners()
	assert.Equal(t, a.Min, corners[0])
	assert.Equal(t, a.Max, corners[7])
	assert.Equal(t, mgl32.Vec3{1, -1, -1}, corners[1])
	assert.Equal(t, mgl32.Vec3{-1, 1, -1}, corners[2])
	assert.Equal(t, mgl32.Vec3{-1, -1, 1}, corners[4])

	s := NewSphere(mgl32.Vec3{0, 0, 0}, 1, DefaultMaterial())
	assert.Equal(t, mgl32.Vec3{-1, -1, -1}, s.Min())
	assert.Equal(t, mgl32.Vec3{1, 1, 1}, s.Max())
	assert.True(t, s.IntersectsAABB(NewAABB(mgl32.Vec3{1.5, 0, 0}, mgl32.Vec3{1, 1, 1})))

	c := NewCuboid(mgl32.Vec3{0, 0, 0}, mgl32.Vec3{2, 4, 6}, DefaultMaterial())
	assert.Equal(t, mgl32.Vec3{1, 2, 3}, c.HalfExtents())
	assert.False(t, c.IntersectsAABB(NewAABB(mgl32.Vec3{0, 0, 10}, mgl32.Vec3{1, 1, 1})))
}

func TestSmallestPositive(t *testing.T) {
	assert.Equal(t, float32(2), SmallestPositive(2, 5))
	assert.Equal(t, float32(5), SmallestPositive(-2, 5))
	assert.Equal(t, float32(0), SmallestPositive(0, 5))
}

func TestKindString(t *testing.T) {
	assert.Equal(t, "sphere", KindSphere.String())
	assert.Equal(t, "cuboid", KindCuboid.String())
	assert.Equal(t, "unknown", Kind(7).String())
}
