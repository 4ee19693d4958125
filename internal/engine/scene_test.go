package engine

import (
	"bytes"
	"errors"
	"testing"

	"github.com/go-gl/mathgl/mgl32"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRayTraceNearest(t *testing.T) {
	s := NewScene()
	far := NewSphere(mgl32.Vec3{0, 0, -10}, 1, DefaultMaterial())
	near := NewCuboid(mgl32.Vec3{0, 0, -4}, mgl32.Vec3{1, 1, 1}, DefaultMaterial())
	require.NoError(t, s.Add(far))
	require.NoError(t, s.Add(near))

	hit, obj, t1, t2 := s.RayTrace(NewRay(mgl32.Vec3{}, mgl32.Vec3{0, 0, -1}))
	require.True(t, hit)
	assert.Same(t, near, obj)
	assert.InDelta(t, 3.5, t1, tol)
	assert.InDelta(t, 4.5, t2, tol)

	hit, obj, _, _ = s.RayTrace(NewRay(mgl32.Vec3{}, mgl32.Vec3{0, 0, 1}))
	assert.False(t, hit)
	assert.Nil(t, obj)
}

func TestRayTraceTieGoesToFirst(t *testing.T) {
	s := NewScene()
	a := NewSphere(mgl32.Vec3{0, 0, -5}, 1, DefaultMaterial())
	b := NewSphere(mgl32.Vec3{0, 0, -5}, 1, DefaultMaterial())
	require.NoError(t, s.Add(a))
	require.NoError(t, s.Add(b))

	hit, obj, _, _ := s.RayTrace(NewRay(mgl32.Vec3{}, mgl32.Vec3{0, 0, -1}))
	require.True(t, hit)
	assert.Same(t, a, obj)
}

func TestRayTraceFromInside(t *testing.T) {
	s := NewScene()
	inner := NewSphere(mgl32.Vec3{}, 1, DefaultMaterial())
	require.NoError(t, s.Add(inner))
	require.NoError(t, s.Add(NewSphere(mgl32.Vec3{0, 0, -3}, 0.5, DefaultMaterial())))

	hit, obj, t1, t2 := s.RayTrace(NewRay(mgl32.Vec3{}, mgl32.Vec3{0, 0, -1}))
	require.True(t, hit)
	assert.Same(t, inner, obj)
	assert.Less(t, t1, float32(0))
	assert.InDelta(t, 1, SmallestPositive(t1, t2), tol)
}

func TestSceneCapacity(t *testing.T) {
	s := NewScene()
	for i := 0; i < MaxSpheres; i++ {
		require.NoError(t, s.Add(NewSphere(mgl32.Vec3{float32(i), 0, 0}, 0.1, DefaultMaterial())))
	}
	err := s.Add(NewSphere(mgl32.Vec3{}, 0.1, DefaultMaterial()))
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrCapacityExceeded))
	assert.Equal(t, MaxSpheres, s.Count(KindSphere))

	// у кубоидов свой пул слотов
	for i := 0; i < MaxCuboids; i++ {
		require.NoError(t, s.Add(NewCuboid(mgl32.Vec3{0, float32(i), 0}, mgl32.Vec3{1, 1, 1}, DefaultMaterial())))
	}
	err = s.Add(NewCuboid(mgl32.Vec3{}, mgl32.Vec3{1, 1, 1}, DefaultMaterial()))
	assert.ErrorIs(t, err, ErrCapacityExceeded)
	assert.Equal(t, MaxSpheres+MaxCuboids, s.Len())
}

func TestSceneAddAssignsSlots(t *testing.T) {
	s := NewScene()
	sp0 := NewSphere(mgl32.Vec3{}, 1, DefaultMaterial())
	cu0 := NewCuboid(mgl32.Vec3{}, mgl32.Vec3{1, 1, 1}, DefaultMaterial())
	sp1 := NewSphere(mgl32.Vec3{}, 1, DefaultMaterial())
	assert.Equal(t, -1, sp0.Slot())

	for _, o := range []GameObject{sp0, cu0, sp1} {
		require.NoError(t, s.Add(o))
	}
	assert.Equal(t, 0, sp0.Slot())
	assert.Equal(t, 0, cu0.Slot())
	assert.Equal(t, 1, sp1.Slot())
	assert.Equal(t, []GameObject{sp0, cu0, sp1}, s.Objects())
	assert.Equal(t, 2, s.Count(KindSphere))
	assert.Equal(t, 1, s.Count(KindCuboid))

	assert.ErrorIs(t, s.Add(sp0), ErrAlreadyAdded)
}

func TestInstanceRecords(t *testing.T) {
	s := NewScene()
	m := DefaultMaterial()
	m.IOR = 1.5
	sp := NewSphere(mgl32.Vec3{1, 2, 3}, 4, m)
	cu := NewCuboid(mgl32.Vec3{5, 6, 7}, mgl32.Vec3{2, 4, 6}, m)
	require.NoError(t, s.Add(sp))
	require.NoError(t, s.Add(cu))

	buf := s.InstanceBuffer()
	require.Len(t, buf, InstanceBufferSize)

	rec := buf[SpheresOffset:]
	assert.Equal(t, mgl32.Vec3{1, 2, 3}, getVec3(rec, 0))
	assert.Equal(t, float32(4), getFloat(rec, 12))
	assert.Equal(t, m, DecodeMaterial(rec[16:]))

	rec = buf[CuboidsOffset:]
	assert.Equal(t, mgl32.Vec3{5, 6, 7}, getVec3(rec, 0))
	assert.Equal(t, mgl32.Vec3{1, 2, 3}, getVec3(rec, 16))
	assert.Equal(t, m, DecodeMaterial(rec[32:]))

	assert.Equal(t, buf[CuboidsOffset:CuboidsOffset+CuboidSize], s.InstanceRecord(cu))
	assert.Nil(t, s.InstanceRecord(NewSphere(mgl32.Vec3{}, 1, m)))
}

func TestSetRandomMaterialTouchesOneRecord(t *testing.T) {
	s := NewScene()
	s.Seed(42)
	for i := 0; i < 3; i++ {
		require.NoError(t, s.Add(NewSphere(mgl32.Vec3{float32(i), 0, 0}, 0.5, DefaultMaterial())))
	}
	require.NoError(t, s.Add(NewCuboid(mgl32.Vec3{0, 2, 0}, mgl32.Vec3{1, 1, 1}, DefaultMaterial())))
	s.TakeDirty()

	before := bytes.Clone(s.InstanceBuffer())
	rev := s.Revision()

	n := s.SetRandomMaterial(KindSphere, 1)
	require.Equal(t, 1, n)
	assert.Greater(t, s.Revision(), rev)

	after := s.InstanceBuffer()
	first := instanceOffset(KindSphere, 0)
	assert.NotEqual(t, before[first.Offset:first.End()], after[first.Offset:first.End()])
	assert.Equal(t, before[first.End():], after[first.End():], "other records must be untouched")

	assert.Equal(t, []ByteRange{first}, s.TakeDirty())
	assert.Empty(t, s.TakeDirty())

	assert.Equal(t, 1, s.SetRandomMaterial(KindCuboid, MaxSpheres+MaxCuboids))
	assert.Equal(t, 0, s.SetRandomMaterial(KindCuboid, 0))
}

func TestSetMaterial(t *testing.T) {
	s := NewScene()
	sp := NewSphere(mgl32.Vec3{}, 1, DefaultMaterial())
	require.NoError(t, s.Add(sp))

	m := DefaultMaterial()
	m.Emission = mgl32.Vec3{4, 4, 4}
	rev := s.Revision()
	require.NoError(t, s.SetMaterial(sp, m))
	assert.Equal(t, m, sp.Material())
	assert.Equal(t, m, DecodeMaterial(s.InstanceRecord(sp)[16:]))
	assert.Equal(t, rev+1, s.Revision())

	stranger := NewSphere(mgl32.Vec3{}, 1, DefaultMaterial())
	assert.ErrorIs(t, s.SetMaterial(stranger, m), ErrNotInScene)
}

func TestTakeDirtyMerges(t *testing.T) {
	s := NewScene()
	require.NoError(t, s.Add(NewSphere(mgl32.Vec3{}, 1, DefaultMaterial())))
	require.NoError(t, s.Add(NewSphere(mgl32.Vec3{}, 1, DefaultMaterial())))
	require.NoError(t, s.Add(NewCuboid(mgl32.Vec3{}, mgl32.Vec3{1, 1, 1}, DefaultMaterial())))

	assert.Equal(t, []ByteRange{
		{Offset: 0, Size: 2 * SphereSize},
		{Offset: CuboidsOffset, Size: CuboidSize},
	}, s.TakeDirty())
}

func TestQueryAABB(t *testing.T) {
	s := NewScene()
	a := NewSphere(mgl32.Vec3{0, 0, 0}, 1, DefaultMaterial())
	b := NewCuboid(mgl32.Vec3{10, 0, 0}, mgl32.Vec3{2, 2, 2}, DefaultMaterial())
	require.NoError(t, s.Add(a))
	require.NoError(t, s.Add(b))

	assert.Equal(t, []GameObject{a}, s.QueryAABB(NewAABB(mgl32.Vec3{1, 1, 1}, mgl32.Vec3{0.5, 0.5, 0.5})))
	assert.Equal(t, []GameObject{a, b}, s.QueryAABB(AABB{Min: mgl32.Vec3{-1, -1, -1}, Max: mgl32.Vec3{11, 1, 1}}))
	assert.Empty(t, s.QueryAABB(NewAABB(mgl32.Vec3{5, 5, 5}, mgl32.Vec3{1, 1, 1})))
}

func TestPick(t *testing.T) {
	s := NewScene()
	target := NewSphere(mgl32.Vec3{0, 0, 0}, 1, DefaultMaterial())
	require.NoError(t, s.Add(target))

	frame := testFrame(t, NewCamera(mgl32.Vec3{0, 0, 5}), 33, 33)

	obj, ok := s.Pick(frame, 16, 16)
	require.True(t, ok)
	assert.Same(t, target, obj)

	_, ok = s.Pick(frame, 0, 0)
	assert.False(t, ok)
}

func TestSceneAddNil(t *testing.T) {
	s := NewScene()
	assert.ErrorIs(t, s.Add(nil), ErrNilObject)
	var sp *Sphere
	assert.ErrorIs(t, s.Add(sp), ErrNilObject)
	var cu *Cuboid
	assert.ErrorIs(t, s.Add(cu), ErrNilObject)

	assert.ErrorIs(t, s.SetMaterial(nil, DefaultMaterial()), ErrNotInScene)
	assert.ErrorIs(t, s.SetMaterial(sp, DefaultMaterial()), ErrNotInScene)
	assert.Nil(t, s.InstanceRecord(nil))
	assert.Zero(t, s.Len())
	assert.Zero(t, s.Revision())
}

func TestSceneClearStale(t *testing.T) {
	prev := NewScene()
	for i := 0; i < 3; i++ {
		require.NoError(t, prev.Add(NewSphere(mgl32.Vec3{float32(i), 0, 0}, 0.5, DefaultMaterial())))
	}
	for i := 0; i < 2; i++ {
		require.NoError(t, prev.Add(NewCuboid(mgl32.Vec3{0, float32(i), 0}, mgl32.Vec3{1, 1, 1}, DefaultMaterial())))
	}

	next := NewScene()
	require.NoError(t, next.Add(NewSphere(mgl32.Vec3{}, 1, DefaultMaterial())))
	next.TakeDirty()

	next.ClearStale(prev)
	assert.Equal(t, []ByteRange{
		{Offset: SphereSize, Size: 2 * SphereSize},
		{Offset: CuboidsOffset, Size: 2 * CuboidSize},
	}, next.TakeDirty())
	assert.True(t, bytes.Equal(make([]byte, 2*SphereSize), next.InstanceBuffer()[SphereSize:3*SphereSize]))

	next.ClearStale(nil)
	assert.Empty(t, next.TakeDirty())
	// большей сцене нечего стирать
	prev.TakeDirty()
	prev.ClearStale(next)
	assert.Empty(t, prev.TakeDirty())
}
