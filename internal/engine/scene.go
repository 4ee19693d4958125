package engine

import (
	"errors"
	"fmt"
	"math/rand/v2"

	"github.com/chewxy/math32"
)

var (
	// ErrCapacityExceeded is returned by Scene.Add when a primitive kind has
	// no free instance slots left.
	ErrCapacityExceeded = errors.New("scene capacity exceeded")
	// ErrAlreadyAdded is returned when an object is registered twice.
	ErrAlreadyAdded = errors.New("object already in scene")
	// ErrNotInScene is returned when editing an object the scene does not own.
	ErrNotInScene = errors.New("object not in scene")
	// ErrNilObject is returned by Scene.Add for a nil object.
	ErrNilObject = errors.New("nil object")
)

// Scene is the ordered registry of traceable objects together with the
// packed instance buffer the GPU reads them from. It is not safe for
// concurrent mutation; RayTrace may be called concurrently while no
// mutation is in progress.
type Scene struct {
	objects  []GameObject
	counts   [2]int
	buf      []byte
	dirty    []ByteRange
	revision uint64
	rng      *rand.Rand
}

// NewScene returns an empty scene with a zeroed instance buffer.
func NewScene() *Scene {
	return &Scene{
		buf: make([]byte, InstanceBufferSize),
		rng: rand.New(rand.NewPCG(rand.Uint64(), rand.Uint64())),
	}
}

// Seed makes SetRandomMaterial reproducible.
func (s *Scene) Seed(seed uint64) {
	s.rng = rand.New(rand.NewPCG(seed, seed^0xda3e39cb94b95bdb))
}

func capacity(kind Kind) int {
	if kind == KindCuboid {
		return MaxCuboids
	}
	return MaxSpheres
}

// Add appends obj and assigns it the next instance slot of its kind.
func (s *Scene) Add(obj GameObject) error {
	if isNil(obj) {
		return ErrNilObject
	}
	if obj.Slot() >= 0 {
		return ErrAlreadyAdded
	}
	kind := obj.Kind()
	if s.counts[kind] >= capacity(kind) {
		return fmt.Errorf("add %s #%d (max %d): %w", kind, s.counts[kind]+1, capacity(kind), ErrCapacityExceeded)
	}
	// слоты каждого вида идут подряд с нуля
	obj.setSlot(s.counts[kind])
	s.counts[kind]++
	s.objects = append(s.objects, obj)
	s.upload(obj)
	return nil
}

func (s *Scene) upload(obj GameObject) {
	r := instanceOffset(obj.Kind(), obj.Slot())
	obj.encodeInstance(s.buf[r.Offset:r.End()])
	s.dirty = append(s.dirty, r)
	// новая ревизия сбрасывает накопление у трассировщиков
	s.revision++
}

// isNil also catches typed nil pointers, which would panic on the first
// method call.
func isNil(obj GameObject) bool {
	switch o := obj.(type) {
	case nil:
		return true
	case *Sphere:
		return o == nil
	case *Cuboid:
		return o == nil
	}
	return false
}

func (s *Scene) owns(obj GameObject) bool {
	if isNil(obj) || obj.Slot() < 0 {
		return false
	}
	for _, o := range s.objects {
		if o == obj {
			return true
		}
	}
	return false
}

// RayTrace returns the nearest object along r. The comparison key is
// SmallestPositive(t1, t2), so rays starting inside a primitive report its
// exit distance. Ties go to the object added first.
func (s *Scene) RayTrace(r Ray) (hit bool, obj GameObject, t1, t2 float32) {
	if !r.Valid() {
		return false, nil, 0, 0
	}
	tMin := float32(math32.MaxFloat32)
	for _, o := range s.objects {
		ok, a, b := o.IntersectsRay(r)
		if !ok || !(b > 0) {
			continue
		}
		if t := SmallestPositive(a, b); t < tMin {
			tMin = t
			obj, t1, t2 = o, a, b
		}
	}
	return obj != nil, obj, t1, t2
}

// SetMaterial replaces obj's material and rewrites its instance record.
func (s *Scene) SetMaterial(obj GameObject, m Material) error {
	if !s.owns(obj) {
		return ErrNotInScene
	}
	obj.setMaterial(m)
	s.upload(obj)
	return nil
}

// SetRandomMaterial gives up to max objects of kind a fresh random material,
// in insertion order. It returns how many were changed.
func (s *Scene) SetRandomMaterial(kind Kind, max int) int {
	changed := 0
	for _, o := range s.objects {
		if changed >= max {
			break
		}
		if o.Kind() != kind {
			continue
		}
		o.setMaterial(RandomMaterial(s.rng))
		s.upload(o)
		changed++
	}
	return changed
}

// Objects returns the registered objects in insertion order.
func (s *Scene) Objects() []GameObject { return s.objects }

// Len is the total number of objects.
func (s *Scene) Len() int { return len(s.objects) }

// Count returns how many objects of kind are registered.
func (s *Scene) Count(kind Kind) int {
	if kind < 0 || int(kind) >= len(s.counts) {
		return 0
	}
	return s.counts[kind]
}

// QueryAABB lists the objects whose bounds overlap box.
func (s *Scene) QueryAABB(box AABB) []GameObject {
	var out []GameObject
	for _, o := range s.objects {
		if o.IntersectsAABB(box) {
			out = append(out, o)
		}
	}
	return out
}

// Revision increases on every geometry or material change.
func (s *Scene) Revision() uint64 { return s.revision }

// InstanceBuffer is the packed GPU instance data. Callers must not modify it.
func (s *Scene) InstanceBuffer() []byte { return s.buf }

// InstanceRecord returns the bytes of obj's record.
func (s *Scene) InstanceRecord(obj GameObject) []byte {
	if isNil(obj) || obj.Slot() < 0 {
		return nil
	}
	r := instanceOffset(obj.Kind(), obj.Slot())
	return s.buf[r.Offset:r.End()]
}

// ClearStale marks the records prev used beyond s's slot counts dirty. s
// holds zeros there, so the next upload erases prev's leftovers when s
// replaces prev on the same backend.
func (s *Scene) ClearStale(prev *Scene) {
	if prev == nil {
		return
	}
	for kind := range s.counts {
		k := Kind(kind)
		for slot := s.counts[kind]; slot < prev.counts[kind]; slot++ {
			s.dirty = append(s.dirty, instanceOffset(k, slot))
		}
	}
}

// TakeDirty returns the merged byte ranges written since the last call.
func (s *Scene) TakeDirty() []ByteRange {
	d := mergeRanges(s.dirty)
	s.dirty = nil
	return d
}

// Pick returns the object under pixel (x, y) of frame.
func (s *Scene) Pick(frame FrameData, x, y int) (GameObject, bool) {
	hit, obj, _, _ := s.RayTrace(PrimaryRay(frame, x, y))
	return obj, hit
}
