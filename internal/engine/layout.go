package engine

import (
	"encoding/binary"
	"math"
	"sort"

	"github.com/go-gl/mathgl/mgl32"
)

// Capacity of the instance buffer per primitive kind. Slot indices are
// baked into the GPU layout, so these never grow at runtime.
const (
	MaxSpheres = 256
	MaxCuboids = 64
)

// Instance record strides in bytes (std140).
const (
	MaterialSize = 64
	SphereSize   = 16 + MaterialSize
	CuboidSize   = 32 + MaterialSize

	SpheresOffset      = 0
	CuboidsOffset      = SpheresOffset + MaxSpheres*SphereSize
	InstanceBufferSize = CuboidsOffset + MaxCuboids*CuboidSize
)

// Per-frame constant block. The first region changes only on resize, the
// second every time the camera moves.
const (
	OffsetProjection     = 0
	OffsetInvProjection  = 64
	OffsetNearFar        = 128
	OffsetView           = 144
	OffsetInvView        = 208
	OffsetViewProjection = 272
	OffsetCameraPosition = 336
	OffsetViewDir        = 352
	FrameBlockSize       = 368
)

var (
	// ResizeRange covers projection, inverse projection and near/far.
	ResizeRange = ByteRange{Offset: OffsetProjection, Size: OffsetView}
	// CameraRange covers view matrices, camera position and view direction.
	CameraRange = ByteRange{Offset: OffsetView, Size: FrameBlockSize - OffsetView}
)

// ByteRange addresses a sub-range of a GPU buffer.
type ByteRange struct {
	Offset int
	Size   int
}

// End is the first byte after the range.
func (r ByteRange) End() int { return r.Offset + r.Size }

// instanceOffset returns the byte offset of a slot's record.
func instanceOffset(kind Kind, slot int) ByteRange {
	switch kind {
	case KindCuboid:
		return ByteRange{Offset: CuboidsOffset + slot*CuboidSize, Size: CuboidSize}
	default:
		return ByteRange{Offset: SpheresOffset + slot*SphereSize, Size: SphereSize}
	}
}

func putFloat(dst []byte, off int, f float32) {
	binary.LittleEndian.PutUint32(dst[off:], math.Float32bits(f))
}

func getFloat(src []byte, off int) float32 {
	return math.Float32frombits(binary.LittleEndian.Uint32(src[off:]))
}

func putVec3(dst []byte, off int, v mgl32.Vec3) {
	putFloat(dst, off, v[0])
	putFloat(dst, off+4, v[1])
	putFloat(dst, off+8, v[2])
}

func getVec3(src []byte, off int) mgl32.Vec3 {
	return mgl32.Vec3{getFloat(src, off), getFloat(src, off+4), getFloat(src, off+8)}
}

// putMat4 writes m column-major, as mgl32 stores it.
func putMat4(dst []byte, off int, m mgl32.Mat4) {
	for i, f := range m {
		putFloat(dst, off+i*4, f)
	}
}

func getMat4(src []byte, off int) mgl32.Mat4 {
	var m mgl32.Mat4
	for i := range m {
		m[i] = getFloat(src, off+i*4)
	}
	return m
}

// encodeMaterial packs m into 64 bytes:
//
//	albedo.xyz  specularChance
//	emission.xyz  specularRoughness
//	absorbance.xyz  refractionChance
//	refractionRoughness  ior  pad  pad
func encodeMaterial(dst []byte, m Material) {
	putVec3(dst, 0, m.Albedo)
	putFloat(dst, 12, m.SpecularChance)
	putVec3(dst, 16, m.Emission)
	putFloat(dst, 28, m.SpecularRoughness)
	putVec3(dst, 32, m.AbsorbanceColor)
	putFloat(dst, 44, m.RefractionChance)
	putFloat(dst, 48, m.RefractionRoughness)
	putFloat(dst, 52, m.IOR)
	putFloat(dst, 56, 0)
	putFloat(dst, 60, 0)
}

// DecodeMaterial reads a material record written by the instance encoder.
func DecodeMaterial(src []byte) Material {
	return Material{
		Albedo:              getVec3(src, 0),
		SpecularChance:      getFloat(src, 12),
		Emission:            getVec3(src, 16),
		SpecularRoughness:   getFloat(src, 28),
		AbsorbanceColor:     getVec3(src, 32),
		RefractionChance:    getFloat(src, 44),
		RefractionRoughness: getFloat(src, 48),
		IOR:                 getFloat(src, 52),
	}
}

// mergeRanges sorts ranges and coalesces the ones that touch or overlap.
func mergeRanges(in []ByteRange) []ByteRange {
	if len(in) < 2 {
		return in
	}
	sort.Slice(in, func(i, j int) bool { return in[i].Offset < in[j].Offset })
	out := in[:1]
	for _, r := range in[1:] {
		last := &out[len(out)-1]
		// соприкасающиеся диапазоны тоже склеиваем в одну загрузку
		if r.Offset <= last.End() {
			if r.End() > last.End() {
				last.Size = r.End() - last.Offset
			}
			continue
		}
		out = append(out, r)
	}
	return out
}
