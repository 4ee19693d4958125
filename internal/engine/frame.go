package engine

import (
	"github.com/go-gl/mathgl/mgl32"
)

// Projection defaults.
const (
	DefaultFOV     float32 = 103
	DefaultNear    float32 = Epsilon
	DefaultFar     float32 = 200
	minFrameExtent         = 1
)

// FrameData is an immutable snapshot of the camera and projection for one
// frame.
type FrameData struct {
	View           mgl32.Mat4
	InvView        mgl32.Mat4
	Projection     mgl32.Mat4
	InvProjection  mgl32.Mat4
	ViewProjection mgl32.Mat4
	Position       mgl32.Vec3
	ViewDir        mgl32.Vec3
	Near, Far      float32
	Width, Height  int
}

// Valid reports whether the snapshot has a usable resolution.
func (f FrameData) Valid() bool {
	return f.Width >= minFrameExtent && f.Height >= minFrameExtent
}

// Direction returns the world-space direction through the sub-pixel
// position (px, py), measured in pixels from the top-left corner.
func (f FrameData) Direction(px, py float32) mgl32.Vec3 {
	ndcX := px/float32(f.Width)*2 - 1
	ndcY := 1 - py/float32(f.Height)*2

	eye := f.InvProjection.Mul4x1(mgl32.Vec4{ndcX, ndcY, -1, 1})
	world := f.InvView.Mul4x1(mgl32.Vec4{eye[0], eye[1], -1, 0})
	return normalize(world.Vec3())
}

// PrimaryRay is the pinhole ray through the center of pixel (x, y).
func PrimaryRay(f FrameData, x, y int) Ray {
	if !f.Valid() {
		return Ray{}
	}
	return Ray{Origin: f.Position, Direction: f.Direction(float32(x)+0.5, float32(y)+0.5)}
}

// FrameState is the authoritative view/projection state and its packed
// constant block. Camera data is double buffered: Update and Resize write
// the back copy, Swap publishes it, and Snapshot returns the published
// front copy.
type FrameState struct {
	fov, near, far float32

	front, back FrameData
	posed       bool

	block [FrameBlockSize]byte
	dirty []ByteRange
}

// NewFrameState returns a state with the given vertical FOV in degrees.
func NewFrameState(fov, near, far float32) *FrameState {
	fs := &FrameState{fov: fov, near: near, far: far}
	fs.back.View = mgl32.Ident4()
	fs.back.InvView = mgl32.Ident4()
	fs.back.Near, fs.back.Far = near, far
	fs.front = fs.back
	return fs
}

// Resize rebuilds the projection for a new viewport. Zero or negative
// sizes are ignored and return false.
func (fs *FrameState) Resize(width, height int) bool {
	if width < minFrameExtent || height < minFrameExtent {
		return false
	}
	if width == fs.back.Width && height == fs.back.Height {
		return false
	}
	b := &fs.back
	b.Width, b.Height = width, height
	b.Projection = mgl32.Perspective(mgl32.DegToRad(fs.fov), float32(width)/float32(height), fs.near, fs.far)
	b.InvProjection = b.Projection.Inv()
	b.ViewProjection = b.Projection.Mul4(b.View)

	// std140: матрицы по столбцам, near и far в одном vec4
	putMat4(fs.block[:], OffsetProjection, b.Projection)
	putMat4(fs.block[:], OffsetInvProjection, b.InvProjection)
	putFloat(fs.block[:], OffsetNearFar, fs.near)
	putFloat(fs.block[:], OffsetNearFar+4, fs.far)
	putMat4(fs.block[:], OffsetViewProjection, b.ViewProjection)

	fs.dirty = append(fs.dirty, ResizeRange,
		ByteRange{Offset: OffsetViewProjection, Size: 64})
	return true
}

// Update pulls the pose from cam. It returns true when the view changed,
// which is the signal to discard accumulated samples.
func (fs *FrameState) Update(cam *Camera) bool {
	view := cam.View()
	// камера не сдвинулась, блок и накопление остаются
	if fs.posed && view.ApproxEqual(fs.back.View) && cam.Position.ApproxEqual(fs.back.Position) {
		return false
	}
	fs.posed = true

	b := &fs.back
	b.View = view
	b.InvView = view.Inv()
	b.ViewProjection = b.Projection.Mul4(view)
	b.Position = cam.Position
	b.ViewDir = cam.ViewDir()

	putMat4(fs.block[:], OffsetView, b.View)
	putMat4(fs.block[:], OffsetInvView, b.InvView)
	putMat4(fs.block[:], OffsetViewProjection, b.ViewProjection)
	putVec3(fs.block[:], OffsetCameraPosition, b.Position)
	// vec3 в std140 занимает 16 байт, хвост обнуляем
	putFloat(fs.block[:], OffsetCameraPosition+12, 0)
	putVec3(fs.block[:], OffsetViewDir, b.ViewDir)
	putFloat(fs.block[:], OffsetViewDir+12, 0)

	fs.dirty = append(fs.dirty, CameraRange)
	return true
}

// Swap publishes the back copy.
func (fs *FrameState) Swap() { fs.front = fs.back }

// Snapshot returns the published frame data.
func (fs *FrameState) Snapshot() FrameData { return fs.front }

// Block is the packed constant block. Callers must not modify it.
func (fs *FrameState) Block() []byte { return fs.block[:] }

// TakeDirty returns the merged ranges of the block written since the last call.
func (fs *FrameState) TakeDirty() []ByteRange {
	d := mergeRanges(fs.dirty)
	fs.dirty = nil
	return d
}
