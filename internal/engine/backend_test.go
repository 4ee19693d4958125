package engine

import (
	"errors"
	"testing"

	"github.com/go-gl/mathgl/mgl32"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseBackend(t *testing.T) {
	for in, want := range map[string]BackendKind{
		"":       BackendHost,
		"host":   BackendHost,
		"CPU":    BackendHost,
		"gl":     BackendGL,
		" GPU ":  BackendGL,
		"opengl": BackendGL,
	} {
		got, err := ParseBackend(in)
		require.NoError(t, err, in)
		assert.Equal(t, want, got, in)
	}
	_, err := ParseBackend("vulkan")
	assert.Error(t, err)
	assert.Equal(t, "gl", BackendGL.String())
	assert.Equal(t, "host", BackendHost.String())
}

func TestSyncUploadsDirtyRanges(t *testing.T) {
	fs := NewFrameState(60, 0.01, 100)
	require.True(t, fs.Resize(8, 8))
	require.True(t, fs.Update(NewCamera(mgl32.Vec3{1, 2, 3})))

	s := NewScene()
	require.NoError(t, s.Add(NewSphere(mgl32.Vec3{}, 1, DefaultMaterial())))
	require.NoError(t, s.Add(NewCuboid(mgl32.Vec3{}, mgl32.Vec3{1, 2, 3}, DefaultMaterial())))

	b := &HostBackend{}
	require.NoError(t, Sync(b, fs, s))
	assert.Equal(t, fs.Block(), b.FrameBlock[:])
	assert.Equal(t, s.InstanceBuffer(), b.Instances[:])
	uploads := b.Uploads
	assert.Equal(t, 3, uploads, "one frame range, one sphere, one cuboid")

	require.NoError(t, Sync(b, fs, s))
	assert.Equal(t, uploads, b.Uploads, "nothing dirty")

	require.NoError(t, s.SetMaterial(s.Objects()[1], Material{IOR: 2}))
	require.NoError(t, Sync(b, fs, s))
	assert.Equal(t, uploads+1, b.Uploads)
	assert.Equal(t, s.InstanceBuffer(), b.Instances[:])
}

type failingBackend struct{ HostBackend }

func (failingBackend) UploadInstances(int, []byte) error { return errors.New("device lost") }

func TestSyncPropagatesErrors(t *testing.T) {
	s := NewScene()
	require.NoError(t, s.Add(NewSphere(mgl32.Vec3{}, 1, DefaultMaterial())))
	err := Sync(&failingBackend{}, nil, s)
	assert.ErrorContains(t, err, "device lost")
}

func TestHostBackendBounds(t *testing.T) {
	b := &HostBackend{}
	assert.Error(t, b.UploadFrameBlock(FrameBlockSize-4, make([]byte, 8)))
	assert.Error(t, b.UploadInstances(-1, make([]byte, 1)))
	assert.NoError(t, b.UploadInstances(InstanceBufferSize-4, make([]byte, 4)))
}
