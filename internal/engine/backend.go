package engine

import (
	"fmt"
	"strings"
)

// BackendKind selects where frames are presented.
type BackendKind int

const (
	// BackendHost keeps GPU-bound data in memory only (headless runs, tests).
	BackendHost BackendKind = iota
	// BackendGL uploads to OpenGL uniform buffers and draws to a window.
	BackendGL
)

func (k BackendKind) String() string {
	if k == BackendGL {
		return "gl"
	}
	return "host"
}

// ParseBackend accepts "host" or "gl". Unknown values fall back to host
// with an error describing the input.
func ParseBackend(s string) (BackendKind, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "host", "cpu":
		return BackendHost, nil
	case "gl", "gpu", "opengl":
		return BackendGL, nil
	default:
		return BackendHost, fmt.Errorf("unknown backend %q", s)
	}
}

// Backend receives partial uploads of the per-frame constant block and the
// object instance buffer. Offsets are byte offsets into each buffer.
type Backend interface {
	UploadFrameBlock(offset int, data []byte) error
	UploadInstances(offset int, data []byte) error
}

// Sync pushes every dirty range of frame and scene to b.
func Sync(b Backend, frame *FrameState, scene *Scene) error {
	if frame != nil {
		block := frame.Block()
		for _, r := range frame.TakeDirty() {
			if err := b.UploadFrameBlock(r.Offset, block[r.Offset:r.End()]); err != nil {
				return fmt.Errorf("upload frame block [%d,%d): %w", r.Offset, r.End(), err)
			}
		}
	}
	if scene != nil {
		buf := scene.InstanceBuffer()
		for _, r := range scene.TakeDirty() {
			if err := b.UploadInstances(r.Offset, buf[r.Offset:r.End()]); err != nil {
				return fmt.Errorf("upload instances [%d,%d): %w", r.Offset, r.End(), err)
			}
		}
	}
	return nil
}

// HostBackend mirrors uploads into memory.
type HostBackend struct {
	FrameBlock [FrameBlockSize]byte
	Instances  [InstanceBufferSize]byte
	// Uploads counts calls, for diagnostics.
	Uploads int
}

func (h *HostBackend) UploadFrameBlock(offset int, data []byte) error {
	if offset < 0 || offset+len(data) > len(h.FrameBlock) {
		return fmt.Errorf("range [%d,%d) outside frame block", offset, offset+len(data))
	}
	copy(h.FrameBlock[offset:], data)
	h.Uploads++
	return nil
}

func (h *HostBackend) UploadInstances(offset int, data []byte) error {
	if offset < 0 || offset+len(data) > len(h.Instances) {
		return fmt.Errorf("range [%d,%d) outside instance buffer", offset, offset+len(data))
	}
	copy(h.Instances[offset:], data)
	h.Uploads++
	return nil
}
