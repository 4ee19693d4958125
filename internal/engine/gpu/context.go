// Package gpu traces and presents frames with OpenGL. The trace pass reads
// the frame and instance uniform buffers kept in sync with the host copies.
package gpu

import (
	"fmt"
	"log/slog"

	"github.com/go-gl/gl/v3.3-core/gl"

	"github.com/user/gltracer/internal/engine/gpu/glstate"
)

// Context owns the per-context GL bookkeeping: binding point allocation and
// the redundant-bind cache. Every GL call must happen on the thread that
// made the context current.
type Context struct {
	Bindings *glstate.Bindings
	Cache    *glstate.Cache

	maxUniformBlockSize int
	logger              *slog.Logger
}

// NewContext loads GL function pointers for the current context. A fresh
// Context always starts with an empty cache.
func NewContext(logger *slog.Logger) (*Context, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if err := gl.Init(); err != nil {
		return nil, fmt.Errorf("gl init: %w", err)
	}
	var maxBlock int32
	gl.GetIntegerv(gl.MAX_UNIFORM_BLOCK_SIZE, &maxBlock)

	ctx := &Context{
		Bindings:            glstate.NewBindings(),
		Cache:               glstate.NewCache(),
		maxUniformBlockSize: int(maxBlock),
		logger:              logger,
	}
	logger.Info("gl context ready",
		"version", gl.GoStr(gl.GetString(gl.VERSION)),
		"renderer", gl.GoStr(gl.GetString(gl.RENDERER)),
		"max_uniform_block", maxBlock)
	return ctx, nil
}

// UniformBuffer is a fixed-size buffer bound to one uniform binding point.
type UniformBuffer struct {
	ID    uint32
	Point uint32
	Size  int
	ctx   *Context
}

// NewUniformBuffer allocates size zeroed bytes at a fresh binding point.
func (c *Context) NewUniformBuffer(size int) (*UniformBuffer, error) {
	if c.maxUniformBlockSize > 0 && size > c.maxUniformBlockSize {
		return nil, fmt.Errorf("uniform buffer of %d bytes exceeds GL_MAX_UNIFORM_BLOCK_SIZE %d", size, c.maxUniformBlockSize)
	}
	ub := &UniformBuffer{
		Point: c.Bindings.Next(gl.UNIFORM_BUFFER),
		Size:  size,
		ctx:   c,
	}
	gl.GenBuffers(1, &ub.ID)
	ub.bind()
	gl.BufferData(gl.UNIFORM_BUFFER, size, nil, gl.DYNAMIC_DRAW)
	gl.BindBufferBase(gl.UNIFORM_BUFFER, ub.Point, ub.ID)
	return ub, nil
}

func (ub *UniformBuffer) bind() {
	ub.ctx.Cache.BindBuffer(gl.UNIFORM_BUFFER, ub.ID, func(target, id uint32) {
		gl.BindBuffer(target, id)
	})
}

// SubData writes data at offset.
func (ub *UniformBuffer) SubData(offset int, data []byte) error {
	if offset < 0 || offset+len(data) > ub.Size {
		return fmt.Errorf("uniform buffer %d: range [%d,%d) outside %d bytes", ub.ID, offset, offset+len(data), ub.Size)
	}
	if len(data) == 0 {
		return nil
	}
	ub.bind()
	gl.BufferSubData(gl.UNIFORM_BUFFER, offset, len(data), gl.Ptr(data))
	return nil
}

// Delete frees the buffer and its binding point.
func (ub *UniformBuffer) Delete() {
	gl.DeleteBuffers(1, &ub.ID)
	ub.ctx.Bindings.Release(gl.UNIFORM_BUFFER, ub.Point)
	ub.ctx.Cache.Forget(ub.ID)
}
