package gpu

import (
	"fmt"
	"strings"

	"github.com/go-gl/gl/v3.3-core/gl"
)

// Program is a linked shader program.
type Program struct {
	ID  uint32
	ctx *Context

	locations map[string]int32
}

func compileShader(src string, shaderType uint32) (uint32, error) {
	shader := gl.CreateShader(shaderType)
	csources, free := gl.Strs(src + "\x00")
	defer free()
	gl.ShaderSource(shader, 1, csources, nil)
	gl.CompileShader(shader)

	var status int32
	gl.GetShaderiv(shader, gl.COMPILE_STATUS, &status)
	if status == gl.FALSE {
		var logLen int32
		gl.GetShaderiv(shader, gl.INFO_LOG_LENGTH, &logLen)
		log := make([]byte, logLen+1)
		gl.GetShaderInfoLog(shader, logLen, nil, &log[0])
		gl.DeleteShader(shader)
		return 0, fmt.Errorf("shader compile: %s", strings.TrimRight(string(log), "\x00"))
	}
	return shader, nil
}

// NewProgram compiles and links a vertex and fragment shader. The error
// carries the driver's info log.
func (c *Context) NewProgram(vertexSrc, fragmentSrc string) (*Program, error) {
	vs, err := compileShader(vertexSrc, gl.VERTEX_SHADER)
	if err != nil {
		return nil, fmt.Errorf("vertex: %w", err)
	}
	defer gl.DeleteShader(vs)
	fs, err := compileShader(fragmentSrc, gl.FRAGMENT_SHADER)
	if err != nil {
		return nil, fmt.Errorf("fragment: %w", err)
	}
	defer gl.DeleteShader(fs)

	id := gl.CreateProgram()
	gl.AttachShader(id, vs)
	gl.AttachShader(id, fs)
	gl.LinkProgram(id)

	var status int32
	gl.GetProgramiv(id, gl.LINK_STATUS, &status)
	if status == gl.FALSE {
		var logLen int32
		gl.GetProgramiv(id, gl.INFO_LOG_LENGTH, &logLen)
		log := make([]byte, logLen+1)
		gl.GetProgramInfoLog(id, logLen, nil, &log[0])
		gl.DeleteProgram(id)
		return nil, fmt.Errorf("program link: %s", strings.TrimRight(string(log), "\x00"))
	}
	return &Program{ID: id, ctx: c, locations: make(map[string]int32)}, nil
}

// Use makes p current, skipping the call when it already is.
func (p *Program) Use() {
	p.ctx.Cache.UseProgram(p.ID, gl.UseProgram)
}

// BindBlock connects the named uniform block to ub's binding point. A
// block the linker dropped because no stage reads it is an error: uploads
// to it would go nowhere.
func (p *Program) BindBlock(name string, ub *UniformBuffer) error {
	idx := gl.GetUniformBlockIndex(p.ID, gl.Str(name+"\x00"))
	if idx == gl.INVALID_INDEX {
		return fmt.Errorf("uniform block %s is not active in program %d", name, p.ID)
	}
	var size int32
	gl.GetActiveUniformBlockiv(p.ID, idx, gl.UNIFORM_BLOCK_DATA_SIZE, &size)
	if int(size) != ub.Size {
		return fmt.Errorf("uniform block %s is %d bytes, buffer has %d", name, size, ub.Size)
	}
	gl.UniformBlockBinding(p.ID, idx, ub.Point)
	return nil
}

// location caches uniform lookups. -1 (optimized away) is cached too and
// makes the setters no-ops, as in GL.
func (p *Program) location(name string) int32 {
	if loc, ok := p.locations[name]; ok {
		return loc
	}
	loc := gl.GetUniformLocation(p.ID, gl.Str(name+"\x00"))
	p.locations[name] = loc
	return loc
}

// The setters below require p to be current.

func (p *Program) SetInt(name string, v int32) { gl.Uniform1i(p.location(name), v) }

func (p *Program) SetUint(name string, v uint32) { gl.Uniform1ui(p.location(name), v) }

func (p *Program) SetFloat(name string, v float32) { gl.Uniform1f(p.location(name), v) }

func (p *Program) SetVec2(name string, x, y float32) { gl.Uniform2f(p.location(name), x, y) }

// Delete frees the program.
func (p *Program) Delete() {
	gl.DeleteProgram(p.ID)
	p.ctx.Cache.Forget(p.ID)
}
