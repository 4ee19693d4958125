package gpu

import (
	"fmt"
	"image"

	"github.com/go-gl/gl/v3.3-core/gl"

	"github.com/user/gltracer/internal/engine"
)

// Texture units shared by the passes.
const (
	unitImage   = 0
	unitOverlay = 1
	unitPrev    = 2
	unitSky     = 3
)

// Полноэкранный треугольник без вершинного буфера.
const fullscreenVertexSrc = `
#version 330 core
out vec2 vUV;
void main() {
    vec2 pos = vec2((gl_VertexID << 1) & 2, gl_VertexID & 2);
    vUV = vec2(pos.x, 1.0 - pos.y);
    gl_Position = vec4(pos * 2.0 - 1.0, 0.0, 1.0);
}
`

// presentFragmentSrc shows an already tone-mapped 8-bit frame.
const presentFragmentSrc = `
#version 330 core
uniform sampler2D uImage;
in vec2 vUV;
out vec4 fragColor;

void main() {
    fragColor = vec4(texture(uImage, vUV).rgb, 1.0);
}
`

// tonemapFragmentSrc maps a linear accumulation texture to the display,
// the same way engine.PostProcessor does on the host.
const tonemapFragmentSrc = `
#version 330 core
uniform sampler2D uImage;
uniform sampler2D uOverlay;
uniform float uExposure;
uniform float uInvGamma;
uniform int uHasOverlay;
in vec2 vUV;
out vec4 fragColor;

vec3 aces(vec3 x) {
    const float a = 2.51;
    const float b = 0.03;
    const float c = 2.43;
    const float d = 0.59;
    const float e = 0.14;
    return clamp(x * (a * x + b) / (x * (c * x + d) + e), 0.0, 1.0);
}

void main() {
    vec3 c = max(texture(uImage, vUV).rgb * uExposure, vec3(0.0));
    c = pow(aces(c), vec3(uInvGamma));
    if (uHasOverlay != 0) {
        vec4 o = texture(uOverlay, vUV);
        c = mix(c, o.rgb, o.a);
    }
    fragColor = vec4(c, 1.0);
}
`

// Presenter draws frames to the default framebuffer and mirrors the frame
// and instance buffers into uniform buffers read by TracePass. It
// implements engine.Backend.
type Presenter struct {
	ctx       *Context
	present   *Program
	tonemap   *Program
	frame     *UniformBuffer
	instances *UniformBuffer
	texture   uint32
	overlay   uint32
	vao       uint32

	width, height int
}

var _ engine.Backend = (*Presenter)(nil)

// NewPresenter creates the GL resources. A failed shader is fatal for the
// caller since nothing can be shown without it.
func NewPresenter(ctx *Context) (*Presenter, error) {
	p := &Presenter{ctx: ctx}
	var err error
	if p.present, err = ctx.NewProgram(fullscreenVertexSrc, presentFragmentSrc); err != nil {
		return nil, fmt.Errorf("present program: %w", err)
	}
	if p.tonemap, err = ctx.NewProgram(fullscreenVertexSrc, tonemapFragmentSrc); err != nil {
		p.Delete()
		return nil, fmt.Errorf("tonemap program: %w", err)
	}
	if p.frame, err = ctx.NewUniformBuffer(engine.FrameBlockSize); err != nil {
		p.Delete()
		return nil, err
	}
	if p.instances, err = ctx.NewUniformBuffer(engine.InstanceBufferSize); err != nil {
		p.Delete()
		return nil, err
	}

	gl.GenVertexArrays(1, &p.vao)
	gl.GenTextures(1, &p.texture)
	gl.GenTextures(1, &p.overlay)
	for _, unit := range []uint32{unitImage, unitOverlay} {
		tex := p.texture
		if unit == unitOverlay {
			tex = p.overlay
		}
		p.bindTexture(unit, tex)
		gl.TexParameteri(gl.TEXTURE_2D, gl.TEXTURE_MIN_FILTER, gl.NEAREST)
		gl.TexParameteri(gl.TEXTURE_2D, gl.TEXTURE_MAG_FILTER, gl.NEAREST)
		gl.TexParameteri(gl.TEXTURE_2D, gl.TEXTURE_WRAP_S, gl.CLAMP_TO_EDGE)
		gl.TexParameteri(gl.TEXTURE_2D, gl.TEXTURE_WRAP_T, gl.CLAMP_TO_EDGE)
	}

	p.present.Use()
	p.present.SetInt("uImage", unitImage)
	p.tonemap.Use()
	p.tonemap.SetInt("uImage", unitImage)
	p.tonemap.SetInt("uOverlay", unitOverlay)
	return p, nil
}

func (p *Presenter) bindTexture(unit, tex uint32) {
	p.ctx.Cache.BindTexture(unit, tex, func(unit, id uint32) {
		gl.ActiveTexture(gl.TEXTURE0 + unit)
		gl.BindTexture(gl.TEXTURE_2D, id)
	})
}

// UploadFrameBlock implements engine.Backend.
func (p *Presenter) UploadFrameBlock(offset int, data []byte) error {
	return p.frame.SubData(offset, data)
}

// UploadInstances implements engine.Backend.
func (p *Presenter) UploadInstances(offset int, data []byte) error {
	return p.instances.SubData(offset, data)
}

// Resize reallocates the textures and viewport. Zero sizes are ignored.
func (p *Presenter) Resize(width, height int) bool {
	if width <= 0 || height <= 0 {
		return false
	}
	p.width, p.height = width, height
	for _, tex := range []uint32{p.texture, p.overlay} {
		p.bindTexture(unitImage, tex)
		gl.TexImage2D(gl.TEXTURE_2D, 0, gl.RGBA8, int32(width), int32(height), 0, gl.RGBA, gl.UNSIGNED_BYTE, nil)
	}
	return true
}

func (p *Presenter) upload(unit, tex uint32, img *image.RGBA) error {
	b := img.Bounds()
	if b.Dx() != p.width || b.Dy() != p.height {
		return fmt.Errorf("present %dx%d image into %dx%d target", b.Dx(), b.Dy(), p.width, p.height)
	}
	if img.Stride != 4*b.Dx() {
		return fmt.Errorf("present: unexpected stride %d", img.Stride)
	}
	p.bindTexture(unit, tex)
	gl.PixelStorei(gl.UNPACK_ALIGNMENT, 1)
	gl.TexSubImage2D(gl.TEXTURE_2D, 0, 0, 0, int32(p.width), int32(p.height), gl.RGBA, gl.UNSIGNED_BYTE, gl.Ptr(img.Pix))
	return nil
}

func (p *Presenter) draw(prog *Program) {
	p.ctx.Cache.BindFramebuffer(gl.FRAMEBUFFER, 0, func(target, id uint32) {
		gl.BindFramebuffer(target, id)
	})
	gl.Viewport(0, 0, int32(p.width), int32(p.height))
	prog.Use()
	p.ctx.Cache.BindVertexArray(p.vao, gl.BindVertexArray)
	gl.DrawArrays(gl.TRIANGLES, 0, 3)
}

// Present uploads a host-rendered img and draws it over the whole viewport.
func (p *Presenter) Present(img *image.RGBA) error {
	if err := p.upload(unitImage, p.texture, img); err != nil {
		return err
	}
	p.draw(p.present)
	return nil
}

// PresentTrace tone-maps the accumulation texture of t with post and
// composites overlay, which may be nil.
func (p *Presenter) PresentTrace(t *TracePass, post engine.PostProcessOptions, overlay *image.RGBA) error {
	hasOverlay := int32(0)
	if overlay != nil {
		if err := p.upload(unitOverlay, p.overlay, overlay); err != nil {
			return err
		}
		hasOverlay = 1
	}
	invGamma := float32(1)
	if post.Gamma > 0 {
		invGamma = 1 / post.Gamma
	}
	p.bindTexture(unitImage, t.Texture())

	p.tonemap.Use()
	p.tonemap.SetFloat("uExposure", post.Exposure)
	p.tonemap.SetFloat("uInvGamma", invGamma)
	p.tonemap.SetInt("uHasOverlay", hasOverlay)
	p.draw(p.tonemap)
	return nil
}

// Delete frees every GL object. It is safe on a partly built Presenter.
func (p *Presenter) Delete() {
	for _, id := range []*uint32{&p.texture, &p.overlay} {
		if *id != 0 {
			gl.DeleteTextures(1, id)
			p.ctx.Cache.Forget(*id)
		}
	}
	if p.vao != 0 {
		gl.DeleteVertexArrays(1, &p.vao)
		p.ctx.Cache.Forget(p.vao)
	}
	if p.frame != nil {
		p.frame.Delete()
	}
	if p.instances != nil {
		p.instances.Delete()
	}
	if p.present != nil {
		p.present.Delete()
	}
	if p.tonemap != nil {
		p.tonemap.Delete()
	}
}
