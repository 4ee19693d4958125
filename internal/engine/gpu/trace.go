package gpu

import (
	"fmt"

	"github.com/go-gl/gl/v3.3-core/gl"

	"github.com/user/gltracer/internal/engine"
)

// DefaultSkySize is the cubemap edge used when baking analytic skies.
const DefaultSkySize = 64

// traceFragmentSrc follows engine.PathTracer: the same primary rays, the
// same nearest-hit rule and BSDF, the same running average. Both blocks
// mirror the host layout byte for byte (std140).
const traceFragmentSrc = `
#version 330 core
layout(std140) uniform FrameBlock {
    mat4 projection;
    mat4 invProjection;
    vec2 nearFar;
    mat4 view;
    mat4 invView;
    mat4 viewProjection;
    vec4 cameraPosition;
    vec4 viewDir;
} frame;

struct Material {
    vec3 albedo;       float specularChance;
    vec3 emission;     float specularRoughness;
    vec3 absorbance;   float refractionChance;
    float refractionRoughness; float ior; vec2 pad;
};
struct Sphere { vec3 position; float radius; Material material; };
struct Cuboid { vec3 position; float pad0; vec3 halfExtents; float pad1; Material material; };

layout(std140) uniform InstanceBlock {
    Sphere spheres[256];
    Cuboid cuboids[64];
} instances;

uniform sampler2D uPrev;
uniform samplerCube uSky;
uniform int uSample;          // кадров уже в среднем; 0 = перезапись
uniform uint uSeed;
uniform int uRayDepth;
uniform int uSamplesPerFrame;
uniform float uFocalLength;
uniform float uAperture;
uniform int uNumSpheres;      // записи за пределами счётчиков обнулены
uniform int uNumCuboids;
uniform vec2 uResolution;

out vec4 fragColor;

const float EPSILON = 0.005;
const float PI = 3.14159265359;
const float FLT_MAX = 3.402823466e38;

uint hashU(uint x) {
    x ^= x >> 17;
    x *= 0xed5ad4bbU;
    x ^= x >> 11;
    x *= 0xac4c1b51U;
    x ^= x >> 15;
    x *= 0x31848babU;
    x ^= x >> 14;
    return x;
}

float rnd(inout uint state) {
    state = hashU(state);
    return float(state) / 4294967296.0;
}

bool hitSphere(Sphere s, vec3 ro, vec3 rd, out float t1, out float t2) {
    vec3 oc = ro - s.position;
    float b = dot(oc, rd);
    float c = dot(oc, oc) - s.radius * s.radius;
    float disc = b * b - c;
    t1 = 0.0;
    t2 = 0.0;
    if (disc < 0.0) return false;
    float sq = sqrt(disc);
    t1 = -b - sq;
    t2 = -b + sq;
    return true;
}

bool hitCuboid(Cuboid c, vec3 ro, vec3 rd, out float t1, out float t2) {
    vec3 bmin = c.position - c.halfExtents;
    vec3 bmax = c.position + c.halfExtents;
    t1 = -FLT_MAX;
    t2 = FLT_MAX;
    for (int i = 0; i < 3; i++) {
        if (rd[i] == 0.0) {
            // луч параллелен паре граней
            if (ro[i] < bmin[i] || ro[i] > bmax[i]) return false;
            continue;
        }
        float inv = 1.0 / rd[i];
        float a = (bmin[i] - ro[i]) * inv;
        float b = (bmax[i] - ro[i]) * inv;
        t1 = max(t1, min(a, b));
        t2 = min(t2, max(a, b));
    }
    return t1 <= t2;
}

vec3 cuboidNormal(Cuboid c, vec3 p) {
    vec3 local = p - c.position;
    vec3 r = abs(local) / max(c.halfExtents, vec3(1e-20));
    if (r.x >= r.y && r.x >= r.z) return vec3(sign(local.x), 0.0, 0.0);
    if (r.y >= r.z) return vec3(0.0, sign(local.y), 0.0);
    return vec3(0.0, 0.0, sign(local.z));
}

// Ближайшее попадание: ключ t1, если t1 >= 0, иначе t2 (луч изнутри).
bool rayTrace(vec3 ro, vec3 rd, out float t1, out float t2, out vec3 normal, out Material mat) {
    float best = FLT_MAX;
    bool found = false;
    for (int i = 0; i < uNumSpheres; i++) {
        float a, b;
        if (!hitSphere(instances.spheres[i], ro, rd, a, b) || !(b > 0.0)) continue;
        float t = a >= 0.0 ? a : b;
        if (t < best) {
            best = t;
            t1 = a;
            t2 = b;
            normal = normalize(ro + rd * t - instances.spheres[i].position);
            mat = instances.spheres[i].material;
            found = true;
        }
    }
    for (int i = 0; i < uNumCuboids; i++) {
        float a, b;
        if (!hitCuboid(instances.cuboids[i], ro, rd, a, b) || !(b > 0.0)) continue;
        float t = a >= 0.0 ? a : b;
        if (t < best) {
            best = t;
            t1 = a;
            t2 = b;
            normal = cuboidNormal(instances.cuboids[i], ro + rd * t);
            mat = instances.cuboids[i].material;
            found = true;
        }
    }
    return found;
}

float fresnelSchlick(float n1, float n2, vec3 normal, vec3 incident, float f0, float f90) {
    float r0 = (n1 - n2) / (n1 + n2);
    r0 *= r0;
    float cosX = -dot(normal, incident);
    if (n1 > n2) {
        float n = n1 / n2;
        float sinT2 = n * n * (1.0 - cosX * cosX);
        if (sinT2 > 1.0) return f90;
        cosX = sqrt(1.0 - sinT2);
    }
    float x = 1.0 - cosX;
    float ret = r0 + (1.0 - r0) * x * x * x * x * x;
    return mix(f0, f90, ret);
}

vec3 cosineHemisphere(vec3 n, inout uint state) {
    float r1 = rnd(state);
    float r2 = rnd(state);
    float phi = 2.0 * PI * r1;
    float cosTheta = sqrt(r2);
    float sinTheta = sqrt(1.0 - r2);
    vec3 helper = abs(n.x) > 0.9 ? vec3(0.0, 1.0, 0.0) : vec3(1.0, 0.0, 0.0);
    vec3 v = normalize(cross(n, helper));
    vec3 u = cross(v, n);
    return u * sinTheta * cos(phi) + v * sinTheta * sin(phi) + n * cosTheta;
}

vec3 radiance(vec3 ro, vec3 rd, inout uint state) {
    vec3 color = vec3(0.0);
    vec3 throughput = vec3(1.0);
    for (int depth = 0; depth < uRayDepth; depth++) {
        float t1, t2;
        vec3 normal;
        Material m;
        if (!rayTrace(ro, rd, t1, t2, normal, m)) {
            color += throughput * texture(uSky, rd).rgb;
            break;
        }
        bool fromInside = t1 < 0.0;
        float t = fromInside ? t2 : t1;
        vec3 point = ro + rd * t;
        if (fromInside) {
            normal = -normal;
            // Бугер-Ламберт по пройденному внутри расстоянию
            throughput *= exp(-m.absorbance * t);
        }
        color += m.emission * throughput;

        float spec = m.specularChance;
        float refr = m.refractionChance;
        if (spec >= 1.0) {
            refr = 0.0;
        } else if (spec > 0.0) {
            float n1 = fromInside ? m.ior : 1.0;
            float n2 = fromInside ? 1.0 : m.ior;
            float adjusted = fresnelSchlick(n1, n2, normal, rd, spec, 1.0);
            refr *= (1.0 - adjusted) / (1.0 - spec);
            spec = adjusted;
        }

        float roll = rnd(state);
        int branch = 0;
        float prob = 1.0 - spec - refr;
        if (spec > 0.0 && roll < spec) {
            branch = 1;
            prob = spec;
        } else if (refr > 0.0 && roll < spec + refr) {
            branch = 2;
            prob = refr;
        }
        prob = max(prob, 0.001);

        vec3 dir;
        if (branch == 1) {
            float r = m.specularRoughness;
            dir = normalize(mix(reflect(rd, normal), cosineHemisphere(normal, state), r * r));
        } else if (branch == 2) {
            float r = m.refractionRoughness;
            float eta = fromInside ? m.ior : 1.0 / m.ior;
            vec3 refracted = refract(rd, normal, eta);
            if (dot(refracted, refracted) == 0.0) {
                // полное внутреннее отражение
                branch = 1;
                dir = normalize(mix(reflect(rd, normal), cosineHemisphere(normal, state), r * r));
            } else {
                dir = normalize(mix(refracted, cosineHemisphere(-normal, state), r * r));
            }
        } else {
            dir = cosineHemisphere(normal, state);
        }

        if (branch == 2) {
            ro = point - normal * EPSILON;
        } else {
            ro = point + normal * EPSILON;
            throughput *= m.albedo;
        }
        throughput /= prob;
        rd = dir;
    }
    return color;
}

vec3 direction(vec2 px) {
    vec2 ndc = vec2(px.x / uResolution.x * 2.0 - 1.0, 1.0 - px.y / uResolution.y * 2.0);
    vec4 eye = frame.invProjection * vec4(ndc, -1.0, 1.0);
    vec4 world = frame.invView * vec4(eye.xy, -1.0, 0.0);
    return normalize(world.xyz);
}

void primaryRay(vec2 pixel, inout uint state, out vec3 ro, out vec3 rd) {
    vec2 jitter = vec2(rnd(state), rnd(state));
    vec3 dir = direction(pixel + jitter);
    ro = frame.cameraPosition.xyz;
    rd = dir;
    if (uAperture <= 0.0 || uFocalLength <= 0.0) return;

    vec3 focalPoint = ro + dir * uFocalLength;
    float r = sqrt(rnd(state));
    float theta = 2.0 * PI * rnd(state);
    float lens = uAperture * 0.5;
    ro += frame.invView[0].xyz * (r * cos(theta) * lens) + frame.invView[1].xyz * (r * sin(theta) * lens);
    rd = normalize(focalPoint - ro);
}

void main() {
    // строка текстуры k = строка кадра k сверху, как у загрузки с CPU
    ivec2 pix = ivec2(gl_FragCoord.xy);
    uint state = hashU(uint(pix.x) * 1973u ^ uint(pix.y) * 9277u ^ uSeed);

    vec3 sum = vec3(0.0);
    for (int s = 0; s < uSamplesPerFrame; s++) {
        vec3 ro, rd;
        primaryRay(vec2(pix), state, ro, rd);
        sum += radiance(ro, rd, state);
    }
    vec3 col = sum / float(uSamplesPerFrame);

    vec3 prev = uSample == 0 ? vec3(0.0) : texelFetch(uPrev, pix, 0).rgb;
    if (any(isnan(col)) || any(isinf(col))) {
        fragColor = vec4(prev, 1.0);
        return;
    }
    fragColor = vec4(uSample == 0 ? col : mix(prev, col, 1.0 / float(uSample + 1)), 1.0);
}
`

// TracePass path traces on the GPU into a pair of float textures, reading
// the camera from the presenter's frame block and the objects from its
// instance buffer. It implements engine.DeviceTracer.
type TracePass struct {
	ctx     *Context
	program *Program
	fbo     uint32
	vao     uint32
	sky     uint32
	// accum[front] хранит последнее среднее, во второй пишем следующий кадр
	accum [2]uint32
	front int

	width, height int
}

var _ engine.DeviceTracer = (*TracePass)(nil)

// NewTracePass compiles the trace program, binds it to both of p's uniform
// buffers and uploads env as a cubemap. Either block missing from the
// linked program is an error.
func NewTracePass(p *Presenter, env engine.Environment) (*TracePass, error) {
	ctx := p.ctx
	prog, err := ctx.NewProgram(fullscreenVertexSrc, traceFragmentSrc)
	if err != nil {
		return nil, fmt.Errorf("trace program: %w", err)
	}
	t := &TracePass{ctx: ctx, program: prog}
	if err := prog.BindBlock("FrameBlock", p.frame); err != nil {
		t.Delete()
		return nil, err
	}
	if err := prog.BindBlock("InstanceBlock", p.instances); err != nil {
		t.Delete()
		return nil, err
	}

	gl.GenFramebuffers(1, &t.fbo)
	gl.GenVertexArrays(1, &t.vao)
	gl.GenTextures(2, &t.accum[0])
	gl.GenTextures(1, &t.sky)
	if err := t.SetEnvironment(env); err != nil {
		t.Delete()
		return nil, err
	}

	prog.Use()
	prog.SetInt("uPrev", unitPrev)
	prog.SetInt("uSky", unitSky)
	return t, nil
}

// SetEnvironment bakes env into the sky cubemap. The caller invalidates
// accumulation.
func (t *TracePass) SetEnvironment(env engine.Environment) error {
	if env == nil {
		env = engine.SolidEnvironment{}
	}
	size := DefaultSkySize
	if c, ok := env.(*engine.CubemapEnvironment); ok {
		size = c.Size()
	}
	cube, err := engine.BakeCubemap(env, size)
	if err != nil {
		return fmt.Errorf("bake sky: %w", err)
	}

	t.ctx.Cache.BindTexture(unitSky, t.sky, func(unit, id uint32) {
		gl.ActiveTexture(gl.TEXTURE0 + unit)
		gl.BindTexture(gl.TEXTURE_CUBE_MAP, id)
	})
	// куб в линейном цвете, как и на CPU
	pix := make([]float32, 3*size*size)
	for face := 0; face < 6; face++ {
		for i, c := range cube.Face(face) {
			pix[3*i], pix[3*i+1], pix[3*i+2] = c[0], c[1], c[2]
		}
		gl.TexImage2D(gl.TEXTURE_CUBE_MAP_POSITIVE_X+uint32(face), 0, gl.RGB32F,
			int32(size), int32(size), 0, gl.RGB, gl.FLOAT, gl.Ptr(pix))
	}
	gl.TexParameteri(gl.TEXTURE_CUBE_MAP, gl.TEXTURE_MIN_FILTER, gl.NEAREST)
	gl.TexParameteri(gl.TEXTURE_CUBE_MAP, gl.TEXTURE_MAG_FILTER, gl.NEAREST)
	gl.TexParameteri(gl.TEXTURE_CUBE_MAP, gl.TEXTURE_WRAP_S, gl.CLAMP_TO_EDGE)
	gl.TexParameteri(gl.TEXTURE_CUBE_MAP, gl.TEXTURE_WRAP_T, gl.CLAMP_TO_EDGE)
	gl.TexParameteri(gl.TEXTURE_CUBE_MAP, gl.TEXTURE_WRAP_R, gl.CLAMP_TO_EDGE)
	return nil
}

func (t *TracePass) bindAccum(unit, id uint32) {
	t.ctx.Cache.BindTexture(unit, id, func(unit, id uint32) {
		gl.ActiveTexture(gl.TEXTURE0 + unit)
		gl.BindTexture(gl.TEXTURE_2D, id)
	})
}

func (t *TracePass) bindFramebuffer() {
	t.ctx.Cache.BindFramebuffer(gl.FRAMEBUFFER, t.fbo, func(target, id uint32) {
		gl.BindFramebuffer(target, id)
	})
}

// resize reallocates both accumulation textures.
func (t *TracePass) resize(width, height int) error {
	t.width, t.height = width, height
	t.bindFramebuffer()
	for _, id := range t.accum {
		t.bindAccum(unitPrev, id)
		gl.TexImage2D(gl.TEXTURE_2D, 0, gl.RGBA32F, int32(width), int32(height), 0, gl.RGBA, gl.FLOAT, nil)
		gl.TexParameteri(gl.TEXTURE_2D, gl.TEXTURE_MIN_FILTER, gl.NEAREST)
		gl.TexParameteri(gl.TEXTURE_2D, gl.TEXTURE_MAG_FILTER, gl.NEAREST)

		gl.FramebufferTexture2D(gl.FRAMEBUFFER, gl.COLOR_ATTACHMENT0, gl.TEXTURE_2D, id, 0)
		if st := gl.CheckFramebufferStatus(gl.FRAMEBUFFER); st != gl.FRAMEBUFFER_COMPLETE {
			return fmt.Errorf("accumulation framebuffer incomplete: 0x%x", st)
		}
	}
	return nil
}

// TraceFrame implements engine.DeviceTracer. The frame block and instance
// buffer must already hold f's data.
func (t *TracePass) TraceFrame(f engine.DeviceFrame) error {
	w, h := f.Frame.Width, f.Frame.Height
	if w <= 0 || h <= 0 {
		return engine.ErrNoFrame
	}
	sample := f.Sample
	if w != t.width || h != t.height {
		if err := t.resize(w, h); err != nil {
			return err
		}
		sample = 0
	}

	back := 1 - t.front
	t.bindFramebuffer()
	gl.FramebufferTexture2D(gl.FRAMEBUFFER, gl.COLOR_ATTACHMENT0, gl.TEXTURE_2D, t.accum[back], 0)
	gl.Viewport(0, 0, int32(w), int32(h))
	t.bindAccum(unitPrev, t.accum[t.front])

	opts := f.Tracer
	samples := opts.SamplesPerFrame
	if samples < 1 {
		samples = 1
	}
	p := t.program
	p.Use()
	p.SetInt("uSample", int32(sample))
	p.SetUint("uSeed", frameSeed(opts.Seed, f.Index))
	p.SetInt("uRayDepth", int32(max(opts.RayDepth, 1)))
	p.SetInt("uSamplesPerFrame", int32(samples))
	p.SetFloat("uFocalLength", opts.FocalLength)
	p.SetFloat("uAperture", opts.Aperture)
	p.SetInt("uNumSpheres", int32(min(f.Spheres, engine.MaxSpheres)))
	p.SetInt("uNumCuboids", int32(min(f.Cuboids, engine.MaxCuboids)))
	p.SetVec2("uResolution", float32(w), float32(h))

	t.ctx.Cache.BindVertexArray(t.vao, gl.BindVertexArray)
	gl.DrawArrays(gl.TRIANGLES, 0, 3)
	t.front = back
	return nil
}

// frameSeed mixes the configured seed with the frame index.
func frameSeed(seed, index uint64) uint32 {
	x := seed*0x9e3779b97f4a7c15 + index
	x ^= x >> 33
	x *= 0xff51afd7ed558ccd
	x ^= x >> 33
	return uint32(x)
}

// Texture is the accumulation texture holding the latest average.
func (t *TracePass) Texture() uint32 { return t.accum[t.front] }

// Size is the accumulation resolution, 0x0 before the first frame.
func (t *TracePass) Size() (int, int) { return t.width, t.height }

// Delete frees every GL object. It is safe on a partly built TracePass.
func (t *TracePass) Delete() {
	for _, id := range append(t.accum[:], t.sky) {
		if id != 0 {
			gl.DeleteTextures(1, &id)
			t.ctx.Cache.Forget(id)
		}
	}
	if t.fbo != 0 {
		gl.DeleteFramebuffers(1, &t.fbo)
		t.ctx.Cache.Forget(t.fbo)
	}
	if t.vao != 0 {
		gl.DeleteVertexArrays(1, &t.vao)
		t.ctx.Cache.Forget(t.vao)
	}
	t.program.Delete()
}
