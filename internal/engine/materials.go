package engine

import (
	"math/rand/v2"

	"github.com/chewxy/math32"
	"github.com/go-gl/mathgl/mgl32"
	"github.com/lucasb-eyer/go-colorful"
)

// Material describes how a surface scatters light. SpecularChance and
// RefractionChance need not sum to one; the remainder is diffuse.
type Material struct {
	Albedo              mgl32.Vec3
	Emission            mgl32.Vec3
	SpecularChance      float32
	SpecularRoughness   float32
	IOR                 float32
	RefractionChance    float32
	RefractionRoughness float32
	// AbsorbanceColor tints transmitted light per unit distance inside the medium.
	AbsorbanceColor mgl32.Vec3
}

// DefaultMaterial is a plain light-grey diffuse surface.
func DefaultMaterial() Material {
	return Material{
		Albedo: mgl32.Vec3{0.8, 0.8, 0.8},
		IOR:    1,
	}
}

// DiffuseChance is the probability left over for the diffuse branch.
func (m Material) DiffuseChance() float32 {
	return math32.Max(0, 1-m.SpecularChance-m.RefractionChance)
}

// IsEmissive reports whether the material emits any light.
func (m Material) IsEmissive() bool {
	return m.Emission[0] > 0 || m.Emission[1] > 0 || m.Emission[2] > 0
}

// Sanitized clamps every field into its valid range. Chances are clamped
// individually and refraction is trimmed so the two never exceed one.
func (m Material) Sanitized() Material {
	for i := 0; i < 3; i++ {
		m.Albedo[i] = clamp(nanToZero(m.Albedo[i]), 0, 1)
		m.Emission[i] = math32.Max(0, nanToZero(m.Emission[i]))
		m.AbsorbanceColor[i] = math32.Max(0, nanToZero(m.AbsorbanceColor[i]))
	}
	m.SpecularChance = clamp(nanToZero(m.SpecularChance), 0, 1)
	m.SpecularRoughness = clamp(nanToZero(m.SpecularRoughness), 0, 1)
	m.RefractionChance = clamp(nanToZero(m.RefractionChance), 0, 1-m.SpecularChance)
	m.RefractionRoughness = clamp(nanToZero(m.RefractionRoughness), 0, 1)
	if !(m.IOR > 0) || math32.IsInf(m.IOR, 0) {
		m.IOR = 1
	}
	return m
}

func nanToZero(x float32) float32 {
	if math32.IsNaN(x) {
		return 0
	}
	return x
}

// RandomMaterial draws a material with a saturated albedo. One in five is
// a light source.
func RandomMaterial(rng *rand.Rand) Material {
	hue := rng.Float64() * 360
	c := colorful.Hsv(hue, 0.4+rng.Float64()*0.6, 0.5+rng.Float64()*0.5)

	m := Material{
		Albedo:            mgl32.Vec3{float32(c.R), float32(c.G), float32(c.B)},
		SpecularChance:    rng.Float32(),
		SpecularRoughness: rng.Float32(),
		IOR:               1 + rng.Float32()*0.8,
	}
	m.RefractionChance = rng.Float32() * (1 - m.SpecularChance)
	m.RefractionRoughness = rng.Float32()
	m.AbsorbanceColor = mgl32.Vec3{rng.Float32(), rng.Float32(), rng.Float32()}

	if rng.IntN(5) == 0 {
		e := colorful.Hsv(rng.Float64()*360, 0.3, 1)
		power := 1 + rng.Float32()*4
		m.Emission = mgl32.Vec3{float32(e.R), float32(e.G), float32(e.B)}.Mul(power)
	}
	return m
}

type branch int

const (
	branchDiffuse branch = iota
	branchSpecular
	branchRefraction
)

func (b branch) String() string {
	switch b {
	case branchSpecular:
		return "specular"
	case branchRefraction:
		return "refraction"
	default:
		return "diffuse"
	}
}

// scatterEvent is the outcome of one BSDF sample.
type scatterEvent struct {
	Direction   mgl32.Vec3
	Branch      branch
	Probability float32
}

// minBranchProbability bounds the throughput boost of rarely chosen branches.
const minBranchProbability = 0.001

// fresnelSchlick returns the reflected fraction for light travelling from
// medium n1 into n2, remapped into [f0, f90].
func fresnelSchlick(n1, n2 float32, normal, incident mgl32.Vec3, f0, f90 float32) float32 {
	r0 := (n1 - n2) / (n1 + n2)
	r0 *= r0
	cosX := -normal.Dot(incident)
	if n1 > n2 {
		n := n1 / n2
		sinT2 := n * n * (1 - cosX*cosX)
		if sinT2 > 1 {
			return f90
		}
		cosX = math32.Sqrt(1 - sinT2)
	}
	x := 1 - cosX
	ret := r0 + (1-r0)*x*x*x*x*x
	return f0 + (f90-f0)*ret
}

// branchChances returns the specular and refraction probabilities after the
// Fresnel adjustment. Refraction and diffuse are scaled by the same factor so
// that the three still sum to one.
func (m Material) branchChances(normal, incident mgl32.Vec3, fromInside bool) (spec, refr float32) {
	spec, refr = m.SpecularChance, m.RefractionChance
	if spec <= 0 {
		return spec, refr
	}
	n1, n2 := float32(1), m.IOR
	if fromInside {
		n1, n2 = m.IOR, 1
	}
	adjusted := fresnelSchlick(n1, n2, normal, incident, spec, 1)
	if spec >= 1 {
		return 1, 0
	}
	refr *= (1 - adjusted) / (1 - spec)
	return adjusted, refr
}

// scatter samples an outgoing direction. normal faces the incoming ray
// (already flipped for hits from inside the medium).
func (m Material) scatter(incident, normal mgl32.Vec3, fromInside bool, rng *randSource) scatterEvent {
	spec, refr := m.branchChances(normal, incident, fromInside)

	ev := scatterEvent{Branch: branchDiffuse, Probability: 1 - spec - refr}
	// одна ветка на сэмпл, выбранная с вероятностью её вклада
	roll := rng.Float32()
	switch {
	case spec > 0 && roll < spec:
		ev.Branch, ev.Probability = branchSpecular, spec
	case refr > 0 && roll < spec+refr:
		ev.Branch, ev.Probability = branchRefraction, refr
	}
	// иначе деление на вероятность раздувает выброс
	if ev.Probability < minBranchProbability {
		ev.Probability = minBranchProbability
	}

	diffuse := cosineHemisphere(normal, rng)
	switch ev.Branch {
	case branchSpecular:
		// шероховатость r² смешивает зеркало с диффузным лепестком
		r := m.SpecularRoughness
		ev.Direction = normalize(lerp(reflect(incident, normal), diffuse, r*r))
	case branchRefraction:
		eta := 1 / m.IOR
		if fromInside {
			eta = m.IOR
		}
		dir, ok := refract(incident, normal, eta)
		if !ok {
			// полное внутреннее отражение
			dir = reflect(incident, normal)
			ev.Branch = branchSpecular
		}
		r := m.RefractionRoughness
		scatterAround := normal.Mul(-1)
		if !ok {
			scatterAround = normal
		}
		ev.Direction = normalize(lerp(dir, cosineHemisphere(scatterAround, rng), r*r))
	default:
		ev.Direction = diffuse
	}
	return ev
}
