package engine

import (
	"math/rand/v2"
	"testing"

	"github.com/chewxy/math32"
	"github.com/go-gl/mathgl/mgl32"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSanitized(t *testing.T) {
	m := Material{
		Albedo:           mgl32.Vec3{math32.NaN(), 2, -1},
		Emission:         mgl32.Vec3{-3, 5, 0},
		SpecularChance:   0.8,
		RefractionChance: 0.5,
		IOR:              -1,
	}.Sanitized()

	assert.Equal(t, mgl32.Vec3{0, 1, 0}, m.Albedo)
	assert.Equal(t, mgl32.Vec3{0, 5, 0}, m.Emission)
	assert.InDelta(t, 0.8, m.SpecularChance, 1e-6)
	assert.InDelta(t, 0.2, m.RefractionChance, 1e-6)
	assert.Equal(t, float32(1), m.IOR)
	assert.InDelta(t, 0, m.DiffuseChance(), 1e-6)
	assert.True(t, m.IsEmissive())
	assert.False(t, DefaultMaterial().IsEmissive())
}

func TestBranchChancesKeepDiffuseRatio(t *testing.T) {
	m := DefaultMaterial()
	m.SpecularChance = 0.5
	m.RefractionChance = 0.3
	m.IOR = 1.5

	normal := mgl32.Vec3{0, 1, 0}
	incident := mgl32.Vec3{0, -1, 0}
	spec, refr := m.branchChances(normal, incident, false)

	// по нормали стекло отражает 4%
	assert.InDelta(t, 0.52, spec, 1e-5)
	factor := (1 - spec) / (1 - m.SpecularChance)
	assert.InDelta(t, 0.3*factor, refr, 1e-5)
	assert.InDelta(t, 0.2*factor, 1-spec-refr, 1e-5)

	// скользящий луч почти весь отражается
	grazing := mgl32.Vec3{1, -0.01, 0}.Normalize()
	spec, refr = m.branchChances(normal, grazing, false)
	assert.Greater(t, spec, float32(0.9))
	assert.GreaterOrEqual(t, refr, float32(0))
	assert.Less(t, refr, float32(0.3))

	// без зеркальной доли Френель не применяется
	m.SpecularChance = 0
	spec, refr = m.branchChances(normal, grazing, false)
	assert.Equal(t, float32(0), spec)
	assert.Equal(t, float32(0.3), refr)
}

func TestFresnelSchlickTotalInternalReflection(t *testing.T) {
	normal := mgl32.Vec3{0, 1, 0}
	incident := mgl32.Vec3{1, -0.2, 0}.Normalize()
	assert.Equal(t, float32(1), fresnelSchlick(1.5, 1, normal, incident, 0.1, 1))
	assert.Less(t, fresnelSchlick(1, 1.5, normal, incident, 0, 1), float32(1))
}

func TestScatterMirror(t *testing.T) {
	m := Material{Albedo: mgl32.Vec3{1, 1, 1}, SpecularChance: 1, IOR: 1}
	rng := newRandSource(1, 0)
	incident := mgl32.Vec3{1, -1, 0}.Normalize()

	ev := m.scatter(incident, mgl32.Vec3{0, 1, 0}, false, rng)
	assert.Equal(t, branchSpecular, ev.Branch)
	assert.Equal(t, float32(1), ev.Probability)
	assertVec(t, mgl32.Vec3{1, 1, 0}.Normalize(), ev.Direction, 1e-5)
}

func TestScatterRefraction(t *testing.T) {
	m := Material{RefractionChance: 1, IOR: 1.5}
	rng := newRandSource(1, 0)

	ev := m.scatter(mgl32.Vec3{0, -1, 0}, mgl32.Vec3{0, 1, 0}, false, rng)
	assert.Equal(t, branchRefraction, ev.Branch)
	assert.Equal(t, float32(1), ev.Probability)
	assertVec(t, mgl32.Vec3{0, -1, 0}, ev.Direction, 1e-5)

	// на входе луч преломляется к нормали
	in := mgl32.Vec3{1, -1, 0}.Normalize()
	ev = m.scatter(in, mgl32.Vec3{0, 1, 0}, false, rng)
	require.Equal(t, branchRefraction, ev.Branch)
	assert.Less(t, ev.Direction[1], float32(0))
	assert.Less(t, ev.Direction[0], in[0])

	// за критическим углом внутри среды луч отражается
	grazing := mgl32.Vec3{1, -0.2, 0}.Normalize()
	ev = m.scatter(grazing, mgl32.Vec3{0, 1, 0}, true, rng)
	assert.Equal(t, branchSpecular, ev.Branch)
	assertVec(t, mgl32.Vec3{grazing[0], -grazing[1], 0}, ev.Direction, 1e-5)
}

func TestScatterDiffuseHemisphere(t *testing.T) {
	m := DefaultMaterial()
	rng := newRandSource(7, 3)
	normal := mgl32.Vec3{0, 0, 1}

	var mean mgl32.Vec3
	const n = 2000
	for i := 0; i < n; i++ {
		ev := m.scatter(mgl32.Vec3{0, 0, -1}, normal, false, rng)
		require.Equal(t, branchDiffuse, ev.Branch)
		require.Equal(t, float32(1), ev.Probability)
		require.GreaterOrEqual(t, ev.Direction.Dot(normal), float32(-1e-6))
		require.InDelta(t, 1, ev.Direction.Len(), 1e-4)
		mean = mean.Add(ev.Direction)
	}
	mean = mean.Mul(1.0 / n)
	// E[cos] для косинусной полусферы равно 2/3
	assert.InDelta(t, 2.0/3.0, mean[2], 0.03)
	assert.InDelta(t, 0, mean[0], 0.05)
}

func TestScatterProbabilityFloor(t *testing.T) {
	m := Material{SpecularChance: 0.9995, IOR: 1}
	rng := newRandSource(3, 0)
	for i := 0; i < 200; i++ {
		ev := m.scatter(mgl32.Vec3{0, -1, 0}, mgl32.Vec3{0, 1, 0}, false, rng)
		assert.GreaterOrEqual(t, ev.Probability, float32(minBranchProbability))
	}
}

func TestRandomMaterial(t *testing.T) {
	rng := rand.New(rand.NewPCG(1, 2))
	emissive := 0
	for i := 0; i < 500; i++ {
		m := RandomMaterial(rng)
		assert.Equal(t, m, m.Sanitized(), "random materials are already valid")
		if m.IsEmissive() {
			emissive++
		}
	}
	// примерно каждый пятый
	assert.InDelta(t, 100, emissive, 40)
}

func TestBranchString(t *testing.T) {
	assert.Equal(t, "diffuse", branchDiffuse.String())
	assert.Equal(t, "specular", branchSpecular.String())
	assert.Equal(t, "refraction", branchRefraction.String())
}
