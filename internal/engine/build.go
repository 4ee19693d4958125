package engine

import (
	"errors"
	"fmt"

	"github.com/go-gl/mathgl/mgl32"

	"github.com/user/gltracer/internal/scene"
)

func vec(v scene.Vec3) mgl32.Vec3 { return mgl32.Vec3{v.X, v.Y, v.Z} }
func rgb(c scene.Color) mgl32.Vec3 { return mgl32.Vec3{c.R, c.G, c.B} }

// ConvertMaterial maps a scene material to the renderer's material.
func ConvertMaterial(m scene.Material) Material {
	power := m.Power
	if power == 0 {
		power = 1
	}
	ior := m.IOR
	if ior == 0 {
		ior = 1
	}
	return Material{
		Albedo:              rgb(m.Albedo),
		Emission:            rgb(m.Emit).Mul(power),
		SpecularChance:      m.SpecularChance,
		SpecularRoughness:   m.SpecularRoughness,
		IOR:                 ior,
		RefractionChance:    m.RefractionChance,
		RefractionRoughness: m.RefractionRoughness,
		AbsorbanceColor:     rgb(m.Absorption),
	}.Sanitized()
}

// ErrGeometryChanged is returned by ApplyMaterials when an object moved,
// changed size or changed type. Such edits need BuildScene.
var ErrGeometryChanged = errors.New("scene geometry changed")

// materialFor resolves the material of desc.Objects[i].
func materialFor(desc *scene.Scene, i int) (Material, error) {
	o := desc.Objects[i]
	if o.MaterialID == "" {
		return DefaultMaterial(), nil
	}
	sm, ok := desc.MaterialByID(o.MaterialID)
	if !ok {
		return Material{}, fmt.Errorf("object #%d: %q: %w", i, o.MaterialID, scene.ErrUnknownMaterial)
	}
	return ConvertMaterial(sm), nil
}

// objectFor converts desc.Objects[i] into an unregistered object.
func objectFor(desc *scene.Scene, i int) (GameObject, error) {
	m, err := materialFor(desc, i)
	if err != nil {
		return nil, err
	}
	o := desc.Objects[i]
	switch o.Type {
	case scene.ObjectSphere:
		return NewSphere(vec(o.Position), o.Size.X, m), nil
	case scene.ObjectCuboid, scene.ObjectBox:
		return NewCuboid(vec(o.Position), vec(o.Size), m), nil
	default:
		return nil, fmt.Errorf("object #%d: %q: %w", i, o.Type, scene.ErrUnknownObjectType)
	}
}

// BuildScene registers every object of desc. Objects without a material
// use DefaultMaterial. Capacity errors abort the build.
func BuildScene(desc *scene.Scene) (*Scene, error) {
	s := NewScene()
	for i := range desc.Objects {
		obj, err := objectFor(desc, i)
		if err != nil {
			return nil, err
		}
		if err := s.Add(obj); err != nil {
			return nil, fmt.Errorf("build scene: %w", err)
		}
	}
	return s, nil
}

// ApplyMaterials rewrites the materials of s from desc, matching objects by
// position in the list. It is used for live reloads. Any geometry edit
// returns ErrGeometryChanged before a material is touched, so the caller
// can rebuild from a consistent scene. It returns how many objects were
// updated.
func ApplyMaterials(s *Scene, desc *scene.Scene) (int, error) {
	objs := s.Objects()
	if len(objs) != len(desc.Objects) {
		return 0, fmt.Errorf("object count changed from %d to %d: %w", len(objs), len(desc.Objects), ErrGeometryChanged)
	}
	next := make([]GameObject, len(objs))
	for i := range desc.Objects {
		obj, err := objectFor(desc, i)
		if err != nil {
			return 0, err
		}
		// тип и AABB однозначно задают и сферу, и кубоид
		if obj.Kind() != objs[i].Kind() || obj.Bounds() != objs[i].Bounds() {
			return 0, fmt.Errorf("object #%d: %w", i, ErrGeometryChanged)
		}
		next[i] = obj
	}

	changed := 0
	for i, obj := range next {
		if objs[i].Material() == obj.Material() {
			continue
		}
		if err := s.SetMaterial(objs[i], obj.Material()); err != nil {
			return changed, err
		}
		changed++
	}
	return changed, nil
}

// EnvironmentFromSky builds the background for desc. A missing sky is a
// white-to-blue gradient.
func EnvironmentFromSky(desc *scene.Scene) (Environment, error) {
	sky := desc.Sky
	if sky == nil {
		return GradientEnvironment{
			Horizon: mgl32.Vec3{1, 1, 1},
			Zenith:  mgl32.Vec3{0.5, 0.7, 1},
		}, nil
	}
	switch sky.Type {
	case scene.SkySolid, "":
		return SolidEnvironment(rgb(sky.Color)), nil
	case scene.SkyGradient:
		return GradientEnvironment{Horizon: rgb(sky.Horizon), Zenith: rgb(sky.Zenith)}, nil
	case scene.SkyCubemap:
		if len(sky.Faces) != 6 {
			return nil, fmt.Errorf("cubemap: %d faces: %w", len(sky.Faces), scene.ErrInvalidSky)
		}
		var paths [6]string
		for i, f := range sky.Faces {
			paths[i] = desc.Resolve(f)
		}
		env, err := LoadCubemap(paths)
		if err != nil {
			return nil, err
		}
		return env, nil
	default:
		return nil, fmt.Errorf("sky type %q: %w", sky.Type, scene.ErrInvalidSky)
	}
}

// CameraFromScene positions a camera per desc.
func CameraFromScene(desc *scene.Scene) *Camera {
	up := vec(desc.Camera.Up)
	if up.Len() == 0 {
		up = mgl32.Vec3{0, 1, 0}
	}
	return CameraLookAt(vec(desc.Camera.Position), vec(desc.Camera.Target), up)
}

// TracerOptionsFor applies the scene's overrides to base.
func TracerOptionsFor(desc *scene.Scene, base TracerOptions) TracerOptions {
	if desc.Settings.RayDepth > 0 {
		base.RayDepth = desc.Settings.RayDepth
	}
	if desc.Settings.SamplesPerFrame > 0 {
		base.SamplesPerFrame = desc.Settings.SamplesPerFrame
	}
	if desc.Camera.Aperture > 0 {
		base.Aperture = desc.Camera.Aperture
	}
	if desc.Camera.FocusDist > 0 {
		base.FocalLength = desc.Camera.FocusDist
	}
	return base
}
