package scene

import (
	"errors"
	"fmt"
)

// Vec3 represents a simple 3D vector or point.
type Vec3 struct {
	X float32 `json:"x" yaml:"x"`
	Y float32 `json:"y" yaml:"y"`
	Z float32 `json:"z" yaml:"z"`
}

// Color is an RGB color in linear space.
type Color struct {
	R float32 `json:"r" yaml:"r"`
	G float32 `json:"g" yaml:"g"`
	B float32 `json:"b" yaml:"b"`
}

// Camera describes the initial viewpoint.
type Camera struct {
	Position Vec3 `json:"position" yaml:"position"`
	Target   Vec3 `json:"target" yaml:"target"`
	Up       Vec3 `json:"up" yaml:"up"`

	// Aperture and FocusDist override the thin-lens settings when non-zero.
	Aperture  float32 `json:"aperture,omitempty" yaml:"aperture,omitempty"`
	FocusDist float32 `json:"focus_dist,omitempty" yaml:"focus_dist,omitempty"`
}

// Material describes surface properties. Chances and roughness are in
// [0,1]; SpecularChance + RefractionChance above 1 is rejected.
type Material struct {
	ID string `json:"id" yaml:"id"`

	Albedo Color `json:"albedo" yaml:"albedo"`
	Emit   Color `json:"emit" yaml:"emit"`
	// Power multiplies Emit; 0 is treated as 1.
	Power float32 `json:"power,omitempty" yaml:"power,omitempty"`

	SpecularChance      float32 `json:"specular_chance" yaml:"specular_chance"`
	SpecularRoughness   float32 `json:"specular_roughness" yaml:"specular_roughness"`
	IOR                 float32 `json:"ior" yaml:"ior"`
	RefractionChance    float32 `json:"refraction_chance" yaml:"refraction_chance"`
	RefractionRoughness float32 `json:"refraction_roughness" yaml:"refraction_roughness"`

	// Absorption tints light travelling through the medium.
	Absorption Color `json:"absorption" yaml:"absorption"`
}

// ObjectType enumerates supported geometric primitives.
type ObjectType string

const (
	ObjectSphere ObjectType = "sphere"
	ObjectCuboid ObjectType = "cuboid"
	// ObjectBox is accepted as an alias of cuboid.
	ObjectBox ObjectType = "box"
)

// Object is a single entity in the scene.
type Object struct {
	ID   string     `json:"id,omitempty" yaml:"id,omitempty"`
	Type ObjectType `json:"type" yaml:"type"`

	Position Vec3 `json:"position" yaml:"position"`
	// Size holds the radius in X for spheres, full dimensions for cuboids.
	Size Vec3 `json:"size" yaml:"size"`

	MaterialID string `json:"material_id" yaml:"material_id"`
}

// SkyType selects the background model.
type SkyType string

const (
	SkySolid    SkyType = "solid"
	SkyGradient SkyType = "gradient"
	SkyCubemap  SkyType = "cubemap"
)

// Sky describes sky/environment settings.
type Sky struct {
	Type    SkyType `json:"type" yaml:"type"`
	Color   Color   `json:"color" yaml:"color"`     // solid
	Horizon Color   `json:"horizon" yaml:"horizon"` // gradient
	Zenith  Color   `json:"zenith" yaml:"zenith"`   // gradient
	// Faces are +X, -X, +Y, -Y, +Z, -Z image paths, relative to the scene file.
	Faces []string `json:"faces,omitempty" yaml:"faces,omitempty"`
}

// RenderSettings are per-scene overrides; zero keeps the configured value.
type RenderSettings struct {
	RayDepth        int `json:"ray_depth,omitempty" yaml:"ray_depth,omitempty"`
	SamplesPerFrame int `json:"samples_per_frame,omitempty" yaml:"samples_per_frame,omitempty"`
}

// Scene holds everything needed to build a renderable scene.
type Scene struct {
	Name      string         `json:"name" yaml:"name"`
	Camera    Camera         `json:"camera" yaml:"camera"`
	Objects   []Object       `json:"objects" yaml:"objects"`
	Materials []Material     `json:"materials" yaml:"materials"`
	Settings  RenderSettings `json:"settings" yaml:"settings"`
	Sky       *Sky           `json:"sky,omitempty" yaml:"sky,omitempty"`

	// каталог файла сцены, от него считаются относительные пути
	dir string
}

var (
	ErrUnknownMaterial   = errors.New("unknown material")
	ErrUnknownObjectType = errors.New("unknown object type")
	ErrDuplicateID       = errors.New("duplicate id")
	ErrInvalidMaterial   = errors.New("invalid material")
	ErrInvalidObject     = errors.New("invalid object")
	ErrInvalidSky        = errors.New("invalid sky")
)

// Dir is the directory the scene was loaded from, or "".
func (s *Scene) Dir() string { return s.dir }

// MaterialByID returns the material with id.
func (s *Scene) MaterialByID(id string) (Material, bool) {
	for _, m := range s.Materials {
		if m.ID == id {
			return m, true
		}
	}
	return Material{}, false
}

// Validate checks references and value ranges. All problems are joined
// into the returned error.
func (s *Scene) Validate() error {
	var errs []error

	ids := make(map[string]bool, len(s.Materials))
	for i, m := range s.Materials {
		if m.ID == "" {
			errs = append(errs, fmt.Errorf("material #%d: empty id: %w", i, ErrInvalidMaterial))
			continue
		}
		if ids[m.ID] {
			errs = append(errs, fmt.Errorf("material %q: %w", m.ID, ErrDuplicateID))
		}
		ids[m.ID] = true
		if err := m.validate(); err != nil {
			errs = append(errs, fmt.Errorf("material %q: %w", m.ID, err))
		}
	}

	objIDs := make(map[string]bool, len(s.Objects))
	for i, o := range s.Objects {
		name := o.ID
		if name == "" {
			name = fmt.Sprintf("#%d", i)
		} else {
			if objIDs[o.ID] {
				errs = append(errs, fmt.Errorf("object %q: %w", o.ID, ErrDuplicateID))
			}
			objIDs[o.ID] = true
		}
		switch o.Type {
		case ObjectSphere:
			if !(o.Size.X > 0) {
				errs = append(errs, fmt.Errorf("object %s: radius must be positive: %w", name, ErrInvalidObject))
			}
		case ObjectCuboid, ObjectBox:
			if o.Size.X < 0 || o.Size.Y < 0 || o.Size.Z < 0 {
				errs = append(errs, fmt.Errorf("object %s: negative size: %w", name, ErrInvalidObject))
			}
		default:
			errs = append(errs, fmt.Errorf("object %s: %q: %w", name, o.Type, ErrUnknownObjectType))
		}
		if o.MaterialID != "" && !ids[o.MaterialID] {
			errs = append(errs, fmt.Errorf("object %s: %q: %w", name, o.MaterialID, ErrUnknownMaterial))
		}
	}

	if s.Sky != nil {
		switch s.Sky.Type {
		case SkySolid, SkyGradient, "":
		case SkyCubemap:
			if len(s.Sky.Faces) != 6 {
				errs = append(errs, fmt.Errorf("cubemap needs 6 faces, got %d: %w", len(s.Sky.Faces), ErrInvalidSky))
			}
		default:
			errs = append(errs, fmt.Errorf("sky type %q: %w", s.Sky.Type, ErrInvalidSky))
		}
	}

	return errors.Join(errs...)
}

func (m Material) validate() error {
	in01 := func(v float32) bool { return v >= 0 && v <= 1 }
	switch {
	case !in01(m.SpecularChance), !in01(m.RefractionChance):
		return fmt.Errorf("chance outside [0,1]: %w", ErrInvalidMaterial)
	case m.SpecularChance+m.RefractionChance > 1:
		return fmt.Errorf("specular + refraction chance above 1: %w", ErrInvalidMaterial)
	case !in01(m.SpecularRoughness), !in01(m.RefractionRoughness):
		return fmt.Errorf("roughness outside [0,1]: %w", ErrInvalidMaterial)
	case m.IOR < 0:
		return fmt.Errorf("negative ior: %w", ErrInvalidMaterial)
	case m.Power < 0:
		return fmt.Errorf("negative power: %w", ErrInvalidMaterial)
	}
	return nil
}
