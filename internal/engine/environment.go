package engine

import (
	"errors"
	"fmt"
	"image"
	"image/color"
	_ "image/jpeg"
	_ "image/png"
	"os"

	"github.com/chewxy/math32"
	"github.com/go-gl/mathgl/mgl32"
	_ "golang.org/x/image/bmp"
	_ "golang.org/x/image/webp"
)

// Environment supplies radiance for rays that leave the scene.
type Environment interface {
	Lookup(dir mgl32.Vec3) mgl32.Vec3
}

// EnvironmentFunc adapts a function to Environment.
type EnvironmentFunc func(dir mgl32.Vec3) mgl32.Vec3

func (f EnvironmentFunc) Lookup(dir mgl32.Vec3) mgl32.Vec3 { return f(dir) }

// SolidEnvironment returns the same color in every direction.
type SolidEnvironment mgl32.Vec3

func (s SolidEnvironment) Lookup(mgl32.Vec3) mgl32.Vec3 { return mgl32.Vec3(s) }

// GradientEnvironment blends from Horizon to Zenith by the direction's
// vertical component.
type GradientEnvironment struct {
	Horizon mgl32.Vec3
	Zenith  mgl32.Vec3
}

func (g GradientEnvironment) Lookup(dir mgl32.Vec3) mgl32.Vec3 {
	d := normalize(dir)
	if d.Len() == 0 {
		return g.Horizon
	}
	t := clamp((d[1]+1)*0.5, 0, 1)
	return lerp(g.Horizon, g.Zenith, t)
}

// Cubemap face order, matching GL_TEXTURE_CUBE_MAP_POSITIVE_X onwards.
const (
	FacePosX = iota
	FaceNegX
	FacePosY
	FaceNegY
	FacePosZ
	FaceNegZ
)

var ErrCubemapFaces = errors.New("cubemap faces must be six square images of equal size")

// CubemapEnvironment samples six linear-light faces with nearest filtering.
type CubemapEnvironment struct {
	size  int
	faces [6][]mgl32.Vec3
}

// NewCubemapEnvironment converts six sRGB images into a cubemap.
func NewCubemapEnvironment(faces [6]image.Image) (*CubemapEnvironment, error) {
	size := faces[0].Bounds().Dx()
	if size == 0 {
		return nil, ErrCubemapFaces
	}
	env := &CubemapEnvironment{size: size}
	for i, img := range faces {
		b := img.Bounds()
		if b.Dx() != size || b.Dy() != size {
			return nil, fmt.Errorf("face %d is %dx%d: %w", i, b.Dx(), b.Dy(), ErrCubemapFaces)
		}
		texels := make([]mgl32.Vec3, size*size)
		for y := 0; y < size; y++ {
			for x := 0; x < size; x++ {
				c := color.NRGBAModel.Convert(img.At(b.Min.X+x, b.Min.Y+y)).(color.NRGBA)
				texels[y*size+x] = mgl32.Vec3{
					srgbToLinear(float32(c.R) / 255),
					srgbToLinear(float32(c.G) / 255),
					srgbToLinear(float32(c.B) / 255),
				}
			}
		}
		env.faces[i] = texels
	}
	return env, nil
}

// LoadCubemap decodes six face images (png, jpeg, bmp or webp) in +X, -X,
// +Y, -Y, +Z, -Z order.
func LoadCubemap(paths [6]string) (*CubemapEnvironment, error) {
	var faces [6]image.Image
	for i, p := range paths {
		f, err := os.Open(p)
		if err != nil {
			return nil, fmt.Errorf("open cubemap face: %w", err)
		}
		img, _, err := image.Decode(f)
		f.Close()
		if err != nil {
			return nil, fmt.Errorf("decode cubemap face %s: %w", p, err)
		}
		faces[i] = img
	}
	return NewCubemapEnvironment(faces)
}

func srgbToLinear(c float32) float32 {
	if c <= 0.04045 {
		return c / 12.92
	}
	return math32.Pow((c+0.055)/1.055, 2.4)
}

// Lookup selects the face by the major axis as GL does and samples the
// nearest texel.
func (e *CubemapEnvironment) Lookup(dir mgl32.Vec3) mgl32.Vec3 {
	x, y, z := dir[0], dir[1], dir[2]
	ax, ay, az := math32.Abs(x), math32.Abs(y), math32.Abs(z)

	var face int
	var sc, tc, ma float32
	switch {
	case ax >= ay && ax >= az:
		ma = ax
		if x > 0 {
			face, sc, tc = FacePosX, -z, -y
		} else {
			face, sc, tc = FaceNegX, z, -y
		}
	case ay >= az:
		ma = ay
		if y > 0 {
			face, sc, tc = FacePosY, x, z
		} else {
			face, sc, tc = FaceNegY, x, -z
		}
	default:
		ma = az
		if z > 0 {
			face, sc, tc = FacePosZ, x, -y
		} else {
			face, sc, tc = FaceNegZ, -x, -y
		}
	}
	if !(ma > 0) {
		return mgl32.Vec3{}
	}

	u := (sc/ma + 1) * 0.5
	v := (tc/ma + 1) * 0.5
	px := int(clamp(u*float32(e.size), 0, float32(e.size-1)))
	py := int(clamp(v*float32(e.size), 0, float32(e.size-1)))
	return e.faces[face][py*e.size+px]
}

// Size is the edge length of every face in texels.
func (e *CubemapEnvironment) Size() int { return e.size }

// Face returns the row-major linear texels of face i (FacePosX..FaceNegZ).
// Callers must not modify them.
func (e *CubemapEnvironment) Face(i int) []mgl32.Vec3 { return e.faces[i] }

// BakeCubemap samples env through the center of every texel of a size×size
// cubemap. Lookup on the result reproduces env at texel resolution, which
// is how the GL trace pass sees any environment.
func BakeCubemap(env Environment, size int) (*CubemapEnvironment, error) {
	if size <= 0 {
		return nil, ErrCubemapFaces
	}
	if c, ok := env.(*CubemapEnvironment); ok && c.size == size {
		return c, nil
	}
	out := &CubemapEnvironment{size: size}
	for face := range out.faces {
		texels := make([]mgl32.Vec3, size*size)
		for y := 0; y < size; y++ {
			for x := 0; x < size; x++ {
				texels[y*size+x] = env.Lookup(cubeDirection(face, x, y, size))
			}
		}
		out.faces[face] = texels
	}
	return out, nil
}

// cubeDirection inverts the face selection of Lookup for the center of
// texel (x, y).
func cubeDirection(face, x, y, size int) mgl32.Vec3 {
	sc := (float32(x)+0.5)/float32(size)*2 - 1
	tc := (float32(y)+0.5)/float32(size)*2 - 1
	switch face {
	case FacePosX:
		return mgl32.Vec3{1, -tc, -sc}
	case FaceNegX:
		return mgl32.Vec3{-1, -tc, sc}
	case FacePosY:
		return mgl32.Vec3{sc, 1, tc}
	case FaceNegY:
		return mgl32.Vec3{sc, -1, -tc}
	case FacePosZ:
		return mgl32.Vec3{sc, -tc, 1}
	default:
		return mgl32.Vec3{-sc, -tc, -1}
	}
}
