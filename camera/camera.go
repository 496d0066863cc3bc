// Package camera implements the perspective projection of a camera shape: focal length and film
// back in millimetres, film offsets, film fit and camera scale, expressed in resolution
// independent image units.
//
// Image units place (0, 0) at the image centre. u spans [-0.5, 0.5] across the effective film
// width and v uses the same unit, so its extent is proportional to the film aspect ratio. A
// pixel position is the normalised value multiplied by the image width in pixels.
package camera

import (
	"fmt"
	"math"
	"strings"

	"github.com/go-gl/mathgl/mgl64"
	"github.com/golang/geo/r2"
	"github.com/golang/geo/r3"
	"github.com/pkg/errors"

	"go.viam.com/mmsolver/spatialmath"
	"go.viam.com/mmsolver/utils"
)

// ErrInvalidShape is returned when a camera shape has parameters that cannot project.
var ErrInvalidShape = errors.New("invalid camera shape")

// NewInvalidShapeError names the offending value.
func NewInvalidShapeError(msg string) error {
	return errors.Wrap(ErrInvalidShape, msg)
}

// FilmFit controls how the film back maps onto the render aperture when their aspect ratios
// differ.
type FilmFit int

// Film fit policies, numbered like the host's filmFit enum attribute.
const (
	FilmFitFill FilmFit = iota
	FilmFitHorizontal
	FilmFitVertical
	FilmFitOverscan
)

var filmFitNames = [...]string{"fill", "horizontal", "vertical", "overscan"}

func (fit FilmFit) String() string {
	if fit < 0 || int(fit) >= len(filmFitNames) {
		return "unknown"
	}
	return filmFitNames[fit]
}

// FilmFitFromString parses a film fit name, case-insensitively.
func FilmFitFromString(s string) (FilmFit, error) {
	for i, name := range filmFitNames {
		if strings.EqualFold(name, s) {
			return FilmFit(i), nil
		}
	}
	return FilmFitFill, errors.Errorf("unknown film fit %q", s)
}

// Shape holds the intrinsic parameters of a camera.
type Shape struct {
	FocalLength    float64 `json:"focal_length_mm"`
	FilmBackWidth  float64 `json:"film_back_width_mm"`
	FilmBackHeight float64 `json:"film_back_height_mm"`
	FilmOffsetX    float64 `json:"film_offset_x_mm"`
	FilmOffsetY    float64 `json:"film_offset_y_mm"`
	FilmFit        FilmFit `json:"film_fit"`
	NearClip       float64 `json:"near_clip"`
	FarClip        float64 `json:"far_clip"`
	CameraScale    float64 `json:"camera_scale"`
	ImageWidth     float64 `json:"image_width_px"`
	ImageHeight    float64 `json:"image_height_px"`
}

// NewShape returns a 35mm lens on a 36x24mm film back rendering 1920x1080.
func NewShape() Shape {
	return Shape{
		FocalLength:    35,
		FilmBackWidth:  36,
		FilmBackHeight: 24,
		FilmFit:        FilmFitFill,
		NearClip:       0.1,
		FarClip:        10000,
		CameraScale:    1,
		ImageWidth:     1920,
		ImageHeight:    1080,
	}
}

// CheckValid checks that the shape can project.
func (s Shape) CheckValid() error {
	if !(s.FocalLength > 0) {
		return NewInvalidShapeError(fmt.Sprintf("focal length must be positive, got %v", s.FocalLength))
	}
	if !(s.FilmBackWidth > 0) || !(s.FilmBackHeight > 0) {
		return NewInvalidShapeError(fmt.Sprintf("film back must be positive, got (%v, %v)", s.FilmBackWidth, s.FilmBackHeight))
	}
	if !(s.ImageWidth > 0) || !(s.ImageHeight > 0) {
		return NewInvalidShapeError(fmt.Sprintf("image size must be positive, got (%v, %v)", s.ImageWidth, s.ImageHeight))
	}
	if !(s.CameraScale > 0) {
		return NewInvalidShapeError(fmt.Sprintf("camera scale must be positive, got %v", s.CameraScale))
	}
	if s.FilmFit < FilmFitFill || s.FilmFit > FilmFitOverscan {
		return NewInvalidShapeError(fmt.Sprintf("unknown film fit %d", s.FilmFit))
	}
	return nil
}

// RenderAspect is the image width over height.
func (s Shape) RenderAspect() float64 {
	return s.ImageWidth / s.ImageHeight
}

// EffectiveFilmBack returns the film aperture, in millimetres, that maps onto the rendered image
// after film fit and camera scale are applied.
func (s Shape) EffectiveFilmBack() (float64, float64) {
	filmAspect := s.FilmBackWidth / s.FilmBackHeight
	renderAspect := s.RenderAspect()

	fit := s.FilmFit
	switch fit {
	case FilmFitFill:
		if filmAspect > renderAspect {
			fit = FilmFitVertical
		} else {
			fit = FilmFitHorizontal
		}
	case FilmFitOverscan:
		if filmAspect > renderAspect {
			fit = FilmFitHorizontal
		} else {
			fit = FilmFitVertical
		}
	case FilmFitHorizontal, FilmFitVertical:
	}

	var width, height float64
	if fit == FilmFitHorizontal {
		width = s.FilmBackWidth
		height = width / renderAspect
	} else {
		height = s.FilmBackHeight
		width = height * renderAspect
	}
	return width * s.CameraScale, height * s.CameraScale
}

// Aspect is the aspect ratio of the effective film back.
func (s Shape) Aspect() float64 {
	w, h := s.EffectiveFilmBack()
	return w / h
}

// AngleOfView returns the horizontal and vertical angles of view, in degrees, of the effective
// film back.
func (s Shape) AngleOfView() (float64, float64) {
	w, h := s.EffectiveFilmBack()
	return utils.RadToDeg(2 * math.Atan(w/2/s.FocalLength)), utils.RadToDeg(2 * math.Atan(h/2/s.FocalLength))
}

// Project maps a point in camera space, looking down -Z, to undistorted image units. Points on
// the camera plane project to infinity.
func (s Shape) Project(p r3.Vector) r2.Point {
	width, _ := s.EffectiveFilmBack()
	depth := -p.Z
	sx := s.FocalLength*p.X/depth - s.FilmOffsetX
	sy := s.FocalLength*p.Y/depth - s.FilmOffsetY
	return r2.Point{X: sx / width, Y: sy / width}
}

// Unproject returns the camera space point at the given depth (distance along -Z) that projects
// to the image point.
func (s Shape) Unproject(uv r2.Point, depth float64) r3.Vector {
	width, _ := s.EffectiveFilmBack()
	sx := uv.X*width + s.FilmOffsetX
	sy := uv.Y*width + s.FilmOffsetY
	return r3.Vector{X: sx * depth / s.FocalLength, Y: sy * depth / s.FocalLength, Z: -depth}
}

// ToPixels converts a distance in image units to pixels.
func (s Shape) ToPixels(d float64) float64 {
	return d * s.ImageWidth
}

// InFrustum reports whether a camera space point lies between the clip planes and inside the
// image.
func (s Shape) InFrustum(p r3.Vector) bool {
	depth := -p.Z
	if depth < s.NearClip || depth > s.FarClip {
		return false
	}
	uv := s.Project(p)
	return math.Abs(uv.X) <= 0.5 && math.Abs(uv.Y) <= 0.5/s.Aspect()
}

// ProjectWorld transforms a world space point into the camera with the camera's world matrix and
// projects it.
func (s Shape) ProjectWorld(cameraWorld mgl64.Mat4, p r3.Vector) r2.Point {
	return s.Project(spatialmath.TransformPoint(cameraWorld.Inv(), p))
}
