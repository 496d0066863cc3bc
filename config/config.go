// Package config describes a solve request on disk: the host scene a solve runs against and the
// arguments of the solve command, in JSON.
package config

import (
	"fmt"

	"github.com/pkg/errors"
	"go.viam.com/utils"

	"go.viam.com/mmsolver/collection"
	"go.viam.com/mmsolver/lens"
	"go.viam.com/mmsolver/scene"
)

// A Request is a scene and a solve to run against it.
type Request struct {
	ConfigFilePath string `json:"-"`

	Scene SceneConfig `json:"scene"`
	Solve SolveConfig `json:"solve"`
}

// Validate checks the scene and the solve description.
func (r *Request) Validate() error {
	if err := r.Scene.Validate("scene"); err != nil {
		return err
	}
	return r.Solve.Validate("solve")
}

// SceneConfig is the host scene: its nodes in creation order and the current time.
type SceneConfig struct {
	CurrentTime float64      `json:"current_time,omitempty"`
	Nodes       []NodeConfig `json:"nodes"`
}

// Validate ensures all parts of the config are valid.
func (c *SceneConfig) Validate(path string) error {
	seen := map[string]bool{}
	for idx := range c.Nodes {
		n := &c.Nodes[idx]
		if err := n.Validate(fmt.Sprintf("%s.nodes.%d", path, idx)); err != nil {
			return err
		}
		if seen[n.Name] {
			return utils.NewConfigValidationError(path, errors.Errorf("duplicate node name %q", n.Name))
		}
		seen[n.Name] = true
	}
	return nil
}

// NodeConfig describes one scene node. Parent, Lens, Camera and Bundle may name nodes that
// appear later in the list.
type NodeConfig struct {
	Name   string         `json:"name"`
	Kind   scene.NodeKind `json:"kind"`
	Parent string         `json:"parent,omitempty"`

	// Model is the distortion model of a lens node.
	Model lens.Model `json:"model,omitempty"`
	// Lens is the outermost lens of a camera shape, or the input of a lens.
	Lens string `json:"lens,omitempty"`
	// Camera and Bundle link a marker or marker group.
	Camera string `json:"camera,omitempty"`
	Bundle string `json:"bundle,omitempty"`

	Attributes map[string]AttributeConfig `json:"attributes,omitempty"`
	Metadata   map[string]string          `json:"metadata,omitempty"`
}

// Validate ensures all parts of the config are valid.
func (c *NodeConfig) Validate(path string) error {
	if c.Name == "" {
		return utils.NewConfigValidationFieldRequiredError(path, "name")
	}
	if c.Kind == "" {
		return utils.NewConfigValidationFieldRequiredError(path, "kind")
	}
	if !c.Kind.Valid() {
		return utils.NewConfigValidationError(path, errors.Errorf("unknown node kind %q", c.Kind))
	}
	if c.Kind == scene.LensKind {
		if c.Model == "" {
			return utils.NewConfigValidationFieldRequiredError(path, "model")
		}
		if _, err := lens.ParametersOf(c.Model); err != nil {
			return utils.NewConfigValidationError(path, err)
		}
	} else if c.Model != "" {
		return utils.NewConfigValidationError(path, errors.New("model is only valid on lens nodes"))
	}
	if (c.Camera != "" || c.Bundle != "") && c.Kind != scene.MarkerKind && c.Kind != scene.MarkerGroupKind {
		return utils.NewConfigValidationError(path, errors.New("camera and bundle are only valid on markers and marker groups"))
	}
	if c.Lens != "" && c.Kind != scene.CameraShapeKind && c.Kind != scene.LensKind {
		return utils.NewConfigValidationError(path, errors.New("lens is only valid on camera shapes and lenses"))
	}
	for name, attr := range c.Attributes {
		if err := attr.Validate(fmt.Sprintf("%s.attributes.%s", path, name)); err != nil {
			return err
		}
	}
	return nil
}

// AttributeConfig is the state of one attribute: a static value, keys or an expression, plus
// its lock and advisory bounds.
type AttributeConfig struct {
	Value      *float64          `json:"value,omitempty"`
	Keys       []KeyConfig       `json:"keys,omitempty"`
	Expression *scene.Expression `json:"expression,omitempty"`
	Locked     bool              `json:"locked,omitempty"`
	Min        *float64          `json:"min,omitempty"`
	Max        *float64          `json:"max,omitempty"`
}

// Validate ensures all parts of the config are valid.
func (c *AttributeConfig) Validate(path string) error {
	if c.Expression != nil {
		if c.Value != nil || len(c.Keys) > 0 {
			return utils.NewConfigValidationError(path, errors.New("an expression cannot be combined with a value or keys"))
		}
		if len(c.Expression.Inputs) != len(c.Expression.Coefficients) {
			return utils.NewConfigValidationError(path, errors.Errorf(
				"expression has %d inputs but %d coefficients", len(c.Expression.Inputs), len(c.Expression.Coefficients)))
		}
	}
	if c.Min != nil && c.Max != nil && *c.Min > *c.Max {
		return utils.NewConfigValidationError(path, errors.Errorf("min %v is above max %v", *c.Min, *c.Max))
	}
	for idx, k := range c.Keys {
		if _, err := scene.TangentFromString(k.tangentName()); err != nil {
			return utils.NewConfigValidationError(fmt.Sprintf("%s.keys.%d", path, idx), err)
		}
	}
	return nil
}

func (c *AttributeConfig) bounds() scene.Bounds {
	var b scene.Bounds
	if c.Min != nil {
		b.Min, b.HasMin = *c.Min, true
	}
	if c.Max != nil {
		b.Max, b.HasMax = *c.Max, true
	}
	return b
}

// KeyConfig is one keyframe. Tangent defaults to linear.
type KeyConfig struct {
	Time    float64 `json:"time"`
	Value   float64 `json:"value"`
	Tangent string  `json:"tangent,omitempty"`
}

func (k KeyConfig) tangentName() string {
	if k.Tangent == "" {
		return scene.TangentLinear.String()
	}
	return k.Tangent
}

// SolveConfig holds the arguments of a solve: the collection description and a free-form options
// object decoded on top of the solver defaults.
type SolveConfig struct {
	collection.Spec

	Options map[string]interface{} `json:"options,omitempty"`
}

// Validate ensures all parts of the config are valid.
func (c *SolveConfig) Validate(path string) error {
	if len(c.Cameras) == 0 {
		return utils.NewConfigValidationFieldRequiredError(path, "cameras")
	}
	for idx, cam := range c.Cameras {
		if cam.Transform == "" {
			return utils.NewConfigValidationFieldRequiredError(fmt.Sprintf("%s.cameras.%d", path, idx), "transform")
		}
		if cam.Shape == "" {
			return utils.NewConfigValidationFieldRequiredError(fmt.Sprintf("%s.cameras.%d", path, idx), "shape")
		}
	}
	for idx, m := range c.Markers {
		if m.Marker == "" {
			return utils.NewConfigValidationFieldRequiredError(fmt.Sprintf("%s.markers.%d", path, idx), "marker")
		}
		if m.CameraShape == "" {
			return utils.NewConfigValidationFieldRequiredError(fmt.Sprintf("%s.markers.%d", path, idx), "camera_shape")
		}
	}
	for idx, a := range c.Attrs {
		if a.Name == "" {
			return utils.NewConfigValidationFieldRequiredError(fmt.Sprintf("%s.attrs.%d", path, idx), "name")
		}
	}
	if len(c.Frames) == 0 {
		return utils.NewConfigValidationFieldRequiredError(path, "frames")
	}
	if _, err := c.SolverOptions(); err != nil {
		return utils.NewConfigValidationError(path+".options", err)
	}
	return nil
}
