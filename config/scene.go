package config

import (
	"sort"

	"github.com/pkg/errors"
	"github.com/samber/lo"

	"go.viam.com/mmsolver/logging"
	"go.viam.com/mmsolver/scene"
)

// BuildScene creates the scene the config describes. Nodes are created first so that links may
// point forward; expressions are connected after every value is written, and locks are applied
// last.
func (c *SceneConfig) BuildScene(logger logging.Logger) (*scene.Scene, error) {
	s := scene.New()
	for _, n := range c.Nodes {
		var err error
		if n.Kind == scene.LensKind {
			_, err = s.AddLens(n.Name, n.Model)
		} else {
			_, err = s.AddNode(n.Name, n.Kind, "")
		}
		if err != nil {
			return nil, err
		}
	}

	for _, n := range c.Nodes {
		if n.Parent != "" {
			if err := s.SetParent(n.Name, n.Parent); err != nil {
				return nil, errors.Wrapf(err, "parent of %q", n.Name)
			}
		}
		if n.Lens != "" {
			if err := s.SetLens(n.Name, n.Lens); err != nil {
				return nil, err
			}
		}
		if n.Camera != "" || n.Bundle != "" {
			if err := s.LinkMarker(n.Name, n.Camera, n.Bundle); err != nil {
				return nil, err
			}
		}
		for key, value := range n.Metadata {
			if err := s.SetMetadata(n.Name, key, value); err != nil {
				return nil, err
			}
		}
	}

	for _, n := range c.Nodes {
		for _, name := range sortedKeys(n.Attributes) {
			if err := setAttribute(s, n.Name, name, n.Attributes[name]); err != nil {
				return nil, errors.Wrapf(err, "attribute %s.%s", n.Name, name)
			}
		}
	}

	var numLocked int
	for _, n := range c.Nodes {
		for _, name := range sortedKeys(n.Attributes) {
			attr := n.Attributes[name]
			path := n.Name + "." + name
			if attr.Expression != nil {
				if err := s.Connect(path, *attr.Expression); err != nil {
					return nil, err
				}
			}
			if attr.Locked {
				if err := s.SetLocked(path, true); err != nil {
					return nil, err
				}
				numLocked++
			}
		}
	}

	s.SetCurrentTime(c.CurrentTime)
	logger.Debugw("built scene", "nodes", len(c.Nodes), "locked", numLocked, "current_time", c.CurrentTime)
	return s, nil
}

func setAttribute(s *scene.Scene, node, name string, attr AttributeConfig) error {
	path := node + "." + name
	if !s.HasAttribute(path) {
		if err := s.AddAttribute(node, name, lo.FromPtr(attr.Value)); err != nil {
			return err
		}
	}
	if attr.Value != nil {
		if err := s.Set(path, 0, *attr.Value); err != nil {
			return err
		}
	}
	if len(attr.Keys) > 0 {
		keys := make([]scene.Key, 0, len(attr.Keys))
		for _, k := range attr.Keys {
			tangent, err := scene.TangentFromString(k.tangentName())
			if err != nil {
				return err
			}
			keys = append(keys, scene.Key{Time: k.Time, Value: k.Value, Tangent: tangent})
		}
		if err := s.SetCurve(path, scene.NewAnimCurve(keys...)); err != nil {
			return err
		}
	}
	if attr.Min != nil || attr.Max != nil {
		return s.SetBounds(path, attr.bounds())
	}
	return nil
}

// AttributeValues are the values of one attribute at the solved frames.
type AttributeValues struct {
	Name   string          `json:"name"`
	Values map[int]float64 `json:"values"`
}

// SolvedValues reads back every solve attribute at every frame of the solve.
func (c *SolveConfig) SolvedValues(s *scene.Scene) ([]AttributeValues, error) {
	out := make([]AttributeValues, 0, len(c.Attrs))
	for _, a := range c.Attrs {
		av := AttributeValues{Name: a.Name, Values: make(map[int]float64, len(c.Frames))}
		for _, f := range c.Frames {
			v, err := s.Get(a.Name, float64(f.Number))
			if err != nil {
				return nil, err
			}
			av.Values[f.Number] = v
		}
		out = append(out, av)
	}
	return out, nil
}

func sortedKeys(m map[string]AttributeConfig) []string {
	keys := lo.Keys(m)
	sort.Strings(keys)
	return keys
}
