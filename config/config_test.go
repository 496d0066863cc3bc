package config_test

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"go.viam.com/test"

	"go.viam.com/mmsolver/config"
	"go.viam.com/mmsolver/logging"
	"go.viam.com/mmsolver/scene"
	"go.viam.com/mmsolver/solver"
)

const singlePointRequest = `{
	"scene": {
		"current_time": 1,
		"nodes": [
			{"name": "camera1", "kind": "transform"},
			{"name": "cameraShape1", "kind": "cameraShape", "parent": "camera1", "lens": "lens1"},
			{"name": "lens1", "kind": "lens", "model": "basic"},
			{"name": "markerGroup1", "kind": "markerGroup", "parent": "camera1"},
			{"name": "marker1", "kind": "marker", "parent": "markerGroup1", "camera": "cameraShape1", "bundle": "bundle1",
				"attributes": {
					"tx": {"keys": [{"time": 1, "value": 0.09722222222222222}]},
					"ty": {"keys": [{"time": 1, "value": 0.19444444444444445, "tangent": "step"}]}
				}},
			{"name": "bundle1", "kind": "bundle",
				"attributes": {
					"tx": {"value": 0},
					"ty": {"value": 0, "min": -5, "max": 5},
					"tz": {"value": -10, "locked": true},
					"stiffness": {"value": 0.5},
					"ry": {"expression": {"inputs": ["bundle1.stiffness"], "coefficients": [2], "constant": 1}}
				},
				"metadata": {"note": "survey"}},
			{"name": "collection1", "kind": "collection"}
		]
	},
	"solve": {
		"collection": "collection1",
		"cameras": [{"transform": "camera1", "shape": "cameraShape1"}],
		"markers": [{"marker": "marker1", "camera_shape": "cameraShape1", "bundle": "bundle1"}],
		"attrs": [{"name": "bundle1.tx"}, {"name": "bundle1.ty"}],
		"frames": [{"number": 1}],
		"options": {"iterations": 50, "eps1": 1e-12, "eps2": 1e-14, "eps3": 1e-9, "solver_type": "ceres_lmder"}
	}
}`

func TestFromReader(t *testing.T) {
	logger := logging.NewTestLogger(t)
	_, err := config.FromReader("somepath", strings.NewReader(""), logger)
	test.That(t, err, test.ShouldNotBeNil)
	test.That(t, err.Error(), test.ShouldContainSubstring, "failed to decode request")

	req, err := config.FromReader("somepath", strings.NewReader(singlePointRequest), logger)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, req.ConfigFilePath, test.ShouldEqual, "somepath")
	test.That(t, req.Scene.Nodes, test.ShouldHaveLength, 7)
	test.That(t, req.Solve.Collection, test.ShouldEqual, "collection1")
	test.That(t, req.Solve.Attrs, test.ShouldHaveLength, 2)
	test.That(t, *req.Scene.Nodes[5].Attributes["ty"].Max, test.ShouldEqual, 5)
}

func TestFromReaderCommented(t *testing.T) {
	logger := logging.NewTestLogger(t)
	commented := `// survey shot, hand edited
{
	"scene": {
		"current_time": 1,
		"nodes": [
			{"name": "camera1", "kind": "transform"},
			{"name": "cameraShape1", "kind": "cameraShape", "parent": "camera1"},
			/* the solved point */
			{"name": "bundle1", "kind": "bundle", "attributes": {"tx": {"value": 0,},},},
			{"name": "collection1", "kind": "collection"},
		],
	},
	"solve": {
		"collection": "collection1", // written back on success
		"cameras": [{"transform": "camera1", "shape": "cameraShape1"}],
		"attrs": [{"name": "bundle1.tx"}],
		"frames": [{"number": 1}],
	},
}`
	req, err := config.FromReader("commented", strings.NewReader(commented), logger)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, req.Scene.Nodes, test.ShouldHaveLength, 4)
	test.That(t, req.Scene.Nodes[2].Attributes, test.ShouldContainKey, "tx")
	test.That(t, req.Solve.Collection, test.ShouldEqual, "collection1")
	test.That(t, req.Solve.Attrs[0].Name, test.ShouldEqual, "bundle1.tx")
}

func TestValidate(t *testing.T) {
	logger := logging.NewTestLogger(t)
	for _, tc := range []struct {
		name     string
		replace  [2]string
		contains string
	}{
		{"missing name", [2]string{`"name": "camera1", `, ``}, `"name" is required`},
		{"unknown kind", [2]string{`"kind": "transform"`, `"kind": "joint"`}, `unknown node kind`},
		{"lens without model", [2]string{`"model": "basic"`, `"model": ""`}, `"model" is required`},
		{"unknown model", [2]string{`"model": "basic"`, `"model": "fisheye"`}, `unknown lens model`},
		{"duplicate node", [2]string{`"name": "collection1"`, `"name": "camera1"`}, `duplicate node name`},
		{"bad tangent", [2]string{`"tangent": "step"`, `"tangent": "bezier"`}, `unknown tangent type`},
		{"inverted bounds", [2]string{`"min": -5`, `"min": 6`}, `above max`},
		{"unknown option", [2]string{`"iterations": 50`, `"iteration": 50`}, `iteration`},
		{"invalid option", [2]string{`"ceres_lmder"`, `"newton"`}, `unknown solver type`},
		{"no frames", [2]string{`"frames": [{"number": 1}],`, ``}, `"frames" is required`},
		{"marker without camera", [2]string{`"camera_shape": "cameraShape1", `, ``}, `"camera_shape" is required`},
	} {
		t.Run(tc.name, func(t *testing.T) {
			doc := strings.Replace(singlePointRequest, tc.replace[0], tc.replace[1], 1)
			test.That(t, doc, test.ShouldNotEqual, singlePointRequest)
			_, err := config.FromReader("somepath", strings.NewReader(doc), logger)
			test.That(t, err, test.ShouldNotBeNil)
			test.That(t, err.Error(), test.ShouldContainSubstring, tc.contains)
		})
	}
}

func TestSolverOptions(t *testing.T) {
	var c config.SolveConfig
	opts, err := c.SolverOptions()
	test.That(t, err, test.ShouldBeNil)
	test.That(t, opts, test.ShouldResemble, solver.DefaultOptions())

	c.Options = map[string]interface{}{
		"iterations":            float64(7),
		"frame_solve_mode":      "root_then_fill",
		"print_statistics":      []interface{}{"inputs"},
		"remove_unused_markers": false,
	}
	opts, err = c.SolverOptions()
	test.That(t, err, test.ShouldBeNil)
	test.That(t, opts.Iterations, test.ShouldEqual, 7)
	test.That(t, opts.FrameSolveMode, test.ShouldEqual, solver.FrameSolveRootThenFill)
	test.That(t, opts.PrintStatistics, test.ShouldResemble, []string{"inputs"})
	test.That(t, opts.RemoveUnusedMarkers, test.ShouldBeFalse)
	test.That(t, opts.RemoveUnusedAttributes, test.ShouldBeTrue)
	test.That(t, opts.Tau, test.ShouldEqual, solver.DefaultOptions().Tau)

	c.Options = map[string]interface{}{"iterations": 0}
	_, err = c.SolverOptions()
	test.That(t, err, test.ShouldNotBeNil)
	test.That(t, err.Error(), test.ShouldContainSubstring, "iterations must be at least 1")
}

func TestRead(t *testing.T) {
	logger := logging.NewTestLogger(t)
	t.Setenv("MMSOLVER_TEST_ITERATIONS", "12")
	doc := strings.Replace(singlePointRequest, `"iterations": 50`, `"iterations": ${MMSOLVER_TEST_ITERATIONS}`, 1)
	path := filepath.Join(t.TempDir(), "request.json")
	test.That(t, os.WriteFile(path, []byte(doc), 0o600), test.ShouldBeNil)

	req, err := config.Read(path, logger)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, req.ConfigFilePath, test.ShouldEqual, path)
	opts, err := req.Solve.SolverOptions()
	test.That(t, err, test.ShouldBeNil)
	test.That(t, opts.Iterations, test.ShouldEqual, 12)

	_, err = config.Read(filepath.Join(t.TempDir(), "missing.json"), logger)
	test.That(t, err, test.ShouldNotBeNil)
}

func TestBuildScene(t *testing.T) {
	logger := logging.NewTestLogger(t)
	req, err := config.FromReader("somepath", strings.NewReader(singlePointRequest), logger)
	test.That(t, err, test.ShouldBeNil)
	s, err := req.Scene.BuildScene(logger)
	test.That(t, err, test.ShouldBeNil)

	test.That(t, s.CurrentTime(), test.ShouldEqual, 1)
	shape, err := s.Node("cameraShape1")
	test.That(t, err, test.ShouldBeNil)
	test.That(t, shape.Parent, test.ShouldEqual, "camera1")
	test.That(t, shape.Lens, test.ShouldEqual, "lens1")

	marker, err := s.Node("marker1")
	test.That(t, err, test.ShouldBeNil)
	test.That(t, marker.Camera, test.ShouldEqual, "cameraShape1")
	test.That(t, marker.Bundle, test.ShouldEqual, "bundle1")

	animated, err := s.IsAnimated("marker1.ty")
	test.That(t, err, test.ShouldBeNil)
	test.That(t, animated, test.ShouldBeTrue)
	curve, err := s.Curve("marker1.ty")
	test.That(t, err, test.ShouldBeNil)
	test.That(t, curve.Keys()[0].Tangent, test.ShouldEqual, scene.TangentStep)

	locked, err := s.IsLocked("bundle1.tz")
	test.That(t, err, test.ShouldBeNil)
	test.That(t, locked, test.ShouldBeTrue)
	v, err := s.Get("bundle1.tz", 1)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, v, test.ShouldEqual, -10)

	b, err := s.Bounds("bundle1.ty")
	test.That(t, err, test.ShouldBeNil)
	test.That(t, b, test.ShouldResemble, scene.Bounds{Min: -5, Max: 5, HasMin: true, HasMax: true})

	test.That(t, s.HasAttribute("bundle1.stiffness"), test.ShouldBeTrue)
	v, err = s.Get("bundle1.ry", 1)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, v, test.ShouldAlmostEqual, 2)

	note, ok := s.Metadata("bundle1", "note")
	test.That(t, ok, test.ShouldBeTrue)
	test.That(t, note, test.ShouldEqual, "survey")
}

func TestBuildSceneErrors(t *testing.T) {
	logger := logging.NewTestLogger(t)
	sc := config.SceneConfig{Nodes: []config.NodeConfig{
		{Name: "marker1", Kind: scene.MarkerKind, Parent: "nowhere"},
	}}
	_, err := sc.BuildScene(logger)
	test.That(t, err, test.ShouldNotBeNil)
	test.That(t, err.Error(), test.ShouldContainSubstring, "parent of \"marker1\"")

	sc = config.SceneConfig{Nodes: []config.NodeConfig{
		{Name: "bundle1", Kind: scene.BundleKind, Attributes: map[string]config.AttributeConfig{
			"tx": {Expression: &scene.Expression{Inputs: []string{"bundle2.tx"}, Coefficients: []float64{1}}},
		}},
	}}
	_, err = sc.BuildScene(logger)
	test.That(t, err, test.ShouldNotBeNil)
}

func TestSolveFromRequest(t *testing.T) {
	logger := logging.NewTestLogger(t)
	req, err := config.FromReader("somepath", strings.NewReader(singlePointRequest), logger)
	test.That(t, err, test.ShouldBeNil)
	s, err := req.Scene.BuildScene(logger)
	test.That(t, err, test.ShouldBeNil)
	opts, err := req.Solve.SolverOptions()
	test.That(t, err, test.ShouldBeNil)

	res, err := solver.Solve(context.Background(), s, solver.Request{Spec: req.Solve.Spec, Options: opts}, logger)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, res.Success, test.ShouldBeTrue)

	values, err := req.Solve.SolvedValues(s)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, values, test.ShouldHaveLength, 2)
	test.That(t, values[0].Name, test.ShouldEqual, "bundle1.tx")
	test.That(t, values[0].Values[1], test.ShouldAlmostEqual, 1, 1e-4)
	test.That(t, values[1].Values[1], test.ShouldAlmostEqual, 2, 1e-4)

	out, err := json.Marshal(values)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, string(out), test.ShouldContainSubstring, `"name":"bundle1.tx","values":{"1":`)
}

func TestSchema(t *testing.T) {
	schema := config.Schema()
	test.That(t, schema, test.ShouldNotBeNil)
	out, err := json.Marshal(schema)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, string(out), test.ShouldContainSubstring, `"scene"`)
	test.That(t, string(out), test.ShouldContainSubstring, `"camera_shape"`)
}
