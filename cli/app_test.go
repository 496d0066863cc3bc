package cli

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"go.viam.com/test"
)

const testRequest = `{
	"scene": {
		"current_time": 1,
		"nodes": [
			{"name": "camera1", "kind": "transform"},
			{"name": "cameraShape1", "kind": "cameraShape", "parent": "camera1"},
			{"name": "markerGroup1", "kind": "markerGroup", "parent": "camera1"},
			{"name": "marker1", "kind": "marker", "parent": "markerGroup1",
				"attributes": {
					"tx": {"keys": [{"time": 1, "value": 0.09722222222222222}]},
					"ty": {"keys": [{"time": 1, "value": 0.19444444444444445}]}
				}},
			{"name": "bundle1", "kind": "bundle", "attributes": {"tz": {"value": -10}}}
		]
	},
	"solve": {
		"cameras": [{"transform": "camera1", "shape": "cameraShape1"}],
		"markers": [{"marker": "marker1", "camera_shape": "cameraShape1", "bundle": "bundle1"}],
		"attrs": [{"name": "bundle1.tx"}, {"name": "bundle1.ty"}],
		"frames": [{"number": 1}],
		"options": {"iterations": 50, "eps1": 1e-12, "eps2": 1e-14, "eps3": 1e-9}
	}
}`

func writeRequest(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "request.json")
	test.That(t, os.WriteFile(path, []byte(testRequest), 0o600), test.ShouldBeNil)
	return path
}

func runApp(t *testing.T, args ...string) (string, string, error) {
	t.Helper()
	var out, errOut bytes.Buffer
	app := NewApp(&out, &errOut)
	err := app.Run(append([]string{"mmsolver"}, args...))
	return out.String(), errOut.String(), err
}

func TestSolveAction(t *testing.T) {
	path := writeRequest(t)
	out, _, err := runApp(t, "solve", "--values", path)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, out, test.ShouldContainSubstring, "success=1")
	test.That(t, out, test.ShouldContainSubstring, "numberOfParameters=2")
	test.That(t, out, test.ShouldContainSubstring, "numberOfErrors=2")
	test.That(t, out, test.ShouldContainSubstring, `"name": "bundle1.tx"`)
	test.That(t, out, test.ShouldContainSubstring, `"name": "bundle1.ty"`)

	plotPath := filepath.Join(t.TempDir(), "deviation.png")
	_, _, err = runApp(t, "solve", "--plot", plotPath, path)
	test.That(t, err, test.ShouldBeNil)
	info, err := os.Stat(plotPath)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, info.Size(), test.ShouldBeGreaterThan, 0)

	out, _, err = runApp(t, "solve", "--histogram", "4", path)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, out, test.ShouldContainSubstring, "px-")
	test.That(t, out, test.ShouldContainSubstring, "100%")

	_, _, err = runApp(t, "solve", "--solver-type", "newton", path)
	test.That(t, err, test.ShouldNotBeNil)
	test.That(t, err.Error(), test.ShouldContainSubstring, "unknown solver type")

	_, _, err = runApp(t, "solve", "--iterations", "3", "--frame-solve-mode", "PER_FRAME", path)
	test.That(t, err, test.ShouldNotBeNil)
	test.That(t, err.Error(), test.ShouldContainSubstring, "no parameters")

	_, _, err = runApp(t, "solve")
	test.That(t, err, test.ShouldNotBeNil)
	test.That(t, err.Error(), test.ShouldContainSubstring, "request file is required")

	_, _, err = runApp(t, "solve", filepath.Join(t.TempDir(), "missing.json"))
	test.That(t, err, test.ShouldNotBeNil)
	test.That(t, err.Error(), test.ShouldContainSubstring, "could not read request")
}

func TestAffectsAction(t *testing.T) {
	out, _, err := runApp(t, "affects", writeRequest(t))
	test.That(t, err, test.ShouldBeNil)
	test.That(t, strings.TrimSpace(out), test.ShouldEqual, "marker1=bundle1.tx,bundle1.ty")
}

func TestStatisticsAction(t *testing.T) {
	path := writeRequest(t)
	out, _, err := runApp(t, "statistics", "--section", "inputs", path)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, out, test.ShouldContainSubstring, "inputs")
	test.That(t, out, test.ShouldContainSubstring, "parameters")

	_, _, err = runApp(t, "statistics", "--section", "everything", path)
	test.That(t, err, test.ShouldNotBeNil)
	test.That(t, err.Error(), test.ShouldContainSubstring, "unknown statistics section")
}

func TestExecAction(t *testing.T) {
	path := writeRequest(t)
	hostArgs := []string{
		"-camera", "camera1", "cameraShape1",
		"-marker", "marker1", "cameraShape1", "bundle1",
		"-attr", "bundle1.tx", "None", "None", "None", "None",
		"-attr", "bundle1.ty", "None", "None", "None", "None",
		"-frame", "1",
		"-iterations", "50",
	}
	out, _, err := runApp(t, append([]string{"exec", path, "--"}, hostArgs...)...)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, out, test.ShouldContainSubstring, "success=1")
	test.That(t, out, test.ShouldContainSubstring, "numberOfParameters=2")

	out, _, err = runApp(t, append([]string{"exec", "--affects", path}, hostArgs...)...)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, strings.TrimSpace(out), test.ShouldEqual, "marker1=bundle1.tx,bundle1.ty")

	_, _, err = runApp(t, "exec", path, "-bogus")
	test.That(t, err, test.ShouldNotBeNil)
	test.That(t, err.Error(), test.ShouldContainSubstring, "unknown flag")
}

func TestSchemaAction(t *testing.T) {
	out, _, err := runApp(t, "--debug", "schema")
	test.That(t, err, test.ShouldBeNil)
	test.That(t, out, test.ShouldContainSubstring, `"scene"`)
	test.That(t, out, test.ShouldContainSubstring, `"options"`)
}

func TestOptionsAction(t *testing.T) {
	out, _, err := runApp(t, "options")
	test.That(t, err, test.ShouldBeNil)
	test.That(t, out, test.ShouldContainSubstring, "solver_type")
	test.That(t, out, test.ShouldContainSubstring, "ceres_lmder")
	test.That(t, out, test.ShouldContainSubstring, "frame_solve_mode")
	test.That(t, out, test.ShouldContainSubstring, "solver.FrameSolveMode")
}

func TestLogFile(t *testing.T) {
	logPath := filepath.Join(t.TempDir(), "mmsolver.log")
	_, _, err := runApp(t, "--debug", "--log-file", logPath, "affects", writeRequest(t))
	test.That(t, err, test.ShouldBeNil)
	contents, err := os.ReadFile(logPath)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, string(contents), test.ShouldContainSubstring, "read request")
}
