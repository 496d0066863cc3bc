package cli

import (
	"context"
	"encoding/json"
	"os"
	"os/signal"
	"strings"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/pkg/errors"
	"github.com/urfave/cli/v2"

	"go.viam.com/mmsolver/command"
	"go.viam.com/mmsolver/config"
	"go.viam.com/mmsolver/logging"
	"go.viam.com/mmsolver/scene"
	"go.viam.com/mmsolver/solver"
	"go.viam.com/mmsolver/utils"
)

// loadRequest reads the request named by the first argument and builds its scene.
func loadRequest(c *cli.Context) (*config.Request, *scene.Scene, logging.Logger, error) {
	logger := loggerFrom(c)
	path := c.Args().First()
	if path == "" {
		return nil, nil, nil, errors.New("a request file is required")
	}
	req, err := config.Read(path, logger)
	if err != nil {
		return nil, nil, nil, errors.Wrapf(err, "could not read request %q", path)
	}
	s, err := req.Scene.BuildScene(logger)
	if err != nil {
		return nil, nil, nil, errors.Wrapf(err, "could not build scene of %q", path)
	}
	return req, s, logger, nil
}

func requestOptions(c *cli.Context, req *config.Request) (solver.Options, error) {
	opts, err := req.Solve.SolverOptions()
	if err != nil {
		return opts, err
	}
	if c.IsSet(flagSolverType) {
		opts.SolverType = solver.SolverType(strings.ToLower(c.String(flagSolverType)))
	}
	if c.IsSet(flagIterations) {
		opts.Iterations = c.Int(flagIterations)
	}
	if c.IsSet(flagFrameSolveMode) {
		opts.FrameSolveMode = solver.FrameSolveMode(strings.ToLower(c.String(flagFrameSolveMode)))
	}
	if c.IsSet(flagTimeout) {
		opts.TimeoutSeconds = c.Duration(flagTimeout).Seconds()
	}
	if c.Bool(flagVerbose) {
		opts.Verbose = true
	}
	return opts, opts.Validate()
}

// interruptible returns a context that is cancelled on an interrupt signal.
func interruptible(c *cli.Context) (context.Context, context.CancelFunc) {
	return signal.NotifyContext(c.Context, os.Interrupt)
}

// SolveAction is the corresponding Action for 'solve'.
func SolveAction(c *cli.Context) error {
	req, s, logger, err := loadRequest(c)
	if err != nil {
		return err
	}
	opts, err := requestOptions(c, req)
	if err != nil {
		return err
	}
	ctx, cancel := interruptible(c)
	defer cancel()

	res, solveErr := solver.Solve(ctx, s, solver.Request{Spec: req.Solve.Spec, Options: opts}, logger)
	if res == nil {
		return solveErr
	}
	printLines(c, res.KeyValues())
	printStatistics(c, res.Statistics)
	if res.Solved && !res.Success {
		warningf(c.App.ErrWriter, "solve did not succeed: %s", res.Reason)
	}
	if path := c.String(flagPlot); path != "" {
		if err := writeDeviationPlot(res, path); err != nil {
			return errors.Wrap(err, "could not write deviation plot")
		}
	}
	if bins := c.Int(flagHistogram); bins > 0 {
		if err := printDeviationHistogram(c.App.Writer, res, bins); err != nil {
			return err
		}
	}
	if c.Bool(flagValues) {
		values, err := req.Solve.SolvedValues(s)
		if err != nil {
			return err
		}
		if err := printJSON(c, values); err != nil {
			return err
		}
	}
	return solveErr
}

// AffectsAction is the corresponding Action for 'affects'.
func AffectsAction(c *cli.Context) error {
	req, s, logger, err := loadRequest(c)
	if err != nil {
		return err
	}
	opts, err := req.Solve.SolverOptions()
	if err != nil {
		return err
	}
	coll, res, err := solver.Affects(c.Context, s, req.Solve.Spec, opts, logger)
	if err != nil {
		return err
	}
	names := res.Names(coll)
	for _, m := range coll.Markers {
		printf(c.App.Writer, "%s=%s", m.Node, strings.Join(names[m.Node], ","))
	}
	return nil
}

// StatisticsAction is the corresponding Action for 'statistics'.
func StatisticsAction(c *cli.Context) error {
	req, s, logger, err := loadRequest(c)
	if err != nil {
		return err
	}
	opts, err := req.Solve.SolverOptions()
	if err != nil {
		return err
	}
	opts.PrintStatistics = c.StringSlice(flagSection)
	if err := opts.Validate(); err != nil {
		return err
	}
	res, err := solver.Solve(c.Context, s, solver.Request{Spec: req.Solve.Spec, Options: opts}, logger)
	if err != nil {
		return err
	}
	printStatistics(c, res.Statistics)
	return nil
}

// ExecAction is the corresponding Action for 'exec'. Everything after the request file is passed
// to the solve command as is.
func ExecAction(c *cli.Context) error {
	_, s, logger, err := loadRequest(c)
	if err != nil {
		return err
	}
	args := c.Args().Tail()
	if len(args) > 0 && args[0] == "--" {
		args = args[1:]
	}
	if c.Bool(flagAffects) {
		lines, err := command.Affects(c.Context, s, args, logger)
		if err != nil {
			return err
		}
		printLines(c, lines)
		return nil
	}
	ctx, cancel := interruptible(c)
	defer cancel()
	lines, err := command.Solve(ctx, s, args, nil, logger)
	printLines(c, lines)
	return err
}

// OptionsAction is the corresponding Action for 'options'.
func OptionsAction(c *cli.Context) error {
	defaults := map[string]interface{}{}
	out, err := json.Marshal(solver.DefaultOptions())
	if err != nil {
		return err
	}
	if err := json.Unmarshal(out, &defaults); err != nil {
		return err
	}
	t := table.NewWriter()
	t.AppendHeader(table.Row{"Option", "Type", "Default"})
	for _, tag := range utils.JSONTags(solver.DefaultOptions()) {
		t.AppendRow(table.Row{tag.Name, tag.Type, defaults[tag.Name]})
	}
	printf(c.App.Writer, "%s", t.Render())
	return nil
}

// SchemaAction is the corresponding Action for 'schema'.
func SchemaAction(c *cli.Context) error {
	return printJSON(c, config.Schema())
}

func printLines(c *cli.Context, lines []string) {
	for _, line := range lines {
		printf(c.App.Writer, "%s", line)
	}
}

func printStatistics(c *cli.Context, statistics string) {
	if statistics == "" {
		return
	}
	printf(c.App.Writer, "%s", strings.TrimRight(statistics, "\n"))
}

func printJSON(c *cli.Context, v interface{}) error {
	out, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	printf(c.App.Writer, "%s", out)
	return nil
}
