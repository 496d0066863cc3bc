// Package cli contains the mmsolver command line: solving, affects analysis and statistics over
// request files.
package cli

import (
	"io"

	"github.com/urfave/cli/v2"
	"gopkg.in/natefinch/lumberjack.v2"

	"go.viam.com/mmsolver/logging"
)

const (
	flagDebug          = "debug"
	flagLogFile        = "log-file"
	flagSolverType     = "solver-type"
	flagIterations     = "iterations"
	flagFrameSolveMode = "frame-solve-mode"
	flagTimeout        = "timeout"
	flagVerbose        = "verbose"
	flagValues         = "values"
	flagPlot           = "plot"
	flagHistogram      = "histogram"
	flagSection        = "section"
	flagAffects        = "affects"

	loggerKey  = "logger"
	logFileKey = "log-file"
)

var app = &cli.App{
	Name:            "mmsolver",
	Usage:           "solve camera and bundle attributes against 2D markers",
	HideHelpCommand: true,
	Flags: []cli.Flag{
		&cli.BoolFlag{
			Name:    flagDebug,
			Aliases: []string{"vvv"},
			Usage:   "enable debug logging",
		},
		&cli.StringFlag{
			Name:  flagLogFile,
			Usage: "also write log entries to `FILE`, rotated as it grows",
		},
	},
	Before: setupLogger,
	After:  closeLogFile,
	Commands: []*cli.Command{
		{
			Name:      "solve",
			Usage:     "solve the attributes of a request and print the result",
			ArgsUsage: "<request.json>",
			Flags: []cli.Flag{
				&cli.StringFlag{
					Name:  flagSolverType,
					Usage: "override the solver type",
				},
				&cli.IntFlag{
					Name:  flagIterations,
					Usage: "override the iterations of each sub-solve",
				},
				&cli.StringFlag{
					Name:  flagFrameSolveMode,
					Usage: "override the frame solve mode",
				},
				&cli.DurationFlag{
					Name:  flagTimeout,
					Usage: "stop solving after this long",
				},
				&cli.BoolFlag{
					Name:  flagVerbose,
					Usage: "log every iteration",
				},
				&cli.BoolFlag{
					Name:  flagValues,
					Usage: "print the solved attribute values as JSON",
				},
				&cli.StringFlag{
					Name:  flagPlot,
					Usage: "write a plot of the per frame deviation to `FILE` (png, svg or pdf)",
				},
				&cli.IntFlag{
					Name:  flagHistogram,
					Usage: "print a histogram of the marker deviations with this many `BINS`",
				},
			},
			Action: SolveAction,
		},
		{
			Name:      "affects",
			Usage:     "print the attributes each marker of a request depends on",
			ArgsUsage: "<request.json>",
			Action:    AffectsAction,
		},
		{
			Name:      "statistics",
			Usage:     "print statistics about a request without solving",
			ArgsUsage: "<request.json>",
			Flags: []cli.Flag{
				&cli.StringSliceFlag{
					Name:  flagSection,
					Usage: "sections to print: inputs, affects or deviation",
					Value: cli.NewStringSlice("inputs", "affects"),
				},
			},
			Action: StatisticsAction,
		},
		{
			Name:      "exec",
			Usage:     "run a solve command in the host argument form against the scene of a request",
			ArgsUsage: "<request.json> -- -camera camera1 cameraShape1 ...",
			Flags: []cli.Flag{
				&cli.BoolFlag{
					Name:  flagAffects,
					Usage: "run the affects command instead of solving",
				},
			},
			Action: ExecAction,
		},
		{
			Name:   "options",
			Usage:  "list the solver options a request may set, with their defaults",
			Action: OptionsAction,
		},
		{
			Name:   "schema",
			Usage:  "print the JSON schema of a request",
			Action: SchemaAction,
		},
	},
}

// NewApp returns a new app with the CLI API, Writer set to out, and ErrWriter
// set to errOut.
func NewApp(out, errOut io.Writer) *cli.App {
	app.Writer = out
	app.ErrWriter = errOut
	return app
}

func setupLogger(c *cli.Context) error {
	logger := logging.NewBlankLogger("mmsolver")
	logger.AddAppender(logging.NewWriterAppender(c.App.ErrWriter))
	if c.App.Metadata == nil {
		c.App.Metadata = map[string]interface{}{}
	}
	if path := c.String(flagLogFile); path != "" {
		logFile := &lumberjack.Logger{
			Filename:   path,
			MaxSize:    64,
			MaxBackups: 2,
			Compress:   true,
		}
		logger.AddAppender(logging.NewWriterAppender(logFile))
		c.App.Metadata[logFileKey] = logFile
	}
	if c.Bool(flagDebug) {
		logger.SetLevel(logging.DEBUG)
		c.Context = logging.EnableDebugMode(c.Context, "")
	} else {
		logger.SetLevel(logging.WARN)
	}
	c.App.Metadata[loggerKey] = logger
	logging.ReplaceGlobal(logger)
	return nil
}

func closeLogFile(c *cli.Context) error {
	logFile, ok := c.App.Metadata[logFileKey].(*lumberjack.Logger)
	if !ok {
		return nil
	}
	delete(c.App.Metadata, logFileKey)
	return logFile.Close()
}
