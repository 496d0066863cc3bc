package cli

import (
	"fmt"
	"io"

	"github.com/fatih/color"
	"github.com/urfave/cli/v2"

	"go.viam.com/mmsolver/logging"
	"go.viam.com/mmsolver/utils"
)

// printf prints a message with no prefix.
func printf(w io.Writer, format string, a ...interface{}) {
	//nolint:errcheck // no need to check for an error when printing
	fmt.Fprintf(w, format+"\n", a...)
}

// warningf prints a message prefixed with a bold yellow "Warning: ".
func warningf(w io.Writer, format string, a ...interface{}) {
	//nolint:errcheck
	fmt.Fprintf(w, color.New(color.Bold, color.FgYellow).Sprint("Warning: ")+format+"\n", a...)
}

func loggerFrom(c *cli.Context) logging.Logger {
	logger, err := utils.AssertType[logging.Logger](c.App.Metadata[loggerKey])
	if err != nil {
		return logging.Global()
	}
	return logger
}
