package commands

import (
	"fmt"
	"io"

	"github.com/pterm/pterm"

	"github.com/teranos/enrolpulse/logger"
	"github.com/teranos/enrolpulse/pulse"
)

// consoleEmitter prints calculation progress for a person at a terminal.
type consoleEmitter struct {
	out io.Writer
}

func newConsoleEmitter(out io.Writer) *consoleEmitter {
	return &consoleEmitter{out: out}
}

var _ pulse.ProgressEmitter = (*consoleEmitter)(nil)

func (c *consoleEmitter) EmitStage(stage string, message string) {
	fmt.Fprint(c.out, pterm.Info.Sprintln(message))
}

// EmitProgress prints the cursor once a user has been processed; 0 means none yet.
func (c *consoleEmitter) EmitProgress(lastUserID int64, metadata map[string]interface{}) {
	if lastUserID != 0 {
		fmt.Fprintf(c.out, "Last processed user ID: %d\n", lastUserID)
	}
	logger.Logger.Debugw("Slice finished", "last_user_id", lastUserID, "slice", metadata)
}

func (c *consoleEmitter) EmitComplete(message string, summary map[string]interface{}) {
	fmt.Fprint(c.out, pterm.Success.Sprintln(message))
	logger.Logger.Debugw("Calculation summary", "summary", summary)
}

// EmitError only logs: the command returns the error and main prints it once.
func (c *consoleEmitter) EmitError(stage string, err error) {
	logger.Logger.Debugw("Calculation stage failed", "stage", stage, logger.FieldError, err)
}

func (c *consoleEmitter) EmitInfo(message string) {
	fmt.Fprint(c.out, pterm.Info.Sprintln(message))
}
