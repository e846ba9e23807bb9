// Package pulse holds the pieces shared by every background job driver.
package pulse

// ProgressEmitter receives progress while a driver runs a job slice by slice.
// It is domain-agnostic; drivers put domain values in the metadata maps.
type ProgressEmitter interface {
	// EmitStage announces the start of a processing stage
	EmitStage(stage string, message string)

	// EmitProgress reports the cursor after a slice.
	EmitProgress(lastUserID int64, metadata map[string]interface{})

	// EmitComplete announces successful completion with summary
	EmitComplete(message string, summary map[string]interface{})

	// EmitError announces an error during processing
	EmitError(stage string, err error)

	// EmitInfo emits general informational message
	EmitInfo(message string)
}

// Stages announced through EmitStage.
const (
	StageCheck   = "check"
	StageStart   = "start"
	StageResume  = "resume"
	StageRestart = "restart"
	StageRun     = "run"
)

// NopEmitter discards all progress.
type NopEmitter struct{}

func (NopEmitter) EmitStage(string, string)                    {}
func (NopEmitter) EmitProgress(int64, map[string]interface{})  {}
func (NopEmitter) EmitComplete(string, map[string]interface{}) {}
func (NopEmitter) EmitError(string, error)                     {}
func (NopEmitter) EmitInfo(string)                             {}
