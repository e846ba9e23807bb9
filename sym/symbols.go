// Package sym defines the canonical symbols used as structured log fields and
// CLI markers. They are stable across logs, CLI output, and documentation.
package sym

// System markers.
const (
	AM         = "≡" // am: configuration and system settings
	Pulse      = "꩜" // pulse: async jobs and scheduling
	PulseOpen  = "✿" // pulse startup
	PulseClose = "❀" // pulse shutdown
	DB         = "⊔" // database and storage
	Enrol      = "⊕" // enrolment status calculation
)

// CommandToSymbol maps CLI command names to their symbols.
var CommandToSymbol = map[string]string{
	"am":        AM,
	"pulse":     Pulse,
	"jobs":      Pulse,
	"db":        DB,
	"enrolment": Enrol,
}

// SymbolToCommand maps symbols back to the primary command name.
var SymbolToCommand = map[string]string{
	AM:    "am",
	Pulse: "pulse",
	DB:    "db",
	Enrol: "enrolment",
}

// Prefix returns the symbol for a command followed by a space, or an empty
// string when the command has no symbol.
func Prefix(command string) string {
	if s, ok := CommandToSymbol[command]; ok {
		return s + " "
	}
	return ""
}
