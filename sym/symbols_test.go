package sym

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSymbolMappingsRoundTrip(t *testing.T) {
	for symbol, command := range SymbolToCommand {
		assert.Equal(t, symbol, CommandToSymbol[command], "command %s", command)
	}
}

func TestPrefix(t *testing.T) {
	assert.Equal(t, Enrol+" ", Prefix("enrolment"))
	assert.Equal(t, Pulse+" ", Prefix("jobs"))
	assert.Empty(t, Prefix("version"))
}
