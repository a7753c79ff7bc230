package testlog

import (
	"testing"

	"github.com/danmuck/rosctl/internal/logging"
)

// Start configures test logging once and tags the test in the log.
func Start(t *testing.T) {
	t.Helper()
	l := logging.ConfigureTests()
	l.Info().Str("test", t.Name()).Msg("start")
}
