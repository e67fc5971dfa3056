package pipeline

import (
	"fmt"
	"strings"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// logBuffer collects per-stage lines for one token and flushes them as a
// single log event, so concurrent token processing never interleaves.
type logBuffer struct {
	mint  string
	lines []string
}

func newLogBuffer(mint string) *logBuffer {
	return &logBuffer{mint: mint}
}

func (b *logBuffer) addf(format string, args ...interface{}) {
	b.lines = append(b.lines, fmt.Sprintf(format, args...))
}

func (b *logBuffer) stage(name string, pass bool, durMs int64, reason string) {
	mark := "pass"
	if !pass {
		mark = "FAIL"
	}
	if reason == "" {
		b.addf("%-22s %s (%dms)", name, mark, durMs)
	} else {
		b.addf("%-22s %s (%dms) %s", name, mark, durMs, reason)
	}
}

// flush emits the buffered block at the given level in one event.
func (b *logBuffer) flush(level zerolog.Level, passed bool, totalMs int64) {
	log.WithLevel(level).
		Str("mint", b.mint).
		Bool("passed", passed).
		Int64("durationMs", totalMs).
		Str("stages", strings.Join(b.lines, " | ")).
		Msg("pipeline decision")
}
