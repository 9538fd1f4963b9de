package display

import (
	"fmt"
	"io"
	"sort"
	"strings"

	"github.com/sirupsen/logrus"
	"github.com/srg/hrmon/internal/ringchan"
)

// LogHook copies log entries into a ring channel as single lines.
type LogHook struct {
	lines *ringchan.RingChannel[string]
}

func NewLogHook(lines *ringchan.RingChannel[string]) *LogHook {
	return &LogHook{lines: lines}
}

func (h *LogHook) Levels() []logrus.Level { return logrus.AllLevels }

func (h *LogHook) Fire(e *logrus.Entry) error {
	h.lines.Send(FormatEntry(e))
	return nil
}

// FormatEntry renders "15:04:05 INFO message k=v ..." with keys sorted.
func FormatEntry(e *logrus.Entry) string {
	var b strings.Builder
	b.WriteString(e.Time.Format("15:04:05"))
	b.WriteByte(' ')
	level := strings.ToUpper(e.Level.String())
	if len(level) > 4 {
		level = level[:4]
	}
	b.WriteString(level)
	b.WriteByte(' ')
	b.WriteString(e.Message)

	keys := make([]string, 0, len(e.Data))
	for k := range e.Data {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		fmt.Fprintf(&b, " %s=%v", k, e.Data[k])
	}
	return b.String()
}

// RedirectLogs silences the logger's writer and sends entries to lines instead.
// The returned func restores the previous writer and hooks.
func RedirectLogs(logger *logrus.Logger, lines *ringchan.RingChannel[string]) (restore func()) {
	hooks := make(logrus.LevelHooks)
	for level, hs := range logger.Hooks {
		hooks[level] = append([]logrus.Hook(nil), hs...)
	}
	hooks.Add(NewLogHook(lines))

	out := logger.Out
	previous := logger.ReplaceHooks(hooks)
	logger.SetOutput(io.Discard)

	return func() {
		logger.SetOutput(out)
		logger.ReplaceHooks(previous)
	}
}
