package logx

import (
	"strings"

	"github.com/coreos/go-systemd/v22/journal"
	"github.com/rs/zerolog"
)

// journalWriter forwards log lines to the systemd journal with a mapped
// priority. Lines below minLevel are skipped.
//
// Sends are best-effort: a journal outage must never fail the logger.
type journalWriter struct {
	minLevel zerolog.Level
}

// newJournalWriter returns nil when no journal socket is available
// (non-systemd hosts, containers without /run/systemd/journal).
func newJournalWriter(minLevel zerolog.Level) *journalWriter {
	if !journal.Enabled() {
		return nil
	}
	return &journalWriter{minLevel: minLevel}
}

func (w *journalWriter) Write(p []byte) (int, error) {
	// Default to info when WriteLevel isn't used.
	return w.WriteLevel(zerolog.InfoLevel, p)
}

func (w *journalWriter) WriteLevel(level zerolog.Level, p []byte) (int, error) {
	if w == nil || level < w.minLevel {
		return len(p), nil
	}

	msg := strings.TrimSpace(string(p))
	if msg == "" {
		return len(p), nil
	}

	_ = journal.Send(msg, journalPriority(level), nil)
	return len(p), nil
}

func journalPriority(level zerolog.Level) journal.Priority {
	switch {
	case level >= zerolog.ErrorLevel:
		return journal.PriErr
	case level >= zerolog.WarnLevel:
		return journal.PriWarning
	case level >= zerolog.InfoLevel:
		return journal.PriInfo
	default:
		return journal.PriDebug
	}
}
