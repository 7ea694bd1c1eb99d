package logging

import (
	"io"
	"os"
)

// newJournaldWriter returns a writer usable when the process is expected to
// run under systemd with stdout connected to the journal: newline-delimited
// JSON written to stderr, which systemd's journal captures and indexes like
// any other service output. RUSTY_ENABLE_JOURNALD/RUSTY_LOG_FORMAT=journald is a
// destination switch, not a protocol switch — no sd_journal socket binding
// is needed since systemd already does that capture for us.
func newJournaldWriter(service string) io.Writer {
	_ = service
	return os.Stderr
}
