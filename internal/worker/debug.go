package worker

import (
	"log"
	"os"
)

// LISTOPIA_WORKER_DEBUG=1 turns on per-turn tracing. Off by default; the
// traces include message ids and phase changes but never message content.
var debugEnabled = os.Getenv("LISTOPIA_WORKER_DEBUG") == "1"

func debugf(format string, args ...any) {
	if debugEnabled {
		log.Printf("worker: "+format, args...)
	}
}
