package engine

import (
	"sync"

	"github.com/JakeFAU/patent-crawler/internal/crawler"
	"github.com/JakeFAU/patent-crawler/internal/progress"
)

// reporter stamps events with the run ID, a sequence number, a timestamp and
// the active fetch mode before forwarding them.
type reporter struct {
	mu    sync.Mutex
	runID [16]byte
	seq   int64
	mode  string
	clock crawler.Clock
	out   progress.Emitter
}

func (r *reporter) Emit(evt progress.Event) {
	r.mu.Lock()
	r.seq++
	evt.RunID = r.runID
	evt.Seq = r.seq
	evt.TS = r.clock.Now()
	if evt.Level == "" {
		evt.Level = progress.LevelInfo
	}
	if evt.Mode == "" {
		evt.Mode = r.mode
	}
	r.mu.Unlock()
	r.out.Emit(evt)
}

func (r *reporter) setMode(mode crawler.FetchMode) {
	r.mu.Lock()
	r.mode = string(mode)
	r.mu.Unlock()
}

func (r *reporter) info(stage progress.Stage, msg string) {
	r.Emit(progress.Event{Level: progress.LevelInfo, Stage: stage, Message: msg})
}

func (r *reporter) warn(stage progress.Stage, msg string) {
	r.Emit(progress.Event{Level: progress.LevelWarn, Stage: stage, Message: msg})
}
