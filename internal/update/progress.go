package update

import (
	"log/slog"
	"sync/atomic"
)

// UnknownTotal is passed to Progress.Begin when the amount of work is not
// known up front.
const UnknownTotal = -1

// Progress receives aggregate progress of a scheduling run. Worked is called
// from task goroutines and must be safe for concurrent use.
type Progress interface {
	Begin(name string, total int)
	Worked(n int)
	Done()
}

// NopProgress discards all progress.
type NopProgress struct{}

func (NopProgress) Begin(string, int) {}
func (NopProgress) Worked(int)        {}
func (NopProgress) Done()             {}

// LogProgress reports progress as debug log lines.
type LogProgress struct {
	Logger *slog.Logger

	name      string
	completed atomic.Int64
}

func (p *LogProgress) Begin(name string, total int) {
	p.name = name
	p.completed.Store(0)
	p.Logger.Debug("begin", "task", name, "total", total)
}

func (p *LogProgress) Worked(n int) {
	done := p.completed.Add(int64(n))
	p.Logger.Debug("progress", "task", p.name, "completed", done)
}

func (p *LogProgress) Done() {
	p.Logger.Debug("done", "task", p.name, "completed", p.completed.Load())
}
