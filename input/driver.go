package input

import (
	"fmt"
	"log/slog"
	"sync"
)

// LogDriver reports every effect through slog instead of touching the OS.
type LogDriver struct {
	logger *slog.Logger
}

func NewLogDriver(logger *slog.Logger) *LogDriver {
	if logger == nil {
		logger = slog.Default()
	}
	return &LogDriver{logger: logger}
}

func (d *LogDriver) MoveRelative(dx, dy float64) error {
	d.logger.Debug("Input mouse move", "dx", dx, "dy", dy)
	return nil
}

func (d *LogDriver) Button(button Button, action Action) error {
	d.logger.Debug("Input mouse button", "button", button, "action", action)
	return nil
}

func (d *LogDriver) Scroll(vertical, horizontal int) error {
	d.logger.Debug("Input mouse scroll", "vertical", vertical, "horizontal", horizontal)
	return nil
}

func (d *LogDriver) Key(key string, action Action) error {
	d.logger.Debug("Input key", "key", key, "action", action)
	return nil
}

func (d *LogDriver) Press(key string) error {
	d.logger.Debug("Input key press", "key", key)
	return nil
}

// Recorder is a Driver that remembers the effects it was asked to perform.
type Recorder struct {
	mu      sync.Mutex
	effects []string
	Err     error // returned from every call when set
}

func (r *Recorder) record(format string, args ...any) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.Err != nil {
		return r.Err
	}
	r.effects = append(r.effects, fmt.Sprintf(format, args...))
	return nil
}

func (r *Recorder) Effects() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.effects...)
}

func (r *Recorder) MoveRelative(dx, dy float64) error {
	return r.record("move %g %g", dx, dy)
}

func (r *Recorder) Button(button Button, action Action) error {
	return r.record("button %s %s", button, action)
}

func (r *Recorder) Scroll(vertical, horizontal int) error {
	return r.record("scroll %d %d", vertical, horizontal)
}

func (r *Recorder) Key(key string, action Action) error {
	return r.record("key %s %s", key, action)
}

func (r *Recorder) Press(key string) error {
	return r.record("press %s", key)
}

var (
	_ Driver = (*LogDriver)(nil)
	_ Driver = (*Recorder)(nil)
)
