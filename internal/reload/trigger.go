package reload

import "log/slog"

// Trigger requests a reload of the managed workers.
type Trigger interface {
	Reload()
}

// Func adapts an ordinary function to a Trigger.
type Func func()

// Reload calls f.
func (f Func) Reload() {
	if f != nil {
		f()
	}
}

// Multi calls each trigger in order.
type Multi []Trigger

// Reload calls every trigger in m.
func (m Multi) Reload() {
	for _, t := range m {
		if t != nil {
			t.Reload()
		}
	}
}

// Nop is a Trigger that does nothing.
var Nop Trigger = Func(nil)

func loggerOrDefault(logger *slog.Logger) *slog.Logger {
	if logger == nil {
		return slog.Default()
	}
	return logger
}
