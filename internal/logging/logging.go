// Package logging provides the structured logger handles used throughout
// imageintact. Every package obtains its logger via Module(name), mirroring
// the convention of a single package-level, stateless logger handle.
package logging

import (
	"sync"

	"go.uber.org/zap"
)

var (
	baseMu   sync.RWMutex
	base     *zap.Logger
	sugarMap = map[string]*zap.SugaredLogger{}
)

func init() {
	l, err := zap.NewProduction()
	if err != nil {
		l = zap.NewNop()
	}

	base = l
}

// SetBase replaces the process-wide base logger (e.g. to switch to a
// development config, or to redirect output under test). It is intended to
// be called once, at process start, before any Module() loggers are used.
func SetBase(l *zap.Logger) {
	baseMu.Lock()
	defer baseMu.Unlock()

	base = l
	sugarMap = map[string]*zap.SugaredLogger{}
}

// Module returns a named logger scoped to the given module, e.g.
// "imageintact/digest" or "imageintact/cli". The returned logger is safe for
// concurrent use and stable for the lifetime of the process.
func Module(name string) *zap.SugaredLogger {
	baseMu.RLock()
	if l, ok := sugarMap[name]; ok {
		baseMu.RUnlock()
		return l
	}
	baseMu.RUnlock()

	baseMu.Lock()
	defer baseMu.Unlock()

	if l, ok := sugarMap[name]; ok {
		return l
	}

	l := base.Named(name).Sugar()
	sugarMap[name] = l

	return l
}
