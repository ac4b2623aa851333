// Package metrics keeps process-wide counters and reports them
// periodically as JSON.
package metrics

import (
	"io"
	"os"
	"time"

	gometrics "github.com/rcrowley/go-metrics"
)

type metrics struct {
	log  io.Writer
	reg  gometrics.Registry
	tick time.Duration
}

var m = &metrics{
	log:  os.Stderr,
	reg:  gometrics.NewRegistry(),
	tick: 60 * time.Second,
}

// Start reports every tick to stderr until the process exits
func Start(tick time.Duration) {
	if tick > 0 {
		m.tick = tick
	}
	go gometrics.WriteJSON(m.reg, m.tick, m.log)
}

// WriteOnce writes a single JSON snapshot to w
func WriteOnce(w io.Writer) {
	gometrics.WriteJSONOnce(m.reg, w)
}

func Incr(name string, i int64) {
	gometrics.GetOrRegisterCounter(name, m.reg).Inc(i)
}

func Decr(name string, i int64) {
	gometrics.GetOrRegisterCounter(name, m.reg).Dec(i)
}

func Mark(name string, i int64) {
	gometrics.GetOrRegisterMeter(name, m.reg).Mark(i)
}

// Count returns the current value of a counter
func Count(name string) int64 {
	return gometrics.GetOrRegisterCounter(name, m.reg).Count()
}
