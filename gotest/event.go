// Package gotest reports 'go test -json' streams through a reporter.Reporter.
//
// Events from parallel tests interleave in the stream, while the reporter
// expects strictly nested start/end calls. Events are therefore collected per
// package and each package is replayed once its terminal event arrives.
package gotest

import (
	"encoding/json"
	"time"
)

// Actions emitted by test2json
const (
	ActionStart  = "start"
	ActionRun    = "run"
	ActionPause  = "pause"
	ActionCont   = "cont"
	ActionPass   = "pass"
	ActionFail   = "fail"
	ActionSkip   = "skip"
	ActionOutput = "output"
	ActionBench  = "bench"
)

// TestEvent represents a test event from go test -json output
type TestEvent struct {
	Time    time.Time
	Action  string
	Package string
	Test    string
	Elapsed float64
	Output  string
}

// IsTerminal reports whether the event ends a test or package
func (e TestEvent) IsTerminal() bool {
	switch e.Action {
	case ActionPass, ActionFail, ActionSkip:
		return true
	}
	return false
}

func parseTestEvent(line []byte) (TestEvent, error) {
	var event TestEvent
	if err := json.Unmarshal(line, &event); err != nil {
		return event, err
	}
	return event, nil
}
