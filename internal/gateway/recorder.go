package gateway

import (
	"context"
	"slices"
	"strings"
	"sync"
)

// Mode identifies which Gateway method produced a Call.
type Mode string

const (
	ModeCapture Mode = "capture"
	ModeStream  Mode = "stream"
	ModeSpawn   Mode = "spawn"
)

// Call is one recorded invocation.
type Call struct {
	Mode    Mode
	Argv    []string
	LogPath string
}

// String renders the call as a shell-like command line.
func (c Call) String() string {
	return strings.Join(c.Argv, " ")
}

type rule struct {
	prefix  []string
	respond func(Call) Result
}

// Recorder is a Gateway test double. It records every call in order and
// answers with the most recently registered rule whose prefix matches the
// argv; unmatched calls succeed with empty output.
//
// Recorder is safe for concurrent use.
type Recorder struct {
	mu    sync.Mutex
	calls []Call
	rules []rule
}

// NewRecorder creates an empty Recorder.
func NewRecorder() *Recorder {
	return &Recorder{}
}

// On registers a fixed result for calls whose argv starts with prefix.
func (r *Recorder) On(prefix []string, result Result) {
	r.OnFunc(prefix, func(c Call) Result {
		result.Command = c.Argv
		return result
	})
}

// OnOutput registers a successful result with the given output.
func (r *Recorder) OnOutput(prefix []string, output string) {
	r.On(prefix, Result{Success: true, Output: output})
}

// OnFail registers a failed result with the given diagnostic.
func (r *Recorder) OnFail(prefix []string, msg string) {
	r.On(prefix, Result{Success: false, ErrorMessage: msg})
}

// OnFunc registers a dynamic responder for calls whose argv starts with prefix.
func (r *Recorder) OnFunc(prefix []string, respond func(Call) Result) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.rules = append(r.rules, rule{prefix: slices.Clone(prefix), respond: respond})
}

// Calls returns a copy of every recorded call.
func (r *Recorder) Calls() []Call {
	r.mu.Lock()
	defer r.mu.Unlock()
	return slices.Clone(r.calls)
}

// Commands returns every recorded call rendered as a command line.
func (r *Recorder) Commands() []string {
	calls := r.Calls()
	out := make([]string, len(calls))
	for i, c := range calls {
		out[i] = c.String()
	}
	return out
}

// CommandsWith returns the recorded command lines that start with prefix.
func (r *Recorder) CommandsWith(prefix ...string) []string {
	var out []string
	for _, c := range r.Calls() {
		if hasPrefix(c.Argv, prefix) {
			out = append(out, c.String())
		}
	}
	return out
}

// Reset forgets recorded calls but keeps rules.
func (r *Recorder) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls = nil
}

func (r *Recorder) record(c Call) Result {
	r.mu.Lock()
	c.Argv = slices.Clone(c.Argv)
	r.calls = append(r.calls, c)
	var respond func(Call) Result
	for i := len(r.rules) - 1; i >= 0; i-- {
		if hasPrefix(c.Argv, r.rules[i].prefix) {
			respond = r.rules[i].respond
			break
		}
	}
	r.mu.Unlock()

	if respond == nil {
		return Succeeded(c.Argv, "")
	}
	res := respond(c)
	res.Command = c.Argv
	return res
}

func hasPrefix(argv, prefix []string) bool {
	if len(prefix) > len(argv) {
		return false
	}
	for i, p := range prefix {
		if argv[i] != p {
			return false
		}
	}
	return true
}

// Capture implements Gateway.
func (r *Recorder) Capture(_ context.Context, argv []string) Result {
	return r.record(Call{Mode: ModeCapture, Argv: argv})
}

// Stream implements Gateway. Output of the matched result is fed to sink
// line by line.
func (r *Recorder) Stream(_ context.Context, argv []string, sink func(line string)) Result {
	res := r.record(Call{Mode: ModeStream, Argv: argv})
	if sink != nil && res.Output != "" {
		for _, line := range strings.Split(res.Output, "\n") {
			sink(line)
		}
	}
	res.Output = ""
	return res
}

// Spawn implements Gateway.
func (r *Recorder) Spawn(argv []string, opts SpawnOptions) Result {
	return r.record(Call{Mode: ModeSpawn, Argv: argv, LogPath: opts.LogPath})
}
