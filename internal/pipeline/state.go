package pipeline

import (
	"fmt"

	"github.com/streamer-sales/sales-gateway/internal/domain"
)

// State is a request's position in the pipeline.
type State string

const (
	StateGenerating    State = "GENERATING"
	StateAwaitingAudio State = "AWAITING_AUDIO"
	StateMerging       State = "MERGING"
	StateAwaitingVideo State = "AWAITING_VIDEO"
	StateDone          State = "DONE"
	StateFailed        State = "FAILED"
)

// Terminal reports whether no further transition is possible.
func (s State) Terminal() bool {
	return s == StateDone || s == StateFailed
}

// transitions lists the legal successors of each non-terminal state. FAILED
// is reachable from every non-terminal state and is not listed.
var transitions = map[State][]State{
	StateGenerating:    {StateAwaitingAudio, StateDone},
	StateAwaitingAudio: {StateMerging, StateDone},
	StateMerging:       {StateAwaitingVideo, StateDone},
	StateAwaitingVideo: {StateDone},
}

// machine tracks one request's state. It is owned by a single goroutine.
type machine struct {
	state   State
	history []State
	// onEnter runs after every successful transition.
	onEnter func(State)
}

func newMachine() *machine {
	return &machine{state: StateGenerating, history: []State{StateGenerating}}
}

// to moves to next. An illegal move is a programmer error and is reported
// as a segmentation-class StageError; the state is left unchanged.
func (m *machine) to(next State) error {
	if !m.allowed(next) {
		return domain.NewStageError(domain.ErrorKindSegmentation, "pipeline",
			fmt.Errorf("illegal transition %s -> %s", m.state, next))
	}
	m.state = next
	m.history = append(m.history, next)
	if m.onEnter != nil {
		m.onEnter(next)
	}
	return nil
}

func (m *machine) allowed(next State) bool {
	if m.state.Terminal() {
		return false
	}
	if next == StateFailed {
		return true
	}
	for _, s := range transitions[m.state] {
		if s == next {
			return true
		}
	}
	return false
}

// visited reports whether the machine has ever been in s.
func (m *machine) visited(s State) bool {
	for _, h := range m.history {
		if h == s {
			return true
		}
	}
	return false
}

// Features is the server-side plugin enablement.
type Features struct {
	Agent        bool
	RAG          bool
	TTS          bool
	DigitalHuman bool
}

// AllFeatures enables every plugin.
func AllFeatures() Features {
	return Features{Agent: true, RAG: true, TTS: true, DigitalHuman: true}
}

// Effective combines the request's plugin flags with server enablement.
// Digital human needs chunk audio, so it also requires TTS.
func (f Features) Effective(p domain.PluginsInfo) domain.PluginsInfo {
	out := domain.PluginsInfo{
		Agent: p.Agent && f.Agent,
		RAG:   p.RAG && f.RAG,
		TTS:   p.TTS && f.TTS,
	}
	out.DigitalHuman = p.DigitalHuman && f.DigitalHuman && out.TTS
	return out
}
