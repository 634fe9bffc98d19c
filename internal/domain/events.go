package domain

// Step tags an outgoing event with the stage that produced it.
type Step string

const (
	StepLLM          Step = "llm"
	StepTTS          Step = "tts"
	StepDigitalHuman Step = "dg"
	StepAll          Step = "all"
)

// Event is one frame of the outgoing stream. Exactly one event per request
// has EndFlag set, and it is the last one.
type Event struct {
	Event    string   `json:"event"`
	Retry    int      `json:"retry"`
	ID       int      `json:"id"`
	Data     string   `json:"data"`
	Step     Step     `json:"step"`
	EndFlag  bool     `json:"end_flag"`
	// Pending counts artifacts still awaited on tts and dg progress events.
	Pending  int      `json:"pending,omitempty"`
	Failed   bool     `json:"failed,omitempty"`
	Error    string   `json:"error,omitempty"`
	Degraded []string `json:"degraded,omitempty"`
}

// NewEvent builds a progress event.
func NewEvent(id int, step Step, data string) Event {
	return Event{
		Event: "message",
		Retry: 100,
		ID:    id,
		Data:  data,
		Step:  step,
	}
}
