package pipeline

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/streamer-sales/sales-gateway/internal/artifact"
	"github.com/streamer-sales/sales-gateway/internal/audio"
	"github.com/streamer-sales/sales-gateway/internal/domain"
	"github.com/streamer-sales/sales-gateway/internal/llm"
	"github.com/streamer-sales/sales-gateway/internal/prompt"
	"github.com/streamer-sales/sales-gateway/internal/queue"
	"github.com/streamer-sales/sales-gateway/internal/queue/memory"
	"github.com/streamer-sales/sales-gateway/internal/storage"
	memstore "github.com/streamer-sales/sales-gateway/internal/storage/memory"
	"github.com/streamer-sales/sales-gateway/internal/tokens"
	"github.com/streamer-sales/sales-gateway/internal/worker"
)

// Two chunks: "宝子们好呀。" and "这款苹果脆甜多汁！". The last delta is a
// trailing fragment.
var salesDeltas = []string{"宝子们好呀。", "这款苹果", "脆甜多汁！", "欢迎下单"}

type fakeSource struct {
	deltas []string
	err    error
	midErr error
	// block keeps the stream open after deltas until ctx is done.
	block bool

	mu     sync.Mutex
	calls  int
	prompt []domain.Message
}

func (f *fakeSource) Stream(ctx context.Context, messages []domain.Message, cfg domain.ChatGenConfig) (<-chan llm.Delta, error) {
	f.mu.Lock()
	f.calls++
	f.prompt = append([]domain.Message(nil), messages...)
	f.mu.Unlock()

	if f.err != nil {
		return nil, f.err
	}
	ch := make(chan llm.Delta)
	go func() {
		defer close(ch)
		for _, d := range f.deltas {
			select {
			case ch <- llm.Delta{Text: d}:
			case <-ctx.Done():
				return
			}
		}
		if f.midErr != nil {
			select {
			case ch <- llm.Delta{Err: f.midErr}:
			case <-ctx.Done():
			}
			return
		}
		if f.block {
			<-ctx.Done()
		}
	}()
	return ch, nil
}

// recordingJournal keeps every state a request was journaled in.
type recordingJournal struct {
	*memstore.Store

	mu     sync.Mutex
	states []string
}

func (j *recordingJournal) SaveRequest(ctx context.Context, rec *storage.RequestRecord) error {
	j.mu.Lock()
	j.states = append(j.states, rec.State)
	j.mu.Unlock()
	return j.Store.SaveRequest(ctx, rec)
}

func (j *recordingJournal) history() []string {
	j.mu.Lock()
	defer j.mu.Unlock()
	return slices.Clone(j.states)
}

// failingBridge rejects submissions to the listed queues and counts every
// attempt.
type failingBridge struct {
	queue.Bridge
	fail map[queue.Name]bool

	mu       sync.Mutex
	attempts map[queue.Name]int
}

func (b *failingBridge) Submit(ctx context.Context, q queue.Name, job queue.Job) error {
	b.mu.Lock()
	if b.attempts == nil {
		b.attempts = make(map[queue.Name]int)
	}
	b.attempts[q]++
	b.mu.Unlock()

	if b.fail[q] {
		return errors.New("broker unavailable")
	}
	return b.Bridge.Submit(ctx, q, job)
}

func (b *failingBridge) attemptsOn(q queue.Name) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.attempts[q]
}

type harness struct {
	t       *testing.T
	layout  artifact.Layout
	bridge  *memory.Bridge
	journal *recordingJournal
	cfg     Config
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	dir := t.TempDir()
	layout := artifact.Layout{
		TTSDir:   filepath.Join(dir, "tts"),
		VideoDir: filepath.Join(dir, "video"),
	}
	for _, d := range []string{layout.TTSDir, layout.VideoDir} {
		if err := os.MkdirAll(d, 0o755); err != nil {
			t.Fatal(err)
		}
	}
	bridge := memory.New()
	t.Cleanup(func() { bridge.Close() })

	return &harness{
		t:       t,
		layout:  layout,
		bridge:  bridge,
		journal: &recordingJournal{Store: memstore.New()},
		cfg: Config{
			Layout:       layout,
			Features:     AllFeatures(),
			PollInterval: 5 * time.Millisecond,
			AudioTimeout: 2 * time.Second,
			VideoTimeout: 2 * time.Second,
		},
	}
}

// startWorkers runs speech and render pools on the harness bridge until the
// test ends.
func (h *harness) startWorkers(speech worker.Handler) {
	h.t.Helper()
	if speech == nil {
		speech = h.silentSpeech()
	}
	h.runPools(
		worker.NewPool(h.bridge, worker.Config{Queue: queue.TTS, Parallel: 2}, speech, nil),
		worker.NewPool(h.bridge, worker.Config{Queue: queue.DigitalHuman}, worker.MarkerRenderer{Layout: h.layout}, nil),
	)
}

func (h *harness) silentSpeech() worker.Handler {
	return worker.SilentSpeech{Layout: h.layout, RuneDuration: time.Millisecond}
}

// runPools runs pools until the test ends.
func (h *harness) runPools(pools ...*worker.Pool) {
	h.t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	var wg sync.WaitGroup
	for _, p := range pools {
		wg.Add(1)
		go func(p *worker.Pool) {
			defer wg.Done()
			p.Run(ctx)
		}(p)
	}
	h.t.Cleanup(func() {
		cancel()
		wg.Wait()
	})
}

func (h *harness) orchestrator(source llm.TokenSource, opts ...Option) *Orchestrator {
	return h.orchestratorWithBridge(source, h.bridge, opts...)
}

func (h *harness) orchestratorWithBridge(source llm.TokenSource, bridge queue.Bridge, opts ...Option) *Orchestrator {
	opts = append([]Option{WithJournal(h.journal), WithTokenCounter(tokens.NewEstimator())}, opts...)
	return New(source, bridge, h.cfg, opts...)
}

func newItem(requestID string) *domain.ChatItem {
	item := domain.NewChatItem()
	item.UserID = "streamer-1"
	item.RequestID = requestID
	item.Prompt = []domain.Message{{Role: "user", Content: "介绍一下苹果"}}
	return item
}

func collect(t *testing.T, events <-chan domain.Event) []domain.Event {
	t.Helper()
	var out []domain.Event
	timeout := time.After(10 * time.Second)
	for {
		select {
		case ev, ok := <-events:
			if !ok {
				return out
			}
			out = append(out, ev)
		case <-timeout:
			t.Fatalf("stream did not finish; got %d events", len(out))
		}
	}
}

// checkStream verifies id ordering and the single trailing terminal event,
// and returns the terminal event.
func checkStream(t *testing.T, events []domain.Event) domain.Event {
	t.Helper()
	if len(events) == 0 {
		t.Fatal("no events")
	}
	for i, ev := range events {
		if i > 0 && ev.ID <= events[i-1].ID {
			t.Fatalf("event %d id %d not greater than %d", i, ev.ID, events[i-1].ID)
		}
		if ev.EndFlag != (i == len(events)-1) {
			t.Fatalf("event %d end_flag = %v", i, ev.EndFlag)
		}
	}
	last := events[len(events)-1]
	if last.Step != domain.StepAll {
		t.Errorf("terminal step = %q, want all", last.Step)
	}
	return last
}

func countStep(events []domain.Event, step domain.Step) int {
	n := 0
	for _, ev := range events {
		if ev.Step == step {
			n++
		}
	}
	return n
}

func states(names ...State) []string {
	out := make([]string, len(names))
	for i, s := range names {
		out[i] = string(s)
	}
	return out
}

func TestOrchestrator_FullPipeline(t *testing.T) {
	h := newHarness(t)
	h.startWorkers(nil)
	o := h.orchestrator(&fakeSource{deltas: salesDeltas})

	events := collect(t, o.Stream(context.Background(), newItem("req-full")))
	last := checkStream(t, events)

	if last.Failed || len(last.Degraded) != 0 {
		t.Fatalf("terminal = %+v", last)
	}
	want := strings.Join(salesDeltas, "")
	if last.Data != want {
		t.Errorf("terminal data = %q, want %q", last.Data, want)
	}
	if n := countStep(events, domain.StepLLM); n != len(salesDeltas) {
		t.Errorf("llm events = %d, want %d", n, len(salesDeltas))
	}
	for _, ev := range events {
		if ev.Step == domain.StepLLM && !strings.HasPrefix(want, ev.Data) {
			t.Errorf("llm event data %q is not a prefix of the transcript", ev.Data)
		}
	}

	wantStates := states(StateGenerating, StateAwaitingAudio, StateMerging, StateAwaitingVideo, StateDone)
	if got := h.journal.history(); !slices.Equal(got, wantStates) {
		t.Errorf("journaled states = %v, want %v", got, wantStates)
	}

	merged := h.layout.MergedAudio("req-full")
	if _, err := os.Stat(merged); err != nil {
		t.Errorf("merged audio missing: %v", err)
	}
	for _, p := range h.layout.ChunkAudioPaths("req-full", 2) {
		if _, err := os.Stat(p); !os.IsNotExist(err) {
			t.Errorf("chunk %s not cleaned up", p)
		}
	}

	rec, err := h.journal.GetRequest(context.Background(), "req-full")
	if err != nil {
		t.Fatalf("GetRequest() error = %v", err)
	}
	if rec.Status != storage.StatusDone || rec.Chunks != 2 {
		t.Errorf("record status=%s chunks=%d", rec.Status, rec.Chunks)
	}
	if rec.MergedAudio != merged || rec.Video != h.layout.Video(merged) {
		t.Errorf("record artifacts = %q, %q", rec.MergedAudio, rec.Video)
	}
	if rec.CompletionTokens == 0 {
		t.Error("completion tokens not counted")
	}
}

func TestOrchestrator_TTSOnlyNeverAwaitsVideo(t *testing.T) {
	h := newHarness(t)
	o := h.orchestrator(&fakeSource{deltas: salesDeltas})

	item := newItem("req-tts")
	item.Plugins.DigitalHuman = false
	last := checkStream(t, collect(t, o.Stream(context.Background(), item)))
	if last.Failed {
		t.Fatalf("terminal = %+v", last)
	}

	if got, want := h.journal.history(), states(StateGenerating, StateDone); !slices.Equal(got, want) {
		t.Errorf("journaled states = %v, want %v", got, want)
	}
	if n := h.bridge.Len(queue.TTS); n != 2 {
		t.Errorf("tts jobs = %d, want 2", n)
	}
	if n := h.bridge.Len(queue.DigitalHuman); n != 0 {
		t.Errorf("digital human jobs = %d, want 0", n)
	}
}

func TestOrchestrator_ServerDisablesDigitalHuman(t *testing.T) {
	h := newHarness(t)
	h.cfg.Features.TTS = false
	o := h.orchestrator(&fakeSource{deltas: salesDeltas})

	last := checkStream(t, collect(t, o.Stream(context.Background(), newItem("req-off"))))
	if last.Failed {
		t.Fatalf("terminal = %+v", last)
	}
	if n := h.bridge.Len(queue.TTS); n != 0 {
		t.Errorf("tts jobs = %d with tts disabled", n)
	}
	if got, want := h.journal.history(), states(StateGenerating, StateDone); !slices.Equal(got, want) {
		t.Errorf("journaled states = %v, want %v", got, want)
	}
}

func TestOrchestrator_AudioTimeoutFails(t *testing.T) {
	h := newHarness(t)
	h.cfg.AudioTimeout = 50 * time.Millisecond
	o := h.orchestrator(&fakeSource{deltas: salesDeltas})

	events := collect(t, o.Stream(context.Background(), newItem("req-slow")))
	last := checkStream(t, events)

	if !last.Failed || !strings.Contains(last.Error, string(domain.ErrorKindStageTimeout)) {
		t.Fatalf("terminal = %+v", last)
	}
	var progress []int
	for _, ev := range events {
		if ev.Step == domain.StepTTS {
			progress = append(progress, ev.Pending)
		}
	}
	if len(progress) == 0 || progress[0] != 2 {
		t.Errorf("tts progress pending = %v", progress)
	}

	want := states(StateGenerating, StateAwaitingAudio, StateFailed)
	if got := h.journal.history(); !slices.Equal(got, want) {
		t.Errorf("journaled states = %v, want %v", got, want)
	}
	rec, _ := h.journal.GetRequest(context.Background(), "req-slow")
	if rec == nil || rec.Status != storage.StatusFailed || rec.Error == "" {
		t.Errorf("record = %+v", rec)
	}
}

func TestOrchestrator_ZeroChunks(t *testing.T) {
	h := newHarness(t)
	o := h.orchestrator(&fakeSource{deltas: []string{"嗯", "好的"}})

	last := checkStream(t, collect(t, o.Stream(context.Background(), newItem("req-zero"))))
	if last.Failed || len(last.Degraded) != 0 {
		t.Fatalf("terminal = %+v", last)
	}
	if got, want := h.journal.history(), states(StateGenerating, StateAwaitingAudio, StateDone); !slices.Equal(got, want) {
		t.Errorf("journaled states = %v, want %v", got, want)
	}
	if n := h.bridge.Len(queue.DigitalHuman); n != 0 {
		t.Errorf("digital human jobs = %d, want 0", n)
	}
}

func TestOrchestrator_UpstreamErrors(t *testing.T) {
	tests := []struct {
		name      string
		source    *fakeSource
		wantLLM   int
		wantState []string
	}{
		{
			name:      "stream refused",
			source:    &fakeSource{err: errors.New("connection refused")},
			wantLLM:   0,
			wantState: states(StateGenerating, StateFailed),
		},
		{
			name:      "mid-stream failure",
			source:    &fakeSource{deltas: salesDeltas[:1], midErr: errors.New("reset by peer")},
			wantLLM:   1,
			wantState: states(StateGenerating, StateFailed),
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t)
			o := h.orchestrator(tt.source)

			events := collect(t, o.Stream(context.Background(), newItem("req-err")))
			last := checkStream(t, events)
			if !last.Failed || !strings.Contains(last.Error, string(domain.ErrorKindUpstreamGeneration)) {
				t.Fatalf("terminal = %+v", last)
			}
			if n := countStep(events, domain.StepLLM); n != tt.wantLLM {
				t.Errorf("llm events = %d, want %d", n, tt.wantLLM)
			}
			if got := h.journal.history(); !slices.Equal(got, tt.wantState) {
				t.Errorf("journaled states = %v, want %v", got, tt.wantState)
			}
		})
	}
}

func TestOrchestrator_Cancellation(t *testing.T) {
	h := newHarness(t)
	o := h.orchestrator(&fakeSource{deltas: salesDeltas[:1], block: true})

	ctx, cancel := context.WithCancel(context.Background())
	events := o.Stream(ctx, newItem("req-cancel"))

	first, ok := <-events
	if !ok || first.Step != domain.StepLLM || first.ID != 1 {
		t.Fatalf("first event = %+v, ok=%v", first, ok)
	}
	cancel()

	// The stream must close; the terminal event may or may not be delivered.
	collect(t, events)

	rec, err := h.journal.GetRequest(context.Background(), "req-cancel")
	if err != nil {
		t.Fatalf("GetRequest() error = %v", err)
	}
	if rec.Status != storage.StatusFailed {
		t.Errorf("status = %s, want failed", rec.Status)
	}
}

func TestOrchestrator_MergeMismatchDegrades(t *testing.T) {
	h := newHarness(t)
	speech := worker.HandlerFunc(func(ctx context.Context, job queue.Job) error {
		format := audio.PCM16Mono
		if job.ChunkID == 2 {
			format.SampleRate = 22050
		}
		dst := h.layout.ChunkAudio(job.RequestID, job.ChunkID)
		if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
			return err
		}
		return audio.WriteSilence(dst, format, 10*time.Millisecond)
	})
	h.startWorkers(speech)
	o := h.orchestrator(&fakeSource{deltas: salesDeltas})

	last := checkStream(t, collect(t, o.Stream(context.Background(), newItem("req-mix"))))
	if last.Failed {
		t.Fatalf("mismatch should degrade, not fail: %+v", last)
	}
	if !slices.Equal(last.Degraded, []string{DegradedMerge}) {
		t.Errorf("degraded = %v", last.Degraded)
	}
	want := states(StateGenerating, StateAwaitingAudio, StateMerging, StateDone)
	if got := h.journal.history(); !slices.Equal(got, want) {
		t.Errorf("journaled states = %v, want %v", got, want)
	}
	if _, err := os.Stat(h.layout.MergedAudio("req-mix")); !os.IsNotExist(err) {
		t.Error("merged audio written despite mismatch")
	}
}

func TestOrchestrator_QueueFailuresDegrade(t *testing.T) {
	tests := []struct {
		name         string
		fail         queue.Name
		wantDegraded string
		wantStates   []string
	}{
		{
			name:         "tts",
			fail:         queue.TTS,
			wantDegraded: DegradedTTS,
			wantStates:   states(StateGenerating, StateDone),
		},
		{
			name:         "digital human",
			fail:         queue.DigitalHuman,
			wantDegraded: DegradedDigitalHuman,
			wantStates:   states(StateGenerating, StateAwaitingAudio, StateMerging, StateAwaitingVideo, StateDone),
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t)
			h.startWorkers(nil)
			bridge := &failingBridge{Bridge: h.bridge, fail: map[queue.Name]bool{tt.fail: true}}
			o := h.orchestratorWithBridge(&fakeSource{deltas: salesDeltas}, bridge)

			last := checkStream(t, collect(t, o.Stream(context.Background(), newItem("req-q"))))
			if last.Failed {
				t.Fatalf("terminal = %+v", last)
			}
			if !slices.Equal(last.Degraded, []string{tt.wantDegraded}) {
				t.Errorf("degraded = %v, want [%s]", last.Degraded, tt.wantDegraded)
			}
			if got := h.journal.history(); !slices.Equal(got, tt.wantStates) {
				t.Errorf("journaled states = %v, want %v", got, tt.wantStates)
			}
		})
	}
}

func TestOrchestrator_PromptStages(t *testing.T) {
	stage := func(out *prompt.Output) prompt.Stage {
		return prompt.StageFunc{StageName: prompt.StageAgent, Fn: func(ctx context.Context, in *prompt.Input) (*prompt.Output, error) {
			return out, nil
		}}
	}

	t.Run("deny", func(t *testing.T) {
		h := newHarness(t)
		src := &fakeSource{deltas: salesDeltas}
		exec := prompt.NewExecutor(prompt.ExecutorConfig{Stages: []prompt.StageConfig{{
			Name:  prompt.StageAgent,
			Stage: stage(&prompt.Output{Action: prompt.ActionDeny, DenyReason: "off topic"}),
		}}})
		o := h.orchestrator(src, WithPromptExecutor(exec))

		events := collect(t, o.Stream(context.Background(), newItem("req-deny")))
		last := checkStream(t, events)
		if len(events) != 1 || !last.Failed || !strings.Contains(last.Error, "off topic") {
			t.Fatalf("events = %+v", events)
		}
		if src.calls != 0 {
			t.Error("model called after deny")
		}
	})

	t.Run("mutate", func(t *testing.T) {
		h := newHarness(t)
		src := &fakeSource{deltas: salesDeltas}
		exec := prompt.NewExecutor(prompt.ExecutorConfig{Stages: []prompt.StageConfig{{
			Name:     prompt.StageAgent,
			Template: "{info} | {query}",
			Stage:    stage(&prompt.Output{Action: prompt.ActionMutate, Content: "今日苹果特价"}),
		}}})
		o := h.orchestrator(src, WithPromptExecutor(exec))

		item := newItem("req-mutate")
		item.Plugins.DigitalHuman = false
		last := checkStream(t, collect(t, o.Stream(context.Background(), item)))
		if last.Failed {
			t.Fatalf("terminal = %+v", last)
		}
		if got := src.prompt[len(src.prompt)-1].Content; got != "今日苹果特价 | 介绍一下苹果" {
			t.Errorf("model saw %q", got)
		}
		if item.LastUserContent() != "介绍一下苹果" {
			t.Error("caller's item was modified")
		}
		rec, _ := h.journal.GetRequest(context.Background(), "req-mutate")
		if rec == nil || rec.PromptStage != prompt.StageAgent {
			t.Errorf("record = %+v", rec)
		}
	})

	t.Run("agent plugin off", func(t *testing.T) {
		h := newHarness(t)
		src := &fakeSource{deltas: salesDeltas}
		exec := prompt.NewExecutor(prompt.ExecutorConfig{Stages: []prompt.StageConfig{{
			Name:  prompt.StageAgent,
			Stage: stage(&prompt.Output{Action: prompt.ActionDeny}),
		}}})
		o := h.orchestrator(src, WithPromptExecutor(exec))

		item := newItem("req-noagent")
		item.Plugins.Agent = false
		item.Plugins.DigitalHuman = false
		if last := checkStream(t, collect(t, o.Stream(context.Background(), item))); last.Failed {
			t.Fatalf("disabled stage still ran: %+v", last)
		}
	})
}

func TestOrchestrator_ConcurrentRequests(t *testing.T) {
	h := newHarness(t)
	h.startWorkers(nil)
	o := h.orchestrator(&fakeSource{deltas: salesDeltas})

	ids := []string{"req-a", "req-b", "req-c"}
	var wg sync.WaitGroup
	results := make([]domain.Event, len(ids))
	for i, id := range ids {
		wg.Add(1)
		go func(i int, id string) {
			defer wg.Done()
			for ev := range o.Stream(context.Background(), newItem(id)) {
				results[i] = ev
			}
		}(i, id)
	}
	wg.Wait()

	for i, last := range results {
		if !last.EndFlag || last.Failed {
			t.Errorf("%s terminal = %+v", ids[i], last)
		}
		if _, err := os.Stat(h.layout.CompletionMarker(h.layout.MergedAudio(ids[i]))); err != nil {
			t.Errorf("%s: marker missing: %v", ids[i], err)
		}
	}
}

func TestOrchestrator_VideoTimeoutFails(t *testing.T) {
	h := newHarness(t)
	h.cfg.VideoTimeout = 100 * time.Millisecond
	// Speech only: the video job is queued but never rendered.
	h.runPools(worker.NewPool(h.bridge, worker.Config{Queue: queue.TTS, Parallel: 2}, h.silentSpeech(), nil))
	o := h.orchestrator(&fakeSource{deltas: salesDeltas})

	events := collect(t, o.Stream(context.Background(), newItem("req-novideo")))
	last := checkStream(t, events)

	if !last.Failed || !strings.Contains(last.Error, string(domain.ErrorKindStageTimeout)) {
		t.Fatalf("terminal = %+v", last)
	}
	if last.Data != strings.Join(salesDeltas, "") {
		t.Errorf("terminal data = %q, want the full transcript", last.Data)
	}

	var dg []int
	for _, ev := range events {
		if ev.Step == domain.StepDigitalHuman {
			dg = append(dg, ev.Pending)
		}
	}
	if len(dg) == 0 {
		t.Fatal("no dg progress events while waiting for the video")
	}
	for _, pending := range dg {
		if pending != 1 {
			t.Errorf("dg pending = %d, want 1", pending)
		}
	}

	want := states(StateGenerating, StateAwaitingAudio, StateMerging, StateAwaitingVideo, StateFailed)
	if got := h.journal.history(); !slices.Equal(got, want) {
		t.Errorf("journaled states = %v, want %v", got, want)
	}
	rec, _ := h.journal.GetRequest(context.Background(), "req-novideo")
	if rec == nil || rec.Status != storage.StatusFailed || rec.MergedAudio == "" || rec.Video != "" {
		t.Errorf("record = %+v", rec)
	}
}

func TestOrchestrator_DropsShortSentences(t *testing.T) {
	h := newHarness(t)
	// "好。" and "嗯！" are at most three runes and are never spoken.
	deltas := []string{"好。", "宝子们好呀。", "嗯！", "这款苹果", "脆甜多汁！"}
	o := h.orchestrator(&fakeSource{deltas: deltas})

	item := newItem("req-short")
	item.Plugins.DigitalHuman = false
	if last := checkStream(t, collect(t, o.Stream(context.Background(), item))); last.Failed {
		t.Fatalf("terminal = %+v", last)
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	want := []string{"宝子们好呀。", "这款苹果脆甜多汁！"}
	if n := h.bridge.Len(queue.TTS); n != len(want) {
		t.Fatalf("tts jobs = %d, want %d", n, len(want))
	}
	for i, sentence := range want {
		job, err := h.bridge.Consume(ctx, queue.TTS)
		if err != nil {
			t.Fatalf("Consume() error = %v", err)
		}
		if job.ChunkID != i+1 || job.Sentence != sentence {
			t.Errorf("job %d = %+v, want chunk %d %q", i, job, i+1, sentence)
		}
	}
	rec, _ := h.journal.GetRequest(context.Background(), "req-short")
	if rec == nil || rec.Chunks != len(want) {
		t.Errorf("record = %+v", rec)
	}
}

func TestOrchestrator_RejectsUnsafeRequestID(t *testing.T) {
	h := newHarness(t)
	src := &fakeSource{deltas: salesDeltas}
	o := h.orchestrator(src)

	for _, id := range []string{"../outside", "/tmp/abs", "a/b", ""} {
		t.Run(id, func(t *testing.T) {
			events := collect(t, o.Stream(context.Background(), newItem(id)))
			last := checkStream(t, events)
			if len(events) != 1 || !last.Failed || !strings.Contains(last.Error, "request_id") {
				t.Fatalf("events = %+v", events)
			}
		})
	}

	if src.calls != 0 {
		t.Errorf("model called %d times for rejected requests", src.calls)
	}
	if n := h.bridge.Len(queue.TTS); n != 0 {
		t.Errorf("tts jobs = %d, want 0", n)
	}
	outside := filepath.Join(filepath.Dir(h.layout.TTSDir), "outside.wav")
	if _, err := os.Stat(outside); !os.IsNotExist(err) {
		t.Errorf("artifact written outside the tts dir: %v", err)
	}
}

func TestOrchestrator_RequestIDsSharingPrefix(t *testing.T) {
	h := newHarness(t)
	h.startWorkers(nil)
	o := h.orchestrator(&fakeSource{deltas: salesDeltas})

	// The merged audio of the first request once shared a name with chunk 1
	// of the second, and the second request's cleanup deleted it.
	for _, id := range []string{"abc-00000001", "abc"} {
		if last := checkStream(t, collect(t, o.Stream(context.Background(), newItem(id)))); last.Failed {
			t.Fatalf("%s terminal = %+v", id, last)
		}
	}

	for _, id := range []string{"abc-00000001", "abc"} {
		merged := h.layout.MergedAudio(id)
		if _, err := os.Stat(merged); err != nil {
			t.Errorf("%s: merged audio missing: %v", id, err)
		}
		if _, err := os.Stat(h.layout.ChunkDir(id)); !os.IsNotExist(err) {
			t.Errorf("%s: chunk dir not removed after merge", id)
		}
	}
}

func TestOrchestrator_StopsSubmittingAfterTTSFailure(t *testing.T) {
	h := newHarness(t)
	bridge := &failingBridge{Bridge: h.bridge, fail: map[queue.Name]bool{queue.TTS: true}}
	o := h.orchestratorWithBridge(&fakeSource{deltas: salesDeltas}, bridge)

	last := checkStream(t, collect(t, o.Stream(context.Background(), newItem("req-down"))))
	if last.Failed || !slices.Equal(last.Degraded, []string{DegradedTTS}) {
		t.Fatalf("terminal = %+v", last)
	}
	if n := bridge.attemptsOn(queue.TTS); n != 1 {
		t.Errorf("tts submit attempts = %d, want 1 for 2 chunks", n)
	}
	if n := bridge.attemptsOn(queue.DigitalHuman); n != 0 {
		t.Errorf("digital human submit attempts = %d, want 0", n)
	}
}
