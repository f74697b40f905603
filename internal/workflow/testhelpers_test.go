package workflow_test

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"recast/internal/config"
	"recast/internal/events"
	"recast/internal/logging"
	"recast/internal/quota"
	"recast/internal/recording"
	"recast/internal/stage"
	"recast/internal/store"
	"recast/internal/testsupport"
	"recast/internal/workflow"
)

type stubStage struct {
	name   string
	output map[string]string

	mu          sync.Mutex
	calls       int
	executeHook func(ctx context.Context, task *stage.Task, call int) error
}

func newStubStage(name string, output map[string]string) *stubStage {
	return &stubStage{name: name, output: output}
}

func (s *stubStage) Prepare(context.Context, *stage.Task) error { return nil }

func (s *stubStage) Execute(ctx context.Context, task *stage.Task) error {
	s.mu.Lock()
	s.calls++
	call := s.calls
	hook := s.executeHook
	s.mu.Unlock()
	if hook != nil {
		if err := hook(ctx, task, call); err != nil {
			return err
		}
	}
	for k, v := range s.output {
		task.SetOutput(k, v)
	}
	task.StoredBytes = 1024
	return nil
}

func (s *stubStage) HealthCheck(context.Context) stage.Health {
	return stage.Healthy(s.name)
}

func (s *stubStage) setHook(hook func(ctx context.Context, task *stage.Task, call int) error) {
	s.mu.Lock()
	s.executeHook = hook
	s.mu.Unlock()
}

func (s *stubStage) Calls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}

type stubPublisher struct {
	platform recording.Platform

	mu       sync.Mutex
	calls    int
	contents []stage.Content
	fail     func(call int) error
}

func (p *stubPublisher) Platform() recording.Platform { return p.platform }

func (p *stubPublisher) Upload(_ context.Context, content stage.Content, _ stage.Metadata) (stage.TargetResult, error) {
	p.mu.Lock()
	p.calls++
	call := p.calls
	p.contents = append(p.contents, content)
	fail := p.fail
	p.mu.Unlock()
	if fail != nil {
		if err := fail(call); err != nil {
			return stage.TargetResult{}, err
		}
	}
	return stage.TargetResult{
		RemoteID:  fmt.Sprintf("%s-%d", p.platform, content.RecordingID),
		RemoteURL: fmt.Sprintf("https://%s.example.com/v/%d", p.platform, content.RecordingID),
	}, nil
}

func (p *stubPublisher) setFail(fail func(call int) error) {
	p.mu.Lock()
	p.fail = fail
	p.mu.Unlock()
}

func (p *stubPublisher) Calls() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.calls
}

func (p *stubPublisher) LastContent() stage.Content {
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.contents) == 0 {
		return stage.Content{}
	}
	return p.contents[len(p.contents)-1]
}

type eventLog struct {
	mu     sync.Mutex
	events []events.Event
}

func (l *eventLog) record(_ context.Context, e events.Event) {
	l.mu.Lock()
	l.events = append(l.events, e)
	l.mu.Unlock()
}

func (l *eventLog) count(t events.Type) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	n := 0
	for _, e := range l.events {
		if e.Type == t {
			n++
		}
	}
	return n
}

type harness struct {
	cfg   *config.Config
	store *store.Store
	mgr   *workflow.Manager
	log   *eventLog

	acquirer    *stubStage
	trimmer     *stubStage
	transcriber *stubStage
	topics      *stubStage
	subtitles   *stubStage
	youtube     *stubPublisher
	vk          *stubPublisher
}

// memSlots is an in-process SlotLimiter.
type memSlots struct {
	mu   sync.Mutex
	held map[string]int
}

func newMemSlots() *memSlots {
	return &memSlots{held: make(map[string]int)}
}

func (s *memSlots) Acquire(_ context.Context, tenant string, limit int) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if limit > 0 && s.held[tenant] >= limit {
		return false, nil
	}
	s.held[tenant]++
	return true, nil
}

func (s *memSlots) Release(_ context.Context, tenant string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.held[tenant] > 0 {
		s.held[tenant]--
	}
	return nil
}

func (s *memSlots) Held(tenant string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.held[tenant]
}

// newHarness builds a manager over stub stages. It is not started.
func newHarness(t *testing.T, opts ...testsupport.ConfigOption) *harness {
	t.Helper()
	return newHarnessWithSlots(t, nil, opts...)
}

// newHarnessWithSlots is newHarness with a distributed slot limiter on the
// quota gate.
func newHarnessWithSlots(t *testing.T, slots quota.SlotLimiter, opts ...testsupport.ConfigOption) *harness {
	t.Helper()
	cfg := testsupport.NewConfig(t, opts...)
	st := testsupport.MustOpenStore(t, cfg)
	gate := quota.NewGate(quota.NewPolicy(cfg.Quota), slots, nil, logging.NewNop())
	bus := events.NewBus(nil, logging.NewNop())
	h := &harness{
		cfg:   cfg,
		store: st,
		log:   &eventLog{},
		acquirer: newStubStage("acquire", map[string]string{
			stage.ArtifactSource: "acme/1/downloading/source.mp4",
			stage.ArtifactMedia:  "acme/1/downloading/source.mp4",
		}),
		trimmer:     newStubStage("trim", map[string]string{stage.ArtifactMedia: "acme/1/processing/media.mp4"}),
		transcriber: newStubStage("transcribe", map[string]string{stage.ArtifactTranscript: "acme/1/transcribing/transcript.json"}),
		topics:      newStubStage("topics", map[string]string{stage.ArtifactTopics: "acme/1/extracting_topics/topics.json"}),
		subtitles:   newStubStage("subtitles", map[string]string{stage.ArtifactSubtitles: "acme/1/generating_subtitles/subtitles.json"}),
		youtube:     &stubPublisher{platform: recording.PlatformYouTube},
		vk:          &stubPublisher{platform: recording.PlatformVK},
	}
	bus.SubscribeAll(h.log.record)
	h.mgr = workflow.NewManager(cfg, st, logging.NewNop(), workflow.Options{Gate: gate, Bus: bus})
	if err := h.mgr.ConfigureStages(workflow.StageSet{
		Acquirer:          h.acquirer,
		Trimmer:           h.trimmer,
		Transcriber:       h.transcriber,
		TopicExtractor:    h.topics,
		SubtitleGenerator: h.subtitles,
		Publishers:        stage.NewPublishers(h.youtube, h.vk),
	}); err != nil {
		t.Fatalf("ConfigureStages: %v", err)
	}
	t.Cleanup(h.mgr.Stop)
	return h
}

func (h *harness) start(t *testing.T) *harness {
	t.Helper()
	if err := h.mgr.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	return h
}

func (h *harness) newRecording(t *testing.T, tenant string, destinations ...recording.Platform) *recording.Recording {
	t.Helper()
	return testsupport.NewRecording(t, h.store, tenant, testsupport.DefaultSettings(destinations...))
}

// waitFor polls the recording until cond holds and no stage is running.
func (h *harness) waitFor(t *testing.T, id int64, desc string, cond func(*recording.Recording) bool) *recording.Recording {
	t.Helper()
	deadline := time.Now().Add(10 * time.Second)
	var last *recording.Recording
	for time.Now().Before(deadline) {
		rec, err := h.store.Get(context.Background(), id)
		if err != nil {
			t.Fatalf("Get: %v", err)
		}
		last = rec
		if cond(rec) && !rec.Status.IsRunning() {
			return rec
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s; last status %s (failed at %q, error %q)", desc, last.Status, last.FailedAtStage, last.ErrorMessage)
	return nil
}

func (h *harness) waitForStatus(t *testing.T, id int64, want recording.Status) *recording.Recording {
	t.Helper()
	return h.waitFor(t, id, string(want), func(rec *recording.Recording) bool { return rec.Status == want })
}

// assertCacheMatchesHistory checks the stored status against a fresh
// derivation from the current generation's stage runs.
func (h *harness) assertCacheMatchesHistory(t *testing.T, id int64) {
	t.Helper()
	ctx := context.Background()
	rec, err := h.store.Get(ctx, id)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	runs, err := h.store.CurrentRuns(ctx, id)
	if err != nil {
		t.Fatalf("CurrentRuns: %v", err)
	}
	snap := recording.Derive(rec.SourceState, runs)
	if snap.Status != rec.Status || snap.Failed != rec.Failed || snap.FailedAtStage != rec.FailedAtStage {
		t.Fatalf("cached status %s/%v/%q drifted from history %s/%v/%q",
			rec.Status, rec.Failed, rec.FailedAtStage, snap.Status, snap.Failed, snap.FailedAtStage)
	}
}

func stagesOf(runs []*recording.StageRun) []recording.Stage {
	out := make([]recording.Stage, 0, len(runs))
	for _, run := range runs {
		out = append(out, run.Stage)
	}
	return out
}

// blockingHook parks Execute until release is closed and signals started once.
func blockingHook(started chan<- struct{}, release <-chan struct{}) func(context.Context, *stage.Task, int) error {
	var once sync.Once
	return func(ctx context.Context, _ *stage.Task, _ int) error {
		once.Do(func() { close(started) })
		select {
		case <-release:
			return nil
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}
