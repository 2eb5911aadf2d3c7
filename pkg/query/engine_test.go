package query

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/pomelo-kg/pomelo/pkg/ai"
	"github.com/pomelo-kg/pomelo/pkg/common"
	"github.com/pomelo-kg/pomelo/pkg/store/memory"
)

// fakeAIClient scripts embeddings and completions and records every call so
// tests can assert which AI surfaces a query touched.
type fakeAIClient struct {
	embedding    []float32
	completion   string
	structuredFn func(ctx context.Context, prompt string, out any) error

	embedCalls      atomic.Int64
	completionCalls atomic.Int64
	structuredCalls atomic.Int64

	mu               sync.Mutex
	lastSystemPrompt string
	lastUserPrompt   string
}

func (f *fakeAIClient) GenerateCompletion(_ context.Context, prompt string, opts ...ai.GenerateOption) (string, error) {
	f.completionCalls.Add(1)

	var options ai.GenerateOptions
	for _, o := range opts {
		o(&options)
	}

	f.mu.Lock()
	if len(options.SystemPrompts) > 0 {
		f.lastSystemPrompt = options.SystemPrompts[0]
	}
	f.lastUserPrompt = prompt
	f.mu.Unlock()

	return f.completion, nil
}

func (f *fakeAIClient) GenerateCompletionWithFormat(ctx context.Context, _, _, prompt string, out any, _ ...ai.GenerateOption) error {
	f.structuredCalls.Add(1)
	if f.structuredFn == nil {
		return errors.New("no structured completion scripted")
	}
	return f.structuredFn(ctx, prompt, out)
}

func (f *fakeAIClient) GenerateEmbedding(context.Context, []byte) ([]float32, error) {
	f.embedCalls.Add(1)
	return f.embedding, nil
}

func (f *fakeAIClient) ResetMetrics() {}

func (f *fakeAIClient) GetMetrics() ai.ModelMetrics { return ai.ModelMetrics{} }

func (f *fakeAIClient) systemPrompt() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.lastSystemPrompt
}

// wordEncoder counts whitespace separated words.
type wordEncoder struct{}

func (wordEncoder) Count(text string) int { return len(strings.Fields(text)) }

func newTestEngine(t *testing.T, client *fakeAIClient, storage *memory.GraphMemStorage, opts ...EngineOption) *Engine {
	t.Helper()
	e, err := NewEngine(NewEngineParams{
		AIClient:    client,
		Graph:       storage,
		Vectors:     storage,
		Units:       storage,
		Communities: storage,
		Encoder:     wordEncoder{},
	}, opts...)
	if err != nil {
		t.Fatalf("NewEngine() error = %v", err)
	}
	e.options.MaxRetries = 1
	return e
}

func TestNewEngine_MissingCollaborators(t *testing.T) {
	storage := memory.NewGraphMemStorage(nil, nil)
	client := &fakeAIClient{}

	cases := []struct {
		name   string
		params NewEngineParams
	}{
		{"no ai client", NewEngineParams{Graph: storage, Vectors: storage, Units: storage, Communities: storage, Encoder: wordEncoder{}}},
		{"no graph", NewEngineParams{AIClient: client, Vectors: storage, Units: storage, Communities: storage, Encoder: wordEncoder{}}},
		{"no vectors", NewEngineParams{AIClient: client, Graph: storage, Units: storage, Communities: storage, Encoder: wordEncoder{}}},
		{"no units", NewEngineParams{AIClient: client, Graph: storage, Vectors: storage, Communities: storage, Encoder: wordEncoder{}}},
		{"no communities", NewEngineParams{AIClient: client, Graph: storage, Vectors: storage, Units: storage, Encoder: wordEncoder{}}},
		{"no encoder", NewEngineParams{AIClient: client, Graph: storage, Vectors: storage, Units: storage, Communities: storage}},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := NewEngine(tc.params); err == nil {
				t.Fatal("expected error for missing collaborator")
			}
		})
	}
}

func TestQuery_UnknownMode(t *testing.T) {
	storage := memory.NewGraphMemStorage(nil, nil)
	e := newTestEngine(t, &fakeAIClient{embedding: []float32{1}}, storage)

	if _, err := e.Query(context.Background(), Mode("bogus"), "q"); err == nil {
		t.Fatal("expected error for unknown mode")
	}
}

func TestQueryLocal_NoHitsReturnsFallbackWithoutCompletion(t *testing.T) {
	storage := memory.NewGraphMemStorage(nil, nil)
	client := &fakeAIClient{embedding: []float32{1, 0}}
	e := newTestEngine(t, client, storage)

	answer, err := e.Query(context.Background(), ModeLocal, "who is nobody?")
	if err != nil {
		t.Fatalf("Query() error = %v", err)
	}
	if answer != FallbackAnswer {
		t.Fatalf("answer = %q, want fallback", answer)
	}
	if calls := client.completionCalls.Load() + client.structuredCalls.Load(); calls != 0 {
		t.Fatalf("fallback must not invoke the completion service, got %d calls", calls)
	}
}

func TestQueryNaive_NoHitsReturnsFallbackWithoutCompletion(t *testing.T) {
	storage := memory.NewGraphMemStorage(nil, nil)
	client := &fakeAIClient{embedding: []float32{1, 0}}
	e := newTestEngine(t, client, storage)

	answer, err := e.Query(context.Background(), ModeNaive, "what does nothing say?")
	if err != nil {
		t.Fatalf("Query() error = %v", err)
	}
	if answer != FallbackAnswer {
		t.Fatalf("answer = %q, want fallback", answer)
	}
	if calls := client.completionCalls.Load() + client.structuredCalls.Load(); calls != 0 {
		t.Fatalf("fallback must not invoke the completion service, got %d calls", calls)
	}
}

func TestQueryGlobal_NoCandidatesReturnsFallbackWithoutCompletion(t *testing.T) {
	storage := memory.NewGraphMemStorage(nil, nil)
	client := &fakeAIClient{}
	e := newTestEngine(t, client, storage)

	answer, err := e.Query(context.Background(), ModeGlobal, "what is the corpus about?")
	if err != nil {
		t.Fatalf("Query() error = %v", err)
	}
	if answer != FallbackAnswer {
		t.Fatalf("answer = %q, want fallback", answer)
	}
	if calls := client.completionCalls.Load() + client.structuredCalls.Load(); calls != 0 {
		t.Fatalf("fallback must not invoke the completion service, got %d calls", calls)
	}
}

func seedQueryGraph(t *testing.T) *memory.GraphMemStorage {
	t.Helper()
	storage := memory.NewGraphMemStorage(nil, nil)
	ctx := context.Background()

	entities := []common.Entity{
		{Name: "sun", Type: "star", Description: "the sun is a star", Degree: 2, Units: []string{"u1"}},
		{Name: "moon", Type: "satellite", Description: "the moon orbits earth", Degree: 1, Units: []string{"u2"}},
	}
	if err := storage.SaveEntities(ctx, entities); err != nil {
		t.Fatalf("seeding entities: %v", err)
	}
	storage.SetEntityEmbedding("sun", []float32{1, 0})
	storage.SetEntityEmbedding("moon", []float32{0, 1})

	rels := []common.Relationship{
		{Source: "sun", Target: "moon", Description: "lights up", Weight: 1},
	}
	if err := storage.SaveRelationships(ctx, rels); err != nil {
		t.Fatalf("seeding relationships: %v", err)
	}

	units := []common.Unit{
		{ID: "u1", Text: "the sun shines"},
		{ID: "u2", Text: "the moon glows"},
	}
	if err := storage.SaveUnits(ctx, units); err != nil {
		t.Fatalf("seeding units: %v", err)
	}
	storage.SetUnitEmbedding("u1", []float32{1, 0})
	storage.SetUnitEmbedding("u2", []float32{0, 1})

	communities := []common.Community{
		{ID: "c0", Level: 0, Entities: []string{"moon", "sun"}, Occurrence: 1},
	}
	if _, err := storage.ReplaceCommunities(ctx, communities); err != nil {
		t.Fatalf("seeding communities: %v", err)
	}
	reports := []common.CommunityReport{
		{CommunityID: "c0", Level: 0, Title: "Sky", Rating: 8, Content: "sun and moon share the sky", Occurrence: 1},
	}
	if err := storage.SaveReports(ctx, reports); err != nil {
		t.Fatalf("seeding reports: %v", err)
	}
	return storage
}

func TestQueryLocal_AssemblesContextSections(t *testing.T) {
	storage := seedQueryGraph(t)
	client := &fakeAIClient{
		embedding:  []float32{1, 0},
		completion: "the sun is a star",
	}
	e := newTestEngine(t, client, storage)

	answer, err := e.Query(context.Background(), ModeLocal, "what is the sun?")
	if err != nil {
		t.Fatalf("Query() error = %v", err)
	}
	if answer != "the sun is a star" {
		t.Fatalf("answer = %q", answer)
	}
	if client.completionCalls.Load() != 1 {
		t.Fatalf("completion calls = %d, want 1", client.completionCalls.Load())
	}

	prompt := client.systemPrompt()
	for _, want := range []string{
		"Entities:",
		"sun,star: the sun is a star",
		"Relationships:",
		"sun<->moon: lights up",
		"Reports:",
		"sun and moon share the sky",
		"Sources:",
		"the sun shines",
	} {
		if !strings.Contains(prompt, want) {
			t.Fatalf("local context missing %q:\n%s", want, prompt)
		}
	}

	// Vector similarity orders the matched entities, best first.
	if strings.Index(prompt, "sun,star") > strings.Index(prompt, "moon,satellite") {
		t.Fatalf("matched entities out of relevance order:\n%s", prompt)
	}
}

func TestQueryNaive_UsesChunksOnly(t *testing.T) {
	storage := seedQueryGraph(t)
	client := &fakeAIClient{
		embedding:  []float32{0, 1},
		completion: "the moon glows at night",
	}
	e := newTestEngine(t, client, storage)

	answer, err := e.Query(context.Background(), ModeNaive, "what glows?")
	if err != nil {
		t.Fatalf("Query() error = %v", err)
	}
	if answer != "the moon glows at night" {
		t.Fatalf("answer = %q", answer)
	}

	prompt := client.systemPrompt()
	if !strings.Contains(prompt, "the moon glows") {
		t.Fatalf("naive context missing chunk text:\n%s", prompt)
	}
	if strings.Contains(prompt, "Relationships:") || strings.Contains(prompt, "Reports:") {
		t.Fatalf("naive context must not contain graph sections:\n%s", prompt)
	}
	// Best match first.
	if strings.Index(prompt, "the moon glows") > strings.Index(prompt, "the sun shines") {
		t.Fatalf("chunks out of similarity order:\n%s", prompt)
	}
}

func scriptMapPoints(script map[string][]point) func(ctx context.Context, prompt string, out any) error {
	return func(_ context.Context, prompt string, out any) error {
		resp, ok := out.(*mapResponse)
		if !ok {
			return fmt.Errorf("unexpected output type %T", out)
		}
		for marker, pts := range script {
			if !strings.Contains(prompt, marker) {
				continue
			}
			for _, p := range pts {
				resp.Points = append(resp.Points, struct {
					Description string `json:"description" jsonschema_description:"Self-contained claim relevant to the user question"`
					Score       int    `json:"score" jsonschema_description:"Importance of the claim for answering the question, 0-100"`
				}{p.Description, p.Score})
			}
			return nil
		}
		return errors.New("no points scripted for prompt")
	}
}

func seedGlobalReports(t *testing.T, storage *memory.GraphMemStorage) {
	t.Helper()
	reports := []common.CommunityReport{
		{CommunityID: "c0", Level: 0, Rating: 9, Content: "alpha", Occurrence: 1},
		{CommunityID: "c1", Level: 0, Rating: 8, Content: "beta", Occurrence: 1},
	}
	if err := storage.SaveReports(context.Background(), reports); err != nil {
		t.Fatalf("seeding reports: %v", err)
	}
}

func TestQueryGlobal_MergesAndRanksPointsAcrossBatches(t *testing.T) {
	storage := memory.NewGraphMemStorage(nil, nil)
	seedGlobalReports(t, storage)

	client := &fakeAIClient{
		completion: "synthesized answer",
		structuredFn: scriptMapPoints(map[string][]point{
			"alpha": {{Description: "first alpha claim", Score: 90}, {Description: "weak alpha claim", Score: 50}},
			"beta":  {{Description: "first beta claim", Score: 90}, {Description: "second beta claim", Score: 70}},
		}),
	}
	e := newTestEngine(t, client, storage)
	// Each packed report is 4 words, so a 4 token ceiling forces one report
	// per map batch.
	e.options.MapBatchTokens = 4

	answer, err := e.Query(context.Background(), ModeGlobal, "what are the claims?")
	if err != nil {
		t.Fatalf("Query() error = %v", err)
	}
	if answer != "synthesized answer" {
		t.Fatalf("answer = %q", answer)
	}
	if client.structuredCalls.Load() != 2 {
		t.Fatalf("map calls = %d, want one per batch", client.structuredCalls.Load())
	}
	if client.completionCalls.Load() != 1 {
		t.Fatalf("reduce calls = %d, want 1", client.completionCalls.Load())
	}

	// Points rank by score descending; equal scores keep the earlier batch
	// first regardless of completion arrival order.
	prompt := client.systemPrompt()
	wantOrder := []string{
		"Importance 90: first alpha claim",
		"Importance 90: first beta claim",
		"Importance 70: second beta claim",
		"Importance 50: weak alpha claim",
	}
	last := -1
	for _, want := range wantOrder {
		idx := strings.Index(prompt, want)
		if idx < 0 {
			t.Fatalf("reduce prompt missing %q:\n%s", want, prompt)
		}
		if idx < last {
			t.Fatalf("reduce prompt out of rank order at %q:\n%s", want, prompt)
		}
		last = idx
	}
}

func TestQueryGlobal_BatchFailureIsIsolated(t *testing.T) {
	storage := memory.NewGraphMemStorage(nil, nil)
	seedGlobalReports(t, storage)

	client := &fakeAIClient{
		completion: "partial answer",
		structuredFn: scriptMapPoints(map[string][]point{
			// The beta batch has nothing scripted and fails.
			"alpha": {{Description: "alpha survives", Score: 80}},
		}),
	}
	e := newTestEngine(t, client, storage)
	e.options.MapBatchTokens = 4

	answer, err := e.Query(context.Background(), ModeGlobal, "what survives?")
	if err != nil {
		t.Fatalf("Query() error = %v", err)
	}
	if answer != "partial answer" {
		t.Fatalf("answer = %q", answer)
	}
	if !strings.Contains(client.systemPrompt(), "alpha survives") {
		t.Fatalf("surviving batch points missing from reduce prompt:\n%s", client.systemPrompt())
	}
}

func TestQueryGlobal_NoPointsReturnsFallback(t *testing.T) {
	storage := memory.NewGraphMemStorage(nil, nil)
	seedGlobalReports(t, storage)

	client := &fakeAIClient{
		structuredFn: func(_ context.Context, _ string, out any) error {
			if _, ok := out.(*mapResponse); !ok {
				return errors.New("unexpected output type")
			}
			return nil
		},
	}
	e := newTestEngine(t, client, storage)

	answer, err := e.Query(context.Background(), ModeGlobal, "anything?")
	if err != nil {
		t.Fatalf("Query() error = %v", err)
	}
	if answer != FallbackAnswer {
		t.Fatalf("answer = %q, want fallback", answer)
	}
	if client.completionCalls.Load() != 0 {
		t.Fatalf("fallback must skip the reduce call, got %d calls", client.completionCalls.Load())
	}
}

func TestQueryGlobal_TimeoutDiscardsPartialPoints(t *testing.T) {
	storage := memory.NewGraphMemStorage(nil, nil)
	seedGlobalReports(t, storage)

	// The alpha batch answers immediately; the beta batch hangs until the
	// query deadline expires, so the map phase finishes with points in hand
	// but a dead context.
	client := &fakeAIClient{
		completion: "must never be produced",
		structuredFn: func(ctx context.Context, prompt string, out any) error {
			if strings.Contains(prompt, "alpha") {
				resp := out.(*mapResponse)
				resp.Points = append(resp.Points, struct {
					Description string `json:"description" jsonschema_description:"Self-contained claim relevant to the user question"`
					Score       int    `json:"score" jsonschema_description:"Importance of the claim for answering the question, 0-100"`
				}{"fast alpha claim", 90})
				return nil
			}
			<-ctx.Done()
			return ctx.Err()
		},
	}
	e := newTestEngine(t, client, storage, WithQueryTimeout(50*time.Millisecond))
	e.options.MapBatchTokens = 4

	answer, err := e.Query(context.Background(), ModeGlobal, "what happens on a slow map phase?")
	if err != nil {
		t.Fatalf("Query() error = %v", err)
	}
	if answer != FallbackAnswer {
		t.Fatalf("answer = %q, want fallback after timeout", answer)
	}
	if client.completionCalls.Load() != 0 {
		t.Fatalf("reduce ran on partial map results, got %d completion calls", client.completionCalls.Load())
	}
}

func TestQueryGlobal_RespectsCommunityLevelCap(t *testing.T) {
	storage := memory.NewGraphMemStorage(nil, nil)
	reports := []common.CommunityReport{
		{CommunityID: "c0", Level: 0, Rating: 9, Content: "alpha", Occurrence: 1},
		{CommunityID: "c0.0.0", Level: 3, Rating: 9, Content: "toodeep", Occurrence: 1},
	}
	if err := storage.SaveReports(context.Background(), reports); err != nil {
		t.Fatalf("seeding reports: %v", err)
	}

	var seenDeep atomic.Bool
	client := &fakeAIClient{
		completion: "capped answer",
		structuredFn: func(_ context.Context, prompt string, out any) error {
			if strings.Contains(prompt, "toodeep") {
				seenDeep.Store(true)
			}
			resp := out.(*mapResponse)
			resp.Points = append(resp.Points, struct {
				Description string `json:"description" jsonschema_description:"Self-contained claim relevant to the user question"`
				Score       int    `json:"score" jsonschema_description:"Importance of the claim for answering the question, 0-100"`
			}{"some claim", 60})
			return nil
		},
	}
	e := newTestEngine(t, client, storage, WithMaxCommunityLevel(2))

	if _, err := e.Query(context.Background(), ModeGlobal, "how deep?"); err != nil {
		t.Fatalf("Query() error = %v", err)
	}
	if seenDeep.Load() {
		t.Fatal("reports below the level cap leaked into the map phase")
	}
}

func TestParseMode(t *testing.T) {
	for _, valid := range []string{"local", "global", "naive"} {
		mode, err := ParseMode(valid)
		if err != nil {
			t.Fatalf("ParseMode(%q) error = %v", valid, err)
		}
		if string(mode) != valid {
			t.Fatalf("ParseMode(%q) = %q", valid, mode)
		}
	}
	if _, err := ParseMode(""); err == nil {
		t.Fatal("ParseMode(\"\") must fail")
	}
	if _, err := ParseMode("hybrid"); err == nil {
		t.Fatal("ParseMode(\"hybrid\") must fail")
	}
}
