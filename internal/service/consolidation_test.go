package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/engramhq/engram/internal/domain"
)

func setupConsolidationTest() (*ConsolidationService, *mockMemoryStore, *mockContradictionStore) {
	memStore := newMockMemoryStore()
	conStore := newMockContradictionStore(memStore)
	svc := NewConsolidationService(memStore, conStore, 0, testLogger())
	return svc, memStore, conStore
}

// seedRow builds a fully-populated memory and drops it straight into the
// store so tests control every timestamp.
func seedRow(store *mockMemoryStore, id, content string, vec []float32, mut func(*domain.Memory)) {
	now := time.Now().UnixMilli()
	m := &domain.Memory{
		ID:         id,
		Content:    content,
		Category:   domain.CategoryFact,
		Confidence: 0.8,
		Embedding:  vec,
		Source:     domain.SourceAPI,
		Namespace:  "default",
		Tags:       []string{},
		DecayRate:  domain.DefaultDecayRate,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	if mut != nil {
		mut(m)
	}
	store.mu.Lock()
	store.memories[m.ID] = m
	store.mu.Unlock()
}

func TestConsolidationService_Run_MergesDuplicates(t *testing.T) {
	svc, memStore, _ := setupConsolidationTest()

	seedRow(memStore, "a1", "prefers dark mode", []float32{1, 0, 0, 0}, func(m *domain.Memory) {
		m.Confidence = 0.9
		m.AccessCount = 2
		m.Tags = []string{"style"}
	})
	seedRow(memStore, "a2", "likes dark mode a lot", []float32{1, 0, 0, 0}, func(m *domain.Memory) {
		m.Confidence = 0.7
		m.AccessCount = 3
		m.Tags = []string{"editor", "style"}
	})
	seedRow(memStore, "b1", "unrelated note", []float32{0, 1, 0, 0}, nil)

	report, err := svc.Run(context.Background(), domain.ConsolidationOptions{Duplicates: true})
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if report.DuplicatesRemoved != 1 {
		t.Fatalf("expected 1 duplicate removed, got %d", report.DuplicatesRemoved)
	}
	if memStore.count() != 2 {
		t.Fatalf("expected 2 surviving memories, got %d", memStore.count())
	}

	winner := memStore.get("a1")
	if winner == nil {
		t.Fatal("expected the higher-confidence row to survive")
	}
	if memStore.get("a2") != nil {
		t.Fatal("expected the loser to be gone")
	}
	if winner.AccessCount != 5 {
		t.Fatalf("expected summed access count 5, got %d", winner.AccessCount)
	}
	if winner.Confidence != 0.9 {
		t.Fatalf("expected confidence 0.9, got %g", winner.Confidence)
	}
	if len(winner.Tags) != 2 || winner.Tags[0] != "style" || winner.Tags[1] != "editor" {
		t.Fatalf("expected merged tags [style editor], got %v", winner.Tags)
	}
}

func TestConsolidationService_Run_DuplicateWinnerByAccess(t *testing.T) {
	svc, memStore, _ := setupConsolidationTest()

	seedRow(memStore, "a1", "same thing", []float32{1, 0, 0, 0}, func(m *domain.Memory) {
		m.AccessCount = 1
	})
	seedRow(memStore, "a2", "same thing again", []float32{1, 0, 0, 0}, func(m *domain.Memory) {
		m.AccessCount = 7
	})

	_, err := svc.Run(context.Background(), domain.ConsolidationOptions{Duplicates: true})
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if memStore.get("a2") == nil || memStore.get("a1") != nil {
		t.Fatal("expected the frequently-accessed row to win on a confidence tie")
	}
}

func TestConsolidationService_Run_DuplicatesBelowThresholdKept(t *testing.T) {
	svc, memStore, _ := setupConsolidationTest()

	// cos = 0.8, below the 0.92 merge floor.
	seedRow(memStore, "a1", "one", []float32{1, 0, 0, 0}, nil)
	seedRow(memStore, "a2", "two", []float32{0.8, 0.6, 0, 0}, nil)

	report, err := svc.Run(context.Background(), domain.ConsolidationOptions{Duplicates: true})
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if report.DuplicatesRemoved != 0 || memStore.count() != 2 {
		t.Fatalf("expected nothing merged, got report %d count %d", report.DuplicatesRemoved, memStore.count())
	}
}

func TestConsolidationService_Run_DuplicatesRespectNamespaces(t *testing.T) {
	svc, memStore, _ := setupConsolidationTest()

	seedRow(memStore, "w1", "same belief", []float32{1, 0, 0, 0}, func(m *domain.Memory) { m.Namespace = "work" })
	seedRow(memStore, "h1", "same belief", []float32{1, 0, 0, 0}, func(m *domain.Memory) { m.Namespace = "home" })

	report, err := svc.Run(context.Background(), domain.ConsolidationOptions{Duplicates: true})
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if report.DuplicatesRemoved != 0 || memStore.count() != 2 {
		t.Fatal("expected identical rows in different namespaces to stay apart")
	}
}

func TestConsolidationService_Run_NamespaceOptionScopesRun(t *testing.T) {
	svc, memStore, _ := setupConsolidationTest()

	seedRow(memStore, "h1", "dup one", []float32{1, 0, 0, 0}, func(m *domain.Memory) { m.Namespace = "home" })
	seedRow(memStore, "h2", "dup two", []float32{1, 0, 0, 0}, func(m *domain.Memory) { m.Namespace = "home" })

	report, err := svc.Run(context.Background(), domain.ConsolidationOptions{
		Duplicates: true,
		Namespace:  "work",
	})
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if report.DuplicatesRemoved != 0 || memStore.count() != 2 {
		t.Fatal("expected the home namespace untouched when scoped to work")
	}
}

func TestConsolidationService_Run_DetectsNegationContradiction(t *testing.T) {
	svc, memStore, conStore := setupConsolidationTest()

	entity1 := "tabs"
	entity2 := "Tabs"
	base := time.Now().UnixMilli()
	seedRow(memStore, "m1", "prefers tabs for indentation", []float32{1, 0, 0, 0}, func(m *domain.Memory) {
		m.Entity = &entity1
		m.Category = domain.CategoryPreference
		m.CreatedAt = base - 1000
	})
	seedRow(memStore, "m2", "never use tabs for indentation", []float32{1, 0, 0, 0}, func(m *domain.Memory) {
		m.Entity = &entity2
		m.Category = domain.CategoryPreference
		m.CreatedAt = base
	})

	report, err := svc.Run(context.Background(), domain.ConsolidationOptions{Contradictions: true})
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if report.ContradictionsDetected != 1 {
		t.Fatalf("expected 1 contradiction, got %d", report.ContradictionsDetected)
	}
	if memStore.count() != 2 {
		t.Fatal("expected detection to leave both memories alive")
	}

	rows, _ := conStore.List(context.Background(), domain.ContradictionListFilter{})
	if len(rows) != 1 {
		t.Fatalf("expected 1 stored contradiction, got %d", len(rows))
	}
	c := rows[0]
	if c.Memory1ID != "m1" || c.Memory2ID != "m2" {
		t.Fatalf("expected the older memory first, got %s vs %s", c.Memory1ID, c.Memory2ID)
	}
	if c.Status != domain.ContradictionUnresolved {
		t.Fatalf("expected unresolved status, got %s", c.Status)
	}
	if c.Entity == nil || *c.Entity != "tabs" {
		t.Fatalf("expected entity 'tabs', got %v", c.Entity)
	}

	// Same pair, second run: the open row suppresses re-detection.
	report, err = svc.Run(context.Background(), domain.ConsolidationOptions{Contradictions: true})
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if report.ContradictionsDetected != 0 {
		t.Fatalf("expected no re-detection, got %d", report.ContradictionsDetected)
	}
	if conStore.count() != 1 {
		t.Fatalf("expected 1 contradiction row, got %d", conStore.count())
	}
}

func TestConsolidationService_Run_DetectsPreferenceOverlapContradiction(t *testing.T) {
	svc, memStore, conStore := setupConsolidationTest()

	entity := "editor"
	for i, content := range []string{"prefers vim for quick edits", "prefers emacs for quick edits"} {
		id := []string{"m1", "m2"}[i]
		seedRow(memStore, id, content, []float32{1, 0, 0, 0}, func(m *domain.Memory) {
			m.Entity = &entity
			m.Category = domain.CategoryPreference
			m.Confidence = []float64{0.9, 0.5}[i]
		})
	}

	report, err := svc.Run(context.Background(), domain.ConsolidationOptions{Contradictions: true})
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if report.ContradictionsDetected != 1 {
		t.Fatalf("expected 1 contradiction, got %d", report.ContradictionsDetected)
	}

	rows, _ := conStore.List(context.Background(), domain.ContradictionListFilter{})
	// min(cos 1.0, 1 - |0.9-0.5|/2) = 0.8
	if !floatEq(rows[0].Confidence, 0.8) {
		t.Fatalf("expected contradiction confidence 0.8, got %g", rows[0].Confidence)
	}
}

func TestConsolidationService_Run_ContradictionNeedsTopicalCloseness(t *testing.T) {
	svc, memStore, _ := setupConsolidationTest()

	entity := "tabs"
	// cos = 0.5, below the 0.7 floor, even though the polarity differs.
	seedRow(memStore, "m1", "prefers tabs", []float32{1, 0, 0, 0}, func(m *domain.Memory) {
		m.Entity = &entity
	})
	seedRow(memStore, "m2", "never tabs", []float32{0.5, 0.866, 0, 0}, func(m *domain.Memory) {
		m.Entity = &entity
	})

	report, err := svc.Run(context.Background(), domain.ConsolidationOptions{Contradictions: true})
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if report.ContradictionsDetected != 0 {
		t.Fatalf("expected no contradiction below the similarity floor, got %d", report.ContradictionsDetected)
	}
}

func TestConsolidationService_Run_ContradictionNeedsEntity(t *testing.T) {
	svc, memStore, _ := setupConsolidationTest()

	seedRow(memStore, "m1", "prefers tabs", []float32{1, 0, 0, 0}, nil)
	seedRow(memStore, "m2", "never use tabs", []float32{1, 0, 0, 0}, nil)

	report, err := svc.Run(context.Background(), domain.ConsolidationOptions{Contradictions: true})
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if report.ContradictionsDetected != 0 {
		t.Fatalf("expected entity-less rows to never pair, got %d", report.ContradictionsDetected)
	}
}

func TestConsolidationService_Run_NegationMatchesWholeWordsOnly(t *testing.T) {
	if !hasNegation("never use tabs") {
		t.Fatal("expected 'never' to register as negation")
	}
	if hasNegation("nothing beats tabs") {
		t.Fatal("expected 'nothing' to stay neutral")
	}
	if !hasNegation("Don't deploy on fridays") {
		t.Fatal("expected contractions to fold and match")
	}
	if hasNegation("the nevermore raven") {
		t.Fatal("expected substrings to stay neutral")
	}
}

func TestConsolidationService_Run_AppliesDecay(t *testing.T) {
	svc, memStore, _ := setupConsolidationTest()

	tenDaysAgo := time.Now().UnixMilli() - 10*int64(msPerDay)
	seedRow(memStore, "idle", "unused belief", []float32{1, 0, 0, 0}, func(m *domain.Memory) {
		m.Confidence = 0.8
		m.DecayRate = 0.01
		m.CreatedAt = tenDaysAgo
		m.UpdatedAt = tenDaysAgo
	})
	seedRow(memStore, "pinned", "exempt row", nil, func(m *domain.Memory) {
		m.Confidence = 0.9
		m.DecayRate = 0
		m.CreatedAt = tenDaysAgo
		m.UpdatedAt = tenDaysAgo
	})

	report, err := svc.Run(context.Background(), domain.ConsolidationOptions{Decay: true})
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if report.MemoriesDecayed != 1 {
		t.Fatalf("expected 1 memory decayed, got %d", report.MemoriesDecayed)
	}

	// confidence * (1 - rate*days) = 0.8 * (1 - 0.1) = 0.72
	idle := memStore.get("idle")
	if !floatEq(idle.Confidence, 0.72) {
		t.Fatalf("expected confidence 0.72 after ten idle days, got %g", idle.Confidence)
	}
	pinned := memStore.get("pinned")
	if pinned.Confidence != 0.9 {
		t.Fatalf("expected the zero-rate row untouched, got %g", pinned.Confidence)
	}
}

func TestConsolidationService_Run_DecayMeasuresFromLastTouch(t *testing.T) {
	svc, memStore, _ := setupConsolidationTest()

	now := time.Now().UnixMilli()
	la := now - 10*int64(msPerDay)
	seedRow(memStore, "touched", "accessed recently", nil, func(m *domain.Memory) {
		m.Confidence = 0.8
		m.DecayRate = 0.01
		m.CreatedAt = now - 100*int64(msPerDay)
		m.UpdatedAt = now - 100*int64(msPerDay)
		m.LastAccessed = &la
	})

	_, err := svc.Run(context.Background(), domain.ConsolidationOptions{Decay: true})
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}

	// Idleness counts from the access ten days ago, not from creation.
	got := memStore.get("touched")
	if !floatEq(got.Confidence, 0.72) {
		t.Fatalf("expected confidence 0.72, got %g", got.Confidence)
	}
}

func TestConsolidationService_Run_DecayClampsAtZero(t *testing.T) {
	svc, memStore, _ := setupConsolidationTest()

	longAgo := time.Now().UnixMilli() - 300*int64(msPerDay)
	seedRow(memStore, "dead", "long forgotten", nil, func(m *domain.Memory) {
		m.Confidence = 0.5
		m.DecayRate = 0.1
		m.CreatedAt = longAgo
		m.UpdatedAt = longAgo
	})

	report, err := svc.Run(context.Background(), domain.ConsolidationOptions{Decay: true})
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if report.MemoriesDecayed != 1 {
		t.Fatalf("expected 1 memory decayed, got %d", report.MemoriesDecayed)
	}
	if got := memStore.get("dead").Confidence; got != 0 {
		t.Fatalf("expected confidence clamped to 0, got %g", got)
	}

	// A second pass over the floored row changes nothing.
	report, err = svc.Run(context.Background(), domain.ConsolidationOptions{Decay: true})
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if report.MemoriesDecayed != 0 {
		t.Fatalf("expected the floored row skipped, got %d", report.MemoriesDecayed)
	}
}

func TestConsolidationService_Run_CleanupStale(t *testing.T) {
	svc, memStore, _ := setupConsolidationTest()

	now := time.Now().UnixMilli()
	old := now - 100*int64(msPerDay)

	seedRow(memStore, "stale", "dead weight", nil, func(m *domain.Memory) {
		m.Confidence = 0.1
		m.CreatedAt = old
	})
	seedRow(memStore, "accessed", "kept by use", nil, func(m *domain.Memory) {
		m.Confidence = 0.1
		m.CreatedAt = old
		m.AccessCount = 3
	})
	seedRow(memStore, "confident", "kept by strength", nil, func(m *domain.Memory) {
		m.Confidence = 0.5
		m.CreatedAt = old
	})
	seedRow(memStore, "young", "kept by age", nil, func(m *domain.Memory) {
		m.Confidence = 0.1
	})

	report, err := svc.Run(context.Background(), domain.ConsolidationOptions{Stale: true})
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if report.StaleDeleted != 1 {
		t.Fatalf("expected 1 stale memory deleted, got %d", report.StaleDeleted)
	}
	if memStore.get("stale") != nil {
		t.Fatal("expected the stale row gone")
	}
	for _, id := range []string{"accessed", "confident", "young"} {
		if memStore.get(id) == nil {
			t.Fatalf("expected %s kept", id)
		}
	}
}

func TestConsolidationService_Run_CanceledAtBatchBoundary(t *testing.T) {
	svc, memStore, _ := setupConsolidationTest()

	seedRow(memStore, "a1", "dup one", []float32{1, 0, 0, 0}, nil)
	seedRow(memStore, "a2", "dup two", []float32{1, 0, 0, 0}, nil)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	report, err := svc.Run(ctx, domain.ConsolidationOptions{Duplicates: true})
	if !errors.Is(err, domain.ErrCanceled) {
		t.Fatalf("expected Canceled, got %v", err)
	}
	if report == nil {
		t.Fatal("expected a partial report alongside the error")
	}
	if report.DuplicatesRemoved != 0 {
		t.Fatalf("expected nothing committed, got %d", report.DuplicatesRemoved)
	}
	if memStore.count() != 2 {
		t.Fatal("expected both rows alive after the aborted run")
	}
}

func TestConsolidationService_Run_IdempotentOnQuiescentStore(t *testing.T) {
	svc, memStore, conStore := setupConsolidationTest()

	entity := "tabs"
	seedRow(memStore, "d1", "dup one", []float32{0, 1, 0, 0}, nil)
	seedRow(memStore, "d2", "dup two", []float32{0, 1, 0, 0}, nil)
	// cos 0.8: close enough to conflict, too far apart to merge.
	seedRow(memStore, "c1", "prefers tabs", []float32{1, 0, 0, 0}, func(m *domain.Memory) {
		m.Entity = &entity
	})
	seedRow(memStore, "c2", "never use tabs", []float32{0.8, 0.6, 0, 0}, func(m *domain.Memory) {
		m.Entity = &entity
	})

	opts := domain.ConsolidationOptions{Duplicates: true, Contradictions: true}

	first, err := svc.Run(context.Background(), opts)
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if first.DuplicatesRemoved != 1 || first.ContradictionsDetected != 1 {
		t.Fatalf("unexpected first report: %+v", first)
	}

	second, err := svc.Run(context.Background(), opts)
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if second.DuplicatesRemoved != 0 || second.ContradictionsDetected != 0 {
		t.Fatalf("expected a no-op second run, got %+v", second)
	}
	if memStore.count() != 3 || conStore.count() != 1 {
		t.Fatalf("expected stable state, got %d memories %d contradictions", memStore.count(), conStore.count())
	}
}

func TestConsolidationService_Run_ReportsDuration(t *testing.T) {
	svc, _, _ := setupConsolidationTest()

	report, err := svc.Run(context.Background(), domain.ConsolidationOptions{})
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if report.DurationMS < 0 {
		t.Fatalf("expected a non-negative duration, got %d", report.DurationMS)
	}
}

func TestConsolidationWorker_NeverDeletesStale(t *testing.T) {
	svc, memStore, _ := setupConsolidationTest()

	old := time.Now().UnixMilli() - 100*int64(msPerDay)
	seedRow(memStore, "stale", "dead weight", nil, func(m *domain.Memory) {
		m.Confidence = 0.1
		m.CreatedAt = old
	})
	seedRow(memStore, "d1", "dup one", []float32{1, 0, 0, 0}, func(m *domain.Memory) {
		m.DecayRate = 0
	})
	seedRow(memStore, "d2", "dup two", []float32{1, 0, 0, 0}, func(m *domain.Memory) {
		m.DecayRate = 0
	})

	worker := NewConsolidationWorker(svc, 20*time.Millisecond, testLogger())
	worker.Start()
	defer worker.Stop()

	// Wait for a scheduled run to merge the duplicates.
	deadline := time.Now().Add(2 * time.Second)
	for memStore.count() != 2 {
		if time.Now().After(deadline) {
			t.Fatal("expected the scheduled run to merge duplicates")
		}
		time.Sleep(10 * time.Millisecond)
	}

	if memStore.get("stale") == nil {
		t.Fatal("expected the scheduled run to leave stale rows alone")
	}
}

func TestConsolidationWorker_StopTerminates(t *testing.T) {
	svc, _, _ := setupConsolidationTest()

	worker := NewConsolidationWorker(svc, time.Hour, testLogger())
	worker.Start()

	done := make(chan struct{})
	go func() {
		worker.Stop()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("expected Stop to return promptly")
	}
}
