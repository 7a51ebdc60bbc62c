package model

import (
	"errors"
	"sync"
	"testing"
)

func TestRunCounters(t *testing.T) {
	t.Parallel()

	run := NewRun("example")

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			run.Attempt("item", i%2 == 0)
		}(i)
	}
	wg.Wait()
	run.Stored("item", 5)
	run.Checked("item", 7, 3)

	got := run.Snapshot("item")
	if got.Attempted != 10 || got.Fetched != 5 || got.Failed != 5 {
		t.Errorf("unexpected attempt counters: %+v", got)
	}
	if got.Stored != 5 || got.Found != 7 || got.New != 3 {
		t.Errorf("unexpected store counters: %+v", got)
	}
	if names := run.ModelNames(); len(names) != 1 || names[0] != "item" {
		t.Errorf("expected [item], got %v", names)
	}
}

func TestRunNilIsNoop(t *testing.T) {
	t.Parallel()

	var run *Run
	run.Attempt("item", true)
	run.Stored("item", 1)
	run.Checked("item", 1, 1)
	run.AddStep("auth")
	run.AddCategoryPass(CategoryPass{Category: "x"})
	run.Fail(errors.New("boom"))
	run.Finish(0)
}

func TestRunFail(t *testing.T) {
	t.Parallel()

	run := NewRun("example")
	run.Fail(nil)
	if run.Error != nil {
		t.Fatal("expected nil error to be ignored")
	}

	run.Fail(errors.New("malformed plan"))
	if run.ErrorMessage != "malformed plan" {
		t.Errorf("expected error message, got %q", run.ErrorMessage)
	}
}
