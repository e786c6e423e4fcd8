package api

import (
	"errors"
	"testing"
	"time"
)

func TestSubmitPollTransitionsPendingToReady(t *testing.T) {
	ex := NewExecutor()
	release := make(chan struct{})
	h := ex.Submit(func() (any, error) {
		<-release
		return 42, nil
	})

	if got := ex.Poll(h); got.Status != StatusPending {
		t.Fatalf("expected pending before release, got %+v", got)
	}
	close(release)

	res := ex.Await(h, time.Second)
	if res.Status != StatusReady || res.Value != 42 || res.Err != nil {
		t.Fatalf("unexpected result: %+v", res)
	}
	ex.Forget(h)
}

func TestAwaitTimesOutAfterGivenTimeout(t *testing.T) {
	ex := NewExecutor()
	block := make(chan struct{})
	defer close(block)
	h := ex.Submit(func() (any, error) {
		<-block
		return nil, nil
	})

	res := ex.Await(h, 10*time.Millisecond)
	if res.Status != StatusReady || res.Err == nil {
		t.Fatalf("expected a timeout error, got %+v", res)
	}
}

func TestPollUnknownHandleFails(t *testing.T) {
	ex := NewExecutor()
	res := ex.Poll(Handle(999))
	if res.Err == nil {
		t.Fatal("expected an error for an unknown handle")
	}
}

func TestSubmitPropagatesOperationError(t *testing.T) {
	ex := NewExecutor()
	wantErr := errors.New("boom")
	h := ex.Submit(func() (any, error) { return nil, wantErr })
	res := ex.Await(h, time.Second)
	if res.Err != wantErr {
		t.Fatalf("expected propagated error, got %v", res.Err)
	}
}
