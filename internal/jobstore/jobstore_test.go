package jobstore

import (
	"testing"
	"time"
)

func TestSubmitGetDelete(t *testing.T) {
	s := New()
	j := &Job{JobID: "execute_aaaa1111", Operation: "execute"}
	if err := s.Submit(j); err != nil {
		t.Fatalf("Submit: %v", err)
	}

	got := s.Get(j.JobID)
	if got == nil || got.Status != StatusPending {
		t.Fatalf("got %+v, want pending", got)
	}

	if !s.Delete(j.JobID) {
		t.Fatal("Delete returned false for an existing job")
	}
	if s.Get(j.JobID) != nil {
		t.Fatal("job still present after Delete")
	}
	if s.Delete(j.JobID) {
		t.Fatal("second Delete should report not-found")
	}
}

func TestSubmitRejectsDuplicateJobID(t *testing.T) {
	s := New()
	j := &Job{JobID: "dup", Operation: "execute"}
	if err := s.Submit(j); err != nil {
		t.Fatalf("first Submit: %v", err)
	}
	if err := s.Submit(&Job{JobID: "dup", Operation: "execute"}); err != ErrJobExists {
		t.Fatalf("got %v, want ErrJobExists", err)
	}
}

func TestCompleteTransitionsPendingToTerminal(t *testing.T) {
	s := New()
	j := &Job{JobID: "j1", Operation: "fetchone"}
	_ = s.Submit(j)

	s.Complete("j1", []byte(`{"v":"a"}`), nil)
	got := s.Get("j1")
	if got.Status != StatusCompleted || string(got.Result) != `{"v":"a"}` {
		t.Fatalf("got %+v", got)
	}

	s2 := New()
	_ = s2.Submit(&Job{JobID: "j2"})
	s2.Complete("j2", nil, &OpError{Type: "OperationFailure", Message: "boom"})
	got2 := s2.Get("j2")
	if got2.Status != StatusFailed || got2.Error.Message != "boom" {
		t.Fatalf("got %+v", got2)
	}
}

func TestCompleteOnMissingJobIsANoop(t *testing.T) {
	s := New()
	s.Complete("ghost", nil, &OpError{Message: "x"})
}

func TestSweepRemovesOnlyExpiredJobs(t *testing.T) {
	s := New()
	fakeNow := time.Now()
	s.now = func() time.Time { return fakeNow }

	_ = s.Submit(&Job{JobID: "old"})
	fakeNow = fakeNow.Add(10 * time.Minute)
	_ = s.Submit(&Job{JobID: "new"})

	n := s.Sweep(5 * time.Minute)
	if n != 1 {
		t.Fatalf("swept %d jobs, want 1", n)
	}
	if s.Get("old") != nil {
		t.Fatal("old job should have been swept")
	}
	if s.Get("new") == nil {
		t.Fatal("new job should not have been swept")
	}
}

func TestLen(t *testing.T) {
	s := New()
	_ = s.Submit(&Job{JobID: "a"})
	_ = s.Submit(&Job{JobID: "b"})
	if s.Len() != 2 {
		t.Fatalf("Len() = %d, want 2", s.Len())
	}
}
