package txregistry

import (
	"testing"
)

func TestBeginGetEnd(t *testing.T) {
	r := New()
	h := &Handle{}

	if err := r.Begin("tx1", h); err != nil {
		t.Fatalf("Begin: %v", err)
	}

	got, err := r.Get("tx1")
	if err != nil || got != h {
		t.Fatalf("Get: %+v, %v", got, err)
	}

	ended, err := r.End("tx1")
	if err != nil || ended != h {
		t.Fatalf("End: %+v, %v", ended, err)
	}

	if _, err := r.Get("tx1"); err != ErrUnknownTx {
		t.Fatalf("got %v, want ErrUnknownTx after End", err)
	}
}

func TestBeginRejectsDuplicateTxID(t *testing.T) {
	r := New()
	_ = r.Begin("tx1", &Handle{})
	if err := r.Begin("tx1", &Handle{}); err != ErrTxExists {
		t.Fatalf("got %v, want ErrTxExists", err)
	}
}

func TestGetAndEndOnUnknownTxID(t *testing.T) {
	r := New()
	if _, err := r.Get("ghost"); err != ErrUnknownTx {
		t.Fatalf("Get: got %v, want ErrUnknownTx", err)
	}
	if _, err := r.End("ghost"); err != ErrUnknownTx {
		t.Fatalf("End: got %v, want ErrUnknownTx", err)
	}
}

func TestLen(t *testing.T) {
	r := New()
	_ = r.Begin("a", &Handle{})
	_ = r.Begin("b", &Handle{})
	if r.Len() != 2 {
		t.Fatalf("Len() = %d, want 2", r.Len())
	}
	_, _ = r.End("a")
	if r.Len() != 1 {
		t.Fatalf("Len() after End = %d, want 1", r.Len())
	}
}
