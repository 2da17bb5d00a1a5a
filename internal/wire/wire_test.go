package wire

import (
	"bytes"
	"net"
	"testing"
	"time"
)

type req struct {
	Command string `json:"command"`
	JobID   string `json:"job_id"`
}

func TestWriteReadFrameRoundTrip(t *testing.T) {
	var buf bytes.Buffer
	want := req{Command: "poll", JobID: "execute_deadbeef"}
	if err := WriteFrame(&buf, want); err != nil {
		t.Fatalf("WriteFrame: %v", err)
	}

	var got req
	if err := ReadFrame(&buf, &got); err != nil {
		t.Fatalf("ReadFrame: %v", err)
	}
	if got != want {
		t.Fatalf("got %+v, want %+v", got, want)
	}
}

func TestReadFrameOnEmptyStreamIsClosed(t *testing.T) {
	var got req
	err := ReadFrame(bytes.NewReader(nil), &got)
	if err != ErrClosed {
		t.Fatalf("got %v, want ErrClosed", err)
	}
}

func TestReadFrameOnTruncatedBodyIsClosed(t *testing.T) {
	var buf bytes.Buffer
	if err := WriteFrame(&buf, req{Command: "submit"}); err != nil {
		t.Fatalf("WriteFrame: %v", err)
	}
	truncated := buf.Bytes()[:buf.Len()-2]

	var got req
	err := ReadFrame(bytes.NewReader(truncated), &got)
	if err != ErrClosed {
		t.Fatalf("got %v, want ErrClosed", err)
	}
}

func TestOversizedLengthPrefixIsRejected(t *testing.T) {
	var buf bytes.Buffer
	buf.Write([]byte{0xFF, 0xFF, 0xFF, 0xFF})
	var got req
	err := ReadFrame(&buf, &got)
	if err != ErrFrameTooLarge {
		t.Fatalf("got %v, want ErrFrameTooLarge", err)
	}
}

func TestRoundTripOverRealSocket(t *testing.T) {
	dir := t.TempDir()
	sockPath := dir + "/test.sock"

	ln, err := net.Listen("unix", sockPath)
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	defer ln.Close()

	done := make(chan struct{})
	go func() {
		defer close(done)
		c, err := ln.Accept()
		if err != nil {
			return
		}
		defer c.Close()
		var r req
		if err := ReadFrame(c, &r); err != nil {
			t.Errorf("server ReadFrame: %v", err)
			return
		}
		if err := WriteFrame(c, map[string]any{"success": true, "echo": r.JobID}); err != nil {
			t.Errorf("server WriteFrame: %v", err)
		}
	}()

	c, err := net.DialTimeout("unix", sockPath, 2*time.Second)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer c.Close()

	if err := WriteFrame(c, req{Command: "poll", JobID: "abc123"}); err != nil {
		t.Fatalf("client WriteFrame: %v", err)
	}

	var resp struct {
		Success bool   `json:"success"`
		Echo    string `json:"echo"`
	}
	if err := ReadFrame(c, &resp); err != nil {
		t.Fatalf("client ReadFrame: %v", err)
	}
	if !resp.Success || resp.Echo != "abc123" {
		t.Fatalf("unexpected response: %+v", resp)
	}

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("server goroutine did not finish")
	}
}
