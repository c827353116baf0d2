package pubsub

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
	"golang.org/x/term"
)

type conn struct {
	buf  bytes.Buffer
	fail bool
}

func (c *conn) Read(p []byte) (int, error) {
	return 0, io.EOF
}

func (c *conn) Write(p []byte) (int, error) {
	if c.fail {
		return 0, fmt.Errorf("broken pipe")
	}
	return c.buf.Write(p)
}

func newSwitchboard() *Switchboard {
	return NewSwitchboard(slog.New(slog.NewTextHandler(io.Discard, nil)))
}

func TestEmitToAttached(t *testing.T) {
	s := newSwitchboard()
	c := &conn{}
	s.Attach(1, term.NewTerminal(c, ""))
	if err := s.EmitToUser(context.Background(), 1, "hello"); err != nil {
		t.Fatal(err)
	}
	if got := c.buf.String(); !strings.Contains(got, "hello") {
		t.Errorf("got %q", got)
	}
}

func TestEmitToAllTerminals(t *testing.T) {
	s := newSwitchboard()
	c1, c2 := &conn{}, &conn{}
	s.Attach(1, term.NewTerminal(c1, ""))
	s.Attach(1, term.NewTerminal(c2, ""))
	if err := s.EmitToUser(context.Background(), 1, "hello"); err != nil {
		t.Fatal(err)
	}
	for i, c := range []*conn{c1, c2} {
		if got := c.buf.String(); !strings.Contains(got, "hello") {
			t.Errorf("terminal %d got %q", i, got)
		}
	}
}

func TestEmitBuffersWhileDetached(t *testing.T) {
	s := newSwitchboard()
	for i := 0; i < 3; i++ {
		if err := s.EmitToUser(context.Background(), 1, fmt.Sprintf("msg %d", i)); err != nil {
			t.Fatal(err)
		}
	}
	c := &conn{}
	s.Attach(1, term.NewTerminal(c, ""))
	got := c.buf.String()
	for i := 0; i < 3; i++ {
		if !strings.Contains(got, fmt.Sprintf("msg %d", i)) {
			t.Errorf("backlog missing msg %d:\n%s", i, got)
		}
	}
	if strings.Index(got, "msg 0") > strings.Index(got, "msg 2") {
		t.Errorf("backlog out of order:\n%s", got)
	}
}

func TestBufferEvictsOldest(t *testing.T) {
	s := newSwitchboard()
	for i := 0; i < bufferSize+5; i++ {
		if err := s.EmitToUser(context.Background(), 1, fmt.Sprintf("msg %d", i)); err != nil {
			t.Fatal(err)
		}
	}
	c := &conn{}
	s.Attach(1, term.NewTerminal(c, ""))
	got := c.buf.String()
	if strings.Contains(got, "msg 0\n") {
		t.Errorf("oldest message not evicted:\n%s", got)
	}
	if !strings.Contains(got, fmt.Sprintf("msg %d", bufferSize+4)) {
		t.Errorf("newest message missing:\n%s", got)
	}
}

func TestConnectedUsers(t *testing.T) {
	s := newSwitchboard()
	t2 := term.NewTerminal(&conn{}, "")
	s.Attach(2, t2)
	s.Attach(1, term.NewTerminal(&conn{}, ""))
	if diff := cmp.Diff([]int64{1, 2}, s.ConnectedUsers()); diff != "" {
		t.Errorf("connected mismatch (-want +got):\n%s", diff)
	}
	s.Detach(2, t2)
	if diff := cmp.Diff([]int64{1}, s.ConnectedUsers()); diff != "" {
		t.Errorf("connected mismatch (-want +got):\n%s", diff)
	}
}

func TestBrokenTerminalDetached(t *testing.T) {
	s := newSwitchboard()
	c := &conn{fail: true}
	s.Attach(1, term.NewTerminal(c, ""))
	if err := s.EmitToUser(context.Background(), 1, "hello"); err != nil {
		t.Fatal(err)
	}
	if got := s.ConnectedUsers(); len(got) != 0 {
		t.Errorf("got %v, want no connected users", got)
	}
}
