package parser

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/pkg/errors"
)

type call struct {
	Name         string
	UserID       int64
	ConnectionID string
	MessageID    string
	Verb         string
	Args         string
}

type fakeDispatch struct {
	calls []call
	err   error
}

func (f *fakeDispatch) record(name string, userID int64, connectionID, messageID, verb, args string) error {
	f.calls = append(f.calls, call{
		Name:         name,
		UserID:       userID,
		ConnectionID: connectionID,
		MessageID:    messageID,
		Verb:         verb,
		Args:         args,
	})
	return f.err
}

func (f *fakeDispatch) Say(ctx context.Context, userID int64, connectionID, messageID, message string) error {
	return f.record("say", userID, connectionID, messageID, "", message)
}

func (f *fakeDispatch) Shout(ctx context.Context, userID int64, connectionID, messageID, message string) error {
	return f.record("shout", userID, connectionID, messageID, "", message)
}

func (f *fakeDispatch) Emote(ctx context.Context, userID int64, connectionID, messageID, message string) error {
	return f.record("emote", userID, connectionID, messageID, "", message)
}

func (f *fakeDispatch) Tell(ctx context.Context, userID int64, connectionID, messageID, message string) error {
	return f.record("tell", userID, connectionID, messageID, "", message)
}

func (f *fakeDispatch) Do(ctx context.Context, userID int64, connectionID, messageID, verb, args string) error {
	return f.record("do", userID, connectionID, messageID, verb, args)
}

type panicDispatch struct {
	fakeDispatch
}

func (p *panicDispatch) Do(ctx context.Context, userID int64, connectionID, messageID, verb, args string) error {
	panic("boom")
}

type fakeEmitter struct {
	messages []string
	err      error
}

func (f *fakeEmitter) EmitToUser(ctx context.Context, userID int64, message string) error {
	f.messages = append(f.messages, message)
	return f.err
}

func newTestParser(dispatch Dispatcher) (*Parser, *fakeEmitter, *bytes.Buffer) {
	emit := &fakeEmitter{}
	buf := &bytes.Buffer{}
	logger := slog.New(slog.NewJSONHandler(buf, nil))
	p := New(dispatch, emit, logger)
	p.Intn = func(n int) int { return 0 }
	return p, emit, buf
}

const (
	userID       = int64(1234)
	connectionID = "conn-1"
	messageID    = "msg-1"
)

func TestParseWhitespaceOnly(t *testing.T) {
	for _, input := range []string{"", "   ", "\t", " \t \n "} {
		t.Run(fmt.Sprintf("%q", input), func(t *testing.T) {
			dispatch := &fakeDispatch{}
			p, emit, _ := newTestParser(dispatch)
			if err := p.Parse(context.Background(), userID, connectionID, messageID, input); err != nil {
				t.Fatal(err)
			}
			if len(dispatch.calls) != 0 {
				t.Errorf("dispatched %+v, want nothing", dispatch.calls)
			}
			if len(emit.messages) != 0 {
				t.Errorf("emitted %+v, want nothing", emit.messages)
			}
		})
	}
}

func TestParseShortcuts(t *testing.T) {
	tests := []struct {
		input       string
		wantName    string
		wantMessage string
	}{
		{`"Hello`, "say", "Hello"},
		{"!Hello", "shout", "Hello"},
		{":waves", "emote", "waves"},
		{"@user hello", "tell", "user hello"},
		{`" with space`, "say", " with space"},
	}
	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			dispatch := &fakeDispatch{}
			p, _, _ := newTestParser(dispatch)
			if err := p.Parse(context.Background(), userID, connectionID, messageID, tt.input); err != nil {
				t.Fatal(err)
			}
			want := []call{{
				Name:         tt.wantName,
				UserID:       userID,
				ConnectionID: connectionID,
				MessageID:    messageID,
				Args:         tt.wantMessage,
			}}
			if diff := cmp.Diff(want, dispatch.calls); diff != "" {
				t.Errorf("calls mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestParseVerb(t *testing.T) {
	tests := []struct {
		input    string
		wantVerb string
		wantArgs string
	}{
		{"foo bar", "foo", "bar"},
		{"foo", "foo", ""},
		{"foo   bar  baz", "foo", "bar  baz"},
		{"  look north  ", "look", "north"},
	}
	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			dispatch := &fakeDispatch{}
			p, _, _ := newTestParser(dispatch)
			if err := p.Parse(context.Background(), userID, connectionID, messageID, tt.input); err != nil {
				t.Fatal(err)
			}
			want := []call{{
				Name:         "do",
				UserID:       userID,
				ConnectionID: connectionID,
				MessageID:    messageID,
				Verb:         tt.wantVerb,
				Args:         tt.wantArgs,
			}}
			if diff := cmp.Diff(want, dispatch.calls); diff != "" {
				t.Errorf("calls mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestParseUnknownVerb(t *testing.T) {
	for phraseIdx := range Huh {
		dispatch := &fakeDispatch{err: ErrUnknownVerb}
		p, emit, buf := newTestParser(dispatch)
		p.Intn = func(n int) int {
			if n != len(Huh) {
				t.Errorf("Intn(%d), want Intn(%d)", n, len(Huh))
			}
			return phraseIdx
		}
		if err := p.Parse(context.Background(), userID, connectionID, messageID, "frobnicate it"); err != nil {
			t.Fatal(err)
		}
		if len(emit.messages) != 1 {
			t.Fatalf("emitted %d messages, want 1", len(emit.messages))
		}
		msg := emit.messages[0]
		if !strings.HasPrefix(msg, `"frobnicate", `) {
			t.Errorf("fallback %q does not start with the quoted verb", msg)
		}
		phrase := strings.TrimPrefix(msg, `"frobnicate", `)
		found := false
		for _, candidate := range Huh {
			if phrase == candidate {
				found = true
			}
		}
		if !found {
			t.Errorf("phrase %q not in the fallback pool", phrase)
		}
		if strings.Contains(buf.String(), "ERROR") {
			t.Errorf("unknown verb logged as an error: %s", buf.String())
		}
	}
}

func TestEvalEscapesMarkup(t *testing.T) {
	dispatch := &fakeDispatch{}
	p, _, _ := newTestParser(dispatch)
	p.Eval(context.Background(), userID, connectionID, `<script>alert("hi")</script>`)
	if len(dispatch.calls) != 1 {
		t.Fatalf("dispatched %+v, want one call", dispatch.calls)
	}
	got := dispatch.calls[0]
	if strings.ContainsAny(got.Verb+got.Args, "<>") {
		t.Errorf("markup characters survived escaping: %+v", got)
	}
	if !strings.Contains(got.Verb, "&lt;script&gt;") {
		t.Errorf("verb %q not escaped as expected", got.Verb)
	}
}

func TestEvalShortcutSurvivesEscaping(t *testing.T) {
	dispatch := &fakeDispatch{}
	p, _, _ := newTestParser(dispatch)
	p.Eval(context.Background(), userID, connectionID, `"Hello`)
	if len(dispatch.calls) != 1 || dispatch.calls[0].Name != "say" || dispatch.calls[0].Args != "Hello" {
		t.Errorf("calls = %+v, want one say with Hello", dispatch.calls)
	}
}

func TestEvalContainsDispatchError(t *testing.T) {
	dispatch := &fakeDispatch{err: errors.New("kaboom: secret internals")}
	p, emit, buf := newTestParser(dispatch)
	p.Eval(context.Background(), userID, connectionID, "foo bar")
	if len(dispatch.calls) != 1 {
		t.Fatalf("dispatched %+v, want one call", dispatch.calls)
	}
	msgID := dispatch.calls[0].MessageID
	if msgID == "" {
		t.Fatal("no message id generated")
	}
	if len(emit.messages) != 1 {
		t.Fatalf("emitted %d messages, want exactly one apology", len(emit.messages))
	}
	apology := emit.messages[0]
	if !strings.Contains(apology, msgID) {
		t.Errorf("apology %q does not reference message id %q", apology, msgID)
	}
	if strings.Contains(apology, "kaboom") || strings.Contains(apology, "secret") {
		t.Errorf("apology %q leaks the raw error", apology)
	}
	logged := buf.String()
	for _, want := range []string{"user_id", connectionID, msgID, "foo bar", "kaboom"} {
		if !strings.Contains(logged, want) {
			t.Errorf("log entry missing %q: %s", want, logged)
		}
	}
}

func TestEvalRecoversPanic(t *testing.T) {
	dispatch := &panicDispatch{}
	p, emit, buf := newTestParser(dispatch)
	p.Eval(context.Background(), userID, connectionID, "explode now")
	if len(emit.messages) != 1 {
		t.Fatalf("emitted %d messages, want one apology", len(emit.messages))
	}
	if !strings.Contains(buf.String(), "boom") {
		t.Errorf("panic detail not logged: %s", buf.String())
	}
	if strings.Contains(emit.messages[0], "boom") {
		t.Errorf("apology %q leaks the panic", emit.messages[0])
	}
}

func TestEvalFreshMessageIDPerAttempt(t *testing.T) {
	dispatch := &fakeDispatch{}
	p, _, _ := newTestParser(dispatch)
	p.Eval(context.Background(), userID, connectionID, "foo")
	p.Eval(context.Background(), userID, connectionID, "foo")
	if len(dispatch.calls) != 2 {
		t.Fatalf("dispatched %+v, want two calls", dispatch.calls)
	}
	if dispatch.calls[0].MessageID == dispatch.calls[1].MessageID {
		t.Error("message id reused across parse attempts")
	}
}
