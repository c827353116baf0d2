// Package parser turns one line of raw user input into a dispatched action.
// It owns the exception boundary for command handling: nothing a single user
// types may abort the service loop shared with everyone else.
package parser

import (
	"context"
	"fmt"
	"log/slog"
	"math/rand"
	"strings"
	"unicode"

	"github.com/google/uuid"
	"github.com/pkg/errors"

	"github.com/codekulturbonn/textsmith"
)

// ErrUnknownVerb is returned by a Dispatcher when no handler exists for the
// verb. It is ordinary control flow, not a failure: the parser answers with
// a fallback phrase instead of logging an error.
var ErrUnknownVerb = errors.New("unknown verb")

// Huh is the pool of fallback responses for unrecognised verbs. One entry is
// picked pseudo-randomly per unknown verb; tests assert membership in the
// pool rather than a specific phrase.
var Huh = []string{
	"I don't understand that.",
	"Nope. No idea what you mean.",
	"That makes no sense to me.",
	"Try something else, that didn't work.",
	"I have no idea how to do that.",
	"Sorry, you've lost me there.",
}

// Dispatcher routes parsed input to verb handlers. Say, Shout, Emote and
// Tell are the single-character shortcut actions; Do covers everything else
// and reports ErrUnknownVerb when the verb has no handler.
type Dispatcher interface {
	Say(ctx context.Context, userID int64, connectionID, messageID, message string) error
	Shout(ctx context.Context, userID int64, connectionID, messageID, message string) error
	Emote(ctx context.Context, userID int64, connectionID, messageID, message string) error
	Tell(ctx context.Context, userID int64, connectionID, messageID, message string) error
	Do(ctx context.Context, userID int64, connectionID, messageID, verb, args string) error
}

// Emitter delivers a rendered message to a single user.
type Emitter interface {
	EmitToUser(ctx context.Context, userID int64, message string) error
}

// Parser evaluates raw user input. It holds no per-command state: every
// invocation is independent and safe to run concurrently with any other.
type Parser struct {
	dispatch Dispatcher
	emit     Emitter
	logger   *slog.Logger

	// Intn picks the fallback phrase index. Tests replace it with a
	// deterministic source.
	Intn func(n int) int
}

func New(dispatch Dispatcher, emit Emitter, logger *slog.Logger) *Parser {
	return &Parser{
		dispatch: dispatch,
		emit:     emit,
		logger:   logger,
		Intn:     rand.Intn,
	}
}

// escaper neutralizes markup-significant characters before parsing. Quotes
// are left alone: the say shortcut depends on a leading double quote.
var escaper = strings.NewReplacer("&", "&amp;", "<", "&lt;", ">", "&gt;")

// Eval processes one raw input line from a user. It escapes the input,
// stamps it with a fresh message id, and parses it. Errors and panics from
// parsing are contained here: they are logged with full context and turned
// into an apology carrying the message id, never the error itself.
func (p *Parser) Eval(ctx context.Context, userID int64, connectionID string, raw string) {
	messageID := uuid.NewString()
	text := escaper.Replace(raw)
	err := func() (err error) {
		defer func() {
			if rec := recover(); rec != nil {
				err = errors.Errorf("panic while parsing: %v", rec)
			}
		}()
		return p.Parse(ctx, userID, connectionID, messageID, text)
	}()
	if err != nil {
		p.handleError(ctx, userID, connectionID, messageID, text, err)
	}
}

func (p *Parser) handleError(ctx context.Context, userID int64, connectionID, messageID, message string, err error) {
	p.logger.ErrorContext(ctx, "Exception.",
		slog.Int64("user_id", userID),
		slog.String("connection_id", connectionID),
		slog.String("message_id", messageID),
		slog.String("message", message),
		slog.Any("error", err),
	)
	apology := fmt.Sprintf("Sorry. Something went wrong when processing your command. id: %s", messageID)
	if emitErr := p.emit.EmitToUser(ctx, userID, apology); emitErr != nil {
		p.logger.ErrorContext(ctx, "Undeliverable apology.",
			slog.Int64("user_id", userID),
			slog.String("connection_id", connectionID),
			slog.String("message_id", messageID),
			slog.Any("error", emitErr),
		)
	}
}

// Parse interprets one escaped input line. Whitespace-only input is a no-op.
// A leading shortcut character dispatches directly; anything else splits
// into verb and argument string for the registry. Unknown verbs get a
// fallback response here; every other dispatch error propagates to Eval.
func (p *Parser) Parse(ctx context.Context, userID int64, connectionID, messageID, text string) error {
	trimmed := strings.TrimSpace(text)
	if trimmed == "" {
		return nil
	}
	rest := trimmed[1:]
	switch trimmed[0] {
	case '"':
		return textsmith.WithStack(p.dispatch.Say(ctx, userID, connectionID, messageID, rest))
	case '!':
		return textsmith.WithStack(p.dispatch.Shout(ctx, userID, connectionID, messageID, rest))
	case ':':
		return textsmith.WithStack(p.dispatch.Emote(ctx, userID, connectionID, messageID, rest))
	case '@':
		return textsmith.WithStack(p.dispatch.Tell(ctx, userID, connectionID, messageID, rest))
	}
	verb, args := trimmed, ""
	if idx := strings.IndexFunc(trimmed, unicode.IsSpace); idx >= 0 {
		verb = trimmed[:idx]
		args = strings.TrimLeftFunc(trimmed[idx:], unicode.IsSpace)
	}
	err := p.dispatch.Do(ctx, userID, connectionID, messageID, verb, args)
	if errors.Is(err, ErrUnknownVerb) {
		phrase := Huh[p.Intn(len(Huh))]
		response := fmt.Sprintf("%q, %s", verb, phrase)
		return textsmith.WithStack(p.emit.EmitToUser(ctx, userID, response))
	}
	return textsmith.WithStack(err)
}
