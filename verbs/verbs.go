// Package verbs contains the built-in verbs that express the core
// capabilities of the world. Everything beyond these is expected to live in
// object scripts.
package verbs

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/buildkite/shellwords"
	"github.com/rodaine/table"

	"github.com/codekulturbonn/textsmith"
	"github.com/codekulturbonn/textsmith/lang"
	"github.com/codekulturbonn/textsmith/logic"
	"github.com/codekulturbonn/textsmith/parser"
	"github.com/codekulturbonn/textsmith/structs"
)

// Store is the slice of persistence the built-in verbs need beyond what
// logic already provides.
type Store interface {
	Object(ctx context.Context, id int64) (*structs.Object, error)
	CreateThing(ctx context.Context, name, summary string, location int64) (*structs.Object, error)
}

// Presence reports which users currently have a live connection.
type Presence interface {
	ConnectedUsers() []int64
}

type verbFunc func(ctx context.Context, userID int64, connectionID, messageID, message string) error

type verb struct {
	names map[string]bool
	f     verbFunc
}

func m(s ...string) map[string]bool {
	res := map[string]bool{}
	for _, p := range s {
		res[p] = true
	}
	return res
}

// Verbs implements parser.Dispatcher over the built-in verb set.
type Verbs struct {
	logic    *logic.Logic
	store    Store
	presence Presence
	logger   *slog.Logger
	registry []verb
}

func New(l *logic.Logic, store Store, presence Presence, logger *slog.Logger) *Verbs {
	v := &Verbs{
		logic:    l,
		store:    store,
		presence: presence,
		logger:   logger,
	}
	v.registry = []verb{
		{names: m("say"), f: v.Say},
		{names: m("shout", "scream", "holler"), f: v.Shout},
		{names: m("emote"), f: v.Emote},
		{names: m("tell"), f: v.Tell},
		{names: m("look", "l"), f: v.look},
		{names: m("who"), f: v.who},
		{names: m("make", "create"), f: v.create},
	}
	return v
}

// Do dispatches a non-shortcut verb. Lookup failure is reported as
// parser.ErrUnknownVerb so the parser can answer with a fallback phrase.
func (v *Verbs) Do(ctx context.Context, userID int64, connectionID, messageID, name, args string) error {
	lowered := strings.ToLower(name)
	for _, entry := range v.registry {
		if entry.names[lowered] {
			return entry.f(ctx, userID, connectionID, messageID, args)
		}
	}
	return parser.ErrUnknownVerb
}

func (v *Verbs) log(ctx context.Context, event string, userID int64, connectionID, messageID, message string) {
	v.logger.InfoContext(ctx, event,
		slog.Int64("user_id", userID),
		slog.String("connection_id", connectionID),
		slog.String("message_id", messageID),
		slog.String("message", message),
	)
}

// Say delivers the message to everyone in the current location.
func (v *Verbs) Say(ctx context.Context, userID int64, connectionID, messageID, message string) error {
	v.log(ctx, "Say something.", userID, connectionID, messageID, message)
	message = strings.TrimSpace(message)
	if message == "" {
		return nil
	}
	sctx, err := v.logic.UserContext(ctx, userID)
	if err != nil {
		return textsmith.WithStack(err)
	}
	userMsg := fmt.Sprintf("> You say, \"*%s*\".", message)
	if err := v.logic.EmitToUser(ctx, userID, userMsg); err != nil {
		return textsmith.WithStack(err)
	}
	if sctx.Room == nil {
		return nil
	}
	roomMsg := fmt.Sprintf("> %s says, \"*%s*\".", sctx.User.Name, message)
	return textsmith.WithStack(v.logic.EmitToRoom(ctx, sctx.Room.ID, []int64{userID}, roomMsg))
}

// Shout delivers the message, strongly, to everyone in the current location.
func (v *Verbs) Shout(ctx context.Context, userID int64, connectionID, messageID, message string) error {
	v.log(ctx, "Shout something.", userID, connectionID, messageID, message)
	message = strings.TrimSpace(message)
	if message == "" {
		return nil
	}
	sctx, err := v.logic.UserContext(ctx, userID)
	if err != nil {
		return textsmith.WithStack(err)
	}
	userMsg := fmt.Sprintf("> You shout, \"**%s**\".", message)
	if err := v.logic.EmitToUser(ctx, userID, userMsg); err != nil {
		return textsmith.WithStack(err)
	}
	if sctx.Room == nil {
		return nil
	}
	roomMsg := fmt.Sprintf("> %s shouts, \"**%s**\".", sctx.User.Name, message)
	return textsmith.WithStack(v.logic.EmitToRoom(ctx, sctx.Room.ID, []int64{userID}, roomMsg))
}

// Emote shows the acting user performing the message.
func (v *Verbs) Emote(ctx context.Context, userID int64, connectionID, messageID, message string) error {
	v.log(ctx, "Emote something.", userID, connectionID, messageID, message)
	message = strings.TrimSpace(message)
	if message == "" {
		return nil
	}
	sctx, err := v.logic.UserContext(ctx, userID)
	if err != nil {
		return textsmith.WithStack(err)
	}
	emoted := fmt.Sprintf("%s %s", sctx.User.Name, message)
	if err := v.logic.EmitToUser(ctx, userID, emoted); err != nil {
		return textsmith.WithStack(err)
	}
	if sctx.Room == nil {
		return nil
	}
	return textsmith.WithStack(v.logic.EmitToRoom(ctx, sctx.Room.ID, []int64{userID}, emoted))
}

// Tell says something to one specific person, overheard by the room. The
// target reference is resolved from the start of the message and stripped
// from what gets said.
func (v *Verbs) Tell(ctx context.Context, userID int64, connectionID, messageID, message string) error {
	v.log(ctx, "Tell something.", userID, connectionID, messageID, message)
	message = strings.TrimSpace(message)
	if message == "" {
		return nil
	}
	sctx, err := v.logic.UserContext(ctx, userID)
	if err != nil {
		return textsmith.WithStack(err)
	}
	matches, token := logic.MatchObject(message, sctx)
	switch len(matches) {
	case 0:
		return textsmith.WithStack(v.logic.NoMatch(ctx, userID, "@"+message))
	case 1:
	default:
		return textsmith.WithStack(v.logic.Clarify(ctx, userID, "@"+message, matches))
	}
	recipient := matches[0]
	clean := stripToken(message, token)
	if clean == "" {
		return nil
	}
	userMsg := fmt.Sprintf("> You say to %s, \"*%s*\".", recipient.Name, clean)
	recipientMsg := fmt.Sprintf("> %s says, \"*%s*\" to you.", sctx.User.Name, clean)
	if err := v.logic.EmitToUser(ctx, userID, userMsg); err != nil {
		return textsmith.WithStack(err)
	}
	if err := v.logic.EmitToUser(ctx, recipient.ID, recipientMsg); err != nil {
		return textsmith.WithStack(err)
	}
	if sctx.Room == nil {
		return nil
	}
	roomMsg := fmt.Sprintf("> %s says to %s, \"*%s*\".", sctx.User.Name, recipient.Name, clean)
	return textsmith.WithStack(v.logic.EmitToRoom(ctx, sctx.Room.ID, []int64{userID, recipient.ID}, roomMsg))
}

// stripToken removes the resolved reference from the start of the message.
// The token came out of whitespace-normalized matching, so fields are
// compared instead of raw prefixes.
func stripToken(message, token string) string {
	words := strings.Fields(message)
	n := len(strings.Fields(token))
	if n >= len(words) {
		return ""
	}
	return strings.Join(words[n:], " ")
}

func (v *Verbs) look(ctx context.Context, userID int64, connectionID, messageID, message string) error {
	v.log(ctx, "Look.", userID, connectionID, messageID, message)
	sctx, err := v.logic.UserContext(ctx, userID)
	if err != nil {
		return textsmith.WithStack(err)
	}
	target := strings.TrimSpace(message)
	if target != "" {
		matches, _ := logic.MatchObject(target, sctx)
		switch len(matches) {
		case 0:
			return textsmith.WithStack(v.logic.NoMatch(ctx, userID, target))
		case 1:
			return textsmith.WithStack(v.describe(ctx, userID, matches[0]))
		default:
			return textsmith.WithStack(v.logic.Clarify(ctx, userID, target, matches))
		}
	}
	if sctx.Room == nil {
		return textsmith.WithStack(v.logic.EmitToUser(ctx, userID, "You float in a featureless void."))
	}
	out := &strings.Builder{}
	fmt.Fprintf(out, "## %s\n", lang.Capitalize(sctx.Room.Name))
	if desc, err := v.logic.AttributeValue(ctx, sctx.Room, "description"); err == nil && desc != "" {
		fmt.Fprintf(out, "\n%s\n", desc)
	}
	if len(sctx.Users) > 0 {
		names := make([]string, len(sctx.Users))
		for i, u := range sctx.Users {
			names[i] = u.Name
		}
		fmt.Fprintf(out, "\n%s here.\n", lang.Enumerator{Tense: lang.Present}.Do(names...))
	}
	if len(sctx.Things) > 0 {
		names := make([]string, len(sctx.Things))
		for i, thing := range sctx.Things {
			names[i] = thing.Name
		}
		fmt.Fprintf(out, "\nYou see %s.\n", lang.Enumerator{}.Do(names...))
	}
	if len(sctx.Exits) > 0 {
		names := make([]string, len(sctx.Exits))
		for i, exit := range sctx.Exits {
			names[i] = exit.Name
		}
		fmt.Fprintf(out, "\nExits: %s.\n", strings.Join(names, ", "))
	}
	return textsmith.WithStack(v.logic.EmitToUser(ctx, userID, out.String()))
}

func (v *Verbs) describe(ctx context.Context, userID int64, obj *structs.Object) error {
	out := &strings.Builder{}
	fmt.Fprintf(out, "## %s (#%d)\n", lang.Capitalize(obj.Name), obj.ID)
	if desc, err := v.logic.AttributeValue(ctx, obj, "description"); err == nil && desc != "" {
		fmt.Fprintf(out, "\n%s\n", desc)
	}
	return textsmith.WithStack(v.logic.EmitToUser(ctx, userID, out.String()))
}

func (v *Verbs) who(ctx context.Context, userID int64, connectionID, messageID, message string) error {
	v.log(ctx, "Who.", userID, connectionID, messageID, message)
	buf := &bytes.Buffer{}
	t := table.New("Name", "Id").WithWriter(buf)
	count := 0
	for _, id := range v.presence.ConnectedUsers() {
		obj, err := v.store.Object(ctx, id)
		if err != nil {
			continue
		}
		t.AddRow(obj.Name, fmt.Sprintf("#%d", obj.ID))
		count++
	}
	t.Print()
	fmt.Fprintf(buf, "%s connected.\n", lang.Capitalize(lang.Card(count, "user")))
	return textsmith.WithStack(v.logic.EmitToUser(ctx, userID, buf.String()))
}

func (v *Verbs) create(ctx context.Context, userID int64, connectionID, messageID, message string) error {
	v.log(ctx, "Make object.", userID, connectionID, messageID, message)
	parts, err := shellwords.SplitPosix(strings.TrimSpace(message))
	if err != nil || len(parts) == 0 || len(parts) > 2 {
		usage := `Usage: make "name of object" "a short description"`
		return textsmith.WithStack(v.logic.EmitToUser(ctx, userID, usage))
	}
	name := parts[0]
	summary := ""
	if len(parts) == 2 {
		summary = parts[1]
	}
	sctx, err := v.logic.UserContext(ctx, userID)
	if err != nil {
		return textsmith.WithStack(err)
	}
	if sctx.Room == nil {
		return textsmith.WithStack(v.logic.EmitToUser(ctx, userID, "There is nowhere to put it."))
	}
	obj, err := v.store.CreateThing(ctx, name, summary, sctx.Room.ID)
	if err != nil {
		return textsmith.WithStack(err)
	}
	userMsg := fmt.Sprintf("You make %s (#%d).", obj.Name, obj.ID)
	if err := v.logic.EmitToUser(ctx, userID, userMsg); err != nil {
		return textsmith.WithStack(err)
	}
	roomMsg := fmt.Sprintf("%s makes %s.", sctx.User.Name, obj.Name)
	return textsmith.WithStack(v.logic.EmitToRoom(ctx, sctx.Room.ID, []int64{userID}, roomMsg))
}
