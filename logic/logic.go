// Package logic resolves natural-language object references and carries the
// glue between verb handlers, storage, and message delivery.
package logic

import (
	"context"
	"fmt"
	"log/slog"
	"regexp"
	"strconv"
	"strings"

	"github.com/codekulturbonn/textsmith"
	"github.com/codekulturbonn/textsmith/lang"
	"github.com/codekulturbonn/textsmith/structs"
)

// Words a user can type to refer to themselves or to the room they are in.
var (
	userAliases = map[string]bool{"me": true, "myself": true, "self": true}
	roomAliases = map[string]bool{"here": true}
)

var objectIDPattern = regexp.MustCompile(`^#(\d+)$`)

// MatchesName reports whether name equals the object's display name or one
// of its aliases, case-insensitively. Pure.
func MatchesName(name string, obj *structs.Object) bool {
	if strings.EqualFold(name, obj.Name) {
		return true
	}
	for _, alias := range obj.Aliases {
		if strings.EqualFold(name, alias) {
			return true
		}
	}
	return false
}

// MatchObject resolves an identifier against the candidate pool of sctx and
// returns the matching objects together with the token that matched. The
// result may be empty (nothing matched) or hold several objects (ambiguous
// reference); both are ordinary outcomes for the caller to interpret, never
// errors.
//
// Resolution order: self aliases, here aliases, #id lookup, then
// progressive shortest-prefix matching against names and aliases, growing
// the prefix one word at a time and stopping at the first length that
// matches anything. The #id branch deliberately returns every candidate
// with the id rather than enforcing uniqueness; the snapshot is trusted as
// given.
func MatchObject(identifier string, sctx *structs.Context) ([]*structs.Object, string) {
	identifier = strings.ToLower(strings.TrimSpace(identifier))
	if identifier == "" {
		return nil, ""
	}
	words := strings.Fields(identifier)
	first := words[0]
	if userAliases[first] && sctx.User != nil {
		return []*structs.Object{sctx.User}, first
	}
	if roomAliases[first] && sctx.Room != nil {
		return []*structs.Object{sctx.Room}, first
	}
	candidates := sctx.Candidates()
	if m := objectIDPattern.FindStringSubmatch(first); m != nil {
		id, err := strconv.ParseInt(m[1], 10, 64)
		if err != nil {
			return nil, ""
		}
		matches := []*structs.Object{}
		for _, obj := range candidates {
			if obj.ID == id {
				matches = append(matches, obj)
			}
		}
		if len(matches) == 0 {
			return nil, ""
		}
		return matches, first
	}
	for i := 1; i <= len(words); i++ {
		token := strings.Join(words[:i], " ")
		matches := []*structs.Object{}
		for _, obj := range candidates {
			if MatchesName(token, obj) {
				matches = append(matches, obj)
			}
		}
		if len(matches) > 0 {
			return matches, token
		}
	}
	return nil, ""
}

// Store is the persistence boundary consumed by Logic. Implementations own
// all world state; Logic only ever reads snapshots through it.
type Store interface {
	// UserContext assembles the resolution snapshot for the acting user.
	UserContext(ctx context.Context, userID int64) (*structs.Context, error)
	// Occupants lists the user objects currently inside a room.
	Occupants(ctx context.Context, roomID int64) ([]int64, error)
}

// Broker delivers rendered messages to connected users.
type Broker interface {
	EmitToUser(ctx context.Context, userID int64, message string) error
}

// ScriptRunner evaluates deferred-script attribute values. Evaluation is an
// external concern; Logic only routes tagged values through it.
type ScriptRunner interface {
	Eval(ctx context.Context, source string) (string, error)
}

type Logic struct {
	store   Store
	broker  Broker
	scripts ScriptRunner
	logger  *slog.Logger
}

func New(store Store, broker Broker, scripts ScriptRunner, logger *slog.Logger) *Logic {
	return &Logic{
		store:   store,
		broker:  broker,
		scripts: scripts,
		logger:  logger,
	}
}

// UserContext fetches the acting user's immutable resolution snapshot.
func (l *Logic) UserContext(ctx context.Context, userID int64) (*structs.Context, error) {
	sctx, err := l.store.UserContext(ctx, userID)
	return sctx, textsmith.WithStack(err)
}

// AttributeValue renders an object attribute as a string. Missing
// attributes are the empty string. Script-tagged values are evaluated by
// the injected runner; a broken script surfaces as an error to the caller,
// not to the user.
func (l *Logic) AttributeValue(ctx context.Context, obj *structs.Object, name string) (string, error) {
	value, found := obj.Attr(name)
	if !found {
		return "", nil
	}
	if !value.Script {
		return value.Text, nil
	}
	result, err := l.scripts.Eval(ctx, value.Text)
	return result, textsmith.WithStack(err)
}

// EmitToUser sends a message to one user.
func (l *Logic) EmitToUser(ctx context.Context, userID int64, message string) error {
	return textsmith.WithStack(l.broker.EmitToUser(ctx, userID, message))
}

// EmitToRoom sends a message to every user in a room except those in
// exclude.
func (l *Logic) EmitToRoom(ctx context.Context, roomID int64, exclude []int64, message string) error {
	occupants, err := l.store.Occupants(ctx, roomID)
	if err != nil {
		return textsmith.WithStack(err)
	}
	excluded := map[int64]bool{}
	for _, id := range exclude {
		excluded[id] = true
	}
	for _, id := range occupants {
		if excluded[id] {
			continue
		}
		// One unreachable occupant must not block the rest of the room.
		if err := l.broker.EmitToUser(ctx, id, message); err != nil {
			l.logger.WarnContext(ctx, "Undelivered room message.",
				slog.Int64("user_id", id),
				slog.Int64("room_id", roomID),
				slog.Any("error", err),
			)
		}
	}
	return nil
}

// NoMatch tells the user that an object reference resolved to nothing.
func (l *Logic) NoMatch(ctx context.Context, userID int64, identifier string) error {
	msg := fmt.Sprintf("Nothing called %q is visible from here.", identifier)
	return textsmith.WithStack(l.broker.EmitToUser(ctx, userID, msg))
}

// Clarify tells the user that an object reference was ambiguous, listing
// the candidates so they can be more specific.
func (l *Logic) Clarify(ctx context.Context, userID int64, identifier string, matches []*structs.Object) error {
	names := make([]string, len(matches))
	for i, obj := range matches {
		names[i] = fmt.Sprintf("%s (#%d)", obj.Name, obj.ID)
	}
	msg := fmt.Sprintf("Which %q do you mean? %s", identifier,
		lang.Enumerator{Operator: "or"}.Do(names...))
	return textsmith.WithStack(l.broker.EmitToUser(ctx, userID, msg))
}
