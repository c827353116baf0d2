// Package pubsub routes world output to connected terminals. A user may hold
// several connections at once; every message goes to all of them.
package pubsub

import (
	"context"
	"log/slog"
	"sort"
	"sync"

	"golang.org/x/term"
)

// bufferSize is the number of messages kept per user. A user who attaches
// gets the buffered backlog replayed first.
const bufferSize = 64

type ring struct {
	messages []string
	start    int
	count    int
}

func (r *ring) push(msg string) {
	if r.messages == nil {
		r.messages = make([]string, bufferSize)
	}
	idx := (r.start + r.count) % bufferSize
	if r.count < bufferSize {
		r.messages[idx] = msg
		r.count++
	} else {
		r.messages[r.start] = msg
		r.start = (r.start + 1) % bufferSize
	}
}

func (r *ring) all() []string {
	if r.count == 0 {
		return nil
	}
	res := make([]string, r.count)
	for i := 0; i < r.count; i++ {
		res[i] = r.messages[(r.start+i)%bufferSize]
	}
	return res
}

// Switchboard tracks which terminals belong to which user.
type Switchboard struct {
	mu        sync.RWMutex
	terminals map[int64]map[*term.Terminal]struct{}
	buffers   map[int64]*ring
	logger    *slog.Logger
}

func NewSwitchboard(logger *slog.Logger) *Switchboard {
	return &Switchboard{
		terminals: map[int64]map[*term.Terminal]struct{}{},
		buffers:   map[int64]*ring{},
		logger:    logger,
	}
}

// Attach connects a terminal to a user's output and replays the buffered
// backlog. Nil terminals are ignored.
func (s *Switchboard) Attach(userID int64, t *term.Terminal) {
	if t == nil {
		return
	}
	s.mu.Lock()
	if s.terminals[userID] == nil {
		s.terminals[userID] = map[*term.Terminal]struct{}{}
	}
	s.terminals[userID][t] = struct{}{}
	var backlog []string
	if buffer := s.buffers[userID]; buffer != nil {
		backlog = buffer.all()
		delete(s.buffers, userID)
	}
	s.mu.Unlock()
	for _, msg := range backlog {
		if _, err := t.Write([]byte(msg + "\n")); err != nil {
			return
		}
	}
}

func (s *Switchboard) Detach(userID int64, t *term.Terminal) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if terms := s.terminals[userID]; terms != nil {
		delete(terms, t)
		if len(terms) == 0 {
			delete(s.terminals, userID)
		}
	}
}

// Connected lists the users with at least one attached terminal, in id
// order.
func (s *Switchboard) ConnectedUsers() []int64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	res := make([]int64, 0, len(s.terminals))
	for id := range s.terminals {
		res = append(res, id)
	}
	sort.Slice(res, func(i, j int) bool { return res[i] < res[j] })
	return res
}

// EmitToUser delivers a message to every terminal the user has attached. A
// user with no terminals gets the message buffered for their next attach.
// Terminals that fail to write are detached.
func (s *Switchboard) EmitToUser(ctx context.Context, userID int64, message string) error {
	s.mu.RLock()
	terms := s.terminals[userID]
	list := make([]*term.Terminal, 0, len(terms))
	for t := range terms {
		list = append(list, t)
	}
	s.mu.RUnlock()

	if len(list) == 0 {
		s.mu.Lock()
		if s.buffers[userID] == nil {
			s.buffers[userID] = &ring{}
		}
		s.buffers[userID].push(message)
		s.mu.Unlock()
		return nil
	}

	for _, t := range list {
		if _, err := t.Write([]byte(message + "\n")); err != nil {
			s.logger.WarnContext(ctx, "Detaching broken terminal.",
				slog.Int64("user_id", userID),
				slog.Any("error", err),
			)
			s.Detach(userID, t)
		}
	}
	return nil
}
