// Package game ties the world together: it owns the storage, the
// switchboard, and the command pipeline, and runs one session per SSH
// connection.
package game

import (
	"context"
	"fmt"
	"io"
	"log/slog"

	"github.com/gliderlabs/ssh"
	"github.com/google/uuid"
	"github.com/pkg/errors"
	"golang.org/x/term"

	"github.com/codekulturbonn/textsmith"
	"github.com/codekulturbonn/textsmith/logic"
	"github.com/codekulturbonn/textsmith/parser"
	"github.com/codekulturbonn/textsmith/pubsub"
	"github.com/codekulturbonn/textsmith/script"
	"github.com/codekulturbonn/textsmith/storage"
	"github.com/codekulturbonn/textsmith/verbs"
)

type Game struct {
	storage     *storage.Storage
	switchboard *pubsub.Switchboard
	parser      *parser.Parser
	limiter     *loginRateLimiter
	logger      *slog.Logger
	genesisID   int64
}

func New(ctx context.Context, s *storage.Storage, logger *slog.Logger) (*Game, error) {
	genesis, err := s.EnsureGenesis(ctx)
	if err != nil {
		return nil, textsmith.WithStack(err)
	}
	switchboard := pubsub.NewSwitchboard(logger)
	l := logic.New(s, switchboard, script.New(), logger)
	v := verbs.New(l, s, switchboard, logger)
	return &Game{
		storage:     s,
		switchboard: switchboard,
		parser:      parser.New(v, switchboard, logger),
		limiter:     newLoginRateLimiter(),
		logger:      logger,
		genesisID:   genesis.ID,
	}, nil
}

func (g *Game) HandleSession(sess ssh.Session) {
	conn := &Connection{
		game:         g,
		sess:         sess,
		term:         term.NewTerminal(sess, "> "),
		connectionID: uuid.NewString(),
	}
	g.logger.Info("Session opened.",
		slog.String("connection_id", conn.connectionID),
		slog.String("remote", sess.RemoteAddr().String()),
	)
	if err := conn.Connect(); err != nil && !errors.Is(err, io.EOF) {
		fmt.Fprintln(conn.term, "Internal server error, disconnecting.")
		g.logger.Error("Session failed.",
			slog.String("connection_id", conn.connectionID),
			slog.Any("error", err),
			slog.Any("stack", textsmith.StackTrace(err)),
		)
	}
	g.logger.Info("Session closed.",
		slog.String("connection_id", conn.connectionID),
	)
}
