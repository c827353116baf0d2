// Package server owns process startup: logging, the host key, storage, and
// the SSH listener.
package server

import (
	"context"
	"io"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/gliderlabs/ssh"
	gossh "golang.org/x/crypto/ssh"
	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/codekulturbonn/textsmith"
	"github.com/codekulturbonn/textsmith/game"
	"github.com/codekulturbonn/textsmith/pemfile"
	"github.com/codekulturbonn/textsmith/storage"
)

type Config struct {
	SSHAddr string
	Dir     string
	// LogPath enables rotated JSON logs on disk. Empty means stderr.
	LogPath string
}

func DefaultConfig() Config {
	return Config{
		SSHAddr: "127.0.0.1:15000",
		Dir:     filepath.Join(os.Getenv("HOME"), ".textsmith"),
	}
}

type Server struct {
	config   Config
	logger   *slog.Logger
	pemBytes []byte
}

func New(config Config) (*Server, error) {
	var w io.Writer = os.Stderr
	if config.LogPath != "" {
		w = &lumberjack.Logger{
			Filename:   config.LogPath,
			MaxSize:    100, // megabytes
			MaxBackups: 5,
			MaxAge:     28, // days
		}
	}
	logger := slog.New(slog.NewJSONHandler(w, nil))

	if err := os.MkdirAll(config.Dir, 0700); err != nil {
		return nil, textsmith.WithStack(err)
	}

	privatePEMPath := filepath.Join(config.Dir, "private.pem")
	publicPEMPath := filepath.Join(config.Dir, "public.pem")
	if _, err := os.Stat(privatePEMPath); os.IsNotExist(err) {
		params := pemfile.KeyParams{
			KeyPath:       privatePEMPath,
			SSHPubKeyPath: publicPEMPath,
		}
		if err := params.Generate(); err != nil {
			return nil, textsmith.WithStack(err)
		}
		logger.Info("Generated server key pair.", slog.String("dir", config.Dir))
	} else if err != nil {
		return nil, textsmith.WithStack(err)
	}

	pemBytes, err := os.ReadFile(privatePEMPath)
	if err != nil {
		return nil, textsmith.WithStack(err)
	}

	return &Server{
		config:   config,
		logger:   logger,
		pemBytes: pemBytes,
	}, nil
}

func (s *Server) Start(ctx context.Context) error {
	signer, err := gossh.ParsePrivateKey(s.pemBytes)
	if err != nil {
		return textsmith.WithStack(err)
	}

	store, err := storage.New(ctx, s.config.Dir)
	if err != nil {
		return textsmith.WithStack(err)
	}
	defer store.Close()

	g, err := game.New(ctx, store, s.logger)
	if err != nil {
		return textsmith.WithStack(err)
	}

	s.logger.Info("Listening.",
		slog.String("addr", s.config.SSHAddr),
		slog.String("fingerprint", gossh.FingerprintSHA256(signer.PublicKey())),
	)
	return textsmith.WithStack(ssh.ListenAndServe(s.config.SSHAddr, g.HandleSession, ssh.HostKeyPEM(s.pemBytes)))
}
