package game

import (
	"fmt"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/gliderlabs/ssh"
	"github.com/pkg/errors"
	"golang.org/x/term"

	"github.com/codekulturbonn/textsmith"
	"github.com/codekulturbonn/textsmith/lang"
	"github.com/codekulturbonn/textsmith/storage"
)

var ErrOperationAborted = fmt.Errorf("operation aborted")

type Connection struct {
	game         *Game
	sess         ssh.Session
	term         *term.Terminal
	user         *storage.User
	connectionID string
}

func (c *Connection) SelectExec(options map[string]func() error) error {
	commandNames := make(sort.StringSlice, 0, len(options))
	for name := range options {
		commandNames = append(commandNames, name)
	}
	sort.Sort(commandNames)
	prompt := fmt.Sprintf("%s\n", lang.Enumerator{Pattern: "[%s]", Operator: "or"}.Do(commandNames...))
	for {
		fmt.Fprint(c.term, prompt)
		line, err := c.term.ReadLine()
		if err != nil {
			return textsmith.WithStack(err)
		}
		if cmd, found := options[line]; found {
			if err := cmd(); err != nil {
				return textsmith.WithStack(err)
			}
			break
		}
	}
	return nil
}

func (c *Connection) SelectReturn(prompt string, options []string) (string, error) {
	for {
		fmt.Fprintf(c.term, "%s [%s]\n", prompt, strings.Join(options, "/"))
		line, err := c.term.ReadLine()
		if err != nil {
			return "", textsmith.WithStack(err)
		}
		for _, option := range options {
			if strings.EqualFold(line, option) {
				return option, nil
			}
		}
	}
}

func (c *Connection) Connect() error {
	fmt.Fprint(c.term, "Welcome!\n\n")
	sel := func() error {
		return c.SelectExec(map[string]func() error{
			"login user":  c.loginUser,
			"create user": c.createUser,
		})
	}
	var err error
	for err = sel(); errors.Is(err, ErrOperationAborted); err = sel() {
	}
	if err != nil {
		return textsmith.WithStack(err)
	}
	return c.Process()
}

// Process runs the command loop. Everything the user types goes through the
// parser; the switchboard carries everything coming back.
func (c *Connection) Process() error {
	if c.user == nil {
		return errors.New("can't process without user")
	}
	ctx := c.sess.Context()
	userID := c.user.ObjectID

	c.game.switchboard.Attach(userID, c.term)
	defer c.game.switchboard.Detach(userID, c.term)

	c.game.parser.Eval(ctx, userID, c.connectionID, "look")

	for {
		line, err := c.term.ReadLine()
		if err != nil {
			return textsmith.WithStack(err)
		}
		c.game.parser.Eval(ctx, userID, c.connectionID, line)
	}
}

func (c *Connection) loginUser() error {
	fmt.Fprint(c.term, "** Login user **\n\n")
	ctx := c.sess.Context()
	for c.user == nil {
		fmt.Fprintln(c.term, "Enter username or [abort]:")
		username, err := c.term.ReadLine()
		if err != nil {
			return err
		}
		if username == "abort" {
			return textsmith.WithStack(ErrOperationAborted)
		}

		// Rate limit login attempts per username (only after failed attempts)
		c.game.limiter.waitIfNeeded(username, c.term)

		fmt.Fprint(c.term, "Enter password or [abort]:\n")
		password, err := c.term.ReadPassword("> ")
		if err != nil {
			return err
		}
		if password == "abort" {
			return textsmith.WithStack(ErrOperationAborted)
		}

		user, err := c.game.storage.LoadUser(ctx, username)
		if errors.Is(err, os.ErrNotExist) {
			// Same failure path as a bad password, to block user enumeration.
			c.game.limiter.recordFailure(username)
			c.logLoginFailure(username)
			fmt.Fprintln(c.term, "Invalid credentials!")
			continue
		} else if err != nil {
			return textsmith.WithStack(err)
		}

		if !verifyPassword(password, user.PasswordHash) {
			c.game.limiter.recordFailure(user.Name)
			c.logLoginFailure(user.Name)
			fmt.Fprintln(c.term, "Invalid credentials!")
		} else {
			c.game.limiter.clearFailure(user.Name)
			if err := c.game.storage.SetLastLogin(ctx, user.Name, time.Now().UTC()); err != nil {
				c.game.logger.Warn("Failed to update last login.",
					"user", user.Name,
					"error", err,
				)
			}
			c.user = user
		}
	}
	c.logLogin()
	fmt.Fprintf(c.term, "Welcome back, %v!\n\n", c.user.Name)
	return nil
}

func (c *Connection) createUser() error {
	fmt.Fprint(c.term, "** Create user **\n\n")
	ctx := c.sess.Context()
	var username string
	for username == "" {
		fmt.Fprint(c.term, "Enter new username or [abort]:\n")
		line, err := c.term.ReadLine()
		if err != nil {
			return err
		}
		if line == "abort" {
			return textsmith.WithStack(ErrOperationAborted)
		}
		if err := validateUsername(line); err != nil {
			fmt.Fprintln(c.term, err.Error())
			continue
		}
		if _, err = c.game.storage.LoadUser(ctx, line); errors.Is(err, os.ErrNotExist) {
			username = line
		} else if err == nil {
			fmt.Fprintln(c.term, "Username already exists!")
		} else {
			return textsmith.WithStack(err)
		}
	}
	var passwordHash string
	for passwordHash == "" {
		fmt.Fprintln(c.term, "Enter new password:")
		password, err := c.term.ReadPassword("> ")
		if err != nil {
			return err
		}
		if password == "abort" {
			fmt.Fprintln(c.term, "Password cannot be 'abort' (reserved keyword).")
			continue
		}
		fmt.Fprintln(c.term, "Repeat new password:")
		verification, err := c.term.ReadPassword("> ")
		if err != nil {
			return err
		}
		if password != verification {
			fmt.Fprintln(c.term, "Passwords don't match!")
			continue
		}
		selection, err := c.SelectReturn(fmt.Sprintf("Create user %q with provided password?", username), []string{"y", "n", "abort"})
		if err != nil {
			return err
		}
		switch selection {
		case "abort":
			return textsmith.WithStack(ErrOperationAborted)
		case "y":
			if passwordHash, err = hashPassword(password); err != nil {
				return textsmith.WithStack(err)
			}
		}
	}
	user, err := c.game.storage.CreateUser(ctx, username, passwordHash, c.game.genesisID)
	if err != nil {
		return textsmith.WithStack(err)
	}
	c.user = user
	c.logLogin()
	fmt.Fprintf(c.term, "Welcome %s!\n\n", c.user.Name)
	return nil
}

func (c *Connection) logLogin() {
	c.game.logger.Info("User logged in.",
		"user", c.user.Name,
		"connection_id", c.connectionID,
		"remote", c.sess.RemoteAddr().String(),
	)
}

func (c *Connection) logLoginFailure(username string) {
	c.game.logger.Warn("Login failed.",
		"user", username,
		"connection_id", c.connectionID,
		"remote", c.sess.RemoteAddr().String(),
	)
}
