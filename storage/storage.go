// Package storage persists the world. Objects live in a tkrzw hash file
// keyed by decimal id, account records live in SQLite.
package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/jmoiron/sqlx"
	_ "modernc.org/sqlite"

	"github.com/codekulturbonn/textsmith"
	"github.com/codekulturbonn/textsmith/storage/dbm"
	"github.com/codekulturbonn/textsmith/structs"
)

const objectCounterKey = "object_id"

var ErrUserExists = fmt.Errorf("user already exists")

// User is an account record. The in-world body is the object named by
// ObjectID.
type User struct {
	Name         string       `db:"name"`
	PasswordHash string       `db:"password_hash"`
	ObjectID     int64        `db:"object_id"`
	CreatedAt    time.Time    `db:"created_at"`
	LastLoginAt  sql.NullTime `db:"last_login_at"`
}

const schema = `
CREATE TABLE IF NOT EXISTS users (
  name TEXT PRIMARY KEY,
  password_hash TEXT NOT NULL,
  object_id INTEGER NOT NULL,
  created_at TIMESTAMP NOT NULL,
  last_login_at TIMESTAMP
);
`

type Storage struct {
	objects *dbm.TypeHash[structs.Object]
	meta    *dbm.Hash
	sql     *sqlx.DB
}

func New(_ context.Context, dir string) (*Storage, error) {
	if err := os.MkdirAll(dir, 0700); err != nil {
		return nil, textsmith.WithStack(err)
	}
	objects, err := dbm.OpenTypeHash[structs.Object](filepath.Join(dir, "objects"))
	if err != nil {
		return nil, textsmith.WithStack(err)
	}
	meta, err := dbm.OpenHash(filepath.Join(dir, "meta"))
	if err != nil {
		return nil, textsmith.WithStack(err)
	}
	dsn := filepath.Join(dir, "users.db") + "?_journal_mode=WAL&_busy_timeout=5000"
	db, err := sqlx.Open("sqlite", dsn)
	if err != nil {
		return nil, textsmith.WithStack(err)
	}
	if _, err := db.Exec(schema); err != nil {
		return nil, textsmith.WithStack(err)
	}
	return &Storage{objects: objects, meta: meta, sql: db}, nil
}

func (s *Storage) Close() error {
	if err := s.objects.Close(); err != nil {
		return textsmith.WithStack(err)
	}
	if err := s.meta.Close(); err != nil {
		return textsmith.WithStack(err)
	}
	return textsmith.WithStack(s.sql.Close())
}

func objectKey(id int64) string {
	return strconv.FormatInt(id, 10)
}

func (s *Storage) nextObjectID() (int64, error) {
	return s.meta.Increment(objectCounterKey, 1)
}

func (s *Storage) Object(_ context.Context, id int64) (*structs.Object, error) {
	return s.objects.Get(objectKey(id))
}

func (s *Storage) StoreObject(_ context.Context, obj *structs.Object) error {
	return s.objects.Set(objectKey(obj.ID), obj, true)
}

// createObject allocates an id, stores the object, and links it into its
// location's contents.
func (s *Storage) createObject(ctx context.Context, obj *structs.Object) (*structs.Object, error) {
	id, err := s.nextObjectID()
	if err != nil {
		return nil, textsmith.WithStack(err)
	}
	obj.ID = id
	if err := s.StoreObject(ctx, obj); err != nil {
		return nil, textsmith.WithStack(err)
	}
	if obj.Location != 0 {
		room, err := s.Object(ctx, obj.Location)
		if err != nil {
			return nil, textsmith.WithStack(err)
		}
		room.Contents = append(room.Contents, id)
		if err := s.StoreObject(ctx, room); err != nil {
			return nil, textsmith.WithStack(err)
		}
	}
	return obj, nil
}

func (s *Storage) CreateThing(ctx context.Context, name, summary string, location int64) (*structs.Object, error) {
	return s.createObject(ctx, &structs.Object{
		Name:     name,
		Location: location,
		Attributes: map[string]structs.Value{
			"description": structs.Plain(summary),
		},
	})
}

func (s *Storage) CreateRoom(ctx context.Context, name, summary string) (*structs.Object, error) {
	return s.createObject(ctx, &structs.Object{
		Name:   name,
		IsRoom: true,
		Attributes: map[string]structs.Value{
			"description": structs.Plain(summary),
		},
	})
}

func (s *Storage) CreateExit(ctx context.Context, name string, aliases []string, from, to int64) (*structs.Object, error) {
	return s.createObject(ctx, &structs.Object{
		Name:        name,
		Aliases:     aliases,
		IsExit:      true,
		Location:    from,
		Destination: to,
	})
}

// EnsureGenesis returns the starting room, creating it on first run.
func (s *Storage) EnsureGenesis(ctx context.Context) (*structs.Object, error) {
	b, err := s.meta.Get("genesis")
	if err == nil {
		id, err := strconv.ParseInt(string(b), 10, 64)
		if err != nil {
			return nil, textsmith.WithStack(err)
		}
		return s.Object(ctx, id)
	} else if !errors.Is(err, os.ErrNotExist) {
		return nil, textsmith.WithStack(err)
	}
	room, err := s.CreateRoom(ctx, "the hearth", "A quiet room with a fire that never burns down. Everything starts here.")
	if err != nil {
		return nil, textsmith.WithStack(err)
	}
	if err := s.meta.Set("genesis", []byte(objectKey(room.ID)), false); err != nil {
		return nil, textsmith.WithStack(err)
	}
	return room, nil
}

// UserContext assembles the resolution snapshot: the user's object, its
// room, and the room's contents partitioned into exits, other users, and
// things.
func (s *Storage) UserContext(ctx context.Context, userID int64) (*structs.Context, error) {
	user, err := s.Object(ctx, userID)
	if err != nil {
		return nil, textsmith.WithStack(err)
	}
	sctx := &structs.Context{User: user}
	if user.Location == 0 {
		return sctx, nil
	}
	room, err := s.Object(ctx, user.Location)
	if err != nil {
		return nil, textsmith.WithStack(err)
	}
	sctx.Room = room
	for _, id := range room.Contents {
		if id == userID {
			continue
		}
		obj, err := s.Object(ctx, id)
		if err != nil {
			if errors.Is(err, os.ErrNotExist) {
				continue
			}
			return nil, textsmith.WithStack(err)
		}
		switch {
		case obj.IsExit:
			sctx.Exits = append(sctx.Exits, obj)
		case obj.IsUser:
			sctx.Users = append(sctx.Users, obj)
		default:
			sctx.Things = append(sctx.Things, obj)
		}
	}
	return sctx, nil
}

// Occupants lists the user objects inside a room.
func (s *Storage) Occupants(ctx context.Context, roomID int64) ([]int64, error) {
	room, err := s.Object(ctx, roomID)
	if err != nil {
		return nil, textsmith.WithStack(err)
	}
	res := []int64{}
	for _, id := range room.Contents {
		obj, err := s.Object(ctx, id)
		if err != nil {
			if errors.Is(err, os.ErrNotExist) {
				continue
			}
			return nil, textsmith.WithStack(err)
		}
		if obj.IsUser {
			res = append(res, id)
		}
	}
	return res, nil
}

// MoveObject relocates an object, fixing up both rooms' contents.
func (s *Storage) MoveObject(ctx context.Context, objectID, toRoomID int64) error {
	obj, err := s.Object(ctx, objectID)
	if err != nil {
		return textsmith.WithStack(err)
	}
	if obj.Location == toRoomID {
		return nil
	}
	if obj.Location != 0 {
		from, err := s.Object(ctx, obj.Location)
		if err == nil {
			contents := from.Contents[:0]
			for _, id := range from.Contents {
				if id != objectID {
					contents = append(contents, id)
				}
			}
			from.Contents = contents
			if err := s.StoreObject(ctx, from); err != nil {
				return textsmith.WithStack(err)
			}
		} else if !errors.Is(err, os.ErrNotExist) {
			return textsmith.WithStack(err)
		}
	}
	to, err := s.Object(ctx, toRoomID)
	if err != nil {
		return textsmith.WithStack(err)
	}
	to.Contents = append(to.Contents, objectID)
	if err := s.StoreObject(ctx, to); err != nil {
		return textsmith.WithStack(err)
	}
	obj.Location = toRoomID
	return textsmith.WithStack(s.StoreObject(ctx, obj))
}

func (s *Storage) LoadUser(ctx context.Context, name string) (*User, error) {
	user := &User{}
	err := s.sql.GetContext(ctx, user, "SELECT * FROM users WHERE name = ?", name)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, textsmith.WithStack(os.ErrNotExist)
	} else if err != nil {
		return nil, textsmith.WithStack(err)
	}
	return user, nil
}

// CreateUser stores the account record and its in-world body in the given
// room.
func (s *Storage) CreateUser(ctx context.Context, name, passwordHash string, roomID int64) (*User, error) {
	if _, err := s.LoadUser(ctx, name); err == nil {
		return nil, textsmith.WithStack(ErrUserExists)
	} else if !errors.Is(err, os.ErrNotExist) {
		return nil, textsmith.WithStack(err)
	}
	obj, err := s.createObject(ctx, &structs.Object{
		Name:     name,
		IsUser:   true,
		Location: roomID,
	})
	if err != nil {
		return nil, textsmith.WithStack(err)
	}
	user := &User{
		Name:         name,
		PasswordHash: passwordHash,
		ObjectID:     obj.ID,
		CreatedAt:    time.Now().UTC(),
	}
	_, err = s.sql.NamedExecContext(ctx,
		"INSERT INTO users (name, password_hash, object_id, created_at) VALUES (:name, :password_hash, :object_id, :created_at)",
		user)
	if err != nil {
		return nil, textsmith.WithStack(err)
	}
	return user, nil
}

func (s *Storage) SetLastLogin(ctx context.Context, name string, at time.Time) error {
	_, err := s.sql.ExecContext(ctx, "UPDATE users SET last_login_at = ? WHERE name = ?", at.UTC(), name)
	return textsmith.WithStack(err)
}
