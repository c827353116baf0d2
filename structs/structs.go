package structs

import (
	"github.com/goccy/go-json"

	"github.com/codekulturbonn/textsmith"
)

// Value is a single attribute value on an Object. Script marks the text as
// deferred script source to be evaluated by an external runner; the resolver
// and storage layers carry the tag without interpreting it.
type Value struct {
	Text   string `json:"text"`
	Script bool   `json:"script,omitempty"`
}

// Plain wraps a literal string attribute value.
func Plain(text string) Value {
	return Value{Text: text}
}

// Script wraps deferred script source as an attribute value.
func Script(source string) Value {
	return Value{Text: source, Script: true}
}

// Object is any addressable entity in the world: user, room, exit or thing.
// Instances handed to the parser and resolver are read-only snapshots owned
// by the storage layer.
type Object struct {
	ID      int64    `json:"id"`
	Name    string   `json:"name"`
	Aliases []string `json:"aliases,omitempty"`
	IsUser  bool     `json:"is_user,omitempty"`
	IsRoom  bool     `json:"is_room,omitempty"`
	IsExit  bool     `json:"is_exit,omitempty"`

	// Location is the id of the containing room, 0 for rooms.
	Location int64 `json:"location,omitempty"`
	// Destination is the room an exit leads to, 0 for non-exits.
	Destination int64 `json:"destination,omitempty"`
	// Contents lists the ids of objects inside a room.
	Contents []int64 `json:"contents,omitempty"`

	Attributes map[string]Value `json:"attributes,omitempty"`
}

// Attr returns the named attribute value and whether it exists.
func (o *Object) Attr(name string) (Value, bool) {
	v, found := o.Attributes[name]
	return v, found
}

// SetAttr annotates the object, allocating the attribute map on first use.
func (o *Object) SetAttr(name string, v Value) {
	if o.Attributes == nil {
		o.Attributes = map[string]Value{}
	}
	o.Attributes[name] = v
}

func Marshal(o *Object) ([]byte, error) {
	b, err := json.Marshal(o)
	return b, textsmith.WithStack(err)
}

func Unmarshal(b []byte) (*Object, error) {
	o := &Object{}
	if err := json.Unmarshal(b, o); err != nil {
		return nil, textsmith.WithStack(err)
	}
	return o, nil
}

// Context is the immutable snapshot of objects reachable from one user's
// current command. It is assembled by storage per request and never mutated
// by resolution; concurrent commands get independent snapshots.
type Context struct {
	User   *Object
	Room   *Object
	Exits  []*Object
	Users  []*Object
	Things []*Object
}

// Candidates returns the resolution pool in priority order: acting user,
// room, exits, other users, things. Order is preserved and nothing is
// deduplicated; earlier entries win ties only by appearing first.
func (c *Context) Candidates() []*Object {
	result := make([]*Object, 0, 2+len(c.Exits)+len(c.Users)+len(c.Things))
	if c.User != nil {
		result = append(result, c.User)
	}
	if c.Room != nil {
		result = append(result, c.Room)
	}
	result = append(result, c.Exits...)
	result = append(result, c.Users...)
	result = append(result, c.Things...)
	return result
}
