// Package builtin provides the methods every ddpx server answers out of the
// box.
package builtin

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/gaspardpetit/ddpx/internal/ddp"
)

// NotesCollection is the collection name used by the notes.* methods.
const NotesCollection = "notes"

// Register adds the built-in methods to reg.
func Register(reg *ddp.Registry) error {
	methods := map[string]ddp.MethodFunc{
		"echo":         Echo,
		"sum":          Sum,
		"serverTime":   ServerTime(time.Now),
		"whoami":       WhoAmI,
		"notes.insert": NotesInsert(uuid.NewString),
		"notes.update": NotesUpdate,
		"notes.remove": NotesRemove,
	}
	for name, fn := range methods {
		if err := reg.Register(name, fn); err != nil {
			return fmt.Errorf("register %s: %w", name, err)
		}
	}
	return nil
}

// Echo returns its single argument, or all of them as an array.
func Echo(call *ddp.Call) (any, error) {
	switch call.NumArgs() {
	case 0:
		return nil, nil
	case 1:
		return call.Args[0], nil
	}
	return call.Args, nil
}

// Sum adds numeric arguments.
func Sum(call *ddp.Call) (any, error) {
	var total float64
	for i := range call.NumArgs() {
		var n float64
		if err := call.Arg(i, &n); err != nil {
			return nil, ddp.NewError("400", fmt.Sprintf("argument %d is not a number", i))
		}
		total += n
	}
	return total, nil
}

// ServerTime returns the current time in milliseconds since the epoch.
func ServerTime(now func() time.Time) ddp.MethodFunc {
	return func(*ddp.Call) (any, error) {
		return now().UnixMilli(), nil
	}
}

// Identity is the result of whoami.
type Identity struct {
	ConnID     string `json:"conn_id"`
	RemoteAddr string `json:"remote_addr"`
	Session    string `json:"session,omitempty"`
}

// WhoAmI describes the calling connection from its environment.
func WhoAmI(call *ddp.Call) (any, error) {
	return Identity{
		ConnID:     call.Env.String("conn_id"),
		RemoteAddr: call.Env.String("remote_addr"),
		Session:    call.Session,
	}, nil
}

var errNoEmitter = errors.New("builtin: call has no emitter")

// NotesInsert announces a new note to the caller and returns its id. Notes
// are not stored.
func NotesInsert(newID func() string) ddp.MethodFunc {
	return func(call *ddp.Call) (any, error) {
		var doc map[string]any
		if err := call.Arg(0, &doc); err != nil || doc == nil {
			return nil, ddp.NewError("400", "Expected a document")
		}
		id, _ := doc["_id"].(string)
		if id == "" {
			id = newID()
		}
		delete(doc, "_id")
		em := call.Emitter()
		if em == nil {
			return nil, errNoEmitter
		}
		if err := em.Added(NotesCollection, id, doc); err != nil {
			return nil, err
		}
		return id, nil
	}
}

// NotesUpdate announces changed fields of a note.
func NotesUpdate(call *ddp.Call) (any, error) {
	var id string
	if err := call.Arg(0, &id); err != nil || id == "" {
		return nil, ddp.NewError("400", "Expected a note id")
	}
	var fields map[string]any
	if err := call.Arg(1, &fields); err != nil || fields == nil {
		return nil, ddp.NewError("400", "Expected changed fields")
	}
	em := call.Emitter()
	if em == nil {
		return nil, errNoEmitter
	}
	if err := em.Changed(NotesCollection, id, fields); err != nil {
		return nil, err
	}
	return true, nil
}

// NotesRemove announces the removal of a note.
func NotesRemove(call *ddp.Call) (any, error) {
	var id string
	if err := call.Arg(0, &id); err != nil || id == "" {
		return nil, ddp.NewError("400", "Expected a note id")
	}
	em := call.Emitter()
	if em == nil {
		return nil, errNoEmitter
	}
	if err := em.Removed(NotesCollection, id); err != nil {
		return nil, err
	}
	return true, nil
}
