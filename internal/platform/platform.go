// Package platform abstracts the chat platform's gateway and REST surface.
// The bot never talks wire protocol directly; everything goes through the
// Adapter interface so engines stay testable against fakes.
package platform

import (
	"context"
	"errors"
	"fmt"
	"time"
)

type ResourceKind string

const (
	ResourceCategory  ResourceKind = "category"
	ResourceChannel   ResourceKind = "channel"
	ResourceRole      ResourceKind = "role"
	ResourceOverwrite ResourceKind = "overwrite"
)

// ErrorKind splits adapter failures into retryable and terminal ones.
type ErrorKind int

const (
	ErrorTransient ErrorKind = iota
	ErrorPermanent
)

type AdapterError struct {
	Op   string
	Kind ErrorKind
	Err  error
}

func (e *AdapterError) Error() string {
	kind := "transient"
	if e.Kind == ErrorPermanent {
		kind = "permanent"
	}
	return fmt.Sprintf("adapter %s (%s): %v", e.Op, kind, e.Err)
}

func (e *AdapterError) Unwrap() error { return e.Err }

func Transient(op string, err error) *AdapterError {
	return &AdapterError{Op: op, Kind: ErrorTransient, Err: err}
}

func Permanent(op string, err error) *AdapterError {
	return &AdapterError{Op: op, Kind: ErrorPermanent, Err: err}
}

// IsTransient reports whether err is an adapter failure worth retrying.
func IsTransient(err error) bool {
	var ae *AdapterError
	return errors.As(err, &ae) && ae.Kind == ErrorTransient
}

// IsPermanent reports whether err is an adapter failure that must not be
// retried, e.g. a missing permission.
func IsPermanent(err error) bool {
	var ae *AdapterError
	return errors.As(err, &ae) && ae.Kind == ErrorPermanent
}

type EventKind string

const (
	EventMessage    EventKind = "message"
	EventReaction   EventKind = "reaction"
	EventMemberJoin EventKind = "member_join"
)

// Event is a gateway notification. Exactly one of the payload fields is set,
// matching Kind.
type Event struct {
	Kind       EventKind
	Message    *Message
	Reaction   *Reaction
	MemberJoin *MemberJoin
}

type Message struct {
	ID        string `json:"id"`
	ChannelID string `json:"channel_id"`
	AuthorID  int64  `json:"author_id"`
	Text      string `json:"text"`
}

type Reaction struct {
	MessageID       string `json:"message_id"`
	ChannelID       string `json:"channel_id"`
	Emoji           string `json:"emoji"`
	ReactorID       int64  `json:"reactor_id"`
	MessageAuthorID int64  `json:"message_author_id"`
}

type MemberJoin struct {
	UserID   int64  `json:"user_id"`
	Username string `json:"username"`
}

type Overwrite struct {
	ChannelID string   `json:"channel_id"`
	RoleID    string   `json:"role_id"`
	Allow     []string `json:"allow"`
	Deny      []string `json:"deny"`
}

// Adapter is the outbound half of the gateway. Every call can fail with
// *AdapterError; transient failures are retried by the calling engine,
// permanent ones are surfaced immediately.
type Adapter interface {
	SendMessage(ctx context.Context, channelID, text string) error

	TimeoutMember(ctx context.Context, userID int64, duration time.Duration) error
	UntimeoutMember(ctx context.Context, userID int64) error
	KickMember(ctx context.Context, userID int64) error
	BanMember(ctx context.Context, userID int64, duration time.Duration) error
	UnbanMember(ctx context.Context, userID int64) error
	AssignRole(ctx context.Context, userID int64, roleID string) error

	CreateCategory(ctx context.Context, name string) (string, error)
	CreateChannel(ctx context.Context, name, categoryID string) (string, error)
	DeleteChannel(ctx context.Context, id string) error
	CreateRole(ctx context.Context, name string) (string, error)
	DeleteRole(ctx context.Context, id string) error
	SetPermissionOverwrite(ctx context.Context, ow Overwrite) (string, error)
	DeletePermissionOverwrite(ctx context.Context, id string) error
	DeleteCategory(ctx context.Context, id string) error

	ResourceExists(ctx context.Context, kind ResourceKind, id string) (bool, error)
}
