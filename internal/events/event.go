// Package events defines the processable analytics events produced by
// decision calls, the grouping of a flushed buffer into sub-batches, and the
// collector wire format.
package events

import (
	"time"

	"github.com/google/uuid"
)

// Context identifies the project and client an event belongs to. Events with
// equal contexts can share one wire batch.
type Context struct {
	AccountID     string
	ProjectID     string
	Revision      string
	ClientName    string
	ClientVersion string
	AnonymizeIP   bool
	BotFiltering  *bool
}

// Attribute is one visitor attribute.
type Attribute struct {
	EntityID string
	Key      string
	Value    any
}

// User is the visitor an event is about.
type User struct {
	ID         string
	Attributes []Attribute
}

// Entity is an id/key pair from the datafile.
type Entity struct {
	ID  string
	Key string
}

// Event is an Impression or a Conversion.
type Event interface {
	Header() Base
	// Clone returns a deep copy.
	Clone() Event
	kind() string
}

// Base carries the fields common to every event.
type Base struct {
	UUID      string
	Timestamp int64 // unix milliseconds
	Context   Context
	User      User
}

// NewBase stamps a fresh UUID and the current time.
func NewBase(ctx Context, user User) Base {
	return Base{UUID: uuid.NewString(), Timestamp: time.Now().UnixMilli(), Context: ctx, User: user}
}

func (b Base) clone() Base {
	out := b
	if b.Context.BotFiltering != nil {
		v := *b.Context.BotFiltering
		out.Context.BotFiltering = &v
	}
	if b.User.Attributes != nil {
		out.User.Attributes = append([]Attribute(nil), b.User.Attributes...)
	}
	return out
}

// Impression records that a visitor was exposed to a variation.
type Impression struct {
	Base
	Layer      Entity
	Experiment Entity
	Variation  Entity
	FlagKey    string
	RuleKey    string
	RuleType   string
	Enabled    bool
}

func (e *Impression) Header() Base { return e.Base }

func (e *Impression) Clone() Event {
	out := *e
	out.Base = e.Base.clone()
	return &out
}

func (e *Impression) kind() string { return "impression" }

// Conversion records a tracked outcome.
type Conversion struct {
	Base
	Event   Entity
	Revenue *int64
	Value   *float64
	// Tags values are copied shallowly.
	Tags map[string]any
}

func (e *Conversion) Header() Base { return e.Base }

func (e *Conversion) Clone() Event {
	out := *e
	out.Base = e.Base.clone()
	if e.Revenue != nil {
		v := *e.Revenue
		out.Revenue = &v
	}
	if e.Value != nil {
		v := *e.Value
		out.Value = &v
	}
	if e.Tags != nil {
		out.Tags = make(map[string]any, len(e.Tags))
		for k, v := range e.Tags {
			out.Tags[k] = v
		}
	}
	return &out
}

func (e *Conversion) kind() string { return "conversion" }

// Kind returns "impression" or "conversion".
func Kind(e Event) string { return e.kind() }
