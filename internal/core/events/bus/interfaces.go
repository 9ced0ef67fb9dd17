package bus

import (
	"github.com/zeusync/qcserver/internal/core/entity"
	"github.com/zeusync/qcserver/internal/core/vmath"
)

// Bus is an in-process pub/sub channel for things a level reports outward:
// sounds, prints, light styles, removals and level changes.
//
// Delivery is synchronous in the publisher's goroutine, which for a level
// is the simulation goroutine. Handlers must be quick and must not call
// back into the level. Errors from several handlers are joined.
//
// All methods are safe for concurrent use.
type Bus interface {
	// Publish delivers ev to every subscriber of ev.Kind and to catch-all
	// subscribers.
	Publish(ev Event) error
	// Subscribe registers h for the given kinds. No kinds means every kind.
	Subscribe(h Handler, kinds ...Kind) (Subscription, error)
	// Unsubscribe cancels sub. A nil subscription is ignored.
	Unsubscribe(sub Subscription) error

	AddObserver(obs Observer)
	RemoveObserver(obs Observer)
	// Metrics is collected only while at least one observer is registered.
	Metrics() Metrics
}

// Kind routes an event to its subscribers.
type Kind string

const (
	KindSound         Kind = "sound"
	KindPrint         Kind = "print"
	KindLightStyle    Kind = "lightstyle"
	KindEntityRemoved Kind = "removed"
	KindLevelChange   Kind = "changelevel"
	KindPrecache      Kind = "precache"
)

// Event is one notice from the simulation. Which fields are meaningful
// depends on Kind.
type Event struct {
	Kind Kind `msgpack:"k" json:"kind"`
	// Time is the level clock when the event was raised.
	Time   float32   `msgpack:"t" json:"time"`
	Entity entity.ID `msgpack:"e,omitempty" json:"entity,omitempty"`
	// Text is the sample, message, map name or style string.
	Text string `msgpack:"s,omitempty" json:"text,omitempty"`
	// Channel is the sound channel, print target class or light style index.
	Channel     int        `msgpack:"c,omitempty" json:"channel,omitempty"`
	Volume      float32    `msgpack:"v,omitempty" json:"volume,omitempty"`
	Attenuation float32    `msgpack:"a,omitempty" json:"attenuation,omitempty"`
	Origin      vmath.Vec3 `msgpack:"o,omitempty" json:"origin,omitempty"`
}

type Handler func(ev Event) error

// Subscription is a registered handler. Cancel stops delivery; calling it
// more than once is safe.
type Subscription interface {
	ID() string
	Kinds() []Kind
	IsActive() bool
	Cancel() error
}

// Observer sees every publish. Implementations feed logs or metrics and
// should return quickly.
type Observer interface {
	OnPublish(ev Event)
	OnDelivered(ev Event, handlers int, err error)
}

type Metrics struct {
	Published         uint64
	DeliveredHandlers uint64
	Errors            uint64
	SubscribersActive uint64
}
