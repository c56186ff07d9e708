package bus

import (
	"strings"
	"time"
)

// Event is one domain occurrence published on the bus. Kind is a
// dot-namespaced name such as "message.received" or "window.changed";
// subscribers filter on namespace prefixes like "message." or "outbox.".
type Event struct {
	Kind      string
	Timestamp time.Time
	Payload   any
}

// Matches reports whether the event falls under the given namespace
// prefix. The empty namespace matches everything.
func (e Event) Matches(namespace string) bool {
	return strings.HasPrefix(e.Kind, namespace)
}
