package relay

import (
	"time"

	"github.com/flightline/flightline/internal/mailbox"
)

// cursor is the daemon-local inbox watermark. It tracks the newest message
// timestamp observed plus the message ids seen at exactly that timestamp, so
// messages sharing a timestamp are neither redelivered nor skipped at the
// poll boundary.
type cursor struct {
	ts  time.Time
	ids map[string]bool
}

// since returns the timestamp to pass to the next inbox fetch.
func (c *cursor) since() time.Time { return c.ts }

// seen reports whether the message was already observed.
func (c *cursor) seen(m mailbox.Message) bool {
	if m.CreatedTS.Before(c.ts) {
		return true
	}
	if m.CreatedTS.Equal(c.ts) {
		return c.ids[m.ID]
	}
	return false
}

// advance folds one observed message into the watermark.
func (c *cursor) advance(m mailbox.Message) {
	switch {
	case m.CreatedTS.After(c.ts):
		c.ts = m.CreatedTS
		c.ids = map[string]bool{m.ID: true}
	case m.CreatedTS.Equal(c.ts):
		if c.ids == nil {
			c.ids = make(map[string]bool)
		}
		c.ids[m.ID] = true
	}
}
