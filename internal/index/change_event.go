package index

import "gammafour-data/internal/row"

// Action classifies a mutation a UniqueIndex just applied to its map.
type Action int

const (
	// Add means a new key/row pair was inserted.
	Add Action = iota
	// Update means a row's key changed. An Update call that leaves the
	// key unchanged publishes no event.
	Update
	// Delete means a key/row pair was removed.
	Delete
	// Rollback is reserved for a future re-emission of undo activity;
	// see the open question in spec.md §9 — today UniqueIndex.Rollback
	// does not emit this action, so ForeignIndex never observes it and
	// relies entirely on being enlisted in the same transaction scope
	// to roll back its own state.
	Rollback
)

func (a Action) String() string {
	switch a {
	case Add:
		return "Add"
	case Update:
		return "Update"
	case Delete:
		return "Delete"
	case Rollback:
		return "Rollback"
	default:
		return "Unknown"
	}
}

// ChangeEvent is delivered synchronously, in the mutating goroutine, to
// every subscriber of a UniqueIndex's change channel. previousKey/
// currentKey are nil for the side of the change that does not apply (e.g.
// Add has no previous key).
type ChangeEvent struct {
	Action      Action
	Previous    row.Row
	Current     row.Row
	PreviousKey interface{}
	CurrentKey  interface{}
}

// Subscriber observes change events published by a UniqueIndex. Returning
// a non-nil error aborts the mutation that produced the event — the
// caller's operation must have already pushed its own undo record before
// publishing, so the surrounding transaction can still roll it back.
type Subscriber func(ChangeEvent) error

// changeChannel is a small multicast conduit: one UniqueIndex owns it,
// any number of ForeignIndexes (or other observers) subscribe to it. It
// intentionally holds no reference back to its subscribers beyond the
// function values they register, so foreign indexes never root their
// parent and parents never root their children through this channel.
type changeChannel struct {
	subscribers []Subscriber
}

func (c *changeChannel) subscribe(s Subscriber) {
	c.subscribers = append(c.subscribers, s)
}

// publish delivers ev to every subscriber in registration order, stopping
// and returning the first error encountered (the synchronous, same-thread
// delivery spec.md §5 requires).
func (c *changeChannel) publish(ev ChangeEvent) error {
	for _, s := range c.subscribers {
		if err := s(ev); err != nil {
			return err
		}
	}
	return nil
}
