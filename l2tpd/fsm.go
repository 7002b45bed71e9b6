package l2tpd

import (
	"fmt"
)

type fsmCallback func(args []interface{})

// transition maps an event occurring in a given state onto a successor
// state and an optional callback.
type transition struct {
	from, to string
	events   []string
	cb       fsmCallback
}

// fsm is a table-driven finite state machine.
// Events outside the table are errors: protocol handlers treat them as
// a peer violation and tear the owning object down.
type fsm struct {
	current string
	table   []transition
}

func (f *fsm) handleEvent(e string, args ...interface{}) error {
	for _, t := range f.table {
		if f.current != t.from {
			continue
		}
		for _, event := range t.events {
			if e == event {
				f.current = t.to
				if t.cb != nil {
					t.cb(args)
				}
				return nil
			}
		}
	}
	return fmt.Errorf("event %s not permitted in state %s", e, f.current)
}

func (f *fsm) state() string {
	return f.current
}
