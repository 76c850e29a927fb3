// Package presence holds the live collaborator state of one session.
//
// A Tracker is owned by a single session actor and is not safe for
// concurrent use. Every mutation takes the actor's notion of now so that
// tests can drive liveness deterministically.
package presence

import (
	"sort"
	"time"

	"github.com/rickgao/schedule-sync/internal/identity"
	"github.com/rickgao/schedule-sync/internal/model"
)

// Tracker maps user id to that user's presence. At most one entry exists
// per user.
type Tracker struct {
	entries map[string]*model.Collaborator
}

// New returns an empty tracker.
func New() *Tracker {
	return &Tracker{entries: make(map[string]*model.Collaborator)}
}

// Announce upserts the presence entry for id. Cursor and selection are
// replaced only when given; an existing typing flag is kept. It reports
// whether the entry is new.
func (t *Tracker) Announce(id identity.Identity, cursor *model.Point, selected *string, now time.Time) bool {
	c, ok := t.entries[id.UserID]
	if !ok {
		c = &model.Collaborator{
			UserID: id.UserID,
			Color:  identity.Color(id.UserID),
		}
		t.entries[id.UserID] = c
	}
	c.UserName = id.DisplayName()
	c.Role = id.Role
	if cursor != nil {
		p := *cursor
		c.Cursor = &p
	}
	if selected != nil {
		s := *selected
		c.SelectedItemID = &s
	}
	c.LastSeen = model.At(now)
	return !ok
}

// UpdateCursor moves the user's cursor. Unknown users are ignored.
func (t *Tracker) UpdateCursor(userID string, p model.Point, now time.Time) bool {
	c, ok := t.entries[userID]
	if !ok {
		return false
	}
	c.Cursor = &p
	c.LastSeen = model.At(now)
	return true
}

// UpdateSelection sets or, with a nil item, clears the user's selection.
func (t *Tracker) UpdateSelection(userID string, itemID *string, now time.Time) bool {
	c, ok := t.entries[userID]
	if !ok {
		return false
	}
	if itemID == nil {
		c.SelectedItemID = nil
	} else {
		s := *itemID
		c.SelectedItemID = &s
	}
	c.LastSeen = model.At(now)
	return true
}

// SetTyping records the user's typing flag.
func (t *Tracker) SetTyping(userID string, typing bool, now time.Time) bool {
	c, ok := t.entries[userID]
	if !ok {
		return false
	}
	c.IsTyping = typing
	c.LastSeen = model.At(now)
	return true
}

// Touch refreshes last-seen without changing anything else.
func (t *Tracker) Touch(userID string, now time.Time) bool {
	c, ok := t.entries[userID]
	if !ok {
		return false
	}
	c.LastSeen = model.At(now)
	return true
}

// Remove deletes the user's entry and reports whether one existed.
func (t *Tracker) Remove(userID string) bool {
	if _, ok := t.entries[userID]; !ok {
		return false
	}
	delete(t.entries, userID)
	return true
}

// Get returns a copy of the user's entry.
func (t *Tracker) Get(userID string) (model.Collaborator, bool) {
	c, ok := t.entries[userID]
	if !ok {
		return model.Collaborator{}, false
	}
	return clone(c), true
}

// Has reports whether the user has announced.
func (t *Tracker) Has(userID string) bool {
	_, ok := t.entries[userID]
	return ok
}

// List returns copies of every entry ordered by user id.
func (t *Tracker) List() []model.Collaborator {
	return t.Except("")
}

// Except is List without the given user.
func (t *Tracker) Except(userID string) []model.Collaborator {
	out := make([]model.Collaborator, 0, len(t.entries))
	for id, c := range t.entries {
		if id == userID {
			continue
		}
		out = append(out, clone(c))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UserID < out[j].UserID })
	return out
}

// Stale returns, in user id order, the users not seen since now-timeout.
func (t *Tracker) Stale(now time.Time, timeout time.Duration) []string {
	cutoff := now.Add(-timeout)
	var out []string
	for id, c := range t.entries {
		if c.LastSeen.Before(cutoff) {
			out = append(out, id)
		}
	}
	sort.Strings(out)
	return out
}

// Len returns the number of entries.
func (t *Tracker) Len() int {
	return len(t.entries)
}

func clone(c *model.Collaborator) model.Collaborator {
	out := *c
	if c.Cursor != nil {
		p := *c.Cursor
		out.Cursor = &p
	}
	if c.SelectedItemID != nil {
		s := *c.SelectedItemID
		out.SelectedItemID = &s
	}
	return out
}
