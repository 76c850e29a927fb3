// Package locks implements the per-session advisory lock table.
//
// A Table is owned by a single session actor and is not safe for concurrent
// use. Admission is first-come by call order: the actor's inbox order is the
// tie-break between racing requests, and no fairness is attempted.
package locks

import (
	"errors"
	"sort"
	"time"

	"github.com/rickgao/schedule-sync/internal/identity"
	"github.com/rickgao/schedule-sync/internal/model"
)

// DefaultLease is how long a granted lock lives without renewal.
const DefaultLease = 5 * time.Minute

var (
	ErrNotLocked = errors.New("locks: item is not locked")
	ErrNotHolder = errors.New("locks: caller does not hold the lock")
)

// Result is the outcome of a lock request. A denial is a normal value, not
// an error: Lock then describes the current holder.
type Result struct {
	Granted bool
	Lock    model.ItemLock
	// Expired is the lapsed lease this grant replaced, if any, so the caller
	// can announce its release.
	Expired *model.ItemLock
}

// Table holds at most one lock per item id.
type Table struct {
	lease time.Duration
	items map[string]model.ItemLock
}

// New returns an empty table granting leases of the given length.
func New(lease time.Duration) *Table {
	if lease <= 0 {
		lease = DefaultLease
	}
	return &Table{lease: lease, items: make(map[string]model.ItemLock)}
}

// Lease returns the configured lease length.
func (t *Table) Lease() time.Duration { return t.lease }

// Request grants the item to who iff no unexpired lock exists on it. A
// request by the current holder renews the lease. Denials leave the table
// untouched.
func (t *Table) Request(itemID string, who identity.Identity, now time.Time) Result {
	cur, ok := t.items[itemID]
	if ok && !cur.Expired(now) {
		if cur.HolderID != who.UserID {
			return Result{Granted: false, Lock: cur}
		}
		cur.ExpiresAt = model.At(now.Add(t.lease))
		t.items[itemID] = cur
		return Result{Granted: true, Lock: cur}
	}

	var expired *model.ItemLock
	if ok {
		prev := cur
		expired = &prev
	}
	l := model.ItemLock{
		ItemID:     itemID,
		HolderID:   who.UserID,
		HolderName: who.DisplayName(),
		AcquiredAt: model.At(now),
		ExpiresAt:  model.At(now.Add(t.lease)),
	}
	t.items[itemID] = l
	return Result{Granted: true, Lock: l, Expired: expired}
}

// Release frees the item if userID holds it.
func (t *Table) Release(itemID, userID string) (model.ItemLock, error) {
	cur, ok := t.items[itemID]
	if !ok {
		return model.ItemLock{}, ErrNotLocked
	}
	if cur.HolderID != userID {
		return cur, ErrNotHolder
	}
	delete(t.items, itemID)
	return cur, nil
}

// Renew extends the holder's lease. It reports false when userID does not
// hold an unexpired lock on the item.
func (t *Table) Renew(itemID, userID string, now time.Time) bool {
	cur, ok := t.items[itemID]
	if !ok || cur.HolderID != userID || cur.Expired(now) {
		return false
	}
	cur.ExpiresAt = model.At(now.Add(t.lease))
	t.items[itemID] = cur
	return true
}

// ReleaseAll drops every lock held by userID, ordered by item id. Used by
// the system on disconnect.
func (t *Table) ReleaseAll(userID string) []model.ItemLock {
	var out []model.ItemLock
	for id, l := range t.items {
		if l.HolderID == userID {
			out = append(out, l)
			delete(t.items, id)
		}
	}
	sortLocks(out)
	return out
}

// Sweep drops every lease that has lapsed at now, ordered by item id.
func (t *Table) Sweep(now time.Time) []model.ItemLock {
	var out []model.ItemLock
	for id, l := range t.items {
		if l.Expired(now) {
			out = append(out, l)
			delete(t.items, id)
		}
	}
	sortLocks(out)
	return out
}

// Holder returns the unexpired lock on the item.
func (t *Table) Holder(itemID string, now time.Time) (model.ItemLock, bool) {
	l, ok := t.items[itemID]
	if !ok || l.Expired(now) {
		return model.ItemLock{}, false
	}
	return l, true
}

// Snapshot returns every lock ordered by item id.
func (t *Table) Snapshot() []model.ItemLock {
	out := make([]model.ItemLock, 0, len(t.items))
	for _, l := range t.items {
		out = append(out, l)
	}
	sortLocks(out)
	return out
}

// Len returns the number of recorded locks, expired or not.
func (t *Table) Len() int {
	return len(t.items)
}

func sortLocks(ls []model.ItemLock) {
	sort.Slice(ls, func(i, j int) bool { return ls[i].ItemID < ls[j].ItemID })
}
