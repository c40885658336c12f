// Package allowlist persists the phone-number allow list: a flat set of
// permanent numbers and a set of temporary numbers with expiry timestamps.
package allowlist

import (
	"time"
)

// TempEntry is one temporary allow-list record as persisted on disk.
// Expiry is an RFC 3339 timestamp string; it is parsed at each use so a
// corrupt value can be reported and retained instead of dropped.
type TempEntry struct {
	Phone  string `json:"phone"`
	Expiry string `json:"expiry"`
}

// ExpiryTime parses the persisted expiry timestamp.
func (e TempEntry) ExpiryTime() (time.Time, error) {
	return time.Parse(time.RFC3339, e.Expiry)
}

// Expired reports whether the entry has lapsed. An unparsable expiry counts
// as not expired so the sweeper retains the record instead of dropping it.
func (e TempEntry) Expired(now time.Time) bool {
	t, err := e.ExpiryTime()
	if err != nil {
		return false
	}
	return !now.Before(t)
}

// Membership reports which set(s) a phone number was found in.
type Membership struct {
	Permanent bool
	Temporary bool
}

// Absent reports whether the number was in neither set.
func (m Membership) Absent() bool {
	return !m.Permanent && !m.Temporary
}

// ListedEntry is one row of the combined listing: temporary entries carry
// a coarse leftover-time label, permanent ones do not.
type ListedEntry struct {
	Phone     string
	Temporary bool
	Label     string
}

// Store defines the allow-list persistence interface. All phone arguments
// must already be in canonical form.
//
// There is no locking around mutations: persistence is overwrite-on-write
// and every read re-fetches from disk, so two handlers racing on a
// mutation can lose one update (last write wins). Acceptable for the tens
// of entries this store holds.
type Store interface {
	// Add inserts a permanent number, failing with ErrAlreadyExists if it
	// is already present.
	Add(phone string) error

	// Remove deletes the number from both the permanent and temporary
	// sets, reporting which held it. Fails with ErrNotFound if neither did.
	Remove(phone string) (Membership, error)

	// Exists reports the number's membership without mutating anything.
	Exists(phone string) (Membership, error)

	// AddTemporary inserts a temporary number, failing with
	// ErrAlreadyExists if an unexpired entry for the same number exists.
	// An expired leftover entry is replaced.
	AddTemporary(phone string, expiry time.Time) error

	// ListCombined returns temporary entries first (sorted by phone, with
	// leftover labels), then permanent-only numbers (sorted by phone).
	ListCombined() ([]ListedEntry, error)

	// ReadPermanent returns the permanent set. Bulk operations read once,
	// mutate the returned set, and persist once via WritePermanent.
	ReadPermanent() (map[string]struct{}, error)

	// WritePermanent overwrites the permanent set on disk.
	WritePermanent(numbers map[string]struct{}) error

	// ReadTemp returns all temporary records in insertion order. A
	// corrupt file reads as empty (logged, never an error).
	ReadTemp() ([]TempEntry, error)

	// WriteTemp overwrites the temporary records on disk.
	WriteTemp(entries []TempEntry) error
}
