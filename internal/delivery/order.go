package delivery

import (
	"slices"
	"strings"
	"time"
)

// Priority ranks statuses for listing: pending work first.
func Priority(s Status) int {
	switch s {
	case StatusAuthorized:
		return 0
	case StatusDelivered:
		return 1
	default:
		return 2
	}
}

// SortKey is the tuple every caller orders deliveries by.
func SortKey(d Delivery) (int, time.Time) {
	return Priority(d.Status), d.ExpectedDate
}

// Compare orders a before b by priority, then expected date, then id.
func Compare(a, b Delivery) int {
	pa, da := SortKey(a)
	pb, db := SortKey(b)
	if pa != pb {
		return pa - pb
	}
	if c := da.Compare(db); c != 0 {
		return c
	}
	return strings.Compare(a.ID, b.ID)
}

// Less reports whether a sorts before b.
func Less(a, b Delivery) bool { return Compare(a, b) < 0 }

// Sort orders ds in place.
func Sort(ds []Delivery) { slices.SortFunc(ds, Compare) }
