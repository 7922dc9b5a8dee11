package models

import "time"

// Thumbnail is a resolved preview for a source URI
type Thumbnail struct {
	Source  string `json:"source"`  // Input URI as given
	Display string `json:"display"` // Remote thumbnail URL or file:// URI of a local copy
}

// ExpansionEntry stores the result of expanding a short URL
type ExpansionEntry struct {
	Target     string    `json:"target,omitempty"` // Location header value (when found)
	Found      bool      `json:"found"`            // false = response had no Location
	ExpandedAt time.Time `json:"expanded_at"`      // Time of the HEAD request
}

// Status returns the lookup status this entry represents
func (e ExpansionEntry) Status() LookupStatus {
	if e.Found {
		return LookupHit
	}
	return LookupAbsent
}
