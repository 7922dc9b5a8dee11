package models

// LookupStatus is the outcome of reading an expansion store
type LookupStatus string

const (
	LookupUnset   LookupStatus = ""            // Zero value = unset/unknown
	LookupHit     LookupStatus = "hit"         // Cached target
	LookupAbsent  LookupStatus = "absent"      // Cached "no Location" marker
	LookupMiss    LookupStatus = "miss"        // Key not in store
	LookupDBError LookupStatus = "store_error" // Store could not be read
)

// String implements fmt.Stringer for logging
func (s LookupStatus) String() string {
	if s == "" {
		return "unset"
	}
	return string(s)
}

// IsCached returns true if the store answered for the key, positively or not
func (s LookupStatus) IsCached() bool {
	switch s {
	case LookupHit, LookupAbsent:
		return true
	}
	return false
}
