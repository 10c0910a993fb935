package models

// Snapshot is an immutable view of a cart after one state transition.
type Snapshot struct {
	Scope   string `json:"scope"`
	Version uint64 `json:"version"`
	Items   Items  `json:"items"`
}
