package models

// Profile is the signed-in user's own account summary.
type Profile struct {
	UserID      string `json:"userId"`
	DisplayName string `json:"displayName,omitempty"`
}

// PendingDelete is a delete the backend has not acknowledged yet, with the
// participants to notify once it does.
type PendingDelete struct {
	EventID      ID       `json:"eventId"`
	Participants []string `json:"participants,omitempty"`
}

// Snapshot is the local state written to disk for offline boot.
type Snapshot struct {
	Events         []*Event `json:"events"`
	ArchivedEvents []*Event `json:"archivedEvents"`
	Friends        []string `json:"friends"`
	Profile        Profile  `json:"profile"`

	// Writes deferred by network failures, retried after the next sign-in.
	PendingSaves   []ID            `json:"pendingSaves,omitempty"`
	PendingDeletes []PendingDelete `json:"pendingDeletes,omitempty"`
}
