package models

// ChangeKind names the kind of change in a house's history.
type ChangeKind string

const (
	ChangeUpdate   ChangeKind = "Update"
	ChangeCreation ChangeKind = "Creation"
)

// ChangeRecord is a history entry derived from a house's timestamps. It is
// never stored.
type ChangeRecord struct {
	Timestamp  uint64     `json:"timestamp"`
	ChangeType ChangeKind `json:"change_type"`
}

// History synthesizes the change records of h, most recent first: an Update
// entry when the house has been mutated, then the Creation entry.
func (h *House) History() []ChangeRecord {
	history := make([]ChangeRecord, 0, 2)
	if h.UpdatedAt != nil {
		history = append(history, ChangeRecord{Timestamp: *h.UpdatedAt, ChangeType: ChangeUpdate})
	}
	return append(history, ChangeRecord{Timestamp: h.CreatedAt, ChangeType: ChangeCreation})
}
