package catalog

// Notification topics published by the host.
const (
	TopicItemAdded     = "catalog.item.added"
	TopicItemUpdated   = "catalog.item.updated"
	TopicItemRemoved   = "catalog.item.removed"
	TopicUserDataSaved = "catalog.userdata.saved"
)

// ItemOp is the kind of library change.
type ItemOp int

const (
	ItemAdded ItemOp = iota
	ItemUpdated
	ItemRemoved
)

// String returns the op name.
func (op ItemOp) String() string {
	switch op {
	case ItemAdded:
		return "added"
	case ItemUpdated:
		return "updated"
	case ItemRemoved:
		return "removed"
	default:
		return "unknown"
	}
}

// Topic returns the notification topic for op.
func (op ItemOp) Topic() string {
	switch op {
	case ItemAdded:
		return TopicItemAdded
	case ItemRemoved:
		return TopicItemRemoved
	default:
		return TopicItemUpdated
	}
}

// ItemEvent reports an item added, updated or removed in the library.
type ItemEvent struct {
	Op   ItemOp `json:"op"`
	Item Item   `json:"item"`

	// Ancestors is the parent chain captured at removal time.
	Ancestors []Ancestor `json:"ancestors,omitempty"`
}

// SaveReason describes why per-user data was saved.
type SaveReason int

const (
	SaveReasonUnknown SaveReason = iota
	SaveReasonPlaybackStart
	SaveReasonPlaybackProgress
	SaveReasonPlaybackFinished
	SaveReasonTogglePlayed
	SaveReasonUpdateUserRating
	SaveReasonImport
)

// UserDataEvent reports a per-user data save for an item.
type UserDataEvent struct {
	Item   Item       `json:"item"`
	UserID string     `json:"user_id"`
	Reason SaveReason `json:"reason"`
}
