package types

// VideoID is the identity token taken from the watch page's "v" query parameter.
type VideoID string

// Segment is one transcript line.
type Segment struct {
	Start float64 `json:"start"`
	Text  string  `json:"text"`
}

// Metadata describes the page the transcript belongs to.
type Metadata struct {
	Title       string  `json:"title,omitempty"`
	Description string  `json:"description,omitempty"`
	VideoID     VideoID `json:"videoId"`
}

// ContextPayload is everything a chat question is grounded on.
type ContextPayload struct {
	Transcript []Segment
	Metadata   Metadata
}

// CacheState is the state of the single cache entry.
type CacheState int

const (
	CacheEmpty CacheState = iota
	CacheLoading
	CacheReady
	CacheFailed
)

func (s CacheState) String() string {
	switch s {
	case CacheLoading:
		return "loading"
	case CacheReady:
		return "ready"
	case CacheFailed:
		return "failed"
	}
	return "empty"
}

// CacheEntry is a point-in-time copy of the context cache.
type CacheEntry struct {
	VideoID VideoID
	Payload *ContextPayload // non-nil only when State == CacheReady
	State   CacheState
}

// UIState is the widget's visibility. Minimized is persisted, Present is not.
type UIState struct {
	Present   bool
	Minimized bool
}

// Role tags who authored a chat message.
type Role string

const (
	RoleUser Role = "user"
	RoleAI   Role = "ai"
)

// ActionKind enumerates user actions raised by a presenter.
type ActionKind int

const (
	ActionToggleMinimize ActionKind = iota
	ActionSendMessage
)

// Action is a user action coming from the chat panel.
type Action struct {
	Kind ActionKind
	Text string // SendMessage only
}

// Handle identifies a chat panel instance created by a presenter.
type Handle string
