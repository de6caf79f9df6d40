package store

import "time"

type Entity struct {
	ID         int64      `json:"id"`
	Name       string     `json:"name"`
	GroupID    *int64     `json:"group_id,omitempty"`
	GroupName  string     `json:"group_name"`
	Score      float64    `json:"score"`
	Cities     int        `json:"cities"`
	Active     bool       `json:"active"`
	LastActive *time.Time `json:"last_active,omitempty"`
	UpdatedAt  time.Time  `json:"updated_at"`
}

func (e Entity) HasGroup() bool {
	return e.GroupID != nil && *e.GroupID != 0
}

type StatusSnapshot struct {
	ID                  int64      `json:"id"`
	EntityID            int64      `json:"entity_id"`
	ProtectionAvailable bool       `json:"protection_available"`
	BeigeTurns          int        `json:"beige_turns"`
	HiatusTurns         int        `json:"hiatus_turns"`
	LastActive          *time.Time `json:"last_active,omitempty"`
	CheckedAt           time.Time  `json:"checked_at"`
}

const (
	MethodStatusTransition = "status-transition"
	DefaultConfidence      = 1.0
)

type ResetFact struct {
	ID         int64     `json:"id"`
	EntityID   int64     `json:"entity_id"`
	SnapshotID int64     `json:"snapshot_id"`
	ResetAt    time.Time `json:"reset_at"`
	Confidence float64   `json:"confidence"`
	Method     string    `json:"method"`
	Verified   bool      `json:"verified"`
	CreatedAt  time.Time `json:"created_at"`
}

// ResetFactView joins a fact with the entity it belongs to.
type ResetFactView struct {
	ResetFact
	EntityName string `json:"entity_name"`
	GroupID    *int64 `json:"group_id,omitempty"`
	GroupName  string `json:"group_name"`
}

type ResetFactFilter struct {
	GroupID *int64
	Limit   int
}

const (
	ReasonNewEntity = "new-entity"
	ReasonProtected = "protected"
	ReasonManual    = "manual"
)

// ReasonPriority orders due entries; higher runs first.
func ReasonPriority(reason string) int {
	switch reason {
	case ReasonManual:
		return 3
	case ReasonProtected:
		return 2
	case ReasonNewEntity:
		return 1
	default:
		return 0
	}
}

type QueueEntry struct {
	EntityID    int64     `json:"entity_id"`
	Reason      string    `json:"reason"`
	AddedAt     time.Time `json:"added_at"`
	NextCheckAt time.Time `json:"next_check_at"`
	Priority    int       `json:"priority"`
}
