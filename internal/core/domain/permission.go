package domain

import "time"

// PermissionStatus tracks where a grant sits in its lifecycle.
type PermissionStatus string

const (
	StatusPending  PermissionStatus = "PENDING"
	StatusApproved PermissionStatus = "APPROVED"
	StatusActive   PermissionStatus = "ACTIVE"
	StatusExpired  PermissionStatus = "EXPIRED"
	StatusRevoked  PermissionStatus = "REVOKED"
)

// IsTerminal reports whether no further transitions are allowed from the status.
func (s PermissionStatus) IsTerminal() bool {
	return s == StatusExpired || s == StatusRevoked
}

// PrivilegeKind is the coarse permission category requested for a grant.
// Each kind maps to a fixed set of MariaDB privileges in the statement builder.
type PrivilegeKind string

const (
	PrivilegeRead    PrivilegeKind = "READ"
	PrivilegeWrite   PrivilegeKind = "WRITE"
	PrivilegeDelete  PrivilegeKind = "DELETE"
	PrivilegeExecute PrivilegeKind = "EXECUTE"
	PrivilegeAdmin   PrivilegeKind = "ADMIN"
)

// Valid reports whether the kind is one of the closed set.
func (k PrivilegeKind) Valid() bool {
	switch k {
	case PrivilegeRead, PrivilegeWrite, PrivilegeDelete, PrivilegeExecute, PrivilegeAdmin:
		return true
	}
	return false
}

// Permission is a single time-bounded grant of database access for a
// principal on the managed MariaDB store. Status and its timestamps are
// owned exclusively by the lifecycle service; terminal records are kept
// for audit and never deleted.
type Permission struct {
	ID          string
	PrincipalID string
	Principal   string
	Host        string
	Resource    string
	Kind        PrivilegeKind
	StartTime   time.Time
	EndTime     time.Time
	Status      PermissionStatus
	Description *string
	ApprovedBy  *string
	ApprovedAt  *time.Time
	RevokedBy   *string
	RevokedAt   *time.Time
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// EventType names an audit trail entry kind.
type EventType string

const (
	EventCreated   EventType = "CREATED"
	EventApproved  EventType = "APPROVED"
	EventActivated EventType = "ACTIVATED"
	EventExpired   EventType = "EXPIRED"
	EventRevoked   EventType = "REVOKED"
	EventExtended  EventType = "EXTENDED"
	EventModified  EventType = "MODIFIED"
)

// SystemActor marks audit entries written by the engine itself rather than a person.
const SystemActor = "SYSTEM"

// PermissionEvent is one immutable audit trail record. Failed attempts at a
// transition's side effect are recorded with the same event type and a
// detail string explaining the failure.
type PermissionEvent struct {
	ID           string
	PermissionID string
	Type         EventType
	Actor        string
	Details      string
	EventTime    time.Time
	CreatedAt    time.Time
}
