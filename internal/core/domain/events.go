package domain

import "time"

// PermissionDomainEvent is the closed set of lifecycle events consumed by
// the orchestrator. Every variant carries the affected permission so that
// handlers never re-read state the transition already captured.
type PermissionDomainEvent interface {
	EventType() EventType
	Subject() Permission
}

// PermissionCreatedEvent is emitted once a grant request is stored in PENDING.
type PermissionCreatedEvent struct {
	Permission Permission
	CreatedBy  string
}

func (e PermissionCreatedEvent) EventType() EventType { return EventCreated }
func (e PermissionCreatedEvent) Subject() Permission  { return e.Permission }

// PermissionApprovedEvent is emitted when a pending grant is approved.
type PermissionApprovedEvent struct {
	Permission Permission
	ApprovedBy string
}

func (e PermissionApprovedEvent) EventType() EventType { return EventApproved }
func (e PermissionApprovedEvent) Subject() Permission  { return e.Permission }

// PermissionActivatedEvent triggers the actual grant on the managed store.
type PermissionActivatedEvent struct {
	Permission Permission
}

func (e PermissionActivatedEvent) EventType() EventType { return EventActivated }
func (e PermissionActivatedEvent) Subject() Permission  { return e.Permission }

// PermissionRevokedEvent triggers the immediate revoke on the managed store.
type PermissionRevokedEvent struct {
	Permission Permission
	RevokedBy  string
}

func (e PermissionRevokedEvent) EventType() EventType { return EventRevoked }
func (e PermissionRevokedEvent) Subject() Permission  { return e.Permission }

// PermissionExpiredEvent records that the sweep finalized an elapsed grant.
// The managed store's own scheduled event performs the revoke.
type PermissionExpiredEvent struct {
	Permission Permission
}

func (e PermissionExpiredEvent) EventType() EventType { return EventExpired }
func (e PermissionExpiredEvent) Subject() Permission  { return e.Permission }

// PermissionExtendedEvent carries the previous end time so the scheduled
// auto-revoke can be recreated at the new one.
type PermissionExtendedEvent struct {
	Permission  Permission
	ExtendedBy  string
	PreviousEnd time.Time
}

func (e PermissionExtendedEvent) EventType() EventType { return EventExtended }
func (e PermissionExtendedEvent) Subject() Permission  { return e.Permission }
