package port

import "context"

// PrincipalRepository looks up account identities in the collaborating
// identity store.
type PrincipalRepository interface {
	Exists(ctx context.Context, principalID string) (bool, error)
}
