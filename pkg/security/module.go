package security

import (
	"context"

	"go.uber.org/fx"
)

const (
	RoleUser  = "user"
	RoleAdmin = "admin"
)

var Module = fx.Module("security",
	fx.Provide(NewTokenIssuer),
)

// PrincipalResolver reloads the account behind a verified token so that role
// and activation changes apply to sessions that are already issued.
type PrincipalResolver interface {
	ResolvePrincipal(ctx context.Context, p Principal) (*Principal, error)
}
