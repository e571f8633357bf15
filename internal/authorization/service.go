package authorization

import "context"

// Service decides whether an actor may perform an action on an admin object.
//
// Actors are "api_key" for the console bearer key and "user:<telegram id>"
// for bot administrators.
type Service interface {
	Authorize(ctx context.Context, actor string, object string, action string) error
	GrantAdmin(ctx context.Context, userID int64) error
}
