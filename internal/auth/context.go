package auth

import "context"

type ctxKey string

const userCtxKey ctxKey = "auth_user"

type UserContext struct {
	UserID int64
	Email  string
	Role   Role
}

func SetUserContext(ctx context.Context, userID int64, email string, role Role) context.Context {
	return context.WithValue(ctx, userCtxKey, UserContext{
		UserID: userID,
		Email:  email,
		Role:   role,
	})
}

func GetUserFromContext(ctx context.Context) (UserContext, bool) {
	u, ok := ctx.Value(userCtxKey).(UserContext)
	return u, ok
}

func GetUserIDFromContext(ctx context.Context) (int64, bool) {
	u, ok := GetUserFromContext(ctx)
	return u.UserID, ok
}

func GetUserRoleFromContext(ctx context.Context) Role {
	u, _ := GetUserFromContext(ctx)
	return u.Role
}
