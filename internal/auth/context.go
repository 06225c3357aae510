package auth

import (
	"context"

	"github.com/gin-gonic/gin"
)

type ctxKey int

const ctxOwnerID ctxKey = iota

// ginOwnerKey gin.Context 上的 key，handler 通过 OwnerFromGin 读取
const ginOwnerKey = "owner_id"

func WithOwner(ctx context.Context, ownerID string) context.Context {
	return context.WithValue(ctx, ctxOwnerID, ownerID)
}

// OwnerID 未认证时返回空串，由 service 层转成 ErrAuthentication
func OwnerID(ctx context.Context) string {
	s, _ := ctx.Value(ctxOwnerID).(string)
	return s
}

func OwnerFromGin(c *gin.Context) string {
	if v := c.GetString(ginOwnerKey); v != "" {
		return v
	}
	return OwnerID(c.Request.Context())
}
