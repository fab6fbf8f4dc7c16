package middlewares

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/hostfolio/propops_backend/utils"
)

// ActorMiddleware propagates the caller's identity from the trusted gateway
// headers into the request context. Authentication itself happens upstream;
// this service only needs to know who to write on audit entries and which
// business to scope queries to.
func ActorMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		businessId := c.Request.Header.Get("X-Business-Id")
		userName := c.Request.Header.Get("X-User-Name")
		if businessId == "" || userName == "" {
			c.JSON(http.StatusBadRequest, gin.H{"error": "X-Business-Id and X-User-Name headers are required"})
			c.Abort()
			return
		}

		ctx := utils.SetBusinessIdInContext(c.Request.Context(), businessId)
		ctx = utils.SetUserNameInContext(ctx, userName)

		if userId, err := strconv.Atoi(c.Request.Header.Get("X-User-Id")); err == nil {
			ctx = utils.SetUserIdInContext(ctx, userId)
		}
		if c.Request.Header.Get("X-Superuser") == "true" {
			ctx = utils.SetIsSuperuserInContext(ctx, true)
		}

		correlationId := c.Request.Header.Get("X-Correlation-Id")
		if correlationId == "" {
			correlationId = uuid.NewString()
		}
		ctx = utils.SetCorrelationIdInContext(ctx, correlationId)
		c.Header("X-Correlation-Id", correlationId)

		c.Request = c.Request.WithContext(ctx)
		c.Next()
	}
}
