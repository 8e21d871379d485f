package server

import (
	"strings"

	"github.com/bwmarrin/snowflake"
	"github.com/gin-gonic/gin"
	"github.com/smallbiznis/leasepay/internal/partnerctx"
)

const HeaderPartner = "X-Partner-Id"

// PartnerRequired resolves the acting partner from the X-Partner-Id header
// and injects it into the request context. Every /v1 route is partner-scoped.
func (s *Server) PartnerRequired() gin.HandlerFunc {
	return func(c *gin.Context) {
		raw := strings.TrimSpace(c.GetHeader(HeaderPartner))
		if raw == "" {
			AbortWithError(c, ErrUnauthorized)
			return
		}

		partnerID, err := snowflake.ParseString(raw)
		if err != nil || partnerID == 0 {
			AbortWithError(c, ErrUnauthorized)
			return
		}

		ctx := partnerctx.WithPartnerID(c.Request.Context(), int64(partnerID))
		c.Request = c.Request.WithContext(ctx)
		c.Next()
	}
}

func (s *Server) partnerID(c *gin.Context) (snowflake.ID, bool) {
	return partnerctx.PartnerIDFromContext(c.Request.Context())
}
