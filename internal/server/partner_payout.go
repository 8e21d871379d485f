package server

import (
	"net/http"

	"github.com/bwmarrin/snowflake"
	"github.com/gin-gonic/gin"
	payoutprocessdomain "github.com/smallbiznis/leasepay/internal/payoutprocess/domain"
)

func (s *Server) GetPartnerPayout(c *gin.Context) {
	partnerID, ok := s.partnerID(c)
	if !ok {
		AbortWithError(c, ErrUnauthorized)
		return
	}

	id, err := snowflake.ParseString(c.Param("id"))
	if err != nil {
		AbortWithError(c, newValidationError("id", "invalid_id", "invalid id"))
		return
	}

	payout, err := s.partnerPayoutSvc.Get(c.Request.Context(), id, partnerID)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": payout})
}

type signPartnerPayoutRequest struct {
	SigningStatus string         `json:"signing_status" binding:"required"`
	Meta          map[string]any `json:"meta"`
}

// SignPartnerPayout is the signing-provider callback: a signed payout is
// approved and immediately assembled into a bank batch.
func (s *Server) SignPartnerPayout(c *gin.Context) {
	partnerID, ok := s.partnerID(c)
	if !ok {
		AbortWithError(c, ErrUnauthorized)
		return
	}

	id, err := snowflake.ParseString(c.Param("id"))
	if err != nil {
		AbortWithError(c, newValidationError("id", "invalid_id", "invalid id"))
		return
	}

	var req signPartnerPayoutRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	process, err := s.payoutProcessSvc.ApproveAndCreate(c.Request.Context(), payoutprocessdomain.ApprovalRequest{
		PartnerPayoutID: id,
		PartnerID:       partnerID,
		SigningStatus:   req.SigningStatus,
		SigningMeta:     req.Meta,
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": process})
}
