package server

import (
	"net/http"

	"github.com/bwmarrin/snowflake"
	"github.com/gin-gonic/gin"
	payoutprocessdomain "github.com/smallbiznis/leasepay/internal/payoutprocess/domain"
)

type createPayoutProcessRequest struct {
	PartnerPayoutID snowflake.ID `json:"partner_payout_id" binding:"required"`
}

func (s *Server) CreatePayoutProcess(c *gin.Context) {
	partnerID, ok := s.partnerID(c)
	if !ok {
		AbortWithError(c, ErrUnauthorized)
		return
	}

	var req createPayoutProcessRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	payout, err := s.partnerPayoutSvc.Get(c.Request.Context(), req.PartnerPayoutID, partnerID)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	enqueued, err := s.payoutProcessSvc.Create(c.Request.Context(), partnerID, payout)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusAccepted, gin.H{
		"enqueued":          enqueued,
		"partner_payout_id": payout.ID,
		"payout_process_id": payout.PayoutProcessID,
	})
}

func (s *Server) GetPayoutProcess(c *gin.Context) {
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

	process, err := s.payoutProcessSvc.Get(c.Request.Context(), id, partnerID)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": process})
}

type updatePayoutProcessRequest struct {
	ExternalStatus string                               `json:"external_status"`
	SentFileStatus string                               `json:"sent_file_status"`
	Transfers      []payoutprocessdomain.TransferUpdate `json:"transfers"`
}

func (s *Server) UpdatePayoutProcess(c *gin.Context) {
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

	var req updatePayoutProcessRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	process, err := s.payoutProcessSvc.Update(c.Request.Context(), payoutprocessdomain.UpdateRequest{
		PayoutProcessID: id,
		PartnerID:       partnerID,
		ExternalStatus:  req.ExternalStatus,
		SentFileStatus:  req.SentFileStatus,
		Transfers:       req.Transfers,
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": process})
}

type batchUpdateItem struct {
	PayoutProcessID snowflake.ID                         `json:"payout_process_id" binding:"required"`
	ExternalStatus  string                               `json:"external_status"`
	SentFileStatus  string                               `json:"sent_file_status"`
	Transfers       []payoutprocessdomain.TransferUpdate `json:"transfers"`
}

type batchUpdateRequest struct {
	Updates []batchUpdateItem `json:"updates" binding:"required"`
}

func (s *Server) BatchUpdatePayoutProcesses(c *gin.Context) {
	partnerID, ok := s.partnerID(c)
	if !ok {
		AbortWithError(c, ErrUnauthorized)
		return
	}

	var req batchUpdateRequest
	if err := c.ShouldBindJSON(&req); err != nil || len(req.Updates) == 0 {
		AbortWithError(c, invalidRequestError())
		return
	}

	updates := make([]payoutprocessdomain.UpdateRequest, 0, len(req.Updates))
	for _, item := range req.Updates {
		updates = append(updates, payoutprocessdomain.UpdateRequest{
			PayoutProcessID: item.PayoutProcessID,
			PartnerID:       partnerID,
			ExternalStatus:  item.ExternalStatus,
			SentFileStatus:  item.SentFileStatus,
			Transfers:       item.Transfers,
		})
	}

	applied, err := s.payoutProcessSvc.UpdateBatch(c.Request.Context(), updates)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"applied": applied})
}
