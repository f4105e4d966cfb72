package handler

import (
	"github.com/gin-gonic/gin"

	"github.com/xxxsen/codelens/internal/model"
	"github.com/xxxsen/codelens/internal/pkg/errcode"
	"github.com/xxxsen/codelens/internal/pkg/response"
	"github.com/xxxsen/codelens/internal/service"
)

type AnalysisHandler struct {
	analysis *service.AnalysisService
}

func NewAnalysisHandler(analysis *service.AnalysisService) *AnalysisHandler {
	return &AnalysisHandler{analysis: analysis}
}

type analyzeRequest struct {
	ProjectID string       `json:"project_id"`
	Question  string       `json:"question"`
	History   []model.Turn `json:"history"`
}

func (h *AnalysisHandler) Analyze(c *gin.Context) {
	var req analyzeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, errcode.ErrInvalid, "invalid request")
		return
	}
	if req.ProjectID == "" {
		response.Error(c, errcode.ErrInvalid, "project_id is required")
		return
	}
	result, err := h.analysis.Analyze(c.Request.Context(), getUserID(c), req.ProjectID, req.Question, req.History)
	if err != nil {
		handleError(c, err)
		return
	}
	response.Success(c, result)
}
