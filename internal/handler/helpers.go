package handler

import (
	"errors"

	"github.com/gin-gonic/gin"
	"github.com/xxxsen/common/logutil"
	"go.uber.org/zap"

	"github.com/xxxsen/codelens/internal/ai"
	"github.com/xxxsen/codelens/internal/middleware"
	"github.com/xxxsen/codelens/internal/pkg/errcode"
	appErr "github.com/xxxsen/codelens/internal/pkg/errors"
	"github.com/xxxsen/codelens/internal/pkg/response"
)

func getUserID(c *gin.Context) string {
	value, _ := c.Get(middleware.ContextUserIDKey)
	userID, _ := value.(string)
	return userID
}

func handleError(c *gin.Context, err error) {
	if err == nil {
		return
	}
	logutil.GetLogger(c.Request.Context()).Warn("request failed",
		zap.String("request_id", c.GetString(middleware.ContextRequestIDKey)),
		zap.String("method", c.Request.Method),
		zap.String("path", c.Request.URL.Path),
		zap.String("user_id", getUserID(c)),
		zap.Error(err),
	)
	switch {
	case errors.Is(err, appErr.ErrUnauthorized):
		response.Error(c, errcode.ErrUnauthorized, "unauthorized")
	case errors.Is(err, appErr.ErrForbidden):
		response.Error(c, errcode.ErrForbidden, "forbidden")
	case errors.Is(err, appErr.ErrNotFound):
		response.Error(c, errcode.ErrNotFound, "not found")
	case errors.Is(err, appErr.ErrInvalid):
		response.Error(c, errcode.ErrInvalid, "invalid request")
	case errors.Is(err, appErr.ErrConflict):
		response.Error(c, errcode.ErrConflict, err.Error())
	case errors.Is(err, appErr.ErrTreeTooLarge):
		response.Error(c, errcode.ErrTreeTooLarge, "source tree too large")
	case errors.Is(err, appErr.ErrNoProcessableFiles):
		response.Error(c, errcode.ErrNoProcessableFiles, "no processable files in source tree")
	case errors.Is(err, appErr.ErrIngestion):
		response.Error(c, errcode.ErrIngestionFailed, "ingestion failed")
	case errors.Is(err, ai.ErrUnavailable):
		response.Error(c, errcode.ErrAIUnavailable, "ai not configured")
	case errors.Is(err, appErr.ErrAnalysis):
		response.Error(c, errcode.ErrAnalysisFailed, "analysis failed")
	case errors.Is(err, appErr.ErrStorage):
		response.Error(c, errcode.ErrStorageFailed, "storage failed")
	default:
		response.Error(c, errcode.ErrInternal, "internal error")
	}
}
