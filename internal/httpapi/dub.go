package httpapi

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/MarkoPoloResearchLab/aurisvoice/internal/dubbing"
	"github.com/MarkoPoloResearchLab/aurisvoice/internal/locks"
)

const (
	formFieldFile     = "file"
	formFieldLanguage = "targetLanguage"
	formFieldVoice    = "voiceModel"
	formFieldDuration = "durationSeconds"
)

type historyPayload struct {
	JobID       string    `json:"jobId"`
	FileName    string    `json:"fileName"`
	InputName   string    `json:"inputName"`
	AudioURL    string    `json:"audioUrl"`
	CreditsUsed int64     `json:"creditsUsed"`
	Language    string    `json:"targetLanguage"`
	Voice       string    `json:"voiceModel"`
	Provider    string    `json:"provider"`
	Timestamp   time.Time `json:"timestamp"`
}

func (server *Server) handleDub(ctx *gin.Context) {
	ctx.Request.Body = http.MaxBytesReader(ctx.Writer, ctx.Request.Body, server.deps.MaxUploadBytes)
	upload, err := ctx.FormFile(formFieldFile)
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			ctx.JSON(http.StatusRequestEntityTooLarge, errorResponse("FILE_TOO_LARGE", "upload exceeds the size limit"))
			return
		}
		ctx.JSON(http.StatusBadRequest, errorResponse("NO_FILE", "a media file is required"))
		return
	}
	request := dubbing.Request{
		Identity:  identityFrom(ctx),
		InputName: upload.Filename,
		SizeBytes: upload.Size,
		Language:  ctx.PostForm(formFieldLanguage),
		Voice:     ctx.PostForm(formFieldVoice),
	}
	if rawDuration := strings.TrimSpace(ctx.PostForm(formFieldDuration)); rawDuration != "" {
		duration, parseErr := strconv.ParseFloat(rawDuration, 64)
		if parseErr != nil || duration < 0 {
			ctx.JSON(http.StatusBadRequest, errorResponse("INVALID_DURATION", "durationSeconds must be a non-negative number"))
			return
		}
		request.DurationSeconds = duration
	}

	result, err := server.deps.Dubber.Dub(ctx.Request.Context(), request)
	if err != nil {
		server.writeDubError(ctx, request, err)
		return
	}
	ctx.JSON(http.StatusOK, gin.H{
		"ok":               true,
		"jobId":            result.JobID,
		"audioUrl":         result.AudioLocation,
		"provider":         result.Provider,
		"placeholder":      result.Placeholder,
		"creditsUsed":      result.CreditsUsed.Int64(),
		"creditsRemaining": result.CreditsRemaining.Int64(),
		"durationSeconds":  result.DurationSeconds,
		"targetLanguage":   result.Language.Tag,
		"voiceModel":       result.Voice,
	})
}

func (server *Server) writeDubError(ctx *gin.Context, request dubbing.Request, err error) {
	if insufficient, ok := dubbing.InsufficientCredit(err); ok {
		ctx.JSON(http.StatusPaymentRequired, gin.H{
			"ok":        false,
			"error":     "INSUFFICIENT_CREDIT",
			"message":   "Not enough credits for this dubbing request",
			"available": insufficient.Available.Int64(),
			"required":  insufficient.Required.Int64(),
		})
		return
	}
	_, required := server.deps.Dubber.Quote(request)
	switch {
	case errors.Is(err, dubbing.ErrInvalidRequest):
		ctx.JSON(http.StatusBadRequest, errorResponse("INVALID_REQUEST", err.Error()))
	case errors.Is(err, locks.ErrLockTimeout):
		ctx.JSON(http.StatusLocked, errorResponse("REQUEST_IN_PROGRESS", "another request for this account is still running"))
	case errors.Is(err, dubbing.ErrCancelled), errors.Is(err, context.Canceled):
		ctx.JSON(http.StatusRequestTimeout, errorResponse("CANCELLED", "request cancelled"))
	case errors.Is(err, dubbing.ErrSynthesisFailed):
		ctx.JSON(http.StatusBadGateway, gin.H{
			"ok":          false,
			"error":       "SYNTHESIS_FAILED",
			"message":     "speech synthesis failed",
			"creditsUsed": required.Int64(),
		})
	default:
		server.logger.Error("dub failed", zap.String("identity", request.Identity.String()), zap.Error(err))
		ctx.JSON(http.StatusInternalServerError, errorResponse("INTERNAL_ERROR", "dubbing failed"))
	}
}

func (server *Server) handleDubbingHistory(ctx *gin.Context) {
	if server.deps.History == nil {
		ctx.JSON(http.StatusOK, gin.H{"ok": true, "history": []historyPayload{}})
		return
	}
	limit := dubbing.DefaultHistoryLimit
	if rawLimit := ctx.Query("limit"); rawLimit != "" {
		parsed, err := strconv.Atoi(rawLimit)
		if err != nil || parsed <= 0 {
			ctx.JSON(http.StatusBadRequest, errorResponse("INVALID_LIMIT", "limit must be a positive integer"))
			return
		}
		limit = parsed
	}
	requestCtx, cancel := server.requestContext(ctx)
	defer cancel()
	items, err := server.deps.History.List(requestCtx, identityFrom(ctx), limit)
	if err != nil {
		server.writeServiceError(ctx, "dubbing history", err)
		return
	}
	payloads := make([]historyPayload, 0, len(items))
	for _, item := range items {
		payloads = append(payloads, historyPayload{
			JobID:       item.JobID,
			FileName:    item.FileName,
			InputName:   item.InputName,
			AudioURL:    item.AudioLocation,
			CreditsUsed: item.CreditsUsed.Int64(),
			Language:    item.Language,
			Voice:       item.Voice,
			Provider:    item.Provider,
			Timestamp:   time.Unix(item.CreatedUnixUTC, 0).UTC(),
		})
	}
	ctx.JSON(http.StatusOK, gin.H{"ok": true, "history": payloads})
}

func (server *Server) handleProviderCredit(ctx *gin.Context) {
	if server.deps.ProviderCredit == nil {
		ctx.JSON(http.StatusOK, gin.H{"ok": true, "configured": false})
		return
	}
	requestCtx, cancel := server.requestContext(ctx)
	defer cancel()
	status := server.deps.ProviderCredit.Status(requestCtx)
	ctx.JSON(http.StatusOK, gin.H{
		"ok":              true,
		"configured":      true,
		"known":           status.Known,
		"creditRemaining": status.CreditRemaining,
		"minCredit":       status.MinCredit,
		"belowMinimum":    status.BelowMinimum,
		"lastCheck":       status.LastCheck,
	})
}
