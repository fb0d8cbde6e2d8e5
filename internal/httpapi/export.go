package httpapi

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/MarkoPoloResearchLab/aurisvoice/internal/dubbing"
)

const (
	exportFormatMP3   = "mp3"
	metadataGenerator = "AurisVoice"
)

type exportMetadata struct {
	JobID       string    `json:"id"`
	File        string    `json:"file"`
	InputName   string    `json:"inputName"`
	Format      string    `json:"format"`
	Language    string    `json:"language"`
	Voice       string    `json:"voice"`
	Provider    string    `json:"provider"`
	CreditsUsed int64     `json:"creditsUsed"`
	Date        time.Time `json:"date"`
	URL         string    `json:"url"`
	GeneratedBy string    `json:"generatedBy"`
}

func (server *Server) handleExport(ctx *gin.Context) {
	format := strings.ToLower(strings.TrimSpace(ctx.DefaultQuery("format", exportFormatMP3)))
	if format != exportFormatMP3 {
		ctx.JSON(http.StatusBadRequest, errorResponse("UNSUPPORTED_FORMAT", "only mp3 exports are available"))
		return
	}
	item, ok := server.lookupJob(ctx)
	if !ok {
		return
	}
	server.logger.Info("export requested", zap.String("job_id", item.JobID), zap.String("identity", item.Identity.String()))
	ctx.JSON(http.StatusOK, gin.H{
		"ok":        true,
		"jobId":     item.JobID,
		"exportUrl": item.AudioLocation,
		"format":    format,
		"filename":  item.FileName,
	})
}

func (server *Server) handleExportMetadata(ctx *gin.Context) {
	item, ok := server.lookupJob(ctx)
	if !ok {
		return
	}
	ctx.JSON(http.StatusOK, gin.H{
		"ok": true,
		"metadata": exportMetadata{
			JobID:       item.JobID,
			File:        item.FileName,
			InputName:   item.InputName,
			Format:      exportFormatMP3,
			Language:    item.Language,
			Voice:       item.Voice,
			Provider:    item.Provider,
			CreditsUsed: item.CreditsUsed.Int64(),
			Date:        time.Unix(item.CreatedUnixUTC, 0).UTC(),
			URL:         item.AudioLocation,
			GeneratedBy: metadataGenerator,
		},
	})
}

// lookupJob resolves the :id job for the caller and writes the error response when it cannot.
func (server *Server) lookupJob(ctx *gin.Context) (dubbing.HistoryItem, bool) {
	jobID := strings.TrimSpace(ctx.Param("id"))
	if server.deps.History == nil || jobID == "" {
		ctx.JSON(http.StatusNotFound, errorResponse("JOB_NOT_FOUND", "project not found"))
		return dubbing.HistoryItem{}, false
	}
	requestCtx, cancel := server.requestContext(ctx)
	defer cancel()
	item, err := server.deps.History.Find(requestCtx, identityFrom(ctx), jobID)
	if errors.Is(err, dubbing.ErrJobNotFound) {
		ctx.JSON(http.StatusNotFound, errorResponse("JOB_NOT_FOUND", "project not found"))
		return dubbing.HistoryItem{}, false
	}
	if err != nil {
		server.writeServiceError(ctx, "export", err)
		return dubbing.HistoryItem{}, false
	}
	return item, true
}
