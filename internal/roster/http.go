package roster

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"mime/multipart"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/yourusername/agent-roster/internal/pdf"
	"github.com/yourusername/agent-roster/internal/storage"
)

const xlsxContentType = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"

// ExportScheduler は非同期エクスポートを投入します。
type ExportScheduler interface {
	ScheduleExport(ctx context.Context) (string, error)
}

// HandlerOptions は Handler の任意設定です。
type HandlerOptions struct {
	Scheduler ExportScheduler
	Logger    *slog.Logger
}

// Handler は /api 配下のロスター API です。
type Handler struct {
	svc       *Service
	scheduler ExportScheduler
	logger    *slog.Logger
}

// NewHandler は Handler を返します。
func NewHandler(svc *Service, opts HandlerOptions) *Handler {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{svc: svc, scheduler: opts.Scheduler, logger: logger}
}

// RegisterRoutes は rg にロスター API を登録します。認証と CSRF は呼び出し側のミドルウェアで行います。
func (h *Handler) RegisterRoutes(rg *gin.RouterGroup) {
	players := rg.Group("/players")
	players.GET("", h.listPlayers)
	players.POST("", h.createPlayer)
	players.GET("/:id", h.getPlayer)
	players.PUT("/:id", h.updatePlayer)
	players.DELETE("/:id", h.deletePlayer)
	players.POST("/:id/image", h.uploadPlayerImage)
	players.GET("/:id/contract", h.playerContract)

	clubs := rg.Group("/clubs")
	clubs.GET("", h.listClubs)
	clubs.POST("", h.createClub)
	clubs.GET("/:id", h.getClub)
	clubs.PUT("/:id", h.updateClub)
	clubs.DELETE("/:id", h.deleteClub)
	clubs.POST("/:id/logo", h.uploadClubLogo)
	clubs.GET("/:id/contracts", h.clubContracts)

	contracts := rg.Group("/contracts")
	contracts.GET("", h.listContracts)
	contracts.POST("", h.createContract)
	contracts.GET("/:id", h.getContract)
	contracts.PUT("/:id", h.updateContract)
	contracts.DELETE("/:id", h.deleteContract)
	contracts.POST("/:id/document", h.uploadContractDocument)

	matches := rg.Group("/matches")
	matches.GET("", h.listMatches)
	matches.POST("", h.createMatch)
	matches.GET("/:id", h.getMatch)
	matches.PUT("/:id", h.updateMatch)
	matches.DELETE("/:id", h.deleteMatch)

	rg.GET("/dashboard/stats", h.dashboard)
	rg.GET("/exports/roster.xlsx", h.exportWorkbook)
	rg.POST("/exports", h.scheduleExport)
}

func (h *Handler) listPlayers(c *gin.Context) {
	players, err := h.svc.ListPlayers(c.Request.Context())
	h.respond(c, http.StatusOK, players, err)
}

func (h *Handler) getPlayer(c *gin.Context) {
	id, ok := h.pathID(c)
	if !ok {
		return
	}
	p, err := h.svc.GetPlayer(c.Request.Context(), id)
	h.respond(c, http.StatusOK, p, err)
}

func (h *Handler) createPlayer(c *gin.Context) {
	var in PlayerInput
	if !h.bind(c, &in) {
		return
	}
	p, err := h.svc.CreatePlayer(c.Request.Context(), in)
	h.respond(c, http.StatusCreated, p, err)
}

func (h *Handler) updatePlayer(c *gin.Context) {
	id, ok := h.pathID(c)
	if !ok {
		return
	}
	var in PlayerInput
	if !h.bind(c, &in) {
		return
	}
	p, err := h.svc.UpdatePlayer(c.Request.Context(), id, in)
	h.respond(c, http.StatusOK, p, err)
}

func (h *Handler) deletePlayer(c *gin.Context) {
	id, ok := h.pathID(c)
	if !ok {
		return
	}
	h.respondDeleted(c, h.svc.DeletePlayer(c.Request.Context(), id))
}

func (h *Handler) uploadPlayerImage(c *gin.Context) {
	id, ok := h.pathID(c)
	if !ok {
		return
	}
	fh, ok := h.formFile(c, "image")
	if !ok {
		return
	}
	p, err := h.svc.SetPlayerImage(c.Request.Context(), id, fh)
	h.respond(c, http.StatusOK, p, err)
}

func (h *Handler) playerContract(c *gin.Context) {
	id, ok := h.pathID(c)
	if !ok {
		return
	}
	contract, err := h.svc.ActiveContractForPlayer(c.Request.Context(), id)
	h.respond(c, http.StatusOK, contract, err)
}

func (h *Handler) listClubs(c *gin.Context) {
	clubs, err := h.svc.ListClubs(c.Request.Context())
	h.respond(c, http.StatusOK, clubs, err)
}

func (h *Handler) getClub(c *gin.Context) {
	id, ok := h.pathID(c)
	if !ok {
		return
	}
	club, err := h.svc.GetClub(c.Request.Context(), id)
	h.respond(c, http.StatusOK, club, err)
}

func (h *Handler) createClub(c *gin.Context) {
	var in ClubInput
	if !h.bind(c, &in) {
		return
	}
	club, err := h.svc.CreateClub(c.Request.Context(), in)
	h.respond(c, http.StatusCreated, club, err)
}

func (h *Handler) updateClub(c *gin.Context) {
	id, ok := h.pathID(c)
	if !ok {
		return
	}
	var in ClubInput
	if !h.bind(c, &in) {
		return
	}
	club, err := h.svc.UpdateClub(c.Request.Context(), id, in)
	h.respond(c, http.StatusOK, club, err)
}

func (h *Handler) deleteClub(c *gin.Context) {
	id, ok := h.pathID(c)
	if !ok {
		return
	}
	h.respondDeleted(c, h.svc.DeleteClub(c.Request.Context(), id))
}

func (h *Handler) uploadClubLogo(c *gin.Context) {
	id, ok := h.pathID(c)
	if !ok {
		return
	}
	fh, ok := h.formFile(c, "logo")
	if !ok {
		return
	}
	club, err := h.svc.SetClubLogo(c.Request.Context(), id, fh)
	h.respond(c, http.StatusOK, club, err)
}

func (h *Handler) clubContracts(c *gin.Context) {
	id, ok := h.pathID(c)
	if !ok {
		return
	}
	if _, err := h.svc.GetClub(c.Request.Context(), id); err != nil {
		h.respondWithError(c, err)
		return
	}
	contracts, err := h.svc.ContractsForClub(c.Request.Context(), id)
	h.respond(c, http.StatusOK, contracts, err)
}

func (h *Handler) listContracts(c *gin.Context) {
	contracts, err := h.svc.ListContracts(c.Request.Context())
	h.respond(c, http.StatusOK, contracts, err)
}

func (h *Handler) getContract(c *gin.Context) {
	id, ok := h.pathID(c)
	if !ok {
		return
	}
	contract, err := h.svc.GetContract(c.Request.Context(), id)
	h.respond(c, http.StatusOK, contract, err)
}

func (h *Handler) createContract(c *gin.Context) {
	var in ContractInput
	if !h.bind(c, &in) {
		return
	}
	contract, err := h.svc.CreateContract(c.Request.Context(), in)
	h.respond(c, http.StatusCreated, contract, err)
}

func (h *Handler) updateContract(c *gin.Context) {
	id, ok := h.pathID(c)
	if !ok {
		return
	}
	var in ContractInput
	if !h.bind(c, &in) {
		return
	}
	contract, err := h.svc.UpdateContract(c.Request.Context(), id, in)
	h.respond(c, http.StatusOK, contract, err)
}

func (h *Handler) deleteContract(c *gin.Context) {
	id, ok := h.pathID(c)
	if !ok {
		return
	}
	h.respondDeleted(c, h.svc.DeleteContract(c.Request.Context(), id))
}

func (h *Handler) uploadContractDocument(c *gin.Context) {
	id, ok := h.pathID(c)
	if !ok {
		return
	}
	fh, ok := h.formFile(c, "document")
	if !ok {
		return
	}
	contract, err := h.svc.SetContractDocument(c.Request.Context(), id, fh)
	h.respond(c, http.StatusOK, contract, err)
}

func (h *Handler) listMatches(c *gin.Context) {
	filter, err := ParseMatchFilter(c.Query("status"))
	if err != nil {
		h.respondWithError(c, err)
		return
	}
	matches, err := h.svc.ListMatches(c.Request.Context(), filter)
	h.respond(c, http.StatusOK, matches, err)
}

func (h *Handler) getMatch(c *gin.Context) {
	id, ok := h.pathID(c)
	if !ok {
		return
	}
	m, err := h.svc.GetMatch(c.Request.Context(), id)
	h.respond(c, http.StatusOK, m, err)
}

func (h *Handler) createMatch(c *gin.Context) {
	var in MatchInput
	if !h.bind(c, &in) {
		return
	}
	m, err := h.svc.CreateMatch(c.Request.Context(), in)
	h.respond(c, http.StatusCreated, m, err)
}

func (h *Handler) updateMatch(c *gin.Context) {
	id, ok := h.pathID(c)
	if !ok {
		return
	}
	var in MatchInput
	if !h.bind(c, &in) {
		return
	}
	m, err := h.svc.UpdateMatch(c.Request.Context(), id, in)
	h.respond(c, http.StatusOK, m, err)
}

func (h *Handler) deleteMatch(c *gin.Context) {
	id, ok := h.pathID(c)
	if !ok {
		return
	}
	h.respondDeleted(c, h.svc.DeleteMatch(c.Request.Context(), id))
}

func (h *Handler) dashboard(c *gin.Context) {
	stats, err := h.svc.Dashboard(c.Request.Context())
	h.respond(c, http.StatusOK, stats, err)
}

func (h *Handler) exportWorkbook(c *gin.Context) {
	var buf bytes.Buffer
	if err := h.svc.ExportWorkbook(c.Request.Context(), &buf); err != nil {
		h.respondWithError(c, err)
		return
	}
	c.Header("Content-Disposition", fmt.Sprintf("attachment; filename=%q", ExportFilename))
	c.Header("Cache-Control", "no-store")
	c.Data(http.StatusOK, xlsxContentType, buf.Bytes())
}

func (h *Handler) scheduleExport(c *gin.Context) {
	if h.scheduler == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{
			"code":  "QUEUE_UNAVAILABLE",
			"error": "Async export is not configured",
		})
		return
	}
	jobID, err := h.scheduler.ScheduleExport(c.Request.Context())
	if err != nil {
		h.respondWithError(c, err)
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"jobId": jobID})
}

func (h *Handler) pathID(c *gin.Context) (int, bool) {
	id, err := strconv.Atoi(c.Param("id"))
	if err != nil || id <= 0 {
		c.JSON(http.StatusBadRequest, gin.H{
			"code":  "INVALID_INPUT",
			"error": "id must be a positive integer",
		})
		return 0, false
	}
	return id, true
}

func (h *Handler) bind(c *gin.Context, dst any) bool {
	if err := c.ShouldBindJSON(dst); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"code":  "INVALID_INPUT",
			"error": "request body must be a JSON object",
		})
		return false
	}
	return true
}

func (h *Handler) formFile(c *gin.Context, field string) (*multipart.FileHeader, bool) {
	fh, err := c.FormFile(field)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"code":  "INVALID_INPUT",
			"error": fmt.Sprintf("multipart field %q is required", field),
		})
		return nil, false
	}
	return fh, true
}

func (h *Handler) respond(c *gin.Context, status int, body any, err error) {
	if err != nil {
		h.respondWithError(c, err)
		return
	}
	c.JSON(status, body)
}

func (h *Handler) respondDeleted(c *gin.Context, err error) {
	if err != nil {
		h.respondWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true})
}

func (h *Handler) respondWithError(c *gin.Context, err error) {
	var rosterErr *Error
	var pdfErr *pdf.Error
	switch {
	case errors.As(err, &rosterErr):
		c.JSON(http.StatusBadRequest, gin.H{"code": rosterErr.Code, "error": rosterErr.Message})
	case errors.As(err, &pdfErr):
		status := http.StatusBadRequest
		if pdfErr.Code == "LIMIT_EXCEEDED" {
			status = http.StatusRequestEntityTooLarge
		}
		c.JSON(status, gin.H{"code": pdfErr.Code, "error": pdfErr.Message})
	case errors.Is(err, ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{"code": "NOT_FOUND", "error": "Not found"})
	case errors.Is(err, storage.ErrTooLarge):
		c.JSON(http.StatusRequestEntityTooLarge, gin.H{"code": "LIMIT_EXCEEDED", "error": "File too large"})
	case errors.Is(err, storage.ErrUnsupportedType):
		c.JSON(http.StatusBadRequest, gin.H{"code": "INVALID_INPUT", "error": "Unsupported file type"})
	case errors.Is(err, ErrUploadsDisabled):
		c.JSON(http.StatusServiceUnavailable, gin.H{"code": "UPLOADS_UNAVAILABLE", "error": "Uploads are not configured"})
	default:
		h.logger.ErrorContext(c.Request.Context(), "roster request failed",
			"path", c.FullPath(),
			"error", err,
		)
		c.JSON(http.StatusInternalServerError, gin.H{"code": "INTERNAL_ERROR", "error": "Server error"})
	}
}
