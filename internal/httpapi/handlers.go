package httpapi

import (
	"context"
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/ss2dbx/server/internal/migration/model"
	"github.com/ss2dbx/server/internal/migration/workflow"
)

// Workflow is the subset of the stage service the API exposes.
type Workflow interface {
	NewSessionID() string
	Session(ctx context.Context, sessionID string) (*model.SessionState, error)
	Reset(ctx context.Context, sessionID string) error
	Runs(ctx context.Context, sessionID string) ([]model.StageRun, error)
	UpdateFields(ctx context.Context, sessionID string, patch model.FieldPatch) (model.PrefillRecord, error)
	RunStage1(ctx context.Context, sessionID string, req workflow.Stage1Request) (*workflow.StageResult, error)
	RunStage2(ctx context.Context, sessionID string, req workflow.Stage2Request) (*workflow.StageResult, error)
	RunStage3(ctx context.Context, sessionID string, req workflow.Stage3Request) (*workflow.StageResult, error)
}

func HealthCheck(c *gin.Context) {
	c.String(http.StatusOK, "ok")
}

type SessionHandler struct {
	svc Workflow
}

func NewSessionHandler(svc Workflow) *SessionHandler {
	return &SessionHandler{svc: svc}
}

type attachmentBody struct {
	Name string `json:"name"`
	Text string `json:"text"`
}

type stage1Body struct {
	Document          *string         `json:"document"`
	AdditionalPrompts *string         `json:"additional_prompts"`
	Attachment        *attachmentBody `json:"attachment"`
}

type fieldsBody struct {
	Fields model.FieldPatch `json:"fields"`
}

type stage3Body struct {
	NotebookContext string `json:"notebook_context"`
}

// POST /api/sessions
// Allocate a new session id. The session is stored on its first action.
func (h *SessionHandler) Create(c *gin.Context) {
	c.JSON(http.StatusCreated, gin.H{"id": h.svc.NewSessionID()})
}

// GET /api/sessions/:id
func (h *SessionHandler) Get(c *gin.Context) {
	state, err := h.svc.Session(c.Request.Context(), c.Param("id"))
	if err != nil {
		RespondError(c, err)
		return
	}
	RespondOK(c, state)
}

// DELETE /api/sessions/:id
func (h *SessionHandler) Reset(c *gin.Context) {
	if err := h.svc.Reset(c.Request.Context(), c.Param("id")); err != nil {
		RespondError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// POST /api/sessions/:id/stage1
func (h *SessionHandler) RunStage1(c *gin.Context) {
	var body stage1Body
	if c.Request.ContentLength != 0 {
		if err := c.ShouldBindJSON(&body); err != nil {
			RespondBadRequest(c, err)
			return
		}
	}
	req := workflow.Stage1Request{
		Document:          body.Document,
		AdditionalPrompts: body.AdditionalPrompts,
	}
	if body.Attachment != nil {
		req.Attachment = &workflow.Attachment{Name: body.Attachment.Name, Text: body.Attachment.Text}
	}

	res, err := h.svc.RunStage1(c.Request.Context(), c.Param("id"), req)
	if err != nil {
		RespondError(c, err)
		return
	}
	RespondOK(c, res)
}

// POST /api/sessions/:id/stage2
// An empty body runs with the stored form.
func (h *SessionHandler) RunStage2(c *gin.Context) {
	var body fieldsBody
	if c.Request.ContentLength != 0 {
		if err := c.ShouldBindJSON(&body); err != nil {
			RespondBadRequest(c, err)
			return
		}
	}

	res, err := h.svc.RunStage2(c.Request.Context(), c.Param("id"), workflow.Stage2Request{Patch: body.Fields})
	if err != nil {
		RespondError(c, err)
		return
	}
	RespondOK(c, res)
}

// POST /api/sessions/:id/stage3
func (h *SessionHandler) RunStage3(c *gin.Context) {
	var body stage3Body
	if c.Request.ContentLength != 0 {
		if err := c.ShouldBindJSON(&body); err != nil {
			RespondBadRequest(c, err)
			return
		}
	}

	res, err := h.svc.RunStage3(c.Request.Context(), c.Param("id"), workflow.Stage3Request{NotebookContext: body.NotebookContext})
	if err != nil {
		RespondError(c, err)
		return
	}
	RespondOK(c, res)
}

// GET /api/sessions/:id/fields
func (h *SessionHandler) GetFields(c *gin.Context) {
	state, err := h.svc.Session(c.Request.Context(), c.Param("id"))
	if err != nil {
		RespondError(c, err)
		return
	}
	RespondOK(c, gin.H{"fields": state.Stage2Form})
}

// PATCH /api/sessions/:id/fields
func (h *SessionHandler) UpdateFields(c *gin.Context) {
	var body fieldsBody
	if err := c.ShouldBindJSON(&body); err != nil {
		RespondBadRequest(c, err)
		return
	}

	form, err := h.svc.UpdateFields(c.Request.Context(), c.Param("id"), body.Fields)
	if err != nil {
		RespondError(c, err)
		return
	}
	RespondOK(c, gin.H{"fields": form})
}

// GET /api/sessions/:id/runs
func (h *SessionHandler) Runs(c *gin.Context) {
	runs, err := h.svc.Runs(c.Request.Context(), c.Param("id"))
	if err != nil {
		RespondError(c, err)
		return
	}
	RespondOK(c, gin.H{"runs": runs})
}

// GET /api/sessions/:id/artifacts/documentation
func (h *SessionHandler) Documentation(c *gin.Context) {
	h.download(c, workflow.DocumentationArtifact)
}

// GET /api/sessions/:id/artifacts/notebook
func (h *SessionHandler) Notebook(c *gin.Context) {
	h.download(c, workflow.NotebookArtifact)
}

func (h *SessionHandler) download(c *gin.Context, pick func(*model.SessionState) (workflow.Artifact, error)) {
	state, err := h.svc.Session(c.Request.Context(), c.Param("id"))
	if err != nil {
		RespondError(c, err)
		return
	}
	a, err := pick(state)
	if err != nil {
		RespondError(c, err)
		return
	}
	c.Header("Content-Disposition", fmt.Sprintf("attachment; filename=%q", a.Filename))
	c.Data(http.StatusOK, a.ContentType, []byte(a.Content))
}
