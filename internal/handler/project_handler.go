package handler

import (
	"io"
	"mime/multipart"
	"os"
	"path/filepath"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/xxxsen/codelens/internal/ingest"
	"github.com/xxxsen/codelens/internal/model"
	"github.com/xxxsen/codelens/internal/pkg/errcode"
	"github.com/xxxsen/codelens/internal/pkg/response"
	"github.com/xxxsen/codelens/internal/service"
)

type ProjectHandler struct {
	projects       *service.ProjectService
	maxArchiveSize int64
}

func NewProjectHandler(projects *service.ProjectService, maxArchiveSize int64) *ProjectHandler {
	return &ProjectHandler{projects: projects, maxArchiveSize: maxArchiveSize}
}

type githubIngestRequest struct {
	Name        string `json:"name"`
	Description string `json:"description"`
	RepoURL     string `json:"repo_url"`
}

// Upload accepts a multipart form with a zip archive and registers a new
// project. The response carries the project in the ingesting state; callers
// poll Get until it reaches ready or failed.
func (h *ProjectHandler) Upload(c *gin.Context) {
	name := strings.TrimSpace(c.PostForm("name"))
	if name == "" {
		response.Error(c, errcode.ErrInvalid, "name is required")
		return
	}
	file, err := c.FormFile("file")
	if err != nil {
		response.Error(c, errcode.ErrInvalidFile, "file is required")
		return
	}
	if h.maxArchiveSize > 0 && file.Size > h.maxArchiveSize {
		response.Error(c, errcode.ErrTreeTooLarge, "archive too large")
		return
	}
	if !strings.EqualFold(filepath.Ext(file.Filename), ".zip") {
		response.Error(c, errcode.ErrInvalidFile, "only zip archives are supported")
		return
	}
	tempPath, err := saveTempArchive(file)
	if err != nil {
		response.Error(c, errcode.ErrInvalidFile, "failed to read file")
		return
	}
	defer os.Remove(tempPath)

	project, err := h.projects.Ingest(c.Request.Context(), getUserID(c), name, c.PostForm("description"),
		ingest.SourceDescriptor{Type: model.SourceTypeUpload, ArchivePath: tempPath})
	if err != nil {
		handleError(c, err)
		return
	}
	response.Success(c, project)
}

// Github registers a project backed by a public repository URL.
func (h *ProjectHandler) Github(c *gin.Context) {
	var req githubIngestRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, errcode.ErrInvalid, "invalid request")
		return
	}
	url := strings.TrimSpace(req.RepoURL)
	if !strings.HasPrefix(url, "https://") && !strings.HasPrefix(url, "http://") {
		response.Error(c, errcode.ErrInvalid, "repo_url must be an http(s) url")
		return
	}
	project, err := h.projects.Ingest(c.Request.Context(), getUserID(c), req.Name, req.Description,
		ingest.SourceDescriptor{Type: model.SourceTypeGithub, RepoURL: url})
	if err != nil {
		handleError(c, err)
		return
	}
	response.Success(c, project)
}

func (h *ProjectHandler) List(c *gin.Context) {
	projects, err := h.projects.List(c.Request.Context(), getUserID(c))
	if err != nil {
		handleError(c, err)
		return
	}
	response.Success(c, gin.H{"items": projects})
}

func (h *ProjectHandler) Get(c *gin.Context) {
	project, err := h.projects.Get(c.Request.Context(), getUserID(c), c.Param("id"))
	if err != nil {
		handleError(c, err)
		return
	}
	response.Success(c, project)
}

func (h *ProjectHandler) Reingest(c *gin.Context) {
	project, err := h.projects.Reingest(c.Request.Context(), getUserID(c), c.Param("id"))
	if err != nil {
		handleError(c, err)
		return
	}
	response.Success(c, project)
}

func (h *ProjectHandler) Delete(c *gin.Context) {
	if err := h.projects.Delete(c.Request.Context(), getUserID(c), c.Param("id")); err != nil {
		handleError(c, err)
		return
	}
	response.Success(c, gin.H{"deleted": true})
}

func saveTempArchive(header *multipart.FileHeader) (string, error) {
	src, err := header.Open()
	if err != nil {
		return "", err
	}
	defer src.Close()
	temp, err := os.CreateTemp("", "codelens-upload-*.zip")
	if err != nil {
		return "", err
	}
	if _, err := io.Copy(temp, src); err != nil {
		temp.Close()
		os.Remove(temp.Name())
		return "", err
	}
	if err := temp.Close(); err != nil {
		os.Remove(temp.Name())
		return "", err
	}
	return temp.Name(), nil
}
