package model

const (
	SourceTypeUpload = "upload"
	SourceTypeGithub = "github"
)

const (
	ProjectStateIngesting = "ingesting"
	ProjectStateReady     = "ready"
	ProjectStateFailed    = "failed"
	ProjectStateDeleting  = "deleting"
)

type Project struct {
	ID            string `json:"id"`
	UserID        string `json:"user_id"`
	Name          string `json:"name"`
	Description   string `json:"description"`
	SourceType    string `json:"source_type"`
	SourceURL     string `json:"source_url,omitempty"`
	State         string `json:"state"`
	FailureReason string `json:"failure_reason,omitempty"`
	EmbedModel    string `json:"embed_model,omitempty"`
	EmbedDim      int    `json:"embed_dim,omitempty"`
	FileCount     int    `json:"file_count"`
	ChunkCount    int    `json:"chunk_count"`
	SkippedFiles  int    `json:"skipped_files"`
	Ctime         int64  `json:"ctime"`
	Mtime         int64  `json:"mtime"`
}

// Terminal reports whether the project is in a state that permits a new
// ingestion run.
func (p *Project) Terminal() bool {
	return p.State == ProjectStateReady || p.State == ProjectStateFailed
}
