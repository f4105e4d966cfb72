package model

// Chunk is a bounded slice of one source file, addressable by rune offsets
// into the decoded content. (ProjectID, FilePath, ChunkIndex) is unique
// within the index.
type Chunk struct {
	ProjectID   string    `json:"project_id"`
	FilePath    string    `json:"file_path"`
	Extension   string    `json:"extension"`
	ChunkIndex  int       `json:"chunk_index"`
	StartOffset int       `json:"start_offset"`
	EndOffset   int       `json:"end_offset"`
	Content     string    `json:"content"`
	Embedding   []float32 `json:"-"`
	Ctime       int64     `json:"ctime"`
}

// RetrievedChunk is a chunk returned by a nearest-neighbor search together
// with its cosine similarity to the query.
type RetrievedChunk struct {
	Chunk
	Score float32 `json:"score"`
}
