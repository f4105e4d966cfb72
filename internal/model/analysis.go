package model

const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Turn is one prior conversation message supplied by the caller. codelens
// never stores turns itself; the conversation store is an external concern.
type Turn struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// AnalysisResult is the grounded answer for a single question. RelevantFiles
// is derived from the chunks packed into the prompt, not parsed from the
// model's text.
type AnalysisResult struct {
	Reply         string   `json:"reply"`
	RelevantFiles []string `json:"relevant_files"`
}
