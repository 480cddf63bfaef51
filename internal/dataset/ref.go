// Package dataset resolves GEO-style dataset references for an analysis run.
package dataset

// Ref describes one resolved dataset. Identity is ID; resolution
// deduplicates by ID and downstream stages treat Refs as read-only.
type Ref struct {
	ID          string `json:"id"`
	Title       string `json:"title,omitempty"`
	Source      string `json:"source,omitempty"`
	Organism    string `json:"organism,omitempty"`
	Samples     int    `json:"samples,omitempty"`
	Platform    string `json:"platform,omitempty"`
	Description string `json:"description,omitempty"`
	URL         string `json:"url,omitempty"`

	// Local datasets selected by the user instead of discovered remotely.
	LocalPath        string `json:"local_path,omitempty"`
	IsLocalDirectory bool   `json:"is_local_directory,omitempty"`
}

// Progress reports dataset-search progress to the UI layer.
type Progress struct {
	Message       string `json:"message"`
	Progress      int    `json:"progress"` // 0-100
	Step          string `json:"step"`
	DatasetsFound int    `json:"datasets_found,omitempty"`
	CurrentTerm   string `json:"current_term,omitempty"`
}

// ProgressFunc receives search progress updates. May be nil.
type ProgressFunc func(Progress)
