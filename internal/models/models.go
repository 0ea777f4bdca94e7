package models

// WorkItem represents a video to be processed
type WorkItem struct {
	VideoPath string
	Index     int
	Total     int
}

// CatalogEntry is the bookkeeping record of one video in the dataset
type CatalogEntry struct {
	Path        string    `json:"path"`
	LabelName   string    `json:"label_name"`
	Label       []int     `json:"label"`
	Frames      int       `json:"source_frames"`
	Fingerprint []float32 `json:"fingerprint,omitempty"`
}

// SimilarVideo is a catalog search hit
type SimilarVideo struct {
	Path       string
	LabelName  string
	Similarity float64
}
