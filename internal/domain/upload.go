package domain

// UploadStatus is the phase of an in-flight upload.
type UploadStatus string

const (
	UploadPreparing UploadStatus = "preparing"
	UploadUploading UploadStatus = "uploading"
	UploadComplete  UploadStatus = "complete"
)

// UploadProgress is the transient record of the one upload a tab may run.
type UploadProgress struct {
	FileHash   string       `json:"fileHash,omitempty"`
	FileName   string       `json:"fileName,omitempty"`
	Progress   int          `json:"progress"`
	IsComplete bool         `json:"isComplete"`
	Status     UploadStatus `json:"status,omitempty"`
}
