package filepicker

import "github.com/ondrasimku/filepicker-go/internal/domain"

type RemovalReason string

const (
	RemovedByUser RemovalReason = "removed-by-user"
	CancelAll     RemovalReason = "cancel-all"
)

// Event is one of FilesAdded, FileRemoved or UploadTriggered.
type Event interface {
	EventName() string
}

type FilesAdded struct {
	Files []domain.RawFile
}

type FileRemoved struct {
	File   domain.RawFile
	Reason RemovalReason
}

type UploadTriggered struct{}

func (FilesAdded) EventName() string      { return "files-added" }
func (FileRemoved) EventName() string     { return "file-removed" }
func (UploadTriggered) EventName() string { return "upload" }
