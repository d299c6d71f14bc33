package web

import (
	"context"
	"io"

	"github.com/redmage123/course-creator-sub023/internal/lab"
	"github.com/redmage123/course-creator-sub023/pkg/api"
)

// LabManager defines the interface for lab lifecycle management
type LabManager interface {
	CreateLab(ctx context.Context, owner lab.OwnerKey, ide api.IDEType) (*api.Lab, error)
	GetLab(id string) (*api.Lab, error)
	DeleteLab(ctx context.Context, id string) error
	ListLabs(filter lab.Filter) []*api.Lab
	Touch(id string) error
	ActiveCount() int
}

// WorkspaceGateway defines the interface for workspace file access
type WorkspaceGateway interface {
	ListFiles(labID string) ([]api.FileInfo, error)
	OpenFile(labID, relPath string) (io.ReadCloser, int64, error)
	WriteZip(labID string, w io.Writer) error
}
