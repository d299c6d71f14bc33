package api

import "time"

// LabStatus represents the lifecycle status of a lab environment
type LabStatus string

const (
	// LabRequested indicates the lab has been registered but provisioning has not started
	LabRequested LabStatus = "requested"
	// LabProvisioning indicates ports are being allocated and the container is being created
	LabProvisioning LabStatus = "provisioning"
	// LabRunning indicates the lab container is up and its IDE surfaces are reachable
	LabRunning LabStatus = "running"
	// LabIdleStopped indicates the lab was stopped after exceeding the idle timeout
	LabIdleStopped LabStatus = "idle_stopped"
	// LabError indicates the lab container crashed or provisioning failed
	LabError LabStatus = "error"
	// LabDeleted indicates the lab has been torn down
	LabDeleted LabStatus = "deleted"
)

// IDEType identifies an interactive development surface exposed by a lab
type IDEType string

const (
	// IDEEditor is the browser code editor surface
	IDEEditor IDEType = "editor"
	// IDENotebook is the notebook server surface
	IDENotebook IDEType = "notebook"
	// IDETerminal is the browser terminal surface
	IDETerminal IDEType = "terminal"
	// IDEJetBrains is the JetBrains-class IDE surface
	IDEJetBrains IDEType = "jetbrains"
)

// Endpoint represents the host-side binding of one IDE surface
type Endpoint struct {
	HostPort int    `json:"host_port"`
	URL      string `json:"url"`
}

// ResourceSpec represents resource limits applied to a lab container
type ResourceSpec struct {
	CPU    float64 `json:"cpu"`
	Memory int64   `json:"memory"`
}

// Lab represents a provisioned lab environment as exposed by the API
type Lab struct {
	ID             string               `json:"lab_id"`
	StudentID      string               `json:"student_id"`
	CourseID       string               `json:"course_id"`
	Status         LabStatus            `json:"status"`
	ContainerID    string               `json:"container_id,omitempty"`
	Endpoints      map[IDEType]Endpoint `json:"ide_endpoints"`
	CreatedAt      time.Time            `json:"created_at"`
	LastAccessedAt time.Time            `json:"last_accessed_at"`
	Resources      ResourceSpec         `json:"resources"`
}

// CreateLabRequest is the request body for creating a student lab
type CreateLabRequest struct {
	StudentID string  `json:"student_id" binding:"required"`
	CourseID  string  `json:"course_id" binding:"required"`
	IDEType   IDEType `json:"ide_type"`
}

// FileInfo describes one entry in a lab workspace listing
type FileInfo struct {
	Path    string    `json:"path"`
	Size    int64     `json:"size"`
	ModTime time.Time `json:"mod_time"`
	IsDir   bool      `json:"is_dir"`
}

// HealthResponse is the response body for the health endpoint
type HealthResponse struct {
	Status     string `json:"status"`
	ActiveLabs int    `json:"active_labs_count"`
}

// ErrorResponse represents an error response
type ErrorResponse struct {
	Error   string `json:"error"`
	Code    int    `json:"code"`
	Message string `json:"message"`
}
