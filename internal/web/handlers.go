package web

import (
	"errors"
	"fmt"
	"net/http"
	"path"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/redmage123/course-creator-sub023/internal/lab"
	"github.com/redmage123/course-creator-sub023/pkg/api"
)

// createLabHandler handles POST /labs/student
func (s *Server) createLabHandler(c *gin.Context) {
	var req api.CreateLabRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, fmt.Errorf("%w: %v", lab.ErrInvalidRequest, err))
		return
	}

	owner := lab.OwnerKey{StudentID: req.StudentID, CourseID: req.CourseID}
	created, err := s.labs.CreateLab(c.Request.Context(), owner, req.IDEType)
	if err != nil {
		writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, created)
}

// listLabsHandler handles GET /labs
func (s *Server) listLabsHandler(c *gin.Context) {
	filter := lab.Filter{
		StudentID: c.Query("student_id"),
		CourseID:  c.Query("course_id"),
		Status:    api.LabStatus(c.Query("status")),
	}

	labs := s.labs.ListLabs(filter)
	c.JSON(http.StatusOK, gin.H{"labs": labs, "count": len(labs)})
}

// getLabHandler handles GET /labs/:lab_id
func (s *Server) getLabHandler(c *gin.Context) {
	found, err := s.labs.GetLab(c.Param("lab_id"))
	if err != nil {
		writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, found)
}

// deleteLabHandler handles DELETE /labs/:lab_id. Deleting an unknown or
// already-deleted lab returns 200 so clients can retry safely.
func (s *Server) deleteLabHandler(c *gin.Context) {
	labID := c.Param("lab_id")
	if err := s.labs.DeleteLab(c.Request.Context(), labID); err != nil && !errors.Is(err, lab.ErrNotFound) {
		writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"lab_id": labID, "status": api.LabDeleted})
}

// heartbeatHandler handles POST /labs/:lab_id/heartbeat
func (s *Server) heartbeatHandler(c *gin.Context) {
	if err := s.labs.Touch(c.Param("lab_id")); err != nil {
		writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"lab_id": c.Param("lab_id")})
}

// listFilesHandler handles GET /labs/:lab_id/files
func (s *Server) listFilesHandler(c *gin.Context) {
	files, err := s.workspace.ListFiles(c.Param("lab_id"))
	if err != nil {
		writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"files": files, "count": len(files)})
}

// downloadFileHandler handles GET /labs/:lab_id/download/*path
func (s *Server) downloadFileHandler(c *gin.Context) {
	relPath := strings.TrimPrefix(c.Param("path"), "/")

	reader, size, err := s.workspace.OpenFile(c.Param("lab_id"), relPath)
	if err != nil {
		writeError(c, err)
		return
	}
	defer reader.Close()

	c.Header("Content-Disposition", fmt.Sprintf("attachment; filename=%q", path.Base(relPath)))
	c.DataFromReader(http.StatusOK, size, "application/octet-stream", reader, nil)
}

// downloadWorkspaceHandler handles GET /labs/:lab_id/download-workspace,
// streaming the archive instead of buffering it
func (s *Server) downloadWorkspaceHandler(c *gin.Context) {
	labID := c.Param("lab_id")

	// Resolve the lab before committing response headers. The workspace
	// volume is only reachable while the lab is running or idle-stopped;
	// anything else is not found, never a 200 with a broken archive.
	found, err := s.labs.GetLab(labID)
	if err != nil {
		writeError(c, err)
		return
	}
	if found.Status != api.LabRunning && found.Status != api.LabIdleStopped {
		writeError(c, lab.ErrNotFound)
		return
	}

	c.Header("Content-Type", "application/zip")
	c.Header("Content-Disposition", fmt.Sprintf("attachment; filename=%q", "workspace-"+labID+".zip"))
	c.Status(http.StatusOK)

	if err := s.workspace.WriteZip(labID, c.Writer); err != nil {
		s.logger.Errorf("Workspace zip stream for lab %s failed: %v", labID, err)
	}
}

// healthHandler handles GET /health
func (s *Server) healthHandler(c *gin.Context) {
	c.JSON(http.StatusOK, api.HealthResponse{
		Status:     "healthy",
		ActiveLabs: s.labs.ActiveCount(),
	})
}

