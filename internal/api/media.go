package api

import (
	"net/http"
	"path/filepath"
	"strings"

	"github.com/gin-gonic/gin"
)

// handleMedia streams a cached media file. File names are flat (slashes were
// replaced on cache), so any traversal characters are hostile and stripped.
func (s *Server) handleMedia(c *gin.Context) {
	if s.grok == nil {
		errorJSON(c, http.StatusNotFound, "media cache not available")
		return
	}
	var dir string
	switch c.Param("kind") {
	case "image":
		dir = s.grok.ImageCache().Dir()
	case "video":
		dir = s.grok.VideoCache().Dir()
	default:
		errorJSON(c, http.StatusNotFound, "unknown media kind")
		return
	}
	name := strings.ReplaceAll(c.Param("file"), "..", "")
	name = strings.Trim(filepath.Base(name), "/\\")
	if name == "" || name == "." {
		errorJSON(c, http.StatusBadRequest, "invalid file name")
		return
	}
	c.File(filepath.Join(dir, name))
}
