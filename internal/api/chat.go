package api

import (
	"io"
	"net/http"

	"github.com/gin-gonic/gin"
	log "github.com/sirupsen/logrus"

	"github.com/router-for-me/WebProxyAPI/internal/registry"
	"github.com/router-for-me/WebProxyAPI/internal/translator"
)

func errorJSON(c *gin.Context, status int, message string) {
	c.JSON(status, gin.H{"error": gin.H{"message": message, "type": "api_error", "code": status}})
}

func writeAdapterError(c *gin.Context, err error) {
	errorJSON(c, registry.StatusCodeOf(err), err.Error())
}

// dispatch looks the adapter up and runs the request. The caller owns the
// returned result and must Close it.
func (s *Server) dispatch(c *gin.Context, request *translator.MiddleContent) (*registry.Result, bool) {
	adapter, ok := s.registry.Lookup(request.Model)
	if !ok {
		errorJSON(c, http.StatusBadRequest, "unknown model "+request.Model)
		return nil, false
	}
	result, err := adapter.Handle(c.Request.Context(), s.callerKey(c), request)
	if err != nil {
		writeAdapterError(c, err)
		return nil, false
	}
	return result, true
}

func sseHeaders(c *gin.Context) {
	c.Header("Content-Type", "text/event-stream")
	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")
	c.Header("X-Accel-Buffering", "no")
}

// streamVerbatim copies the adapter's OpenAI SSE bytes to the client,
// flushing after every read so deltas arrive as they are produced.
func streamVerbatim(c *gin.Context, stream io.Reader) {
	sseHeaders(c)
	flusher, _ := c.Writer.(http.Flusher)
	buf := make([]byte, 32*1024)
	for {
		n, err := stream.Read(buf)
		if n > 0 {
			if _, errWrite := c.Writer.Write(buf[:n]); errWrite != nil {
				return
			}
			if flusher != nil {
				flusher.Flush()
			}
		}
		if err != nil {
			if err != io.EOF {
				log.Debugf("api: stream copy ended: %v", err)
			}
			return
		}
	}
}

// handleListModels serves the merged model catalog.
func (s *Server) handleListModels(c *gin.Context) {
	entries := s.registry.Models()
	data := make([]gin.H, 0, len(entries))
	for _, entry := range entries {
		data = append(data, gin.H{
			"id":       entry.ID,
			"object":   "model",
			"created":  entry.CreatedAt.Unix(),
			"owned_by": entry.OwnerTag,
		})
	}
	c.JSON(http.StatusOK, gin.H{"object": "list", "data": data})
}

// handleOpenAIChat serves POST /v1/chat/completions.
func (s *Server) handleOpenAIChat(c *gin.Context) {
	body, err := io.ReadAll(c.Request.Body)
	if err != nil {
		errorJSON(c, http.StatusBadRequest, "unreadable body")
		return
	}
	request, err := translator.ParseOpenAIRequest(body)
	if err != nil {
		errorJSON(c, http.StatusBadRequest, err.Error())
		return
	}
	result, ok := s.dispatch(c, request)
	if !ok {
		return
	}
	defer result.Close()

	if request.Stream {
		streamVerbatim(c, result.Stream)
		return
	}
	completion, err := translator.AggregateOpenAIStream(result.Stream)
	if err != nil {
		errorJSON(c, http.StatusInternalServerError, err.Error())
		return
	}
	c.Data(http.StatusOK, "application/json", completion)
}
