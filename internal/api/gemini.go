package api

import (
	"io"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/router-for-me/WebProxyAPI/internal/translator"
)

// handleGemini serves POST /v1beta/models/{model}:generateContent and
// :streamGenerateContent. The model and action share one path segment.
func (s *Server) handleGemini(c *gin.Context) {
	modelAction := c.Param("modelAction")
	model, action, found := strings.Cut(modelAction, ":")
	if !found || model == "" {
		errorJSON(c, http.StatusBadRequest, "expected {model}:generateContent")
		return
	}
	var stream bool
	switch action {
	case "generateContent":
	case "streamGenerateContent":
		stream = true
	default:
		errorJSON(c, http.StatusNotFound, "unknown action "+action)
		return
	}

	body, err := io.ReadAll(c.Request.Body)
	if err != nil {
		errorJSON(c, http.StatusBadRequest, "unreadable body")
		return
	}
	request, err := translator.ParseGeminiRequest(model, body, stream)
	if err != nil {
		errorJSON(c, http.StatusBadRequest, err.Error())
		return
	}
	result, ok := s.dispatch(c, request)
	if !ok {
		return
	}
	defer result.Close()

	if !stream {
		completion, errAgg := translator.AggregateOpenAIStream(result.Stream)
		if errAgg != nil {
			errorJSON(c, http.StatusInternalServerError, errAgg.Error())
			return
		}
		c.Data(http.StatusOK, "application/json", translator.ConvertOpenAICompletionToGemini(completion))
		return
	}

	sseHeaders(c)
	flusher, _ := c.Writer.(http.Flusher)
	_ = translator.ScanSSEPayloads(result.Stream, func(payload []byte) bool {
		frame := translator.RewrapOpenAIChunkToGemini(payload)
		if frame == nil {
			return true
		}
		if _, errWrite := c.Writer.Write(translator.SSEFrame(frame)); errWrite != nil {
			return false
		}
		if flusher != nil {
			flusher.Flush()
		}
		return true
	})
}
