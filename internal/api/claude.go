package api

import (
	"io"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/router-for-me/WebProxyAPI/internal/translator"
)

// handleClaudeMessages serves POST /v1/messages in the Anthropic shape.
func (s *Server) handleClaudeMessages(c *gin.Context) {
	body, err := io.ReadAll(c.Request.Body)
	if err != nil {
		errorJSON(c, http.StatusBadRequest, "unreadable body")
		return
	}
	request, err := translator.ParseClaudeRequest(body)
	if err != nil {
		errorJSON(c, http.StatusBadRequest, err.Error())
		return
	}
	result, ok := s.dispatch(c, request)
	if !ok {
		return
	}
	defer result.Close()

	if !request.Stream {
		completion, errAgg := translator.AggregateOpenAIStream(result.Stream)
		if errAgg != nil {
			errorJSON(c, http.StatusInternalServerError, errAgg.Error())
			return
		}
		c.Data(http.StatusOK, "application/json", translator.ConvertOpenAICompletionToClaude(completion))
		return
	}

	sseHeaders(c)
	flusher, _ := c.Writer.(http.Flusher)
	rewrapper := translator.NewClaudeStreamRewrapper(request.Model)
	_ = translator.ScanSSEPayloads(result.Stream, func(payload []byte) bool {
		for _, frame := range rewrapper.Next(payload) {
			if _, errWrite := c.Writer.Write(frame); errWrite != nil {
				return false
			}
		}
		if flusher != nil {
			flusher.Flush()
		}
		return true
	})
}
