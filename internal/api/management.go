package api

import (
	"encoding/json"
	"net/http"
	"sort"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/router-for-me/WebProxyAPI/internal/provider/grok"
)

// handleLogin validates admin credentials and issues a session cookie.
func (s *Server) handleLogin(c *gin.Context) {
	var body struct {
		Username string `json:"username"`
		Password string `json:"password"`
	}
	if err := c.ShouldBindJSON(&body); err != nil {
		errorJSON(c, http.StatusBadRequest, "invalid login body")
		return
	}
	if !s.cfg.CheckAdmin(body.Username, body.Password) {
		c.JSON(http.StatusUnauthorized, gin.H{"success": false, "message": "invalid credentials"})
		return
	}
	token := s.sessions.create()
	s.setSessionCookie(c, token, int(sessionTTL.Seconds()))
	c.JSON(http.StatusOK, gin.H{"success": true, "message": "ok"})
}

func (s *Server) handleLogout(c *gin.Context) {
	if token, err := c.Cookie(sessionCookie); err == nil {
		s.sessions.drop(token)
	}
	s.setSessionCookie(c, "", -1)
	c.JSON(http.StatusOK, gin.H{"success": true})
}

func (s *Server) handleCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"authenticated": true})
}

func (s *Server) handleProjectsList(c *gin.Context) {
	var projects []string
	for name, project := range s.cfg.Projects {
		if project.Enabled {
			projects = append(projects, name)
		}
	}
	sort.Strings(projects)
	if projects == nil {
		projects = []string{}
	}
	c.JSON(http.StatusOK, gin.H{"projects": projects})
}

// handleTokensList lists credential files. The Grok store is a single file,
// so its project reports the one synthetic name.
func (s *Server) handleTokensList(c *gin.Context) {
	project := c.Query("project")
	if project == "" {
		errorJSON(c, http.StatusBadRequest, "project required")
		return
	}
	if project == grok.Project {
		c.JSON(http.StatusOK, gin.H{"tokens": []string{grok.TokenFile}})
		return
	}
	tokens := s.cache.GetTokenList(project)
	if tokens == nil {
		tokens = []string{}
	}
	c.JSON(http.StatusOK, gin.H{"tokens": tokens})
}

func (s *Server) handleTokensGet(c *gin.Context) {
	project := c.Query("project")
	filename := c.Query("filename")
	if project == "" || filename == "" {
		errorJSON(c, http.StatusBadRequest, "project and filename required")
		return
	}
	data := s.cache.GetToken(project, filename)
	if data == nil {
		errorJSON(c, http.StatusNotFound, "token file not found")
		return
	}
	c.Data(http.StatusOK, "application/json", data)
}

// handleTokensAdd creates a credential. For Grok the payload names the inner
// map and the raw SSO value; other projects get a new file on disk.
func (s *Server) handleTokensAdd(c *gin.Context) {
	var body struct {
		Project string          `json:"project"`
		Type    string          `json:"type"`
		Data    json.RawMessage `json:"data"`
	}
	if err := c.ShouldBindJSON(&body); err != nil || body.Project == "" {
		errorJSON(c, http.StatusBadRequest, "invalid token body")
		return
	}

	if body.Project == grok.Project {
		if s.grok == nil {
			errorJSON(c, http.StatusBadRequest, "grok project is disabled")
			return
		}
		var sso string
		if err := json.Unmarshal(body.Data, &sso); err != nil || strings.TrimSpace(sso) == "" {
			errorJSON(c, http.StatusBadRequest, "data must be the sso token string")
			return
		}
		if err := s.grok.TokenStore().Add(body.Type, strings.TrimSpace(sso)); err != nil {
			errorJSON(c, http.StatusBadRequest, err.Error())
			return
		}
		c.JSON(http.StatusOK, gin.H{"success": true})
		return
	}

	if !json.Valid(body.Data) || len(body.Data) == 0 {
		errorJSON(c, http.StatusBadRequest, "data must be a JSON credential object")
		return
	}
	filename := uuid.NewString() + ".json"
	if err := s.cache.SaveToken(body.Project, filename, body.Data); err != nil {
		errorJSON(c, http.StatusInternalServerError, err.Error())
		return
	}
	s.refreshProject(body.Project)
	c.JSON(http.StatusOK, gin.H{"success": true, "filename": filename})
}

// handleTokensDelete removes a credential. For Grok this deletes one inner
// map entry; for file-backed projects it unlinks the file and drops the
// selector registration.
func (s *Server) handleTokensDelete(c *gin.Context) {
	var body struct {
		Project  string `json:"project"`
		Filename string `json:"filename"`
		Type     string `json:"type"`
		Token    string `json:"token"`
	}
	if err := c.ShouldBindJSON(&body); err != nil || body.Project == "" {
		errorJSON(c, http.StatusBadRequest, "invalid delete body")
		return
	}

	if body.Project == grok.Project {
		if s.grok == nil {
			errorJSON(c, http.StatusBadRequest, "grok project is disabled")
			return
		}
		found, err := s.grok.TokenStore().Delete(body.Type, body.Token)
		if err != nil {
			errorJSON(c, http.StatusBadRequest, err.Error())
			return
		}
		if !found {
			errorJSON(c, http.StatusNotFound, "token not found")
			return
		}
		c.JSON(http.StatusOK, gin.H{"success": true})
		return
	}

	if body.Filename == "" {
		errorJSON(c, http.StatusBadRequest, "filename required")
		return
	}
	if err := s.cache.DeleteToken(body.Project, body.Filename); err != nil {
		errorJSON(c, http.StatusInternalServerError, err.Error())
		return
	}
	if s.selector != nil {
		s.selector.Unregister(body.Filename)
	}
	s.refreshProject(body.Project)
	c.JSON(http.StatusOK, gin.H{"success": true})
}

// refreshProject re-registers the project's credentials with the selector.
func (s *Server) refreshProject(project string) {
	if project == "deepseek" && s.deepseek != nil {
		s.deepseek.RefreshCredentials()
	}
}

func (s *Server) handleCacheStats(c *gin.Context) {
	c.JSON(http.StatusOK, s.cache.Stats())
}
