package grok

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime"
	"net/http"

	"github.com/google/uuid"
	"github.com/tidwall/gjson"

	"github.com/router-for-me/WebProxyAPI/internal/registry"
	"github.com/router-for-me/WebProxyAPI/internal/translator"
)

const (
	uploadFilePath = "/rest/app-chat/upload-file"
	createPostPath = "/rest/app-chat/create-post"
)

// The upload endpoints want a JSON body but a text/plain content type; the
// browser client sends them that way and the server rejects application/json.
const uploadContentType = "text/plain;charset=UTF-8"

// uploadFile pushes base64 media to Grok and returns its file metadata id and
// URI.
func (c *client) uploadFile(ctx context.Context, sso string, image *translator.InlineData) (fileID, fileURI string, err error) {
	ext := ".png"
	if exts, _ := mime.ExtensionsByType(image.MimeType); len(exts) > 0 {
		ext = exts[len(exts)-1]
	}
	body, err := json.Marshal(map[string]any{
		"fileName":     uuid.NewString() + ext,
		"fileMimeType": image.MimeType,
		"content":      image.Data,
	})
	if err != nil {
		return "", "", err
	}
	result, err := c.postParsed(ctx, c.endpoint(uploadFilePath), body, sso)
	if err != nil {
		return "", "", err
	}
	fileID = result.Get("fileMetadataId").String()
	fileURI = result.Get("fileUri").String()
	if fileID == "" {
		return "", "", fmt.Errorf("grok: upload-file returned no fileMetadataId")
	}
	return fileID, fileURI, nil
}

// createPost wraps an uploaded file into a post, the precondition for video
// generation. It returns the post id used to build the reference URL.
func (c *client) createPost(ctx context.Context, sso, fileID, fileURI string) (string, error) {
	body, err := json.Marshal(map[string]any{
		"fileId":  fileID,
		"fileUri": fileURI,
	})
	if err != nil {
		return "", err
	}
	result, err := c.postParsed(ctx, c.endpoint(createPostPath), body, sso)
	if err != nil {
		return "", err
	}
	if !result.Get("success").Bool() {
		return "", fmt.Errorf("grok: create-post failed")
	}
	postID := result.Get("postId").String()
	if postID == "" {
		return "", fmt.Errorf("grok: create-post returned no postId")
	}
	return postID, nil
}

func (c *client) postParsed(ctx context.Context, rawURL string, body []byte, sso string) (gjson.Result, error) {
	resp, err := c.do(ctx, http.MethodPost, rawURL, body, sso, headerOptions{contentType: uploadContentType})
	if err != nil {
		return gjson.Result{}, err
	}
	defer func() { _ = resp.Body.Close() }()
	data, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return gjson.Result{}, err
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return gjson.Result{}, registry.NewStatusError(resp.StatusCode, "grok: %s returned %d: %s", rawURL, resp.StatusCode, truncate(data, 512))
	}
	return gjson.ParseBytes(data), nil
}

func truncate(data []byte, max int) string {
	if len(data) <= max {
		return string(data)
	}
	return string(data[:max]) + "..."
}
