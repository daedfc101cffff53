package server

import (
	"fmt"
	"html/template"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

type shareResponsePayload struct {
	NoteID   string `json:"note_id"`
	Token    string `json:"token"`
	ShareURL string `json:"share_url"`
}

func (h *httpHandler) handleIssueShare(c *gin.Context) {
	noteID, ok := noteIDParam(c)
	if !ok {
		return
	}
	token, err := h.sharing.Issue(c.Request.Context(), noteID)
	if err != nil {
		h.writeDomainError(c, err)
		return
	}
	c.JSON(http.StatusOK, shareResponsePayload{
		NoteID:   token.NoteID,
		Token:    token.Token,
		ShareURL: fmt.Sprintf("/share/%s", token.Token),
	})
}

type shareProjectionPayload struct {
	NoteID string   `json:"note_id"`
	Title  string   `json:"title"`
	Body   string   `json:"body"`
	Tags   []string `json:"tags"`
	Status string   `json:"status"`
}

func (h *httpHandler) handleResolveShare(c *gin.Context) {
	projection, err := h.sharing.Resolve(c.Request.Context(), c.Param("token"))
	if err != nil {
		h.writeDomainError(c, err)
		return
	}
	c.JSON(http.StatusOK, shareProjectionPayload{
		NoteID: projection.NoteID,
		Title:  projection.Title,
		Body:   projection.Body,
		Tags:   tagsOrEmpty(projection.Tags),
		Status: string(projection.Status),
	})
}

func (h *httpHandler) handleRevokeShare(c *gin.Context) {
	if err := h.sharing.Revoke(c.Request.Context(), c.Param("token")); err != nil {
		h.writeDomainError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"revoked": true})
}

var sharePageTemplate = template.Must(template.New("share").Parse(`<!doctype html>
<html>
<head>
<meta charset="utf-8">
<meta name="viewport" content="width=device-width,initial-scale=1">
<title>Shared Note</title>
<style>
body{font-family:system-ui,sans-serif;margin:0;background:#f5f7fb;color:#0f172a}
main{max-width:760px;margin:40px auto;padding:0 16px}
article{background:#fff;border:1px solid #d9e2ec;border-radius:14px;padding:20px;box-shadow:0 8px 20px rgba(15,23,42,.08)}
h1{margin:0 0 6px}
.meta{color:#4b5563;font-size:13px;margin-bottom:16px}
.body{white-space:pre-wrap;line-height:1.5}
</style>
</head>
<body>
<main><article>
<h1>{{.Title}}</h1>
<p class="meta">Tags: {{.TagLine}} | Shared read-only</p>
<div class="body">{{.Body}}</div>
</article></main>
</body>
</html>
`))

type sharePageData struct {
	Title   string
	Body    string
	TagLine string
}

func (h *httpHandler) handleSharePage(c *gin.Context) {
	projection, err := h.sharing.Resolve(c.Request.Context(), c.Param("token"))
	if err != nil {
		h.writeDomainError(c, err)
		return
	}

	tagLine := "none"
	if len(projection.Tags) > 0 {
		tagLine = ""
		for index, tag := range projection.Tags {
			if index > 0 {
				tagLine += ", "
			}
			tagLine += tag
		}
	}

	c.Status(http.StatusOK)
	c.Header("Content-Type", "text/html; charset=utf-8")
	if err := sharePageTemplate.Execute(c.Writer, sharePageData{
		Title:   projection.Title,
		Body:    projection.Body,
		TagLine: tagLine,
	}); err != nil {
		h.logger.Error("rendering share page failed", zap.Error(err))
	}
}
