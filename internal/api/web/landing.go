// Package web serves the human-facing landing page. Everything machines
// consume lives under /simple/ and /api/v1/; this page exists so that a
// person opening the registry URL in a browser sees what it is and how to
// point pip at it.
package web

import (
	"bytes"
	"html/template"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/pratikychavan/PyPI-clone/internal/config"
	"github.com/pratikychavan/PyPI-clone/internal/index"
)

const contentTypeHTML = "text/html; charset=utf-8"

var landingTmpl = template.Must(template.New("landing").Parse(`<!DOCTYPE html>
<html>
  <head>
    <title>Python Package Registry</title>
    <style>
      body { font-family: sans-serif; max-width: 46rem; margin: 3rem auto; padding: 0 1rem; color: #222; }
      code, pre { background: #f4f4f4; border-radius: 4px; }
      code { padding: 0.1rem 0.3rem; }
      pre { padding: 0.8rem; overflow-x: auto; }
      .stats { color: #555; }
    </style>
  </head>
  <body>
    <h1>Python Package Registry</h1>
    <p class="stats">{{.Packages}} packages, {{.Files}} files.</p>
    <h2>Installing</h2>
    <pre>pip install --index-url {{.PublicURL}}/simple/ &lt;package&gt;</pre>
    <p>Or make it permanent in <code>pip.conf</code>:</p>
    <pre>[global]
index-url = {{.PublicURL}}/simple/</pre>
    <h2>Publishing</h2>
    <pre>twine upload --repository-url {{.PublicURL}}/upload dist/*</pre>
    <p>Uploads need an upload token; create one through the API and use
    <code>__token__</code> as the username.</p>
    <p><a href="/simple/">Browse the package index</a></p>
  </body>
</html>
`))

// landingData is the template view of the landing page.
type landingData struct {
	Packages  int
	Files     int
	PublicURL string
}

// Handler serves the landing page.
type Handler struct {
	cfg *config.Config
	ix  *index.Index
}

// NewHandler creates a landing page handler.
func NewHandler(cfg *config.Config, ix *index.Index) *Handler {
	return &Handler{cfg: cfg, ix: ix}
}

// @Summary      Landing page
// @Description  Human-facing front page: registry size and the pip/twine configuration pointing at this instance.
// @Tags         Web
// @Produce      html
// @Success      200  {string}  string  "HTML landing page"
// @Router       / [get]
// Landing serves GET /
func (h *Handler) Landing(c *gin.Context) {
	stats := h.ix.Stats()
	data := landingData{
		Packages:  stats.Packages,
		Files:     stats.Files,
		PublicURL: h.cfg.Server.GetPublicURL(),
	}

	var buf bytes.Buffer
	if err := landingTmpl.Execute(&buf, data); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"error": "Failed to render landing page",
		})
		return
	}
	c.Data(http.StatusOK, contentTypeHTML, buf.Bytes())
}
