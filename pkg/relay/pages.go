package relay

import (
	"embed"
	"html/template"
	"io"

	"github.com/labstack/echo/v4"
)

//go:embed templates/*.html
var templatesFS embed.FS

const (
	pageSuccess    = "success.html"
	pageFailed     = "failed.html"
	pageGone       = "gone.html"
	pageRegistered = "registered.html"
)

// Template renders the browser-facing callback pages.
type Template struct {
	templates *template.Template
}

func NewTemplate() *Template {
	return &Template{
		templates: template.Must(template.ParseFS(templatesFS, "templates/*.html")),
	}
}

func (t *Template) Render(w io.Writer, name string, data interface{}, c echo.Context) error {
	return t.templates.ExecuteTemplate(w, name, data)
}
