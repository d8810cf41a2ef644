// render.go produces the HTML documents of the pip "simple" protocol
// (PEP 503), with the metadata-sidecar attributes of PEP 658/714 and the
// yank attribute of PEP 592. pip parses these pages leniently, but the
// attribute vocabulary and the sha256 fragment format are contractual.
package index

import (
	"bytes"
	"fmt"
	"html/template"
	"sort"
)

var simpleIndexTmpl = template.Must(template.New("simple-index").Parse(`<!DOCTYPE html>
<html>
  <head>
    <meta name="pypi:repository-version" content="1.0">
    <title>Simple index</title>
  </head>
  <body>
{{- range .}}
    <a href="/simple/{{.}}/">{{.}}</a><br/>
{{- end}}
  </body>
</html>
`))

var projectPageTmpl = template.Must(template.New("project-page").Parse(`<!DOCTYPE html>
<html>
  <head>
    <meta name="pypi:repository-version" content="1.0">
    <title>Links for {{.Name}}</title>
  </head>
  <body>
    <h1>Links for {{.Name}}</h1>
{{- range .Files}}
    <a href="{{.Href}}"{{if .RequiresPython}} data-requires-python="{{.RequiresPython}}"{{end}}{{if .MetadataDigest}} data-dist-info-metadata="{{.MetadataDigest}}" data-core-metadata="{{.MetadataDigest}}"{{end}}{{if .HasSignature}} data-gpg-sig="true"{{end}}{{if .Yanked}} data-yanked="{{.YankedReason}}"{{end}}>{{.Filename}}</a><br/>
{{- end}}
  </body>
</html>
`))

// fileLink is the template view of one anchor on a project page.
type fileLink struct {
	Filename       string
	Href           string
	RequiresPython string
	MetadataDigest string
	HasSignature   bool
	Yanked         bool
	YankedReason   string
}

type projectPage struct {
	Name  string
	Files []fileLink
}

// RenderSimpleIndex renders the root index page: one anchor per project,
// canonical name, trailing-slash href.
func (ix *Index) RenderSimpleIndex() (string, error) {
	var buf bytes.Buffer
	if err := simpleIndexTmpl.Execute(&buf, ix.ListPackages()); err != nil {
		return "", fmt.Errorf("failed to render simple index: %w", err)
	}
	return buf.String(), nil
}

// RenderProjectPage renders the project's file list: one anchor per file with
// the sha256 fragment on the href, ordered by version ascending and filename
// within a version.
func (ix *Index) RenderProjectPage(name string) (string, error) {
	pkg, err := ix.Project(name)
	if err != nil {
		return "", err
	}

	page := projectPage{Name: pkg.Name}
	for _, version := range pkg.sortedVersions() {
		rel := pkg.Releases[version]

		files := make([]*File, len(rel.Files))
		copy(files, rel.Files)
		sort.Slice(files, func(i, j int) bool {
			return files[i].Filename < files[j].Filename
		})

		for _, f := range files {
			link := fileLink{
				Filename:       f.Filename,
				Href:           "/packages/" + f.Filename + "#sha256=" + f.SHA256,
				RequiresPython: f.RequiresPython,
				HasSignature:   f.HasSignature,
				Yanked:         f.Yanked,
				YankedReason:   f.YankedReason,
			}
			if f.MetadataSHA256 != "" {
				link.MetadataDigest = "sha256=" + f.MetadataSHA256
			}
			page.Files = append(page.Files, link)
		}
	}

	var buf bytes.Buffer
	if err := projectPageTmpl.Execute(&buf, page); err != nil {
		return "", fmt.Errorf("failed to render project page: %w", err)
	}
	return buf.String(), nil
}
