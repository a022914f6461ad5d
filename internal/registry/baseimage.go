package registry

import (
	"bytes"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/ast"
	"github.com/yuin/goldmark/text"

	"github.com/capsules-dev/capsules/internal/errors"
)

// BaseImage is a buildable recipe: a directory holding a Dockerfile.
type BaseImage struct {
	Name        string `json:"name" yaml:"name"`
	Dir         string `json:"dir" yaml:"dir"`
	Description string `json:"description,omitempty" yaml:"description,omitempty"`
}

// BaseImages lists every recipe under the base images directory, sorted.
func (r *Registry) BaseImages() ([]BaseImage, error) {
	entries, err := os.ReadDir(r.baseImagesDir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, errors.NewInternal(err)
	}

	var images []BaseImage
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		dir := filepath.Join(r.baseImagesDir, e.Name())
		if _, err := os.Stat(filepath.Join(dir, "Dockerfile")); err != nil {
			continue
		}
		images = append(images, BaseImage{
			Name:        e.Name(),
			Dir:         dir,
			Description: readmeSummary(filepath.Join(dir, "README.md")),
		})
	}
	sort.Slice(images, func(i, j int) bool { return images[i].Name < images[j].Name })
	return images, nil
}

// LookupBaseImage resolves a recipe by name.
func (r *Registry) LookupBaseImage(name string) (*BaseImage, error) {
	images, err := r.BaseImages()
	if err != nil {
		return nil, err
	}
	available := make([]string, 0, len(images))
	for i := range images {
		if images[i].Name == name {
			return &images[i], nil
		}
		available = append(available, images[i].Name)
	}
	return nil, errors.NewUnknownBaseImage(name, available)
}

// readmeSummary returns the plain text of the first paragraph of a markdown
// file, or "" if there is none.
func readmeSummary(path string) string {
	src, err := os.ReadFile(path)
	if err != nil {
		return ""
	}
	return firstParagraph(src)
}

func firstParagraph(src []byte) string {
	doc := goldmark.New().Parser().Parse(text.NewReader(src))

	var buf bytes.Buffer
	_ = ast.Walk(doc, func(n ast.Node, entering bool) (ast.WalkStatus, error) {
		if !entering {
			return ast.WalkContinue, nil
		}
		p, ok := n.(*ast.Paragraph)
		if !ok {
			return ast.WalkContinue, nil
		}
		writeText(&buf, p, src)
		return ast.WalkStop, nil
	})
	return strings.Join(strings.Fields(buf.String()), " ")
}

// writeText appends the text content of n's inline descendants.
func writeText(buf *bytes.Buffer, n ast.Node, src []byte) {
	for c := n.FirstChild(); c != nil; c = c.NextSibling() {
		switch t := c.(type) {
		case *ast.Text:
			buf.Write(t.Segment.Value(src))
			if t.SoftLineBreak() || t.HardLineBreak() {
				buf.WriteByte(' ')
			}
		case *ast.String:
			buf.Write(t.Value)
		default:
			writeText(buf, c, src)
		}
	}
}
