package handler

import (
	"bytes"
	"context"
	"html/template"
	"mime"
	"net/http"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"

	"github.com/gallerydesk/internal/gallery"
	"github.com/gin-gonic/gin"
	"github.com/microcosm-cc/bluemonday"
	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/extension"
	"github.com/yuin/goldmark/renderer/html"
)

var (
	markdownEngine = goldmark.New(
		goldmark.WithExtensions(extension.GFM, extension.Linkify),
		goldmark.WithRendererOptions(html.WithHardWraps(), html.WithXHTML()),
	)
	sanitizer = bluemonday.UGCPolicy()
)

type galleryCard struct {
	Src     string
	Alt     string
	Caption template.HTML
}

type gallerySection struct {
	Key   gallery.Collection
	Title string
	Cards []galleryCard
}

var sectionTitles = map[gallery.Collection]string{
	gallery.Photoshoots: "Photoshoots",
	gallery.Brand:       "Brand Shoots",
}

// ShowGallery renders the published gallery document.
func (a *API) ShowGallery(c *gin.Context) {
	raw, err := a.source.Fetch(c.Request.Context())
	if err != nil {
		c.Error(err)
		a.renderHTML(c, http.StatusBadGateway, "gallery.html", gin.H{"title": "Gallery", "error": "图集暂时无法加载", "year": time.Now().Year()})
		return
	}
	doc, err := gallery.Decode(raw)
	if err != nil {
		c.Error(err)
		a.renderHTML(c, http.StatusInternalServerError, "gallery.html", gin.H{"title": "Gallery", "error": "图集数据格式错误", "year": time.Now().Year()})
		return
	}

	sections := make([]gallerySection, 0, len(gallery.Collections))
	for _, collection := range gallery.Collections {
		entries := gallery.SortForDisplay(*doc.List(collection))
		section := gallerySection{Key: collection, Title: sectionTitles[collection]}
		for _, entry := range entries {
			caption, err := renderMarkdown(entry.Caption)
			if err != nil {
				c.Error(err)
				caption = template.HTML(template.HTMLEscapeString(entry.Caption))
			}
			section.Cards = append(section.Cards, galleryCard{Src: entry.Src, Alt: entry.Alt, Caption: caption})
		}
		sections = append(sections, section)
	}

	a.renderHTML(c, http.StatusOK, "gallery.html", gin.H{
		"title":    "Gallery",
		"sections": sections,
		"year":     time.Now().Year(),
	})
}

func renderMarkdown(content string) (template.HTML, error) {
	var buf bytes.Buffer
	if err := markdownEngine.Convert([]byte(content), &buf); err != nil {
		return "", err
	}
	safe := sanitizer.SanitizeBytes(buf.Bytes())
	return template.HTML(safe), nil
}

// BranchReader reads files from the head of a branch.
type BranchReader interface {
	ReadFile(ctx context.Context, branch, path string) ([]byte, error)
}

// SiteFiles serves the static site from siteDir. When repo is set, paths
// missing from siteDir are read from the branch head, so freshly committed
// uploads show up before a deploy.
func SiteFiles(siteDir string, repo BranchReader, branch string) gin.HandlerFunc {
	root := http.Dir(siteDir)
	fileServer := http.FileServer(root)
	return func(c *gin.Context) {
		if c.Request.Method != http.MethodGet && c.Request.Method != http.MethodHead {
			respondError(c, http.StatusNotFound, "页面不存在")
			return
		}
		name := path.Clean("/" + c.Request.URL.Path)
		if siteFileExists(siteDir, name) {
			fileServer.ServeHTTP(c.Writer, c.Request)
			return
		}
		if repo != nil && name != "/" {
			data, err := repo.ReadFile(c.Request.Context(), branch, name)
			if err == nil {
				contentType := mime.TypeByExtension(path.Ext(name))
				if contentType == "" {
					contentType = http.DetectContentType(data)
				}
				c.Data(http.StatusOK, contentType, data)
				return
			}
		}
		c.String(http.StatusNotFound, "404 page not found")
	}
}

func siteFileExists(siteDir, name string) bool {
	full := filepath.Join(siteDir, filepath.FromSlash(strings.TrimPrefix(name, "/")))
	info, err := os.Stat(full)
	if err != nil {
		return false
	}
	if info.IsDir() {
		_, err = os.Stat(filepath.Join(full, "index.html"))
		return err == nil
	}
	return true
}
