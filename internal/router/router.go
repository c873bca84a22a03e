package router

import (
	"fmt"
	"html/template"
	"path/filepath"
	"strings"
	"time"

	"github.com/gallerydesk/internal/handler"
	"github.com/gin-contrib/sessions"
	"github.com/gin-contrib/sessions/cookie"
	"github.com/gin-gonic/gin"
	"pkt.systems/pslog"
)

// Options wires the HTTP surface.
type Options struct {
	API           *handler.API
	Logger        pslog.Logger
	SessionSecret string
	TemplateDir   string
	StaticDir     string
	SiteDir       string

	// Repo, when set, backs site paths missing from SiteDir with the
	// branch head.
	Repo   handler.BranchReader
	Branch string
}

// SetupRouter builds the gin engine.
func SetupRouter(opts Options) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	if opts.Logger != nil {
		r.Use(handler.RequestLogger(opts.Logger))
	}

	secret := strings.TrimSpace(opts.SessionSecret)
	if secret == "" {
		secret = "gallerydesk-dev-secret"
	}
	store := cookie.NewStore([]byte(secret))
	store.Options(sessions.Options{Path: "/", MaxAge: 7 * 24 * 60 * 60, HttpOnly: true})
	r.Use(sessions.Sessions("gallerydesk_session", store))

	r.SetFuncMap(template.FuncMap{
		"shortSHA": shortSHA,
		"relativeTime": func(t time.Time) string {
			return formatRelativeTime(time.Now(), t)
		},
		"formatTime": func(t time.Time) string {
			if t.IsZero() {
				return ""
			}
			return t.Local().Format("2006-01-02 15:04")
		},
	})
	templateDir := opts.TemplateDir
	if templateDir == "" {
		templateDir = "web/template"
	}
	r.LoadHTMLGlob(filepath.Join(templateDir, "*.html"))

	staticDir := opts.StaticDir
	if staticDir == "" {
		staticDir = "web/static"
	}
	r.Static("/static", staticDir)

	r.GET("/ping", func(c *gin.Context) {
		c.JSON(200, gin.H{
			"message": "pong",
		})
	})

	api := opts.API
	r.GET("/gallery", api.ShowGallery)

	admin := r.Group("/admin")
	{
		admin.GET("/login", api.ShowLoginPage)
		admin.POST("/login", api.Login)
		admin.GET("/logout", api.Logout)

		auth := admin.Group("")
		auth.Use(api.AuthRequired())
		{
			auth.GET("", api.ShowDashboard)
			auth.GET("/dashboard", api.ShowDashboard)
		}

		jsonAPI := admin.Group("/api")
		jsonAPI.Use(api.APIAuthRequired())
		{
			jsonAPI.GET("/session", api.GetSession)
			jsonAPI.POST("/session/reload", api.ReloadSession)
			jsonAPI.PUT("/session/tab", api.SetTab)
			jsonAPI.PATCH("/entries/:collection/:index", api.MutateEntry)
			jsonAPI.DELETE("/entries/:collection/:index", api.RemoveEntry)
			jsonAPI.POST("/uploads", api.QueueUploads)
			jsonAPI.GET("/previews/:id", api.ServePreview)
			jsonAPI.POST("/save", api.Save)
			jsonAPI.GET("/history", api.ListHistory)
		}
	}

	siteDir := opts.SiteDir
	if siteDir == "" {
		siteDir = "site"
	}
	r.NoRoute(handler.SiteFiles(siteDir, opts.Repo, opts.Branch))

	return r
}

func shortSHA(sha string) string {
	if len(sha) > 7 {
		return sha[:7]
	}
	return sha
}

func formatRelativeTime(now, t time.Time) string {
	if t.IsZero() {
		return ""
	}
	diff := now.Sub(t)
	if diff < time.Minute {
		return "刚刚"
	}
	switch {
	case diff < time.Hour:
		return fmt.Sprintf("%d分钟前", int(diff/time.Minute))
	case diff < 24*time.Hour:
		return fmt.Sprintf("%d小时前", int(diff/time.Hour))
	case diff < 30*24*time.Hour:
		return fmt.Sprintf("%d天前", int(diff/(24*time.Hour)))
	case diff < 365*24*time.Hour:
		return fmt.Sprintf("%d个月前", int(diff/(30*24*time.Hour)))
	default:
		return fmt.Sprintf("%d年前", int(diff/(365*24*time.Hour)))
	}
}
