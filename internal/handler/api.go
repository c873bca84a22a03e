package handler

import (
	"strings"

	"github.com/gallerydesk/internal/service"
	"github.com/gin-gonic/gin"
	"gorm.io/gorm"
)

// API bundles shared dependencies for HTTP handlers.
type API struct {
	db        *gorm.DB
	users     *service.UserService
	history   *service.HistoryService
	sessions  *service.SessionRegistry
	publisher *service.Publisher
	source    service.DocumentSource
	siteName  string
}

// Options configures NewAPI.
type Options struct {
	DB        *gorm.DB
	History   *service.HistoryService
	Sessions  *service.SessionRegistry
	Publisher *service.Publisher
	Source    service.DocumentSource
	SiteName  string
}

// NewAPI constructs a handler set with shared services.
func NewAPI(opts Options) *API {
	history := opts.History
	if history == nil {
		history = service.NewHistoryService(opts.DB)
	}
	siteName := strings.TrimSpace(opts.SiteName)
	if siteName == "" {
		siteName = "Gallery Desk"
	}
	return &API{
		db:        opts.DB,
		users:     service.NewUserService(opts.DB),
		history:   history,
		sessions:  opts.Sessions,
		publisher: opts.Publisher,
		source:    opts.Source,
		siteName:  siteName,
	}
}

// DB exposes the underlying gorm instance.
func (a *API) DB() *gorm.DB {
	return a.db
}

func (a *API) renderHTML(c *gin.Context, status int, template string, data gin.H) {
	payload := gin.H{}
	for key, value := range data {
		payload[key] = value
	}
	if _, exists := payload["siteName"]; !exists {
		payload["siteName"] = a.siteName
	}
	c.HTML(status, template, payload)
}
