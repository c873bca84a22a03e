package main

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/gallerydesk/internal/config"
	"github.com/gallerydesk/internal/db"
	"github.com/gallerydesk/internal/gallery"
	"github.com/gallerydesk/internal/gateway"
	"github.com/gallerydesk/internal/handler"
	"github.com/gallerydesk/internal/router"
	"github.com/gallerydesk/internal/service"
	"github.com/gin-gonic/gin"
	"github.com/spf13/cobra"
	"gorm.io/gorm"
	"pkt.systems/pslog"
)

func newServeCmd(cfgPath *string) *cobra.Command {
	var templateDir, staticDir string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the site and dashboard HTTP server",
		RunE: func(cmd *cobra.Command, args []string) error {
			logger := pslog.Ctx(cmd.Context())
			cfg, err := config.Load(*cfgPath)
			if err != nil {
				return err
			}

			app, err := buildApp(cmd.Context(), cfg, webDirs{Templates: templateDir, Static: staticDir})
			if err != nil {
				return err
			}
			defer app.Close()

			srv := &http.Server{
				Addr:              cfg.ListenAddr,
				Handler:           app.Handler,
				ReadHeaderTimeout: 10 * time.Second,
			}

			// psi.Run cancels the command context on SIGINT and SIGTERM
			go func() {
				<-cmd.Context().Done()
				stopCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
				defer cancel()
				if err := srv.Shutdown(stopCtx); err != nil {
					logger.Warn("http server stop failed", "err", err)
				}
			}()

			logger.Info("http server listening", "addr", cfg.ListenAddr, "gateway", cfg.GatewayMode, "branch", cfg.Branch, "source", app.Source.Describe())
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&templateDir, "templates", "web/template", "directory holding the HTML templates")
	cmd.Flags().StringVar(&staticDir, "static", "web/static", "directory served under /static")
	return cmd
}

type webDirs struct {
	Templates string
	Static    string
}

type app struct {
	Handler http.Handler
	Source  service.DocumentSource
	closers []func() error
}

func (a *app) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		_ = a.closers[i]()
	}
}

func buildApp(ctx context.Context, cfg config.AppConfig, web webDirs) (*app, error) {
	logger := pslog.Ctx(ctx)
	gin.SetMode(cfg.GinMode)
	out := &app{}

	gdb, err := db.Open(cfg.DatabasePath)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	out.closers = append(out.closers, sqlCloser(gdb))
	if err := db.EnsureUser(gdb, cfg.SuperRootUserName, cfg.SuperRootPassword, cfg.SuperRootEmail); err != nil {
		out.Close()
		return nil, fmt.Errorf("ensure super root user: %w", err)
	}

	var (
		gw     gateway.Gateway
		repo   handler.BranchReader
		source service.DocumentSource
	)
	switch cfg.GatewayMode {
	case config.GatewayModeLocal:
		local, err := openLocalRepo(ctx, cfg)
		if err != nil {
			out.Close()
			return nil, err
		}
		gw, repo = local, local
		source = service.RepoSource{Repo: local, Branch: cfg.Branch, Path: gallery.DataPath}
	default:
		if cfg.GatewayURL == "" {
			logger.Warn("GATEWAY_URL is empty; saving will fail")
		}
		gw = gateway.NewHTTPClient(cfg.GatewayURL, gateway.StaticToken(cfg.GatewayToken), cfg.GatewayTimeout)
		if cfg.DocumentURL != "" {
			source = service.NewHTTPSource(cfg.DocumentURL, cfg.GatewayTimeout)
		} else {
			source = service.SiteFileSource(cfg.SiteDir, gallery.DataPath)
		}
	}
	out.Source = source

	var lock service.SaveLock = service.NewMemoryLock()
	if cfg.RedisURL != "" {
		redisLock, err := service.NewRedisLock(cfg.RedisURL, cfg.SaveLockTTL)
		if err != nil {
			out.Close()
			return nil, err
		}
		out.closers = append(out.closers, redisLock.Close)
		lock = redisLock
	}

	history := service.NewHistoryService(gdb)
	publisher := service.NewPublisher(gw, cfg.Branch,
		service.WithSaveLock(lock),
		service.WithHistory(history),
		service.WithMaxAttempts(cfg.SaveMaxAttempts),
	)
	api := handler.NewAPI(handler.Options{
		DB:        gdb,
		History:   history,
		Sessions:  service.NewSessionRegistry(source),
		Publisher: publisher,
		Source:    source,
	})

	out.Handler = router.SetupRouter(router.Options{
		API:           api,
		Logger:        logger,
		SessionSecret: cfg.SessionSecret,
		TemplateDir:   web.Templates,
		StaticDir:     web.Static,
		SiteDir:       cfg.SiteDir,
		Repo:          repo,
		Branch:        cfg.Branch,
	})
	return out, nil
}

// openLocalRepo opens the configured repository, or an in-memory one, and
// seeds the branch from the site directory when it does not exist yet.
func openLocalRepo(ctx context.Context, cfg config.AppConfig) (*gateway.LocalRepo, error) {
	var (
		repo *gateway.LocalRepo
		err  error
	)
	if cfg.LocalRepoPath == "" {
		repo, err = gateway.NewMemoryRepo()
	} else {
		repo, err = gateway.OpenLocalRepo(cfg.LocalRepoPath)
	}
	if err != nil {
		return nil, err
	}

	files, err := seedFiles(cfg.SiteDir)
	if err != nil {
		return nil, err
	}
	author := gateway.Author{Name: "gallerydesk", Email: "gallerydesk@localhost", Date: time.Now().UTC()}
	created, err := repo.EnsureBranch(ctx, cfg.Branch, files, author)
	if err != nil {
		return nil, fmt.Errorf("seed branch %s: %w", cfg.Branch, err)
	}
	if created {
		pslog.Ctx(ctx).Info("local branch seeded", "branch", cfg.Branch, "files", len(files))
	}
	return repo, nil
}

func seedFiles(siteDir string) (map[string][]byte, error) {
	files := make(map[string][]byte)
	err := filepath.WalkDir(siteDir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			if strings.HasPrefix(d.Name(), ".") && path != siteDir {
				return filepath.SkipDir
			}
			return nil
		}
		rel, err := filepath.Rel(siteDir, path)
		if err != nil {
			return err
		}
		data, err := os.ReadFile(path)
		if err != nil {
			return err
		}
		files[filepath.ToSlash(rel)] = data
		return nil
	})
	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("read site dir: %w", err)
	}

	dataPath := strings.TrimPrefix(gallery.DataPath, "/")
	if _, ok := files[dataPath]; !ok {
		empty, err := gallery.Document{}.Encode()
		if err != nil {
			return nil, err
		}
		files[dataPath] = empty
	}
	return files, nil
}

func sqlCloser(gdb *gorm.DB) func() error {
	return func() error {
		sqlDB, err := gdb.DB()
		if err != nil {
			return err
		}
		return sqlDB.Close()
	}
}
