// Package httpapi exposes the cloudkeeper services over HTTP using gin.
package httpapi

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/dmitrijs2005/cloudkeeper/internal/logging"
	"github.com/dmitrijs2005/cloudkeeper/internal/server/metrics"
	"github.com/dmitrijs2005/cloudkeeper/internal/server/models"
	"github.com/dmitrijs2005/cloudkeeper/internal/server/ratelimit"
	"github.com/dmitrijs2005/cloudkeeper/internal/server/services"
)

const shutdownTimeout = 10 * time.Second

// Authenticator resolves the caller from an Authorization header.
type Authenticator interface {
	Resolve(ctx context.Context, header string) (*models.User, error)
}

type UserAPI interface {
	Signup(ctx context.Context, userName, email, password string) (*models.User, *models.TokenPair, error)
	Login(ctx context.Context, email, password string) (*models.User, *models.TokenPair, error)
	RefreshToken(ctx context.Context, refreshToken string) (*models.TokenPair, error)
	Logout(ctx context.Context, refreshToken string) error
	ForgotPassword(ctx context.Context, email string) error
	ResetPassword(ctx context.Context, token, password string) error
	UpdateUserName(ctx context.Context, userID, userName string) (*models.User, error)
	ChangePassword(ctx context.Context, user *models.User, current, next string) error
	SetPasscode(ctx context.Context, userID, passcode string) error
	DeleteAccount(ctx context.Context, user *models.User, confirmation string) error
}

type FileAPI interface {
	Upload(ctx context.Context, callerID string, in services.UploadInput) (*models.File, error)
	Get(ctx context.Context, caller *models.User, id, passcode string) (*models.File, error)
	GetBySlug(ctx context.Context, caller *models.User, slug, passcode string) (*models.File, error)
	Delete(ctx context.Context, callerID, id string) error
	Rename(ctx context.Context, callerID, id, name string) (*models.File, error)
	Duplicate(ctx context.Context, callerID, id string) (*models.File, error)
	ToggleFavorite(ctx context.Context, callerID, id string) (*models.File, error)
	ToggleLock(ctx context.Context, caller *models.User, id, passcode string) (*models.File, error)
	Share(ctx context.Context, callerID, id string) (*models.ShareLink, error)
	ListByFolder(ctx context.Context, callerID, folderID string) ([]*models.File, error)
	ListByType(ctx context.Context, callerID, fileType string) ([]*models.File, error)
	ListFavorites(ctx context.Context, callerID string) ([]*models.File, error)
	ListLocked(ctx context.Context, caller *models.User, passcode string) ([]*models.File, error)
	ListByDate(ctx context.Context, callerID, date string) ([]*models.File, error)
	ListByMonth(ctx context.Context, callerID, month string) ([]*models.File, error)
}

type FolderAPI interface {
	Create(ctx context.Context, callerID, name, parentID string) (*models.Folder, error)
	Rename(ctx context.Context, callerID, id, name string) (*models.Folder, error)
	Delete(ctx context.Context, callerID, id string) error
	List(ctx context.Context, callerID string) ([]*models.Folder, error)
	Get(ctx context.Context, callerID, id string) (*models.Folder, error)
}

type DashboardAPI interface {
	Stats(ctx context.Context, userID string) (*models.StorageStats, error)
	Recents(ctx context.Context, userID string) ([]*models.File, error)
	Reconcile(ctx context.Context, userID string) (*models.Reconciliation, error)
}

type StaticAPI interface {
	Get(ctx context.Context, key string) (*models.StaticPage, error)
}

// Deps carries everything the handlers call into.
type Deps struct {
	Auth      Authenticator
	Limiter   ratelimit.Limiter
	Metrics   *metrics.Metrics
	Users     UserAPI
	Files     FileAPI
	Folders   FolderAPI
	Dashboard DashboardAPI
	Static    StaticAPI
}

type Server struct {
	address       string
	engine        *gin.Engine
	logger        logging.Logger
	production    bool
	maxUploadSize int64
	Deps
}

// NewServer builds the gin engine with all routes registered.
func NewServer(address string, l logging.Logger, production bool, maxUploadSize int64, d Deps) *Server {
	if production {
		gin.SetMode(gin.ReleaseMode)
	}

	s := &Server{
		address:       address,
		logger:        l.With("module", "http_server"),
		production:    production,
		maxUploadSize: maxUploadSize,
		Deps:          d,
	}

	s.engine = gin.New()
	s.engine.MaxMultipartMemory = maxUploadSize
	s.engine.Use(s.requestLogger(), s.observe(), s.recovery())
	s.engine.NoRoute(func(c *gin.Context) {
		s.fail(c, errRouteNotFound)
	})
	s.routes()
	return s
}

func (s *Server) Handler() http.Handler {
	return s.engine
}

func (s *Server) routes() {
	r := s.engine
	r.GET("/ping", func(c *gin.Context) { s.ok(c, http.StatusOK, "pong", nil) })
	r.GET("/metrics", gin.WrapH(s.Metrics.Handler()))

	api := r.Group("/api")

	public := api.Group("", s.rateLimit())
	public.POST("/auth/signup", s.signup)
	public.POST("/auth/login", s.login)
	public.POST("/auth/refresh", s.refresh)
	public.POST("/auth/forgot-password", s.forgotPassword)
	public.POST("/auth/reset-password", s.resetPassword)
	public.GET("/static/:key", s.staticPage)
	public.GET("/file/public/:slug", s.optionalAuth(), s.publicFile)

	authed := api.Group("", s.requireAuth())
	authed.POST("/auth/logout", s.logout)
	authed.GET("/auth/profile", s.profile)

	user := authed.Group("/user")
	user.GET("/profile", s.profile)
	user.PATCH("/username", s.updateUserName)
	user.PATCH("/password", s.changePassword)
	user.PUT("/passcode", s.setPasscode)
	user.DELETE("", s.deleteAccount)

	file := authed.Group("/file")
	file.POST("/upload", s.uploadFile)
	file.GET("/root", s.listFolderFiles)
	file.GET("/root/:folderId", s.listFolderFiles)
	file.GET("/type/:type", s.listByType)
	file.GET("/locked", s.listLocked)
	file.GET("/favorites", s.listFavorites)
	file.GET("/date/:date", s.listByDate)
	file.GET("/month/:month", s.listByMonth)
	file.GET("/:id", s.getFile)
	file.DELETE("/:id", s.deleteFile)
	file.PATCH("/:id/rename", s.renameFile)
	file.PATCH("/:id/toggle", s.toggleFile)
	file.POST("/:id/share", s.shareFile)
	file.POST("/:id/duplicate", s.duplicateFile)

	folder := authed.Group("/folder")
	folder.POST("", s.createFolder)
	folder.GET("", s.listFolders)
	folder.GET("/:id", s.getFolder)
	folder.PATCH("/:id/rename", s.renameFolder)
	folder.DELETE("/:id", s.deleteFolder)

	dashboard := authed.Group("/dashboard")
	dashboard.GET("/stats", s.dashboardStats)
	dashboard.GET("/recents", s.dashboardRecents)
	dashboard.POST("/reconcile", s.dashboardReconcile)
}

// Run serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:              s.address,
		Handler:           s.engine,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info(ctx, "Starting HTTP server", "address", s.address)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	s.logger.Info(ctx, "Stopping HTTP server...")
	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	return <-errCh
}
