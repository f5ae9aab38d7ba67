// Package devserver is a local stand-in for the storage service. It speaks the
// same two-phase protocol as the real API: an authorized GET returns a one-time
// href, and the bytes are then PUT to or fetched from that href. Objects live
// on an afero filesystem.
package devserver

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"path"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	slogGin "github.com/samber/slog-gin"
	"github.com/spf13/afero"
)

const (
	DefaultAddr      = "127.0.0.1:8090"
	DefaultHrefTTL   = 5 * time.Minute
	DefaultRateLimit = "300-M"
	UploadEndpoint   = "/v1/disk/resources/upload"
	DownloadEndpoint = "/v1/disk/resources/download"
	transferPrefix   = "/transfer/"
)

var acceptedSchemes = []string{"OAuth", "Bearer"}

type Config struct {
	Addr      string
	Token     string        // required on authorization requests
	PublicURL string        // base of issued hrefs; derived from the request when empty
	HrefTTL   time.Duration // lifetime of an issued href
	RateLimit string        // per-ip limit on authorization requests, e.g. "300-M"; empty disables
	// SigningKey signs issued hrefs. A random key is generated when empty,
	// so hrefs do not survive a restart.
	SigningKey []byte
}

type Server struct {
	config Config
	fs     afero.Fs
	engine *gin.Engine
	server *http.Server
	now    func() time.Time

	signingKey []byte

	mu     sync.Mutex
	issued map[string]struct{} // ids of issued, unused hrefs
}

func New(cfg Config, fs afero.Fs) *Server {
	if cfg.Addr == "" {
		cfg.Addr = DefaultAddr
	}
	if cfg.HrefTTL <= 0 {
		cfg.HrefTTL = DefaultHrefTTL
	}
	key := cfg.SigningKey
	if len(key) == 0 {
		key = newSigningKey()
	}

	s := &Server{
		config:     cfg,
		fs:         fs,
		now:        time.Now,
		signingKey: key,
		issued:     make(map[string]struct{}),
	}
	s.engine = s.routes()
	s.server = &http.Server{
		Addr:    cfg.Addr,
		Handler: s.engine,
	}
	return s
}

func (s *Server) routes() *gin.Engine {
	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(securityHeaders())
	r.Use(corsPolicy())
	r.Use(slogGin.NewWithConfig(slog.Default().WithGroup("http"), slogGin.Config{
		DefaultLevel:     slog.LevelDebug,
		ClientErrorLevel: slog.LevelWarn,
		ServerErrorLevel: slog.LevelError,
		WithRequestID:    true,
	}))

	chain := []gin.HandlerFunc{compression()}
	if s.config.RateLimit != "" {
		chain = append(chain, rateLimiter(s.config.RateLimit))
	}
	chain = append(chain, s.requireToken)

	authorized := r.Group("/", chain...)
	authorized.GET(UploadEndpoint, s.authorizeUpload)
	authorized.GET(DownloadEndpoint, s.authorizeDownload)

	r.PUT(transferPrefix+":token", s.putObject)
	r.GET(transferPrefix+":token", s.getObject)

	return r
}

// Handler exposes the routes, e.g. for httptest.
func (s *Server) Handler() http.Handler {
	return s.engine
}

// Start serves until ctx is done.
func (s *Server) Start(ctx context.Context) error {
	errc := make(chan error, 1)
	go func() {
		slog.Info("devserver start", "addr", s.config.Addr)
		errc <- s.server.ListenAndServe()
	}()

	select {
	case err := <-errc:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := s.server.Shutdown(shutdownCtx); err != nil {
		return err
	}
	slog.Info("devserver stop")
	return nil
}

// Objects lists stored object paths.
func (s *Server) Objects() ([]string, error) {
	var objects []string
	err := afero.Walk(s.fs, "/", func(p string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if !info.IsDir() && !strings.Contains(path.Base(p), ".upload-") {
			objects = append(objects, p)
		}
		return nil
	})
	sort.Strings(objects)
	return objects, err
}

// Pending returns the number of issued, unused hrefs.
func (s *Server) Pending() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.issued)
}

func (s *Server) requireToken(ctx *gin.Context) {
	header := ctx.GetHeader("Authorization")
	for _, scheme := range acceptedSchemes {
		if s.config.Token != "" && header == scheme+" "+s.config.Token {
			ctx.Next()
			return
		}
	}
	apiError(ctx, http.StatusUnauthorized, "UnauthorizedError", "Unauthorized")
}

func (s *Server) authorizeUpload(ctx *gin.Context) {
	object, err := cleanObjectPath(ctx.Query("path"))
	if err != nil {
		apiError(ctx, http.StatusBadRequest, "FieldValidationError", err.Error())
		return
	}

	overwrite := ctx.Query("overwrite") == "true"
	if !overwrite {
		if _, err := s.fs.Stat(object); err == nil {
			apiError(ctx, http.StatusConflict, "DiskResourceAlreadyExistsError",
				fmt.Sprintf("Resource %q already exists.", object))
			return
		}
	}

	parent := path.Dir(object)
	if err := s.fs.MkdirAll(parent, 0o755); err != nil {
		apiError(ctx, http.StatusInternalServerError, "InternalError", err.Error())
		return
	}

	s.issue(ctx, "upload", object, http.MethodPut)
}

func (s *Server) authorizeDownload(ctx *gin.Context) {
	object, err := cleanObjectPath(ctx.Query("path"))
	if err != nil {
		apiError(ctx, http.StatusBadRequest, "FieldValidationError", err.Error())
		return
	}

	info, err := s.fs.Stat(object)
	if err != nil || info.IsDir() {
		apiError(ctx, http.StatusNotFound, "DiskNotFoundError", "Resource not found.")
		return
	}

	s.issue(ctx, "download", object, http.MethodGet)
}

func (s *Server) issue(ctx *gin.Context, op, object, method string) {
	s.mu.Lock()
	token, id, err := s.signHref(op, object)
	if err == nil {
		s.issued[id] = struct{}{}
	}
	s.mu.Unlock()
	if err != nil {
		apiError(ctx, http.StatusInternalServerError, "InternalError", err.Error())
		return
	}

	ctx.PureJSON(http.StatusOK, gin.H{
		"href":      s.baseURL(ctx) + transferPrefix + token,
		"method":    method,
		"templated": false,
	})
}

func (s *Server) putObject(ctx *gin.Context) {
	claims, code, err := s.redeem(ctx.Param("token"), "upload")
	if err != nil {
		ctx.String(code, err.Error())
		return
	}
	object := claims.Subject

	tmp := fmt.Sprintf("%s.upload-%s", object, claims.ID)
	if err := s.store(tmp, ctx.Request); err != nil {
		s.fs.Remove(tmp)
		slog.Error("devserver store", "object", object, "error", err)
		ctx.String(http.StatusInternalServerError, err.Error())
		return
	}
	if err := s.fs.Rename(tmp, object); err != nil {
		s.fs.Remove(tmp)
		ctx.String(http.StatusInternalServerError, err.Error())
		return
	}

	slog.Debug("devserver stored", "object", object)
	ctx.Status(http.StatusCreated)
}

func (s *Server) store(name string, r *http.Request) error {
	f, err := s.fs.Create(name)
	if err != nil {
		return err
	}
	n, err := io.Copy(f, r.Body)
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		return err
	}
	if r.ContentLength >= 0 && n != r.ContentLength {
		return fmt.Errorf("short body: %d of %d bytes", n, r.ContentLength)
	}
	return nil
}

func (s *Server) getObject(ctx *gin.Context) {
	claims, code, err := s.redeem(ctx.Param("token"), "download")
	if err != nil {
		ctx.String(code, err.Error())
		return
	}

	f, err := s.fs.Open(claims.Subject)
	if err != nil {
		ctx.String(http.StatusNotFound, "object gone")
		return
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		ctx.String(http.StatusInternalServerError, err.Error())
		return
	}

	ctx.DataFromReader(http.StatusOK, info.Size(), "application/octet-stream", f, nil)
}

func (s *Server) baseURL(ctx *gin.Context) string {
	if s.config.PublicURL != "" {
		return strings.TrimRight(s.config.PublicURL, "/")
	}
	scheme := "http"
	if ctx.Request.TLS != nil {
		scheme = "https"
	}
	return scheme + "://" + ctx.Request.Host
}

// cleanObjectPath accepts "foo.zip", "/foo.zip" and "disk:/foo.zip"
func cleanObjectPath(p string) (string, error) {
	p = strings.TrimPrefix(p, "disk:")
	if strings.TrimSpace(p) == "" {
		return "", errors.New("path is required")
	}
	for _, part := range strings.Split(p, "/") {
		if part == ".." {
			return "", errors.New("path must not contain ..")
		}
	}
	clean := path.Clean("/" + p)
	if clean == "/" {
		return "", errors.New("path is required")
	}
	return clean, nil
}

func apiError(ctx *gin.Context, code int, kind, message string) {
	ctx.AbortWithStatusJSON(code, gin.H{
		"error":       kind,
		"message":     message,
		"description": message,
	})
}
