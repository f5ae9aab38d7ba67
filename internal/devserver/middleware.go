package devserver

import (
	"net/http"

	"github.com/gin-contrib/cors"
	"github.com/gin-contrib/gzip"
	"github.com/gin-contrib/secure"
	"github.com/gin-gonic/gin"
	"github.com/ulule/limiter/v3"
	"github.com/ulule/limiter/v3/drivers/store/memory"

	mgin "github.com/ulule/limiter/v3/drivers/middleware/gin"
)

// ValidateRateLimit checks a limiter rate such as "300-M". Empty disables limiting.
func ValidateRateLimit(formattedRate string) error {
	if formattedRate == "" {
		return nil
	}
	_, err := limiter.NewRateFromFormatted(formattedRate)
	return err
}

// rateLimiter limits requests per client ip. It panics on a malformed rate;
// callers validate with ValidateRateLimit first.
func rateLimiter(formattedRate string) gin.HandlerFunc {
	rate, err := limiter.NewRateFromFormatted(formattedRate)
	if err != nil {
		panic(err)
	}
	lim := limiter.New(memory.NewStore(), rate)
	return mgin.NewMiddleware(
		lim,
		mgin.WithLimitReachedHandler(func(c *gin.Context) {
			apiError(c, http.StatusTooManyRequests, "TooManyRequestsError", "rate limit exceeded")
		}),
		mgin.WithErrorHandler(func(c *gin.Context, err error) {
			apiError(c, http.StatusInternalServerError, "InternalError", err.Error())
		}),
	)
}

// archives are already compressed and their Content-Length must survive
var gzipExcludedPaths = []string{
	transferPrefix,
}

func compression() gin.HandlerFunc {
	return gzip.Gzip(
		gzip.BestSpeed,
		gzip.WithExcludedPaths(gzipExcludedPaths),
	)
}

func corsPolicy() gin.HandlerFunc {
	return cors.New(cors.Config{
		AllowOrigins:     []string{"*"},
		AllowHeaders:     []string{"Authorization", "Content-Type", "Content-Length", "Accept-Encoding"},
		AllowMethods:     []string{http.MethodGet, http.MethodPut, http.MethodOptions},
		AllowCredentials: false,
	})
}

// securityHeaders sets the usual hardening headers. No https redirect: the
// dev server speaks plain http.
func securityHeaders() gin.HandlerFunc {
	return secure.New(secure.Config{
		SSLRedirect:        false,
		FrameDeny:          true,
		ContentTypeNosniff: true,
		BrowserXssFilter:   true,
		IENoOpen:           true,
	})
}
