package engine

import (
	"net/http"
	"net/url"

	"github.com/rohmanhakim/docs-crawler/internal/robots"
	"github.com/rohmanhakim/docs-crawler/internal/sitemap/cache"
)

// robotsGate is the narrow slice of internal/robots the orchestrator
// depends on. robots.NewCachedRobot returns an unexported type, so
// callers outside that package hold it through an interface like this
// one rather than naming the concrete type.
type robotsGate interface {
	Init(userAgent string)
	InitWithClient(userAgent string, httpClient *http.Client, robotsCache cache.Cache)
	Decide(u url.URL) (robots.Decision, error)
}
