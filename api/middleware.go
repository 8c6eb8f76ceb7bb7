package api

import (
	"compress/gzip"
	"io"
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"
)

// GzipRequestMiddleware transparently inflates gzip-encoded request bodies.
// Clients syncing large boards may compress their mutation payloads; the
// handlers downstream always see plain JSON. A body that claims gzip but is
// not gets a 400.
func GzipRequestMiddleware() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			req := c.Request()
			if !requestHasGzip(req.Header.Get(echo.HeaderContentEncoding)) {
				return next(c)
			}

			raw := req.Body
			gz, err := gzip.NewReader(raw)
			if err != nil {
				_ = raw.Close()
				return echo.NewHTTPError(http.StatusBadRequest, "invalid gzip body")
			}

			req.Body = &gzipBody{gz: gz, raw: raw}
			req.ContentLength = -1
			req.Header.Del(echo.HeaderContentEncoding)
			req.Header.Del(echo.HeaderContentLength)

			return next(c)
		}
	}
}

func requestHasGzip(header string) bool {
	if header == "" {
		return false
	}
	for _, enc := range strings.Split(header, ",") {
		if strings.EqualFold(strings.TrimSpace(enc), "gzip") {
			return true
		}
	}
	return false
}

// gzipBody closes both the inflater and the underlying request body.
type gzipBody struct {
	gz  *gzip.Reader
	raw io.Closer
}

func (g *gzipBody) Read(p []byte) (int, error) {
	return g.gz.Read(p)
}

func (g *gzipBody) Close() error {
	err := g.gz.Close()
	if cerr := g.raw.Close(); cerr != nil && err == nil {
		err = cerr
	}
	return err
}
