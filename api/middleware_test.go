package api

import (
	"bytes"
	"compress/gzip"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/labstack/echo/v4"
)

func gzipEchoServer() *echo.Echo {
	e := echo.New()
	e.Use(GzipRequestMiddleware())
	e.POST("/echo", func(c echo.Context) error {
		body, err := io.ReadAll(c.Request().Body)
		if err != nil {
			return err
		}
		return c.String(http.StatusOK, string(body))
	})
	return e
}

func TestGzipRequestMiddlewareInflatesBody(t *testing.T) {
	var buf bytes.Buffer
	zw := gzip.NewWriter(&buf)
	if _, err := zw.Write([]byte(`{"title":"Write docs"}`)); err != nil {
		t.Fatalf("compress: %v", err)
	}
	if err := zw.Close(); err != nil {
		t.Fatalf("compress: %v", err)
	}

	req := httptest.NewRequest(http.MethodPost, "/echo", &buf)
	req.Header.Set(echo.HeaderContentEncoding, "gzip")
	rec := httptest.NewRecorder()
	gzipEchoServer().ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("unexpected status %d", rec.Code)
	}
	if rec.Body.String() != `{"title":"Write docs"}` {
		t.Fatalf("body not inflated: %q", rec.Body.String())
	}
}

func TestGzipRequestMiddlewareRejectsCorruptBody(t *testing.T) {
	req := httptest.NewRequest(http.MethodPost, "/echo", strings.NewReader("not gzip at all"))
	req.Header.Set(echo.HeaderContentEncoding, "gzip")
	rec := httptest.NewRecorder()
	gzipEchoServer().ServeHTTP(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("unexpected status %d", rec.Code)
	}
}

func TestGzipRequestMiddlewarePassesPlainBodies(t *testing.T) {
	req := httptest.NewRequest(http.MethodPost, "/echo", strings.NewReader(`{"title":"plain"}`))
	rec := httptest.NewRecorder()
	gzipEchoServer().ServeHTTP(rec, req)

	if rec.Code != http.StatusOK || rec.Body.String() != `{"title":"plain"}` {
		t.Fatalf("plain body mangled: %d %q", rec.Code, rec.Body.String())
	}
}
