package metrics

import (
	"fmt"
	"net/http"
	"net/url"

	"github.com/gofiber/fiber/v2"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Handler returns a Fiber handler serving the Prometheus registry.
func Handler() fiber.Handler {
	promHandler := promhttp.Handler()

	return func(c *fiber.Ctx) error {
		writer := &fiberResponseWriter{c: c}

		uri := c.Request().URI()
		reqURL, err := url.ParseRequestURI(string(uri.RequestURI()))
		if err != nil {
			return fmt.Errorf("failed to parse request URI: %w", err)
		}

		req := &http.Request{
			Method: c.Method(),
			URL:    reqURL,
			Header: make(http.Header),
		}
		c.Request().Header.VisitAll(func(key, value []byte) {
			req.Header.Set(string(key), string(value))
		})

		promHandler.ServeHTTP(writer, req)
		return nil
	}
}

// fiberResponseWriter bridges promhttp onto a Fiber context.
type fiberResponseWriter struct {
	c      *fiber.Ctx
	header http.Header
}

func (w *fiberResponseWriter) Header() http.Header {
	if w.header == nil {
		w.header = make(http.Header)
	}
	return w.header
}

func (w *fiberResponseWriter) Write(data []byte) (int, error) {
	return w.c.Write(data)
}

func (w *fiberResponseWriter) WriteHeader(statusCode int) {
	for key, values := range w.header {
		for _, v := range values {
			w.c.Set(key, v)
		}
	}
	w.c.Status(statusCode)
}
