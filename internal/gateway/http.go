package gateway

import (
	"context"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
)

type sanitizedBodyKey struct{}

// ContextWithSanitizedBody returns a context carrying body.
func ContextWithSanitizedBody(ctx context.Context, body any) context.Context {
	return context.WithValue(ctx, sanitizedBodyKey{}, body)
}

// SanitizedBody returns the filtered request body stored by Middleware or
// GinMiddleware.
func SanitizedBody(ctx context.Context) (any, bool) {
	body := ctx.Value(sanitizedBodyKey{})
	return body, body != nil
}

type rawFieldsKey struct{}

// ContextWithRawFields returns a context carrying the unfiltered raw fields.
func ContextWithRawFields(ctx context.Context, fields map[string]string) context.Context {
	return context.WithValue(ctx, rawFieldsKey{}, fields)
}

// RawField returns the unfiltered value of a raw key of the request body.
// Keys match case-insensitively.
func RawField(ctx context.Context, key string) (string, bool) {
	fields, _ := ctx.Value(rawFieldsKey{}).(map[string]string)
	v, ok := fields[strings.ToLower(key)]
	return v, ok
}

// withDecision attaches the body parts of d to ctx.
func withDecision(ctx context.Context, d Decision) context.Context {
	if d.SanitizedBody != nil {
		ctx = ContextWithSanitizedBody(ctx, d.SanitizedBody)
	}
	if len(d.RawFields) > 0 {
		ctx = ContextWithRawFields(ctx, d.RawFields)
	}
	return ctx
}

// Middleware returns a net/http middleware that runs every request through
// ProcessRequest. Denials and preflights are answered without calling next.
func (g *Gateway) Middleware(class string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			d := g.ProcessRequest(r.Context(), r, class)
			if d.Response != nil {
				d.Response.Write(w)
				return
			}

			g.prepare(w.Header(), d)
			r = r.WithContext(withDecision(r.Context(), d))

			next.ServeHTTP(w, r)
		})
	}
}

// GinMiddleware is the gin form of Middleware.
func (g *Gateway) GinMiddleware(class string) gin.HandlerFunc {
	return func(c *gin.Context) {
		d := g.ProcessRequest(c.Request.Context(), c.Request, class)
		if d.Response != nil {
			d.Response.Write(c.Writer)
			c.Abort()
			return
		}

		g.prepare(c.Writer.Header(), d)
		c.Request = c.Request.WithContext(withDecision(c.Request.Context(), d))

		c.Next()
	}
}

// prepare sets security and CORS headers for the handler's response.
func (g *Gateway) prepare(dst http.Header, d Decision) {
	g.SecurityHeaders().Apply(dst)
	for name, values := range d.Headers {
		dst[name] = append([]string(nil), values...)
	}
}
