package server

import (
	"time"

	"github.com/outlawai/outlaw-service/types"
)

const maxMiddlewareSliceSize = 100

type RouteBuilder struct {
	router  *Router
	method  string
	path    string
	handler types.FastHTTPHandler
	config  *types.RouteConfig
}

func (rb *RouteBuilder) WithMiddlewares(names ...string) types.RouteBuilder {
	rb.config.Middlewares = append(rb.config.Middlewares, names...)
	return rb
}

func (rb *RouteBuilder) WithoutMiddlewares(names ...string) types.RouteBuilder {
	rb.config.DisabledMiddlewares = append(rb.config.DisabledMiddlewares, names...)
	return rb
}

func (rb *RouteBuilder) WithTimeout(duration time.Duration) types.RouteBuilder {
	rb.config.Timeout = duration
	return rb
}

func (rb *RouteBuilder) WithDoc(title, description, tag string) types.RouteBuilder {
	rb.config.Doc = &types.DocConfig{
		Title:       title,
		Description: description,
		Tag:         tag,
	}
	return rb
}

func (rb *RouteBuilder) finalize() error {
	if len(rb.config.Middlewares) > maxMiddlewareSliceSize {
		return types.ErrMiddlewareOrderInvalid
	}

	if len(rb.config.DisabledMiddlewares) > maxMiddlewareSliceSize {
		return types.ErrMiddlewareOrderInvalid
	}

	configCopy := &types.RouteConfig{
		Timeout: rb.config.Timeout,
		Doc:     rb.config.Doc,
	}

	if len(rb.config.Middlewares) > 0 {
		configCopy.Middlewares = append([]string(nil), rb.config.Middlewares...)
	}
	if len(rb.config.DisabledMiddlewares) > 0 {
		configCopy.DisabledMiddlewares = append([]string(nil), rb.config.DisabledMiddlewares...)
	}

	rb.router.Add(rb.method, rb.path, rb.handler, configCopy)

	return nil
}
