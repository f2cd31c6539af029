// Package http serves the OCCI HTTP rendering. Every path is dispatched on
// the object bound at it: the query interface, a kind or mixin collection,
// an entity, or a plain collection prefix.
package http

import (
	"errors"
	"io"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"

	"github.com/artpar/occigate/core/registry"
	"github.com/artpar/occigate/core/rendering"
	"github.com/artpar/occigate/core/runtime"
	"github.com/artpar/occigate/core/schema"
)

// Paths of the query interface.
const (
	QueryPath          = "/-/"
	WellKnownQueryPath = "/.well-known/org/ogf/occi/-/"
)

// DefaultMaxBody bounds request bodies when Options.MaxBody is zero.
const DefaultMaxBody = 1 << 20

// Options configures the channel.
type Options struct {
	// BaseURL makes rendered locations absolute. Defaults to the scheme
	// and host of each request.
	BaseURL string

	// Server is sent in the Server header of every response.
	Server string

	// MaxBody bounds request bodies in bytes.
	MaxBody int64

	Logger zerolog.Logger
}

// Channel implements the HTTP channel over a runtime.
type Channel struct {
	router  chi.Router
	runtime *runtime.Runtime
	opts    Options
	logger  zerolog.Logger
}

// New creates the channel and its routes.
func New(rt *runtime.Runtime, opts Options) *Channel {
	if opts.MaxBody <= 0 {
		opts.MaxBody = DefaultMaxBody
	}
	c := &Channel{
		router:  chi.NewRouter(),
		runtime: rt,
		opts:    opts,
		logger:  opts.Logger.With().Str("component", "occi").Logger(),
	}

	c.router.Get("/*", c.handleGet)
	c.router.Head("/*", c.handleGet)
	c.router.Post("/*", c.handlePost)
	c.router.Put("/*", c.handlePut)
	c.router.Delete("/*", c.handleDelete)
	return c
}

// Name returns the channel name.
func (c *Channel) Name() string {
	return "occi"
}

// Handler returns the HTTP handler.
func (c *Channel) Handler() http.Handler {
	return c.router
}

func isQuery(path string) bool {
	switch path {
	case QueryPath, "/-", WellKnownQueryPath, strings.TrimSuffix(WellKnownQueryPath, "/"):
		return true
	}
	return false
}

// parse reads the request headers and body.
func (c *Channel) parse(w http.ResponseWriter, r *http.Request) (rendering.Request, error) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, c.opts.MaxBody))
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			return rendering.Request{}, schema.Errorf(schema.CodeMalformedHeader, "request body exceeds %d bytes", tooLarge.Limit)
		}
		return rendering.Request{}, schema.Wrap(schema.CodeMalformedHeader, "read body", err)
	}
	return rendering.ParseRequest(r.Header, body, r.Header.Get("Content-Type"))
}

// classify resolves the kind and mixin categories of a request. Action
// categories are skipped. A request may name one kind at most. Unknown
// categories fail the request when required and are dropped otherwise.
func (c *Channel) classify(decls []rendering.CategoryDecl, required bool) (*schema.Kind, []*schema.Mixin, error) {
	var (
		kind   *schema.Kind
		mixins []*schema.Mixin
	)
	filter := registry.OfClass(schema.ClassKind, schema.ClassMixin, schema.ClassAction)
	for _, d := range decls {
		if d.Class == schema.ClassAction {
			continue
		}
		t, err := c.runtime.Categories().Require(d.Ref(), filter)
		if err != nil {
			if !required && errors.Is(err, schema.ErrCategoryNotFound) {
				continue
			}
			return nil, nil, err
		}
		switch x := t.(type) {
		case *schema.Kind:
			if kind != nil && kind != x {
				return nil, nil, schema.Errorf(schema.CodeValidation, "more than one kind given: %s and %s", kind.Identifier(), x.Identifier())
			}
			kind = x
		case *schema.Mixin:
			if !schema.HasMixin(mixins, x) {
				mixins = append(mixins, x)
			}
		}
	}
	return kind, mixins, nil
}

// links converts the Link entries of a request. Action links are ignored.
func (c *Channel) links(decls []rendering.LinkDecl) ([]runtime.LinkRequest, error) {
	var out []runtime.LinkRequest
	for _, d := range decls {
		if d.IsAction() {
			continue
		}
		lr := runtime.LinkRequest{Target: d.Target, Attributes: d.Attributes}
		for _, id := range d.Categories {
			t, err := c.runtime.Categories().Require(refOf(id), registry.OfClass(schema.ClassKind, schema.ClassMixin))
			if err != nil {
				return nil, err
			}
			switch x := t.(type) {
			case *schema.Kind:
				lr.Kind = x
			case *schema.Mixin:
				lr.Mixins = append(lr.Mixins, x)
			}
		}
		out = append(out, lr)
	}
	return out, nil
}

// refOf splits an identifier "scheme#term".
func refOf(id string) schema.Ref {
	i := strings.LastIndexByte(id, '#')
	if i < 0 {
		return schema.Ref{Term: id}
	}
	return schema.Ref{Scheme: id[:i+1], Term: id[i+1:]}
}

// baseURL returns the configured base URL or the one the request used.
func (c *Channel) baseURL(r *http.Request) string {
	if c.opts.BaseURL != "" {
		return strings.TrimSuffix(c.opts.BaseURL, "/")
	}
	scheme := "http"
	if r.TLS != nil {
		scheme = "https"
	}
	if fwd := r.Header.Get("X-Forwarded-Proto"); fwd != "" {
		scheme = fwd
	}
	return scheme + "://" + r.Host
}

// write renders resp in the representation the client accepts.
func (c *Channel) write(w http.ResponseWriter, r *http.Request, resp *rendering.Response, status int) {
	if c.opts.Server != "" {
		w.Header().Set("Server", c.opts.Server)
	}
	resp.BaseURL = c.baseURL(r)
	mediaType := rendering.Negotiate(r.Header.Get("Accept"))
	if err := resp.Write(w, mediaType, status); err != nil {
		c.logger.Debug().Err(err).Str("path", r.URL.Path).Msg("write response")
	}
}

// fail maps err to a status and renders it.
func (c *Channel) fail(w http.ResponseWriter, r *http.Request, err error) {
	status := StatusOf(err)
	c.logger.Debug().
		Err(err).
		Str("method", r.Method).
		Str("path", r.URL.Path).
		Int("status", status).
		Msg("request rejected")
	c.write(w, r, &rendering.Response{Err: err}, status)
}

// StatusOf maps an error to its HTTP status: a conflict for
// MixinAlreadyExists, a bad request for everything else.
func StatusOf(err error) int {
	if errors.Is(err, schema.ErrMixinAlreadyExists) {
		return http.StatusConflict
	}
	return http.StatusBadRequest
}
