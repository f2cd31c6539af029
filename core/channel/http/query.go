package http

import (
	"net/http"

	"github.com/artpar/occigate/core/rendering"
	"github.com/artpar/occigate/core/runtime"
	"github.com/artpar/occigate/core/schema"
)

// queryCategories lists the registered categories, or only those named
// by the request's Category headers.
func (c *Channel) queryCategories(w http.ResponseWriter, r *http.Request, req rendering.Request) {
	c.write(w, r, &rendering.Response{Categories: c.runtime.Query(req.Refs())}, http.StatusOK)
}

// declareMixins registers every mixin category of the request.
func (c *Channel) declareMixins(w http.ResponseWriter, r *http.Request, req rendering.Request) {
	if len(req.Categories) == 0 {
		c.fail(w, r, schema.Errorf(schema.CodeValidation, "no mixin category given"))
		return
	}

	var declared []schema.Type
	for _, d := range req.Categories {
		if d.Class != "" && d.Class != schema.ClassMixin {
			c.fail(w, r, schema.Errorf(schema.CodeValidation, "only mixins can be declared, %s is a %s", d.Identifier(), d.Class))
			return
		}
		decl := runtime.MixinDecl{
			Scheme:   d.Scheme,
			Term:     d.Term,
			Title:    d.Title,
			Location: d.Location,
		}
		for _, rel := range d.Rel {
			decl.Related = append(decl.Related, refOf(rel))
		}
		m, err := c.runtime.DeclareMixin(r.Context(), decl)
		if err != nil {
			c.fail(w, r, err)
			return
		}
		declared = append(declared, m)
	}
	c.write(w, r, &rendering.Response{Categories: declared}, http.StatusOK)
}

// removeMixins removes every mixin category of the request.
func (c *Channel) removeMixins(w http.ResponseWriter, r *http.Request, req rendering.Request) {
	if len(req.Categories) == 0 {
		c.fail(w, r, schema.Errorf(schema.CodeValidation, "no mixin category given"))
		return
	}
	for _, d := range req.Categories {
		if err := c.runtime.RemoveMixin(r.Context(), d.Ref()); err != nil {
			c.fail(w, r, err)
			return
		}
	}
	c.write(w, r, &rendering.Response{}, http.StatusOK)
}
