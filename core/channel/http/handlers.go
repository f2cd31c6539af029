package http

import (
	"net/http"
	"strings"

	"github.com/artpar/occigate/core/entity"
	"github.com/artpar/occigate/core/location"
	"github.com/artpar/occigate/core/rendering"
	"github.com/artpar/occigate/core/runtime"
	"github.com/artpar/occigate/core/schema"
)

// handleGet serves the query interface, collections and entities.
func (c *Channel) handleGet(w http.ResponseWriter, r *http.Request) {
	req, err := c.parse(w, r)
	if err != nil {
		c.fail(w, r, err)
		return
	}
	path := location.Normalize(r.URL.Path)
	if isQuery(path) {
		c.queryCategories(w, r, req)
		return
	}

	ctx := r.Context()
	obj, bound := c.runtime.Locations().Get(path)
	switch x := obj.(type) {
	case *schema.Kind:
		c.write(w, r, &rendering.Response{Locations: c.runtime.Members(x)}, http.StatusOK)
	case *schema.Mixin:
		c.write(w, r, &rendering.Response{Locations: c.runtime.Members(x)}, http.StatusOK)
	case entity.Entity:
		e, err := c.runtime.Get(ctx, path)
		if err != nil {
			c.fail(w, r, err)
			return
		}
		c.write(w, r, &rendering.Response{Entity: e}, http.StatusOK)
	default:
		if bound || !strings.HasSuffix(path, "/") {
			c.fail(w, r, schema.Errorf(schema.CodeLocationNotFound, "nothing is bound at %s", path))
			return
		}
		es, err := c.runtime.List(ctx, path, req.Refs())
		if err != nil {
			c.fail(w, r, err)
			return
		}
		c.write(w, r, &rendering.Response{Entities: es}, http.StatusOK)
	}
}

// handlePost triggers actions and creates resources and links.
func (c *Channel) handlePost(w http.ResponseWriter, r *http.Request) {
	req, err := c.parse(w, r)
	if err != nil {
		c.fail(w, r, err)
		return
	}
	path := location.Normalize(r.URL.Path)
	ctx := r.Context()

	if term := r.URL.Query().Get("action"); term != "" {
		a, err := c.runtime.ResolveAction(term, req.Refs())
		if err != nil {
			c.fail(w, r, err)
			return
		}
		done, err := c.runtime.Trigger(ctx, path, a, req.Attributes)
		if err != nil {
			c.fail(w, r, err)
			return
		}
		locs := make([]string, len(done))
		for i, res := range done {
			locs[i] = res.Location()
		}
		c.write(w, r, &rendering.Response{Locations: locs}, http.StatusOK)
		return
	}

	kind, mixins, err := c.classify(req.Categories, true)
	if err != nil {
		c.fail(w, r, err)
		return
	}
	if kind == nil {
		c.fail(w, r, schema.Errorf(schema.CodeValidation, "no kind category given"))
		return
	}
	if obj, ok := c.runtime.Locations().Get(path); ok {
		if k, isKind := obj.(*schema.Kind); !isKind || k != kind {
			c.fail(w, r, schema.Errorf(schema.CodeValidation, "%s cannot be created at %s", kind.Identifier(), path))
			return
		}
	}

	var created entity.Entity
	if c.isLinkKind(kind) {
		created, err = c.runtime.CreateLink(ctx, runtime.LinkRequest{Kind: kind, Mixins: mixins, Attributes: req.Attributes})
	} else {
		var links []runtime.LinkRequest
		if links, err = c.links(req.Links); err != nil {
			c.fail(w, r, err)
			return
		}
		created, err = c.runtime.CreateResource(ctx, runtime.CreateRequest{
			Kind:       kind,
			Mixins:     mixins,
			Attributes: req.Attributes,
			Links:      links,
		})
	}
	if err != nil {
		c.fail(w, r, err)
		return
	}

	w.Header().Set("Location", c.baseURL(r)+created.Location())
	c.write(w, r, &rendering.Response{Locations: []string{created.Location()}}, http.StatusCreated)
}

// handlePut declares mixins, associates entities with a mixin, or
// updates entities.
func (c *Channel) handlePut(w http.ResponseWriter, r *http.Request) {
	req, err := c.parse(w, r)
	if err != nil {
		c.fail(w, r, err)
		return
	}
	path := location.Normalize(r.URL.Path)
	if isQuery(path) {
		c.declareMixins(w, r, req)
		return
	}

	ctx := r.Context()
	if obj, _ := c.runtime.Locations().Get(path); obj != nil {
		if _, isMixin := obj.(*schema.Mixin); isMixin && len(req.Locations) > 0 {
			if err := c.runtime.Associate(ctx, path, req.Locations); err != nil {
				c.fail(w, r, err)
				return
			}
			c.write(w, r, &rendering.Response{Locations: c.runtime.Members(obj.(*schema.Mixin))}, http.StatusOK)
			return
		}
	}

	_, mixins, err := c.classify(req.Categories, false)
	if err != nil {
		c.fail(w, r, err)
		return
	}
	links, err := c.links(req.Links)
	if err != nil {
		c.fail(w, r, err)
		return
	}
	updated, err := c.runtime.Update(ctx, path, runtime.UpdateRequest{
		Attributes:    req.Attributes,
		Mixins:        mixins,
		ReplaceMixins: len(req.Categories) > 0,
		Links:         links,
	})
	if err != nil {
		c.fail(w, r, err)
		return
	}
	if len(updated) == 1 && updated[0].Location() == path {
		c.write(w, r, &rendering.Response{Entity: updated[0]}, http.StatusOK)
		return
	}
	c.write(w, r, &rendering.Response{Entities: updated}, http.StatusOK)
}

// handleDelete removes mixins, disassociates entities from a mixin, or
// deletes entities.
func (c *Channel) handleDelete(w http.ResponseWriter, r *http.Request) {
	req, err := c.parse(w, r)
	if err != nil {
		c.fail(w, r, err)
		return
	}
	path := location.Normalize(r.URL.Path)
	if isQuery(path) {
		c.removeMixins(w, r, req)
		return
	}

	ctx := r.Context()
	if obj, _ := c.runtime.Locations().Get(path); obj != nil {
		if _, isMixin := obj.(*schema.Mixin); isMixin && len(req.Locations) > 0 {
			if err := c.runtime.Disassociate(ctx, path, req.Locations); err != nil {
				c.fail(w, r, err)
				return
			}
			c.write(w, r, &rendering.Response{}, http.StatusOK)
			return
		}
	}

	if _, err := c.runtime.Delete(ctx, path); err != nil {
		c.fail(w, r, err)
		return
	}
	c.write(w, r, &rendering.Response{}, http.StatusOK)
}

func (c *Channel) isLinkKind(k *schema.Kind) bool {
	t, ok := c.runtime.Categories().Get(runtime.DefaultLinkKind)
	if !ok {
		return false
	}
	link, isKind := t.(*schema.Kind)
	return isKind && k.IsA(link)
}
