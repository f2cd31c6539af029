package rendering

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/artpar/occigate/core/entity"
	"github.com/artpar/occigate/core/schema"
)

// Response accumulates what a request produced and renders it in the
// negotiated representation.
type Response struct {
	// BaseURL, when set, makes rendered locations absolute.
	BaseURL string

	// Categories are rendered in full, as by the query interface.
	Categories []schema.Type

	// Entity is rendered with its categories, attributes and links.
	Entity entity.Entity

	// Entities are rendered as a location list, or in full as JSON.
	Entities []entity.Entity

	// Locations are rendered as a location list.
	Locations []string

	// Err replaces everything else with an error message.
	Err error
}

type line struct {
	name  string
	value string
}

func (r *Response) url(loc string) string {
	if r.BaseURL == "" || !strings.HasPrefix(loc, "/") {
		return loc
	}
	return strings.TrimSuffix(r.BaseURL, "/") + loc
}

// isLocationList reports whether the response is nothing but locations.
func (r *Response) isLocationList() bool {
	return r.Err == nil && r.Entity == nil && len(r.Categories) == 0
}

func (r *Response) locations() []string {
	out := make([]string, 0, len(r.Locations)+len(r.Entities))
	for _, e := range r.Entities {
		out = append(out, r.url(e.Location()))
	}
	for _, l := range r.Locations {
		out = append(out, r.url(l))
	}
	return out
}

func (r *Response) lines() []line {
	if r.Err != nil {
		return nil
	}
	var out []line
	for _, t := range r.Categories {
		out = append(out, line{HeaderCategory, RenderCategory(t, true)})
	}
	if e := r.Entity; e != nil {
		out = append(out, line{HeaderCategory, RenderCategory(e.Kind(), false)})
		for _, m := range e.Mixins() {
			out = append(out, line{HeaderCategory, RenderCategory(m, false)})
		}
		if res, ok := e.(*entity.Resource); ok {
			for _, l := range res.Links() {
				out = append(out, line{HeaderLink, RenderLink(l, r.url)})
			}
			for _, a := range res.Actions() {
				out = append(out, line{HeaderLink, RenderActionLink(r.url(e.Location()), a)})
			}
		}
		for _, a := range RenderAttributes(e.Attributes()) {
			out = append(out, line{HeaderAttribute, a})
		}
	}
	for _, loc := range r.locations() {
		out = append(out, line{HeaderLocation, loc})
	}
	return out
}

// Write renders the response with the given media type and status.
// text/uri-list is only used for pure location lists; other responses fall
// back to text/plain.
func (r *Response) Write(w http.ResponseWriter, mediaType string, status int) error {
	if mediaType == MediaURIList && !r.isLocationList() {
		mediaType = MediaTextPlain
	}

	switch mediaType {
	case MediaJSON:
		return r.writeJSON(w, status)
	case MediaURIList:
		w.Header().Set("Content-Type", MediaURIList)
		w.WriteHeader(status)
		var b strings.Builder
		for _, loc := range r.locations() {
			b.WriteString(loc)
			b.WriteString("\r\n")
		}
		_, err := w.Write([]byte(b.String()))
		return err
	case MediaTextOCCI:
		h := w.Header()
		h.Set("Content-Type", MediaTextOCCI)
		for _, l := range r.lines() {
			h.Add(l.name, l.value)
		}
		w.WriteHeader(status)
		if r.Err != nil {
			_, err := w.Write([]byte(r.Err.Error() + "\n"))
			return err
		}
		_, err := w.Write([]byte("OK\n"))
		return err
	default:
		w.Header().Set("Content-Type", MediaTextPlain+"; charset=utf-8")
		w.WriteHeader(status)
		var b strings.Builder
		if r.Err != nil {
			b.WriteString(r.Err.Error())
			b.WriteString("\n")
		}
		for _, l := range r.lines() {
			b.WriteString(l.name)
			b.WriteString(": ")
			b.WriteString(l.value)
			b.WriteString("\n")
		}
		_, err := w.Write([]byte(b.String()))
		return err
	}
}

// Document builds the JSON rendering.
func (r *Response) Document() Document {
	var doc Document
	if r.Err != nil {
		ej := &ErrorJSON{Message: r.Err.Error()}
		var se *schema.Error
		if errors.As(r.Err, &se) {
			ej.Code = string(se.Code)
			ej.Violations = se.Violations
		}
		doc.Error = ej
		return doc
	}

	for _, t := range r.Categories {
		switch t.Class() {
		case schema.ClassKind:
			doc.Kinds = append(doc.Kinds, categoryJSON(t))
		case schema.ClassMixin:
			doc.Mixins = append(doc.Mixins, categoryJSON(t))
		case schema.ClassAction:
			doc.Actions = append(doc.Actions, categoryJSON(t))
		}
	}

	all := r.Entities
	if r.Entity != nil {
		all = append([]entity.Entity{r.Entity}, all...)
	}
	for _, e := range all {
		if _, ok := e.(*entity.Link); ok {
			doc.Links = append(doc.Links, r.entityJSON(e))
		} else {
			doc.Resources = append(doc.Resources, r.entityJSON(e))
		}
	}

	for _, l := range r.Locations {
		doc.Locations = append(doc.Locations, r.url(l))
	}
	return doc
}

func (r *Response) writeJSON(w http.ResponseWriter, status int) error {
	w.Header().Set("Content-Type", MediaJSON)
	w.WriteHeader(status)
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(r.Document())
}
