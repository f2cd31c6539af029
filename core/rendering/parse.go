package rendering

import (
	"bufio"
	"bytes"
	"encoding/json"
	"mime"
	"net/http"
	"net/textproto"
	"strings"

	"github.com/artpar/occigate/core/schema"
)

// Header names of the text rendering.
const (
	HeaderCategory  = "Category"
	HeaderAttribute = "X-OCCI-Attribute"
	HeaderLink      = "Link"
	HeaderLocation  = "X-OCCI-Location"
)

// CategoryDecl is a parsed Category entry.
type CategoryDecl struct {
	Term       string
	Scheme     string
	Class      schema.Class
	Title      string
	Rel        []string
	Location   string
	Attributes schema.Attributes
	Actions    []string
}

// Ref returns the (scheme, term) reference of the declaration.
func (d CategoryDecl) Ref() schema.Ref {
	return schema.Ref{Scheme: d.Scheme, Term: d.Term}
}

// Identifier returns "scheme#term".
func (d CategoryDecl) Identifier() string {
	return schema.Identity(d.Scheme, d.Term)
}

// LinkDecl is a parsed Link entry.
type LinkDecl struct {
	Target     string
	Rel        []string
	Self       string
	Categories []string
	Attributes schema.Values
}

// IsAction reports whether the link points at an action, e.g.
// </compute/1?action=start>.
func (l LinkDecl) IsAction() bool {
	return strings.Contains(l.Target, "?action=")
}

// Request is everything the codec extracted from a request.
type Request struct {
	Categories []CategoryDecl
	Attributes schema.Values
	Links      []LinkDecl
	Locations  []string
}

// Refs returns the references of all parsed categories.
func (r Request) Refs() []schema.Ref {
	refs := make([]schema.Ref, len(r.Categories))
	for i, c := range r.Categories {
		refs[i] = c.Ref()
	}
	return refs
}

// ParseCategories parses Category header lines:
//
//	compute; scheme="http://schemas.ogf.org/occi/infrastructure#"; class="kind"
func ParseCategories(lines []string) ([]CategoryDecl, error) {
	entries, err := splitEntries(lines)
	if err != nil {
		return nil, err
	}
	out := make([]CategoryDecl, 0, len(entries))
	for _, e := range entries {
		d, err := parseCategory(e)
		if err != nil {
			return nil, err
		}
		out = append(out, d)
	}
	return out, nil
}

func parseCategory(entry string) (CategoryDecl, error) {
	parts, err := split(entry, ';')
	if err != nil {
		return CategoryDecl{}, err
	}
	if len(parts) == 0 || !validName(parts[0]) {
		return CategoryDecl{}, schema.Errorf(schema.CodeMalformedHeader, "category %q has no term", entry)
	}

	d := CategoryDecl{Term: parts[0]}
	for _, p := range parts[1:] {
		key, raw, ok := cutPair(p)
		if !ok {
			return CategoryDecl{}, schema.Errorf(schema.CodeMalformedHeader, "category %s: parameter %q is not key=value", d.Term, p)
		}
		val, err := unquoteLoose(raw)
		if err != nil {
			return CategoryDecl{}, err
		}
		switch strings.ToLower(key) {
		case "scheme":
			d.Scheme = val
		case "class":
			d.Class = schema.Class(strings.ToLower(val))
		case "title":
			d.Title = val
		case "rel":
			d.Rel = strings.Fields(val)
		case "location":
			d.Location = val
		case "attributes":
			if d.Attributes, err = parseAttributeList(val); err != nil {
				return CategoryDecl{}, err
			}
		case "actions":
			d.Actions = strings.Fields(val)
		}
	}
	if d.Scheme == "" {
		return CategoryDecl{}, schema.Errorf(schema.CodeMalformedHeader, "category %s has no scheme", d.Term)
	}
	switch d.Class {
	case "", schema.ClassKind, schema.ClassMixin, schema.ClassAction:
	default:
		return CategoryDecl{}, schema.Errorf(schema.CodeMalformedHeader, "category %s: unknown class %q", d.Term, d.Class)
	}
	return d, nil
}

// parseAttributeList parses "a b{immutable} c{immutable required}".
func parseAttributeList(s string) (schema.Attributes, error) {
	var out schema.Attributes
	for len(s) > 0 {
		s = strings.TrimLeft(s, " \t")
		if s == "" {
			break
		}
		end := strings.IndexAny(s, " \t{")
		if end < 0 {
			end = len(s)
		}
		a := schema.Attribute{Name: s[:end], Mutable: true}
		s = s[end:]
		if strings.HasPrefix(s, "{") {
			closing := strings.IndexByte(s, '}')
			if closing < 0 {
				return nil, schema.Errorf(schema.CodeMalformedHeader, "attribute %s: unterminated property list", a.Name)
			}
			for _, prop := range strings.Fields(s[1:closing]) {
				switch prop {
				case "immutable":
					a.Mutable = false
				case "required":
					a.Mandatory = true
				}
			}
			s = s[closing+1:]
		}
		if !validName(a.Name) {
			return nil, schema.Errorf(schema.CodeMalformedHeader, "invalid attribute name %q", a.Name)
		}
		out = append(out, a)
	}
	return out, nil
}

// ParseAttributes parses X-OCCI-Attribute header lines into values. A name
// given twice or a malformed entry fails the whole header.
func ParseAttributes(lines []string) (schema.Values, error) {
	entries, err := splitEntries(lines)
	if err != nil {
		return nil, err
	}
	out := make(schema.Values, len(entries))
	for _, e := range entries {
		name, raw, ok := cutPair(e)
		if !ok || !validName(name) {
			return nil, schema.Errorf(schema.CodeMalformedHeader, "attribute %q is not name=value", e)
		}
		if _, dup := out[name]; dup {
			return nil, schema.Errorf(schema.CodeMalformedHeader, "attribute %s given twice", name)
		}
		v, err := parseValue(raw)
		if err != nil {
			return nil, err
		}
		out[name] = v
	}
	return out, nil
}

// ParseLinks parses Link header lines:
//
//	</network/1>; rel="...#network"; category="...#networkinterface"; occi.networkinterface.interface="eth0"
func ParseLinks(lines []string) ([]LinkDecl, error) {
	entries, err := splitEntries(lines)
	if err != nil {
		return nil, err
	}
	out := make([]LinkDecl, 0, len(entries))
	for _, e := range entries {
		l, err := parseLink(e)
		if err != nil {
			return nil, err
		}
		out = append(out, l)
	}
	return out, nil
}

func parseLink(entry string) (LinkDecl, error) {
	parts, err := split(entry, ';')
	if err != nil {
		return LinkDecl{}, err
	}
	if len(parts) == 0 || !strings.HasPrefix(parts[0], "<") || !strings.HasSuffix(parts[0], ">") {
		return LinkDecl{}, schema.Errorf(schema.CodeMalformedHeader, "link %q does not start with <target>", entry)
	}

	l := LinkDecl{
		Target:     strings.TrimSpace(parts[0][1 : len(parts[0])-1]),
		Attributes: schema.Values{},
	}
	if l.Target == "" {
		return LinkDecl{}, schema.Errorf(schema.CodeMalformedHeader, "link %q has an empty target", entry)
	}
	for _, p := range parts[1:] {
		key, raw, ok := cutPair(p)
		if !ok || !validName(key) {
			return LinkDecl{}, schema.Errorf(schema.CodeMalformedHeader, "link %s: parameter %q is not key=value", l.Target, p)
		}
		switch key {
		case "rel", "self", "category":
			val, err := unquoteLoose(raw)
			if err != nil {
				return LinkDecl{}, err
			}
			switch key {
			case "rel":
				l.Rel = strings.Fields(val)
			case "self":
				l.Self = val
			default:
				l.Categories = strings.Fields(val)
			}
		default:
			if _, dup := l.Attributes[key]; dup {
				return LinkDecl{}, schema.Errorf(schema.CodeMalformedHeader, "link %s: attribute %s given twice", l.Target, key)
			}
			v, err := parseValue(raw)
			if err != nil {
				return LinkDecl{}, err
			}
			l.Attributes[key] = v
		}
	}
	if len(l.Rel) == 0 {
		return LinkDecl{}, schema.Errorf(schema.CodeMalformedHeader, "link %s has no rel", l.Target)
	}
	return l, nil
}

// ParseLocations parses X-OCCI-Location header lines. Absolute URIs are
// kept as given; the location registry normalises them.
func ParseLocations(lines []string) ([]string, error) {
	entries, err := splitEntries(lines)
	if err != nil {
		return nil, err
	}
	out := make([]string, 0, len(entries))
	for _, e := range entries {
		loc, err := unquoteLoose(e)
		if err != nil {
			return nil, err
		}
		if strings.ContainsAny(loc, " \t") {
			return nil, schema.Errorf(schema.CodeMalformedHeader, "location %q contains whitespace", loc)
		}
		out = append(out, loc)
	}
	return out, nil
}

// ParseRequest extracts categories, attributes, links and locations from the
// request headers and, depending on the content type, from the body.
// text/plain and text/occi bodies carry header lines; text/uri-list carries
// one location per line; application/json carries a Document.
func ParseRequest(h http.Header, body []byte, contentType string) (Request, error) {
	lines := textproto.MIMEHeader{}
	for _, name := range []string{HeaderCategory, HeaderAttribute, HeaderLink, HeaderLocation} {
		for _, v := range h.Values(name) {
			lines.Add(name, v)
		}
	}

	mediaType := MediaTextPlain
	if contentType != "" {
		mt, _, err := mime.ParseMediaType(contentType)
		if err != nil {
			return Request{}, schema.Wrap(schema.CodeMalformedHeader, "invalid Content-Type", err)
		}
		mediaType = mt
	}

	if len(bytes.TrimSpace(body)) > 0 {
		switch mediaType {
		case MediaTextPlain, MediaTextOCCI:
			if err := parseBodyLines(body, lines); err != nil {
				return Request{}, err
			}
		case MediaURIList:
			for _, loc := range parseURIList(body) {
				lines.Add(HeaderLocation, loc)
			}
		case MediaJSON:
			return parseJSONRequest(body, lines)
		}
	}
	return parseLines(lines)
}

func parseLines(lines textproto.MIMEHeader) (Request, error) {
	var (
		req Request
		err error
	)
	if req.Categories, err = ParseCategories(lines.Values(HeaderCategory)); err != nil {
		return Request{}, err
	}
	if req.Attributes, err = ParseAttributes(lines.Values(HeaderAttribute)); err != nil {
		return Request{}, err
	}
	if req.Links, err = ParseLinks(lines.Values(HeaderLink)); err != nil {
		return Request{}, err
	}
	if req.Locations, err = ParseLocations(lines.Values(HeaderLocation)); err != nil {
		return Request{}, err
	}
	return req, nil
}

// parseBodyLines reads "Header: value" lines of a text/plain body.
func parseBodyLines(body []byte, into textproto.MIMEHeader) error {
	sc := bufio.NewScanner(bytes.NewReader(body))
	sc.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" {
			continue
		}
		name, value, ok := strings.Cut(line, ":")
		if !ok {
			return schema.Errorf(schema.CodeMalformedHeader, "body line %q is not a header", line)
		}
		name = textproto.CanonicalMIMEHeaderKey(strings.TrimSpace(name))
		switch name {
		case HeaderCategory, textproto.CanonicalMIMEHeaderKey(HeaderAttribute), HeaderLink, textproto.CanonicalMIMEHeaderKey(HeaderLocation):
			into.Add(name, strings.TrimSpace(value))
		}
	}
	if err := sc.Err(); err != nil {
		return schema.Wrap(schema.CodeMalformedHeader, "read body", err)
	}
	return nil
}

func parseURIList(body []byte) []string {
	var out []string
	for _, line := range strings.Split(string(body), "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		out = append(out, line)
	}
	return out
}

func parseJSONRequest(body []byte, lines textproto.MIMEHeader) (Request, error) {
	req, err := parseLines(lines)
	if err != nil {
		return Request{}, err
	}

	var doc Document
	if err := json.Unmarshal(body, &doc); err != nil {
		return Request{}, schema.Wrap(schema.CodeMalformedHeader, "invalid JSON body", err)
	}

	for _, group := range [][]CategoryJSON{doc.Kinds, doc.Mixins, doc.Actions} {
		for _, c := range group {
			d, err := c.decl()
			if err != nil {
				return Request{}, err
			}
			req.Categories = append(req.Categories, d)
		}
	}
	for _, e := range append(doc.Resources, doc.Links...) {
		if err := e.mergeInto(&req); err != nil {
			return Request{}, err
		}
	}
	req.Locations = append(req.Locations, doc.Locations...)
	return req, nil
}
