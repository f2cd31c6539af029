package schema

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"
)

// Definition is an extension file declaring provider mixins and actions,
// such as OS or resource templates.
//
//	scheme: http://example.com/occi/templates#
//	mixins:
//	  - term: small
//	    title: Small instance
//	    related: http://schemas.ogf.org/occi/infrastructure#resource_tpl
//	    location: /templates/small/
//	    attributes:
//	      occi.compute.cores: { type: number, default: 1 }
type Definition struct {
	Scheme  string      `yaml:"scheme"`
	Mixins  []MixinDef  `yaml:"mixins"`
	Actions []ActionDef `yaml:"actions"`
	Source  string      `yaml:"-"`
}

// MixinDef declares one mixin.
type MixinDef struct {
	Term       string                  `yaml:"term"`
	Scheme     string                  `yaml:"scheme"`
	Title      string                  `yaml:"title"`
	Related    string                  `yaml:"related"`
	Location   string                  `yaml:"location"`
	Attributes map[string]AttributeDef `yaml:"attributes"`
	Actions    []string                `yaml:"actions"`
}

// ActionDef declares one action.
type ActionDef struct {
	Term       string                  `yaml:"term"`
	Scheme     string                  `yaml:"scheme"`
	Title      string                  `yaml:"title"`
	Attributes map[string]AttributeDef `yaml:"attributes"`
}

// AttributeDef declares one attribute.
type AttributeDef struct {
	Type        string `yaml:"type"`
	Mutable     *bool  `yaml:"mutable"`
	Mandatory   bool   `yaml:"mandatory"`
	Unique      bool   `yaml:"unique"`
	Default     any    `yaml:"default"`
	Description string `yaml:"description"`
}

// ParseFile parses an extension definition from a YAML file.
func ParseFile(path string) (Definition, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Definition{}, fmt.Errorf("read file %s: %w", path, err)
	}

	def, err := Parse(data)
	if err != nil {
		return Definition{}, fmt.Errorf("%s: %w", path, err)
	}
	def.Source = path
	return def, nil
}

// Parse parses an extension definition from YAML bytes.
func Parse(data []byte) (Definition, error) {
	var def Definition
	if err := yaml.Unmarshal(data, &def); err != nil {
		return Definition{}, fmt.Errorf("parse yaml: %w", err)
	}

	if err := def.validate(); err != nil {
		return Definition{}, err
	}
	return def, nil
}

// ParseDir parses every .yaml/.yml file below dir, in lexical path order.
func ParseDir(dir string) ([]Definition, error) {
	var paths []string
	err := filepath.WalkDir(dir, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		if strings.HasSuffix(path, ".yaml") || strings.HasSuffix(path, ".yml") {
			paths = append(paths, path)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("read dir %s: %w", dir, err)
	}
	sort.Strings(paths)

	defs := make([]Definition, 0, len(paths))
	for _, p := range paths {
		def, err := ParseFile(p)
		if err != nil {
			return nil, err
		}
		defs = append(defs, def)
	}
	return defs, nil
}

func (d Definition) validate() error {
	var errs []string
	for i, m := range d.Mixins {
		if m.Term == "" {
			errs = append(errs, fmt.Sprintf("mixin %d: term is required", i))
		}
		if m.Scheme == "" && d.Scheme == "" {
			errs = append(errs, fmt.Sprintf("mixin %q: scheme is required", m.Term))
		}
		if m.Location != "" && (!strings.HasPrefix(m.Location, "/") || !strings.HasSuffix(m.Location, "/")) {
			errs = append(errs, fmt.Sprintf("mixin %q: location %q must start and end with /", m.Term, m.Location))
		}
		errs = append(errs, validateAttributeDefs("mixin "+m.Term, m.Attributes)...)
	}
	for i, a := range d.Actions {
		if a.Term == "" {
			errs = append(errs, fmt.Sprintf("action %d: term is required", i))
		}
		if a.Scheme == "" && d.Scheme == "" {
			errs = append(errs, fmt.Sprintf("action %q: scheme is required", a.Term))
		}
		errs = append(errs, validateAttributeDefs("action "+a.Term, a.Attributes)...)
	}

	if len(errs) > 0 {
		return fmt.Errorf("validation errors:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}

func validateAttributeDefs(owner string, defs map[string]AttributeDef) []string {
	var errs []string
	for name, def := range defs {
		if _, err := def.build(name); err != nil {
			errs = append(errs, fmt.Sprintf("%s: %v", owner, err))
		}
	}
	sort.Strings(errs)
	return errs
}

func (d AttributeDef) build(name string) (Attribute, error) {
	t, err := ParseValueType(d.Type)
	if err != nil {
		return Attribute{}, fmt.Errorf("attribute %q: %w", name, err)
	}
	a := Attribute{
		Name:        name,
		Type:        t,
		Mutable:     d.Mutable == nil || *d.Mutable,
		Mandatory:   d.Mandatory,
		Unique:      d.Unique,
		Description: d.Description,
	}
	if d.Default != nil {
		v, err := ValueOf(d.Default)
		if err != nil {
			return Attribute{}, fmt.Errorf("attribute %q: default: %w", name, err)
		}
		if t != TypeAny && v.Type() != t {
			return Attribute{}, fmt.Errorf("attribute %q: default must be a %s", name, t)
		}
		a.Default = v
	}
	return a, nil
}

func buildAttributes(defs map[string]AttributeDef) (Attributes, error) {
	names := make([]string, 0, len(defs))
	for n := range defs {
		names = append(names, n)
	}
	sort.Strings(names)

	out := make(Attributes, 0, len(names))
	for _, n := range names {
		a, err := defs[n].build(n)
		if err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, nil
}

// Resolver looks up an already registered category by identifier.
type Resolver func(id string) (Type, bool)

// Build turns the definition into actions and mixins. Related categories and
// action references that are not declared in the same file are looked up
// with resolve.
func (d Definition) Build(resolve Resolver) ([]*Action, []*Mixin, error) {
	actions := make([]*Action, 0, len(d.Actions))
	local := make(map[string]*Action)
	for _, ad := range d.Actions {
		params, err := buildAttributes(ad.Attributes)
		if err != nil {
			return nil, nil, err
		}
		a := NewAction(d.schemeOf(ad.Scheme), ad.Term, ad.Title, params)
		actions = append(actions, a)
		local[a.Identifier()] = a
	}

	mixins := make([]*Mixin, 0, len(d.Mixins))
	for _, md := range d.Mixins {
		attrs, err := buildAttributes(md.Attributes)
		if err != nil {
			return nil, nil, err
		}

		var related Type
		if md.Related != "" {
			t, ok := resolve(md.Related)
			if !ok {
				return nil, nil, Errorf(CodeCategoryNotFound, "mixin %q: related category %s not found", md.Term, md.Related)
			}
			related = t
		}

		var mixinActions []*Action
		for _, ref := range md.Actions {
			if a, ok := local[ref]; ok {
				mixinActions = append(mixinActions, a)
				continue
			}
			t, ok := resolve(ref)
			a, isAction := t.(*Action)
			if !ok || !isAction {
				return nil, nil, Errorf(CodeCategoryNotFound, "mixin %q: action %s not found", md.Term, ref)
			}
			mixinActions = append(mixinActions, a)
		}

		mixins = append(mixins, NewMixin(d.schemeOf(md.Scheme), md.Term, md.Title, related, md.Location, attrs, mixinActions...))
	}
	return actions, mixins, nil
}

func (d Definition) schemeOf(s string) string {
	if s != "" {
		return s
	}
	return d.Scheme
}
