package schema

import (
	"errors"
	"testing"
)

const testScheme = "http://example.com/occi#"

func testKinds() (*Kind, *Kind) {
	base := NewKind(testScheme, "resource", "Resource", nil, "/resource/", Attributes{
		{Name: "occi.core.id", Type: TypeString, Mandatory: true, Unique: true},
		{Name: "occi.core.title", Type: TypeString, Mutable: true},
	})
	start := NewAction(testScheme+"action#", "start", "Start", nil)
	compute := NewKind(testScheme, "compute", "Compute", base, "/compute/", Attributes{
		{Name: "occi.compute.cores", Type: TypeNumber, Mutable: true},
		{Name: "occi.compute.state", Type: TypeString, Mandatory: true, Default: String("inactive")},
	}, start)
	return base, compute
}

func TestIdentity(t *testing.T) {
	tests := []struct {
		scheme, term, want string
	}{
		{"http://schemas.ogf.org/occi/core#", "entity", "http://schemas.ogf.org/occi/core#entity"},
		{"http://example.com/mine", "tpl", "http://example.com/mine#tpl"},
		{"", "bare", "bare"},
	}
	for _, tt := range tests {
		if got := Identity(tt.scheme, tt.term); got != tt.want {
			t.Errorf("Identity(%q, %q) = %q, want %q", tt.scheme, tt.term, got, tt.want)
		}
	}
}

func TestKindLineage(t *testing.T) {
	base, compute := testKinds()

	chain := compute.Lineage()
	if len(chain) != 2 || chain[0] != base || chain[1] != compute {
		t.Fatalf("Lineage() = %v, want [resource compute]", chain)
	}
	if !compute.IsA(base) {
		t.Error("compute should be a resource")
	}
	if base.IsA(compute) {
		t.Error("resource should not be a compute")
	}
	if _, ok := compute.Action(testScheme + "action#start"); !ok {
		t.Error("compute should support start")
	}
	if _, ok := base.Action(testScheme + "action#start"); ok {
		t.Error("resource should not support start")
	}
}

func TestEffectiveAttributes(t *testing.T) {
	_, compute := testKinds()
	mixin := NewMixin(testScheme, "tpl", "Template", compute, "/tpl/", Attributes{
		{Name: "occi.compute.cores", Type: TypeNumber, Mandatory: true, Mutable: false},
		{Name: "tpl.name", Type: TypeString, Mutable: true},
	})

	attrs := EffectiveAttributes(compute, []*Mixin{mixin})
	want := []string{"occi.core.id", "occi.core.title", "occi.compute.cores", "occi.compute.state", "tpl.name"}
	got := attrs.Names()
	if len(got) != len(want) {
		t.Fatalf("Names() = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("Names()[%d] = %q, want %q", i, got[i], want[i])
		}
	}

	cores, _ := attrs.Get("occi.compute.cores")
	if !cores.Mandatory {
		t.Error("merged cores should be mandatory")
	}
	if cores.Mutable {
		t.Error("merged cores should be immutable")
	}
}

func TestValidateCreate(t *testing.T) {
	_, compute := testKinds()
	attrs := EffectiveAttributes(compute, nil)

	tests := []struct {
		name    string
		values  Values
		wantErr bool
		want    string
	}{
		{
			name:   "valid",
			values: Values{"occi.core.id": String("1"), "occi.compute.state": String("inactive")},
		},
		{
			name:    "missing mandatory",
			values:  Values{"occi.core.id": String("1")},
			wantErr: true,
			want:    ConstraintMandatory,
		},
		{
			name:    "empty mandatory",
			values:  Values{"occi.core.id": String(""), "occi.compute.state": String("inactive")},
			wantErr: true,
			want:    ConstraintMandatory,
		},
		{
			name:    "unknown attribute",
			values:  Values{"occi.core.id": String("1"), "occi.compute.state": String("inactive"), "bogus": String("x")},
			wantErr: true,
			want:    ConstraintUnknown,
		},
		{
			name:    "wrong type",
			values:  Values{"occi.core.id": String("1"), "occi.compute.state": String("inactive"), "occi.compute.cores": String("two")},
			wantErr: true,
			want:    ConstraintType,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateCreate(attrs, tt.values)
			if (err != nil) != tt.wantErr {
				t.Fatalf("ValidateCreate() error = %v, wantErr %v", err, tt.wantErr)
			}
			if !tt.wantErr {
				return
			}
			if !errors.Is(err, ErrValidation) {
				t.Fatalf("error should be a validation error, got %v", err)
			}
			var e *Error
			if !errors.As(err, &e) || len(e.Violations) == 0 {
				t.Fatalf("error carries no violations: %v", err)
			}
			if e.Violations[0].Constraint != tt.want {
				t.Errorf("Constraint = %q, want %q", e.Violations[0].Constraint, tt.want)
			}
		})
	}
}

func TestValidateUpdate(t *testing.T) {
	_, compute := testKinds()
	attrs := EffectiveAttributes(compute, nil)
	current := Values{"occi.core.id": String("1"), "occi.compute.state": String("inactive")}

	if err := ValidateUpdate(attrs, current, Values{"occi.compute.cores": Int(2)}); err != nil {
		t.Errorf("mutable change rejected: %v", err)
	}
	if err := ValidateUpdate(attrs, current, Values{"occi.core.id": String("1")}); err != nil {
		t.Errorf("unchanged immutable value rejected: %v", err)
	}
	if err := ValidateUpdate(attrs, current, Values{"occi.core.id": String("2")}); !errors.Is(err, ErrValidation) {
		t.Errorf("immutable change error = %v, want validation error", err)
	}
	if err := ValidateUpdate(attrs, current, Values{"occi.compute.state": String("")}); !errors.Is(err, ErrValidation) {
		t.Errorf("clearing a mandatory attribute error = %v, want validation error", err)
	}
}

func TestApplyDefaults(t *testing.T) {
	_, compute := testKinds()
	attrs := EffectiveAttributes(compute, nil)

	got := ApplyDefaults(attrs, Values{"occi.core.id": String("1")})
	if got.Text("occi.compute.state") != "inactive" {
		t.Errorf("state = %q, want inactive", got.Text("occi.compute.state"))
	}

	got = ApplyDefaults(attrs, Values{"occi.compute.state": String("active")})
	if got.Text("occi.compute.state") != "active" {
		t.Errorf("supplied value overwritten: %q", got.Text("occi.compute.state"))
	}
}

func TestValueText(t *testing.T) {
	tests := []struct {
		v    Value
		want string
	}{
		{String("a b"), "a b"},
		{Int(2), "2"},
		{Number(1.5), "1.5"},
		{Bool(true), "true"},
		{Value{}, ""},
	}
	for _, tt := range tests {
		if got := tt.v.Text(); got != tt.want {
			t.Errorf("Text() = %q, want %q", got, tt.want)
		}
	}
}

func TestCoerce(t *testing.T) {
	v, err := Coerce("4", TypeNumber)
	if err != nil {
		t.Fatalf("Coerce() error = %v", err)
	}
	if n, _ := v.AsNumber(); n != 4 {
		t.Errorf("AsNumber() = %v, want 4", n)
	}
	if _, err := Coerce("four", TypeNumber); err == nil {
		t.Error("expected error for non-numeric text")
	}
	if v, _ := Coerce("x", TypeAny); v.Type() != TypeString {
		t.Errorf("Type() = %v, want string", v.Type())
	}
}

func TestErrorIs(t *testing.T) {
	err := Errorf(CodeLocationNotFound, "no entity at %s", "/compute/1")
	if !errors.Is(err, ErrLocationNotFound) {
		t.Error("errors.Is should match on code")
	}
	if errors.Is(err, ErrCategoryNotFound) {
		t.Error("errors.Is should not match a different code")
	}
	if CodeOf(err) != CodeLocationNotFound {
		t.Errorf("CodeOf() = %q", CodeOf(err))
	}
	if CodeOf(errors.New("plain")) != "" {
		t.Error("CodeOf() of a plain error should be empty")
	}
}

func TestMembers(t *testing.T) {
	_, compute := testKinds()
	inst := fakeInstance{id: "1", kind: compute}

	if !compute.Attach(inst) {
		t.Fatal("first Attach() should report true")
	}
	if compute.Attach(inst) {
		t.Error("second Attach() should report false")
	}
	if !compute.Has(inst) {
		t.Error("Has() = false after Attach")
	}
	if n := len(compute.Entities()); n != 1 {
		t.Errorf("Entities() has %d entries, want 1", n)
	}
	if !compute.Detach(inst) || compute.Has(inst) {
		t.Error("Detach() did not remove the instance")
	}
}

type fakeInstance struct {
	id   string
	kind *Kind
}

func (f fakeInstance) ID() string       { return f.id }
func (f fakeInstance) Kind() *Kind      { return f.kind }
func (f fakeInstance) Mixins() []*Mixin { return nil }
