// Package ctype is the type-system query boundary the core consumes from its surrounding
// compiler (spec §6: "a type resolver searchtype(name, scope) returning a type with size and
// optional member list, plus sizeoftype(name)"). The core never constructs or validates types; it
// only asks this interface for sizes and member layouts while lowering loads/stores and call
// arguments.
package ctype

// Kind classifies a Type the way the evaluator and call sequencer need to: is this a plain
// scalar, a pointer, a pointer-to-function, or an aggregate with members.
type Kind int

const (
	KindVoid Kind = iota
	KindInt
	KindFloat
	KindPointer
	KindFunctionPointer
	KindStruct
)

// Member describes one named field of a KindStruct Type.
type Member struct {
	Name   string
	Offset int
	Typ    *Type
}

// Type is the size/layout information returned by a Resolver. It is immutable once constructed.
type Type struct {
	Name    string
	Kind    Kind
	Size    int      // In bytes.
	Elem    *Type    // Pointee type, for KindPointer/KindFunctionPointer.
	Members []Member // Non-nil only for KindStruct.
}

// IsReadonly reports whether a value of this type can never be the destination of a write — the
// void type and function-pointer constants both classify this way in the variable store (spec
// §4.1's readonly-kind rule: constant | function-address | string | address-of).
func (t *Type) IsReadonly() bool {
	return t != nil && (t.Kind == KindVoid || t.Kind == KindFunctionPointer)
}

// Member looks up a named member of a KindStruct Type, returning nil if t is not a struct or has
// no such member.
func (t *Type) Member(name string) *Member {
	if t == nil {
		return nil
	}
	for i := range t.Members {
		if t.Members[i].Name == name {
			return &t.Members[i]
		}
	}
	return nil
}

// Resolver is the boundary implemented by the surrounding compiler (its symbol table and type
// declarations). The core calls SearchType/SizeOfType while lowering; it never caches results
// across functions since two functions may be compiled under different scopes.
type Resolver interface {
	// SearchType resolves name within scope, returning (nil, false) if undeclared.
	SearchType(name string, scope int) (*Type, bool)
	// SizeOfType returns the size in bytes name would occupy within scope.
	SizeOfType(name string, scope int) (int, bool)
}

// staticResolver is a Resolver backed by a fixed type table, useful for tests and for the small
// set of builtin native types (int, float, voidfnc) the core always knows about regardless of
// what the surrounding compiler declares.
type staticResolver struct {
	types map[string]*Type
}

// NewStaticResolver returns a Resolver that always resolves the given types regardless of scope.
func NewStaticResolver(types map[string]*Type) Resolver {
	return &staticResolver{types: types}
}

func (r *staticResolver) SearchType(name string, _ int) (*Type, bool) {
	t, ok := r.types[name]
	return t, ok
}

func (r *staticResolver) SizeOfType(name string, scope int) (int, bool) {
	t, ok := r.SearchType(name, scope)
	if !ok {
		return 0, false
	}
	return t.Size, true
}

// Native returns the builtin native types every core instance resolves without consulting the
// surrounding compiler: int, float and voidfnc (a pointer-to-function, per spec §4.9's
// predeclared-variable-callback type).
func Native(gprSize int) map[string]*Type {
	intT := &Type{Name: "int", Kind: KindInt, Size: gprSize}
	floatT := &Type{Name: "float", Kind: KindFloat, Size: gprSize}
	voidT := &Type{Name: "void", Kind: KindVoid, Size: 0}
	voidFnc := &Type{Name: "voidfnc", Kind: KindFunctionPointer, Size: gprSize, Elem: voidT}
	return map[string]*Type{
		"int":     intT,
		"float":   floatT,
		"void":    voidT,
		"voidfnc": voidFnc,
	}
}
