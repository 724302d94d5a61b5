// Package variable is the universe of compile-time variables: locals, globals, arguments,
// generated temporaries, deduplicated number/string constants, address-of and dereference
// synthetics, and offset-suffixed member variables. It is spec component 2 ("Variable Store").
//
// The store never emits instructions itself — GetVarDuplicate takes a copy-emission callback so
// this package stays independent of src/ir and src/regfile, the way the teacher's predeclared
// variable support passes a callback across the same boundary (spec §4.9).
package variable

import (
	"fmt"
	"sync"

	"github.com/pkg/errors"

	"vslcore/src/util"
)

// ----------------------------
// ----- Type definitions -----
// ----------------------------

// Region identifies which of a function's memory regions a Variable's Offset is relative to.
type Region int

const (
	// RegionNone marks a Variable that is not memory-resident: a number constant, a synthetic
	// address-of/dereference, or any other compiler-internal value.
	RegionNone Region = iota
	RegionArgs
	RegionLocals
	RegionGlobals
)

// Variable is spec §3's Variable entity.
type Variable struct {
	Name   string
	Owner  int    // Opaque identifier of the owning function, supplied by the caller.
	Region Region
	Offset int
	Size   int // In bytes. 0 for compiler-synthesized, non-memory-resident values.

	TypeName string
	CastName string
	Bitselect uint64

	IsNumber bool
	NumValue int64

	IsString     bool
	StringOffset int

	IsFunctionAddress bool
	TargetFunc        int // Opaque function identifier, when IsFunctionAddress.

	IsByRef bool

	IsPredeclared bool
	Callback      int   // Opaque function identifier of the write-through callback, or 0.
	FixedAddr     int64 // Absolute address, valid when IsPredeclared.

	IsAddressOf     bool
	AddressOfTarget *Variable // Valid when IsAddressOf.

	IsDereference bool
	DerefTarget   *Variable // Valid when IsDereference: the variable whose value is the pointer to dereference.

	AlwaysVolatile   bool
	PreserveTempAttr bool
}

// Readonly reports whether v can never be the destination of a write (spec §3: "Variables are
// readonly iff they are constant, function-address, string, or an address-of another variable").
func (v *Variable) Readonly() bool {
	return v.IsNumber || v.IsFunctionAddress || v.IsString || v.IsAddressOf
}

// String names the variable for diagnostics.
func (v *Variable) String() string {
	return v.Name
}

// ----------------------------
// ----- Store -----
// ----------------------------

type numberKey struct {
	value int64
	typ   string
}

// Store owns every Variable created while compiling one unit. Variables, like Functions and
// Types, are created during firstpass and looked up by identity during secondpass (spec §3
// lifecycle); the Store itself never distinguishes the two passes — callers do, by holding onto
// the *Variable they got back.
//
// A Store is shared by every Function in a compile unit, including during src/compiler's one
// sanctioned concurrency carve-out (parallel secondpass across sibling functions), so every
// mutating method takes mu.
type Store struct {
	opt util.Options
	mu  sync.Mutex

	vars []*Variable

	numberDedup map[numberKey]*Variable
	stringDedup map[string]*Variable

	tempSeq        int
	localsUsed     map[int]int // owner -> bytes of locals region used.
	globalsUsed    int
	tempDependents map[*Variable][]*Variable // parent temp -> its offset-suffixed/dereference descendants.
}

// NewStore returns an empty Store governed by opt's resource budgets.
func NewStore(opt util.Options) *Store {
	return &Store{
		opt:            opt,
		numberDedup:    make(map[numberKey]*Variable),
		stringDedup:    make(map[string]*Variable),
		localsUsed:     make(map[int]int),
		tempDependents: make(map[*Variable][]*Variable),
	}
}

func (s *Store) add(v *Variable) *Variable {
	s.vars = append(s.vars, v)
	return v
}

// LocalsUsed returns the number of bytes owner's locals region currently occupies, for layout
// finalization after secondpass (spec §3: "layout sizes computed after the firstpass").
func (s *Store) LocalsUsed(owner int) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.localsUsed[owner]
}

// DeclareLocal creates a named local variable in owner's locals region.
func (s *Store) DeclareLocal(owner int, name, typeName string, size int) (*Variable, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.localsUsed[owner]+size > s.opt.MaxStackUsage {
		return nil, util.NewError(util.ErrResource, 0, 0,
			"local variable %q exceeds maximum stack usage of %d bytes", name, s.opt.MaxStackUsage)
	}
	v := &Variable{Name: name, Owner: owner, Region: RegionLocals, Offset: s.localsUsed[owner], Size: size, TypeName: typeName}
	s.localsUsed[owner] += size
	return s.add(v), nil
}

// DeclareGlobal creates a named global variable.
func (s *Store) DeclareGlobal(name, typeName string, size int) (*Variable, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.globalsUsed+size > s.opt.MaxStackUsage {
		return nil, util.NewError(util.ErrResource, 0, 0,
			"global variable %q exceeds maximum globals size of %d bytes", name, s.opt.MaxStackUsage)
	}
	v := &Variable{Name: name, Region: RegionGlobals, Offset: s.globalsUsed, Size: size, TypeName: typeName}
	s.globalsUsed += size
	return s.add(v), nil
}

// DeclareArg creates a named, positionally-offset argument variable of owner.
func (s *Store) DeclareArg(owner int, name, typeName string, size, offset int, byref bool) *Variable {
	s.mu.Lock()
	defer s.mu.Unlock()
	v := &Variable{Name: name, Owner: owner, Region: RegionArgs, Offset: offset, Size: size, TypeName: typeName, IsByRef: byref}
	return s.add(v)
}

// NewTemp creates a uniquely-named temporary variable of owner in its locals region.
func (s *Store) NewTemp(owner int, typeName string, size int) (*Variable, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.newTempLocked(owner, typeName, size)
}

func (s *Store) newTempLocked(owner int, typeName string, size int) (*Variable, error) {
	if s.localsUsed[owner]+size > s.opt.MaxStackUsage {
		return nil, util.NewError(util.ErrResource, 0, 0,
			"temporary variable exceeds maximum stack usage of %d bytes", s.opt.MaxStackUsage)
	}
	s.tempSeq++
	name := fmt.Sprintf("%%temp%04d", s.tempSeq)
	v := &Variable{Name: name, Owner: owner, Region: RegionLocals, Offset: s.localsUsed[owner], Size: size, TypeName: typeName}
	s.localsUsed[owner] += size
	return s.add(v), nil
}

// NewNumberConstant returns the Variable holding value typed typeName, reusing a prior one with
// the same (value, type) pair (spec §4.1: "number constant with deduplication by (value, type)").
func (s *Store) NewNumberConstant(value int64, typeName string, size int) *Variable {
	s.mu.Lock()
	defer s.mu.Unlock()
	k := numberKey{value: value, typ: typeName}
	if v, ok := s.numberDedup[k]; ok {
		return v
	}
	v := &Variable{
		Name:     fmt.Sprintf("%d", value),
		Region:   RegionNone,
		TypeName: typeName,
		IsNumber: true,
		NumValue: value,
	}
	_ = size
	s.numberDedup[k] = v
	return s.add(v)
}

// NewStringConstant returns the Variable addressing literal s in the string region, reusing a
// prior one with the same payload (spec §4.1: "string constant with deduplication by payload").
func (s *Store) NewStringConstant(payload string, offset int) *Variable {
	s.mu.Lock()
	defer s.mu.Unlock()
	if v, ok := s.stringDedup[payload]; ok {
		return v
	}
	v := &Variable{
		Name:         fmt.Sprintf("%q", payload),
		Region:       RegionNone,
		IsString:     true,
		StringOffset: offset,
	}
	s.stringDedup[payload] = v
	return s.add(v)
}

// NewFunctionAddress returns a readonly Variable whose value is the code address of fn.
func (s *Store) NewFunctionAddress(fn int, name string) *Variable {
	s.mu.Lock()
	defer s.mu.Unlock()
	v := &Variable{Name: name, Region: RegionNone, IsFunctionAddress: true, TargetFunc: fn}
	return s.add(v)
}

// AddressOf yields a synthetic readonly Variable whose name textually encodes &(v), and marks v
// AlwaysVolatile (spec §4.1 and the invariant that address-taken variables are permanently
// volatile).
func (s *Store) AddressOf(v *Variable) *Variable {
	s.mu.Lock()
	defer s.mu.Unlock()
	v.AlwaysVolatile = true
	addr := &Variable{
		Name:            fmt.Sprintf("&(%s)", v.Name),
		Owner:           v.Owner,
		Region:          RegionNone,
		TypeName:        "int",
		IsAddressOf:     true,
		AddressOfTarget: v,
	}
	s.tempDependents[v] = append(s.tempDependents[v], addr)
	return s.add(addr)
}

// Dereference yields a synthetic Variable whose name textually encodes (*(cast)v), marked
// AlwaysVolatile per spec §3's dereference-variable invariant.
func (s *Store) Dereference(v *Variable, castName string, size int) *Variable {
	s.mu.Lock()
	defer s.mu.Unlock()
	d := &Variable{
		Name:           fmt.Sprintf("(*(%s)%s)", castName, v.Name),
		Owner:          v.Owner,
		Region:         RegionNone,
		Size:           size,
		CastName:       castName,
		IsDereference:  true,
		DerefTarget:    v,
		AlwaysVolatile: true,
	}
	s.tempDependents[v] = append(s.tempDependents[v], d)
	return s.add(d)
}

// ProcessVarOffsetIfAny splits a variable name of the form "base.N" into its base name and the
// numeric offset N, per spec §4.1's process-var-offset-if-any and §3's invariant that
// offset-suffixed names always resolve to a main variable plus an offset.
func ProcessVarOffsetIfAny(name string) (base string, offset int, ok bool) {
	dot := -1
	for i := len(name) - 1; i >= 0; i-- {
		if name[i] == '.' {
			dot = i
			break
		}
	}
	if dot < 0 || dot == len(name)-1 {
		return name, 0, false
	}
	n := 0
	for _, c := range name[dot+1:] {
		if c < '0' || c > '9' {
			return name, 0, false
		}
		n = n*10 + int(c-'0')
	}
	return name[:dot], n, true
}

// GetVarDuplicate produces a tempvar holding the same value as src and invokes copy to emit the
// instruction that materializes it; copy is supplied by the caller (the expression evaluator or
// call sequencer) so this package never depends on src/ir or src/regfile.
func (s *Store) GetVarDuplicate(src *Variable, copy func(dst, src *Variable) error) (*Variable, error) {
	dst, err := s.NewTemp(src.Owner, src.TypeName, src.Size)
	if err != nil {
		return nil, errors.Wrap(err, "get-var-duplicate")
	}
	if copy != nil {
		if err := copy(dst, src); err != nil {
			return nil, err
		}
	}
	s.mu.Lock()
	s.tempDependents[src] = append(s.tempDependents[src], dst)
	s.mu.Unlock()
	return dst, nil
}

// FreeTempVarRelated frees v and, recursively, every variable recorded as derived from it when
// it was created (by AddressOf, Dereference or GetVarDuplicate) (spec §4.1's
// var-free-temp-var-related). Dependents are found through that record only; names are not
// scanned.
func (s *Store) FreeTempVarRelated(v *Variable) {
	if v == nil {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	var free func(v *Variable)
	free = func(v *Variable) {
		for _, dep := range s.tempDependents[v] {
			free(dep)
		}
		delete(s.tempDependents, v)
		if v.Region == RegionLocals {
			// When v is the last slot of its owner's locals region, give it back to the locals
			// budget so later temporaries in the same function can reuse it; a slot below
			// another live variable stays reserved.
			if used := s.localsUsed[v.Owner]; v.Offset+v.Size == used {
				s.localsUsed[v.Owner] = used - v.Size
			}
		}
	}
	free(v)
}
