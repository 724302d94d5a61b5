// Package call is the Call Sequencer (spec component 9): building a callee's stackframe, writing
// its fixed fields and arguments, transferring control, and unwinding afterwards. It also
// supplies the Register File's PredeclaredHook (spec §4.9) and doubles as the Expression
// Evaluator's Dispatcher, since both a named/operator call and a predeclared-variable
// write-through callback are the same underlying sequence. It is grounded on
// original_source/generatefunctioncall.callfunctionnow.tools.evaluateexpression.parsestatement.lyrical.c
// and original_source/callfunctionnow.tools.evaluateexpression.parsestatement.lyrical.c, spec
// §4.6/§4.9.
package call

import (
	"vslcore/src/ir"
	"vslcore/src/memory"
	"vslcore/src/regfile"
	"vslcore/src/stackframe"
	"vslcore/src/util"
	"vslcore/src/variable"
)

// stackPtrId is the implicit stack-pointer register, id 0, never allocated out of a regfile.File
// (the same convention src/memory's regId(nil) resolves to).
const stackPtrId = 0

// Param describes one parameter of a callable signature.
type Param struct {
	TypeName string
	Size     int
	ByRef    bool
}

// FuncInfo is everything the Call Sequencer needs to know about a call target, supplied by the
// surrounding compiler's symbol table (spec §6: the core consumes, never builds, this
// information).
type FuncInfo struct {
	Id       int    // Opaque target function id; 0 for an imported/indirect-only target.
	Label    string // Code-address label, valid for a direct call (Id != 0 and not a pointer call).
	ParentId int    // Lexical parent function id, 0 if top-level; resolves field 3.
	Params   []Param
	Variadic bool
	RetType  string
	RetSize  int // 0 means the call has no return value.
	UsesThis bool
	Imported bool // No symbolic layout available; use the configured stack-usage bound instead.
}

// Resolver looks up a call target. A named or operator call resolves by its composed signature
// (spec §4.5.2); the indirect form is already known to the caller (the variable holding the
// pointer carries its own embedded signature, parsed by the surrounding compiler).
type Resolver interface {
	Resolve(signature string) (*FuncInfo, bool)
}

// Sequencer is the per-function call-lowering context.
type Sequencer struct {
	opt      util.Options
	store    *variable.Store
	regs     *regfile.File
	mem      *memory.Lowering
	fn       *ir.Function
	sf       *stackframe.Engine
	resolver Resolver
}

// New returns a Sequencer wired to resolver for signature/target lookup. It installs itself as
// regs' PredeclaredHook, closing the write-through-callback loop spec §4.9 describes.
func New(opt util.Options, store *variable.Store, regs *regfile.File, mem *memory.Lowering, fn *ir.Function, sf *stackframe.Engine, resolver Resolver) *Sequencer {
	s := &Sequencer{opt: opt, store: store, regs: regs, mem: mem, fn: fn, sf: sf, resolver: resolver}
	regs.SetPredeclaredHook(s.onPredeclaredFlush)
	return s
}

// Call implements eval.Dispatcher: it resolves signature to a direct call target and sequences
// the call.
func (s *Sequencer) Call(signature string, args []*variable.Variable) (*variable.Variable, error) {
	info, ok := s.resolver.Resolve(signature)
	if !ok {
		return nil, util.NewError(util.ErrType, 0, 0, "no function or operator matches signature %q", signature)
	}
	return s.call(info, nil, args)
}

// CallIndirect sequences a call through a pointer-to-function variable ptr, whose signature the
// surrounding compiler has already parsed into info (spec §4.5.2: "if calling through a pointer
// to function, it parses the pointer's embedded signature").
func (s *Sequencer) CallIndirect(ptr *variable.Variable, info *FuncInfo, args []*variable.Variable) (*variable.Variable, error) {
	return s.call(info, ptr, args)
}

// onPredeclaredFlush is regfile.PredeclaredHook: a predeclared variable's write triggers a call
// to its callback with no arguments, no this, no return, through its fixed constant address
// (spec §4.9).
func (s *Sequencer) onPredeclaredFlush(r *regfile.Register) error {
	info := &FuncInfo{RetSize: 0}
	_, err := s.call(info, callbackPointer(r.V), nil)
	return err
}

// callbackPointer returns a synthetic readonly Variable whose runtime value is v's own constant
// address, standing in for "the variable's constant address (type voidfnc)" spec §4.9 calls for.
func callbackPointer(v *variable.Variable) *variable.Variable {
	return &variable.Variable{
		Name:      v.Name + ".callbackptr",
		Region:    variable.RegionNone,
		TypeName:  "voidfnc",
		IsNumber:  true,
		NumValue:  v.FixedAddr,
	}
}

// call is the shared sequencing algorithm for a direct (ptr == nil) or indirect call, spec §4.6's
// six numbered steps.
func (s *Sequencer) call(info *FuncInfo, ptr *variable.Variable, args []*variable.Variable) (*variable.Variable, error) {
	util.Log.Debugf("call: sequencing call to %q (%d args, retsize %d)", info.Label, len(args), info.RetSize)
	if err := s.validateByRef(info, args); err != nil {
		return nil, err
	}

	if err := s.regs.FlushAndDiscardAll(regfile.DiscardFlushAndDiscardAll); err != nil {
		return nil, err
	}

	frameSize, argsBase := s.frameLayout(info)

	s.fn.Emit(&ir.Instruction{Op: ir.OpStackpageAlloc, Reg: [3]int{-1, -1, -1}, Imm: frameSize})

	var result *variable.Variable
	var retAddrReg *regfile.Register
	if info.RetSize > 0 {
		var err error
		result, err = s.store.NewTemp(s.fn.Id, info.RetType, info.RetSize)
		if err != nil {
			return nil, err
		}
		retAddrReg, err = s.regs.Alloc(regfile.AllocAny)
		if err != nil {
			return nil, err
		}
		s.regs.Lock(retAddrReg)
		if err := s.mem.GenerateLoadInstr(retAddrReg, result, s.opt.SizeOfGPR, 0, memory.LoadAddr); err != nil {
			s.regs.Unlock(retAddrReg)
			return nil, err
		}
	}

	if err := s.writeFixedFields(info, ptr, retAddrReg); err != nil {
		return nil, err
	}
	if retAddrReg != nil {
		s.regs.Unlock(retAddrReg)
	}

	if err := s.writeArguments(info, args, argsBase); err != nil {
		return nil, err
	}

	if err := s.regs.FlushAndDiscardAll(regfile.DiscardFlushAndDiscardAll); err != nil {
		return nil, err
	}

	if ptr == nil {
		s.fn.Emit(&ir.Instruction{Op: ir.OpCall, Reg: [3]int{-1, -1, -1}, Label: info.Label})
		if info.Id != 0 {
			s.fn.RecordCall(info.Id)
		}
	} else {
		ptrReg, err := s.mem.GetRegForVar(ptr, 0, s.opt.SizeOfGPR, 0, memory.ForInput)
		if err != nil {
			return nil, err
		}
		s.fn.Emit(&ir.Instruction{Op: ir.OpCallIndirect, Reg: [3]int{ptrReg.Id, -1, -1}})
	}

	s.fn.Emit(&ir.Instruction{Op: ir.OpStackpageFree, Reg: [3]int{-1, -1, -1}})

	return result, nil
}

// validateByRef rejects a bitselected or readonly argument passed to a by-ref parameter (spec
// §4.5.2's firstpass is-to-be-passed-by-ref check, moved here since this core has no separate
// firstpass/secondpass split for call validation).
func (s *Sequencer) validateByRef(info *FuncInfo, args []*variable.Variable) error {
	for i, p := range info.Params {
		if !p.ByRef || i >= len(args) {
			continue
		}
		a := args[i]
		if a.Bitselect != 0 || a.Readonly() {
			return util.NewError(util.ErrSemantic, 0, 0,
				"argument %d cannot be passed by reference: bitselected or readonly", i+1)
		}
	}
	return nil
}

// frameLayout returns the callee's total frame size (fixed fields plus the symbolic callee
// layout and the concrete argument-block size computed from info.Params) and the immediate
// descriptor for the argument block's own base offset, spec §4.6 step 1.
func (s *Sequencer) frameLayout(info *FuncInfo) (*ir.ImmediateDescriptor, *ir.ImmediateDescriptor) {
	base := ir.Lit(int64(ir.FixedFieldCount * s.opt.SizeOfGPR))
	if !info.Imported && info.Id != 0 {
		base = base.Add(ir.ImmTerm{Kind: ir.TermStackframePtrCacheSize, Func: info.Id})
		base = base.Add(ir.ImmTerm{Kind: ir.TermSharedRegionSize, Func: info.Id})
		base = base.Add(ir.ImmTerm{Kind: ir.TermLocalsSize, Func: info.Id})
	}

	total := base
	if info.Imported || info.Id == 0 {
		total = ir.Lit(int64(s.opt.MaxStackUsage))
	} else {
		argsSize := s.argsSize(info)
		total = base.Add(ir.ImmTerm{Kind: ir.TermLiteral, Literal: int64(argsSize)})
	}
	return &total, &base
}

// argsSize returns the byte size of the argument block, each argument rounded up to a whole
// machine word (spec §4.6 step 4's per-argument slot sizing).
func (s *Sequencer) argsSize(info *FuncInfo) int {
	gpr := s.opt.SizeOfGPR
	n := 0
	for _, p := range info.Params {
		sz := p.Size
		if p.ByRef {
			sz = gpr
		}
		n += ((sz + gpr - 1) / gpr) * gpr
	}
	return n
}

// writeFixedFields writes regular-stackframe fields 2-6 (spec §4.6): previous-stackframe
// pointer, parent-stackframe pointer, stackframe-id, this, and retvar address. Field 1 (the
// return-address marker) and field 7 (the actual return address) are the callee's own
// responsibility to plant on entry/return; this sequencer never writes them.
func (s *Sequencer) writeFixedFields(info *FuncInfo, ptr *variable.Variable, retAddrReg *regfile.Register) error {
	gpr := s.opt.SizeOfGPR

	s.fn.Emit(&ir.Instruction{
		Op: ir.OpStore, Reg: [3]int{stackPtrId, stackPtrId, -1},
		Imm: litOff(ir.FieldPrevStackframe, gpr), Width: gpr,
	})

	if ptr == nil && info.ParentId != 0 {
		level, ok := s.sf.LevelOf(info.ParentId)
		if ok {
			var parentId int
			if level == 0 {
				parentId = stackPtrId
			} else {
				ref, err := s.sf.GetRegPtrToFuncStackframe(level)
				if err != nil {
					return err
				}
				if ref.StackPointer {
					parentId = stackPtrId
				} else {
					parentId = ref.Reg.Id
				}
			}
			s.fn.Emit(&ir.Instruction{
				Op: ir.OpStore, Reg: [3]int{stackPtrId, parentId, -1},
				Imm: litOff(ir.FieldParentStackframe, gpr), Width: gpr,
			})
		}
	}

	idReg, err := s.stackframeIdReg(info, ptr)
	if err != nil {
		return err
	}
	s.fn.Emit(&ir.Instruction{
		Op: ir.OpStore, Reg: [3]int{stackPtrId, idReg, -1},
		Imm: litOff(ir.FieldStackframeId, gpr), Width: gpr,
	})

	if info.UsesThis {
		thisReg, err := s.sf.GetRegPtrToThis()
		if err != nil {
			return err
		}
		s.fn.Emit(&ir.Instruction{
			Op: ir.OpStore, Reg: [3]int{stackPtrId, thisReg.Id, -1},
			Imm: litOff(ir.FieldThis, gpr), Width: gpr,
		})
	}

	if retAddrReg != nil {
		s.fn.Emit(&ir.Instruction{
			Op: ir.OpStore, Reg: [3]int{stackPtrId, retAddrReg.Id, -1},
			Imm: litOff(ir.FieldRetvarAddr, gpr), Width: gpr,
		})
	}

	return nil
}

// stackframeIdReg materializes field 4, the code address the callee's stackframe is tagged with:
// afip to the known label for a direct call, or the pointer variable's own runtime value for an
// indirect call (spec §4.6 step 3: "via afip or by reading a pointer-to-function register").
func (s *Sequencer) stackframeIdReg(info *FuncInfo, ptr *variable.Variable) (int, error) {
	if ptr == nil {
		r, err := s.regs.Alloc(regfile.AllocAny)
		if err != nil {
			return 0, err
		}
		s.fn.Emit(&ir.Instruction{
			Op: ir.OpAfip, Reg: [3]int{r.Id, -1, -1},
			Imm: &ir.ImmediateDescriptor{Terms: []ir.ImmTerm{{Kind: ir.TermFuncCodeOffset, Func: info.Id}}},
		})
		return r.Id, nil
	}
	r, err := s.mem.GetRegForVar(ptr, 0, s.opt.SizeOfGPR, 0, memory.ForInput)
	if err != nil {
		return 0, err
	}
	return r.Id, nil
}

// writeArguments stores each argument into its slot under argsBase (spec §4.6 step 4): a by-ref
// argument's address, or a scalar's possibly-truncated value for a word-or-smaller argument, or
// a memcpyi for anything larger. Fails with a resource error once the cumulative argument area
// exceeds the configured limit.
func (s *Sequencer) writeArguments(info *FuncInfo, args []*variable.Variable, argsBase *ir.ImmediateDescriptor) error {
	gpr := s.opt.SizeOfGPR
	offset := 0

	for i, a := range args {
		var p Param
		if i < len(info.Params) {
			p = info.Params[i]
		} else if info.Variadic {
			p = Param{TypeName: a.TypeName, Size: sizeOf(gpr, a)}
		} else {
			return util.NewError(util.ErrSemantic, 0, 0, "too many arguments: %d declared, %d passed", len(info.Params), len(args))
		}

		slot := argsBase.Add(ir.ImmTerm{Kind: ir.TermLiteral, Literal: int64(offset)})

		if p.ByRef {
			r, err := s.regs.Alloc(regfile.AllocAny)
			if err != nil {
				return err
			}
			s.regs.Lock(r)
			if err := s.mem.GenerateLoadInstr(r, a, gpr, 0, memory.LoadAddr); err != nil {
				s.regs.Unlock(r)
				return err
			}
			s.fn.Emit(&ir.Instruction{Op: ir.OpStore, Reg: [3]int{stackPtrId, r.Id, -1}, Imm: &slot, Width: gpr})
			s.regs.Unlock(r)
			offset += gpr
			continue
		}

		effSize := p.Size
		if as := sizeOf(gpr, a); as < effSize {
			effSize = as
		}

		if effSize <= gpr {
			r, err := s.mem.GetRegForVar(a, 0, effSize, 0, memory.ForInput)
			if err != nil {
				return err
			}
			s.fn.Emit(&ir.Instruction{Op: ir.OpStore, Reg: [3]int{stackPtrId, r.Id, -1}, Imm: &slot, Width: effSize})
			offset += ((effSize + gpr - 1) / gpr) * gpr
			continue
		}

		srcReg, err := s.regs.Alloc(regfile.AllocAny)
		if err != nil {
			return err
		}
		s.regs.Lock(srcReg)
		if err := s.mem.GenerateLoadInstr(srcReg, a, gpr, 0, memory.LoadAddr); err != nil {
			s.regs.Unlock(srcReg)
			return err
		}
		s.fn.Emit(&ir.Instruction{
			Op: ir.OpMemcpyI, Reg: [3]int{stackPtrId, srcReg.Id, -1}, Imm: &slot, Width: effSize,
		})
		s.regs.Unlock(srcReg)
		words := (effSize + gpr - 1) / gpr
		offset += words * gpr
	}

	if offset > s.opt.MaxArgUsage {
		return util.NewError(util.ErrResource, 0, 0,
			"call-args-usage-exceeds-limit: %d bytes exceeds the %d byte limit", offset, s.opt.MaxArgUsage)
	}
	return nil
}

func sizeOf(gpr int, v *variable.Variable) int {
	if v.Size > 0 {
		return v.Size
	}
	return gpr
}

func litOff(field, gpr int) *ir.ImmediateDescriptor {
	d := ir.Lit(int64(field * gpr))
	return &d
}
