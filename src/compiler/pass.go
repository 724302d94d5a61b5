package compiler

import (
	"sync"

	"vslcore/src/ir"
	"vslcore/src/regfile"
	"vslcore/src/util"
)

// Analyzer performs the surrounding compiler's firstpass walk over one function's body: it sets
// structural flags the code generator needs before it can start emitting (spec §3 lifecycle:
// Functions/Variables/Types are created in firstpass; "its-pointer-is-obtained",
// "could-not-get-a-stackframe-holder" and the called-functions list are exactly such flags). The
// core itself never walks a syntax tree (spec §1), so this callback belongs to the caller who
// does; Unit only sequences it and, from its results, decides stackframe-holder assignment.
type Analyzer func(fn *ir.Function) error

// FirstPass runs analyze sequentially over every registered function in registration order (spec
// §5: ordering only matters within one function's emission, but the stackframe-holder assignment
// below reads every function's CouldNotGetSFHolder/Children, so every Analyzer call must finish
// before it runs), then assigns stackframe holders from the resulting flags.
func (u *Unit) FirstPass(analyze Analyzer) error {
	for _, fn := range u.Functions() {
		if analyze == nil {
			continue
		}
		if err := analyze(fn); err != nil {
			return err
		}
	}
	u.assignStackframeHolders()
	return nil
}

// assignStackframeHolders implements the glossary's "stackframe holder" designation: a function
// whose stackframe holds a shared region sized for any one subfunction's tiny frame, saving the
// subfunction its own stackpage probe at call sites. A function qualifies only if it has
// subfunctions to hold frames for and has not itself been disqualified by an inline-asm jpush
// needing the stack pointer at the top of the stack for an indirect call (spec §4.7: "jpush/
// jpushi/jpushr set the enclosing function's could-not-get-a-stackframe-holder flag"). Every
// function (holder or not) then points at the nearest qualifying ancestor, per spec §4.3 step 2's
// "redirect further up to the nearest holder".
func (u *Unit) assignStackframeHolders() {
	for _, fn := range u.order {
		fn.IsStackframeHolder = len(fn.Children) > 0 && !fn.CouldNotGetSFHolder
	}
	for _, fn := range u.order {
		anc := fn.Parent
		for anc != nil && !anc.IsStackframeHolder {
			anc = anc.Parent
		}
		fn.StackframeHolder = anc
	}
}

// SecondPass lowers every registered function's body by calling gen against a freshly wired
// FuncContext, running up to opt.Threads functions concurrently (the one concurrency carve-out
// spec §5/§2 sanctions: independent functions, never two goroutines inside the same function's
// cursor). Each function's generation is independent: the FuncContext it receives owns its own
// register ring, so the only state two goroutines can race on is u.Store (already mutex-guarded)
// and the arena-backed registry (read-only by this point, after FirstPass). Spec §5 has no
// cancellation primitive to interrupt an in-flight function, so every function runs to
// completion; SecondPass then returns the failure belonging to the lowest-Id function, so the
// reported error is deterministic across runs regardless of goroutine scheduling.
func (u *Unit) SecondPass(gen Generator) error {
	fns := u.Functions()
	threads := u.opt.Threads
	if threads < 1 {
		threads = 1
	}

	sem := make(chan struct{}, threads)
	errs := make([]error, len(fns))
	var wg sync.WaitGroup
	for i, fn := range fns {
		i, fn := i, fn
		wg.Add(1)
		sem <- struct{}{}
		go func() {
			defer wg.Done()
			defer func() { <-sem }()
			errs[i] = u.compileOne(fn, gen)
		}()
	}
	wg.Wait()

	for _, err := range errs {
		if err != nil {
			return err
		}
	}
	return nil
}

// compileOne wires fn's FuncContext, runs gen, and finalizes layout bookkeeping: flushing and
// discarding every register (spec §8 invariant 4, checked at function close), requiring every
// label to have resolved (invariant 5), and writing back fn's locals-region size from the shared
// Store (spec §3: "layout sizes computed after the firstpass" — here, after secondpass, since
// temps are allocated while lowering).
func (u *Unit) compileOne(fn *ir.Function, gen Generator) error {
	ctx := u.wire(fn)
	if err := gen(ctx); err != nil {
		return util.Wrap(err, errKindOf(err), 0, 0, "function "+fn.Name)
	}
	if err := ctx.Regs.FlushAndDiscardAll(regfile.DiscardFlushAndDiscardAll); err != nil {
		return err
	}
	if err := fn.Labels.RequireAllResolved(); err != nil {
		return err
	}
	fn.LocalsSize = u.Store.LocalsUsed(fn.Id)
	return nil
}

// errKindOf recovers the ErrKind a lower-level error already carries (so Wrap doesn't mask, say,
// a *resource* error as *internal*), falling back to ErrInternal for an error this core's
// packages never raise (a genuine bug, per spec §7's *internal* kind).
func errKindOf(err error) util.ErrKind {
	for _, k := range []util.ErrKind{util.ErrSyntax, util.ErrType, util.ErrResource, util.ErrSemantic, util.ErrInternal} {
		if util.IsKind(err, k) {
			return k
		}
	}
	return util.ErrInternal
}
