// Command vslcorec is the CLI entrypoint around this module's code generator core: it parses
// command-line flags into a util.Options (replacing the teacher's hand-rolled util.ParseArgs with
// cobra/pflag), reads source text the same way util.ReadSource always has, and either dumps the
// token stream or reports that full source-to-assembly compilation needs a tree-walking frontend
// this repository deliberately does not contain (spec §1's explicit "deliberately OUT of scope"
// boundary: the core consumes an already-built expression tree, it does not parse one).
//
// A real surrounding compiler plugs its tree-walker in as a compiler.Generator and drives
// compiler.Unit directly; this binary exists to exercise Options-from-flags wiring and the token
// stream, not to stand in for that surrounding compiler.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"vslcore/src/frontend"
	"vslcore/src/util"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

// newRootCmd builds the cobra command tree: a single root command taking the same dials the
// teacher's util.ParseArgs exposed (-o, -t, -arch, -os, -vendor, -vb, -ts) plus the core's own
// resource-budget flags (spec §6's tunable constants), all landing in one util.Options.
func newRootCmd() *cobra.Command {
	opt := util.Defaults()
	var arch, osName, vendor string

	cmd := &cobra.Command{
		Use:          "vslcorec [source file]",
		Short:        "Code generator core CLI",
		Args:         cobra.MaximumNArgs(1),
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(args) == 1 {
				opt.Src = args[0]
			}
			if err := resolveTargetFlags(&opt, arch, osName, vendor); err != nil {
				return err
			}
			util.SetVerbose(opt.Verbose)
			return run(opt)
		},
	}

	flags := cmd.Flags()
	flags.StringVarP(&opt.Out, "out", "o", opt.Out, "path to output file (stdout if empty)")
	flags.IntVarP(&opt.Threads, "threads", "t", 1, "threads to parallelise secondpass across sibling functions")
	flags.BoolVarP(&opt.Verbose, "verbose", "v", opt.Verbose, "log compiler statistics")
	flags.BoolVar(&opt.TokenStream, "tokenstream", opt.TokenStream, "print the token stream and exit")
	flags.StringVar(&arch, "arch", "", "target architecture: x86_64, x86_32, aarch64, riscv64, riscv32")
	flags.StringVar(&osName, "os", "", "target operating system: linux, windows, mac")
	flags.StringVar(&vendor, "vendor", "", "target vendor: pc, apple, ibm")

	flags.IntVar(&opt.GPRCount, "gpr-count", opt.GPRCount, "virtual registers in the per-function ring, excluding register 0")
	flags.IntVar(&opt.SizeOfGPR, "gpr-size", opt.SizeOfGPR, "size in bytes of a general purpose register")
	flags.IntVar(&opt.PageSize, "page-size", opt.PageSize, "bytes probed/allocated per stack page")
	flags.IntVar(&opt.MaxStackUsage, "max-stack-usage", opt.MaxStackUsage, "maximum bytes a single function's stackframe may occupy")
	flags.IntVar(&opt.MaxArgUsage, "max-arg-usage", opt.MaxArgUsage, "maximum bytes the argument-writing area of a call may occupy")
	flags.IntVar(&opt.MaxStackframePtrCache, "sfp-cache-max", opt.MaxStackframePtrCache, "maximum bytes the ancestor-stackframe-pointer cache may occupy")
	flags.BoolVar(&opt.EmitComments, "emit-comments", opt.EmitComments, "interleave non-semantic comment instructions in the output stream")
	flags.BoolVar(&opt.AllVarVolatile, "all-var-volatile", opt.AllVarVolatile, "treat every variable binding as volatile; never elide a reload")

	return cmd
}

// resolveTargetFlags maps the string target flags onto util.Options' numeric target fields,
// mirroring the teacher's -arch/-os/-vendor switch statements in util.ParseArgs.
func resolveTargetFlags(opt *util.Options, arch, osName, vendor string) error {
	archs := map[string]int{
		"x86_64": util.X86_64, "x86_32": util.X86_32,
		"aarch64": util.Aarch64, "riscv64": util.Riscv64, "riscv32": util.Riscv32,
	}
	osNames := map[string]int{"linux": util.Linux, "windows": util.Windows, "mac": util.MAC}
	vendors := map[string]int{"pc": util.PC, "apple": util.Apple, "ibm": util.IBM}

	if arch != "" {
		v, ok := archs[arch]
		if !ok {
			return fmt.Errorf("unexpected architecture identifier: %s", arch)
		}
		opt.TargetArch = v
	}
	if osName != "" {
		v, ok := osNames[osName]
		if !ok {
			return fmt.Errorf("unexpected operating system identifier: %s", osName)
		}
		opt.TargetOS = v
	}
	if vendor != "" {
		v, ok := vendors[vendor]
		if !ok {
			return fmt.Errorf("unexpected vendor identifier: %s", vendor)
		}
		opt.TargetVendor = v
	}
	return nil
}

// run reads source and either dumps its token stream (the -tokenstream diagnostic, ported from
// the teacher's frontend.TokenStream) or reports that this binary has no tree-walker to hand
// compiler.Unit a Generator with.
func run(opt util.Options) error {
	src, err := util.ReadSource(opt)
	if err != nil {
		return fmt.Errorf("could not read source code: %w", err)
	}

	if opt.TokenStream {
		toks, err := frontend.Tokenize(src)
		if err != nil {
			return fmt.Errorf("syntax error: %w", err)
		}
		return writeTokens(opt, toks)
	}

	return fmt.Errorf("no tree-walking frontend is wired into this binary; " +
		"a surrounding compiler drives vslcore/src/compiler.Unit directly with its own Generator")
}

// writeTokens prints one token per line to opt.Out (or stdout), the same destination util.Writer
// would target for assembly output.
func writeTokens(opt util.Options, toks []frontend.Token) error {
	out := os.Stdout
	if opt.Out != "" {
		f, err := os.OpenFile(opt.Out, os.O_TRUNC|os.O_CREATE|os.O_WRONLY, 0644)
		if err != nil {
			return fmt.Errorf("could not open output file: %w", err)
		}
		defer f.Close()
		out = f
	}
	for _, tok := range toks {
		if _, err := fmt.Fprintln(out, tok.String()); err != nil {
			return err
		}
	}
	return nil
}
