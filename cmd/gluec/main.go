// Command gluec compiles a gluelang source file to LLVM-style IR and,
// unless told otherwise, links and runs it.
package main

import (
	"flag"
	"fmt"
	"os"

	"gluelang/pkg/compiler"
	"gluelang/pkg/utils"
)

func main() {
	os.Exit(run())
}

func run() int {
	fs := flag.NewFlagSet("gluec", flag.ContinueOnError)
	fs.SetOutput(os.Stderr)
	emitLLVM := fs.Bool("emit-llvm", false, "write the IR to <source-file>.ll")
	noExec := fs.Bool("no-exec", false, "skip the execution step")
	compileOut := fs.String("compile", "", "produce a native executable at this path")
	execIR := fs.String("exec-ir", "", "run this pre-existing IR file via the external interpreter; no source file required")
	// ContinueOnError rather than the flag.CommandLine default of
	// ExitOnError: an unknown option must come back through run()'s
	// return value as exit code 1, not flag.Parse's own os.Exit(2).
	if err := fs.Parse(os.Args[1:]); err != nil {
		return 1
	}

	if *execIR != "" {
		if err := compiler.ExecuteIRFile(*execIR); err != nil {
			fmt.Fprintln(os.Stderr, "error:", err)
			return 1
		}
		return 0
	}

	if fs.NArg() < 1 {
		fmt.Fprintln(os.Stderr, "usage: gluec <source-file> [options]")
		fs.Usage()
		return 1
	}
	sourcePath := fs.Arg(0)

	fullPath, _, err := utils.GetPathInfo(sourcePath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		return 1
	}

	source, err := os.ReadFile(fullPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to read %q: %v\n", sourcePath, err)
		return 1
	}

	// CompileSource's returned error just summarizes parse/codegen
	// diagnostics already written to stderr; per the CLI contract those
	// diagnostics alone do not change the exit code, so the pipeline keeps
	// going (the resulting IR may be invalid, and a later stage may fail
	// because of it).
	cg, _, _ := compiler.CompileSource(string(source))

	if *emitLLVM {
		llPath := utils.AppendExt(sourcePath, ".ll")
		if err := cg.SaveIR(llPath); err != nil {
			fmt.Fprintf(os.Stderr, "failed to write %q: %v\n", llPath, err)
			return 1
		}
	}

	if *compileOut != "" {
		if err := cg.CompileToExecutable(*compileOut); err != nil {
			fmt.Fprintln(os.Stderr, "error:", err)
			return 1
		}
	}

	if !*noExec {
		if err := cg.Execute(); err != nil {
			fmt.Fprintln(os.Stderr, "error:", err)
			return 1
		}
	}

	return 0
}
