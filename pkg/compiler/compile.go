package compiler

import (
	"fmt"
	"os"
)

// CompileSource runs the full pipeline over src: Tokenize, Parse (collecting
// per-statement diagnostics to stderr via its own recovery), then codegen.
// It always returns the CodeGen used (even on diagnostics), so callers can
// inspect CodeGen.Diagnostics, save IR, or proceed to execution.
func CompileSource(src string) (*CodeGen, string, error) {
	tokens := Tokenize(src)

	parseErrs := 0
	prog := Parse(tokens, src, func(err error) {
		parseErrs++
		fmt.Fprintln(os.Stderr, "parse error:", err)
	})

	cg := NewCodeGen()
	ir := cg.Generate(prog)

	if parseErrs > 0 || len(cg.Diagnostics) > 0 {
		return cg, ir, fmt.Errorf("parse reported %d error(s), codegen reported %d diagnostic(s)", parseErrs, len(cg.Diagnostics))
	}
	return cg, ir, nil
}
