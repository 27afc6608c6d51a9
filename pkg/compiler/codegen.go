package compiler

import (
	"fmt"
	"os"
	"os/exec"

	"github.com/llir/llvm/ir"
	"github.com/llir/llvm/ir/constant"
	"github.com/llir/llvm/ir/enum"
	"github.com/llir/llvm/ir/types"
	"github.com/llir/llvm/ir/value"
)

// Temporary artifact names. They live under the current working directory,
// per the deterministic, fixed-name layout described for this pipeline;
// concurrent invocations in the same directory will collide on them.
const (
	tempIRPath  = "temp_program.ll"
	helperCPath = "print_helpers.c"
	helperOPath = "print_helpers.o"
)

// printHelpersSource is linked against the generated IR (or, for Execute,
// handed to the IR interpreter as an extra object) to provide the two
// extern print symbols the generated IR calls.
const printHelpersSource = `#include <stdio.h>

void printDouble(double value) {
    printf("%f\n", value);
}

void printString(const char *value) {
    printf("%s\n", value);
}
`

// funcFrame captures the codegen state that is save/restored around a
// nested Function emission: named_values, the function being built, and
// the builder's current position.
type funcFrame struct {
	namedValues map[string]*ir.InstAlloca
	fn          *ir.Func
	entryBlock  *ir.Block
	block       *ir.Block
}

// CodeGen walks an AST and emits LLVM IR into a Module, post-order: every
// genExpr call leaves its result as its return value (the "current value"
// of spec terms), which callers thread through explicitly rather than
// stashing in a shared field.
type CodeGen struct {
	module *ir.Module

	printDoubleFn *ir.Func
	printStringFn *ir.Func

	funcs map[string]*ir.Func // declared user functions, by name, for Call resolution

	namedValues map[string]*ir.InstAlloca // current function's variable -> slot
	funcStack   []funcFrame               // saved frames for nested Function nodes

	currentFunc *ir.Func
	entryBlock  *ir.Block // where VarDecl/param allocas are prepended
	block       *ir.Block // current insertion cursor

	stringPool map[string]*ir.Global // dedupes identical string literals
	nextGlobal int

	errorValue value.Value // error sentinel (a 0.0 double constant) yielded by a failed expression

	// Diagnostics accumulates every codegen error reported during a single
	// Generate call. Emission continues after each one; the resulting IR
	// may be invalid.
	Diagnostics []error
}

// NewCodeGen initializes a fresh module and declares the two extern print
// helpers every generated program may call.
func NewCodeGen() *CodeGen {
	m := ir.NewModule()

	printDouble := m.NewFunc("printDouble", types.Void, ir.NewParam("value", types.Double))
	printString := m.NewFunc("printString", types.Void, ir.NewParam("value", types.I8Ptr))

	return &CodeGen{
		module:        m,
		printDoubleFn: printDouble,
		printStringFn: printString,
		funcs:         make(map[string]*ir.Func),
		stringPool:    make(map[string]*ir.Global),
		errorValue:    constant.NewFloat(types.Double, 0),
	}
}

func (cg *CodeGen) diagnose(err error) {
	cg.Diagnostics = append(cg.Diagnostics, err)
	fmt.Fprintln(os.Stderr, err)
}

func (cg *CodeGen) newGlobalName(prefix string) string {
	cg.nextGlobal++
	return fmt.Sprintf("%s.%d", prefix, cg.nextGlobal)
}

// createEntryAlloca allocates a named double slot at the very start of the
// current function's entry block, regardless of where the builder's
// current insertion point has since moved to.
func (cg *CodeGen) createEntryAlloca(name string) *ir.InstAlloca {
	alloca := ir.NewAlloca(types.Double)
	alloca.LocalName = name
	cg.entryBlock.Insts = append([]ir.Instruction{alloca}, cg.entryBlock.Insts...)
	return alloca
}

// toDouble widens a 1-bit boolean (the result of a comparison) to a double
// via an unsigned int-to-float conversion. Any other value passes through
// unchanged. Every site that needs a float performs this coercion itself;
// comparisons do not implicitly widen on their own.
func (cg *CodeGen) toDouble(v value.Value) value.Value {
	if v.Type().Equal(types.I1) {
		return cg.block.NewUIToFP(v, types.Double)
	}
	return v
}

// genExprAsDouble evaluates e and coerces a boolean result to double. Use
// this everywhere a float value is required: initializers, assignment
// right-hand sides, arithmetic operands, call arguments, print, return.
func (cg *CodeGen) genExprAsDouble(e Expr) value.Value {
	return cg.toDouble(cg.genExpr(e))
}

// genCondition evaluates e for use as an If/While condition. An
// already-boolean value (a bare comparison) is used as is; anything else
// is coerced via a single `!= 0.0` compare.
func (cg *CodeGen) genCondition(e Expr) value.Value {
	v := cg.genExpr(e)
	if v.Type().Equal(types.I1) {
		return v
	}
	return cg.block.NewFCmp(enum.FPredONE, cg.toDouble(v), constant.NewFloat(types.Double, 0))
}

//  Expressions

func (cg *CodeGen) genExpr(e Expr) value.Value {
	switch n := e.(type) {
	case *Number:
		return constant.NewFloat(types.Double, n.Value)
	case *StringLit:
		return cg.genStringLit(n)
	case *Identifier:
		return cg.genIdentifier(n)
	case *BinaryOp:
		return cg.genBinaryOp(n)
	case *Call:
		return cg.genCall(n)
	default:
		cg.diagnose(fmt.Errorf("codegen: unsupported expression %T", e))
		return cg.errorValue
	}
}

func (cg *CodeGen) genStringLit(n *StringLit) value.Value {
	key := string(n.Value)
	global, ok := cg.stringPool[key]
	if !ok {
		data := append(append([]byte{}, n.Value...), 0) // NUL-terminate for C-ABI printString
		global = cg.module.NewGlobalDef(cg.newGlobalName("str"), constant.NewCharArrayFromString(string(data)))
		global.Immutable = true
		cg.stringPool[key] = global
	}
	return constant.NewBitCast(global, types.I8Ptr)
}

func (cg *CodeGen) genIdentifier(n *Identifier) value.Value {
	alloca, ok := cg.namedValues[n.Name]
	if !ok {
		cg.diagnose(fmt.Errorf("unknown variable: %s", n.Name))
		return cg.errorValue
	}
	return cg.block.NewLoad(types.Double, alloca)
}

func (cg *CodeGen) genBinaryOp(n *BinaryOp) value.Value {
	if n.Op == Assign {
		return cg.genAssign(n)
	}

	l := cg.genExprAsDouble(n.Left)
	r := cg.genExprAsDouble(n.Right)

	switch n.Op {
	case Add:
		return cg.block.NewFAdd(l, r)
	case Sub:
		return cg.block.NewFSub(l, r)
	case Mul:
		return cg.block.NewFMul(l, r)
	case Div:
		return cg.block.NewFDiv(l, r)
	case Eq:
		return cg.block.NewFCmp(enum.FPredOEQ, l, r)
	case NotEq:
		return cg.block.NewFCmp(enum.FPredONE, l, r)
	case Gt:
		return cg.block.NewFCmp(enum.FPredOGT, l, r)
	case Lt:
		return cg.block.NewFCmp(enum.FPredOLT, l, r)
	default:
		cg.diagnose(fmt.Errorf("codegen: unknown binary operator %v", n.Op))
		return cg.errorValue
	}
}

func (cg *CodeGen) genAssign(n *BinaryOp) value.Value {
	ident, ok := n.Left.(*Identifier)
	if !ok {
		cg.diagnose(fmt.Errorf("assignment target must be a variable name, got %s", n.Left))
		return cg.errorValue
	}

	v := cg.genExprAsDouble(n.Right)

	alloca, ok := cg.namedValues[ident.Name]
	if !ok {
		cg.diagnose(fmt.Errorf("unknown variable: %s", ident.Name))
		return cg.errorValue
	}

	cg.block.NewStore(v, alloca)
	return v
}

func (cg *CodeGen) genCall(n *Call) value.Value {
	fn, ok := cg.funcs[n.Callee]
	if !ok {
		cg.diagnose(fmt.Errorf("unknown function: %s", n.Callee))
		return cg.errorValue
	}
	if len(n.Args) != len(fn.Params) {
		cg.diagnose(fmt.Errorf("function %s expects %d argument(s), got %d", n.Callee, len(fn.Params), len(n.Args)))
		return cg.errorValue
	}

	args := make([]value.Value, len(n.Args))
	for i, a := range n.Args {
		args[i] = cg.genExprAsDouble(a)
	}
	return cg.block.NewCall(fn, args...)
}

//  Statements

func (cg *CodeGen) genStmt(s Stmt) {
	switch n := s.(type) {
	case *Program:
		for _, st := range n.Statements {
			cg.genStmt(st)
		}
	case *Block:
		for _, st := range n.Statements {
			cg.genStmt(st)
		}
	case *VarDecl:
		cg.genVarDecl(n)
	case *Function:
		cg.genFunction(n)
	case *If:
		cg.genIf(n)
	case *While:
		cg.genWhile(n)
	case *Print:
		cg.genPrint(n)
	case *Return:
		cg.genReturn(n)
	case *ExprStmt:
		cg.genExpr(n.Expr)
	default:
		cg.diagnose(fmt.Errorf("codegen: unsupported statement %T", s))
	}
}

// genVarDecl allocates the slot using the entry-block builder but stores
// through the main (current-block) builder, per the lowering rule: the two
// builders may differ once control flow has moved past the entry block.
func (cg *CodeGen) genVarDecl(n *VarDecl) {
	v := cg.genExprAsDouble(n.Initializer)
	alloca := cg.createEntryAlloca(n.Name)
	cg.block.NewStore(v, alloca)
	cg.namedValues[n.Name] = alloca
	// n.IsConstant is recorded on the AST node but never enforced here:
	// rebinding a const compiles silently.
}

func (cg *CodeGen) genPrint(n *Print) {
	v := cg.genExpr(n.Expr)
	if _, isPtr := v.Type().(*types.PointerType); isPtr {
		cg.block.NewCall(cg.printStringFn, v)
		return
	}
	cg.block.NewCall(cg.printDoubleFn, cg.toDouble(v))
}

func (cg *CodeGen) genReturn(n *Return) {
	var v value.Value = constant.NewFloat(types.Double, 0)
	if n.Expr != nil {
		v = cg.genExprAsDouble(n.Expr)
	}
	cg.block.NewRet(v)
}

func (cg *CodeGen) genIf(n *If) {
	cond := cg.genCondition(n.Condition)

	thenBlk := cg.currentFunc.NewBlock(cg.newGlobalName("if.then"))
	elseBlk := cg.currentFunc.NewBlock(cg.newGlobalName("if.else"))
	mergeBlk := cg.currentFunc.NewBlock(cg.newGlobalName("if.merge"))

	cg.block.NewCondBr(cond, thenBlk, elseBlk)

	cg.block = thenBlk
	cg.genStmt(n.Then)
	if cg.block.Term == nil {
		cg.block.NewBr(mergeBlk)
	}

	// The else branch is always emitted, even when Else is absent: it
	// just falls straight through to merge.
	cg.block = elseBlk
	if n.Else != nil {
		cg.genStmt(n.Else)
	}
	if cg.block.Term == nil {
		cg.block.NewBr(mergeBlk)
	}

	cg.block = mergeBlk
}

func (cg *CodeGen) genWhile(n *While) {
	condBlk := cg.currentFunc.NewBlock(cg.newGlobalName("while.cond"))
	bodyBlk := cg.currentFunc.NewBlock(cg.newGlobalName("while.body"))
	afterBlk := cg.currentFunc.NewBlock(cg.newGlobalName("while.after"))

	cg.block.NewBr(condBlk)

	cg.block = condBlk
	cond := cg.genCondition(n.Condition)
	cg.block.NewCondBr(cond, bodyBlk, afterBlk)

	cg.block = bodyBlk
	cg.genStmt(n.Body)
	if cg.block.Term == nil {
		cg.block.NewBr(condBlk)
	}

	cg.block = afterBlk
}

// genFunction realizes the §4.4 per-function state machine: save and clear
// named_values, build an entry block, spill parameters into slots, visit
// the body, close with an implicit `return 0.0` if control falls off the
// end, verify, then restore the caller's named_values and cursor.
func (cg *CodeGen) genFunction(n *Function) {
	cg.funcStack = append(cg.funcStack, funcFrame{
		namedValues: cg.namedValues,
		fn:          cg.currentFunc,
		entryBlock:  cg.entryBlock,
		block:       cg.block,
	})

	params := make([]*ir.Param, len(n.Params))
	for i, name := range n.Params {
		params[i] = ir.NewParam(name, types.Double)
	}
	fn := cg.module.NewFunc(n.Name, types.Double, params...)
	fn.Linkage = enum.LinkageExternal
	cg.funcs[n.Name] = fn

	cg.currentFunc = fn
	cg.namedValues = make(map[string]*ir.InstAlloca)
	entry := fn.NewBlock("entry")
	cg.entryBlock = entry
	cg.block = entry

	for i, param := range fn.Params {
		alloca := cg.createEntryAlloca(n.Params[i])
		cg.block.NewStore(param, alloca)
		cg.namedValues[n.Params[i]] = alloca
	}

	cg.genStmt(n.Body)

	if cg.block.Term == nil {
		cg.block.NewRet(constant.NewFloat(types.Double, 0))
	}

	if err := verifyFunction(fn); err != nil {
		cg.diagnose(err)
	}

	frame := cg.funcStack[len(cg.funcStack)-1]
	cg.funcStack = cg.funcStack[:len(cg.funcStack)-1]
	cg.namedValues = frame.namedValues
	cg.currentFunc = frame.fn
	cg.entryBlock = frame.entryBlock
	cg.block = frame.block
}

// verifyFunction checks the one invariant the §4.4 state machine actually
// requires of a finished function: every reachable block is terminated.
func verifyFunction(fn *ir.Func) error {
	for _, b := range fn.Blocks {
		if b.Term == nil {
			return fmt.Errorf("function %s: block %s has no terminator", fn.Name(), b.Name())
		}
	}
	return nil
}

//  Module housekeeping

// Generate visits program, emitting into a synthetic "main" entry point so
// the module can be linked into a runnable native executable (see
// CompileToExecutable); it dumps the resulting IR to standard output for
// inspection and also returns it as text.
func (cg *CodeGen) Generate(program *Program) string {
	mainFn := cg.module.NewFunc("main", types.I32)
	mainFn.Linkage = enum.LinkageExternal
	cg.currentFunc = mainFn
	cg.namedValues = make(map[string]*ir.InstAlloca)
	entry := mainFn.NewBlock("entry")
	cg.entryBlock = entry
	cg.block = entry

	cg.genStmt(program)

	if cg.block.Term == nil {
		cg.block.NewRet(constant.NewInt(types.I32, 0))
	}

	text := cg.module.String()
	fmt.Println(text)
	return text
}

// SaveIR writes the module's text IR to path.
func (cg *CodeGen) SaveIR(path string) error {
	return os.WriteFile(path, []byte(cg.module.String()), 0o644)
}

// writeHelperSource writes the extern print helper C file used by both
// CompileToExecutable and Execute.
func writeHelperSource() error {
	return os.WriteFile(helperCPath, []byte(printHelpersSource), 0o644)
}

// buildHelperObject compiles print_helpers.c to print_helpers.o via an
// external C compiler and returns a cleanup func for both intermediates.
func buildHelperObject() (cleanup func(), err error) {
	if err := writeHelperSource(); err != nil {
		return nil, fmt.Errorf("writing helper source: %w", err)
	}
	cmd := exec.Command("clang", "-c", helperCPath, "-o", helperOPath)
	cmd.Stderr = os.Stderr
	if err := cmd.Run(); err != nil {
		os.Remove(helperCPath)
		return nil, fmt.Errorf("compiling print helpers: %w", err)
	}
	return func() {
		os.Remove(helperCPath)
		os.Remove(helperOPath)
	}, nil
}

// CompileToExecutable saves the IR, writes the print helper C source,
// invokes clang to link them into a native executable at outPath, and
// deletes the intermediates.
func (cg *CodeGen) CompileToExecutable(outPath string) error {
	if err := cg.SaveIR(tempIRPath); err != nil {
		return fmt.Errorf("saving IR: %w", err)
	}
	defer os.Remove(tempIRPath)

	if err := writeHelperSource(); err != nil {
		return fmt.Errorf("writing helper source: %w", err)
	}
	defer os.Remove(helperCPath)

	cmd := exec.Command("clang", tempIRPath, helperCPath, "-o", outPath)
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr
	if err := cmd.Run(); err != nil {
		return fmt.Errorf("linking executable: %w", err)
	}
	return nil
}

// Execute saves the IR, links the helper object, invokes the external IR
// interpreter, cleans up, and resets the generator so further code can be
// generated into a fresh module.
func (cg *CodeGen) Execute() error {
	if err := cg.SaveIR(tempIRPath); err != nil {
		return fmt.Errorf("saving IR: %w", err)
	}
	defer os.Remove(tempIRPath)

	cleanup, err := buildHelperObject()
	if err != nil {
		return err
	}
	defer cleanup()

	cmd := exec.Command("lli", "--extra-object="+helperOPath, tempIRPath)
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr
	if err := cmd.Run(); err != nil {
		return fmt.Errorf("running interpreter: %w", err)
	}

	*cg = *NewCodeGen()
	return nil
}

// ExecuteIRFile runs pre-existing IR text at path through the external IR
// interpreter, for the driver's --exec-ir mode (no source file, no fresh
// CodeGen involved).
func ExecuteIRFile(path string) error {
	cleanup, err := buildHelperObject()
	if err != nil {
		return err
	}
	defer cleanup()

	cmd := exec.Command("lli", "--extra-object="+helperOPath, path)
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr
	if err := cmd.Run(); err != nil {
		return fmt.Errorf("running interpreter: %w", err)
	}
	return nil
}
