// Package compiler provides a lexer, parser, and code generator for a
// small imperative language whose operators are spelled out as English
// words ("plus", "is", "greater than", ...).
//
// Pipeline: source text → Tokenize → Parse → CodeGen.Generate → LLVM-style
// IR text, optionally linked to a native executable or run through an
// external IR interpreter.
package compiler
