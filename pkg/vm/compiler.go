package vm

import (
	"strconv"

	"github.com/kristofer/loxvm/pkg/scanner"
)

// This file is the single-pass compiler: it scans and parses a program in
// one pass, emitting bytecode directly into Chunks as it goes. There is no
// intermediate syntax tree — every parse function, by the time it returns,
// has already written the instructions its subtree contributes.

// FunctionType distinguishes the four contexts a Compiler can be compiling
// a body for; it governs implicit-return behavior and whether "this" is a
// reserved local in slot 0.
type FunctionType int

const (
	typeFunction FunctionType = iota
	typeInitializer
	typeMethod
	typeScript
)

const maxLocals = 256
const maxUpvalues = 256
const maxConstants = 257
const maxJump = 1<<16 - 1

// local is one entry in a Compiler's locals array. depth -1 marks a local
// that has been declared but not yet initialized (its own initializer
// expression is still being compiled); isCaptured marks one a nested
// closure has captured, so it must be closed rather than merely popped
// when its scope ends.
type local struct {
	name       scanner.Token
	depth      int
	isCaptured bool
}

// Compiler holds per-function compilation state: the function being built,
// its locals and upvalues, and the lexical scope depth. Compilers form a
// chain via enclosing, mirroring the nesting of function declarations;
// the VM walks this chain as a GC root so in-progress Function objects are
// never collected mid-compile.
type Compiler struct {
	enclosing *Compiler
	function  *ObjFunction
	fnType    FunctionType

	locals     []local
	scopeDepth int

	upvalues []UpvalueCapture
}

// classCompiler tracks class-body compilation state (whether the class
// being compiled has a superclass, for resolving "super"), also chained so
// nested class declarations work.
type classCompiler struct {
	enclosing     *classCompiler
	hasSuperclass bool
}

// Parser drives the single scanner/parser/emitter pipeline. There is one
// Parser per Compile call; parse functions are methods on it.
type Parser struct {
	vm      *VM
	scanner *scanner.Scanner

	current  scanner.Token
	previous scanner.Token

	hadError  bool
	panicMode bool
	errors    CompileErrors

	compiler *Compiler
	class    *classCompiler
}

// Compile compiles source into a top-level script function. On success it
// returns the function and a nil error; on failure it returns nil and the
// accumulated CompileErrors.
func Compile(vm *VM, source string) (*ObjFunction, error) {
	p := &Parser{vm: vm, scanner: scanner.New(source)}
	p.initCompiler(typeScript, "")

	p.advance()
	for !p.match(scanner.TokenEOF) {
		p.declaration()
	}
	p.consume(scanner.TokenEOF, "Expect end of expression.")

	function, _ := p.endCompiler()

	if p.hadError {
		return nil, p.errors
	}
	return function, nil
}

// --- compiler (function-scope) bookkeeping ---

func (p *Parser) initCompiler(fnType FunctionType, name string) {
	c := &Compiler{enclosing: p.compiler, fnType: fnType}
	c.function = p.vm.newFunction()
	p.compiler = c
	p.vm.compiler = c // root the chain for the GC

	if fnType != typeScript {
		c.function.Name = p.vm.internString(name)
	}

	// Slot 0 is reserved: "this" for methods/initializers, otherwise an
	// unnamed slot the user can never refer to.
	slotName := scanner.Token{Lexeme: ""}
	if fnType == typeMethod || fnType == typeInitializer {
		slotName = scanner.Token{Lexeme: "this"}
	}
	c.locals = append(c.locals, local{name: slotName, depth: 0})
}

func (p *Parser) endCompiler() (*ObjFunction, []UpvalueCapture) {
	p.emitReturn()
	function := p.compiler.function
	upvalues := p.compiler.upvalues

	p.compiler = p.compiler.enclosing
	p.vm.compiler = p.compiler

	return function, upvalues
}

func (p *Parser) beginScope() {
	p.compiler.scopeDepth++
}

func (p *Parser) endScope() {
	p.compiler.scopeDepth--

	c := p.compiler
	for len(c.locals) > 0 && c.locals[len(c.locals)-1].depth > c.scopeDepth {
		if c.locals[len(c.locals)-1].isCaptured {
			p.emitOp(OpCloseUpvalue)
		} else {
			p.emitOp(OpPop)
		}
		c.locals = c.locals[:len(c.locals)-1]
	}
}

// --- token stream plumbing ---

func (p *Parser) advance() {
	p.previous = p.current
	for {
		p.current = p.scanner.Scan()
		if p.current.Type != scanner.TokenError {
			break
		}
		p.errorAtCurrent(p.current.Lexeme)
	}
}

func (p *Parser) check(t scanner.TokenType) bool { return p.current.Type == t }

func (p *Parser) match(t scanner.TokenType) bool {
	if !p.check(t) {
		return false
	}
	p.advance()
	return true
}

func (p *Parser) consume(t scanner.TokenType, message string) {
	if p.current.Type == t {
		p.advance()
		return
	}
	p.errorAtCurrent(message)
}

func (p *Parser) errorAtCurrent(message string) { p.errorAt(p.current, message) }
func (p *Parser) errorAtPrevious(message string) { p.errorAt(p.previous, message) }

func (p *Parser) errorAt(tok scanner.Token, message string) {
	if p.panicMode {
		return
	}
	p.panicMode = true
	p.hadError = true

	where := tok.Lexeme
	if tok.Type == scanner.TokenEOF {
		where = ""
	}
	if tok.Type == scanner.TokenEOF {
		p.errors = append(p.errors, &CompileError{Line: tok.Line, Message: message + " at end"})
		return
	}
	p.errors = append(p.errors, &CompileError{Line: tok.Line, Where: where, Message: message})
}

// synchronize discards tokens until it reaches something that plausibly
// starts a new statement, recovering from a parse error without cascading
// spurious diagnostics (panic-mode recovery).
func (p *Parser) synchronize() {
	p.panicMode = false

	for p.current.Type != scanner.TokenEOF {
		if p.previous.Type == scanner.TokenSemicolon {
			return
		}
		switch p.current.Type {
		case scanner.TokenClass, scanner.TokenFun, scanner.TokenVar, scanner.TokenFor,
			scanner.TokenIf, scanner.TokenWhile, scanner.TokenPrint, scanner.TokenReturn:
			return
		}
		p.advance()
	}
}

// --- bytecode emission ---

func (p *Parser) currentChunk() *Chunk { return &p.compiler.function.Chunk }

func (p *Parser) emitByte(b byte) { p.currentChunk().Write(b, p.previous.Line) }
func (p *Parser) emitOp(op OpCode) { p.currentChunk().WriteOp(op, p.previous.Line) }
func (p *Parser) emitOps(a, b OpCode) {
	p.emitOp(a)
	p.emitOp(b)
}
func (p *Parser) emitOpByte(op OpCode, b byte) {
	p.emitOp(op)
	p.emitByte(b)
}

func (p *Parser) emitLoop(loopStart int) {
	p.emitOp(OpLoop)
	offset := len(p.currentChunk().Code) - loopStart + 2
	if offset > maxJump {
		p.errorAtPrevious("Loop body too large.")
	}
	p.emitByte(byte(offset >> 8))
	p.emitByte(byte(offset))
}

func (p *Parser) emitJump(op OpCode) int {
	p.emitOp(op)
	p.emitByte(0xff)
	p.emitByte(0xff)
	return len(p.currentChunk().Code) - 2
}

func (p *Parser) patchJump(offsetPos int) {
	jump := len(p.currentChunk().Code) - offsetPos - 2
	if jump > maxJump {
		p.errorAtPrevious("Too much code to jump over.")
	}
	p.currentChunk().Code[offsetPos] = byte(jump >> 8)
	p.currentChunk().Code[offsetPos+1] = byte(jump)
}

func (p *Parser) emitReturn() {
	if p.compiler.fnType == typeInitializer {
		p.emitOpByte(OpGetLocal, 0)
	} else {
		p.emitOp(OpNil)
	}
	p.emitOp(OpReturn)
}

func (p *Parser) makeConstant(v Value) byte {
	idx := p.currentChunk().AddConstant(v)
	if idx >= maxConstants-1 {
		p.errorAtPrevious("Too many constants in one chunk.")
		return 0
	}
	return byte(idx)
}

func (p *Parser) emitConstant(v Value) { p.emitOpByte(OpConstant, p.makeConstant(v)) }

// --- declarations ---

func (p *Parser) declaration() {
	switch {
	case p.match(scanner.TokenClass):
		p.classDeclaration()
	case p.match(scanner.TokenFun):
		p.funDeclaration()
	case p.match(scanner.TokenVar):
		p.varDeclaration()
	default:
		p.statement()
	}

	if p.panicMode {
		p.synchronize()
	}
}

func (p *Parser) classDeclaration() {
	p.consume(scanner.TokenIdentifier, "Expect class name.")
	nameTok := p.previous
	nameConst := p.identifierConstant(nameTok)
	p.declareVariable()

	p.emitOpByte(OpClass, nameConst)
	p.defineVariable(nameConst)

	cc := &classCompiler{enclosing: p.class}
	p.class = cc

	if p.match(scanner.TokenLess) {
		p.consume(scanner.TokenIdentifier, "Expect superclass name.")
		p.variable(false)
		if p.previous.Lexeme == nameTok.Lexeme {
			p.errorAtPrevious("A class can't inherit from itself.")
		}

		p.beginScope()
		p.addLocal(scanner.Token{Lexeme: "super"})
		p.defineVariable(0)

		p.namedVariable(nameTok, false)
		p.emitOp(OpInherit)
		cc.hasSuperclass = true
	}

	p.namedVariable(nameTok, false)
	p.consume(scanner.TokenLeftBrace, "Expect '{' before class body.")
	for !p.check(scanner.TokenRightBrace) && !p.check(scanner.TokenEOF) {
		p.method()
	}
	p.consume(scanner.TokenRightBrace, "Expect '}' after class body.")
	p.emitOp(OpPop) // the class value left by namedVariable above

	if cc.hasSuperclass {
		p.endScope()
	}
	p.class = cc.enclosing
}

func (p *Parser) method() {
	p.consume(scanner.TokenIdentifier, "Expect method name.")
	nameConst := p.identifierConstant(p.previous)

	fnType := typeMethod
	if p.previous.Lexeme == "init" {
		fnType = typeInitializer
	}
	p.function(fnType)
	p.emitOpByte(OpMethod, nameConst)
}

func (p *Parser) funDeclaration() {
	global := p.parseVariable("Expect function name.")
	p.markInitialized()
	p.function(typeFunction)
	p.defineVariable(global)
}

func (p *Parser) function(fnType FunctionType) {
	name := p.previous.Lexeme
	p.initCompiler(fnType, name)
	p.beginScope()

	p.consume(scanner.TokenLeftParen, "Expect '(' after function name.")
	if !p.check(scanner.TokenRightParen) {
		for {
			p.compiler.function.Arity++
			if p.compiler.function.Arity > 255 {
				p.errorAtCurrent("Can't have more than 255 parameters.")
			}
			constant := p.parseVariable("Expect parameter name.")
			p.defineVariable(constant)
			if !p.match(scanner.TokenComma) {
				break
			}
		}
	}
	p.consume(scanner.TokenRightParen, "Expect ')' after parameters.")
	p.consume(scanner.TokenLeftBrace, "Expect '{' before function body.")
	p.block()

	function, upvalues := p.endCompiler()

	constant := p.makeConstant(ObjectVal(function))
	p.emitOpByte(OpClosure, constant)

	for _, uv := range upvalues {
		if uv.IsLocal {
			p.emitByte(1)
		} else {
			p.emitByte(0)
		}
		p.emitByte(byte(uv.Index))
	}
}

func (p *Parser) varDeclaration() {
	global := p.parseVariable("Expect variable name.")

	if p.match(scanner.TokenEqual) {
		p.expression()
	} else {
		p.emitOp(OpNil)
	}
	p.consume(scanner.TokenSemicolon, "Expect ';' after variable declaration.")

	p.defineVariable(global)
}

func (p *Parser) parseVariable(message string) byte {
	p.consume(scanner.TokenIdentifier, message)
	p.declareVariable()
	if p.compiler.scopeDepth > 0 {
		return 0
	}
	return p.identifierConstant(p.previous)
}

func (p *Parser) identifierConstant(tok scanner.Token) byte {
	return p.makeConstant(ObjectVal(p.vm.internString(tok.Lexeme)))
}

func (p *Parser) declareVariable() {
	if p.compiler.scopeDepth == 0 {
		return
	}
	name := p.previous

	c := p.compiler
	for i := len(c.locals) - 1; i >= 0; i-- {
		l := c.locals[i]
		if l.depth != -1 && l.depth < c.scopeDepth {
			break
		}
		if l.name.Lexeme == name.Lexeme {
			p.errorAtPrevious("Already a variable with this name in this scope.")
		}
	}

	p.addLocal(name)
}

func (p *Parser) addLocal(name scanner.Token) {
	if len(p.compiler.locals) >= maxLocals {
		p.errorAtPrevious("Too many local variables in function.")
		return
	}
	p.compiler.locals = append(p.compiler.locals, local{name: name, depth: -1})
}

func (p *Parser) markInitialized() {
	if p.compiler.scopeDepth == 0 {
		return
	}
	p.compiler.locals[len(p.compiler.locals)-1].depth = p.compiler.scopeDepth
}

func (p *Parser) defineVariable(global byte) {
	if p.compiler.scopeDepth > 0 {
		p.markInitialized()
		return
	}
	p.emitOpByte(OpDefineGlobal, global)
}

// --- statements ---

func (p *Parser) statement() {
	switch {
	case p.match(scanner.TokenPrint):
		p.printStatement()
	case p.match(scanner.TokenIf):
		p.ifStatement()
	case p.match(scanner.TokenReturn):
		p.returnStatement()
	case p.match(scanner.TokenWhile):
		p.whileStatement()
	case p.match(scanner.TokenFor):
		p.forStatement()
	case p.match(scanner.TokenLeftBrace):
		p.beginScope()
		p.block()
		p.endScope()
	default:
		p.expressionStatement()
	}
}

func (p *Parser) printStatement() {
	p.expression()
	p.consume(scanner.TokenSemicolon, "Expect ';' after value.")
	p.emitOp(OpPrint)
}

func (p *Parser) returnStatement() {
	if p.compiler.fnType == typeScript {
		p.errorAtPrevious("Can't return from top-level code.")
	}

	if p.match(scanner.TokenSemicolon) {
		p.emitReturn()
		return
	}

	if p.compiler.fnType == typeInitializer {
		p.errorAtPrevious("Can't return a value from an initializer.")
	}

	p.expression()
	p.consume(scanner.TokenSemicolon, "Expect ';' after return value.")
	p.emitOp(OpReturn)
}

func (p *Parser) ifStatement() {
	p.consume(scanner.TokenLeftParen, "Expect '(' after 'if'.")
	p.expression()
	p.consume(scanner.TokenRightParen, "Expect ')' after condition.")

	thenJump := p.emitJump(OpJumpIfFalse)
	p.emitOp(OpPop)
	p.statement()

	elseJump := p.emitJump(OpJump)
	p.patchJump(thenJump)
	p.emitOp(OpPop)

	if p.match(scanner.TokenElse) {
		p.statement()
	}
	p.patchJump(elseJump)
}

func (p *Parser) whileStatement() {
	loopStart := len(p.currentChunk().Code)
	p.consume(scanner.TokenLeftParen, "Expect '(' after 'while'.")
	p.expression()
	p.consume(scanner.TokenRightParen, "Expect ')' after condition.")

	exitJump := p.emitJump(OpJumpIfFalse)
	p.emitOp(OpPop)
	p.statement()
	p.emitLoop(loopStart)

	p.patchJump(exitJump)
	p.emitOp(OpPop)
}

func (p *Parser) forStatement() {
	p.beginScope()
	p.consume(scanner.TokenLeftParen, "Expect '(' after 'for'.")

	switch {
	case p.match(scanner.TokenSemicolon):
		// no initializer
	case p.match(scanner.TokenVar):
		p.varDeclaration()
	default:
		p.expressionStatement()
	}

	loopStart := len(p.currentChunk().Code)
	exitJump := -1
	if !p.match(scanner.TokenSemicolon) {
		p.expression()
		p.consume(scanner.TokenSemicolon, "Expect ';' after loop condition.")
		exitJump = p.emitJump(OpJumpIfFalse)
		p.emitOp(OpPop)
	}

	if !p.match(scanner.TokenRightParen) {
		bodyJump := p.emitJump(OpJump)
		incrementStart := len(p.currentChunk().Code)
		p.expression()
		p.emitOp(OpPop)
		p.consume(scanner.TokenRightParen, "Expect ')' after for clauses.")

		p.emitLoop(loopStart)
		loopStart = incrementStart
		p.patchJump(bodyJump)
	}

	p.statement()
	p.emitLoop(loopStart)

	if exitJump != -1 {
		p.patchJump(exitJump)
		p.emitOp(OpPop)
	}

	p.endScope()
}

func (p *Parser) block() {
	for !p.check(scanner.TokenRightBrace) && !p.check(scanner.TokenEOF) {
		p.declaration()
	}
	p.consume(scanner.TokenRightBrace, "Expect '}' after block.")
}

func (p *Parser) expressionStatement() {
	p.expression()
	p.consume(scanner.TokenSemicolon, "Expect ';' after expression.")
	p.emitOp(OpPop)
}

// --- expressions (Pratt parsing) ---

// Precedence orders binding strength from loosest to tightest.
type Precedence int

const (
	PrecNone Precedence = iota
	PrecAssignment
	PrecOr
	PrecAnd
	PrecEquality
	PrecComparison
	PrecTerm
	PrecFactor
	PrecUnary
	PrecCall
	PrecPrimary
)

type parseFn func(p *Parser, canAssign bool)

type parseRule struct {
	prefix     parseFn
	infix      parseFn
	precedence Precedence
}

var rules map[scanner.TokenType]parseRule

func init() {
	rules = map[scanner.TokenType]parseRule{
		scanner.TokenLeftParen:    {(*Parser).grouping, (*Parser).call, PrecCall},
		scanner.TokenDot:          {nil, (*Parser).dot, PrecCall},
		scanner.TokenMinus:        {(*Parser).unary, (*Parser).binary, PrecTerm},
		scanner.TokenPlus:         {nil, (*Parser).binary, PrecTerm},
		scanner.TokenSlash:        {nil, (*Parser).binary, PrecFactor},
		scanner.TokenStar:         {nil, (*Parser).binary, PrecFactor},
		scanner.TokenPercent:      {nil, (*Parser).binary, PrecFactor},
		scanner.TokenBang:         {(*Parser).unary, nil, PrecNone},
		scanner.TokenBangEqual:    {nil, (*Parser).binary, PrecEquality},
		scanner.TokenEqualEqual:   {nil, (*Parser).binary, PrecEquality},
		scanner.TokenGreater:      {nil, (*Parser).binary, PrecComparison},
		scanner.TokenGreaterEqual: {nil, (*Parser).binary, PrecComparison},
		scanner.TokenLess:         {nil, (*Parser).binary, PrecComparison},
		scanner.TokenLessEqual:    {nil, (*Parser).binary, PrecComparison},
		scanner.TokenIdentifier:   {(*Parser).variable, nil, PrecNone},
		scanner.TokenString:       {(*Parser).stringLit, nil, PrecNone},
		scanner.TokenNumber:       {(*Parser).number, nil, PrecNone},
		scanner.TokenAnd:          {nil, (*Parser).and_, PrecAnd},
		scanner.TokenOr:           {nil, (*Parser).or_, PrecOr},
		scanner.TokenFalse:        {(*Parser).literal, nil, PrecNone},
		scanner.TokenTrue:         {(*Parser).literal, nil, PrecNone},
		scanner.TokenNil:          {(*Parser).literal, nil, PrecNone},
		scanner.TokenThis:         {(*Parser).this_, nil, PrecNone},
		scanner.TokenSuper:        {(*Parser).super_, nil, PrecNone},
	}
}

func (p *Parser) getRule(t scanner.TokenType) parseRule {
	if r, ok := rules[t]; ok {
		return r
	}
	return parseRule{nil, nil, PrecNone}
}

func (p *Parser) expression() { p.parsePrecedence(PrecAssignment) }

func (p *Parser) parsePrecedence(prec Precedence) {
	p.advance()
	prefixRule := p.getRule(p.previous.Type).prefix
	if prefixRule == nil {
		p.errorAtPrevious("Expect expression.")
		return
	}

	canAssign := prec <= PrecAssignment
	prefixRule(p, canAssign)

	for prec <= p.getRule(p.current.Type).precedence {
		p.advance()
		infixRule := p.getRule(p.previous.Type).infix
		infixRule(p, canAssign)
	}

	if canAssign && p.match(scanner.TokenEqual) {
		p.errorAtPrevious("Invalid assignment target.")
	}
}

func (p *Parser) number(canAssign bool) {
	n, err := strconv.ParseFloat(p.previous.Lexeme, 64)
	if err != nil {
		p.errorAtPrevious("Invalid number literal.")
		return
	}
	p.emitConstant(Number(n))
}

func (p *Parser) stringLit(canAssign bool) {
	raw := p.previous.Lexeme
	chars := raw[1 : len(raw)-1] // strip surrounding quotes
	p.emitConstant(ObjectVal(p.vm.internString(chars)))
}

func (p *Parser) literal(canAssign bool) {
	switch p.previous.Type {
	case scanner.TokenFalse:
		p.emitOp(OpFalse)
	case scanner.TokenTrue:
		p.emitOp(OpTrue)
	case scanner.TokenNil:
		p.emitOp(OpNil)
	}
}

func (p *Parser) grouping(canAssign bool) {
	p.expression()
	p.consume(scanner.TokenRightParen, "Expect ')' after expression.")
}

func (p *Parser) unary(canAssign bool) {
	opType := p.previous.Type
	p.parsePrecedence(PrecUnary)

	switch opType {
	case scanner.TokenMinus:
		p.emitOp(OpNegate)
	case scanner.TokenBang:
		p.emitOp(OpNot)
	}
}

func (p *Parser) binary(canAssign bool) {
	opType := p.previous.Type
	rule := p.getRule(opType)
	p.parsePrecedence(rule.precedence + 1)

	switch opType {
	case scanner.TokenBangEqual:
		p.emitOps(OpEqual, OpNot)
	case scanner.TokenEqualEqual:
		p.emitOp(OpEqual)
	case scanner.TokenGreater:
		p.emitOp(OpGreater)
	case scanner.TokenGreaterEqual:
		p.emitOps(OpLess, OpNot)
	case scanner.TokenLess:
		p.emitOp(OpLess)
	case scanner.TokenLessEqual:
		p.emitOps(OpGreater, OpNot)
	case scanner.TokenPlus:
		p.emitOp(OpAdd)
	case scanner.TokenMinus:
		p.emitOp(OpSubtract)
	case scanner.TokenStar:
		p.emitOp(OpMultiply)
	case scanner.TokenSlash:
		p.emitOp(OpDivide)
	case scanner.TokenPercent:
		p.emitOp(OpModulo)
	}
}

func (p *Parser) and_(canAssign bool) {
	endJump := p.emitJump(OpJumpIfFalse)
	p.emitOp(OpPop)
	p.parsePrecedence(PrecAnd)
	p.patchJump(endJump)
}

func (p *Parser) or_(canAssign bool) {
	elseJump := p.emitJump(OpJumpIfFalse)
	endJump := p.emitJump(OpJump)

	p.patchJump(elseJump)
	p.emitOp(OpPop)

	p.parsePrecedence(PrecOr)
	p.patchJump(endJump)
}

func (p *Parser) call(canAssign bool) {
	argCount := p.argumentList()
	p.emitOpByte(OpCall, byte(argCount))
}

func (p *Parser) argumentList() int {
	count := 0
	if !p.check(scanner.TokenRightParen) {
		for {
			p.expression()
			if count == 255 {
				p.errorAtPrevious("Can't have more than 255 arguments.")
			}
			count++
			if !p.match(scanner.TokenComma) {
				break
			}
		}
	}
	p.consume(scanner.TokenRightParen, "Expect ')' after arguments.")
	return count
}

func (p *Parser) dot(canAssign bool) {
	p.consume(scanner.TokenIdentifier, "Expect property name after '.'.")
	name := p.identifierConstant(p.previous)

	switch {
	case canAssign && p.match(scanner.TokenEqual):
		p.expression()
		p.emitOpByte(OpSetProperty, name)
	case p.match(scanner.TokenLeftParen):
		argCount := p.argumentList()
		p.emitOpByte(OpInvoke, name)
		p.emitByte(byte(argCount))
	default:
		p.emitOpByte(OpGetProperty, name)
	}
}

func (p *Parser) variable(canAssign bool) {
	p.namedVariable(p.previous, canAssign)
}

func (p *Parser) namedVariable(name scanner.Token, canAssign bool) {
	var getOp, setOp OpCode
	arg, ok := p.resolveLocal(p.compiler, name)
	if ok {
		getOp, setOp = OpGetLocal, OpSetLocal
	} else if arg, ok = p.resolveUpvalue(p.compiler, name); ok {
		getOp, setOp = OpGetUpvalue, OpSetUpvalue
	} else {
		arg = int(p.identifierConstant(name))
		getOp, setOp = OpGetGlobal, OpSetGlobal
	}

	if canAssign && p.match(scanner.TokenEqual) {
		p.expression()
		p.emitOpByte(setOp, byte(arg))
	} else {
		p.emitOpByte(getOp, byte(arg))
	}
}

func (p *Parser) resolveLocal(c *Compiler, name scanner.Token) (int, bool) {
	for i := len(c.locals) - 1; i >= 0; i-- {
		if c.locals[i].name.Lexeme == name.Lexeme {
			if c.locals[i].depth == -1 {
				p.errorAtPrevious("Can't read local variable in its own initializer.")
			}
			return i, true
		}
	}
	return 0, false
}

func (p *Parser) resolveUpvalue(c *Compiler, name scanner.Token) (int, bool) {
	if c.enclosing == nil {
		return 0, false
	}

	if local, ok := p.resolveLocal(c.enclosing, name); ok {
		c.enclosing.locals[local].isCaptured = true
		return p.addUpvalue(c, local, true), true
	}

	if up, ok := p.resolveUpvalue(c.enclosing, name); ok {
		return p.addUpvalue(c, up, false), true
	}

	return 0, false
}

func (p *Parser) addUpvalue(c *Compiler, index int, isLocal bool) int {
	for i, uv := range c.upvalues {
		if uv.Index == index && uv.IsLocal == isLocal {
			return i
		}
	}

	if len(c.upvalues) >= maxUpvalues {
		p.errorAtPrevious("Too many closure variables in function.")
		return 0
	}

	c.upvalues = append(c.upvalues, UpvalueCapture{Index: index, IsLocal: isLocal})
	c.function.UpvalueCount = len(c.upvalues)
	return len(c.upvalues) - 1
}

func (p *Parser) this_(canAssign bool) {
	if p.class == nil {
		p.errorAtPrevious("Can't use 'this' outside of a class.")
		return
	}
	p.variable(false)
}

func (p *Parser) super_(canAssign bool) {
	if p.class == nil {
		p.errorAtPrevious("Can't use 'super' outside of a class.")
	} else if !p.class.hasSuperclass {
		p.errorAtPrevious("Can't use 'super' in a class with no superclass.")
	}

	p.consume(scanner.TokenDot, "Expect '.' after 'super'.")
	p.consume(scanner.TokenIdentifier, "Expect superclass method name.")
	name := p.identifierConstant(p.previous)

	p.namedVariable(scanner.Token{Lexeme: "this"}, false)
	if p.match(scanner.TokenLeftParen) {
		argCount := p.argumentList()
		p.namedVariable(scanner.Token{Lexeme: "super"}, false)
		p.emitOpByte(OpSuperInvoke, name)
		p.emitByte(byte(argCount))
	} else {
		p.namedVariable(scanner.Token{Lexeme: "super"}, false)
		p.emitOpByte(OpGetSuper, name)
	}
}
