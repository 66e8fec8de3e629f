package vm

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func compileOK(t *testing.T, source string) *ObjFunction {
	t.Helper()
	machine := New()
	fn, err := Compile(machine, source)
	require.NoError(t, err)
	require.NotNil(t, fn)
	return fn
}

func compileErr(t *testing.T, source string) error {
	t.Helper()
	machine := New()
	fn, err := Compile(machine, source)
	require.Nil(t, fn)
	require.Error(t, err)
	return err
}

func TestCompileSimpleExpression(t *testing.T) {
	fn := compileOK(t, `print 1 + 2;`)
	assert.NotEmpty(t, fn.Chunk.Code)
}

func TestCompileTooManyLocals(t *testing.T) {
	var b strings.Builder
	b.WriteString("fun f() {\n")
	for i := 0; i < 257; i++ {
		b.WriteString("var a")
		b.WriteString(itoa(i))
		b.WriteString(" = 0;\n")
	}
	b.WriteString("}\n")

	err := compileErr(t, b.String())
	assert.Contains(t, err.Error(), "Too many local variables in function.")
}

func TestCompileTooManyConstants(t *testing.T) {
	var b strings.Builder
	for i := 0; i < 300; i++ {
		b.WriteString("print ")
		b.WriteString(itoa(i))
		b.WriteString(".0;\n")
	}

	err := compileErr(t, b.String())
	assert.Contains(t, err.Error(), "Too many constants in one chunk.")
}

func TestCompileTooManyArguments(t *testing.T) {
	var b strings.Builder
	// Arguments are a local so they use no constant-pool slots.
	b.WriteString("fun f() {}\n{\nvar a = 1;\nf(")
	for i := 0; i < 256; i++ {
		if i > 0 {
			b.WriteString(", ")
		}
		b.WriteString("a")
	}
	b.WriteString(");\n}\n")

	err := compileErr(t, b.String())
	assert.Contains(t, err.Error(), "Can't have more than 255 arguments.")
}

// longLocalBody returns n repetitions of a bare local-variable reference,
// 3 bytes of bytecode apiece (OP_GET_LOCAL + slot, OP_POP) without
// touching the constant pool, so the jump/loop distance limit is reached
// well before the constant-pool limit.
func longLocalBody(n int) string {
	var b strings.Builder
	for i := 0; i < n; i++ {
		b.WriteString("a;\n")
	}
	return b.String()
}

func TestCompileLoopBodyTooLarge(t *testing.T) {
	src := "fun f() {\nvar a = 1;\nwhile (true) {\n" + longLocalBody(25000) + "}\n}\n"
	err := compileErr(t, src)
	assert.Contains(t, err.Error(), "Loop body too large.")
}

func TestCompileJumpTooLarge(t *testing.T) {
	src := "fun f() {\nvar a = 1;\nif (true) {\n" + longLocalBody(25000) + "}\n}\n"
	err := compileErr(t, src)
	assert.Contains(t, err.Error(), "Too much code to jump over.")
}

func TestCompileTooManyParameters(t *testing.T) {
	var b strings.Builder
	b.WriteString("fun f(")
	for i := 0; i < 256; i++ {
		if i > 0 {
			b.WriteString(", ")
		}
		b.WriteString("a")
		b.WriteString(itoa(i))
	}
	b.WriteString(") {}\n")

	err := compileErr(t, b.String())
	assert.Contains(t, err.Error(), "Can't have more than 255 parameters.")
}

func TestCompileReturnFromTopLevelIsError(t *testing.T) {
	err := compileErr(t, `return 1;`)
	assert.Contains(t, err.Error(), "Can't return from top-level code.")
}

func TestCompileDuplicateLocalIsError(t *testing.T) {
	err := compileErr(t, `{ var a = 1; var a = 2; }`)
	assert.Contains(t, err.Error(), "Already a variable with this name in this scope.")
}

func TestCompileReadLocalInOwnInitializerIsError(t *testing.T) {
	err := compileErr(t, `{ var a = a; }`)
	assert.Contains(t, err.Error(), "Can't read local variable in its own initializer.")
}

func TestCompileThisOutsideClassIsError(t *testing.T) {
	err := compileErr(t, `print this;`)
	assert.Contains(t, err.Error(), "Can't use 'this' outside of a class.")
}

func TestCompileSuperOutsideClassIsError(t *testing.T) {
	err := compileErr(t, `print super.foo;`)
	assert.Contains(t, err.Error(), "Can't use 'super' outside of a class.")
}

func TestCompileClassInheritingFromItselfIsError(t *testing.T) {
	err := compileErr(t, `class Oops < Oops {}`)
	assert.Contains(t, err.Error(), "A class can't inherit from itself.")
}

func TestCompileSynchronizesAfterError(t *testing.T) {
	// Two independent statement errors should both be reported, proving
	// panic-mode recovery resumes at the next statement instead of
	// aborting the whole compile after the first diagnostic.
	machine := New()
	_, err := Compile(machine, `
		1 +;
		print "after error";
		2 +;
	`)
	require.Error(t, err)
	errs, ok := err.(CompileErrors)
	require.True(t, ok)
	assert.GreaterOrEqual(t, len(errs), 2)
}

func itoa(n int) string {
	if n == 0 {
		return "0"
	}
	digits := []byte{}
	for n > 0 {
		digits = append([]byte{byte('0' + n%10)}, digits...)
		n /= 10
	}
	return string(digits)
}
