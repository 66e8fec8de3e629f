package vm_test

import (
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kristofer/loxvm/pkg/vm"
)

func run(t *testing.T, source string, opts ...vm.Option) (string, error) {
	t.Helper()
	var out strings.Builder
	opts = append([]vm.Option{vm.WithStdout(&out)}, opts...)
	machine := vm.New(opts...)
	_, err := machine.Interpret(source)
	return out.String(), err
}

func TestArithmeticAndPrint(t *testing.T) {
	out, err := run(t, `print 1 + 2 * 3;`)
	require.NoError(t, err)
	assert.Equal(t, "7\n", out)
}

func TestStringConcatenation(t *testing.T) {
	out, err := run(t, `print "foo" + "bar";`)
	require.NoError(t, err)
	assert.Equal(t, "foobar\n", out)
}

func TestModuloByZeroIsRuntimeError(t *testing.T) {
	_, err := run(t, `print 1 % 0;`)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "Modulo by zero.")
}

func TestGlobalVariables(t *testing.T) {
	out, err := run(t, `
		var a = 1;
		var b = 2;
		a = a + b;
		print a;
	`)
	require.NoError(t, err)
	assert.Equal(t, "3\n", out)
}

func TestUndefinedGlobalReadIsRuntimeError(t *testing.T) {
	_, err := run(t, `print nope;`)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "Undefined variable 'nope'.")
}

func TestUndefinedGlobalWriteIsRuntimeError(t *testing.T) {
	_, err := run(t, `nope = 1;`)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "Undefined variable 'nope'.")
}

func TestWhileLoop(t *testing.T) {
	out, err := run(t, `
		var i = 0;
		var sum = 0;
		while (i < 5) {
			sum = sum + i;
			i = i + 1;
		}
		print sum;
	`)
	require.NoError(t, err)
	assert.Equal(t, "10\n", out)
}

func TestForLoop(t *testing.T) {
	out, err := run(t, `
		var sum = 0;
		for (var i = 0; i < 5; i = i + 1) {
			sum = sum + i;
		}
		print sum;
	`)
	require.NoError(t, err)
	assert.Equal(t, "10\n", out)
}

func TestAndOrShortCircuit(t *testing.T) {
	out, err := run(t, `
		fun sideEffect() { print "called"; return true; }
		print false and sideEffect();
		print true or sideEffect();
	`)
	require.NoError(t, err)
	assert.Equal(t, "false\ntrue\n", out)
}

func TestClosureCounter(t *testing.T) {
	out, err := run(t, `
		fun makeCounter() {
			var count = 0;
			fun increment() {
				count = count + 1;
				return count;
			}
			return increment;
		}
		var counter = makeCounter();
		print counter();
		print counter();
		print counter();
	`)
	require.NoError(t, err)
	assert.Equal(t, "1\n2\n3\n", out)
}

func TestClassesInheritanceAndInit(t *testing.T) {
	out, err := run(t, `
		class Animal {
			init(name) {
				this.name = name;
			}
			greet() {
				print "Hi, I'm " + this.name;
			}
		}
		class Dog < Animal {
			greet() {
				super.greet();
				print "Woof!";
			}
		}
		var d = Dog("Rex");
		d.greet();
	`)
	require.NoError(t, err)
	assert.Equal(t, "Hi, I'm Rex\nWoof!\n", out)
}

func TestStringInterningEquality(t *testing.T) {
	out, err := run(t, `
		var a = "hello";
		var b = "hel" + "lo";
		print a == b;
	`)
	require.NoError(t, err)
	assert.Equal(t, "true\n", out)
}

func TestCallingNonCallableIsRuntimeError(t *testing.T) {
	_, err := run(t, `
		var x = 1;
		x();
	`)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "Can only call functions and classes, got number.")
}

func TestExitRequestCarriesExitCode(t *testing.T) {
	var out strings.Builder
	machine := vm.New(vm.WithStdout(&out))
	result, err := machine.Interpret(`
		print "before";
		exit(7);
		print "after";
	`)
	assert.Equal(t, vm.InterpretOK, result)
	require.Error(t, err)
	code, ok := vm.ExitCode(err)
	assert.True(t, ok)
	assert.Equal(t, 7, code)
	assert.Equal(t, "before\n", out.String())
}

func TestRuntimeErrorUnwrapsFailingNativeError(t *testing.T) {
	_, err := run(t, `clock(1);`)
	require.Error(t, err)

	var runtimeErr *vm.RuntimeError
	require.True(t, errors.As(err, &runtimeErr))
	require.NotNil(t, runtimeErr.Cause)
	assert.Equal(t, runtimeErr.Cause, errors.Unwrap(runtimeErr))
}

func TestWrongArityIsRuntimeError(t *testing.T) {
	_, err := run(t, `
		fun f(a, b) { return a + b; }
		f(1);
	`)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "Expected 2 arguments but got 1.")
}

func TestPropertyAccessOnNonInstanceIsRuntimeError(t *testing.T) {
	_, err := run(t, `
		var x = 1;
		print x.foo;
	`)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "Only instances have properties, got number.")
}

func TestInheritingFromNonClassIsRuntimeError(t *testing.T) {
	_, err := run(t, `
		var NotAClass = 1;
		class Sub < NotAClass {}
	`)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "Superclass must be a class, got number.")
}

func TestInitReturningValueIsCompileError(t *testing.T) {
	_, err := run(t, `
		class Foo {
			init() {
				return 1;
			}
		}
	`)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "Can't return a value from an initializer.")
}

func TestGCStressDoesNotCorruptNestedClosures(t *testing.T) {
	out, err := run(t, `
		fun makeAdders() {
			var adders = nil;
			for (var i = 0; i < 50; i = i + 1) {
				fun adder(x) {
					return x + i;
				}
				adders = adder;
			}
			return adders;
		}
		var add = makeAdders();
		print add(1);
	`, vm.WithStressGC())
	require.NoError(t, err)
	assert.Equal(t, "50\n", out)
}

func TestGCStressUnderStringConcatenation(t *testing.T) {
	out, err := run(t, `
		var s = "";
		for (var i = 0; i < 20; i = i + 1) {
			s = s + "x";
		}
		print s;
	`, vm.WithStressGC())
	require.NoError(t, err)
	assert.Equal(t, strings.Repeat("x", 20)+"\n", out)
}

func TestRuntimeErrorStackTrace(t *testing.T) {
	_, err := run(t, `
		fun a() { return 1 + nil; }
		fun b() { return a(); }
		b();
	`)
	require.Error(t, err)
	rtErr, ok := err.(*vm.RuntimeError)
	require.True(t, ok)
	require.Len(t, rtErr.Trace, 3)
	assert.Contains(t, rtErr.Trace[0].FuncName, "a")
	assert.Contains(t, rtErr.Trace[1].FuncName, "b")
}
