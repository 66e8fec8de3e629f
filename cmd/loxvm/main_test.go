package main

import (
	"bytes"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/kristofer/loxvm/pkg/vm"
)

func TestEvalREPLLineRunsPlainSource(t *testing.T) {
	var out bytes.Buffer
	machine := vm.New(vm.WithStdout(&out))
	evalREPLLine(machine, `print 1 + 2;`)
	assert.Equal(t, "3\n", out.String())
}

func TestEvalREPLLineDumpDisassemblesInsteadOfRunning(t *testing.T) {
	var out bytes.Buffer
	machine := vm.New(vm.WithStdout(&out))

	stdout := os.Stdout
	r, w, err := os.Pipe()
	assert.NoError(t, err)
	os.Stdout = w

	evalREPLLine(machine, `DUMP print 1 + 2;`)

	w.Close()
	os.Stdout = stdout
	var captured bytes.Buffer
	captured.ReadFrom(r)

	assert.Empty(t, out.String(), "DUMP must not execute the statement")
	assert.Contains(t, captured.String(), "OP_PRINT")
}

func TestExitCodeForPropagatesExitRequestCode(t *testing.T) {
	machine := vm.New(vm.WithStdout(&bytes.Buffer{}))
	result, err := machine.Interpret(`exit(7);`)
	assert.Equal(t, exitCodeFor(result, err), 7)
}

func TestExitCodeForDefaultsToZeroWithoutExit(t *testing.T) {
	machine := vm.New(vm.WithStdout(&bytes.Buffer{}))
	result, err := machine.Interpret(`print "hi";`)
	assert.Equal(t, exitCodeFor(result, err), 0)
}
