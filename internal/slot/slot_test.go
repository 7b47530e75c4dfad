package slot

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ocx/pyexec/internal/allowlist"
	"github.com/ocx/pyexec/internal/sink"
	"github.com/ocx/pyexec/internal/types"
)

func run(t *testing.T, source string, modules allowlist.Set, snk *sink.Sink) Outcome {
	t.Helper()
	if modules == nil {
		modules = allowlist.NewSet(types.DefaultAllowedModules)
	}
	if snk == nil {
		snk = sink.New(1 << 20)
	}
	s := New(1)
	defer s.Close()
	return <-s.Submit(Work{CallID: "t", Source: source, Modules: modules, Sink: snk})
}

func TestSlot_SimpleExpressionResult(t *testing.T) {
	out := run(t, "__result__ = 1 + 2", nil, nil)
	require.Nil(t, out.Err)
	require.NotNil(t, out.ReturnValue)
	assert.Equal(t, "3", *out.ReturnValue)
}

func TestSlot_ImportAllowedModuleWorks(t *testing.T) {
	out := run(t, "import math\n__result__ = math.sqrt(16)", nil, nil)
	require.Nil(t, out.Err)
	require.NotNil(t, out.ReturnValue)
	assert.Equal(t, "4.0", *out.ReturnValue)
}

func TestSlot_ImportDisallowedModuleIsRejected(t *testing.T) {
	modules := allowlist.NewSet([]string{"math"})
	out := run(t, "import random\n__result__ = 1", modules, nil)
	require.NotNil(t, out.Err)
	assert.Equal(t, types.ErrModuleRejected, out.Err.Type)
	assert.Equal(t, "random", out.Err.ModuleName)
}

func TestSlot_FromImportBindsName(t *testing.T) {
	out := run(t, "from os.path import join\n__result__ = join(\"a\", \"b\")", nil, nil)
	require.Nil(t, out.Err)
	require.NotNil(t, out.ReturnValue)
	assert.Equal(t, "a/b", *out.ReturnValue)
}

func TestSlot_RuntimeErrorClassifiedAsRuntimeFailure(t *testing.T) {
	out := run(t, "x = 1 // 0", nil, nil)
	require.NotNil(t, out.Err)
	assert.Equal(t, types.ErrRuntimeFailure, out.Err.Type)
}

func TestSlot_SyntaxErrorClassifiedAsParseFailure(t *testing.T) {
	out := run(t, "def f(:\n  pass", nil, nil)
	require.NotNil(t, out.Err)
	assert.Equal(t, types.ErrParseFailure, out.Err.Type)
}

func TestSlot_SysStderrWriteReachesSink(t *testing.T) {
	snk := sink.New(1 << 20)
	out := run(t, "sys.stderr.write(\"boom\")", nil, snk)
	require.Nil(t, out.Err)
	_, stderr := snk.Drain()
	assert.Equal(t, "boom", stderr)
}

func TestSlot_PrintGoesToStdout(t *testing.T) {
	snk := sink.New(1 << 20)
	out := run(t, `print("hi")`, nil, snk)
	require.Nil(t, out.Err)
	stdout, _ := snk.Drain()
	assert.Equal(t, "hi\n", stdout)
}

func TestSlot_OutputCapExceededSurfacesAsError(t *testing.T) {
	snk := sink.New(2)
	out := run(t, `print("way too long for the cap")`, nil, snk)
	require.NotNil(t, out.Err)
	assert.Equal(t, types.ErrOutputCapExceeded, out.Err.Type)
}

func TestSlot_NoTrailingResultLeavesReturnValueNil(t *testing.T) {
	out := run(t, "x = 1", nil, nil)
	require.Nil(t, out.Err)
	assert.Nil(t, out.ReturnValue)
}

func TestSlot_NoneResultLeavesReturnValueNil(t *testing.T) {
	out := run(t, "__result__ = None", nil, nil)
	require.Nil(t, out.Err)
	assert.Nil(t, out.ReturnValue)
}
