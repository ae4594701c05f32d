package runner

import (
	"context"
	"errors"
	"os/exec"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ravi-parthasarathy/convoy/pkg/frame"
)

func requirePython(t *testing.T) {
	t.Helper()
	if _, err := exec.LookPath("python3"); err != nil {
		t.Skip("python3 not available")
	}
}

func TestReadFrame(t *testing.T) {
	out := "hello\n" + FrameBegin + "\n" +
		`{"columns":["a","b"],"rows":[{"a":1,"b":"x"},{"a":2,"b":"y"}]}` + "\n" + FrameEnd + "\n"
	df, rest, err := readFrame(out)
	require.NoError(t, err)
	assert.Equal(t, "hello", rest)
	assert.Equal(t, []string{"a", "b"}, df.ColumnNames())
	assert.Equal(t, frame.TypeNumber, df.Columns[0].Type)
	assert.Equal(t, frame.TypeString, df.Columns[1].Type)
	assert.Equal(t, 2, df.Len())

	df, rest, err = readFrame("no markers")
	require.NoError(t, err)
	assert.Nil(t, df)
	assert.Equal(t, "no markers", rest)

	_, _, err = readFrame(FrameBegin + "\n{}")
	assert.Error(t, err)
}

func TestSeed(t *testing.T) {
	df, err := frame.New([]frame.Column{{Name: "q", Type: frame.TypeString}}, []map[string]any{{"q": `say "hi"`}})
	require.NoError(t, err)
	seed, err := Seed(df)
	require.NoError(t, err)
	assert.Contains(t, seed, "import pandas as pd")
	assert.Contains(t, seed, `say \\\"hi\\\"`)
	assert.True(t, strings.HasSuffix(seed, "\n"))

	empty, err := Seed(nil)
	require.NoError(t, err)
	assert.Contains(t, empty, `{\"columns\":[],\"rows\":[]}`)
}

func TestLocalRunner_Frame(t *testing.T) {
	requirePython(t)
	script := `print("side output")
print("` + FrameBegin + `")
print('{"columns": ["n"], "rows": [{"n": 1}, {"n": 2}, {"n": 3}]}')
print("` + FrameEnd + `")
`
	res, err := (&LocalRunner{}).Run(context.Background(), script)
	require.NoError(t, err)
	assert.Equal(t, "side output", res.Stdout)
	require.NotNil(t, res.Frame)
	assert.Equal(t, 3, res.Frame.Len())
}

func TestLocalRunner_Failure(t *testing.T) {
	requirePython(t)
	_, err := (&LocalRunner{}).Run(context.Background(), "x = 1\nraise ValueError(\"bad value\")\n")
	var execErr *ExecutionError
	require.ErrorAs(t, err, &execErr)
	assert.Equal(t, "ValueError: bad value", execErr.Message)
}

func TestLocalRunner_Timeout(t *testing.T) {
	requirePython(t)
	r := &LocalRunner{Timeout: 200 * time.Millisecond}
	_, err := r.Run(context.Background(), "import time\ntime.sleep(5)\n")
	var execErr *ExecutionError
	require.ErrorAs(t, err, &execErr)
	assert.Contains(t, execErr.Message, "timed out")
}

func TestLocalRunner_MissingInterpreter(t *testing.T) {
	_, err := (&LocalRunner{Python: "convoy-no-such-python"}).Run(context.Background(), "pass\n")
	require.Error(t, err)
	var execErr *ExecutionError
	assert.False(t, errors.As(err, &execErr))
}
