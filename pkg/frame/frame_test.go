package frame_test

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ravi-parthasarathy/convoy/pkg/frame"
)

func TestNew_RejectsUndeclaredKey(t *testing.T) {
	_, err := frame.New(
		[]frame.Column{{Name: "a", Type: frame.TypeNumber}},
		[]map[string]any{{"a": 1.0}, {"b": 2.0}},
	)
	require.Error(t, err)
	assert.True(t, errors.Is(err, frame.ErrUnknownColumn))
}

func TestNew_SubsetKeysAllowed(t *testing.T) {
	df, err := frame.New(
		[]frame.Column{{Name: "a", Type: frame.TypeNumber}, {Name: "b", Type: frame.TypeString}},
		[]map[string]any{{"a": 1.0}},
	)
	require.NoError(t, err)
	assert.Equal(t, 1, df.Len())
}

func TestWithSchemaOnly(t *testing.T) {
	df := &frame.DataFrame{
		Columns: []frame.Column{{Name: "x", Type: frame.TypeString}},
		Rows:    []map[string]any{{"x": "hi"}},
	}
	empty := df.WithSchemaOnly()
	assert.Equal(t, 0, empty.Len())
	assert.Equal(t, []string{"x"}, empty.ColumnNames())

	var nilFrame *frame.DataFrame
	assert.Equal(t, 0, nilFrame.Len())
	assert.Empty(t, nilFrame.WithSchemaOnly().Columns)
}

func TestInferType(t *testing.T) {
	tests := []struct {
		name   string
		values []any
		want   frame.ColumnType
	}{
		{"numbers", []any{1.0, 2.5, nil}, frame.TypeNumber},
		{"bools", []any{true, false}, frame.TypeBoolean},
		{"dates", []any{"2024-01-02", "2024-03-04"}, frame.TypeDate},
		{"mixed", []any{1.0, "x"}, frame.TypeString},
		{"empty", nil, frame.TypeString},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, frame.InferType(tt.values))
		})
	}
}

func TestInfer_ColumnOrder(t *testing.T) {
	df := frame.Infer([]map[string]any{{"b": 1.0, "a": "x"}}, []string{"a", "b"})
	assert.Equal(t, []string{"a", "b"}, df.ColumnNames())
	assert.Equal(t, frame.TypeNumber, df.Columns[1].Type)
}
