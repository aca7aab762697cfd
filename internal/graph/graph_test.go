package graph

import (
	"bytes"
	"errors"
	"math"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/23skdu/longbow-cnn/internal/device"
	"github.com/23skdu/longbow-cnn/internal/tensor"
)

type mockOp struct {
	mock.Mock
	kind Kind
	name string
}

func (m *mockOp) Kind() Kind { return m.kind }

func (m *mockOp) Dim(xs []tensor.Dim) tensor.Dim {
	return m.Called(xs).Get(0).(tensor.Dim)
}

func (m *mockOp) Forward(device.Backend, []*tensor.Tensor, *tensor.Tensor) {}

func (m *mockOp) Backward(device.Backend, []*tensor.Tensor, *tensor.Tensor, *tensor.Tensor, int, *tensor.Tensor) {
}

func (m *mockOp) String(args []string) string {
	return m.name + "(" + strings.Join(args, ", ") + ")"
}

func leaf(kind Kind, name string, d tensor.Dim) *mockOp {
	op := &mockOp{kind: kind, name: name}
	op.On("Dim", mock.Anything).Return(d)
	return op
}

func TestGraph_AddNode(t *testing.T) {
	g := New()
	x := g.AddNode(leaf(KindInput, "x", tensor.NewDim(3)))
	w := g.AddNode(leaf(KindParameter, "w", tensor.NewDim(3)))

	dot := &mockOp{kind: KindFunction, name: "dot"}
	dot.On("Dim", []tensor.Dim{tensor.NewDim(3), tensor.NewDim(3)}).Return(tensor.ScalarDim()).Once()
	y := g.AddNode(dot, x, w)

	assert.Equal(t, VariableIndex(0), x)
	assert.Equal(t, VariableIndex(1), w)
	assert.Equal(t, VariableIndex(2), y)
	assert.Equal(t, 3, g.Size())
	assert.Equal(t, []VariableIndex{w}, g.ParameterNodes())
	assert.Equal(t, []VariableIndex{x, w}, g.Node(y).Args)
	assert.True(t, g.Node(y).Dim.Equal(tensor.ScalarDim()))
	dot.AssertExpectations(t)
}

func TestGraph_BadIndex(t *testing.T) {
	g := New()
	g.AddNode(leaf(KindInput, "x", tensor.NewDim(1)))

	for _, bad := range []VariableIndex{1, 5, -1} {
		func() {
			defer func() {
				r := recover()
				require.NotNil(t, r)
				assert.True(t, errors.Is(r.(error), ErrBadIndex))
			}()
			g.AddNode(leaf(KindFunction, "f", tensor.NewDim(1)), bad)
		}()
	}
	assert.Equal(t, 1, g.Size(), "failed adds leave the graph unchanged")
}

func TestGraph_ClearAndCheckpoint(t *testing.T) {
	g := New()
	g.AddNode(leaf(KindParameter, "p", tensor.NewDim(2)))
	g.Checkpoint()
	g.AddNode(leaf(KindParameter, "q", tensor.NewDim(2)))
	g.AddNode(leaf(KindInput, "x", tensor.NewDim(2)))
	require.Equal(t, 3, g.Size())
	assert.Equal(t, math.MaxInt, g.RevertFloor())

	rev := g.Revision()
	g.Revert()
	assert.Equal(t, 1, g.Size())
	assert.Len(t, g.ParameterNodes(), 1)
	assert.Equal(t, rev+1, g.Revision())
	assert.Equal(t, 1, g.RevertFloor())

	// the checkpoint is reusable
	g.AddNode(leaf(KindInput, "y", tensor.NewDim(2)))
	g.Revert()
	assert.Equal(t, 1, g.Size())

	g.PopCheckpoint()
	assert.PanicsWithValue(t, ErrNoCheckpoint, g.Revert)

	gen := g.Generation()
	g.Clear()
	assert.Equal(t, 0, g.Size())
	assert.Empty(t, g.ParameterNodes())
	assert.Equal(t, gen+1, g.Generation())
	assert.Equal(t, math.MaxInt, g.RevertFloor())
}

func TestGraph_PrintGraphviz(t *testing.T) {
	g := New()
	x := g.AddNode(leaf(KindInput, "x", tensor.NewDim(1)))
	g.AddNode(leaf(KindFunction, "tanh", tensor.NewDim(1)), x)

	var buf bytes.Buffer
	require.NoError(t, g.PrintGraphviz(&buf))
	out := buf.String()
	assert.True(t, strings.HasPrefix(out, "digraph G {\n"))
	assert.Contains(t, out, `N1 [label="v1 = tanh(v0)"];`)
	assert.Contains(t, out, "N0 -> N1;")
	assert.True(t, strings.HasSuffix(out, "}\n"))
}

func TestKind_String(t *testing.T) {
	assert.Equal(t, "lookup", KindLookup.String())
	assert.Equal(t, "unknown", Kind(42).String())
}
