package command

import "testing"

// recordingExecutor captures every draw call for assertions.
type recordingExecutor struct {
	indexed    [][5]int64
	nonIndexed [][4]int64
}

func (r *recordingExecutor) DrawIndexed(indexCount, instanceCount, firstIndex uint32, baseVertex int32, firstInstance uint32) {
	r.indexed = append(r.indexed, [5]int64{int64(indexCount), int64(instanceCount), int64(firstIndex), int64(baseVertex), int64(firstInstance)})
}

func (r *recordingExecutor) Draw(vertexCount, instanceCount, firstVertex, firstInstance uint32) {
	r.nonIndexed = append(r.nonIndexed, [4]int64{int64(vertexCount), int64(instanceCount), int64(firstVertex), int64(firstInstance)})
}

func TestIndexedDrawPromotion(t *testing.T) {
	if got := NewIndexedDraw(36, 1, 0, 0, 0).Type(); got != TypeIndexedDraw {
		t.Errorf("instanceCount=1 should stay indexed, got %v", got)
	}
	// instanceCount > 1 is promoted even through the simpler factory.
	if got := NewIndexedDraw(36, 8, 0, 0, 0).Type(); got != TypeIndexedInstancedDraw {
		t.Errorf("instanceCount=8 should report indexed-instanced, got %v", got)
	}
	if got := NewIndexedInstancedDraw(36, 1, 0, 0, 0).Type(); got != TypeIndexedInstancedDraw {
		t.Errorf("explicit instanced factory should keep its type, got %v", got)
	}
}

func TestIsValid(t *testing.T) {
	cases := []struct {
		name  string
		cmd   RenderCommand
		valid bool
	}{
		{"indexed ok", NewIndexedDraw(36, 1, 0, 0, 0), true},
		{"indexed zero indices", NewIndexedDraw(0, 1, 0, 0, 0), false},
		{"indexed zero instances", NewIndexedDraw(36, 0, 0, 0, 0), false},
		{"instanced ok", NewInstancedDraw(3, 64, 0, 0), true},
		{"instanced zero vertices", NewInstancedDraw(0, 64, 0, 0), false},
		{"instanced zero instances", NewInstancedDraw(3, 0, 0, 0), false},
		{"indexed instanced ok", NewIndexedInstancedDraw(36, 16, 0, -4, 0), true},
		{"indexed instanced zero indices", NewIndexedInstancedDraw(0, 16, 0, 0, 0), false},
		{"zero value", RenderCommand{}, false},
	}
	for _, c := range cases {
		if got := c.cmd.IsValid(); got != c.valid {
			t.Errorf("%s: IsValid() = %v, want %v", c.name, got, c.valid)
		}
	}
}

func TestExecuteForwardsArguments(t *testing.T) {
	var ex recordingExecutor

	NewIndexedDraw(36, 2, 12, -4, 1).Execute(&ex)
	if len(ex.indexed) != 1 {
		t.Fatalf("expected 1 indexed draw, got %d", len(ex.indexed))
	}
	if got, want := ex.indexed[0], [5]int64{36, 2, 12, -4, 1}; got != want {
		t.Errorf("DrawIndexed args = %v, want %v", got, want)
	}

	NewInstancedDraw(3, 100, 6, 5).Execute(&ex)
	if len(ex.nonIndexed) != 1 {
		t.Fatalf("expected 1 non-indexed draw, got %d", len(ex.nonIndexed))
	}
	if got, want := ex.nonIndexed[0], [4]int64{3, 100, 6, 5}; got != want {
		t.Errorf("Draw args = %v, want %v", got, want)
	}
}

func TestExecuteSkipsInvalid(t *testing.T) {
	var ex recordingExecutor
	NewIndexedDraw(0, 1, 0, 0, 0).Execute(&ex)
	NewInstancedDraw(3, 0, 0, 0).Execute(&ex)
	if len(ex.indexed) != 0 || len(ex.nonIndexed) != 0 {
		t.Fatalf("invalid commands must never reach the executor: %d indexed, %d non-indexed",
			len(ex.indexed), len(ex.nonIndexed))
	}
	// nil executor must not panic either
	NewIndexedDraw(36, 1, 0, 0, 0).Execute(nil)
}

func TestTypeNameRoundTrip(t *testing.T) {
	for _, typ := range []Type{TypeIndexedDraw, TypeInstancedDraw, TypeIndexedInstancedDraw} {
		got, err := ParseType(typ.String())
		if err != nil {
			t.Fatalf("ParseType(%q): %v", typ.String(), err)
		}
		if got != typ {
			t.Fatalf("ParseType(%q) = %v, want %v", typ.String(), got, typ)
		}
	}
	if _, err := ParseType("multi_draw"); err == nil {
		t.Error("expected error for unknown type name")
	}
}
