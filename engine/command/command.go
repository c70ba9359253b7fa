package command

import "fmt"

// Type identifies the draw kind of a RenderCommand. The set is closed so an
// executor can switch over it exhaustively.
type Type int

const (
	// TypeIndexedDraw draws indexed geometry once.
	TypeIndexedDraw Type = iota
	// TypeInstancedDraw draws non-indexed geometry one or more times.
	TypeInstancedDraw
	// TypeIndexedInstancedDraw draws indexed geometry more than once.
	TypeIndexedInstancedDraw
)

// String returns the snake-case name of the type.
func (t Type) String() string {
	switch t {
	case TypeIndexedDraw:
		return "indexed_draw"
	case TypeInstancedDraw:
		return "instanced_draw"
	case TypeIndexedInstancedDraw:
		return "indexed_instanced_draw"
	default:
		return fmt.Sprintf("type(%d)", int(t))
	}
}

// ParseType resolves a command type by its snake-case name as produced by String.
//
// Parameters:
//   - s: the type name, e.g. "indexed_draw"
//
// Returns:
//   - Type: the matching type
//   - error: an error if the name is unknown
func ParseType(s string) (Type, error) {
	switch s {
	case "indexed_draw":
		return TypeIndexedDraw, nil
	case "instanced_draw":
		return TypeInstancedDraw, nil
	case "indexed_instanced_draw":
		return TypeIndexedInstancedDraw, nil
	default:
		return TypeIndexedDraw, fmt.Errorf("unknown command type %q", s)
	}
}

// RenderCommand is one immediate-mode draw request. It is a closed tagged
// variant over the three draw kinds rather than an interface hierarchy, so the
// queue can store commands by value and the executor can dispatch with a
// single switch.
//
// Construction never fails; a command built with a zero count is simply
// invalid and is rejected by the queue at submit time (see IsValid).
type RenderCommand struct {
	kind Type

	indexCount    uint32
	vertexCount   uint32
	instanceCount uint32

	firstIndex    uint32
	firstVertex   uint32
	firstInstance uint32
	baseVertex    int32
}

// NewIndexedDraw creates an indexed draw command. When instanceCount is
// greater than 1 the command reports TypeIndexedInstancedDraw, so callers
// never need to pick the instanced factory explicitly just because they pass
// an instance count.
//
// Parameters:
//   - indexCount: the number of indices to draw (must be > 0 to be valid)
//   - instanceCount: the number of instances (must be > 0 to be valid)
//   - firstIndex: offset into the index buffer
//   - baseVertex: signed value added to each index before vertex lookup
//   - firstInstance: first instance ID
//
// Returns:
//   - RenderCommand: the constructed command
func NewIndexedDraw(indexCount, instanceCount, firstIndex uint32, baseVertex int32, firstInstance uint32) RenderCommand {
	kind := TypeIndexedDraw
	if instanceCount > 1 {
		kind = TypeIndexedInstancedDraw
	}
	return RenderCommand{
		kind:          kind,
		indexCount:    indexCount,
		instanceCount: instanceCount,
		firstIndex:    firstIndex,
		firstInstance: firstInstance,
		baseVertex:    baseVertex,
	}
}

// NewInstancedDraw creates a non-indexed instanced draw command.
//
// Parameters:
//   - vertexCount: the number of vertices to draw (must be > 0 to be valid)
//   - instanceCount: the number of instances (must be > 0 to be valid)
//   - firstVertex: first vertex to draw
//   - firstInstance: first instance ID
//
// Returns:
//   - RenderCommand: the constructed command
func NewInstancedDraw(vertexCount, instanceCount, firstVertex, firstInstance uint32) RenderCommand {
	return RenderCommand{
		kind:          TypeInstancedDraw,
		vertexCount:   vertexCount,
		instanceCount: instanceCount,
		firstVertex:   firstVertex,
		firstInstance: firstInstance,
	}
}

// NewIndexedInstancedDraw creates an indexed instanced draw command.
//
// Parameters:
//   - indexCount: the number of indices to draw (must be > 0 to be valid)
//   - instanceCount: the number of instances (must be > 0 to be valid)
//   - firstIndex: offset into the index buffer
//   - baseVertex: signed value added to each index before vertex lookup
//   - firstInstance: first instance ID
//
// Returns:
//   - RenderCommand: the constructed command
func NewIndexedInstancedDraw(indexCount, instanceCount, firstIndex uint32, baseVertex int32, firstInstance uint32) RenderCommand {
	return RenderCommand{
		kind:          TypeIndexedInstancedDraw,
		indexCount:    indexCount,
		instanceCount: instanceCount,
		firstIndex:    firstIndex,
		firstInstance: firstInstance,
		baseVertex:    baseVertex,
	}
}

// Type returns which draw kind this command is.
func (c RenderCommand) Type() Type { return c.kind }

// IndexCount returns the number of indices to draw (indexed kinds only).
func (c RenderCommand) IndexCount() uint32 { return c.indexCount }

// VertexCount returns the number of vertices to draw (instanced kind only).
func (c RenderCommand) VertexCount() uint32 { return c.vertexCount }

// InstanceCount returns the number of instances to draw.
func (c RenderCommand) InstanceCount() uint32 { return c.instanceCount }

// FirstIndex returns the offset into the index buffer.
func (c RenderCommand) FirstIndex() uint32 { return c.firstIndex }

// FirstVertex returns the first vertex to draw.
func (c RenderCommand) FirstVertex() uint32 { return c.firstVertex }

// FirstInstance returns the first instance ID.
func (c RenderCommand) FirstInstance() uint32 { return c.firstInstance }

// BaseVertex returns the signed base vertex offset.
func (c RenderCommand) BaseVertex() int32 { return c.baseVertex }

// IsValid reports whether every count field the draw kind requires is
// non-zero. An invalid command must never reach the GPU executor.
//
// Returns:
//   - bool: true if the command may be executed
func (c RenderCommand) IsValid() bool {
	switch c.kind {
	case TypeIndexedDraw, TypeIndexedInstancedDraw:
		return c.indexCount > 0 && c.instanceCount > 0
	case TypeInstancedDraw:
		return c.vertexCount > 0 && c.instanceCount > 0
	default:
		return false
	}
}

// Execute forwards the draw to the GPU executor. Invalid commands are a
// no-op; callers that need an error signal must check IsValid themselves.
//
// Parameters:
//   - e: the GPU executor to encode the draw on
func (c RenderCommand) Execute(e Executor) {
	if e == nil || !c.IsValid() {
		return
	}
	switch c.kind {
	case TypeIndexedDraw, TypeIndexedInstancedDraw:
		e.DrawIndexed(c.indexCount, c.instanceCount, c.firstIndex, c.baseVertex, c.firstInstance)
	case TypeInstancedDraw:
		e.Draw(c.vertexCount, c.instanceCount, c.firstVertex, c.firstInstance)
	}
}

// String renders the command for debug logging.
func (c RenderCommand) String() string {
	switch c.kind {
	case TypeInstancedDraw:
		return fmt.Sprintf("%s{vertices:%d instances:%d first:%d}", c.kind, c.vertexCount, c.instanceCount, c.firstVertex)
	default:
		return fmt.Sprintf("%s{indices:%d instances:%d first:%d base:%d}", c.kind, c.indexCount, c.instanceCount, c.firstIndex, c.baseVertex)
	}
}
