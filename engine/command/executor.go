package command

// Executor is the opaque GPU boundary the command core draws through. The
// method signatures mirror wgpu.RenderPassEncoder so a WebGPU-backed executor
// is a direct forward, but any encoder (or a test fake) can implement it.
//
// The core never inspects GPU state; it only hands valid commands across this
// boundary and expects no result back.
type Executor interface {
	// DrawIndexed encodes one indexed draw.
	//
	// Parameters:
	//   - indexCount: the number of indices to draw
	//   - instanceCount: the number of instances to draw
	//   - firstIndex: offset into the index buffer
	//   - baseVertex: signed value added to each index before vertex lookup
	//   - firstInstance: first instance ID
	DrawIndexed(indexCount, instanceCount, firstIndex uint32, baseVertex int32, firstInstance uint32)

	// Draw encodes one non-indexed draw.
	//
	// Parameters:
	//   - vertexCount: the number of vertices to draw
	//   - instanceCount: the number of instances to draw
	//   - firstVertex: first vertex to draw
	//   - firstInstance: first instance ID
	Draw(vertexCount, instanceCount, firstVertex, firstInstance uint32)
}
