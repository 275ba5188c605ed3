// Package gpu runs simulation ticks as WebGPU compute work. It mirrors the
// CPU backend's observable semantics: charge uses an exact pairwise sum
// instead of the approximated tree walk, link corrections race without
// atomics, and all arithmetic is float32 on the device. The host structs
// stay authoritative, refreshed by a read-back at the end of every tick, so
// the engine can fail over mid-run without losing completed work.
package gpu

import (
	"fmt"
	"log/slog"
	"sync"

	"github.com/cogentcore/webgpu/wgpu"

	"github.com/exocortex-initiative/forcefield/internal/layout"
	"github.com/exocortex-initiative/forcefield/internal/logger"
	"github.com/exocortex-initiative/forcefield/internal/sim"
)

// Backend implements sim.Backend on a WebGPU compute device. Node state is
// double-buffered: each tick reads the buffer selected by the tick parity
// and writes the other, then the parity flips. Pin writes land in whichever
// buffer is live.
type Backend struct {
	mu  sync.Mutex
	log *slog.Logger

	instance *wgpu.Instance
	adapter  *wgpu.Adapter
	device   *wgpu.Device
	queue    *wgpu.Queue

	module         *wgpu.ShaderModule
	bindLayout     *wgpu.BindGroupLayout
	pipelineLayout *wgpu.PipelineLayout
	forcesPipe     *wgpu.ComputePipeline
	linksPipe      *wgpu.ComputePipeline
	integratePipe  *wgpu.ComputePipeline

	nodeBufs   [2]*wgpu.Buffer
	bindGroups [2]*wgpu.BindGroup
	linkBuf    *wgpu.Buffer
	uniformBuf *wgpu.Buffer
	readback   *wgpu.Buffer

	nodeCap int
	linkCap int
	active  int

	nodes     []*layout.Node
	links     []*layout.Link
	nodeStage []nodeState
	linkStage []linkState

	initialized bool
}

var _ sim.Backend = (*Backend)(nil)

// New returns an uninitialized GPU backend. Initialize acquires the device.
func New() *Backend {
	return &Backend{log: logger.WithComponent("gpu")}
}

func (b *Backend) Name() string { return "gpu" }

// Initialize acquires an adapter and device and compiles the compute
// pipelines. It returns ErrNoGPU when no compatible adapter exists, leaving
// the backend safe to Release.
func (b *Backend) Initialize() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.initialized {
		return nil
	}

	b.instance = wgpu.CreateInstance(nil)
	if b.instance == nil {
		return sim.ErrNoGPU
	}
	adapter, err := b.instance.RequestAdapter(&wgpu.RequestAdapterOptions{
		PowerPreference: wgpu.PowerPreferenceHighPerformance,
	})
	if err != nil {
		b.releaseLocked()
		return fmt.Errorf("%w: request adapter: %v", sim.ErrNoGPU, err)
	}
	b.adapter = adapter

	device, err := adapter.RequestDevice(nil)
	if err != nil {
		b.releaseLocked()
		return fmt.Errorf("%w: request device: %v", sim.ErrNoGPU, err)
	}
	b.device = device
	b.queue = device.GetQueue()

	if err := b.buildPipelinesLocked(); err != nil {
		b.releaseLocked()
		return err
	}

	b.uniformBuf, err = device.CreateBuffer(&wgpu.BufferDescriptor{
		Label: "sim_params",
		Size:  uniformSize,
		Usage: wgpu.BufferUsageUniform | wgpu.BufferUsageCopyDst,
	})
	if err != nil {
		b.releaseLocked()
		return fmt.Errorf("create uniform buffer: %w", err)
	}

	b.initialized = true
	b.log.Info("gpu backend initialized")
	return nil
}

func (b *Backend) buildPipelinesLocked() error {
	module, err := b.device.CreateShaderModule(&wgpu.ShaderModuleDescriptor{
		Label:          "forcefield.wgsl",
		WGSLDescriptor: &wgpu.ShaderModuleWGSLDescriptor{Code: shaderSource},
	})
	if err != nil {
		return fmt.Errorf("compile shader: %w", err)
	}
	b.module = module

	// One explicit layout shared by all three entry points keeps a single
	// bind group per parity, instead of per-pipeline auto layouts that drop
	// unused bindings.
	b.bindLayout, err = b.device.CreateBindGroupLayout(&wgpu.BindGroupLayoutDescriptor{
		Label: "sim_bindings",
		Entries: []wgpu.BindGroupLayoutEntry{
			bufferEntry(0, wgpu.BufferBindingTypeReadOnlyStorage),
			bufferEntry(1, wgpu.BufferBindingTypeStorage),
			bufferEntry(2, wgpu.BufferBindingTypeUniform),
			bufferEntry(3, wgpu.BufferBindingTypeReadOnlyStorage),
		},
	})
	if err != nil {
		return fmt.Errorf("create bind group layout: %w", err)
	}
	b.pipelineLayout, err = b.device.CreatePipelineLayout(&wgpu.PipelineLayoutDescriptor{
		Label:            "sim_pipeline_layout",
		BindGroupLayouts: []*wgpu.BindGroupLayout{b.bindLayout},
	})
	if err != nil {
		return fmt.Errorf("create pipeline layout: %w", err)
	}

	entryPoints := []struct {
		name string
		dst  **wgpu.ComputePipeline
	}{
		{"apply_forces", &b.forcesPipe},
		{"apply_links", &b.linksPipe},
		{"integrate", &b.integratePipe},
	}
	for _, ep := range entryPoints {
		pipe, err := b.device.CreateComputePipeline(&wgpu.ComputePipelineDescriptor{
			Label:  ep.name,
			Layout: b.pipelineLayout,
			Compute: wgpu.ProgrammableStageDescriptor{
				Module:     module,
				EntryPoint: ep.name,
			},
		})
		if err != nil {
			return fmt.Errorf("create %s pipeline: %w", ep.name, err)
		}
		*ep.dst = pipe
	}
	return nil
}

func bufferEntry(binding uint32, typ wgpu.BufferBindingType) wgpu.BindGroupLayoutEntry {
	return wgpu.BindGroupLayoutEntry{
		Binding:    binding,
		Visibility: wgpu.ShaderStageCompute,
		Buffer:     wgpu.BufferBindingLayout{Type: typ},
	}
}

// SetNodes uploads the node set into the live buffer, recreating device
// buffers when the set outgrows their capacity.
func (b *Backend) SetNodes(nodes []*layout.Node) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if !b.initialized {
		return sim.ErrNotInitialized
	}
	b.nodes = nodes
	if len(nodes) == 0 {
		return nil
	}
	if err := b.ensureLinkCapacityLocked(len(b.links)); err != nil {
		return err
	}
	if err := b.ensureNodeCapacityLocked(len(nodes)); err != nil {
		return err
	}
	packNodes(nodes, b.nodeStage[:len(nodes)])
	if err := b.queue.WriteBuffer(b.nodeBufs[b.active], 0, wgpu.ToBytes(b.nodeStage[:len(nodes)])); err != nil {
		return fmt.Errorf("upload nodes: %w", err)
	}
	return nil
}

// SetEdges uploads the resolved link set.
func (b *Backend) SetEdges(links []*layout.Link) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if !b.initialized {
		return sim.ErrNotInitialized
	}
	b.links = links
	if err := b.ensureLinkCapacityLocked(len(links)); err != nil {
		return err
	}
	if len(links) == 0 {
		return nil
	}
	packLinks(links, b.linkStage[:len(links)])
	if err := b.queue.WriteBuffer(b.linkBuf, 0, wgpu.ToBytes(b.linkStage[:len(links)])); err != nil {
		return fmt.Errorf("upload links: %w", err)
	}
	return nil
}

func (b *Backend) ensureNodeCapacityLocked(n int) error {
	if n <= b.nodeCap && b.nodeBufs[0] != nil {
		return nil
	}
	capacity := grow(b.nodeCap, n)
	for i := range b.nodeBufs {
		if b.nodeBufs[i] != nil {
			b.nodeBufs[i].Release()
			b.nodeBufs[i] = nil
		}
	}
	if b.readback != nil {
		b.readback.Release()
		b.readback = nil
	}

	size := uint64(capacity) * nodeStride
	for i := range b.nodeBufs {
		buf, err := b.device.CreateBuffer(&wgpu.BufferDescriptor{
			Label: fmt.Sprintf("nodes_%d", i),
			Size:  size,
			Usage: wgpu.BufferUsageStorage | wgpu.BufferUsageCopyDst | wgpu.BufferUsageCopySrc,
		})
		if err != nil {
			return fmt.Errorf("create node buffer: %w", err)
		}
		b.nodeBufs[i] = buf
	}
	readback, err := b.device.CreateBuffer(&wgpu.BufferDescriptor{
		Label: "readback",
		Size:  size,
		Usage: wgpu.BufferUsageMapRead | wgpu.BufferUsageCopyDst,
	})
	if err != nil {
		return fmt.Errorf("create readback buffer: %w", err)
	}
	b.readback = readback
	b.nodeCap = capacity
	b.nodeStage = make([]nodeState, capacity)
	b.log.Debug("node buffers recreated", "capacity", capacity)
	return b.rebuildBindGroupsLocked()
}

func (b *Backend) ensureLinkCapacityLocked(n int) error {
	// The bind group always needs a link buffer, even with no links.
	if n < 1 {
		n = 1
	}
	if n <= b.linkCap && b.linkBuf != nil {
		return nil
	}
	capacity := grow(b.linkCap, n)
	if b.linkBuf != nil {
		b.linkBuf.Release()
		b.linkBuf = nil
	}
	buf, err := b.device.CreateBuffer(&wgpu.BufferDescriptor{
		Label: "links",
		Size:  uint64(capacity) * linkStride,
		Usage: wgpu.BufferUsageStorage | wgpu.BufferUsageCopyDst,
	})
	if err != nil {
		return fmt.Errorf("create link buffer: %w", err)
	}
	b.linkBuf = buf
	b.linkCap = capacity
	b.linkStage = make([]linkState, capacity)
	b.log.Debug("link buffer recreated", "capacity", capacity)
	return b.rebuildBindGroupsLocked()
}

func (b *Backend) rebuildBindGroupsLocked() error {
	// Deferred until every buffer exists; whichever ensure call runs last
	// builds both parities.
	if b.nodeBufs[0] == nil || b.linkBuf == nil || b.uniformBuf == nil {
		return nil
	}
	for p := 0; p < 2; p++ {
		if b.bindGroups[p] != nil {
			b.bindGroups[p].Release()
			b.bindGroups[p] = nil
		}
		group, err := b.device.CreateBindGroup(&wgpu.BindGroupDescriptor{
			Label:  fmt.Sprintf("sim_bindings_%d", p),
			Layout: b.bindLayout,
			Entries: []wgpu.BindGroupEntry{
				{Binding: 0, Buffer: b.nodeBufs[p], Size: uint64(b.nodeCap) * nodeStride},
				{Binding: 1, Buffer: b.nodeBufs[1-p], Size: uint64(b.nodeCap) * nodeStride},
				{Binding: 2, Buffer: b.uniformBuf, Size: uniformSize},
				{Binding: 3, Buffer: b.linkBuf, Size: uint64(b.linkCap) * linkStride},
			},
		})
		if err != nil {
			return fmt.Errorf("create bind group: %w", err)
		}
		b.bindGroups[p] = group
	}
	return nil
}

// Tick dispatches one simulation step and reads the result back into the
// shared node structs before returning.
func (b *Backend) Tick(params sim.TickParams) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if !b.initialized {
		return sim.ErrNotInitialized
	}
	count := len(b.nodes)
	if count == 0 {
		return nil
	}
	if b.nodeBufs[0] == nil || b.bindGroups[b.active] == nil {
		return sim.ErrNotInitialized
	}

	u := packUniforms(params, count, len(b.links))
	uni := [1]uniforms{u}
	if err := b.queue.WriteBuffer(b.uniformBuf, 0, wgpu.ToBytes(uni[:])); err != nil {
		return fmt.Errorf("write uniforms: %w", err)
	}

	encoder, err := b.device.CreateCommandEncoder(nil)
	if err != nil {
		return fmt.Errorf("create encoder: %w", err)
	}
	defer encoder.Release()

	pass := encoder.BeginComputePass(nil)
	pass.SetPipeline(b.forcesPipe)
	pass.SetBindGroup(0, b.bindGroups[b.active], nil)
	pass.DispatchWorkgroups(workgroups(count), 1, 1)
	if u.LinkCount > 0 {
		pass.SetPipeline(b.linksPipe)
		pass.DispatchWorkgroups(workgroups(int(u.LinkCount)), 1, 1)
	}
	pass.SetPipeline(b.integratePipe)
	pass.DispatchWorkgroups(workgroups(count), 1, 1)
	pass.End()
	pass.Release()

	readSize := uint64(count) * nodeStride
	if err := encoder.CopyBufferToBuffer(b.nodeBufs[1-b.active], 0, b.readback, 0, readSize); err != nil {
		return fmt.Errorf("copy readback: %w", err)
	}
	cmd, err := encoder.Finish(nil)
	if err != nil {
		return fmt.Errorf("finish encoder: %w", err)
	}
	defer cmd.Release()
	b.queue.Submit(cmd)

	status := wgpu.BufferMapAsyncStatusUnknown
	err = b.readback.MapAsync(wgpu.MapModeRead, 0, readSize, func(s wgpu.BufferMapAsyncStatus) {
		status = s
	})
	if err != nil {
		return fmt.Errorf("%w: map readback: %v", sim.ErrDeviceLost, err)
	}
	b.device.Poll(true, nil)
	if status != wgpu.BufferMapAsyncStatusSuccess {
		return fmt.Errorf("%w: readback status %d", sim.ErrDeviceLost, status)
	}
	data := b.readback.GetMappedRange(0, uint(readSize))
	unpackNodes(wgpu.FromBytes[nodeState](data), b.nodes)
	b.readback.Unmap()

	b.active = 1 - b.active
	return nil
}

// Positions reads from the host mirror, which the last Tick refreshed.
func (b *Backend) Positions() ([]sim.Position, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if !b.initialized {
		return nil, sim.ErrNotInitialized
	}
	out := make([]sim.Position, len(b.nodes))
	for i, n := range b.nodes {
		out[i] = sim.Position{ID: n.ID, X: n.X, Y: n.Y}
	}
	return out, nil
}

func (b *Backend) Velocities() ([]sim.Velocity, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if !b.initialized {
		return nil, sim.ErrNotInitialized
	}
	out := make([]sim.Velocity, len(b.nodes))
	for i, n := range b.nodes {
		out[i] = sim.Velocity{ID: n.ID, VX: n.VX, VY: n.VY}
	}
	return out, nil
}

// UpdateNode writes one node's state into the live buffer so pins and drags
// take effect on the next tick without a full re-upload.
func (b *Backend) UpdateNode(n *layout.Node) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if !b.initialized {
		return sim.ErrNotInitialized
	}
	if b.nodeBufs[b.active] == nil || n.Index < 0 || n.Index >= len(b.nodes) {
		return nil
	}
	one := [1]nodeState{packNode(n)}
	offset := uint64(n.Index) * nodeStride
	if err := b.queue.WriteBuffer(b.nodeBufs[b.active], offset, wgpu.ToBytes(one[:])); err != nil {
		return fmt.Errorf("write node %s: %w", n.ID, err)
	}
	return nil
}

// Release frees all device resources. Safe to call more than once and after
// a failed Initialize.
func (b *Backend) Release() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.releaseLocked()
}

func (b *Backend) releaseLocked() {
	for p := range b.bindGroups {
		if b.bindGroups[p] != nil {
			b.bindGroups[p].Release()
			b.bindGroups[p] = nil
		}
	}
	for i := range b.nodeBufs {
		if b.nodeBufs[i] != nil {
			b.nodeBufs[i].Release()
			b.nodeBufs[i] = nil
		}
	}
	if b.linkBuf != nil {
		b.linkBuf.Release()
		b.linkBuf = nil
	}
	if b.uniformBuf != nil {
		b.uniformBuf.Release()
		b.uniformBuf = nil
	}
	if b.readback != nil {
		b.readback.Release()
		b.readback = nil
	}
	if b.forcesPipe != nil {
		b.forcesPipe.Release()
		b.forcesPipe = nil
	}
	if b.linksPipe != nil {
		b.linksPipe.Release()
		b.linksPipe = nil
	}
	if b.integratePipe != nil {
		b.integratePipe.Release()
		b.integratePipe = nil
	}
	if b.pipelineLayout != nil {
		b.pipelineLayout.Release()
		b.pipelineLayout = nil
	}
	if b.bindLayout != nil {
		b.bindLayout.Release()
		b.bindLayout = nil
	}
	if b.module != nil {
		b.module.Release()
		b.module = nil
	}
	if b.queue != nil {
		b.queue.Release()
		b.queue = nil
	}
	if b.device != nil {
		b.device.Release()
		b.device = nil
	}
	if b.adapter != nil {
		b.adapter.Release()
		b.adapter = nil
	}
	if b.instance != nil {
		b.instance.Release()
		b.instance = nil
	}
	b.nodeCap = 0
	b.linkCap = 0
	b.active = 0
	b.initialized = false
}
