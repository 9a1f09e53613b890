// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

// Package wgpu implements the staging.Backend collaborator on top of
// gogpu/wgpu HAL devices. Copy commands are encoded into one-shot command
// buffers and fenced per submission, so completion tokens signal in
// submission order on the single device queue.
package wgpu

import (
	"errors"
	"fmt"

	"github.com/gogpu/gpucontext"
	"github.com/gogpu/gputypes"
	"github.com/gogpu/wgpu/hal"

	// Import Vulkan backend so it registers via init().
	_ "github.com/gogpu/wgpu/hal/vulkan"

	"github.com/gogpu/staging"
)

// Backend errors.
var (
	// ErrNoAdapter is returned when no usable GPU adapter is found.
	ErrNoAdapter = errors.New("wgpu: no GPU adapters found")

	// ErrBackendUnavailable is returned when the requested HAL backend is
	// not compiled in or not supported on this platform.
	ErrBackendUnavailable = errors.New("wgpu: HAL backend not available")

	// ErrNotHALProvider is returned when a device provider does not expose
	// hal.Device and hal.Queue.
	ErrNotHALProvider = errors.New("wgpu: provider does not expose HAL types")

	// ErrBadTarget is returned when a copy command's target handle is not
	// the hal type its kind requires.
	ErrBadTarget = errors.New("wgpu: copy target is not a hal.Buffer or hal.Texture")

	// ErrBadStaging is returned when a copy command's staging buffer was
	// not allocated by this backend.
	ErrBadStaging = errors.New("wgpu: staging buffer was not allocated by this backend")
)

// Backend submits staged copies on a wgpu HAL device queue. Create one
// with New (own device), NewFromProvider (shared device from a gpucontext
// host application), or NewWithDevice (pre-opened HAL handles).
type Backend struct {
	instance hal.Instance
	device   hal.Device
	queue    hal.Queue

	// externalDevice is true when using a shared device; Close must not
	// destroy resources it does not own.
	externalDevice bool
}

var _ staging.Backend = (*Backend)(nil)

// New opens its own Vulkan HAL device, preferring a discrete or
// integrated GPU.
func New() (*Backend, error) {
	backend, ok := hal.GetBackend(gputypes.BackendVulkan)
	if !ok {
		return nil, fmt.Errorf("%w: vulkan", ErrBackendUnavailable)
	}
	instance, err := backend.CreateInstance(&hal.InstanceDescriptor{Flags: 0})
	if err != nil {
		return nil, fmt.Errorf("wgpu: create instance: %w", err)
	}
	adapters := instance.EnumerateAdapters(nil)
	if len(adapters) == 0 {
		instance.Destroy()
		return nil, ErrNoAdapter
	}
	var selected *hal.ExposedAdapter
	for i := range adapters {
		if adapters[i].Info.DeviceType == gputypes.DeviceTypeDiscreteGPU ||
			adapters[i].Info.DeviceType == gputypes.DeviceTypeIntegratedGPU {
			selected = &adapters[i]
			break
		}
	}
	if selected == nil {
		selected = &adapters[0]
	}
	openDev, err := selected.Adapter.Open(gputypes.Features(0), gputypes.DefaultLimits())
	if err != nil {
		instance.Destroy()
		return nil, fmt.Errorf("wgpu: open device %q: %w", selected.Info.Name, err)
	}
	return &Backend{
		instance: instance,
		device:   openDev.Device,
		queue:    openDev.Queue,
	}, nil
}

// NewFromProvider shares the GPU device of a gpucontext host application
// (e.g. gogpu.App). The provider must additionally expose HalDevice() any
// and HalQueue() any returning hal.Device and hal.Queue.
func NewFromProvider(provider gpucontext.DeviceProvider) (*Backend, error) {
	type halProvider interface {
		HalDevice() any
		HalQueue() any
	}
	hp, ok := provider.(halProvider)
	if !ok {
		return nil, ErrNotHALProvider
	}
	device, ok := hp.HalDevice().(hal.Device)
	if !ok || device == nil {
		return nil, fmt.Errorf("%w: HalDevice is not hal.Device", ErrNotHALProvider)
	}
	queue, ok := hp.HalQueue().(hal.Queue)
	if !ok || queue == nil {
		return nil, fmt.Errorf("%w: HalQueue is not hal.Queue", ErrNotHALProvider)
	}
	return NewWithDevice(device, queue), nil
}

// NewWithDevice wraps pre-opened HAL handles. The caller keeps ownership;
// Close will not destroy them.
func NewWithDevice(device hal.Device, queue hal.Queue) *Backend {
	return &Backend{
		device:         device,
		queue:          queue,
		externalDevice: true,
	}
}

// Device returns the underlying HAL device.
func (b *Backend) Device() hal.Device { return b.device }

// Queue returns the underlying HAL queue.
func (b *Backend) Queue() hal.Queue { return b.queue }

// Close destroys owned GPU resources. Shared devices from NewWithDevice
// or NewFromProvider are left untouched.
func (b *Backend) Close() {
	if !b.externalDevice {
		if b.device != nil {
			b.device.Destroy()
		}
		if b.instance != nil {
			b.instance.Destroy()
		}
	}
	b.device = nil
	b.queue = nil
	b.instance = nil
}

// AllocateHostVisible allocates a mappable buffer usable as both copy
// source and destination, backing the staging ring.
func (b *Backend) AllocateHostVisible(size uint64) (staging.HostBuffer, error) {
	buf, err := b.device.CreateBuffer(&hal.BufferDescriptor{
		Label: "staging_ring",
		Size:  size,
		Usage: gputypes.BufferUsageMapRead | gputypes.BufferUsageMapWrite |
			gputypes.BufferUsageCopySrc | gputypes.BufferUsageCopyDst,
	})
	if err != nil {
		return nil, fmt.Errorf("wgpu: create staging buffer (%d bytes): %w", size, err)
	}
	return &hostBuffer{backend: b, buf: buf, size: size}, nil
}

// SubmitCopy encodes cmd into a one-shot command buffer and submits it
// fenced. The returned token releases the fence and command buffer once
// completion is observed.
func (b *Backend) SubmitCopy(cmd *staging.CopyCommand) (staging.Token, error) {
	hb, ok := cmd.Staging.(*hostBuffer)
	if !ok {
		return nil, ErrBadStaging
	}

	encoder, err := b.device.CreateCommandEncoder(&hal.CommandEncoderDescriptor{
		Label: "staging_copy",
	})
	if err != nil {
		return nil, fmt.Errorf("wgpu: create command encoder: %w", err)
	}
	if err := encoder.BeginEncoding("staging_copy"); err != nil {
		return nil, fmt.Errorf("wgpu: begin encoding: %w", err)
	}

	if err := b.encodeCopy(encoder, cmd, hb.buf); err != nil {
		encoder.DiscardEncoding()
		return nil, err
	}

	cmdBuf, err := encoder.EndEncoding()
	if err != nil {
		return nil, fmt.Errorf("wgpu: end encoding: %w", err)
	}

	fence, err := b.device.CreateFence()
	if err != nil {
		b.device.FreeCommandBuffer(cmdBuf)
		return nil, fmt.Errorf("wgpu: create fence: %w", err)
	}
	if err := b.queue.Submit([]hal.CommandBuffer{cmdBuf}, fence, 1); err != nil {
		b.device.FreeCommandBuffer(cmdBuf)
		b.device.DestroyFence(fence)
		return nil, fmt.Errorf("wgpu: submit %s: %w", cmd.Kind, err)
	}

	return &token{backend: b, fence: fence, cmdBuf: cmdBuf}, nil
}

// encodeCopy records the copy command for cmd onto encoder.
func (b *Backend) encodeCopy(encoder hal.CommandEncoder, cmd *staging.CopyCommand, ringBuf hal.Buffer) error {
	switch cmd.Kind {
	case staging.CopyBufferUpload, staging.CopyBufferDownload:
		target, ok := cmd.Target.(hal.Buffer)
		if !ok {
			return fmt.Errorf("%w: %T for %s", ErrBadTarget, cmd.Target, cmd.Kind)
		}
		c := cmd.Buffer
		if cmd.Kind == staging.CopyBufferUpload {
			encoder.CopyBufferToBuffer(ringBuf, target, []hal.BufferCopy{
				{SrcOffset: c.StagingOffset, DstOffset: c.TargetOffset, Size: c.Size},
			})
		} else {
			encoder.CopyBufferToBuffer(target, ringBuf, []hal.BufferCopy{
				{SrcOffset: c.TargetOffset, DstOffset: c.StagingOffset, Size: c.Size},
			})
		}
	case staging.CopyTextureUpload, staging.CopyTextureDownload:
		target, ok := cmd.Target.(hal.Texture)
		if !ok {
			return fmt.Errorf("%w: %T for %s", ErrBadTarget, cmd.Target, cmd.Kind)
		}
		t := cmd.Texture
		// 2D array layers address through Origin.Z.
		origin := t.Origin
		origin.Z += t.ArrayLayer
		regions := []hal.BufferTextureCopy{{
			BufferLayout: hal.ImageDataLayout{
				Offset:       t.StagingOffset,
				BytesPerRow:  t.BytesPerRow,
				RowsPerImage: t.RowsPerImage,
			},
			TextureBase: hal.ImageCopyTexture{
				Texture:  target,
				MipLevel: t.MipLevel,
				Origin:   hal.Origin3D(origin),
			},
			Size: hal.Extent3D{
				Width:              t.Size.Width,
				Height:             t.Size.Height,
				DepthOrArrayLayers: t.Size.DepthOrArrayLayers,
			},
		}}
		if cmd.Kind == staging.CopyTextureUpload {
			encoder.CopyBufferToTexture(ringBuf, target, regions)
		} else {
			encoder.CopyTextureToBuffer(target, ringBuf, regions)
		}
	default:
		return fmt.Errorf("%w: unknown kind %s", ErrBadTarget, cmd.Kind)
	}
	return nil
}

// hostBuffer adapts a HAL buffer to staging.HostBuffer. Host access goes
// through the queue's mapped write/read paths.
type hostBuffer struct {
	backend *Backend
	buf     hal.Buffer
	size    uint64
}

func (h *hostBuffer) Size() uint64 { return h.size }

func (h *hostBuffer) Write(offset uint64, p []byte) error {
	if offset+uint64(len(p)) > h.size {
		return fmt.Errorf("wgpu: write [%d,%d) exceeds staging size %d",
			offset, offset+uint64(len(p)), h.size)
	}
	h.backend.queue.WriteBuffer(h.buf, offset, p)
	return nil
}

func (h *hostBuffer) Read(offset uint64, p []byte) error {
	if offset+uint64(len(p)) > h.size {
		return fmt.Errorf("wgpu: read [%d,%d) exceeds staging size %d",
			offset, offset+uint64(len(p)), h.size)
	}
	if err := h.backend.queue.ReadBuffer(h.buf, offset, p); err != nil {
		return fmt.Errorf("wgpu: read staging buffer: %w", err)
	}
	return nil
}

func (h *hostBuffer) Destroy() {
	if h.buf != nil {
		h.backend.device.DestroyBuffer(h.buf)
		h.buf = nil
	}
}
