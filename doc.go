// Package staging moves data between host memory and device-resident
// buffers and textures through a shared, reusable ring of host-visible
// memory.
//
// # Overview
//
// GPU resources are usually not host-visible: filling a vertex buffer or
// reading back a render target goes through an intermediate staging
// allocation. Allocating one per transfer is wasteful for the many small,
// short-lived transfers a frame produces. This package multiplexes them
// onto a single ring buffer, recycling regions as the device finishes
// consuming them and growing the ring geometrically when demand exceeds
// capacity.
//
// # Quick Start
//
//	backend, err := wgpu.New() // github.com/gogpu/staging/backend/wgpu
//	if err != nil { ... }
//	dev, err := staging.New(backend, staging.Config{})
//	if err != nil { ... }
//	defer dev.Close()
//
//	// Asynchronous upload: returns at submission.
//	if err := dev.WriteBuffer(vertexBuf, 0, vertices); err != nil { ... }
//
//	// Synchronous download: blocks until the bytes arrive.
//	pixels := make([]byte, w*h*4)
//	err = dev.ReadTexture2D(tex, staging.TextureRegion{
//		Size:   gputypes.Extent3D{Width: w, Height: h, DepthOrArrayLayers: 1},
//		Format: staging.FormatRGBA8,
//	}, 0, false, pixels)
//
// # Architecture
//
// The engine is a data-movement scheduler, not a renderer. It consumes a
// narrow Backend interface (allocate a host-visible buffer, submit a copy,
// observe a completion token) and owns everything else: ring allocation
// with wraparound, oldest-first reclamation keyed to token completion, and
// grow-and-replace capacity management.
//
// Completion tokens from the backend's queue must signal in submission
// order; that precondition is what makes oldest-first reclamation exact.
package staging
