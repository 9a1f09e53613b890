// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

package wgpu

import (
	"fmt"
	"time"

	"github.com/gogpu/wgpu/hal"

	"github.com/gogpu/staging"
)

// token tracks one fenced copy submission. Each submission signals its own
// fence at value 1, so testing the fence answers whether the copy retired.
// The fence and command buffer are freed the first time completion is
// observed; tokens are single-owner and not safe for concurrent use.
type token struct {
	backend *Backend
	fence   hal.Fence
	cmdBuf  hal.CommandBuffer
	done    bool
}

var _ staging.Token = (*token)(nil)

// Poll reports whether the submission has completed without blocking.
func (t *token) Poll() bool {
	if t.done {
		return true
	}
	signaled, err := t.backend.device.Wait(t.fence, 1, 0)
	if err != nil || !signaled {
		return false
	}
	t.cleanup()
	return true
}

// Wait blocks until the submission completes or timeout elapses.
func (t *token) Wait(timeout time.Duration) (bool, error) {
	if t.done {
		return true, nil
	}
	signaled, err := t.backend.device.Wait(t.fence, 1, timeout)
	if err != nil {
		return false, fmt.Errorf("wgpu: fence wait: %w", err)
	}
	if !signaled {
		return false, nil
	}
	t.cleanup()
	return true, nil
}

func (t *token) cleanup() {
	t.done = true
	t.backend.device.FreeCommandBuffer(t.cmdBuf)
	t.backend.device.DestroyFence(t.fence)
}
