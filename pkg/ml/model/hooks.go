// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package model

import (
	"slices"

	"github.com/Jayant-Duneja/Pytorch-Cnn-Feature-Visualizer/pkg/core/graph"
)

// ForwardHook is called after a module runs, with the module, its input and its output.
// It must not modify the input or output values.
type ForwardHook func(module *Module, input, output *graph.Node)

// HookHandle identifies a registered forward hook. Use Remove to unregister it.
type HookHandle struct {
	id     uint64
	module *Module
	hook   ForwardHook
}

// RegisterForwardHook registers a hook called every time the module's Forward runs, after the
// output is computed. Hooks are called in registration order.
//
// The hook stays registered until HookHandle.Remove is called: prefer
//
//	handle := module.RegisterForwardHook(hook)
//	defer handle.Remove()
func (m *Module) RegisterForwardHook(hook ForwardHook) *HookHandle {
	m.muHooks.Lock()
	defer m.muHooks.Unlock()
	m.nextHookID++
	handle := &HookHandle{id: m.nextHookID, module: m, hook: hook}
	m.hooks = append(m.hooks, handle)
	return handle
}

// Remove unregisters the hook. It is safe to call it more than once.
func (h *HookHandle) Remove() {
	m := h.module
	m.muHooks.Lock()
	defer m.muHooks.Unlock()
	m.hooks = slices.DeleteFunc(m.hooks, func(other *HookHandle) bool { return other.id == h.id })
}

// NumHooks returns the number of hooks registered on the module and all its sub-modules.
func (m *Module) NumHooks() int {
	m.muHooks.Lock()
	count := len(m.hooks)
	m.muHooks.Unlock()
	for _, child := range m.children {
		count += child.NumHooks()
	}
	return count
}

// callHooks calls the registered hooks. The table is copied first, so hooks may remove themselves.
func (m *Module) callHooks(input, output *graph.Node) {
	m.muHooks.Lock()
	if len(m.hooks) == 0 {
		m.muHooks.Unlock()
		return
	}
	hooks := slices.Clone(m.hooks)
	m.muHooks.Unlock()
	for _, handle := range hooks {
		handle.hook(m, input, output)
	}
}
