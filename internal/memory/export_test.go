// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Engram Contributors

package memory

import "context"

// Process exposes the background slow path for tests that need to run
// it deterministically in the foreground.
func (m *Manager) Process(ctx context.Context, name, vectorID, content, tenant string, metadata map[string]string) error {
	return m.process(ctx, name, vectorID, content, tenant, metadata)
}
