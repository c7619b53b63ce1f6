// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package extensions defines optional hooks for hardened deployments.
//
// renshuu-connect is a single-user bridge by default: no auth, no audit
// trail. Deployments that put it on a shared network can inject an
// AuditLogger to record cache mutations and note additions without the
// core depending on any particular sink.
//
// The stock build uses no-op defaults for every hook:
//
//	opts := extensions.DefaultOptions()
//	svc, err := connect.New(cfg, &opts)
//
// A hardened deployment swaps in real implementations:
//
//	opts := extensions.ServiceOptions{
//	    AuditLogger: siem.NewForwarder(cfg),
//	}
//
// Implementations must be safe for concurrent use.
package extensions

// ServiceOptions groups the extension points accepted by service
// constructors. Nil fields are treated as no-ops.
type ServiceOptions struct {
	// AuditLogger records note additions and cache mutations.
	// Default: NopAuditLogger (discards all events)
	AuditLogger AuditLogger
}

// DefaultOptions returns ServiceOptions with no-op implementations,
// the configuration used by the stock build.
func DefaultOptions() ServiceOptions {
	return ServiceOptions{
		AuditLogger: &NopAuditLogger{},
	}
}

// WithAudit returns a copy of opts with the given AuditLogger.
func (opts ServiceOptions) WithAudit(logger AuditLogger) ServiceOptions {
	opts.AuditLogger = logger
	return opts
}
