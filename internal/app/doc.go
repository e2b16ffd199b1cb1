// Package app composes the template service into a running application.
//
// # Package Structure
//
//	internal/app/
//	├── application.go      # Application struct, wiring, and lifecycle
//	├── domain/             # Domain models (pure data structures)
//	│   └── template/       # Templates, variables, rendered output
//	├── storage/            # Storage interfaces and implementations
//	│   ├── interfaces.go   # TemplateStore and ScriptFilterStore
//	│   ├── memory/         # In-memory implementation for tests and dev
//	│   └── postgres/       # PostgreSQL implementation for production
//	├── cache/              # Render cache (memory and Redis backends)
//	├── httpapi/            # HTTP API handlers, routing and audit trail
//	├── auth/               # Credential issuing and verification
//	├── services/           # Business logic
//	│   ├── templates/      # Template registry, engine and filters
//	│   └── maintenance/    # Scheduled housekeeping jobs
//	├── system/             # Service lifecycle management
//	├── core/service/       # Service descriptors
//	└── metrics/            # Prometheus collectors
//
// The app package wires services with their stores and caches, owns no
// business logic itself, and exposes the assembled Application to
// internal/app/runtime and the tests.
package app
