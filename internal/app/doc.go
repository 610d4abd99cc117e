// Package app composes the savings layer: it binds the savings service to a
// storage backend and owns the lifecycle of background services such as the
// treasury gauge reporter.
//
// Layout:
//
//	internal/app/
//	├── application.go      # composition and lifecycle
//	├── services/savings/   # operation dispatcher over the pure ledger
//	├── storage/            # Store/Tx interfaces
//	│   ├── memory/         # in-process implementation for tests and dev
//	│   └── postgres/       # sqlx + lib/pq implementation
//	├── httpapi/            # REST handlers and routing
//	├── idempotency/        # Idempotency-Key replay (memory, Redis)
//	├── metrics/            # Prometheus collectors
//	├── runtime/            # config-driven process wiring
//	└── system/             # service lifecycle manager
//
// Business rules live in internal/ledger and never import this package.
package app
