/*
Package runtime owns the lifecycle of per-execution-context bus connections.

# Architecture Overview

Every goroutine or task that talks to the bus is identified by an execution
context ID (see package execctx) carried in its context.Context. The runtime
keeps at most one authenticated connection per ID and lets code running on
behalf of that task find it again without passing the connection around.

# Components

## Registry (registry.go)

Maps execution context IDs to their ActiveConnection and hands out per-ID
locks so the "already connected?" check and the registration happen
atomically for one context while other contexts proceed in parallel.

## Bootstrapper (bootstrap.go)

Reads the connection parameters from a configuration document, generates the
resource identity, builds the configured transport and connects it within the
configured timeout. Configuration problems surface as ConfigError before any
network activity; transport failures surface as SessionError wrapping the
cause.

## ShutdownHandler (shutdown.go)

Disconnects and unregisters the current context's connection. ShutdownAll
drains every context at process exit.

## Client (client.go)

Bundles a Registry with its Bootstrapper and ShutdownHandler. The root srfbus
package exposes a process-wide default Client.

## Observability (metrics.go, status.go)

Prometheus collectors for bootstrap outcomes and disconnects, OpenTelemetry
spans around bootstrap and shutdown, and an HTTP handler listing active
connections.
*/
package runtime
