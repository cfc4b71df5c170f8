// Package srfbus bootstraps and tears down the connection a service keeps to
// a federated message bus, one connection per execution context.
//
// An execution context is whatever unit of concurrency should own its own
// session: a goroutine, a worker, a request. Its identity travels in the
// context.Context:
//
//	ctx, _ := srfbus.NewExecutionContext(context.Background())
//	if err := srfbus.Bootstrap(ctx, "/etc/opensrf_core.xml", "/config/opensrf"); err != nil {
//		var cfgErr *srfbus.ConfigError
//		if errors.As(err, &cfgErr) {
//			// fix the configuration
//		}
//		return err
//	}
//	defer srfbus.Shutdown(ctx)
//
//	conn, _ := srfbus.Current(ctx)
//	pub, err := conn.Publisher()
//
// Bootstrap is idempotent per execution context: once connected, further calls
// return nil without touching the configuration or the network.
//
// # Configuration
//
// The configuration document is XML, YAML or TOML (chosen by file extension).
// Below the configuration context it must provide username, passwd,
// domains/domain (the first one is used) and port. transport (default "nats")
// and connect_timeout (default 10s) are optional. ${VAR} references are
// expanded from the environment; any other $ is taken literally.
//
// # Transports
//
// Importing srfbus registers every built-in transport:
//   - nats: NATS Core, resource announced as the connection name
//   - rabbitmq: AMQP 0-9-1, resource announced as the connection name
//   - kafka: resource used as the client ID
//   - mqtt: resource used as the client ID
//   - websocket: gateway speaking the srfbus handshake headers
//   - channel: in-process bus for tests and local development
//
// # Resource identity
//
// Every connection announces a resource of the form
// <prefix>_<host address>_<random>_t<execution context>, unique across the
// federation. The prefix defaults to "go" and is set through
// Dependencies.ResourcePrefix.
package srfbus
