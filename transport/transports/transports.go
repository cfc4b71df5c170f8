// Package transports imports all built-in transports for auto-registration.
// Import this package to have all transports registered with the default registry.
package transports

import (
	// Import all transports for side-effect registration
	_ "github.com/drblury/srfbus/transport/channel"
	_ "github.com/drblury/srfbus/transport/kafka"
	_ "github.com/drblury/srfbus/transport/mqtt"
	_ "github.com/drblury/srfbus/transport/nats"
	_ "github.com/drblury/srfbus/transport/rabbitmq"
	_ "github.com/drblury/srfbus/transport/websocket"
)
