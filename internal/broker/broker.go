// Package broker runs an in-process MQTT broker for the simulated backend
// and for tests.
package broker

import (
	"errors"
	"fmt"
	"net"

	mqttserver "github.com/mochi-mqtt/server/v2"
	"github.com/mochi-mqtt/server/v2/hooks/auth"
	"github.com/mochi-mqtt/server/v2/listeners"
	"github.com/rs/zerolog/log"
)

type Broker struct {
	server *mqttserver.Server
	addr   string
}

// Start listens on addr ("127.0.0.1:0" picks a free port) and serves in the
// background. Every client is allowed.
func Start(addr string) (*Broker, error) {
	if addr == "" {
		addr = "127.0.0.1:0"
	}
	// Resolve the port up front so the URL is known before Serve.
	l, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("broker listen: %w", err)
	}
	addr = l.Addr().String()
	_ = l.Close()

	server := mqttserver.New(nil)
	if err := server.AddHook(new(auth.AllowHook), nil); err != nil {
		return nil, fmt.Errorf("broker auth hook: %w", err)
	}
	tcp := listeners.NewTCP(listeners.Config{ID: "kn3aux", Address: addr})
	if err := server.AddListener(tcp); err != nil {
		return nil, fmt.Errorf("broker listener: %w", err)
	}

	go func() {
		if err := server.Serve(); err != nil {
			log.Error().Err(err).Str("addr", addr).Msg("mqtt broker stopped")
		}
	}()
	log.Info().Str("addr", addr).Msg("mqtt broker listening")
	return &Broker{server: server, addr: addr}, nil
}

// URL is the tcp:// address clients dial.
func (b *Broker) URL() string {
	return "tcp://" + b.addr
}

func (b *Broker) Close() error {
	if b == nil || b.server == nil {
		return errors.New("broker not started")
	}
	return b.server.Close()
}
