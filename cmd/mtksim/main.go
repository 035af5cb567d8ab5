// Command mtksim serves a scripted device backend for the console. It never
// touches a device.
package main

import (
	"context"
	"errors"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/google/uuid"
	"github.com/krisshattanicole/kn3aux-code/internal/backendsim"
	"github.com/krisshattanicole/kn3aux-code/internal/broker"
	"github.com/krisshattanicole/kn3aux-code/internal/observability"
	"github.com/krisshattanicole/kn3aux-code/internal/stream"
	"github.com/rs/zerolog/log"
)

// Configuration
var (
	Port       = getEnv("PORT", "5000")
	MQTTBroker = getEnv("MQTT_BROKER", "")
)

func getEnv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func main() {
	embedded := flag.Bool("embedded-broker", false, "run an in-process MQTT broker and publish frames to it")
	brokerAddr := flag.String("broker-addr", "127.0.0.1:1883", "listen address of the embedded broker")
	delay := flag.Duration("mqtt-start-delay", 500*time.Millisecond, "wait before publishing the first MQTT frame")
	flag.Parse()

	observability.InitLogger("mtksim", os.Stderr, observability.ProfileRuntime)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	brokerURL := MQTTBroker
	if *embedded {
		b, err := broker.Start(*brokerAddr)
		if err != nil {
			log.Fatal().Err(err).Msg("failed to start embedded broker")
		}
		defer b.Close()
		brokerURL = b.URL()
	}

	var opts []backendsim.Option
	if brokerURL != "" {
		client := connectMQTT(brokerURL)
		defer client.Disconnect(250)
		opts = append(opts, backendsim.WithMQTT(client, stream.DefaultTopicPrefix, *delay))
	}

	srv := &http.Server{
		Addr:              ":" + Port,
		Handler:           backendsim.New(opts...).Router(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	log.Info().Str("port", Port).Str("mqtt", brokerURL).Msg("starting mtk backend simulator")
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		log.Fatal().Err(err).Msg("simulator stopped")
	}
}

func connectMQTT(url string) mqtt.Client {
	opts := mqtt.NewClientOptions().AddBroker(url)
	opts.SetClientID("kn3aux-mtksim-" + uuid.New().String())
	opts.SetAutoReconnect(true)

	client := mqtt.NewClient(opts)
	if token := client.Connect(); token.Wait() && token.Error() != nil {
		log.Fatal().Err(token.Error()).Str("broker", url).Msg("failed to connect to MQTT")
	}
	return client
}
