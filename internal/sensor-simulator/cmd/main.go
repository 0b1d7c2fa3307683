package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/spf13/pflag"
	"go.uber.org/zap"

	sensorSimulator "github.com/LeonardoBeccarini/sentry_relay/internal/sensor-simulator"
	"github.com/LeonardoBeccarini/sentry_relay/pkg/rabbitmq"
)

func main() {
	relayAddr := pflag.String("relay-addr", "localhost:3001", "relay TCP ingest address")
	transport := pflag.String("transport", "tcp", "tcp or mqtt")
	sensors := pflag.StringSlice("sensor", []string{
		"front-door:door:entrance",
		"hall-motion:motion:hall",
		"living-temp:temperature:living room",
		"cellar-hum:humidity:cellar",
	}, "simulated sensor as id:kind[:location], repeatable")
	interval := pflag.Duration("interval", 2*time.Second, "publish interval per sensor")
	count := pflag.Int("count", 0, "readings per sensor, 0 for no limit")
	binary := pflag.Bool("binary", true, "send motion and camera readings as binary frames")
	split := pflag.Bool("split", true, "split TCP frames into random chunks")
	alertRate := pflag.Float64("alert-rate", 0.02, "probability of a reading with alert status")
	mqttHost := pflag.String("mqtt-host", "localhost", "MQTT broker host")
	mqttPort := pflag.Int("mqtt-port", 1883, "MQTT broker port")
	mqttUser := pflag.String("mqtt-user", "guest", "MQTT user")
	mqttPassword := pflag.String("mqtt-password", "guest", "MQTT password")
	verbose := pflag.BoolP("verbose", "v", false, "debug logging")
	pflag.Parse()

	log, err := zap.NewProduction()
	if *verbose {
		log, err = zap.NewDevelopment()
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "logger: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = log.Sync() }()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	gen := sensorSimulator.NewDataGenerator(time.Now().UnixNano())
	gen.AlertRate = *alertRate

	var wg sync.WaitGroup
	for i, arg := range *sensors {
		sensor, err := sensorSimulator.ParseSensor(arg)
		if err != nil {
			log.Fatal("bad sensor", zap.Error(err))
		}
		sensor.Binary = *binary

		var sender sensorSimulator.Sender
		switch *transport {
		case "tcp":
			sender = sensorSimulator.NewTCPSender(*relayAddr, *split, int64(i), log)
		case "mqtt":
			client, err := rabbitmq.NewRabbitMQConn(ctx, &rabbitmq.RabbitMQConfig{
				Host:     *mqttHost,
				Port:     *mqttPort,
				User:     *mqttUser,
				Password: *mqttPassword,
				ClientID: "sentry-sim-" + sensor.ID,
			}, log)
			if err != nil {
				log.Fatal("mqtt connection error", zap.Error(err))
			}
			sender = sensorSimulator.NewMQTTSender(rabbitmq.NewPublisher(client, "sensor/raw/"+sensor.ID))
		default:
			log.Fatal("unknown transport", zap.String("transport", *transport))
		}

		sim := sensorSimulator.NewSensorSimulator(sender, gen, &sensor, log)
		wg.Add(1)
		go func() {
			defer wg.Done()
			sim.Start(ctx, *interval, *count)
		}()
	}
	log.Info("simulator running", zap.Int("sensors", len(*sensors)), zap.String("transport", *transport))
	wg.Wait()
}
