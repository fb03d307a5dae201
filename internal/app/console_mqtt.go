package app

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"os"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/relabs-tech/ahrs_computer/internal/config"
	"github.com/relabs-tech/ahrs_computer/internal/fusion"
	"github.com/relabs-tech/ahrs_computer/internal/sink"
)

// subscribeEstimates connects to the broker and calls handle for every
// estimate published on the orientation topic. The caller disconnects.
func subscribeEstimates(cfg *config.Config, clientID string, handle func(fusion.Estimate)) (mqtt.Client, error) {
	opts := mqtt.NewClientOptions().
		AddBroker(cfg.MQTTBroker).
		SetClientID(clientID).
		SetAutoReconnect(true)

	client := mqtt.NewClient(opts)
	if token := client.Connect(); token.Wait() && token.Error() != nil {
		return nil, token.Error()
	}
	log.Printf("%s: connected to MQTT broker at %s", clientID, cfg.MQTTBroker)

	token := client.Subscribe(cfg.TopicOrientation, 0, func(_ mqtt.Client, msg mqtt.Message) {
		e, err := decodeEstimate(msg.Payload())
		if err != nil {
			log.Printf("%s: %v", clientID, err)
			return
		}
		handle(e)
	})
	token.Wait()
	if token.Error() != nil {
		client.Disconnect(250)
		return nil, token.Error()
	}
	log.Printf("%s: subscribed to %s", clientID, cfg.TopicOrientation)
	return client, nil
}

func decodeEstimate(payload []byte) (fusion.Estimate, error) {
	var e fusion.Estimate
	if err := json.Unmarshal(payload, &e); err != nil {
		return e, fmt.Errorf("estimate unmarshal error: %w", err)
	}
	return e, nil
}

// RunConsoleMQTT prints estimates published by the producer until ctx is
// cancelled.
func RunConsoleMQTT(ctx context.Context) error {
	cfg := config.Get()

	// Paho calls handlers from one goroutine per client, so the console
	// sink needs no locking.
	console := sink.NewConsole(os.Stdout, time.Duration(cfg.ConsoleLogInterval)*time.Millisecond)
	client, err := subscribeEstimates(cfg, cfg.MQTTClientIDConsole, func(e fusion.Estimate) {
		if err := console.Publish(e); err != nil {
			log.Printf("console: %v", err)
		}
	})
	if err != nil {
		return err
	}

	<-ctx.Done()
	log.Println("console: shutting down")
	client.Disconnect(250)
	return nil
}
