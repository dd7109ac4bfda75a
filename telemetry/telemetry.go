// Package telemetry publishes decode-time events over MQTT, mirroring
// the way a buoy deployment's shore station would monitor a live feed
// of archives: every corrupted frame gets its own message the moment
// the decoder resynchronises past it, and a summary is published once
// a whole archive finishes.
package telemetry

import (
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"log"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/simonwerner/x3archive/config"
)

// FrameCorruptEvent is published each time the frame decoder
// resynchronises past a damaged frame.
type FrameCorruptEvent struct {
	ArchiveID   string    `json:"archive_id"`
	Timecode    uint64    `json:"timecode"`
	SkippedBits int       `json:"skipped_bits"`
	Timestamp   time.Time `json:"timestamp"`
}

// ArchiveSummaryEvent is published once decoding an archive completes.
type ArchiveSummaryEvent struct {
	ArchiveID         string    `json:"archive_id"`
	FrameCount        int       `json:"frame_count"`
	CorruptFrameCount int       `json:"corrupt_frame_count"`
	SampleCount       int       `json:"sample_count"`
	CompressionRatio  float64   `json:"compression_ratio"`
	Timestamp         time.Time `json:"timestamp"`
}

// Publisher wraps an MQTT client configured per config.MQTTConfig.
// A nil *Publisher is valid and every method on it is a no-op, so
// callers can unconditionally construct one from a Config and use it
// whether or not telemetry is enabled.
type Publisher struct {
	client mqtt.Client
	cfg    config.MQTTConfig
}

// NewPublisher dials the configured broker and returns a Publisher.
// If cfg.Enabled is false it returns (nil, nil): callers should treat
// a nil *Publisher as "telemetry disabled" rather than check the flag
// themselves.
func NewPublisher(cfg config.MQTTConfig) (*Publisher, error) {
	if !cfg.Enabled {
		return nil, nil
	}

	opts := mqtt.NewClientOptions()
	opts.AddBroker(cfg.BrokerURL)
	clientID := cfg.ClientID
	if clientID == "" {
		clientID = generateClientID()
	}
	opts.SetClientID(clientID)
	opts.SetAutoReconnect(true)
	opts.SetConnectRetry(true)
	opts.SetConnectRetryInterval(10 * time.Second)
	opts.SetMaxReconnectInterval(60 * time.Second)
	opts.SetKeepAlive(60 * time.Second)
	opts.SetPingTimeout(10 * time.Second)
	opts.SetConnectTimeout(5 * time.Second)

	opts.SetOnConnectHandler(func(mqtt.Client) {
		log.Println("telemetry: connected to MQTT broker")
	})
	opts.SetConnectionLostHandler(func(_ mqtt.Client, err error) {
		log.Printf("telemetry: MQTT connection lost: %v (will auto-reconnect)", err)
	})

	client := mqtt.NewClient(opts)
	log.Printf("telemetry: connecting to %s", cfg.BrokerURL)
	token := client.Connect()
	if token.WaitTimeout(5 * time.Second) {
		if token.Error() != nil {
			log.Printf("telemetry: initial connection failed: %v (will retry in background)", token.Error())
		}
	} else {
		log.Printf("telemetry: connection timeout (will retry in background)")
	}

	return &Publisher{client: client, cfg: cfg}, nil
}

func generateClientID() string {
	b := make([]byte, 8)
	rand.Read(b)
	return "x3archive_" + hex.EncodeToString(b)
}

// PublishFrameCorrupt publishes a FrameCorruptEvent. Publishing is
// best-effort: a failure is logged, never returned to the decode
// loop, since telemetry must never make decoding fail.
func (p *Publisher) PublishFrameCorrupt(archiveID string, timecode uint64, skippedBits int) {
	if p == nil {
		return
	}
	evt := FrameCorruptEvent{
		ArchiveID:   archiveID,
		Timecode:    timecode,
		SkippedBits: skippedBits,
		Timestamp:   time.Now(),
	}
	p.publish(evt.ArchiveID, "frame-corrupt", evt)
}

// PublishSummary publishes an ArchiveSummaryEvent.
func (p *Publisher) PublishSummary(evt ArchiveSummaryEvent) {
	if p == nil {
		return
	}
	evt.Timestamp = time.Now()
	p.publish(evt.ArchiveID, "summary", evt)
}

func (p *Publisher) publish(archiveID, kind string, payload any) {
	if !p.client.IsConnected() {
		log.Printf("telemetry: dropping %s event for %s, MQTT not connected", kind, archiveID)
		return
	}
	data, err := json.Marshal(payload)
	if err != nil {
		log.Printf("telemetry: failed to marshal %s event: %v", kind, err)
		return
	}
	topic := fmt.Sprintf("%s/x3/%s/%s", p.cfg.TopicPrefix, archiveID, kind)
	token := p.client.Publish(topic, p.cfg.QoS, p.cfg.Retain, data)
	go func() {
		if token.Wait() && token.Error() != nil {
			log.Printf("telemetry: failed to publish to %s: %v", topic, token.Error())
		}
	}()
}

// Close disconnects from the broker.
func (p *Publisher) Close() {
	if p == nil || p.client == nil {
		return
	}
	if p.client.IsConnected() {
		p.client.Disconnect(250)
	}
}
