package main

import (
	"crypto/rand"
	"crypto/tls"
	"crypto/x509"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"log"
	"os"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
)

// MQTTPublisher pushes alert and GPIO events to a broker so downstream
// systems (signage, paging, dashboards) hear about activations without
// polling the status API.
type MQTTPublisher struct {
	client mqtt.Client
	config *MQTTConfig
}

// AlertPayload is the JSON body published on alert topics.
type AlertPayload struct {
	Timestamp  int64    `json:"timestamp"`
	Station    string   `json:"station"`
	Raw        string   `json:"raw"`
	Signature  string   `json:"signature"`
	Originator string   `json:"originator,omitempty"`
	Event      string   `json:"event,omitempty"`
	EventName  string   `json:"event_name,omitempty"`
	Locations  []string `json:"locations,omitempty"`
	Matched    []string `json:"matched_fips,omitempty"`
	Confidence float64  `json:"confidence"`
	Source     string   `json:"source"`
	EOM        bool     `json:"eom"`
}

// GPIOPayload is the JSON body published on GPIO topics.
type GPIOPayload struct {
	Timestamp int64  `json:"timestamp"`
	Station   string `json:"station"`
	Pin       string `json:"pin"`
	State     string `json:"state"`
	Reason    string `json:"reason,omitempty"`
}

// generateClientID creates a random client ID for the MQTT connection.
func generateClientID() string {
	bytes := make([]byte, 8)
	rand.Read(bytes)
	return "eas_station_" + hex.EncodeToString(bytes)
}

// loadTLSConfig loads TLS configuration from files.
func loadTLSConfig(tlsConfig MQTTTLSConfig) (*tls.Config, error) {
	if !tlsConfig.Enabled {
		return nil, nil
	}

	config := &tls.Config{}

	if tlsConfig.CACert != "" {
		caCert, err := os.ReadFile(tlsConfig.CACert)
		if err != nil {
			return nil, fmt.Errorf("failed to read CA certificate: %w", err)
		}
		caCertPool := x509.NewCertPool()
		if !caCertPool.AppendCertsFromPEM(caCert) {
			return nil, fmt.Errorf("failed to parse CA certificate")
		}
		config.RootCAs = caCertPool
	}

	if tlsConfig.ClientCert != "" && tlsConfig.ClientKey != "" {
		cert, err := tls.LoadX509KeyPair(tlsConfig.ClientCert, tlsConfig.ClientKey)
		if err != nil {
			return nil, fmt.Errorf("failed to load client certificate: %w", err)
		}
		config.Certificates = []tls.Certificate{cert}
	}

	return config, nil
}

// NewMQTTPublisher connects to the broker. Auto-reconnect is on; a broker
// outage must not affect monitoring.
func NewMQTTPublisher(config *MQTTConfig) (*MQTTPublisher, error) {
	opts := mqtt.NewClientOptions()
	opts.AddBroker(config.Broker)
	opts.SetClientID(generateClientID())

	if config.Username != "" {
		opts.SetUsername(config.Username)
	}
	if config.Password != "" {
		opts.SetPassword(config.Password)
	}

	opts.SetAutoReconnect(true)
	opts.SetConnectRetry(true)
	opts.SetConnectRetryInterval(10 * time.Second)
	opts.SetKeepAlive(60 * time.Second)
	opts.SetPingTimeout(10 * time.Second)

	if config.TLS.Enabled {
		tlsConfig, err := loadTLSConfig(config.TLS)
		if err != nil {
			return nil, fmt.Errorf("failed to load TLS config: %w", err)
		}
		opts.SetTLSConfig(tlsConfig)
	}

	opts.SetOnConnectHandler(func(client mqtt.Client) {
		log.Println("MQTT: Connected to broker")
	})
	opts.SetConnectionLostHandler(func(client mqtt.Client, err error) {
		log.Printf("MQTT: Connection lost: %v", err)
	})
	opts.SetReconnectingHandler(func(client mqtt.Client, opts *mqtt.ClientOptions) {
		log.Println("MQTT: Attempting to reconnect...")
	})

	client := mqtt.NewClient(opts)
	if token := client.Connect(); token.Wait() && token.Error() != nil {
		return nil, fmt.Errorf("failed to connect to MQTT broker: %w", token.Error())
	}

	log.Printf("MQTT: Successfully connected to broker: %s", config.Broker)

	return &MQTTPublisher{
		client: client,
		config: config,
	}, nil
}

// PublishAlert sends one alert. QoS 1: an activation notice is worth a
// duplicate delivery, never a silent drop.
func (mp *MQTTPublisher) PublishAlert(alert *Alert) {
	payload := AlertPayload{
		Timestamp:  alert.DetectedAt.Unix(),
		Station:    mp.config.Station,
		Raw:        alert.Header.Raw,
		Signature:  alert.Signature,
		Confidence: alert.Confidence,
		Source:     alert.Source,
		EOM:        alert.EOM,
	}
	topic := mp.config.TopicPrefix + "/eom"
	if !alert.EOM {
		payload.Originator = alert.Header.Originator
		payload.Event = alert.Header.Event
		payload.EventName = alert.Header.EventDescription()
		payload.Locations = alert.Header.LocationCodes()
		payload.Matched = alert.Matched
		topic = mp.config.TopicPrefix + "/alert/" + alert.Header.Event
	}
	mp.publish(topic, payload)
}

// PublishGPIO sends one relay state change.
func (mp *MQTTPublisher) PublishGPIO(pin, state, reason string) {
	mp.publish(mp.config.TopicPrefix+"/gpio/"+pin, GPIOPayload{
		Timestamp: time.Now().Unix(),
		Station:   mp.config.Station,
		Pin:       pin,
		State:     state,
		Reason:    reason,
	})
}

func (mp *MQTTPublisher) publish(topic string, payload interface{}) {
	data, err := json.Marshal(payload)
	if err != nil {
		log.Printf("MQTT: Failed to marshal payload for %s: %v", topic, err)
		return
	}
	token := mp.client.Publish(topic, 1, false, data)
	go func() {
		token.Wait()
		if token.Error() != nil {
			log.Printf("MQTT: Failed to publish to %s: %v", topic, token.Error())
		}
	}()
}

// Close disconnects from the broker.
func (mp *MQTTPublisher) Close() {
	mp.client.Disconnect(250)
}
