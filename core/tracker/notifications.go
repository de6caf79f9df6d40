package tracker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"strings"
	"sync"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/nicholas-fedor/shoutrrr"
	"github.com/nicholas-fedor/shoutrrr/pkg/router"
	stypes "github.com/nicholas-fedor/shoutrrr/pkg/types"

	"resetwatch/config"
)

// ShoutrrrSink sends a short text message for every detected reset.
type ShoutrrrSink struct {
	sender *router.ServiceRouter
}

func NewShoutrrrSink(urls []string, timeout time.Duration) (*ShoutrrrSink, error) {
	if len(urls) == 0 {
		return nil, errors.New("at least one notification url is required")
	}
	sender, err := shoutrrr.CreateSender(urls...)
	if err != nil {
		return nil, fmt.Errorf("notification urls: %w", err)
	}
	if timeout > 0 {
		sender.Timeout = timeout
	}
	sender.SetLogger(log.New(io.Discard, "", 0))
	return &ShoutrrrSink{sender: sender}, nil
}

func (s *ShoutrrrSink) Publish(_ context.Context, ev Event) error {
	if ev.Type != EventResetDetected || ev.Fact == nil {
		return nil
	}
	params := stypes.Params{}
	params.SetTitle("Reset detected")
	for _, err := range s.sender.Send(resetMessage(ev), &params) {
		if err != nil {
			return err
		}
	}
	return nil
}

func resetMessage(ev Event) string {
	name := fmt.Sprintf("#%d", ev.Fact.EntityID)
	if ev.Entity != nil && strings.TrimSpace(ev.Entity.Name) != "" {
		name = fmt.Sprintf("%s (#%d)", ev.Entity.Name, ev.Fact.EntityID)
	}
	msg := fmt.Sprintf("%s reset at %s UTC", name, ev.Fact.ResetAt.UTC().Format("15:04"))
	if ev.Entity != nil && ev.Entity.GroupName != "" {
		msg += " [" + ev.Entity.GroupName + "]"
	}
	return msg
}

// MQTTSink publishes every event as JSON to a single topic.
type MQTTSink struct {
	mu     sync.Mutex
	client mqtt.Client
	topic  string
}

var mqttConnectTimeout = 10 * time.Second

// NewMQTTSink connects once. A broker that is unreachable at startup is an
// error; drops after that are handled by paho's auto-reconnect.
func NewMQTTSink(cfg config.MQTTConfig) (*MQTTSink, error) {
	if strings.TrimSpace(cfg.Broker) == "" {
		return nil, errors.New("mqtt broker is empty")
	}
	opts := mqtt.NewClientOptions()
	opts.AddBroker(cfg.Broker)
	opts.SetClientID(cfg.ClientID)
	opts.SetUsername(cfg.Username)
	opts.SetPassword(cfg.Password)
	opts.SetCleanSession(true)
	opts.SetAutoReconnect(true)
	opts.SetConnectTimeout(mqttConnectTimeout)
	client := mqtt.NewClient(opts)
	token := client.Connect()
	if !token.WaitTimeout(mqttConnectTimeout) {
		client.Disconnect(0)
		return nil, errors.New("mqtt connect timeout")
	}
	if err := token.Error(); err != nil {
		client.Disconnect(0)
		return nil, fmt.Errorf("mqtt connect: %w", err)
	}
	return &MQTTSink{client: client, topic: cfg.Topic}, nil
}

func (s *MQTTSink) Publish(ctx context.Context, ev Event) error {
	payload, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.client.IsConnected() {
		return errors.New("mqtt not connected")
	}
	token := s.client.Publish(s.topic+"/"+ev.Type, 0, false, payload)
	wait := 10 * time.Second
	if deadline, ok := ctx.Deadline(); ok {
		wait = time.Until(deadline)
	}
	if !token.WaitTimeout(wait) {
		return errors.New("mqtt publish timeout")
	}
	return token.Error()
}

func (s *MQTTSink) Close() {
	s.client.Disconnect(250)
}
