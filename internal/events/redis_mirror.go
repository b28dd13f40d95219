package events

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/redis/go-redis/v9"

	"chatcore/pkg/logger"
)

// Channel prefixes for mirrored events.
const (
	ChannelPrefixConversation = "channel:conversation:"
	ChannelPrefixRoster       = "channel:roster:"
)

// Addressable is implemented by payloads that carry their own routing
// address. The mirror uses it to build the redis channel name.
type Addressable interface {
	EventAccount() string
	EventJID() string
}

// RedisMirror republishes core events on redis pub/sub so tray/badge
// renderers in other processes can consume them without linking the core.
type RedisMirror struct {
	client *redis.Client
	log    *logger.Logger
	subs   []*Subscription
}

func NewRedisMirror(client *redis.Client, log *logger.Logger) *RedisMirror {
	return &RedisMirror{client: client, log: log}
}

// Attach subscribes the mirror to every exported topic on the registry.
func (m *RedisMirror) Attach(registry *Registry) {
	topics := []string{
		TopicRowInserted,
		TopicRowCorrected,
		TopicMarkerChanged,
		TopicEventAdded,
		TopicEventRemoved,
		TopicRosterChanged,
	}
	for _, topic := range topics {
		m.subs = append(m.subs, registry.Subscribe(topic, m.publish))
	}
}

// Detach releases every subscription taken by Attach.
func (m *RedisMirror) Detach() {
	for _, sub := range m.subs {
		sub.Unsubscribe()
	}
	m.subs = nil
}

func (m *RedisMirror) publish(topic string, payload interface{}) {
	account, jid := "", ""
	if addr, ok := payload.(Addressable); ok {
		account, jid = addr.EventAccount(), addr.EventJID()
	}

	env, err := NewEnvelope(topic, account, jid, payload)
	if err != nil {
		m.log.Errorf("failed to marshal %s event: %v", topic, err)
		return
	}
	data, err := json.Marshal(env)
	if err != nil {
		m.log.Errorf("failed to marshal envelope: %v", err)
		return
	}

	channel := m.channelFor(topic, account, jid)
	if err := m.client.Publish(context.Background(), channel, data).Err(); err != nil {
		m.log.Errorf("failed to publish to %s: %v", channel, err)
	}
}

func (m *RedisMirror) channelFor(topic, account, jid string) string {
	if topic == TopicRosterChanged {
		return ChannelPrefixRoster + account
	}
	return fmt.Sprintf("%s%s:%s", ChannelPrefixConversation, account, jid)
}
