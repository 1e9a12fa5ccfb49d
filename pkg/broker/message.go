package broker

import mqtt "github.com/eclipse/paho.mqtt.golang"

// StaticMessage is an in-memory mqtt.Message, used to replay payloads
// through handlers without a broker.
type StaticMessage struct {
	TopicName string
	Body      []byte
	QoS       byte
	Dup       bool
}

var _ mqtt.Message = (*StaticMessage)(nil)

func NewMessage(topic string, payload []byte) *StaticMessage {
	return &StaticMessage{TopicName: topic, Body: payload}
}

func (m *StaticMessage) Duplicate() bool   { return m.Dup }
func (m *StaticMessage) Qos() byte         { return m.QoS }
func (m *StaticMessage) Retained() bool    { return false }
func (m *StaticMessage) Topic() string     { return m.TopicName }
func (m *StaticMessage) MessageID() uint16 { return 0 }
func (m *StaticMessage) Payload() []byte   { return m.Body }
func (m *StaticMessage) Ack()              {}
