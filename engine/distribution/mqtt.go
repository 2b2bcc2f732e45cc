package distribution

import (
	"context"
	"encoding/binary"
	"fmt"
	"net"
	"net/url"
	"sync"
	"time"

	"github.com/99souls/synopticon/engine/models"
)

const (
	mqttConnect  byte = 1 << 4
	mqttConnAck  byte = 2 << 4
	mqttPublish  byte = 3 << 4
	mqttPingReq  byte = 12 << 4
	mqttKeepalive     = 30 * time.Second
)

// mqttDistributor speaks a minimal CONNECT/CONNACK/PUBLISH/PINGREQ subset of
// MQTT 3.1.1 directly over net.Conn. No MQTT client library appears
// anywhere in the retrieved example pack (see DESIGN.md), so this is
// hand-rolled the same way spec.md already requires for MSFS SimConnect and
// X-Plane's wire framing.
type mqttDistributor struct {
	statsTracker
	broker   string
	topic    string
	topicMap map[models.EventKind]string
	qos      byte
	retain   bool
	clientID string

	mu   sync.Mutex
	conn net.Conn
	stop chan struct{}
}

func newMQTTDistributor(name string, dest models.DistributorDestination, qos int, retain bool) *mqttDistributor {
	return &mqttDistributor{
		broker:   dest.URL,
		topic:    dest.Topic,
		topicMap: dest.TopicMap,
		qos:      byte(qos),
		retain:   retain,
		clientID: "synopticon-" + name,
	}
}

func (d *mqttDistributor) Kind() models.DistributorKind { return models.DistributorMQTT }

func (d *mqttDistributor) Open(ctx context.Context) error {
	host := d.broker
	if u, err := url.Parse(d.broker); err == nil && u.Host != "" {
		host = u.Host
	}
	var dialer net.Dialer
	conn, err := dialer.DialContext(ctx, "tcp", host)
	if err != nil {
		return models.NewTransportError("distribution.mqttDistributor.Open", "dial failed", err)
	}
	if err := d.sendConnect(conn); err != nil {
		conn.Close()
		return models.NewTransportError("distribution.mqttDistributor.Open", "connect handshake failed", err)
	}

	d.mu.Lock()
	d.conn = conn
	d.stop = make(chan struct{})
	d.mu.Unlock()
	go d.keepalive()
	return nil
}

func (d *mqttDistributor) sendConnect(conn net.Conn) error {
	var payload []byte
	payload = append(payload, 0, 4, 'M', 'Q', 'T', 'T') // protocol name
	payload = append(payload, 4)                        // protocol level 3.1.1
	payload = append(payload, 0x02)                     // connect flags: clean session
	ka := make([]byte, 2)
	binary.BigEndian.PutUint16(ka, uint16(mqttKeepalive/time.Second))
	payload = append(payload, ka...)
	payload = append(payload, encodeMQTTString(d.clientID)...)

	frame := append([]byte{mqttConnect}, encodeMQTTLength(len(payload))...)
	frame = append(frame, payload...)
	if _, err := conn.Write(frame); err != nil {
		return err
	}

	ack := make([]byte, 4)
	if _, err := conn.Read(ack); err != nil {
		return err
	}
	if ack[0] != mqttConnAck {
		return fmt.Errorf("mqtt: unexpected CONNACK packet type %#x", ack[0])
	}
	if ack[3] != 0 {
		return fmt.Errorf("mqtt: broker refused connection, return code %d", ack[3])
	}
	return nil
}

func (d *mqttDistributor) keepalive() {
	ticker := time.NewTicker(mqttKeepalive - 5*time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-d.stop:
			return
		case <-ticker.C:
			d.mu.Lock()
			conn := d.conn
			d.mu.Unlock()
			if conn == nil {
				return
			}
			_, _ = conn.Write([]byte{mqttPingReq, 0})
		}
	}
}

func (d *mqttDistributor) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.stop != nil {
		close(d.stop)
		d.stop = nil
	}
	if d.conn == nil {
		return nil
	}
	err := d.conn.Close()
	d.conn = nil
	return err
}

func (d *mqttDistributor) topicFor(kind models.EventKind) string {
	if t, ok := d.topicMap[kind]; ok {
		return t
	}
	if d.topic == "" {
		return string(kind)
	}
	return d.topic + "/" + string(kind)
}

func (d *mqttDistributor) Send(ctx context.Context, payload []byte, opts SendOptions) (SendResult, error) {
	d.mu.Lock()
	conn := d.conn
	d.mu.Unlock()
	if conn == nil {
		return SendResult{}, models.NewTransportError("distribution.mqttDistributor.Send", "not connected", nil)
	}

	var flags byte
	flags |= d.qos << 1
	if d.retain {
		flags |= 0x01
	}

	var body []byte
	body = append(body, encodeMQTTString(d.topicFor(opts.EventKind))...)
	if d.qos > 0 {
		id := make([]byte, 2)
		binary.BigEndian.PutUint16(id, 1)
		body = append(body, id...)
	}
	body = append(body, payload...)

	frame := append([]byte{mqttPublish | flags}, encodeMQTTLength(len(body))...)
	frame = append(frame, body...)

	n, err := conn.Write(frame)
	if err != nil {
		d.recordError()
		return SendResult{}, models.NewTransportError("distribution.mqttDistributor.Send", "publish failed", err)
	}
	d.recordSend(n)
	return SendResult{BytesSent: n, ClientsReached: 1}, nil
}

func encodeMQTTString(s string) []byte {
	buf := make([]byte, 2+len(s))
	binary.BigEndian.PutUint16(buf, uint16(len(s)))
	copy(buf[2:], s)
	return buf
}

// encodeMQTTLength implements the variable-length remaining-length encoding
// from the MQTT 3.1.1 spec (7 bits per byte, continuation bit set while
// more bytes follow).
func encodeMQTTLength(n int) []byte {
	var out []byte
	for {
		b := byte(n % 128)
		n /= 128
		if n > 0 {
			b |= 0x80
		}
		out = append(out, b)
		if n == 0 {
			break
		}
	}
	return out
}
