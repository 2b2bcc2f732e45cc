package distribution

import (
	"context"
	"fmt"
	"net"

	"github.com/99souls/synopticon/engine/models"
)

const udpMaxDatagram = 64 * 1024 // spec.md §4.5: oversize datagrams dropped

type udpDistributor struct {
	statsTracker
	addr *net.UDPAddr
	conn *net.UDPConn
}

func newUDPDistributor(dest models.DistributorDestination) (*udpDistributor, error) {
	addr, err := net.ResolveUDPAddr("udp", fmt.Sprintf("%s:%d", dest.Host, dest.Port))
	if err != nil {
		return nil, models.NewValidationError("distribution.newUDPDistributor", err.Error())
	}
	return &udpDistributor{addr: addr}, nil
}

func (d *udpDistributor) Kind() models.DistributorKind { return models.DistributorUDP }

func (d *udpDistributor) Open(ctx context.Context) error {
	conn, err := net.DialUDP("udp", nil, d.addr)
	if err != nil {
		return models.NewTransportError("distribution.udpDistributor.Open", "dial failed", err)
	}
	d.conn = conn
	return nil
}

func (d *udpDistributor) Close() error {
	if d.conn == nil {
		return nil
	}
	return d.conn.Close()
}

func (d *udpDistributor) Send(ctx context.Context, payload []byte, opts SendOptions) (SendResult, error) {
	if len(payload) > udpMaxDatagram {
		return SendResult{}, models.NewOverflowError("distribution.udpDistributor.Send", "datagram exceeds 64KiB")
	}
	n, err := d.conn.Write(payload)
	if err != nil {
		d.recordError()
		return SendResult{}, models.NewTransportError("distribution.udpDistributor.Send", "write failed", err)
	}
	d.recordSend(n)
	return SendResult{BytesSent: n, ClientsReached: 1}, nil
}
