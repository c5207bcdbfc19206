package actuator

import (
	"context"
	"fmt"
	"net"

	"github.com/san-kum/mpcsim/internal/allocation"
	"go.einride.tech/can"
	"go.einride.tech/can/pkg/socketcan"
	"go.uber.org/zap"
)

type Writer interface {
	WriteFrame(ctx context.Context, frame can.Frame) error
	Close() error
}

type SocketCANWriter struct {
	conn net.Conn
	tx   *socketcan.Transmitter
}

// NewSocketCANWriter opens a raw CAN socket on iface, e.g. "vcan0".
func NewSocketCANWriter(ctx context.Context, iface string) (*SocketCANWriter, error) {
	conn, err := socketcan.DialContext(ctx, "can", iface)
	if err != nil {
		return nil, fmt.Errorf("socketcan dial %s: %w", iface, err)
	}
	return &SocketCANWriter{
		conn: conn,
		tx:   socketcan.NewTransmitter(conn),
	}, nil
}

func (w *SocketCANWriter) WriteFrame(ctx context.Context, frame can.Frame) error {
	return w.tx.TransmitFrame(ctx, frame)
}

func (w *SocketCANWriter) Close() error {
	if w.conn != nil {
		return w.conn.Close()
	}
	return nil
}

// Publisher sends allocation results as thruster command frames.
type Publisher struct {
	codec Codec
	w     Writer
	log   *zap.Logger
}

func NewPublisher(w Writer, codec Codec, log *zap.Logger) *Publisher {
	if log == nil {
		log = zap.NewNop()
	}
	return &Publisher{codec: codec, w: w, log: log}
}

func (p *Publisher) Publish(ctx context.Context, res *allocation.Result) error {
	for i, f := range p.codec.Frames(res) {
		if err := p.w.WriteFrame(ctx, f); err != nil {
			return fmt.Errorf("thruster %d: %w", i, err)
		}
		p.log.Debug("thruster command",
			zap.Uint32("id", f.ID),
			zap.Float64("fx", res.Thrusters[i].Fx),
			zap.Float64("fy", res.Thrusters[i].Fy))
	}
	return nil
}

func (p *Publisher) Close() error { return p.w.Close() }
