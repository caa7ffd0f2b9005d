package events

import (
	"encoding/json"
	"time"

	"github.com/nats-io/nats.go"
	"go.uber.org/zap"

	"mangashelf/pkg/logging"
)

const SubjectPrefix = "mangashelf.events."

// NATSPublisher forwards events to core NATS subjects
// mangashelf.events.<type>.
type NATSPublisher struct {
	nc  *nats.Conn
	log *zap.Logger
}

// NewNATSPublisher connects to natsURL. An empty URL yields a publisher
// that only logs.
func NewNATSPublisher(natsURL string, log *zap.Logger) (*NATSPublisher, error) {
	log = logging.OrNop(log)
	if natsURL == "" {
		log.Debug("nats url not set, events stay local")
		return &NATSPublisher{log: log}, nil
	}

	nc, err := nats.Connect(natsURL,
		nats.Name("mangashelf"),
		nats.RetryOnFailedConnect(true),
		nats.MaxReconnects(10),
		nats.ReconnectWait(2*time.Second),
	)
	if err != nil {
		return nil, err
	}
	log.Info("nats publisher connected", zap.String("url", natsURL))
	return &NATSPublisher{nc: nc, log: log}, nil
}

func Subject(typ string) string {
	return SubjectPrefix + typ
}

func (p *NATSPublisher) Publish(ev Event) {
	if p.nc == nil {
		return
	}
	data, err := json.Marshal(ev)
	if err != nil {
		p.log.Warn("marshal event", zap.String("type", ev.Type), zap.Error(err))
		return
	}
	if err := p.nc.Publish(Subject(ev.Type), data); err != nil {
		p.log.Warn("nats publish", zap.String("type", ev.Type), zap.Error(err))
	}
}

func (p *NATSPublisher) Close() {
	if p.nc != nil {
		_ = p.nc.Drain()
	}
}
