package pulse

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"go.uber.org/zap"

	"github.com/HerbHall/lockwatch/pkg/models"
)

const (
	streamBuffer       = 32
	streamWriteTimeout = 5 * time.Second

	StreamTypeMetrics = "metrics"
	StreamTypeAlert   = "alert"
)

// StreamMessage is one websocket frame pushed to /stream clients.
type StreamMessage struct {
	Type string `json:"type"`
	Data any    `json:"data"`
}

// streamHandler upgrades to a websocket and pushes every sample and alert
// the monitor produces until the client goes away. The newest sample, if
// any, is sent first. Frames are dropped for clients that fall behind.
func streamHandler(mon *Monitor, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		conn, err := websocket.Accept(w, r, nil)
		if err != nil {
			logger.Debug("websocket accept failed", zap.Error(err))
			return
		}
		defer conn.CloseNow()

		out := make(chan StreamMessage, streamBuffer)
		push := func(msg StreamMessage) {
			select {
			case out <- msg:
			default:
				logger.Debug("stream client behind, dropping frame", zap.String("type", msg.Type))
			}
		}
		unsubscribe := mon.SubscribeWithLatest(Subscriber{
			OnMetrics: func(s models.MetricsSample) { push(StreamMessage{Type: StreamTypeMetrics, Data: s}) },
			OnAlert:   func(a models.Alert) { push(StreamMessage{Type: StreamTypeAlert, Data: a}) },
		})
		defer unsubscribe()

		// Clients only listen; CloseRead handles their close frame.
		ctx := conn.CloseRead(r.Context())
		for {
			select {
			case <-ctx.Done():
				conn.Close(websocket.StatusNormalClosure, "")
				return
			case msg := <-out:
				if err := writeFrame(ctx, conn, msg); err != nil {
					if !errors.Is(err, context.Canceled) {
						logger.Debug("stream write failed", zap.Error(err))
					}
					return
				}
			}
		}
	}
}

func writeFrame(ctx context.Context, conn *websocket.Conn, msg StreamMessage) error {
	ctx, cancel := context.WithTimeout(ctx, streamWriteTimeout)
	defer cancel()
	return wsjson.Write(ctx, conn, msg)
}
