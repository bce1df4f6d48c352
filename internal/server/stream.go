// File: internal/server/stream.go
package server

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/sirupsen/logrus"
	"github.com/smartdevs17/droneops-sync/internal/logbook"
	"github.com/smartdevs17/droneops-sync/internal/metrics"
	"github.com/smartdevs17/droneops-sync/internal/models"
	"github.com/smartdevs17/droneops-sync/pkg/utils"
)

// StatusMessage is one frame on the status stream
type StatusMessage struct {
	Type      string                   `json:"type"`
	State     models.ConnectivityState `json:"state"`
	Timestamp time.Time                `json:"timestamp"`
}

// StatusStream pushes connectivity changes to websocket clients. A client
// gets the current state on connect and every change after that.
type StatusStream struct {
	service        *logbook.Service
	metricsManager *metrics.Manager
	logger         *logrus.Entry

	clients   map[*websocket.Conn]struct{}
	clientsMu sync.RWMutex

	broadcast   chan StatusMessage
	unsubscribe func()
	ctx         context.Context
	cancel      context.CancelFunc
	startOnce   sync.Once
	stopOnce    sync.Once
	wg          sync.WaitGroup
}

// NewStatusStream creates a stream over the service's status changes
func NewStatusStream(service *logbook.Service, metricsManager *metrics.Manager) *StatusStream {
	ctx, cancel := context.WithCancel(context.Background())
	return &StatusStream{
		service:        service,
		metricsManager: metricsManager,
		logger:         utils.GetLogger().WithField("component", "status_stream"),
		clients:        make(map[*websocket.Conn]struct{}),
		broadcast:      make(chan StatusMessage, 64),
		ctx:            ctx,
		cancel:         cancel,
	}
}

// Start subscribes to status changes and starts the broadcast loop
func (ss *StatusStream) Start() {
	ss.startOnce.Do(func() {
		ss.unsubscribe = ss.service.OnStatusChange(func(state models.ConnectivityState) {
			msg := StatusMessage{Type: "status", State: state, Timestamp: time.Now().UTC()}
			select {
			case ss.broadcast <- msg:
			default:
				ss.logger.WithField("state", state).Warn("Status stream backlog full, dropping change")
			}
		})

		ss.wg.Add(1)
		go ss.broadcastLoop()
	})
}

// Stop disconnects every client
func (ss *StatusStream) Stop() {
	ss.stopOnce.Do(func() {
		if ss.unsubscribe != nil {
			ss.unsubscribe()
		}
		ss.cancel()
		ss.wg.Wait()

		ss.clientsMu.Lock()
		for conn := range ss.clients {
			_ = conn.Close(websocket.StatusGoingAway, "Server shutting down")
			delete(ss.clients, conn)
		}
		ss.clientsMu.Unlock()
		ss.updateGauge()
	})
}

// ClientCount returns the number of connected clients
func (ss *StatusStream) ClientCount() int {
	ss.clientsMu.RLock()
	defer ss.clientsMu.RUnlock()
	return len(ss.clients)
}

func (ss *StatusStream) broadcastLoop() {
	defer ss.wg.Done()

	for {
		select {
		case <-ss.ctx.Done():
			return
		case msg := <-ss.broadcast:
			data, err := json.Marshal(msg)
			if err != nil {
				ss.logger.WithError(err).Error("Failed to encode status message")
				continue
			}

			ss.clientsMu.RLock()
			clients := make([]*websocket.Conn, 0, len(ss.clients))
			for conn := range ss.clients {
				clients = append(clients, conn)
			}
			ss.clientsMu.RUnlock()

			for _, conn := range clients {
				ctx, cancel := context.WithTimeout(ss.ctx, 5*time.Second)
				err := conn.Write(ctx, websocket.MessageText, data)
				cancel()
				if err != nil {
					ss.logger.WithError(err).Debug("Dropping stream client after failed write")
					ss.removeClient(conn)
				}
			}
		}
	}
}

// ServeHTTP upgrades the request and registers the client
func (ss *StatusStream) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	// the stream outlives the server's write timeout
	_ = http.NewResponseController(w).SetWriteDeadline(time.Time{})

	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: []string{"*"},
	})
	if err != nil {
		ss.logger.WithError(err).Warn("Websocket upgrade failed")
		return
	}

	ss.clientsMu.Lock()
	ss.clients[conn] = struct{}{}
	ss.clientsMu.Unlock()
	ss.updateGauge()

	current := StatusMessage{Type: "status", State: ss.service.CurrentStatus(), Timestamp: time.Now().UTC()}
	if data, err := json.Marshal(current); err == nil {
		ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
		err = conn.Write(ctx, websocket.MessageText, data)
		cancel()
		if err != nil {
			ss.removeClient(conn)
			return
		}
	}

	// clients only listen; CloseRead handles control frames until they leave
	ctx := conn.CloseRead(ss.ctx)
	<-ctx.Done()
	ss.removeClient(conn)
}

func (ss *StatusStream) removeClient(conn *websocket.Conn) {
	ss.clientsMu.Lock()
	_, exists := ss.clients[conn]
	delete(ss.clients, conn)
	ss.clientsMu.Unlock()

	if exists {
		_ = conn.Close(websocket.StatusNormalClosure, "")
		ss.updateGauge()
	}
}

func (ss *StatusStream) updateGauge() {
	if ss.metricsManager != nil {
		ss.metricsManager.GetPrometheusMetrics().StreamClients.Set(float64(ss.ClientCount()))
	}
}
