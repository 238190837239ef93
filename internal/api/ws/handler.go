package ws

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/bytedance/sonic"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/GriffinCanCode/Stochify/vizhost/internal/domain/host"
	"github.com/GriffinCanCode/Stochify/vizhost/internal/domain/pipeline"
	"github.com/GriffinCanCode/Stochify/vizhost/internal/infrastructure/logging"
	"github.com/GriffinCanCode/Stochify/vizhost/internal/infrastructure/monitoring"
	"github.com/GriffinCanCode/Stochify/vizhost/internal/shared/types"
	"github.com/GriffinCanCode/Stochify/vizhost/internal/shared/utils"
)

const (
	writeWait     = 10 * time.Second
	pongWait      = 60 * time.Second
	pingPeriod    = pongWait * 9 / 10
	sendBuffer    = 32
	maxFrameBytes = utils.MaxSnippetSize + utils.MaxAnalysisSize + 4096
)

// Message types
const (
	TypePing      = "ping"
	TypePong      = "pong"
	TypeSystem    = "system"
	TypeState     = "state"
	TypeMode      = "mode"
	TypeVisualize = "visualize"
	TypeOutcome   = "outcome"
	TypeError     = "error"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	CheckOrigin: func(r *http.Request) bool {
		return true // origin policy lives in the CORS middleware
	},
}

// inbound is a client frame
type inbound struct {
	Type string                      `json:"type"`
	Mode string                      `json:"mode,omitempty"`
	Data *types.VisualizationPayload `json:"data,omitempty"`
}

// Handler streams host state to WebSocket clients and accepts submissions
type Handler struct {
	pipeline *pipeline.Orchestrator
	metrics  *monitoring.Metrics
	log      *logging.Logger
}

// NewHandler creates a new WebSocket handler
func NewHandler(p *pipeline.Orchestrator, metrics *monitoring.Metrics, log *logging.Logger) *Handler {
	return &Handler{
		pipeline: p,
		metrics:  metrics,
		log:      logging.OrNop(log).Named("ws"),
	}
}

// client is one connection. Every write goes through out so that the
// connection has a single writer.
type client struct {
	id   string
	conn *websocket.Conn
	out  chan types.WSMessage
	done chan struct{}
	once sync.Once
	log  *logging.Logger
}

// enqueue drops the frame when the client is slow rather than stall the
// goroutine that produced it.
func (c *client) enqueue(msg types.WSMessage) bool {
	select {
	case <-c.done:
		return false
	default:
	}
	select {
	case c.out <- msg:
		return true
	case <-c.done:
		return false
	default:
		c.log.Warn("send buffer full, dropping frame", zap.String("type", msg.Type))
		return false
	}
}

func (c *client) close() {
	c.once.Do(func() { close(c.done) })
}

// HandleConnection upgrades the request and serves it until the peer goes away
func (h *Handler) HandleConnection(c *gin.Context) {
	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.log.Warn("WebSocket upgrade failed", zap.Error(err))
		return
	}

	cl := &client{
		id:   uuid.NewString(),
		conn: conn,
		out:  make(chan types.WSMessage, sendBuffer),
		done: make(chan struct{}),
	}
	cl.log = h.log.With(zap.String("client_id", cl.id))

	h.metrics.IncWSConnections()
	defer h.metrics.DecWSConnections()
	cl.log.Debug("client connected")

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		h.writeLoop(cl)
	}()

	unsubscribe := h.pipeline.Host().Subscribe(func(s host.State) {
		cl.enqueue(types.WSMessage{Type: TypeState, Data: s})
	})

	cl.enqueue(types.WSMessage{Type: TypeSystem, Data: gin.H{"clientId": cl.id}})
	cl.enqueue(types.WSMessage{Type: TypeState, Data: h.pipeline.Host().State()})

	h.readLoop(c.Request.Context(), cl)

	unsubscribe()
	cl.close()
	wg.Wait()
	conn.Close()
	cl.log.Debug("client disconnected")
}

func (h *Handler) readLoop(ctx context.Context, cl *client) {
	cl.conn.SetReadLimit(maxFrameBytes)
	_ = cl.conn.SetReadDeadline(time.Now().Add(pongWait))
	cl.conn.SetPongHandler(func(string) error {
		return cl.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, data, err := cl.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				cl.log.Warn("WebSocket read error", zap.Error(err))
			}
			return
		}

		if err := utils.ValidateJSON(data, maxFrameBytes); err != nil {
			h.sendError(cl, err.Error())
			continue
		}
		var msg inbound
		if err := sonic.Unmarshal(data, &msg); err != nil {
			h.sendError(cl, "malformed message")
			continue
		}
		h.metrics.RecordWSMessage("in", messageLabel(msg.Type))

		switch msg.Type {
		case TypePing:
			cl.enqueue(types.WSMessage{Type: TypePong})
		case TypeState:
			cl.enqueue(types.WSMessage{Type: TypeState, Data: h.pipeline.Host().State()})
		case TypeMode:
			h.handleMode(cl, msg)
		case TypeVisualize:
			h.handleVisualize(ctx, cl, msg)
		default:
			h.sendError(cl, "unknown message type")
		}
	}
}

// messageLabel bounds the metric label set to known types
func messageLabel(t string) string {
	switch t {
	case TypePing, TypeState, TypeMode, TypeVisualize:
		return t
	}
	return "unknown"
}

func (h *Handler) handleMode(cl *client, msg inbound) {
	mode, err := types.ParseDisplayMode(msg.Mode)
	if err != nil {
		h.sendError(cl, err.Error())
		return
	}
	// the subscription pushes the resulting state
	h.pipeline.Host().SetDisplayMode(mode)
}

func (h *Handler) handleVisualize(ctx context.Context, cl *client, msg inbound) {
	if msg.Data == nil {
		h.sendError(cl, "visualize requires data")
		return
	}
	if err := utils.ValidateSnippet(msg.Data.Code); err != nil {
		h.sendError(cl, err.Error())
		return
	}
	if err := utils.ValidateAnalysis(msg.Data.Analysis); err != nil {
		h.sendError(cl, err.Error())
		return
	}

	// reads continue while the pass runs so a newer submission can supersede it
	req := pipeline.NewRequest(*msg.Data)
	go func() {
		out := h.pipeline.Submit(context.WithoutCancel(ctx), req)
		cl.enqueue(types.WSMessage{Type: TypeOutcome, Data: out})
	}()
}

func (h *Handler) sendError(cl *client, message string) {
	cl.enqueue(types.WSMessage{Type: TypeError, Data: gin.H{"message": message}})
}

func (h *Handler) writeLoop(cl *client) {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case msg := <-cl.out:
			if err := h.write(cl, msg); err != nil {
				cl.log.Debug("write failed", zap.Error(err))
				cl.close()
				cl.conn.Close()
				return
			}
		case <-ticker.C:
			_ = cl.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := cl.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				cl.close()
				cl.conn.Close()
				return
			}
		case <-cl.done:
			_ = cl.conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
				time.Now().Add(writeWait))
			return
		}
	}
}

func (h *Handler) write(cl *client, msg types.WSMessage) error {
	data, err := sonic.Marshal(msg)
	if err != nil {
		return err
	}
	_ = cl.conn.SetWriteDeadline(time.Now().Add(writeWait))
	if err := cl.conn.WriteMessage(websocket.TextMessage, data); err != nil {
		return err
	}
	h.metrics.RecordWSMessage("out", msg.Type)
	return nil
}
