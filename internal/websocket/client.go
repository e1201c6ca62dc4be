package websocket

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"skillswap/internal/config"
	"skillswap/internal/imtypes"
)

// FrameHandler handles one frame read from the client.
type FrameHandler func(ctx context.Context, frame imtypes.ClientFrame) error

// Client is a middleman between the websocket connection and the hub.
type Client struct {
	hub *Hub

	// The websocket connection.
	conn *websocket.Conn

	// Buffered channel of outbound frames.
	send   chan []byte
	sendMu sync.Mutex
	closed bool

	// Authenticated user and the channel this connection is bound to.
	UserID    string
	ChannelID string

	handleFrame FrameHandler
	onClose     func()
	cfg         config.WebSocketConfig
	logger      *zap.Logger
}

// Upgrade 将 HTTP 连接升级为 WebSocket 连接并创建客户端。调用 Start 之前不会读写。
func Upgrade(hub *Hub, w http.ResponseWriter, r *http.Request, userID, channelID string, handler FrameHandler, wsCfg config.WebSocketConfig) (*Client, error) {
	upgrader := websocket.Upgrader{
		ReadBufferSize:  wsCfg.MaxMessageSizeBytes,
		WriteBufferSize: wsCfg.MaxMessageSizeBytes,
		CheckOrigin: func(r *http.Request) bool {
			return true
		},
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return nil, err
	}
	return &Client{
		hub:         hub,
		conn:        conn,
		send:        make(chan []byte, 256),
		UserID:      userID,
		ChannelID:   channelID,
		handleFrame: handler,
		cfg:         wsCfg,
		logger:      hub.logger.With(zap.String("userId", userID), zap.String("channelId", channelID)),
	}, nil
}

// Start registers the client and runs its pumps. onClose runs once the read side ends.
func (c *Client) Start(onClose func()) {
	c.onClose = onClose
	select {
	case c.hub.register <- c:
	case <-c.hub.done:
		c.closeSend()
	}

	go c.writePump()
	go c.readPump()

	c.logger.Info("客户端已连接")
}

// SendJSON queues v for this connection only. A full buffer disconnects the client,
// which then reconnects and receives a fresh snapshot.
func (c *Client) SendJSON(v any) {
	payload, err := json.Marshal(v)
	if err != nil {
		c.logger.Error("无法序列化下发帧", zap.Error(err))
		return
	}
	if !c.enqueue(payload) {
		c.logger.Warn("发送通道已满或已关闭，断开客户端")
		c.conn.Close()
	}
}

func (c *Client) enqueue(payload []byte) bool {
	c.sendMu.Lock()
	defer c.sendMu.Unlock()
	if c.closed {
		return false
	}
	select {
	case c.send <- payload:
		return true
	default:
		return false
	}
}

func (c *Client) closeSend() {
	c.sendMu.Lock()
	defer c.sendMu.Unlock()
	if !c.closed {
		c.closed = true
		close(c.send)
	}
}

func (c *Client) pongWait() time.Duration {
	return time.Duration(c.cfg.PongWaitSeconds) * time.Second
}

func (c *Client) writeWait() time.Duration {
	return time.Duration(c.cfg.WriteWaitSeconds) * time.Second
}

// readPump pumps frames from the websocket connection to the frame handler.
func (c *Client) readPump() {
	defer func() {
		if c.onClose != nil {
			c.onClose()
		}
		select {
		case c.hub.unregister <- c:
		case <-c.hub.done:
		}
		c.conn.Close()
	}()
	c.conn.SetReadLimit(int64(c.cfg.MaxMessageSizeBytes))
	c.conn.SetReadDeadline(time.Now().Add(c.pongWait()))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(c.pongWait()))
		return nil
	})

	for {
		messageType, raw, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				c.logger.Warn("WebSocket 错误", zap.Error(err))
			} else {
				c.logger.Debug("WebSocket 连接已关闭", zap.Error(err))
			}
			break
		}

		if messageType != websocket.TextMessage {
			c.logger.Warn("客户端发送了非文本消息类型", zap.Int("messageType", messageType))
			continue
		}

		var frame imtypes.ClientFrame
		if err := json.Unmarshal(raw, &frame); err != nil {
			c.logger.Warn("无法反序列化客户端帧", zap.Error(err))
			c.SendJSON(imtypes.NewErrorFrame(err))
			continue
		}

		if c.handleFrame == nil {
			continue
		}
		if err := c.handleFrame(context.Background(), frame); err != nil {
			c.logger.Info("处理客户端帧失败", zap.String("frameType", string(frame.Type)), zap.Error(err))
			c.SendJSON(imtypes.NewErrorFrame(err))
		}
	}
}

// writePump pumps frames from the send channel to the websocket connection, one frame per message.
func (c *Client) writePump() {
	ticker := time.NewTicker(time.Duration(c.cfg.PingPeriodSeconds) * time.Second)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()
	for {
		select {
		case message, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(c.writeWait()))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(c.writeWait()))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
