package websocket

import (
	"net/http"
	"time"

	gorillawebsocket "github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"

	"github.com/abdobody2040/medilablis2/internal/platform/auth"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = pongWait * 9 / 10
)

var upgrader = gorillawebsocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// Handler upgrades HTTP requests to websocket connections bound to a Hub.
type Handler struct {
	hub    *Hub
	tokens *auth.TokenManager
	// requireAuth demands a valid token via Authorization header or the
	// "token" query parameter, since browsers cannot set headers on upgrade.
	requireAuth bool
}

func NewHandler(hub *Hub, tokens *auth.TokenManager, requireAuth bool) *Handler {
	return &Handler{hub: hub, tokens: tokens, requireAuth: requireAuth}
}

func (h *Handler) RegisterRoutes(e *echo.Echo) {
	e.GET("/ws", h.HandleConnect)
}

func (h *Handler) authenticate(c echo.Context) error {
	if !h.requireAuth {
		return nil
	}
	token, ok := auth.BearerToken(c.Request().Header.Get("Authorization"))
	if !ok {
		token = c.QueryParam("token")
	}
	if token == "" {
		return echo.NewHTTPError(http.StatusUnauthorized, "missing token")
	}
	if _, err := h.tokens.Verify(token); err != nil {
		return echo.NewHTTPError(http.StatusUnauthorized, "invalid token")
	}
	return nil
}

// HandleConnect upgrades the connection, subscribes it and starts the
// read and write pumps. The client is unsubscribed when either pump ends.
func (h *Handler) HandleConnect(c echo.Context) error {
	if err := h.authenticate(c); err != nil {
		return err
	}

	ws, err := upgrader.Upgrade(c.Response(), c.Request(), nil)
	if err != nil {
		return err
	}

	client := h.hub.Subscribe()
	go h.writePump(client, ws)
	go h.readPump(client, ws)
	return nil
}

// readPump drains inbound frames. Clients have nothing to say, but reading
// is how close frames and dead peers are noticed.
func (h *Handler) readPump(client *Client, ws *gorillawebsocket.Conn) {
	defer func() {
		h.hub.Unsubscribe(client)
		ws.Close()
	}()

	ws.SetReadLimit(512)
	_ = ws.SetReadDeadline(time.Now().Add(pongWait))
	ws.SetPongHandler(func(string) error {
		return ws.SetReadDeadline(time.Now().Add(pongWait))
	})
	for {
		if _, _, err := ws.ReadMessage(); err != nil {
			return
		}
	}
}

func (h *Handler) writePump(client *Client, ws *gorillawebsocket.Conn) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		h.hub.Unsubscribe(client)
		ws.Close()
	}()

	for {
		select {
		case msg, ok := <-client.Send:
			_ = ws.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = ws.WriteMessage(gorillawebsocket.CloseMessage, []byte{})
				return
			}
			if err := ws.WriteMessage(gorillawebsocket.TextMessage, msg); err != nil {
				return
			}
		case <-ticker.C:
			_ = ws.SetWriteDeadline(time.Now().Add(writeWait))
			if err := ws.WriteMessage(gorillawebsocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
