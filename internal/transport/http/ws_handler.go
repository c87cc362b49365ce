package http

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"

	"quiz-delivery-service/internal/app"
	"quiz-delivery-service/internal/delivery"
	"quiz-delivery-service/internal/domain"
	"quiz-delivery-service/internal/logging"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = (pongWait * 9) / 10
)

type WSHandler struct {
	service  *app.QuizService
	upgrader websocket.Upgrader
}

func NewWSHandler(service *app.QuizService) *WSHandler {
	return &WSHandler{
		service: service,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
	}
}

type inboundMessage struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

type selectPayload struct {
	AnswerID int64 `json:"answerId"`
}

type nextPayload struct {
	Confirm bool `json:"confirm"`
}

type outboundMessage struct {
	Type    string `json:"type"`
	Payload any    `json:"payload"`
}

type errorPayload struct {
	Message string `json:"message"`
	Kind    string `json:"kind"`
}

type attemptURI struct {
	ResultID int64 `uri:"resultId" binding:"required,gt=0"`
}

type attemptQuery struct {
	UserID int64 `form:"userId" binding:"required,gt=0"`
}

// ServeWS delivers one attempt over a websocket. The attempt is claimed before
// the upgrade; claim failures are answered as plain HTTP errors.
func (h *WSHandler) ServeWS(c *gin.Context) {
	var uri attemptURI
	if err := c.ShouldBindUri(&uri); err != nil {
		_ = c.Error(bindError(err))
		return
	}
	var q attemptQuery
	if err := c.ShouldBindQuery(&q); err != nil {
		_ = c.Error(bindError(err))
		return
	}

	ctx := logging.With(c.Request.Context(), logrus.Fields{"resultId": uri.ResultID, "userId": q.UserID})
	owner := uuid.NewString()

	live, err := h.service.Attach(ctx, uri.ResultID, q.UserID, owner)
	if err != nil {
		_ = c.Error(err)
		return
	}
	defer h.service.Detach(context.WithoutCancel(ctx), live, owner)

	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		logging.WithContext(ctx).WithError(err).Warn("ws: upgrade failed")
		return
	}
	defer conn.Close()

	updates, cancel := live.Subscribe()
	defer cancel()

	send := make(chan outboundMessage, 16)
	closeSignals := make(chan struct{})
	writerDone := make(chan struct{})
	updatesDone := make(chan struct{})

	go func() {
		defer close(writerDone)
		ticker := time.NewTicker(pingPeriod)
		defer ticker.Stop()
		for {
			select {
			case msg, ok := <-send:
				if !ok {
					_ = conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(writeWait))
					return
				}
				_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
				if err := conn.WriteJSON(msg); err != nil {
					logging.WithContext(ctx).WithError(err).Debug("ws: write failed")
					return
				}
			case <-ticker.C:
				if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
					return
				}
			}
		}
	}()

	go func() {
		defer close(updatesDone)
		for {
			select {
			case view, ok := <-updates:
				if !ok {
					return
				}
				select {
				case send <- outboundMessage{Type: "state", Payload: view}:
				case <-closeSignals:
					return
				}
			case <-closeSignals:
				return
			}
		}
	}()

	_ = conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		var inbound inboundMessage
		if err := conn.ReadJSON(&inbound); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				logging.WithContext(ctx).WithError(err).Info("ws: connection dropped")
			}
			break
		}
		_ = conn.SetReadDeadline(time.Now().Add(pongWait))

		if reply, ok := h.dispatch(ctx, live, inbound); ok {
			select {
			case send <- reply:
			case <-writerDone:
			}
		}
	}

	close(closeSignals)
	<-updatesDone
	close(send)
	<-writerDone
}

// dispatch applies one client command. Successful commands answer through
// the session subscription; only failures produce a direct reply.
func (h *WSHandler) dispatch(ctx context.Context, live *app.LiveSession, in inboundMessage) (outboundMessage, bool) {
	var err error
	switch in.Type {
	case "start":
		_, err = live.Start(ctx)
	case "select":
		var p selectPayload
		if err := json.Unmarshal(in.Payload, &p); err != nil || p.AnswerID <= 0 {
			return errorMessage(domain.Validationf("invalid select payload")), true
		}
		_, err = live.Select(ctx, p.AnswerID)
	case "next":
		var p nextPayload
		if len(in.Payload) > 0 {
			if err := json.Unmarshal(in.Payload, &p); err != nil {
				return errorMessage(domain.Validationf("invalid next payload")), true
			}
		}
		_, err = live.Advance(ctx, p.Confirm)
	case "submit":
		_, err = live.Submit(ctx)
	case "exit":
		_, err = live.Exit(ctx)
	default:
		return errorMessage(domain.Validationf("unsupported message type %q", in.Type)), true
	}

	if err == nil {
		return outboundMessage{}, false
	}
	if errors.Is(err, delivery.ErrConfirmationRequired) {
		return outboundMessage{Type: "confirm", Payload: errorPayload{Message: messageOf(err), Kind: domain.KindOf(err).String()}}, true
	}
	return errorMessage(err), true
}

func errorMessage(err error) outboundMessage {
	msg := messageOf(err)
	if statusOf(err) >= http.StatusInternalServerError {
		msg = "An unexpected error occurred."
	}
	return outboundMessage{Type: "error", Payload: errorPayload{Message: msg, Kind: domain.KindOf(err).String()}}
}
