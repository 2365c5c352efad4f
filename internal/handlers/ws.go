package handlers

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
	"parkbeat-backend/internal/models"
	"parkbeat-backend/internal/notify"
	"parkbeat-backend/internal/services"
)

const TypeSubscribe = "subscribe"

// inbound is a client frame. Payload shape depends on Type.
type inbound struct {
	Type      string          `json:"type"`
	RequestID string          `json:"request_id,omitempty"`
	Payload   json.RawMessage `json:"payload"`
}

type subscribePayload struct {
	ProjectID string `json:"project_id"`
	Subscribe *bool  `json:"subscribe,omitempty"`
}

type projectPayload struct {
	ProjectID     string   `json:"project_id"`
	SuggestionID  string   `json:"suggestion_id,omitempty"`
	SuggestionIDs []string `json:"suggestion_ids,omitempty"`
}

type WSHandler struct {
	pipeline Pipeline
	hub      *notify.Hub
	upgrader websocket.Upgrader
	limit    rate.Limit
	burst    int
	logger   *zap.Logger
}

// NewWSHandler allows each connection perSecond commands with bursts of burst.
func NewWSHandler(pipeline Pipeline, hub *notify.Hub, perSecond float64, burst int, logger *zap.Logger) *WSHandler {
	if burst < 1 {
		burst = 1
	}
	return &WSHandler{
		pipeline: pipeline,
		hub:      hub,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
		limit:  rate.Limit(perSecond),
		burst:  burst,
		logger: logger.Named("ws"),
	}
}

// Handle godoc
// @Summary     Realtime project channel
// @Description Upgrades to a websocket. Clients subscribe to project rooms and send pipeline commands.
// @Description Browsers pass the JWT as the access_token query parameter.
// @Tags        realtime
// @Security    Bearer
// @Router      /ws [get]
func (h *WSHandler) Handle(c *gin.Context) {
	actor, ok := actorID(c)
	if !ok {
		return
	}

	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.logger.Debug("websocket upgrade failed", zap.Error(err))
		return
	}

	socket := notify.NewSocket(conn, actor, h.logger)
	limiter := rate.NewLimiter(h.limit, h.burst)

	go socket.WritePump()
	socket.ReadPump(func(frame []byte) {
		h.dispatch(socket, limiter, frame)
	})

	// Leaving rooms does not cancel commands already running for this socket.
	h.hub.LeaveAll(socket)
}

func (h *WSHandler) dispatch(socket *notify.Socket, limiter *rate.Limiter, frame []byte) {
	var msg inbound
	if err := json.Unmarshal(frame, &msg); err != nil {
		notify.Send(socket, notify.ErrorEvent("", "invalid message: "+err.Error()))
		return
	}
	if !limiter.Allow() {
		notify.Send(socket, notify.ErrorEvent(msg.RequestID, "rate limit exceeded"))
		return
	}

	switch msg.Type {
	case TypeSubscribe:
		h.subscribe(socket, msg)
	case services.CommandValidateImage:
		var req models.ValidateImageRequest
		if err := json.Unmarshal(msg.Payload, &req); err != nil || req.ImageURL == "" {
			notify.Send(socket, notify.ErrorEvent(msg.RequestID, "validate_image requires image_url"))
			return
		}
		if req.RequestID == "" {
			req.RequestID = msg.RequestID
		}
		go h.validate(socket, req)
	case services.CommandGenerateImages, services.CommandReimagine, services.CommandRegenerate:
		var p projectPayload
		if err := json.Unmarshal(msg.Payload, &p); err != nil {
			notify.Send(socket, notify.ErrorEvent(msg.RequestID, "invalid payload"))
			return
		}
		go h.command(socket, msg.Type, msg.RequestID, p)
	default:
		notify.Send(socket, notify.ErrorEvent(msg.RequestID, "unknown message type "+msg.Type))
	}
}

func (h *WSHandler) subscribe(socket *notify.Socket, msg inbound) {
	var p subscribePayload
	if err := json.Unmarshal(msg.Payload, &p); err != nil {
		notify.Send(socket, notify.ErrorEvent(msg.RequestID, "invalid payload"))
		return
	}
	projectID, err := uuid.Parse(p.ProjectID)
	if err != nil {
		notify.Send(socket, notify.ErrorEvent(msg.RequestID, "invalid project_id"))
		return
	}

	if p.Subscribe == nil || *p.Subscribe {
		if !h.hub.Join(notify.Room(projectID), socket) {
			return
		}
		notify.Send(socket, notify.CommandAck(msg.RequestID, TypeSubscribe, "subscribed"))
		return
	}
	h.hub.Leave(notify.Room(projectID), socket)
	notify.Send(socket, notify.CommandAck(msg.RequestID, TypeSubscribe, "unsubscribed"))
}

func (h *WSHandler) validate(socket *notify.Socket, req models.ValidateImageRequest) {
	resp, err := h.pipeline.SubmitValidateImage(context.Background(), socket.ActorID, req)
	if err != nil {
		notify.Send(socket, notify.ErrorEvent(req.RequestID, err.Error()))
		return
	}

	// Follow the project the photo landed in so generation progress reaches this
	// socket. A socket that disconnected during validation is not re-added.
	if resp.IsValid {
		if projectID, err := uuid.Parse(resp.ProjectID); err == nil && !h.hub.Join(notify.Room(projectID), socket) {
			return
		}
	}
	notify.Send(socket, notify.ValidationResult(req.RequestID, resp))
}

func (h *WSHandler) command(socket *notify.Socket, kind, requestID string, p projectPayload) {
	ctx := context.Background()

	projectID, err := uuid.Parse(p.ProjectID)
	if err != nil {
		notify.Send(socket, notify.ErrorEvent(requestID, "invalid project_id"))
		return
	}

	var status string
	switch kind {
	case services.CommandGenerateImages:
		ids, perr := services.ParseSuggestionIDs(p.SuggestionIDs)
		if perr != nil {
			notify.Send(socket, notify.ErrorEvent(requestID, perr.Error()))
			return
		}
		status, err = h.pipeline.SubmitGenerateImages(ctx, socket.ActorID, projectID, ids)
	case services.CommandReimagine:
		suggestionID, perr := uuid.Parse(p.SuggestionID)
		if perr != nil {
			notify.Send(socket, notify.ErrorEvent(requestID, "invalid suggestion_id"))
			return
		}
		status, err = h.pipeline.SubmitReimagine(ctx, socket.ActorID, projectID, suggestionID)
	case services.CommandRegenerate:
		status, err = h.pipeline.SubmitRegenerate(ctx, socket.ActorID, projectID)
	}

	if err != nil {
		h.logger.Debug("websocket command rejected", zap.String("command", kind), zap.Error(err))
		notify.Send(socket, notify.ErrorEvent(requestID, err.Error()))
		return
	}
	notify.Send(socket, notify.CommandAck(requestID, kind, status))
}
