package http

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"irisapi/ml"
)

const (
	streamIdleTimeout  = 2 * time.Minute
	streamWriteTimeout = 10 * time.Second
	streamMessageLimit = 4096
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// streamRequest uses pointers so absent fields can be told apart from 0.
type streamRequest struct {
	SepalLength *float64 `json:"sepal_length"`
	SepalWidth  *float64 `json:"sepal_width"`
	PetalLength *float64 `json:"petal_length"`
	PetalWidth  *float64 `json:"petal_width"`
}

func (req streamRequest) measurements() (ml.Measurements, error) {
	if req.SepalLength == nil || req.SepalWidth == nil || req.PetalLength == nil || req.PetalWidth == nil {
		return ml.Measurements{}, errors.New("missing required fields")
	}
	return ml.Measurements{
		SepalLength: *req.SepalLength,
		SepalWidth:  *req.SepalWidth,
		PetalLength: *req.PetalLength,
		PetalWidth:  *req.PetalWidth,
	}, nil
}

// handlePredictStream answers one JSON prediction per JSON message until
// the client closes the socket.
func (h *Handlers) handlePredictStream(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("websocket upgrade failed", zap.Error(err))
		return
	}
	defer conn.Close()
	conn.SetReadLimit(streamMessageLimit)

	ctx := r.Context()
	for {
		_ = conn.SetReadDeadline(time.Now().Add(streamIdleTimeout))
		_, message, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				h.logger.Debug("websocket closed", zap.Error(err))
			}
			return
		}

		var reply interface{}
		var req streamRequest
		if err := json.Unmarshal(message, &req); err != nil {
			reply = map[string]string{"error": "invalid JSON"}
		} else if m, err := req.measurements(); err != nil {
			reply = map[string]string{"error": err.Error()}
		} else if prediction, _, err := h.predict(ctx, m); err != nil {
			reply = map[string]string{"error": err.Error()}
		} else {
			reply = prediction
		}

		_ = conn.SetWriteDeadline(time.Now().Add(streamWriteTimeout))
		if err := conn.WriteJSON(reply); err != nil {
			h.logger.Debug("websocket write failed", zap.Error(err))
			return
		}
	}
}
