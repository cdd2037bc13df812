package warm

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/segmentio/kafka-go"

	"github.com/aliskhannn/image-gateway/internal/model"
	imagesvc "github.com/aliskhannn/image-gateway/internal/service/image"
)

// service defines the interface for building representations ahead of traffic.
type service interface {
	Warm(ctx context.Context, req model.WarmRequest) (imagesvc.Result, error)
}

// Handler handles Kafka messages carrying warm requests.
type Handler struct {
	service service
}

// NewHandler creates a new handler with the given service.
func NewHandler(s service) *Handler {
	return &Handler{service: s}
}

// Handle unmarshals a warm request and builds its representation.
func (h *Handler) Handle(ctx context.Context, msg kafka.Message) error {
	var req model.WarmRequest
	if err := json.Unmarshal(msg.Value, &req); err != nil {
		return fmt.Errorf("unmarshal warm request: %w", err)
	}

	if _, err := h.service.Warm(ctx, req); err != nil {
		return fmt.Errorf("warm %s/%s: %w", req.Bucket, req.Key, err)
	}

	return nil
}
