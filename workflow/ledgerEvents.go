package workflow

import (
	"context"
	"encoding/json"
	"strconv"
	"time"

	"bitbucket.org/vaxsync/inventory_backend/config"
	"bitbucket.org/vaxsync/inventory_backend/models"
	"bitbucket.org/vaxsync/inventory_backend/utils"
)

// LedgerEvent is published after every successful mutating operation.
type LedgerEvent struct {
	Operation        models.LedgerOperation        `json:"operation"`
	BarangayId       int                           `json:"barangay_id,omitempty"`
	DoseDefinitionId int                           `json:"dose_definition_id,omitempty"`
	VaccineId        int                           `json:"vaccine_id,omitempty"`
	Requested        int                           `json:"requested"`
	Remaining        int                           `json:"remaining"`
	NoOp             bool                          `json:"no_op,omitempty"`
	Batches          []models.BatchChange          `json:"batches,omitempty"`
	DoseDefinitions  []models.DoseDefinitionChange `json:"dose_definitions,omitempty"`
	Vaccine          *VaccineChange                `json:"vaccine,omitempty"`
	Steps            []string                      `json:"steps,omitempty"`
	CorrelationId    string                        `json:"correlation_id,omitempty"`
	UserId           int                           `json:"user_id,omitempty"`
	UserName         string                        `json:"user_name,omitempty"`
	CallerBarangayId int                           `json:"caller_barangay_id,omitempty"`
	OccurredAt       time.Time                     `json:"occurred_at"`
}

type EventPublisher interface {
	Publish(ctx context.Context, event *LedgerEvent) error
}

// PubSubPublisher sends ledger events to one Pub/Sub topic.
type PubSubPublisher struct {
	Topic string
}

func NewPubSubPublisher(topic string) *PubSubPublisher {
	return &PubSubPublisher{Topic: topic}
}

func (p *PubSubPublisher) Publish(ctx context.Context, event *LedgerEvent) error {
	data, err := json.Marshal(event)
	if err != nil {
		return err
	}
	attrs := map[string]string{
		"operation": string(event.Operation),
	}
	if event.CorrelationId != "" {
		attrs["correlation_id"] = event.CorrelationId
	}
	if event.BarangayId > 0 {
		attrs["barangay_id"] = strconv.Itoa(event.BarangayId)
	}
	_, err = config.PublishMessage(ctx, p.Topic, data, attrs)
	return err
}

func (l *Ledger) newEvent(ctx context.Context, result *LedgerResult) *LedgerEvent {
	event := &LedgerEvent{
		Operation:        result.Operation,
		BarangayId:       result.BarangayId,
		DoseDefinitionId: result.DoseDefinitionId,
		VaccineId:        result.VaccineId,
		Requested:        result.Requested,
		Remaining:        result.Remaining,
		NoOp:             result.NoOp,
		Batches:          result.Batches,
		DoseDefinitions:  result.DoseDefinitions,
		Vaccine:          result.Vaccine,
		Steps:            result.Steps,
		OccurredAt:       l.now().UTC(),
	}
	event.CorrelationId, _ = utils.GetCorrelationIdFromContext(ctx)
	event.UserId, _ = utils.GetUserIdFromContext(ctx)
	event.UserName, _ = utils.GetUserNameFromContext(ctx)
	event.CallerBarangayId, _ = utils.GetBarangayIdFromContext(ctx)
	return event
}

// publish never fails the operation; a lost event is logged.
func (l *Ledger) publish(ctx context.Context, result *LedgerResult) {
	if l.events == nil || result == nil {
		return
	}
	event := l.newEvent(ctx, result)
	if err := l.events.Publish(ctx, event); err != nil {
		config.LogError(l.logger, "ledgerEvents.go", "publish", string(result.Operation), event, err)
	}
}
