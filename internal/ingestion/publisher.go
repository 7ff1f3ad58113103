package ingestion

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"

	"StableVault/internal/event"
)

// Publisher publishes committed engine operations to NATS for downstream
// consumers (liquidator bots, risk dashboards). Subjects follow the pattern
// vault.engine.events.{event_type}. Publishing is best-effort: the operation
// log in Postgres is the durable record.
type Publisher struct {
	js        jetstream.JetStream
	inputChan <-chan event.Envelope
}

// wireEvent is the outbound JSON shape. Fixed-point amounts travel as
// decimal strings so consumers are not forced into big-integer JSON numbers.
type wireEvent struct {
	OperationID  string    `json:"operation_id"`
	EventType    string    `json:"event_type"`
	Account      string    `json:"account"`
	Counterparty *string   `json:"counterparty,omitempty"`
	Asset        string    `json:"asset,omitempty"`
	Amount       string    `json:"amount"`
	DebtCovered  *string   `json:"debt_covered,omitempty"`
	HealthFactor *string   `json:"health_factor,omitempty"`
	Timestamp    time.Time `json:"timestamp"`
}

func NewPublisher(js jetstream.JetStream, inputChan <-chan event.Envelope) *Publisher {
	return &Publisher{
		js:        js,
		inputChan: inputChan,
	}
}

// Run starts the publisher loop. Blocks until ctx is cancelled or the input
// channel is closed.
func (p *Publisher) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case env, ok := <-p.inputChan:
			if !ok {
				return nil
			}

			if err := p.publish(ctx, env); err != nil {
				log.Printf("WARN: outbound publish failed op=%s: %v", env.OperationID, err)
				// Non-fatal: consumers can query the operation log directly
			}
		}
	}
}

func (p *Publisher) publish(ctx context.Context, env event.Envelope) error {
	we := wireEvent{
		OperationID: env.OperationID.String(),
		EventType:   env.Type.String(),
		Account:     env.Account.String(),
		Asset:       env.Asset,
		Amount:      env.Amount.String(),
		Timestamp:   env.Timestamp,
	}
	if env.Counterparty != nil {
		s := env.Counterparty.String()
		we.Counterparty = &s
	}
	if env.DebtCovered != nil {
		s := env.DebtCovered.String()
		we.DebtCovered = &s
	}
	if env.HealthFactor != nil {
		s := env.HealthFactor.String()
		we.HealthFactor = &s
	}

	data, err := json.Marshal(we)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}

	subject := fmt.Sprintf("vault.engine.events.%s", we.EventType)

	// The operation ID doubles as the message ID so JetStream deduplicates
	// republished events.
	_, err = p.js.PublishMsg(ctx, &nats.Msg{Subject: subject, Data: data},
		jetstream.WithMsgID(env.IdempotencyKey()))
	return err
}

// EnsureEngineEventStream creates the outbound events stream.
func EnsureEngineEventStream(ctx context.Context, js jetstream.JetStream) error {
	_, err := js.CreateOrUpdateStream(ctx, jetstream.StreamConfig{
		Name:      "VAULT_ENGINE_EVENTS",
		Subjects:  []string{"vault.engine.events.>"},
		Storage:   jetstream.FileStorage,
		Retention: jetstream.LimitsPolicy,
		MaxAge:    72 * time.Hour,
		Replicas:  1,
	})
	if err != nil {
		return fmt.Errorf("create engine event stream: %w", err)
	}
	log.Println("INFO: ensured outbound stream VAULT_ENGINE_EVENTS")
	return nil
}
