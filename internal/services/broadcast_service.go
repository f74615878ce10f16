package services

import (
	"encoding/json"
	"fmt"
	"log"

	"github.com/juan-silveira/clube-navi-sub004/internal/models"

	"github.com/nats-io/nats.go"
)

// Broadcaster publishes state changes to interested listeners. Fire and
// forget: a broadcast failure never fails the operation that produced it.
type Broadcaster interface {
	BookUpdated(contract string)
	OrderUpdated(order *models.Order)
	TradeExecuted(trade *models.Trade)
}

// BroadcastService publishes to NATS core subjects and mirrors the same
// payloads to the WebSocket hub. Either transport may be nil.
type BroadcastService struct {
	conn *nats.Conn
	hub  *WebSocketHub
}

// NewBroadcastService creates a broadcaster over the given transports
func NewBroadcastService(conn *nats.Conn, hub *WebSocketHub) *BroadcastService {
	return &BroadcastService{conn: conn, hub: hub}
}

// BookUpdated signals that a contract's book changed shape
func (b *BroadcastService) BookUpdated(contract string) {
	b.publish(fmt.Sprintf("exchange.book.%s", contract), map[string]string{
		"contract_address": contract,
	})
}

// OrderUpdated pushes the order's new state to its owner's channel
func (b *BroadcastService) OrderUpdated(order *models.Order) {
	b.publish(fmt.Sprintf("exchange.orders.%s", order.OwnerAddress), order)
}

// TradeExecuted pushes a new trade to the contract's trade feed
func (b *BroadcastService) TradeExecuted(trade *models.Trade) {
	b.publish(fmt.Sprintf("exchange.trades.%s", trade.ContractAddress), trade)
}

func (b *BroadcastService) publish(subject string, payload interface{}) {
	if b.conn != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			log.Printf("⚠️ [Broadcast] Failed to marshal payload for %s: %v", subject, err)
		} else if err := b.conn.Publish(subject, data); err != nil {
			log.Printf("⚠️ [Broadcast] Failed to publish %s: %v", subject, err)
		}
	}
	if b.hub != nil {
		b.hub.Publish(subject, payload)
	}
}
