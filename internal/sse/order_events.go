package sse

import (
	"context"
	"sync"
	"time"

	"ms-conference-ticketing/internal/models"
)

// OrderStatusUpdate is pushed to clients waiting on an order.
type OrderStatusUpdate struct {
	OrderID     string             `json:"orderId"`
	Status      models.OrderStatus `json:"status"`
	TicketCount int                `json:"ticketCount,omitempty"`
	At          time.Time          `json:"at"`
}

// OrderEventEmitter fans order status changes out to SSE clients of this
// process, keyed by order id.
type OrderEventEmitter struct {
	clients     map[string][]chan OrderStatusUpdate
	clientMutex sync.RWMutex
}

func NewOrderEventEmitter() *OrderEventEmitter {
	return &OrderEventEmitter{
		clients: make(map[string][]chan OrderStatusUpdate),
	}
}

// Subscribe registers a client for orderID. The channel is closed once ctx
// is done.
func (e *OrderEventEmitter) Subscribe(ctx context.Context, orderID string) chan OrderStatusUpdate {
	clientChan := make(chan OrderStatusUpdate, 4)

	e.clientMutex.Lock()
	e.clients[orderID] = append(e.clients[orderID], clientChan)
	e.clientMutex.Unlock()

	go func() {
		<-ctx.Done()
		e.remove(orderID, clientChan)
	}()

	return clientChan
}

// Emit broadcasts without blocking; a client with a full buffer misses the update.
func (e *OrderEventEmitter) Emit(update OrderStatusUpdate) {
	e.clientMutex.RLock()
	defer e.clientMutex.RUnlock()

	for _, clientChan := range e.clients[update.OrderID] {
		select {
		case clientChan <- update:
		default:
		}
	}
}

func (e *OrderEventEmitter) remove(orderID string, clientChan chan OrderStatusUpdate) {
	e.clientMutex.Lock()
	defer e.clientMutex.Unlock()

	clients := e.clients[orderID]
	for i, ch := range clients {
		if ch == clientChan {
			e.clients[orderID] = append(clients[:i], clients[i+1:]...)
			close(clientChan)
			break
		}
	}
	if len(e.clients[orderID]) == 0 {
		delete(e.clients, orderID)
	}
}

// ClientCount returns the number of clients waiting on orderID.
func (e *OrderEventEmitter) ClientCount(orderID string) int {
	e.clientMutex.RLock()
	defer e.clientMutex.RUnlock()
	return len(e.clients[orderID])
}
