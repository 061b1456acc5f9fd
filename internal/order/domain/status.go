package domain

import (
	"fmt"
	"strings"
)

// Status is the fulfillment state of an order.
type Status string

const (
	StatusPending   Status = "pending"
	StatusConfirmed Status = "confirmed"
	StatusPreparing Status = "preparing"
	StatusReady     Status = "ready"
	StatusCompleted Status = "completed"
	StatusCancelled Status = "cancelled"
)

// transitions lists every legal edge. Anything missing is rejected.
var transitions = map[Status]map[Status]struct{}{
	StatusPending:   {StatusConfirmed: {}, StatusCancelled: {}},
	StatusConfirmed: {StatusPreparing: {}, StatusCancelled: {}},
	StatusPreparing: {StatusReady: {}},
	StatusReady:     {StatusCompleted: {}},
}

func ParseStatus(value string) (Status, error) {
	status := Status(strings.ToLower(strings.TrimSpace(value)))
	switch status {
	case StatusPending, StatusConfirmed, StatusPreparing, StatusReady, StatusCompleted, StatusCancelled:
		return status, nil
	default:
		return "", ErrInvalidStatus
	}
}

func (s Status) IsTerminal() bool {
	return s == StatusCompleted || s == StatusCancelled
}

func (s Status) CanCancel() bool {
	_, ok := transitions[s][StatusCancelled]
	return ok
}

// ValidateTransition returns an error wrapping ErrInvalidTransition when the
// edge from -> to is not part of the order state machine.
func ValidateTransition(from, to Status) error {
	if _, ok := transitions[from][to]; ok {
		return nil
	}
	return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, from, to)
}

// OrderType is how the order leaves the kitchen.
type OrderType string

const (
	OrderTypeDineIn   OrderType = "dine_in"
	OrderTypeTakeaway OrderType = "takeaway"
	OrderTypeDelivery OrderType = "delivery"
)

func ParseOrderType(value string) (OrderType, error) {
	orderType := OrderType(strings.ToLower(strings.TrimSpace(value)))
	switch orderType {
	case OrderTypeDineIn, OrderTypeTakeaway, OrderTypeDelivery:
		return orderType, nil
	case "":
		return OrderTypeDineIn, nil
	default:
		return "", ErrInvalidOrderType
	}
}
