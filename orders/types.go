// Package orders stores payment methods and orders for the shop and runs the
// simulated payment flow that creates orders.
package orders

import (
	"errors"
	"time"
)

// Order statuses
const (
	StatusInProcessing = "In processing"
)

// Payment method types and card brands
const (
	MethodCard   = "card"
	MethodPaypal = "paypal"

	BrandVisa       = "visa"
	BrandMastercard = "mastercard"
)

var (
	// ErrForbidden is returned when the caller does not identify a user
	ErrForbidden = errors.New("Non autorisé")

	// ErrPaymentMethodNotFound is returned when a payment method does not exist for the user
	ErrPaymentMethodNotFound = errors.New("Méthode de paiement introuvable")

	// ErrInvalidRequest matches every request validation error
	ErrInvalidRequest = errors.New("invalid request")

	// ErrDefaultMethodInUse is returned when deleting the default method while others remain
	ErrDefaultMethodInUse = invalid("Impossible de supprimer la méthode par défaut")
)

// requestError is a validation failure with a message meant for the client
type requestError struct {
	msg string
}

func (e *requestError) Error() string {
	return e.msg
}

func (e *requestError) Is(target error) bool {
	return target == ErrInvalidRequest
}

func invalid(msg string) error {
	return &requestError{msg: msg}
}

// PaymentMethod is a saved card or PayPal account
type PaymentMethod struct {
	ID        int64     `db:"id" json:"id"`
	UserID    string    `db:"user_id" json:"user_id"`
	Type      string    `db:"type" json:"type"`
	Brand     string    `db:"brand" json:"brand,omitempty"`
	Last4     string    `db:"last4" json:"last4,omitempty"`
	ExpMonth  string    `db:"exp_month" json:"exp_month,omitempty"`
	ExpYear   string    `db:"exp_year" json:"exp_year,omitempty"`
	Email     string    `db:"email" json:"email,omitempty"`
	IsDefault bool      `db:"is_default" json:"is_default"`
	CreatedAt time.Time `db:"created_at" json:"created_at"`
}

// Order is a committed order with its items
type Order struct {
	ID         int64       `db:"id" json:"id"`
	UserID     string      `db:"user_id" json:"user_id"`
	Amount     float64     `db:"amount" json:"amount"`
	Status     string      `db:"status" json:"status"`
	PaymentRef string      `db:"payment_ref" json:"payment_ref"`
	CreatedAt  time.Time   `db:"created_at" json:"created_at"`
	Items      []OrderItem `db:"-" json:"items"`
}

// OrderItem is one line of an order
type OrderItem struct {
	ID                 int64   `db:"id" json:"id"`
	OrderID            int64   `db:"order_id" json:"order_id"`
	PlantID            int64   `db:"plant_id" json:"plant_id"`
	Quantity           int     `db:"quantity" json:"quantity"`
	PriceAtTimeOfOrder float64 `db:"price_at_time_of_order" json:"price_at_time_of_order"`
}

// NewOrder is what CreateOrder inserts
type NewOrder struct {
	UserID     string
	Amount     float64
	Status     string
	PaymentRef string
	Items      []OrderItem
}
