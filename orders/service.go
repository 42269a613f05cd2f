package orders

import (
	"context"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"github.com/verdant/ordernotify/notify"
	"github.com/verdant/ordernotify/telemetry"
)

const (
	paymentSucceeded = "succeeded"
	paymentFailed    = "failed"

	paymentMessage = "Paiement traité avec succès"
)

var (
	expMonthPattern = regexp.MustCompile(`^(0[1-9]|1[0-2])$`)
	expYearPattern  = regexp.MustCompile(`^\d{4}$`)
)

// Notifier is told about every committed order
type Notifier func(notify.Order)

// ItemRequest is one line of a payment request
type ItemRequest struct {
	PlantID   int64   `json:"plant_id"`
	Quantity  int     `json:"quantity"`
	UnitPrice float64 `json:"unit_price"`
}

// PaymentRequest is the body of a payment
type PaymentRequest struct {
	PaymentMethodID int64         `json:"payment_method_id"`
	Amount          float64       `json:"amount"`
	Items           []ItemRequest `json:"items"`
}

// PaymentMethodRequest is the body of a new payment method. CVV carries the
// last four card digits; CardNumber is accepted but never stored.
type PaymentMethodRequest struct {
	Type       string `json:"type"`
	Brand      string `json:"brand"`
	CVV        string `json:"cvv"`
	ExpMonth   string `json:"exp_month"`
	ExpYear    string `json:"exp_year"`
	Email      string `json:"email"`
	CardNumber string `json:"cardNumber"`
}

// Payment is the simulated payment outcome
type Payment struct {
	ID            string    `json:"id"`
	Amount        float64   `json:"amount"`
	Status        string    `json:"status"`
	PaymentMethod string    `json:"payment_method"`
	CreatedAt     time.Time `json:"created_at"`
}

// PaymentResult is returned by ProcessPayment
type PaymentResult struct {
	Payment Payment `json:"payment"`
	Order   Order   `json:"order"`
	Message string  `json:"message"`
}

// Service runs the payment flow on top of a Store
type Service struct {
	store    *Store
	notifier Notifier
	now      func() time.Time
}

// NewService creates a service. notifier may be nil when orders are announced
// through the change feed instead.
func NewService(store *Store, notifier Notifier) *Service {
	return &Service{
		store:    store,
		notifier: notifier,
		now:      time.Now,
	}
}

// Store returns the underlying store
func (s *Service) Store() *Store {
	return s.store
}

// ProcessPayment simulates a payment with one of the user's methods and
// records the resulting order
func (s *Service) ProcessPayment(ctx context.Context, userID string, req PaymentRequest) (PaymentResult, error) {
	if strings.TrimSpace(userID) == "" {
		return PaymentResult{}, ErrForbidden
	}
	if err := validatePayment(req); err != nil {
		telemetry.PaymentsTotal.With(paymentFailed).Inc()
		return PaymentResult{}, err
	}

	method, err := s.store.GetPaymentMethod(ctx, userID, req.PaymentMethodID)
	if err != nil {
		telemetry.PaymentsTotal.With(paymentFailed).Inc()
		return PaymentResult{}, err
	}

	payment := Payment{
		ID:            "pay_" + uuid.NewString(),
		Amount:        req.Amount,
		Status:        paymentSucceeded,
		PaymentMethod: method.Type,
		CreatedAt:     s.now().UTC(),
	}

	items := make([]OrderItem, 0, len(req.Items))
	for _, item := range req.Items {
		items = append(items, OrderItem{
			PlantID:            item.PlantID,
			Quantity:           item.Quantity,
			PriceAtTimeOfOrder: item.UnitPrice,
		})
	}

	order, err := s.store.CreateOrder(ctx, NewOrder{
		UserID:     userID,
		Amount:     req.Amount,
		Status:     StatusInProcessing,
		PaymentRef: payment.ID,
		Items:      items,
	})
	if err != nil {
		telemetry.PaymentsTotal.With(paymentFailed).Inc()
		return PaymentResult{}, err
	}

	telemetry.PaymentsTotal.With(paymentSucceeded).Inc()
	telemetry.OrdersCreatedTotal.Inc()
	log.Info().
		Int64("order_id", order.ID).
		Str("user_id", userID).
		Float64("amount", order.Amount).
		Str("payment_id", payment.ID).
		Msg("Order created")

	if s.notifier != nil {
		s.notifier(notify.Order{
			ID:        order.ID,
			Amount:    order.Amount,
			CreatedAt: order.CreatedAt,
		})
	}

	return PaymentResult{
		Payment: payment,
		Order:   order,
		Message: paymentMessage,
	}, nil
}

func validatePayment(req PaymentRequest) error {
	if req.PaymentMethodID <= 0 {
		return invalid("Méthode de paiement requise")
	}
	if req.Amount <= 0 {
		return invalid("Montant invalide")
	}
	if len(req.Items) == 0 {
		return invalid("Aucun article dans la commande")
	}
	for _, item := range req.Items {
		if item.Quantity <= 0 {
			return invalid("Quantité invalide")
		}
		if item.UnitPrice < 0 {
			return invalid("Prix invalide")
		}
	}
	return nil
}

// AddPaymentMethod validates and saves a payment method for the user
func (s *Service) AddPaymentMethod(ctx context.Context, userID string, req PaymentMethodRequest) (PaymentMethod, error) {
	if strings.TrimSpace(userID) == "" {
		return PaymentMethod{}, ErrForbidden
	}
	if err := validatePaymentMethod(req, s.now()); err != nil {
		return PaymentMethod{}, err
	}

	pm := PaymentMethod{
		UserID: userID,
		Type:   req.Type,
	}
	switch req.Type {
	case MethodCard:
		pm.Brand = req.Brand
		pm.Last4 = lastFour(req.CVV)
		pm.ExpMonth = req.ExpMonth
		pm.ExpYear = req.ExpYear
	case MethodPaypal:
		pm.Email = req.Email
	}

	saved, err := s.store.AddPaymentMethod(ctx, pm)
	if err != nil {
		return PaymentMethod{}, err
	}

	log.Debug().
		Int64("payment_method_id", saved.ID).
		Str("user_id", userID).
		Str("type", saved.Type).
		Bool("default", saved.IsDefault).
		Msg("Payment method added")
	return saved, nil
}

func validatePaymentMethod(req PaymentMethodRequest, now time.Time) error {
	switch req.Type {
	case MethodCard:
		if req.Brand != BrandVisa && req.Brand != BrandMastercard {
			return invalid("Marque de carte invalide")
		}
		if strings.TrimSpace(req.CVV) == "" {
			return invalid("Derniers 4 chiffres invalides")
		}
		if !expMonthPattern.MatchString(req.ExpMonth) {
			return invalid("Mois d'expiration invalide")
		}
		if !expYearPattern.MatchString(req.ExpYear) {
			return invalid("Année d'expiration invalide")
		}
		year, _ := strconv.Atoi(req.ExpYear)
		if year < now.Year() {
			return invalid("Année d'expiration invalide")
		}
	case MethodPaypal:
		if strings.TrimSpace(req.Email) == "" {
			return invalid("Email PayPal requis")
		}
	default:
		return invalid("Type de paiement invalide")
	}
	return nil
}

func lastFour(s string) string {
	s = strings.TrimSpace(s)
	if len(s) <= 4 {
		return s
	}
	return s[len(s)-4:]
}

// ListPaymentMethods returns the user's payment methods, default first
func (s *Service) ListPaymentMethods(ctx context.Context, userID string) ([]PaymentMethod, error) {
	if strings.TrimSpace(userID) == "" {
		return nil, ErrForbidden
	}
	return s.store.ListPaymentMethods(ctx, userID)
}

// DeletePaymentMethod removes one of the user's payment methods
func (s *Service) DeletePaymentMethod(ctx context.Context, userID string, id int64) error {
	if strings.TrimSpace(userID) == "" {
		return ErrForbidden
	}
	return s.store.DeletePaymentMethod(ctx, userID, id)
}

// SetDefaultPaymentMethod makes id the user's default payment method
func (s *Service) SetDefaultPaymentMethod(ctx context.Context, userID string, id int64) (PaymentMethod, error) {
	if strings.TrimSpace(userID) == "" {
		return PaymentMethod{}, ErrForbidden
	}
	return s.store.SetDefaultPaymentMethod(ctx, userID, id)
}

// ListOrders returns every order with its items, newest first
func (s *Service) ListOrders(ctx context.Context) ([]Order, error) {
	return s.store.ListOrders(ctx)
}
