package domain

import "time"

// Order агрегирует оба измерения статуса заказа. Создаётся checkout-коллаборатором
// в состоянии pending/pending; все дальнейшие изменения статусов проходят
// только через сервисы движка.
type Order struct {
	ID            string
	CustomerID    string
	Status        OrderStatus
	PaymentStatus PaymentStatus
	PaymentMethod PaymentMethod
	Currency      string
	// AmountMinor — сумма заказа в минимальных денежных единицах;
	// движком жизненного цикла никогда не меняется.
	AmountMinor int64
	Version     int64
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// ValidateInvariants проверяет базовые инварианты заказа и возвращает список замечаний.
func (o *Order) ValidateInvariants() []error {
	var errs []error

	if o.ID == "" {
		errs = append(errs, ErrOrderIDRequired)
	}
	if o.CustomerID == "" {
		errs = append(errs, ErrCustomerRequired)
	}
	if o.Currency == "" {
		errs = append(errs, ErrCurrencyRequired)
	}
	if o.AmountMinor < 0 {
		errs = append(errs, ErrAmountNegative)
	}
	if !o.Status.Valid() {
		errs = append(errs, ErrUnknownStatus)
	}
	if !o.PaymentStatus.Valid() {
		errs = append(errs, ErrUnknownStatus)
	}
	if !o.PaymentMethod.Valid() {
		errs = append(errs, ErrUnknownStatus)
	}

	return errs
}

// StatusDimension различает две независимые подмашины статуса заказа.
type StatusDimension string

const (
	// DimensionFulfillment — статус исполнения (OrderStatus).
	DimensionFulfillment StatusDimension = "fulfillment"
	// DimensionPayment — статус оплаты (PaymentStatus).
	DimensionPayment StatusDimension = "payment"
)

// StatusChangeRecord — append-only запись аудита об одном изменении статуса.
// Записи никогда не изменяются и не удаляются.
type StatusChangeRecord struct {
	OrderID string
	// Seq — монотонный порядковый номер в рамках заказа; присваивается
	// хранилищем в момент записи и никогда не принимается от вызывающего.
	Seq       int64
	Dimension StatusDimension
	From      string
	To        string
	ActorRole Role
	ActorID   string
	Notes     string
	Occurred  time.Time
}
