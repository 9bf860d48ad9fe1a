package domain

// CustomerSnapshot is the customer data captured at lookup time and carried
// in the confirmation event, so the notification side never has to call back.
type CustomerSnapshot struct {
	ID        string `json:"id"`
	FirstName string `json:"firstName"`
	LastName  string `json:"lastName"`
	Email     string `json:"email"`
}

// PurchasedLine is one reserved line as priced by the product service.
type PurchasedLine struct {
	ProductID      string `json:"productId"`
	Name           string `json:"name"`
	UnitPriceCents int64  `json:"unitPriceCents"`
	Quantity       int    `json:"quantity"`
}

// OrderConfirmation is published once per confirmed order. Delivery is
// at-least-once; consumers dedup by Reference.
type OrderConfirmation struct {
	Reference     string           `json:"reference"`
	AmountCents   int64            `json:"amountCents"`
	PaymentMethod PaymentMethod    `json:"paymentMethod"`
	Customer      CustomerSnapshot `json:"customer"`
	Lines         []PurchasedLine  `json:"lines"`
}

// Reservation is the stock hold obtained for an order reference. ID is the
// opaque handle required to release the hold.
type Reservation struct {
	ID    string
	Lines []PurchasedLine
}

type PaymentStatus string

const (
	PaymentAccepted    PaymentStatus = "ACCEPTED"
	PaymentRejected    PaymentStatus = "REJECTED"
	PaymentPending     PaymentStatus = "PENDING"
	PaymentUnreachable PaymentStatus = "UNREACHABLE"
)

type PaymentOutcome struct {
	Status      PaymentStatus
	ProviderRef string
	Reason      string
}
