package models

import (
	"database/sql/driver"
	"errors"
	"strings"
	"time"
)

// Webhook platforms
const (
	PlatformVega       = "vega"
	PlatformGGCheckout = "ggcheckout"
	PlatformAmploPay   = "amplopay"
	PlatformUnknown    = "unknown"
)

// Webhook log statuses
const (
	WebhookStatusReceived = "received"
	WebhookStatusPending  = "pending"
	WebhookStatusSuccess  = "success"
	WebhookStatusFailed   = "failed"
	WebhookStatusError    = "error"
)

// Subscription / pending plan statuses
const (
	SubscriptionActive  = "active"
	SubscriptionExpired = "expired"

	PendingPlanPending   = "pending"
	PendingPlanActivated = "activated"
	PendingPlanExpired   = "expired"
)

type User struct {
	ID           uint       `json:"id" gorm:"primaryKey"`
	Email        string     `json:"email" gorm:"uniqueIndex"`
	Password     string     `json:"-"`
	Name         string     `json:"name"`
	Role         string     `json:"role" gorm:"default:'user'"`
	Active       bool       `json:"active" gorm:"default:true"`
	ActivePlanID *uint      `json:"active_plan_id" gorm:"index"`
	ActivePlan   *Plan      `json:"active_plan,omitempty" gorm:"foreignKey:ActivePlanID"`
	// PlanoAtivo mirrors ActivePlanID for clients that still read the legacy
	// numeric plan level. Kept in sync by the reconciler and activation flow.
	PlanoAtivo          int        `json:"plano_ativo" gorm:"default:0"`
	FailedLoginAttempts int        `json:"-" gorm:"default:0"`
	LockedUntil         *time.Time `json:"-"`
	LastFailedLogin     *time.Time `json:"-"`
	CreatedAt           time.Time  `json:"created_at"`
	UpdatedAt           time.Time  `json:"updated_at"`
}

// Plan is the internal plan catalog. The Vega/GGCheckout/AmploPay code columns
// hold the external product identifiers each gateway sends in its payloads.
type Plan struct {
	ID          uint   `json:"id" gorm:"primaryKey"`
	Name        string `json:"name" gorm:"uniqueIndex"`
	DisplayName string `json:"display_name"`
	Description string `json:"description"`
	// DurationDays is nil for lifetime plans.
	DurationDays   *int      `json:"duration_days"`
	Price          float64   `json:"price"`
	VegaCode       string    `json:"vega_code" gorm:"index"`
	GGCheckoutCode string    `json:"ggcheckout_code" gorm:"column:ggcheckout_code;index"`
	AmploPayCode   string    `json:"amplopay_code" gorm:"column:amplopay_code;index"`
	Active         bool      `json:"active" gorm:"default:true"`
	CreatedAt      time.Time `json:"created_at"`
	UpdatedAt      time.Time `json:"updated_at"`
}

// WebhookLog is the append-only audit record of every inbound webhook.
// Rows are created before any entitlement mutation and only ever advance
// status/notes/processed_at afterwards.
type WebhookLog struct {
	ID uint `json:"id" gorm:"primaryKey"`
	// ExternalID is the stable reference shared with support and gateways.
	ExternalID    string      `json:"external_id" gorm:"uniqueIndex;size:36"`
	Platform      string      `json:"platform" gorm:"index;default:'unknown'"`
	EventType     string      `json:"event_type"`
	Status        string      `json:"status" gorm:"index;default:'received'"`
	CustomerEmail string      `json:"customer_email" gorm:"index"`
	CustomerName  string      `json:"customer_name"`
	Amount        float64     `json:"amount"`
	PaymentMethod string      `json:"payment_method"`
	TransactionID string      `json:"transaction_id" gorm:"index"`
	ProductIDs    StringArray `json:"product_ids" gorm:"type:text[]"`
	RawPayload    JSON        `json:"raw_payload" gorm:"type:json"`
	Notes         string      `json:"notes"`
	ProcessedAt   *time.Time  `json:"processed_at"`
	CreatedAt     time.Time   `json:"created_at"`
	UpdatedAt     time.Time   `json:"updated_at"`
}

// UserSubscription grants an existing user access to a plan. PaymentID carries
// a unique index: it is the idempotency key for gateway deliveries, and the
// constraint is the backstop against concurrent duplicate inserts.
type UserSubscription struct {
	ID         uint       `json:"id" gorm:"primaryKey"`
	UserID     uint       `json:"user_id" gorm:"index"`
	User       User       `json:"-" gorm:"foreignKey:UserID"`
	PlanID     uint       `json:"plan_id"`
	Plan       Plan       `json:"plan" gorm:"foreignKey:PlanID"`
	Status     string     `json:"status" gorm:"index;default:'active'"`
	StartDate  time.Time  `json:"start_date"`
	EndDate    *time.Time `json:"end_date" gorm:"index"`
	PaymentID  string     `json:"payment_id" gorm:"uniqueIndex"`
	AmountPaid float64    `json:"amount_paid"`
	WebhookID  *uint      `json:"webhook_id"`
	CreatedAt  time.Time  `json:"created_at"`
	UpdatedAt  time.Time  `json:"updated_at"`
}

// PendingPlan holds an entitlement purchased before the buyer has an account.
// The signup flow converts it into a UserSubscription; the row stays behind
// with status "activated" so the payment keeps an idempotency anchor.
type PendingPlan struct {
	ID         uint       `json:"id" gorm:"primaryKey"`
	Email      string     `json:"email" gorm:"index"`
	PlanID     uint       `json:"plan_id"`
	Plan       Plan       `json:"plan" gorm:"foreignKey:PlanID"`
	Status     string     `json:"status" gorm:"index;default:'pending'"`
	StartDate  time.Time  `json:"start_date"`
	EndDate    *time.Time `json:"end_date" gorm:"index"`
	PaymentID  string     `json:"payment_id" gorm:"uniqueIndex"`
	AmountPaid float64    `json:"amount_paid"`
	WebhookID  *uint      `json:"webhook_id"`
	Platform   string     `json:"platform"`
	CreatedAt  time.Time  `json:"created_at"`
	UpdatedAt  time.Time  `json:"updated_at"`
}

// Notification represents a message delivered to a user (plan expiry, etc).
type Notification struct {
	ID        uint      `json:"id" gorm:"primaryKey"`
	UserID    uint      `json:"user_id" gorm:"index"`
	Type      string    `json:"type" gorm:"index"`
	Title     string    `json:"title"`
	Message   string    `json:"message"`
	Read      bool      `json:"read" gorm:"default:false"`
	Metadata  JSON      `json:"metadata,omitempty" gorm:"type:json"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// StringArray is a custom type for PostgreSQL text[] arrays
type StringArray []string

// Value implements the driver.Valuer interface for StringArray
func (sa StringArray) Value() (driver.Value, error) {
	if len(sa) == 0 {
		return nil, nil
	}
	var quoted []string
	for _, s := range sa {
		quoted = append(quoted, `"`+strings.ReplaceAll(s, `"`, `\"`)+`"`)
	}
	return "{" + strings.Join(quoted, ",") + "}", nil
}

// Scan implements the sql.Scanner interface for StringArray
func (sa *StringArray) Scan(value interface{}) error {
	if value == nil {
		*sa = StringArray{}
		return nil
	}

	switch v := value.(type) {
	case string:
		if v == "" {
			*sa = StringArray{}
			return nil
		}
		// Handle PostgreSQL array format: {item1,item2,item3}
		content := v
		if strings.HasPrefix(v, "{") && strings.HasSuffix(v, "}") {
			content = v[1 : len(v)-1]
		}
		if content == "" {
			*sa = StringArray{}
			return nil
		}
		rawEntries := strings.Split(content, ",")
		clean := make([]string, 0, len(rawEntries))
		for _, entry := range rawEntries {
			entry = strings.TrimSpace(entry)
			entry = strings.Trim(entry, `"`)
			entry = strings.ReplaceAll(entry, `\"`, `"`)
			if entry != "" {
				clean = append(clean, entry)
			}
		}
		*sa = StringArray(clean)
		return nil
	case []byte:
		return sa.Scan(string(v))
	default:
		return errors.New("cannot scan into StringArray")
	}
}

// ToSlice returns a copy of the underlying slice.
func (sa StringArray) ToSlice() []string {
	if len(sa) == 0 {
		return []string{}
	}
	out := make([]string, len(sa))
	copy(out, sa)
	return out
}

// JSON is a generic JSON field type
type JSON []byte

// Value implements the driver.Valuer interface
func (j JSON) Value() (driver.Value, error) {
	if len(j) == 0 {
		return nil, nil
	}
	return []byte(j), nil
}

// Scan implements the sql.Scanner interface
func (j *JSON) Scan(value interface{}) error {
	if value == nil {
		*j = nil
		return nil
	}

	switch v := value.(type) {
	case []byte:
		*j = JSON(v)
		return nil
	case string:
		*j = JSON(v)
		return nil
	default:
		return errors.New("cannot scan into JSON")
	}
}

// UnmarshalJSON implements the json.Unmarshaler interface
func (j *JSON) UnmarshalJSON(data []byte) error {
	*j = JSON(data)
	return nil
}

// MarshalJSON implements the json.Marshaler interface
func (j JSON) MarshalJSON() ([]byte, error) {
	if j == nil {
		return []byte("null"), nil
	}
	return []byte(j), nil
}
