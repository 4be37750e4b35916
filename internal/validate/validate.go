// Package validate holds the named field checks run before any mutation.
package validate

import (
	"fmt"
	"math"
	"sync"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/joao-fontenele/orderflow-fulfillment/internal/apperr"
)

const (
	UUIDStrategy     = "uuid"
	PriceStrategy    = "price"
	StockStrategy    = "stock"
	QuantityStrategy = "quantity"
	EmailStrategy    = "email"
)

var fields = validator.New(validator.WithRequiredStructEnabled())

type Strategy struct {
	Check   func(value any) bool
	Message string
}

type Registry struct {
	mu         sync.RWMutex
	strategies map[string]Strategy
}

// NewRegistry returns a registry preloaded with the built-in strategies.
func NewRegistry() *Registry {
	r := &Registry{strategies: make(map[string]Strategy)}
	r.Register(UUIDStrategy, Strategy{Check: isUUID, Message: "Invalid UUID format"})
	r.Register(PriceStrategy, Strategy{Check: isNonNegativeNumber, Message: "Price must be a non-negative number"})
	r.Register(StockStrategy, Strategy{Check: isNonNegativeInteger, Message: "Stock must be a non-negative integer"})
	r.Register(QuantityStrategy, Strategy{Check: isPositiveInteger, Message: "Quantity must be a positive integer"})
	r.Register(EmailStrategy, Strategy{Check: isEmail, Message: "Invalid email format"})
	return r
}

// Register adds or replaces a strategy.
func (r *Registry) Register(name string, s Strategy) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.strategies[name] = s
}

func (r *Registry) Validate(value any, name, context string) error {
	r.mu.RLock()
	s, ok := r.strategies[name]
	r.mu.RUnlock()

	if !ok {
		return apperr.Internal(fmt.Sprintf("Validation strategy '%s' not found", name), context, nil)
	}
	if !s.Check(value) {
		return apperr.Validation(s.Message, context, nil)
	}
	return nil
}

func (r *Registry) UUID(id, context string) error {
	return r.Validate(id, UUIDStrategy, context)
}

func (r *Registry) Price(price any, context string) error {
	return r.Validate(price, PriceStrategy, context)
}

func (r *Registry) Stock(stock any, context string) error {
	return r.Validate(stock, StockStrategy, context)
}

func (r *Registry) Quantity(quantity any, context string) error {
	return r.Validate(quantity, QuantityStrategy, context)
}

func (r *Registry) Email(email, context string) error {
	return r.Validate(email, EmailStrategy, context)
}

func isEmail(value any) bool {
	s, ok := value.(string)
	return ok && fields.Var(s, "required,email") == nil
}

// isUUID accepts only the canonical 36 character RFC 4122 form, versions 1-5.
func isUUID(value any) bool {
	s, ok := value.(string)
	if !ok || len(s) != 36 {
		return false
	}
	id, err := uuid.Parse(s)
	if err != nil {
		return false
	}
	v := id.Version()
	return id.Variant() == uuid.RFC4122 && v >= 1 && v <= 5
}

func isNonNegativeNumber(value any) bool {
	switch v := value.(type) {
	case decimal.Decimal:
		return !v.IsNegative()
	case *decimal.Decimal:
		return v != nil && !v.IsNegative()
	case float64:
		return !math.IsNaN(v) && !math.IsInf(v, 0) && v >= 0
	case float32:
		return isNonNegativeNumber(float64(v))
	default:
		n, ok := toInt64(value)
		return ok && n >= 0
	}
}

func isNonNegativeInteger(value any) bool {
	n, ok := integer(value)
	return ok && n >= 0
}

func isPositiveInteger(value any) bool {
	n, ok := integer(value)
	return ok && n > 0
}

func integer(value any) (int64, bool) {
	switch v := value.(type) {
	case float64:
		if math.IsNaN(v) || math.IsInf(v, 0) || v != math.Trunc(v) {
			return 0, false
		}
		return int64(v), true
	case decimal.Decimal:
		if !v.IsInteger() {
			return 0, false
		}
		return v.IntPart(), true
	default:
		return toInt64(value)
	}
}

func toInt64(value any) (int64, bool) {
	switch v := value.(type) {
	case int:
		return int64(v), true
	case int8:
		return int64(v), true
	case int16:
		return int64(v), true
	case int32:
		return int64(v), true
	case int64:
		return v, true
	case uint:
		return int64(v), true
	case uint8:
		return int64(v), true
	case uint16:
		return int64(v), true
	case uint32:
		return int64(v), true
	case uint64:
		if v > math.MaxInt64 {
			return 0, false
		}
		return int64(v), true
	default:
		return 0, false
	}
}
