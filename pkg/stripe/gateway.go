package stripe

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
	"github.com/stripe/stripe-go/v84"

	"github.com/rentiva/rentiva-backend/pkg/enums"
	pkgerrors "github.com/rentiva/rentiva-backend/pkg/errors"
	"github.com/rentiva/rentiva-backend/pkg/money"
)

// Intent is the client-facing handle of a created payment intent.
type Intent struct {
	ID           string
	ClientSecret string
}

// IntentParams describes a payment intent request.
type IntentParams struct {
	Amount   decimal.Decimal
	Currency enums.Currency
	Metadata map[string]string
}

// ChargeParams describes an off-session charge against a stored customer.
type ChargeParams struct {
	CustomerRef string
	Amount      decimal.Decimal
	Currency    enums.Currency
	Description string
}

// CreateIntent issues a payment intent and returns its id plus the client
// secret the frontend needs to confirm it.
func (c *Client) CreateIntent(ctx context.Context, params IntentParams) (*Intent, error) {
	cents, err := money.ToMinorUnits(params.Amount)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid intent amount")
	}

	c.log(ctx, "request", "create_intent", map[string]any{
		"amount_cents": cents,
		"currency":     params.Currency.String(),
		"metadata":     params.Metadata,
	})

	intent, err := c.api.V1PaymentIntents.Create(ctx, &stripe.PaymentIntentCreateParams{
		Amount:   stripe.Int64(cents),
		Currency: stripe.String(strings.ToLower(params.Currency.String())),
		Metadata: params.Metadata,
		AutomaticPaymentMethods: &stripe.PaymentIntentCreateAutomaticPaymentMethodsParams{
			Enabled: stripe.Bool(true),
		},
	})
	if err != nil {
		c.log(ctx, "error", "create_intent", map[string]any{"error": err.Error()})
		return nil, c.mapStripeError(err, "create intent")
	}

	c.log(ctx, "response", "create_intent", map[string]any{"intent_id": intent.ID})
	return &Intent{ID: intent.ID, ClientSecret: intent.ClientSecret}, nil
}

// Charge debits the customer's stored payment method immediately.
func (c *Client) Charge(ctx context.Context, params ChargeParams) (string, error) {
	if strings.TrimSpace(params.CustomerRef) == "" {
		return "", pkgerrors.New(pkgerrors.CodeValidation, "customer reference required")
	}
	cents, err := money.ToMinorUnits(params.Amount)
	if err != nil {
		return "", pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid charge amount")
	}

	c.log(ctx, "request", "create_charge", map[string]any{
		"customer_ref": params.CustomerRef,
		"amount_cents": cents,
		"currency":     params.Currency.String(),
	})

	charge, err := c.api.V1Charges.Create(ctx, &stripe.ChargeCreateParams{
		Amount:      stripe.Int64(cents),
		Currency:    stripe.String(strings.ToLower(params.Currency.String())),
		Customer:    stripe.String(params.CustomerRef),
		Description: stripe.String(params.Description),
	})
	if err != nil {
		c.log(ctx, "error", "create_charge", map[string]any{"error": err.Error()})
		return "", c.mapStripeError(err, "create charge")
	}

	c.log(ctx, "response", "create_charge", map[string]any{"charge_id": charge.ID})
	return charge.ID, nil
}

// Refund returns amount from the given charge back to the payer.
func (c *Client) Refund(ctx context.Context, chargeID string, amount decimal.Decimal) (string, error) {
	if strings.TrimSpace(chargeID) == "" {
		return "", pkgerrors.New(pkgerrors.CodeValidation, "charge id required")
	}
	cents, err := money.ToMinorUnits(amount)
	if err != nil {
		return "", pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid refund amount")
	}
	if cents <= 0 {
		return "", pkgerrors.New(pkgerrors.CodeValidation, "refund amount must be positive")
	}

	c.log(ctx, "request", "create_refund", map[string]any{
		"charge_id":    chargeID,
		"amount_cents": cents,
	})

	refund, err := c.api.V1Refunds.Create(ctx, &stripe.RefundCreateParams{
		Charge: stripe.String(chargeID),
		Amount: stripe.Int64(cents),
	})
	if err != nil {
		c.log(ctx, "error", "create_refund", map[string]any{"error": err.Error()})
		return "", c.mapStripeError(err, "create refund")
	}

	c.log(ctx, "response", "create_refund", map[string]any{"refund_id": refund.ID})
	return refund.ID, nil
}

func (c *Client) log(ctx context.Context, phase, op string, fields map[string]any) {
	if c == nil || c.logger == nil {
		return
	}
	logFields := map[string]any{
		"operation": op,
		"phase":     phase,
	}
	for k, v := range fields {
		logFields[k] = redact(k, v)
	}
	ctx = c.logger.WithFields(ctx, logFields)
	switch phase {
	case "error":
		c.logger.Error(ctx, fmt.Sprintf("stripe %s", op), errors.New(fmt.Sprint(fields["error"])))
	default:
		c.logger.Info(ctx, fmt.Sprintf("stripe %s", phase))
	}
}

func redact(key string, value any) any {
	lower := strings.ToLower(key)
	for _, sensitive := range []string{"card", "secret", "token", "cvv", "cvc", "email", "phone", "customer_ref"} {
		if strings.Contains(lower, sensitive) {
			return "[REDACTED]"
		}
	}
	return value
}

// mapStripeError folds gateway failures into the domain taxonomy. Stripe
// internals never reach callers; the public message stays generic.
func (c *Client) mapStripeError(err error, op string) error {
	if err == nil {
		return nil
	}
	var stripeErr *stripe.Error
	if errors.As(err, &stripeErr) {
		return pkgerrors.Wrap(pkgerrors.CodeGateway, err, fmt.Sprintf("stripe %s failed", op))
	}
	return pkgerrors.Wrap(pkgerrors.CodeDependency, err, fmt.Sprintf("stripe %s failed", op))
}
