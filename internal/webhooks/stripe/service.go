package stripewebhook

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/stripe/stripe-go/v84/webhook"

	"github.com/kotilabs/housing-backend/internal/credits"
	"github.com/kotilabs/housing-backend/internal/subscriptions"
	"github.com/kotilabs/housing-backend/pkg/db/models"
	pkgerrors "github.com/kotilabs/housing-backend/pkg/errors"
	"github.com/kotilabs/housing-backend/pkg/logger"
	"github.com/kotilabs/housing-backend/pkg/metrics"
)

// IdempotencyScope namespaces processed gateway event ids in Redis.
const IdempotencyScope = "stripe-webhook"

// Source selects which signing secret verifies a delivery.
type Source int

const (
	SourcePlatform Source = iota
	SourceAccount
)

type subscriptionHandler interface {
	ConfirmCreated(ctx context.Context, input subscriptions.CreatedInput) (*models.Subscription, error)
	ApplyUpdate(ctx context.Context, input subscriptions.UpdatedInput) (*models.Subscription, error)
	Deactivate(ctx context.Context, input subscriptions.DeletedInput) (*models.Subscription, error)
	MarkInvoiceFinalized(ctx context.Context, input subscriptions.FinalizedInput) (*models.Subscription, error)
	RecordInvoicePaid(ctx context.Context, input subscriptions.InvoicePaidInput) (*models.SubscriptionInvoice, error)
}

type creditAdder interface {
	AddCredit(ctx context.Context, input credits.AddInput) (credits.AddResult, error)
}

type eventGuard interface {
	Claim(ctx context.Context, eventID string) (bool, error)
	Release(ctx context.Context, eventID string) error
}

// ServiceParams groups dependencies for the webhook dispatcher.
type ServiceParams struct {
	Subscriptions  subscriptionHandler
	Credits        creditAdder
	Guard          eventGuard
	PlatformSecret string
	AccountSecret  string
	Tolerance      time.Duration
	Logger         *logger.Logger
	Metrics        *metrics.WebhookMetrics
}

// Result describes how a delivery was handled.
type Result struct {
	EventID string `json:"event_id"`
	Kind    string `json:"kind"`
	Outcome string `json:"outcome"`
}

// Service verifies, decodes and routes gateway events.
type Service struct {
	subs           subscriptionHandler
	credits        creditAdder
	guard          eventGuard
	platformSecret string
	accountSecret  string
	tolerance      time.Duration
	logg           *logger.Logger
	metrics        *metrics.WebhookMetrics
	now            func() time.Time
}

func NewService(params ServiceParams) (*Service, error) {
	if params.Subscriptions == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "subscription service required")
	}
	if params.Credits == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "credit service required")
	}
	if params.Guard == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "event guard required")
	}
	tolerance := params.Tolerance
	if tolerance <= 0 {
		tolerance = webhook.DefaultTolerance
	}
	logg := params.Logger
	if logg == nil {
		logg = logger.Nop()
	}
	return &Service{
		subs:           params.Subscriptions,
		credits:        params.Credits,
		guard:          params.Guard,
		platformSecret: strings.TrimSpace(params.PlatformSecret),
		accountSecret:  strings.TrimSpace(params.AccountSecret),
		tolerance:      tolerance,
		logg:           logg,
		metrics:        params.Metrics,
		now:            time.Now,
	}, nil
}

// HandleDelivery verifies a raw delivery against the secret for source,
// claims its event id and routes it. A handler error releases the claim
// so the gateway's retry runs the event again.
func (s *Service) HandleDelivery(ctx context.Context, source Source, payload []byte, signature string) (Result, error) {
	secret := s.platformSecret
	if source == SourceAccount {
		secret = s.accountSecret
	}
	if secret == "" {
		return Result{}, pkgerrors.New(pkgerrors.CodeInternal, "webhook signing secret not configured")
	}
	if strings.TrimSpace(signature) == "" {
		s.metrics.Observe("unknown", metrics.OutcomeRejected)
		return Result{}, pkgerrors.New(pkgerrors.CodeValidation, "missing signature header")
	}

	raw, err := webhook.ConstructEventWithOptions(payload, signature, secret, webhook.ConstructEventOptions{
		Tolerance:                s.tolerance,
		IgnoreAPIVersionMismatch: true,
	})
	if err != nil {
		s.metrics.Observe("unknown", metrics.OutcomeRejected)
		s.logg.Warn(s.logg.WithField(ctx, "reason", err.Error()), "webhook signature rejected")
		return Result{}, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid webhook signature")
	}

	ctx = s.logg.WithFields(s.logg.WithEventID(ctx, raw.ID), map[string]any{"event_type": string(raw.Type)})
	evt, err := ParseEvent(raw)
	if err != nil {
		s.metrics.Observe(string(raw.Type), metrics.OutcomeRejected)
		s.logg.Warn(s.logg.WithField(ctx, "reason", err.Error()), "webhook payload rejected")
		return Result{}, err
	}
	return s.Dispatch(ctx, evt)
}

// Dispatch applies a decoded event once per event id.
func (s *Service) Dispatch(ctx context.Context, evt Event) (Result, error) {
	res := Result{EventID: evt.EventID(), Kind: string(evt.Kind())}
	if u, ok := evt.(Unhandled); ok {
		s.logg.Debug(ctx, "ignoring unhandled webhook event "+u.Type)
		res.Outcome = metrics.OutcomeIgnored
		s.metrics.Observe(res.Kind, res.Outcome)
		return res, nil
	}

	already, err := s.guard.Claim(ctx, evt.EventID())
	if err != nil {
		s.metrics.Observe(res.Kind, metrics.OutcomeFailed)
		return res, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "claim webhook event")
	}
	if already {
		s.logg.Info(ctx, "webhook event already processed")
		res.Outcome = metrics.OutcomeDuplicate
		s.metrics.Observe(res.Kind, res.Outcome)
		return res, nil
	}

	start := s.now()
	outcome, err := s.route(ctx, evt)
	s.metrics.ObserveDuration(res.Kind, s.now().Sub(start))
	if err != nil {
		if relErr := s.guard.Release(ctx, evt.EventID()); relErr != nil {
			s.logg.Error(ctx, "release webhook event claim", relErr)
		}
		s.metrics.Observe(res.Kind, metrics.OutcomeFailed)
		s.logg.Error(ctx, "webhook event handling failed", err)
		return res, err
	}
	res.Outcome = outcome
	s.metrics.Observe(res.Kind, outcome)
	return res, nil
}

func (s *Service) route(ctx context.Context, evt Event) (string, error) {
	switch e := evt.(type) {
	case SubscriptionCreated:
		return s.onSubscriptionCreated(ctx, e)
	case SubscriptionUpdated:
		return s.onSubscriptionUpdated(ctx, e)
	case SubscriptionDeleted:
		return s.onSubscriptionDeleted(ctx, e)
	case InvoiceFinalized:
		return s.onInvoiceFinalized(ctx, e)
	case InvoicePaid:
		return s.onInvoicePaid(ctx, e)
	default:
		return "", fmt.Errorf("unroutable event %T", evt)
	}
}

func (s *Service) onSubscriptionCreated(ctx context.Context, e SubscriptionCreated) (string, error) {
	ctx = s.logg.WithField(ctx, "external_subscription_id", e.SubscriptionID)
	if !e.Routing.HasSubscriptionRoute() || e.Routing.UserID == uuid.Nil {
		s.logg.Warn(ctx, "subscription created without routing metadata; skipped")
		return metrics.OutcomeIgnored, nil
	}
	if _, err := s.subs.ConfirmCreated(ctx, subscriptions.CreatedInput{
		TenantID:        e.Routing.TenantID,
		PlanID:          e.Routing.PlanID,
		UserID:          e.Routing.UserID,
		ExternalID:      e.SubscriptionID,
		Quantity:        e.Quantity,
		LatestInvoiceID: e.LatestInvoiceID,
	}); err != nil {
		return "", err
	}
	return metrics.OutcomeProcessed, nil
}

func (s *Service) onSubscriptionUpdated(ctx context.Context, e SubscriptionUpdated) (string, error) {
	sub, err := s.subs.ApplyUpdate(ctx, subscriptions.UpdatedInput{
		ExternalID: e.SubscriptionID,
		PriceID:    e.PriceID,
		PlanID:     e.Routing.PlanID,
		Quantity:   e.Quantity,
	})
	if err != nil {
		return "", err
	}
	if sub == nil {
		return metrics.OutcomeIgnored, nil
	}
	return metrics.OutcomeProcessed, nil
}

func (s *Service) onSubscriptionDeleted(ctx context.Context, e SubscriptionDeleted) (string, error) {
	sub, err := s.subs.Deactivate(ctx, subscriptions.DeletedInput{
		TenantID:   e.Routing.TenantID,
		PlanID:     e.Routing.PlanID,
		ExternalID: e.SubscriptionID,
	})
	if err != nil {
		return "", err
	}
	if sub == nil {
		return metrics.OutcomeIgnored, nil
	}
	return metrics.OutcomeProcessed, nil
}

func (s *Service) onInvoiceFinalized(ctx context.Context, e InvoiceFinalized) (string, error) {
	if e.SubscriptionID == "" && !e.Routing.HasSubscriptionRoute() {
		return metrics.OutcomeIgnored, nil
	}
	sub, err := s.subs.MarkInvoiceFinalized(ctx, subscriptions.FinalizedInput{
		TenantID:         e.Routing.TenantID,
		PlanID:           e.Routing.PlanID,
		ExternalID:       e.SubscriptionID,
		HostedInvoiceURL: e.HostedInvoiceURL,
	})
	if err != nil {
		return "", err
	}
	if sub == nil {
		return metrics.OutcomeIgnored, nil
	}
	return metrics.OutcomeProcessed, nil
}

func (s *Service) onInvoicePaid(ctx context.Context, e InvoicePaid) (string, error) {
	ctx = s.logg.WithField(ctx, "external_invoice_id", e.InvoiceID)
	if e.SubscriptionID != "" {
		rec, err := s.subs.RecordInvoicePaid(ctx, subscriptions.InvoicePaidInput{
			ExternalInvoiceID:      e.InvoiceID,
			ExternalSubscriptionID: e.SubscriptionID,
			TenantID:               e.Routing.TenantID,
			PlanID:                 e.Routing.PlanID,
			CollectionMethod:       e.CollectionMethod,
			AmountPaidCents:        e.AmountPaidCents,
			Currency:               e.Currency,
			HostedInvoiceURL:       e.HostedInvoiceURL,
			PaidAt:                 e.PaidAt,
		})
		if err != nil {
			return "", err
		}
		if rec == nil {
			return metrics.OutcomeIgnored, nil
		}
		return metrics.OutcomeProcessed, nil
	}

	if e.Routing.ProductItemID == uuid.Nil {
		s.logg.Debug(ctx, "paid invoice carries neither subscription nor product item; ignored")
		return metrics.OutcomeIgnored, nil
	}
	if e.Routing.TenantID == uuid.Nil {
		s.logg.Warn(ctx, "one-off invoice paid without tenant metadata; skipped")
		return metrics.OutcomeIgnored, nil
	}

	amount := e.LinesTotalCents
	if amount <= 0 {
		s.logg.Warn(ctx, "one-off invoice paid with non-positive line total; skipped")
		return metrics.OutcomeIgnored, nil
	}
	itemID := e.Routing.ProductItemID
	input := credits.AddInput{
		TenantID:            e.Routing.TenantID,
		AmountCents:         amount,
		Currency:            e.Currency,
		SourceInvoiceID:     e.InvoiceID,
		SourceProductItemID: &itemID,
		AddedOn:             e.PaidAt,
	}
	if e.Routing.UserID != uuid.Nil {
		userID := e.Routing.UserID
		input.CreatedBy = &userID
	}
	res, err := s.credits.AddCredit(ctx, input)
	if err != nil {
		if pkgerrors.IsCode(err, pkgerrors.CodeNotFound) {
			s.logg.Warn(ctx, "one-off invoice paid for unknown tenant; skipped")
			return metrics.OutcomeIgnored, nil
		}
		return "", err
	}
	if !res.Applied {
		return metrics.OutcomeDuplicate, nil
	}
	return metrics.OutcomeProcessed, nil
}
