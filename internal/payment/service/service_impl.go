package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/shopspring/decimal"
	auditdomain "github.com/smallbiznis/tillpoint/internal/audit/domain"
	"github.com/smallbiznis/tillpoint/internal/clock"
	"github.com/smallbiznis/tillpoint/internal/config"
	ledgerdomain "github.com/smallbiznis/tillpoint/internal/ledger/domain"
	obscontext "github.com/smallbiznis/tillpoint/internal/observability/context"
	"github.com/smallbiznis/tillpoint/internal/observability/logger"
	obsmetrics "github.com/smallbiznis/tillpoint/internal/observability/metrics"
	"github.com/smallbiznis/tillpoint/internal/observability/tracing"
	orderdomain "github.com/smallbiznis/tillpoint/internal/order/domain"
	"github.com/smallbiznis/tillpoint/internal/payment/adapters"
	paymentdomain "github.com/smallbiznis/tillpoint/internal/payment/domain"
	"github.com/smallbiznis/tillpoint/internal/ratelimit"
	"github.com/smallbiznis/tillpoint/internal/sequence"
	"github.com/smallbiznis/tillpoint/pkg/db"
	"github.com/smallbiznis/tillpoint/pkg/db/pagination"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const (
	successMessage = "Payment processed successfully"
	timeoutMessage = "Payment gateway did not respond in time."
)

var tracer = otel.Tracer("tillpoint/payment")

type Params struct {
	fx.In

	DB                *gorm.DB
	Log               *zap.Logger
	GenID             *snowflake.Node
	Repo              paymentdomain.Repository
	Orders            orderdomain.Service
	LedgerSvc         ledgerdomain.Service
	Sequence          *sequence.Generator
	Registry          *adapters.Registry
	Settlement        *config.SettlementConfigHolder
	Clock             clock.Clock
	Config            config.Config
	Guard             *ratelimit.SettlementGuard    `optional:"true"`
	AuditSvc          auditdomain.Service           `optional:"true"`
	ObsMetrics        *obsmetrics.Metrics           `optional:"true"`
	SettlementMetrics *obsmetrics.SettlementMetrics `optional:"true"`
}

type Service struct {
	db                *gorm.DB
	log               *zap.Logger
	genID             *snowflake.Node
	repo              paymentdomain.Repository
	orders            orderdomain.Service
	ledgerSvc         ledgerdomain.Service
	sequence          *sequence.Generator
	registry          *adapters.Registry
	settlement        *config.SettlementConfigHolder
	clock             clock.Clock
	currency          string
	guard             *ratelimit.SettlementGuard
	auditSvc          auditdomain.Service
	obsMetrics        *obsmetrics.Metrics
	settlementMetrics *obsmetrics.SettlementMetrics
}

func NewService(p Params) paymentdomain.Service {
	c := p.Clock
	if c == nil {
		c = clock.SystemClock{}
	}
	currency := strings.ToUpper(strings.TrimSpace(p.Config.Currency))
	if currency == "" {
		currency = "ALL"
	}
	return &Service{
		db:                p.DB,
		log:               p.Log.Named("payment.service"),
		genID:             p.GenID,
		repo:              p.Repo,
		orders:            p.Orders,
		ledgerSvc:         p.LedgerSvc,
		sequence:          p.Sequence,
		registry:          p.Registry,
		settlement:        p.Settlement,
		clock:             c,
		currency:          currency,
		guard:             p.Guard,
		auditSvc:          p.AuditSvc,
		obsMetrics:        p.ObsMetrics,
		settlementMetrics: p.SettlementMetrics,
	}
}

type quote struct {
	order *orderdomain.Order
	due   int64
}

// Settle applies one payment against the outstanding balance of a ready
// order. Card payments are authorized before anything is written; a decline
// leaves a failed payment row and nothing else.
func (s *Service) Settle(ctx context.Context, req paymentdomain.SettleRequest) (*paymentdomain.SettleResult, error) {
	ctx, span := tracer.Start(ctx, "payment.settle")
	defer span.End()
	started := time.Now()

	method, err := paymentdomain.ParseMethod(req.Method)
	if err != nil {
		return nil, err
	}
	span.SetAttributes(tracing.SafeAttributes(attribute.String("payment.method", string(method)))...)
	if req.AmountPaid <= 0 {
		return nil, paymentdomain.ErrInvalidAmount
	}
	orderID, err := snowflake.ParseString(strings.TrimSpace(req.OrderID))
	if err != nil || orderID == 0 {
		return nil, orderdomain.ErrInvalidID
	}
	span.SetAttributes(tracing.SafeAttributes(attribute.String("order.id", orderID.String()))...)
	key := normalizePointer(req.IdempotencyKey)

	if key != nil {
		existing, err := s.repo.FindByIdempotencyKey(ctx, s.db, orderID, *key)
		if err != nil {
			return nil, err
		}
		if existing != nil {
			return s.replay(ctx, existing, method)
		}
	}

	release, err := s.guard.Acquire(ctx, orderID.String())
	if err != nil {
		if errors.Is(err, ratelimit.ErrSettlementThrottled) {
			s.obsMetrics.RecordSettlementDenied(ctx, "throttled")
		} else if errors.Is(err, ratelimit.ErrSettlementInProgress) {
			s.obsMetrics.RecordSettlementDenied(ctx, "in_progress")
		}
		return nil, err
	}
	defer release()

	var (
		q        *quote
		replayed *paymentdomain.Payment
	)
	err = db.RunInTx(ctx, s.db, s.log, func(tx *gorm.DB) error {
		var err error
		q, replayed, err = s.quote(ctx, tx, orderID, key, method, req.AmountPaid)
		return err
	})
	if err != nil {
		s.observe(method, "rejected", started)
		return nil, err
	}
	if replayed != nil {
		return s.replay(ctx, replayed, method)
	}

	var authorization *paymentdomain.ChargeResult
	if method.UsesGateway() {
		result := s.charge(ctx, orderID, q.due)
		if !result.Approved {
			failed, err := s.recordFailure(ctx, orderID, method, req, key, q.due, nil, result.Message)
			if err != nil {
				return nil, err
			}
			s.observe(method, "declined", started)
			span.SetStatus(codes.Error, "gateway declined")
			resp := toResponse(failed, nil)
			return &paymentdomain.SettleResult{
				Success:     false,
				Message:     result.Message,
				Payment:     resp,
				OrderStatus: q.order.Status,
			}, nil
		}
		authorization = &result
	}

	var (
		payment *paymentdomain.Payment
		order   *orderdomain.Order
	)
	err = db.RunInTx(ctx, s.db, s.log, func(tx *gorm.DB) error {
		current, replay, err := s.quote(ctx, tx, orderID, key, method, req.AmountPaid)
		if err != nil {
			return err
		}
		if replay != nil {
			return fmt.Errorf("%w: settled by a concurrent request", paymentdomain.ErrAlreadySettled)
		}

		now := s.clock.Now().UTC()
		receipt, err := s.sequence.Next(ctx, tx, sequence.ScopeReceipt, now)
		if err != nil {
			return err
		}

		amountPaid := req.AmountPaid
		var change int64
		if method == paymentdomain.MethodCash {
			change = amountPaid - current.due
		} else {
			amountPaid = current.due
		}

		p := &paymentdomain.Payment{
			ID:             s.genID.Generate(),
			OrderID:        orderID,
			Method:         method,
			Status:         paymentdomain.StatusPaid,
			AmountPaid:     amountPaid,
			AmountDue:      current.due,
			ChangeAmount:   change,
			ReceiptNumber:  &receipt,
			ProcessedBy:    actorID(ctx),
			Notes:          normalizePointer(req.Notes),
			IdempotencyKey: key,
			ProcessedAt:    now,
			CreatedAt:      now,
			UpdatedAt:      now,
		}
		if authorization != nil {
			p.TransactionID = &authorization.TransactionID
		}

		inserted, err := s.repo.Insert(ctx, tx, p)
		if err != nil {
			return err
		}
		if !inserted {
			return paymentdomain.ErrIdempotencyConflict
		}

		if err := s.orders.CompleteInTx(ctx, tx, current.order); err != nil {
			return err
		}
		if err := s.postSettlement(ctx, tx, p, current.order); err != nil {
			return err
		}

		payment = p
		order = current.order
		return nil
	})
	if err != nil {
		if authorization != nil {
			s.voidAuthorization(ctx, orderID, method, req, key, q.due, authorization, err)
		}
		s.observe(method, "error", started)
		span.RecordError(tracing.SafeError(err))
		span.SetStatus(codes.Error, "settlement failed")
		return nil, err
	}

	s.observe(method, "paid", started)
	s.obsMetrics.RecordPayment(ctx, string(method), string(paymentdomain.StatusPaid))
	s.obsMetrics.RecordOrderTransition(ctx, string(orderdomain.StatusReady), string(orderdomain.StatusCompleted))
	span.SetAttributes(tracing.SafeAttributes(attribute.String("payment.id", payment.ID.String()))...)
	logger.WithOrder(logger.WithContext(ctx, s.log), order.ID.String(), order.OrderNumber).Info("payment settled",
		zap.String("payment_id", payment.ID.String()),
		zap.String("method", string(method)),
		zap.Int64("amount_due", payment.AmountDue),
		zap.Int64("change_amount", payment.ChangeAmount),
	)
	s.audit(ctx, "payment.settled", payment, map[string]any{
		"order_id":       orderID.String(),
		"method":         string(method),
		"amount_due":     payment.AmountDue,
		"change_amount":  payment.ChangeAmount,
		"receipt_number": *payment.ReceiptNumber,
		"transaction_id": valueOf(payment.TransactionID),
	})

	resp := toResponse(payment, nil)
	return &paymentdomain.SettleResult{
		Success:     true,
		Message:     successMessage,
		Payment:     resp,
		OrderStatus: order.Status,
		ReceiptURL:  receiptURL(payment.ID),
	}, nil
}

// quote locks the order and works out what is still owed. A payment already
// stored under key is returned instead of a quote.
func (s *Service) quote(
	ctx context.Context,
	tx *gorm.DB,
	orderID snowflake.ID,
	key *string,
	method paymentdomain.Method,
	amountPaid int64,
) (*quote, *paymentdomain.Payment, error) {

	order, err := s.orders.LockForSettlement(ctx, tx, orderID.String())
	if err != nil {
		return nil, nil, err
	}

	if key != nil {
		existing, err := s.repo.FindByIdempotencyKey(ctx, tx, orderID, *key)
		if err != nil {
			return nil, nil, err
		}
		if existing != nil {
			return nil, existing, nil
		}
	}

	settled, err := s.repo.SettledAmount(ctx, tx, order.ID)
	if err != nil {
		return nil, nil, err
	}
	due := order.TotalAmount - settled
	if due <= 0 {
		return nil, nil, paymentdomain.ErrAlreadySettled
	}
	if order.Status != orderdomain.StatusReady {
		return nil, nil, fmt.Errorf("%w: order is %s", orderdomain.ErrInvalidTransition, order.Status)
	}
	if amountPaid < due {
		return nil, nil, fmt.Errorf("%w: %s payment of %d is short of %d", paymentdomain.ErrUnderPayment, method, amountPaid, due)
	}
	return &quote{order: order, due: due}, nil, nil
}

// charge asks the configured gateway to authorize amount. Errors and timeouts
// come back as declines.
func (s *Service) charge(ctx context.Context, orderID snowflake.ID, amount int64) paymentdomain.ChargeResult {
	cfg := s.settlement.Get().Gateway
	provider := cfg.Provider
	started := time.Now()

	gateway, err := s.registry.NewGateway(provider, paymentdomain.GatewayConfig{
		SuccessRate: cfg.SuccessRate,
		Latency:     cfg.Latency,
	})
	if err != nil {
		s.log.Error("gateway unavailable", zap.String("provider", provider), zap.Error(err))
		s.settlementMetrics.ObserveGateway(provider, "error", time.Since(started))
		return paymentdomain.ChargeResult{Approved: false, Message: "Payment gateway unavailable."}
	}

	chargeCtx, cancel := context.WithTimeout(ctx, cfg.Timeout)
	defer cancel()

	result, err := gateway.Charge(chargeCtx, paymentdomain.ChargeRequest{
		OrderID:   orderID,
		Amount:    amount,
		Currency:  s.currency,
		Reference: orderID.String(),
	})
	if err != nil {
		outcome := "error"
		message := "Payment gateway error."
		if errors.Is(err, context.DeadlineExceeded) {
			outcome = "timeout"
			message = timeoutMessage
		}
		s.log.Warn("gateway charge failed",
			zap.String("provider", provider),
			zap.String("order_id", orderID.String()),
			zap.Error(err),
		)
		s.settlementMetrics.ObserveGateway(provider, outcome, time.Since(started))
		return paymentdomain.ChargeResult{Approved: false, Message: message}
	}

	outcome := "approved"
	if !result.Approved {
		outcome = "declined"
	}
	s.settlementMetrics.ObserveGateway(provider, outcome, time.Since(started))
	return result
}

func (s *Service) recordFailure(
	ctx context.Context,
	orderID snowflake.ID,
	method paymentdomain.Method,
	req paymentdomain.SettleRequest,
	key *string,
	due int64,
	transactionID *string,
	reason string,
) (*paymentdomain.Payment, error) {

	now := s.clock.Now().UTC()
	payment := &paymentdomain.Payment{
		ID:             s.genID.Generate(),
		OrderID:        orderID,
		Method:         method,
		Status:         paymentdomain.StatusFailed,
		AmountPaid:     req.AmountPaid,
		AmountDue:      due,
		TransactionID:  transactionID,
		FailureReason:  &reason,
		ProcessedBy:    actorID(ctx),
		Notes:          normalizePointer(req.Notes),
		IdempotencyKey: key,
		ProcessedAt:    now,
		CreatedAt:      now,
		UpdatedAt:      now,
	}

	inserted, err := s.repo.Insert(ctx, s.db, payment)
	if err != nil {
		return nil, err
	}
	if !inserted {
		return nil, paymentdomain.ErrIdempotencyConflict
	}

	s.obsMetrics.RecordPayment(ctx, string(method), string(paymentdomain.StatusFailed))
	logger.WithContext(ctx, s.log).Info("payment declined",
		zap.String("order_id", orderID.String()),
		zap.String("payment_id", payment.ID.String()),
		zap.String("method", string(method)),
	)
	s.audit(ctx, "payment.declined", payment, map[string]any{
		"order_id":   orderID.String(),
		"method":     string(method),
		"amount_due": due,
		"reason":     reason,
	})
	return payment, nil
}

// voidAuthorization reverses a card approval whose payment could not be
// recorded and keeps a failed row for the attempt.
func (s *Service) voidAuthorization(
	ctx context.Context,
	orderID snowflake.ID,
	method paymentdomain.Method,
	req paymentdomain.SettleRequest,
	key *string,
	due int64,
	authorization *paymentdomain.ChargeResult,
	cause error,
) {
	cfg := s.settlement.Get().Gateway
	gateway, err := s.registry.NewGateway(cfg.Provider, paymentdomain.GatewayConfig{
		SuccessRate: cfg.SuccessRate,
		Latency:     cfg.Latency,
	})
	if err == nil {
		err = gateway.Void(ctx, authorization.TransactionID)
	}
	if err != nil {
		s.log.Error("failed to void card authorization",
			zap.String("order_id", orderID.String()),
			zap.Error(err),
		)
	}

	// A key that already has a stored payment belongs to the winner.
	if key != nil && errors.Is(cause, paymentdomain.ErrIdempotencyConflict) {
		key = nil
	}
	reason := "authorization voided: " + cause.Error()
	if _, err := s.recordFailure(ctx, orderID, method, req, key, due, &authorization.TransactionID, reason); err != nil {
		s.log.Warn("failed to record voided payment", zap.String("order_id", orderID.String()), zap.Error(err))
	}
}

// replay answers a repeated settlement request from the stored payment.
func (s *Service) replay(ctx context.Context, payment *paymentdomain.Payment, method paymentdomain.Method) (*paymentdomain.SettleResult, error) {
	if payment.Method != method {
		return nil, fmt.Errorf("%w: key was used for a %s payment", paymentdomain.ErrIdempotencyConflict, payment.Method)
	}

	order, err := s.orders.Get(ctx, payment.OrderID.String())
	if err != nil {
		return nil, err
	}
	refund, err := s.repo.FindRefund(ctx, s.db, payment.ID)
	if err != nil {
		return nil, err
	}

	result := &paymentdomain.SettleResult{
		Success:     payment.Status != paymentdomain.StatusFailed,
		Payment:     toResponse(payment, refund),
		OrderStatus: order.Status,
		Replayed:    true,
	}
	if result.Success {
		result.Message = successMessage
		result.ReceiptURL = receiptURL(payment.ID)
	} else {
		result.Message = valueOf(payment.FailureReason)
	}
	return result, nil
}

// Refund reverses a paid payment. The order keeps its status.
func (s *Service) Refund(ctx context.Context, id string, req paymentdomain.RefundRequest) (*paymentdomain.Response, error) {
	ctx, span := tracer.Start(ctx, "payment.refund")
	defer span.End()

	paymentID, err := parseID(id)
	if err != nil {
		return nil, err
	}
	span.SetAttributes(tracing.SafeAttributes(attribute.String("payment.id", paymentID.String()))...)

	var (
		payment *paymentdomain.Payment
		refund  *paymentdomain.Refund
	)
	err = db.RunInTx(ctx, s.db, s.log, func(tx *gorm.DB) error {
		p, err := s.repo.FindByIDForUpdate(ctx, tx, paymentID)
		if err != nil {
			return err
		}
		if p == nil {
			return paymentdomain.ErrNotFound
		}
		if p.Status != paymentdomain.StatusPaid {
			return fmt.Errorf("%w: payment is %s", paymentdomain.ErrNotRefundable, p.Status)
		}

		order, err := s.orders.LockForSettlement(ctx, tx, p.OrderID.String())
		if err != nil {
			return err
		}

		now := s.clock.Now().UTC()
		p.Status = paymentdomain.StatusRefunded
		p.UpdatedAt = now
		ok, err := s.repo.MarkRefunded(ctx, tx, p)
		if err != nil {
			return err
		}
		if !ok {
			return paymentdomain.ErrNotRefundable
		}

		r := &paymentdomain.Refund{
			ID:         s.genID.Generate(),
			PaymentID:  p.ID,
			OrderID:    p.OrderID,
			Amount:     p.Settled(),
			Reason:     normalizePointer(req.Reason),
			RefundedBy: actorID(ctx),
			CreatedAt:  now,
		}
		if err := s.repo.InsertRefund(ctx, tx, r); err != nil {
			if db.IsDuplicateKeyErr(err) {
				return paymentdomain.ErrNotRefundable
			}
			return err
		}
		if err := s.postRefund(ctx, tx, r, order); err != nil {
			return err
		}

		payment = p
		refund = r
		return nil
	})
	if err != nil {
		span.RecordError(tracing.SafeError(err))
		span.SetStatus(codes.Error, "refund failed")
		return nil, err
	}

	s.obsMetrics.RecordPayment(ctx, string(payment.Method), string(paymentdomain.StatusRefunded))
	logger.WithContext(ctx, s.log).Info("payment refunded",
		zap.String("payment_id", payment.ID.String()),
		zap.String("order_id", payment.OrderID.String()),
		zap.Int64("amount", refund.Amount),
	)
	metadata := map[string]any{
		"order_id": payment.OrderID.String(),
		"amount":   refund.Amount,
	}
	if refund.Reason != nil {
		metadata["reason"] = *refund.Reason
	}
	s.audit(ctx, "payment.refunded", payment, metadata)

	resp := toResponse(payment, refund)
	return &resp, nil
}

// postSettlement books the settled amount: cash in, revenue and tax out.
func (s *Service) postSettlement(ctx context.Context, tx *gorm.DB, payment *paymentdomain.Payment, order *orderdomain.Order) error {
	settled := payment.Settled()
	tax := taxShare(order, settled)
	lines, err := s.lines(ctx, tx, []posting{
		{ledgerdomain.AccountCodeCash, ledgerdomain.LedgerEntryDirectionDebit, settled},
		{ledgerdomain.AccountCodeSalesRevenue, ledgerdomain.LedgerEntryDirectionCredit, settled - tax},
		{ledgerdomain.AccountCodeTaxPayable, ledgerdomain.LedgerEntryDirectionCredit, tax},
	})
	if err != nil {
		return err
	}
	_, err = s.ledgerSvc.CreateEntry(ctx, tx, ledgerdomain.SourceTypePayment, payment.ID, s.currency, payment.ProcessedAt, lines)
	return err
}

func (s *Service) postRefund(ctx context.Context, tx *gorm.DB, refund *paymentdomain.Refund, order *orderdomain.Order) error {
	tax := taxShare(order, refund.Amount)
	lines, err := s.lines(ctx, tx, []posting{
		{ledgerdomain.AccountCodeSalesRevenue, ledgerdomain.LedgerEntryDirectionDebit, refund.Amount - tax},
		{ledgerdomain.AccountCodeTaxPayable, ledgerdomain.LedgerEntryDirectionDebit, tax},
		{ledgerdomain.AccountCodeCash, ledgerdomain.LedgerEntryDirectionCredit, refund.Amount},
	})
	if err != nil {
		return err
	}
	_, err = s.ledgerSvc.CreateEntry(ctx, tx, ledgerdomain.SourceTypeRefund, refund.ID, s.currency, refund.CreatedAt, lines)
	return err
}

type posting struct {
	account   ledgerdomain.LedgerAccountCode
	direction ledgerdomain.LedgerEntryDirection
	amount    int64
}

func (s *Service) lines(ctx context.Context, tx *gorm.DB, postings []posting) ([]ledgerdomain.LedgerEntryLine, error) {
	lines := make([]ledgerdomain.LedgerEntryLine, 0, len(postings))
	for _, p := range postings {
		if p.amount == 0 {
			continue
		}
		accountID, err := s.ledgerSvc.EnsureAccount(ctx, tx, p.account)
		if err != nil {
			return nil, err
		}
		lines = append(lines, ledgerdomain.LedgerEntryLine{
			AccountID: accountID,
			Direction: p.direction,
			Amount:    p.amount,
		})
	}
	return lines, nil
}

// taxShare is the part of amount that is tax, pro rata to the order.
func taxShare(order *orderdomain.Order, amount int64) int64 {
	if order == nil || order.TotalAmount <= 0 || order.TaxAmount <= 0 {
		return 0
	}
	if amount >= order.TotalAmount {
		return order.TaxAmount
	}
	return decimal.NewFromInt(order.TaxAmount).
		Mul(decimal.NewFromInt(amount)).
		Div(decimal.NewFromInt(order.TotalAmount)).
		Round(0).
		IntPart()
}

func (s *Service) Get(ctx context.Context, id string) (*paymentdomain.Response, error) {
	paymentID, err := parseID(id)
	if err != nil {
		return nil, err
	}
	payment, err := s.repo.FindByID(ctx, s.db, paymentID)
	if err != nil {
		return nil, err
	}
	if payment == nil {
		return nil, paymentdomain.ErrNotFound
	}
	refund, err := s.repo.FindRefund(ctx, s.db, payment.ID)
	if err != nil {
		return nil, err
	}
	resp := toResponse(payment, refund)
	return &resp, nil
}

func (s *Service) ListByOrder(ctx context.Context, orderID string) ([]paymentdomain.Response, error) {
	order, err := s.orders.Get(ctx, orderID)
	if err != nil {
		return nil, err
	}
	id, err := snowflake.ParseString(order.ID)
	if err != nil {
		return nil, orderdomain.ErrInvalidID
	}

	payments, err := s.repo.ListByOrder(ctx, s.db, id)
	if err != nil {
		return nil, err
	}
	responses := make([]paymentdomain.Response, 0, len(payments))
	for i := range payments {
		refund, err := s.repo.FindRefund(ctx, s.db, payments[i].ID)
		if err != nil {
			return nil, err
		}
		responses = append(responses, toResponse(&payments[i], refund))
	}
	return responses, nil
}

func (s *Service) List(ctx context.Context, req paymentdomain.ListRequest) (paymentdomain.ListResponse, error) {
	filter := paymentdomain.ListFilter{From: req.From, To: req.To}
	if req.From != nil && req.To != nil && req.From.After(*req.To) {
		return paymentdomain.ListResponse{}, paymentdomain.ErrInvalidTimeRange
	}
	if strings.TrimSpace(req.Status) != "" {
		status, err := paymentdomain.ParseStatus(req.Status)
		if err != nil {
			return paymentdomain.ListResponse{}, err
		}
		filter.Status = &status
	}
	if strings.TrimSpace(req.Method) != "" {
		method, err := paymentdomain.ParseMethod(req.Method)
		if err != nil {
			return paymentdomain.ListResponse{}, err
		}
		filter.Method = &method
	}
	if strings.TrimSpace(req.PageToken) != "" {
		decoded, err := pagination.DecodeCursor(req.PageToken)
		if err != nil {
			return paymentdomain.ListResponse{}, paymentdomain.ErrInvalidPageToken
		}
		processedAt, err := time.Parse(time.RFC3339Nano, decoded.CreatedAt)
		if err != nil {
			return paymentdomain.ListResponse{}, paymentdomain.ErrInvalidPageToken
		}
		cursorID, err := snowflake.ParseString(strings.TrimSpace(decoded.ID))
		if err != nil || cursorID == 0 {
			return paymentdomain.ListResponse{}, paymentdomain.ErrInvalidPageToken
		}
		filter.Cursor = &paymentdomain.Cursor{ID: cursorID, ProcessedAt: processedAt}
	}

	pageSize := req.PageSize
	if pageSize <= 0 {
		pageSize = 20
	}
	if pageSize > 100 {
		pageSize = 100
	}
	filter.Limit = pageSize

	payments, err := s.repo.List(ctx, s.db, filter)
	if err != nil {
		return paymentdomain.ListResponse{}, err
	}

	pageInfo := pagination.BuildCursorPageInfo(payments, int32(pageSize), func(item *paymentdomain.Payment) string {
		token, err := pagination.EncodeCursor(pagination.Cursor{
			ID:        item.ID.String(),
			CreatedAt: item.ProcessedAt.UTC().Format(time.RFC3339Nano),
		})
		if err != nil {
			return ""
		}
		return token
	})
	if len(payments) > pageSize {
		payments = payments[:pageSize]
	}

	resp := paymentdomain.ListResponse{Payments: make([]paymentdomain.Response, 0, len(payments))}
	for _, payment := range payments {
		resp.Payments = append(resp.Payments, toResponse(payment, nil))
	}
	if pageInfo != nil {
		resp.PageInfo = *pageInfo
	}
	return resp, nil
}

// Receipt loads a payment that carries a receipt number together with its order.
func (s *Service) Receipt(ctx context.Context, id string) (*paymentdomain.Receipt, error) {
	payment, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if payment.ReceiptNumber == nil {
		return nil, paymentdomain.ErrNoReceipt
	}
	order, err := s.orders.Get(ctx, payment.OrderID)
	if err != nil {
		return nil, err
	}
	return &paymentdomain.Receipt{Payment: *payment, Order: *order}, nil
}

func (s *Service) observe(method paymentdomain.Method, outcome string, started time.Time) {
	s.settlementMetrics.ObserveSettlement(string(method), outcome, time.Since(started))
}

func (s *Service) audit(ctx context.Context, action string, payment *paymentdomain.Payment, metadata map[string]any) {
	if s.auditSvc == nil || payment == nil {
		return
	}
	targetID := payment.ID.String()
	if err := s.auditSvc.AuditLog(ctx, "", nil, action, "payment", &targetID, metadata); err != nil {
		s.log.Warn("failed to write payment audit log", zap.String("action", action), zap.Error(err))
	}
}

func actorID(ctx context.Context) *string {
	_, id := obscontext.ActorFromContext(ctx)
	return normalizePointer(&id)
}

func receiptURL(id snowflake.ID) string {
	return "/payments/" + id.String() + "/receipt"
}

func parseID(id string) (snowflake.ID, error) {
	parsed, err := snowflake.ParseString(strings.TrimSpace(id))
	if err != nil || parsed == 0 {
		return 0, paymentdomain.ErrInvalidID
	}
	return parsed, nil
}

func normalizePointer(value *string) *string {
	if value == nil {
		return nil
	}
	trimmed := strings.TrimSpace(*value)
	if trimmed == "" {
		return nil
	}
	return &trimmed
}

func valueOf(value *string) string {
	if value == nil {
		return ""
	}
	return *value
}

func toResponse(payment *paymentdomain.Payment, refund *paymentdomain.Refund) paymentdomain.Response {
	resp := paymentdomain.Response{
		ID:            payment.ID.String(),
		OrderID:       payment.OrderID.String(),
		Method:        payment.Method,
		Status:        payment.Status,
		AmountPaid:    payment.AmountPaid,
		AmountDue:     payment.AmountDue,
		ChangeAmount:  payment.ChangeAmount,
		TransactionID: payment.TransactionID,
		ReceiptNumber: payment.ReceiptNumber,
		FailureReason: payment.FailureReason,
		ProcessedBy:   payment.ProcessedBy,
		Notes:         payment.Notes,
		ProcessedAt:   payment.ProcessedAt,
		CreatedAt:     payment.CreatedAt,
		UpdatedAt:     payment.UpdatedAt,
	}
	if refund != nil {
		resp.Refund = &paymentdomain.RefundResponse{
			ID:         refund.ID.String(),
			Amount:     refund.Amount,
			Reason:     refund.Reason,
			RefundedBy: refund.RefundedBy,
			CreatedAt:  refund.CreatedAt,
		}
	}
	return resp
}
