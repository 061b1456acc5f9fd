package service

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	auditdomain "github.com/smallbiznis/tillpoint/internal/audit/domain"
	"github.com/smallbiznis/tillpoint/internal/clock"
	"github.com/smallbiznis/tillpoint/internal/config"
	inventorydomain "github.com/smallbiznis/tillpoint/internal/inventory/domain"
	obscontext "github.com/smallbiznis/tillpoint/internal/observability/context"
	"github.com/smallbiznis/tillpoint/internal/observability/logger"
	obsmetrics "github.com/smallbiznis/tillpoint/internal/observability/metrics"
	"github.com/smallbiznis/tillpoint/internal/observability/tracing"
	"github.com/smallbiznis/tillpoint/internal/order/domain"
	productdomain "github.com/smallbiznis/tillpoint/internal/product/domain"
	"github.com/smallbiznis/tillpoint/internal/sequence"
	"github.com/smallbiznis/tillpoint/pkg/db"
	"github.com/smallbiznis/tillpoint/pkg/db/pagination"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

var tracer = otel.Tracer("tillpoint/order")

type Params struct {
	fx.In

	DB         *gorm.DB
	Log        *zap.Logger
	GenID      *snowflake.Node
	Repo       domain.Repository
	Catalog    productdomain.Service
	Inventory  inventorydomain.Service
	Sequence   *sequence.Generator
	Clock      clock.Clock
	Config     config.Config
	AuditSvc   auditdomain.Service `optional:"true"`
	ObsMetrics *obsmetrics.Metrics `optional:"true"`
}

type Service struct {
	db         *gorm.DB
	log        *zap.Logger
	genID      *snowflake.Node
	repo       domain.Repository
	catalog    productdomain.Service
	inventory  inventorydomain.Service
	sequence   *sequence.Generator
	clock      clock.Clock
	loc        *time.Location
	auditSvc   auditdomain.Service
	obsMetrics *obsmetrics.Metrics
}

func NewService(p Params) domain.Service {
	c := p.Clock
	if c == nil {
		c = clock.SystemClock{}
	}
	return &Service{
		db:         p.DB,
		log:        p.Log.Named("order.service"),
		genID:      p.GenID,
		repo:       p.Repo,
		catalog:    p.Catalog,
		inventory:  p.Inventory,
		sequence:   p.Sequence,
		clock:      c,
		loc:        p.Config.Location(),
		auditSvc:   p.AuditSvc,
		obsMetrics: p.ObsMetrics,
	}
}

type lineRequest struct {
	productID snowflake.ID
	quantity  int64
	notes     *string
}

func (s *Service) Create(ctx context.Context, req domain.CreateOrderRequest) (*domain.Response, error) {
	ctx, span := tracer.Start(ctx, "order.create", trace.WithAttributes(
		tracing.SafeAttributes(attribute.Int("order.lines", len(req.Items)))...,
	))
	defer span.End()

	orderType, err := domain.ParseOrderType(req.OrderType)
	if err != nil {
		return nil, err
	}
	if len(req.Items) == 0 {
		return nil, domain.ErrEmptyOrder
	}
	if req.DiscountAmount < 0 {
		return nil, domain.ErrInvalidDiscount
	}

	lines := make([]lineRequest, 0, len(req.Items))
	for _, item := range req.Items {
		productID, err := snowflake.ParseString(strings.TrimSpace(item.ProductID))
		if err != nil || productID == 0 {
			return nil, domain.ErrInvalidProduct
		}
		if item.Quantity <= 0 {
			return nil, domain.ErrInvalidQuantity
		}
		lines = append(lines, lineRequest{
			productID: productID,
			quantity:  item.Quantity,
			notes:     normalizePointer(item.Notes),
		})
	}

	customerID := normalizePointer(req.CustomerID)
	staffID := normalizePointer(req.StaffID)
	if role, actorID := obscontext.ActorFromContext(ctx); role != "" && actorID != "" {
		switch {
		case role == "customer":
			customerID = &actorID
		case staffID == nil:
			staffID = &actorID
		}
	}

	var created *domain.Order
	err = s.withTx(ctx, func(tx *gorm.DB) error {
		now := s.clock.Now().UTC()
		order := &domain.Order{
			ID:             s.genID.Generate(),
			CustomerID:     customerID,
			StaffID:        staffID,
			OrderType:      orderType,
			TableNumber:    normalizePointer(req.TableNumber),
			Status:         domain.StatusPending,
			DiscountReason: normalizePointer(req.DiscountReason),
			Notes:          normalizePointer(req.Notes),
			CreatedAt:      now,
			UpdatedAt:      now,
		}

		items := make([]domain.OrderItem, 0, len(lines))
		for _, line := range lines {
			snapshot, err := s.catalog.GetPriceAndTax(ctx, tx, line.productID)
			if err != nil {
				return err
			}
			// Sold-out products are unavailable too; reserving first reports them as short stock.
			if err := s.inventory.Reserve(ctx, tx, line.productID, line.quantity); err != nil {
				return fmt.Errorf("reserve %s: %w", snapshot.Name, err)
			}
			if !snapshot.IsAvailable {
				return fmt.Errorf("%w: %s", productdomain.ErrProductUnavailable, snapshot.Name)
			}

			item := domain.OrderItem{
				ID:          s.genID.Generate(),
				OrderID:     order.ID,
				ProductID:   line.productID,
				ProductName: snapshot.Name,
				Quantity:    line.quantity,
				UnitPrice:   snapshot.Price,
				TaxRate:     snapshot.TaxRate,
				Notes:       line.notes,
				CreatedAt:   now,
			}
			domain.PriceLine(&item)
			items = append(items, item)
		}

		totals, err := domain.Recalculate(items, req.DiscountAmount)
		if err != nil {
			return err
		}
		totals.Apply(order)

		number, err := s.sequence.Next(ctx, tx, sequence.ScopeOrder, now)
		if err != nil {
			return err
		}
		order.OrderNumber = number

		if err := s.repo.Insert(ctx, tx, order); err != nil {
			return err
		}
		if err := s.repo.InsertItems(ctx, tx, items); err != nil {
			return err
		}

		order.Items = items
		created = order
		return nil
	})
	if err != nil {
		span.RecordError(tracing.SafeError(err))
		span.SetStatus(codes.Error, "order create failed")
		return nil, err
	}

	span.SetAttributes(tracing.SafeAttributes(attribute.String("order.id", created.ID.String()))...)
	s.obsMetrics.RecordOrderCreated(ctx, string(created.OrderType))
	logger.WithOrder(logger.WithContext(ctx, s.log), created.ID.String(), created.OrderNumber).Info("order created",
		zap.Int("lines", len(created.Items)),
		zap.Int64("total_amount", created.TotalAmount),
	)
	s.audit(ctx, "order.created", created, map[string]any{
		"order_number": created.OrderNumber,
		"total_amount": created.TotalAmount,
	})

	resp := toResponse(created)
	return &resp, nil
}

func (s *Service) Get(ctx context.Context, id string) (*domain.Response, error) {
	orderID, err := parseID(id)
	if err != nil {
		return nil, err
	}

	order, err := s.repo.FindByID(ctx, s.db, orderID)
	if err != nil {
		return nil, err
	}
	if order == nil {
		return nil, domain.ErrNotFound
	}

	items, err := s.repo.FindItems(ctx, s.db, order.ID)
	if err != nil {
		return nil, err
	}
	order.Items = items

	resp := toResponse(order)
	return &resp, nil
}

func (s *Service) List(ctx context.Context, req domain.ListRequest) (domain.ListResponse, error) {
	filter := domain.ListFilter{
		CustomerID:  strings.TrimSpace(req.CustomerID),
		CreatedFrom: req.CreatedFrom,
		CreatedTo:   req.CreatedTo,
	}
	if req.CreatedFrom != nil && req.CreatedTo != nil && req.CreatedFrom.After(*req.CreatedTo) {
		return domain.ListResponse{}, domain.ErrInvalidTimeRange
	}
	if strings.TrimSpace(req.Status) != "" {
		status, err := domain.ParseStatus(req.Status)
		if err != nil {
			return domain.ListResponse{}, err
		}
		filter.Status = &status
	}

	if strings.TrimSpace(req.PageToken) != "" {
		decoded, err := pagination.DecodeCursor(req.PageToken)
		if err != nil {
			return domain.ListResponse{}, domain.ErrInvalidPageToken
		}
		createdAt, err := time.Parse(time.RFC3339Nano, decoded.CreatedAt)
		if err != nil {
			return domain.ListResponse{}, domain.ErrInvalidPageToken
		}
		cursorID, err := snowflake.ParseString(strings.TrimSpace(decoded.ID))
		if err != nil || cursorID == 0 {
			return domain.ListResponse{}, domain.ErrInvalidPageToken
		}
		filter.Cursor = &domain.Cursor{ID: cursorID, CreatedAt: createdAt}
	}

	pageSize := req.PageSize
	if pageSize <= 0 {
		pageSize = 20
	}
	if pageSize > 100 {
		pageSize = 100
	}
	filter.Limit = pageSize

	orders, err := s.repo.List(ctx, s.db, filter)
	if err != nil {
		return domain.ListResponse{}, err
	}

	pageInfo := pagination.BuildCursorPageInfo(orders, int32(pageSize), func(item *domain.Order) string {
		token, err := pagination.EncodeCursor(pagination.Cursor{
			ID:        item.ID.String(),
			CreatedAt: item.CreatedAt.UTC().Format(time.RFC3339Nano),
		})
		if err != nil {
			return ""
		}
		return token
	})
	if len(orders) > pageSize {
		orders = orders[:pageSize]
	}

	responses, err := s.withItems(ctx, orders)
	if err != nil {
		return domain.ListResponse{}, err
	}

	resp := domain.ListResponse{Orders: responses}
	if pageInfo != nil {
		resp.PageInfo = *pageInfo
	}
	return resp, nil
}

// Today returns every order created since midnight in the business timezone.
func (s *Service) Today(ctx context.Context) ([]domain.Response, error) {
	now := s.clock.Now().In(s.loc)
	midnight := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, s.loc)

	orders, err := s.repo.List(ctx, s.db, domain.ListFilter{CreatedFrom: &midnight})
	if err != nil {
		return nil, err
	}
	return s.withItems(ctx, orders)
}

func (s *Service) Stats(ctx context.Context, req domain.StatsRequest) (*domain.StatsResponse, error) {
	if req.From != nil && req.To != nil && req.From.After(*req.To) {
		return nil, domain.ErrInvalidTimeRange
	}

	rows, err := s.repo.CountByStatus(ctx, s.db, req.From, req.To)
	if err != nil {
		return nil, err
	}

	resp := &domain.StatsResponse{ByStatus: map[domain.Status]domain.StatusStat{}}
	var completedCount int64
	for _, row := range rows {
		resp.TotalOrders += row.Count
		resp.ByStatus[row.Status] = domain.StatusStat{Count: row.Count, Amount: row.Amount}
		if row.Status == domain.StatusCompleted {
			resp.CompletedAmount = row.Amount
			completedCount = row.Count
		}
	}
	if completedCount > 0 {
		resp.AverageOrderValue = resp.CompletedAmount / completedCount
	}
	return resp, nil
}

func (s *Service) Transition(ctx context.Context, id string, req domain.TransitionRequest) (*domain.Response, error) {
	target, err := domain.ParseStatus(req.Status)
	if err != nil {
		return nil, err
	}
	if target == domain.StatusCancelled {
		return s.Cancel(ctx, id, req.Reason)
	}

	orderID, err := parseID(id)
	if err != nil {
		return nil, err
	}

	var (
		updated *domain.Order
		from    domain.Status
	)
	err = s.withTx(ctx, func(tx *gorm.DB) error {
		order, err := s.repo.FindByIDForUpdate(ctx, tx, orderID)
		if err != nil {
			return err
		}
		if order == nil {
			return domain.ErrNotFound
		}
		if err := domain.ValidateTransition(order.Status, target); err != nil {
			return err
		}

		if target == domain.StatusCompleted {
			settled, err := s.repo.SettledAmount(ctx, tx, order.ID)
			if err != nil {
				return err
			}
			if settled < order.TotalAmount {
				return fmt.Errorf("%w: %w", domain.ErrInvalidTransition, domain.ErrNotSettled)
			}
		}

		from = order.Status
		now := s.clock.Now().UTC()
		order.Status = target
		order.UpdatedAt = now
		switch target {
		case domain.StatusPreparing:
			order.StartedAt = &now
		case domain.StatusCompleted:
			order.CompletedAt = &now
		}

		ok, err := s.repo.UpdateStatus(ctx, tx, order, from)
		if err != nil {
			return err
		}
		if !ok {
			return fmt.Errorf("%w: order changed concurrently", domain.ErrInvalidTransition)
		}

		items, err := s.repo.FindItems(ctx, tx, order.ID)
		if err != nil {
			return err
		}
		order.Items = items
		updated = order
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.obsMetrics.RecordOrderTransition(ctx, string(from), string(target))
	s.audit(ctx, "order.status_changed", updated, map[string]any{
		"from": string(from),
		"to":   string(target),
	})

	resp := toResponse(updated)
	return &resp, nil
}

// Cancel moves a pending or confirmed order to cancelled and returns every
// reserved line to stock in the same transaction.
func (s *Service) Cancel(ctx context.Context, id string, reason *string) (*domain.Response, error) {
	orderID, err := parseID(id)
	if err != nil {
		return nil, err
	}

	var (
		cancelled *domain.Order
		from      domain.Status
	)
	err = s.withTx(ctx, func(tx *gorm.DB) error {
		order, err := s.repo.FindByIDForUpdate(ctx, tx, orderID)
		if err != nil {
			return err
		}
		if order == nil {
			return domain.ErrNotFound
		}
		if err := domain.ValidateTransition(order.Status, domain.StatusCancelled); err != nil {
			return err
		}

		items, err := s.repo.FindItems(ctx, tx, order.ID)
		if err != nil {
			return err
		}
		for _, item := range items {
			if err := s.inventory.Release(ctx, tx, item.ProductID, item.Quantity); err != nil {
				return err
			}
		}

		from = order.Status
		now := s.clock.Now().UTC()
		order.Status = domain.StatusCancelled
		order.CancelledAt = &now
		order.CancellationReason = normalizePointer(reason)
		order.UpdatedAt = now

		ok, err := s.repo.UpdateStatus(ctx, tx, order, from)
		if err != nil {
			return err
		}
		if !ok {
			return fmt.Errorf("%w: order changed concurrently", domain.ErrInvalidTransition)
		}

		order.Items = items
		cancelled = order
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.obsMetrics.RecordOrderTransition(ctx, string(from), string(domain.StatusCancelled))
	metadata := map[string]any{"from": string(from), "lines_released": len(cancelled.Items)}
	if cancelled.CancellationReason != nil {
		metadata["reason"] = *cancelled.CancellationReason
	}
	s.audit(ctx, "order.cancelled", cancelled, metadata)

	resp := toResponse(cancelled)
	return &resp, nil
}

func (s *Service) ApplyDiscount(ctx context.Context, id string, req domain.DiscountRequest) (*domain.Response, error) {
	orderID, err := parseID(id)
	if err != nil {
		return nil, err
	}
	if req.DiscountAmount < 0 {
		return nil, domain.ErrInvalidDiscount
	}

	var updated *domain.Order
	err = s.withTx(ctx, func(tx *gorm.DB) error {
		order, err := s.repo.FindByIDForUpdate(ctx, tx, orderID)
		if err != nil {
			return err
		}
		if order == nil {
			return domain.ErrNotFound
		}
		if !order.Status.CanCancel() {
			return fmt.Errorf("%w: discount not allowed on %s order", domain.ErrInvalidTransition, order.Status)
		}

		items, err := s.repo.FindItems(ctx, tx, order.ID)
		if err != nil {
			return err
		}
		totals, err := domain.Recalculate(items, req.DiscountAmount)
		if err != nil {
			return err
		}
		totals.Apply(order)
		order.DiscountReason = normalizePointer(req.Reason)
		order.UpdatedAt = s.clock.Now().UTC()

		if err := s.repo.UpdateTotals(ctx, tx, order); err != nil {
			return err
		}
		order.Items = items
		updated = order
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.audit(ctx, "order.discount_applied", updated, map[string]any{
		"discount_amount": updated.DiscountAmount,
		"total_amount":    updated.TotalAmount,
	})

	resp := toResponse(updated)
	return &resp, nil
}

func (s *Service) LockForSettlement(ctx context.Context, tx *gorm.DB, id string) (*domain.Order, error) {
	orderID, err := parseID(id)
	if err != nil {
		return nil, err
	}
	order, err := s.repo.FindByIDForUpdate(ctx, tx, orderID)
	if err != nil {
		return nil, err
	}
	if order == nil {
		return nil, domain.ErrNotFound
	}
	return order, nil
}

func (s *Service) CompleteInTx(ctx context.Context, tx *gorm.DB, order *domain.Order) error {
	if err := domain.ValidateTransition(order.Status, domain.StatusCompleted); err != nil {
		return err
	}

	from := order.Status
	now := s.clock.Now().UTC()
	order.Status = domain.StatusCompleted
	order.CompletedAt = &now
	order.UpdatedAt = now

	ok, err := s.repo.UpdateStatus(ctx, tx, order, from)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("%w: order changed concurrently", domain.ErrInvalidTransition)
	}
	return nil
}

func (s *Service) withTx(ctx context.Context, fn func(tx *gorm.DB) error) error {
	return db.RunInTx(ctx, s.db, s.log, fn)
}

func (s *Service) withItems(ctx context.Context, orders []*domain.Order) ([]domain.Response, error) {
	ids := make([]snowflake.ID, 0, len(orders))
	for _, order := range orders {
		ids = append(ids, order.ID)
	}
	items, err := s.repo.FindItemsByOrderIDs(ctx, s.db, ids)
	if err != nil {
		return nil, err
	}
	byOrder := make(map[snowflake.ID][]domain.OrderItem, len(orders))
	for _, item := range items {
		byOrder[item.OrderID] = append(byOrder[item.OrderID], item)
	}

	responses := make([]domain.Response, 0, len(orders))
	for _, order := range orders {
		order.Items = byOrder[order.ID]
		responses = append(responses, toResponse(order))
	}
	return responses, nil
}

func (s *Service) audit(ctx context.Context, action string, order *domain.Order, metadata map[string]any) {
	if s.auditSvc == nil || order == nil {
		return
	}
	targetID := order.ID.String()
	if err := s.auditSvc.AuditLog(ctx, "", nil, action, "order", &targetID, metadata); err != nil {
		s.log.Warn("failed to write order audit log", zap.String("action", action), zap.Error(err))
	}
}

func parseID(id string) (snowflake.ID, error) {
	parsed, err := snowflake.ParseString(strings.TrimSpace(id))
	if err != nil || parsed == 0 {
		return 0, domain.ErrInvalidID
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

func toResponse(order *domain.Order) domain.Response {
	resp := domain.Response{
		ID:                 order.ID.String(),
		OrderNumber:        order.OrderNumber,
		CustomerID:         order.CustomerID,
		StaffID:            order.StaffID,
		OrderType:          order.OrderType,
		TableNumber:        order.TableNumber,
		Status:             order.Status,
		Subtotal:           order.Subtotal,
		DiscountAmount:     order.DiscountAmount,
		DiscountReason:     order.DiscountReason,
		TaxAmount:          order.TaxAmount,
		TotalAmount:        order.TotalAmount,
		Notes:              order.Notes,
		CancellationReason: order.CancellationReason,
		CreatedAt:          order.CreatedAt,
		UpdatedAt:          order.UpdatedAt,
		StartedAt:          order.StartedAt,
		CompletedAt:        order.CompletedAt,
		CancelledAt:        order.CancelledAt,
	}
	if len(order.Items) > 0 {
		resp.Items = make([]domain.ItemResponse, 0, len(order.Items))
		for _, item := range order.Items {
			resp.Items = append(resp.Items, domain.ItemResponse{
				ID:             item.ID.String(),
				ProductID:      item.ProductID.String(),
				ProductName:    item.ProductName,
				Quantity:       item.Quantity,
				UnitPrice:      item.UnitPrice,
				TaxRate:        item.TaxRate.String(),
				TaxAmount:      item.TaxAmount,
				DiscountAmount: item.DiscountAmount,
				Subtotal:       item.Subtotal,
				TotalPrice:     item.TotalPrice,
				Notes:          item.Notes,
			})
		}
	}
	return resp
}
