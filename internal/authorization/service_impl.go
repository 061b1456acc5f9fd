package authorization

import (
	"context"
	_ "embed"
	"fmt"
	"strings"

	"github.com/casbin/casbin/v2"
	"github.com/casbin/casbin/v2/model"
	gormadapter "github.com/casbin/gorm-adapter/v3"
	auditdomain "github.com/smallbiznis/tillpoint/internal/audit/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

//go:embed model.conf
var modelText string

const (
	RoleAdmin    = "admin"
	RoleManager  = "manager"
	RoleStaff    = "staff"
	RoleCustomer = "customer"
)

const (
	ObjectOrder    = "order"
	ObjectPayment  = "payment"
	ObjectReport   = "report"
	ObjectAuditLog = "audit_log"
)

const (
	ActionOrderCreate       = "order.create"
	ActionOrderView         = "order.view"
	ActionOrderList         = "order.list"
	ActionOrderRange        = "order.range"
	ActionOrderStats        = "order.stats"
	ActionOrderUpdateStatus = "order.update_status"
	ActionOrderDiscount     = "order.discount"
	ActionOrderCancel       = "order.cancel"

	ActionPaymentProcess = "payment.process"
	ActionPaymentView    = "payment.view"
	ActionPaymentList    = "payment.list"
	ActionPaymentReceipt = "payment.receipt"
	ActionPaymentRefund  = "payment.refund"
	ActionPaymentStats   = "payment.stats"

	ActionReportRevenue = "report.revenue"
	ActionReportDaily   = "report.daily"

	ActionAuditLogView = "audit_log.view"
)

type Params struct {
	fx.In

	Log      *zap.Logger
	Enforcer *casbin.SyncedEnforcer
	AuditSvc auditdomain.Service `optional:"true"`
}

type ServiceImpl struct {
	log      *zap.Logger
	enforcer *casbin.SyncedEnforcer
	auditSvc auditdomain.Service
}

// NewEnforcer loads policies through the gorm adapter and seeds the role
// grants on every start.
func NewEnforcer(db *gorm.DB) (*casbin.SyncedEnforcer, error) {
	adapter, err := gormadapter.NewAdapterByDB(db)
	if err != nil {
		return nil, err
	}
	m, err := model.NewModelFromString(modelText)
	if err != nil {
		return nil, err
	}
	enforcer, err := casbin.NewSyncedEnforcer(m, adapter)
	if err != nil {
		return nil, err
	}
	enforcer.EnableAutoSave(true)
	enforcer.EnableAutoBuildRoleLinks(true)
	if err := enforcer.LoadPolicy(); err != nil {
		return nil, err
	}
	if err := seedPolicies(enforcer); err != nil {
		return nil, err
	}
	if err := enforcer.BuildRoleLinks(); err != nil {
		return nil, err
	}
	return enforcer, nil
}

func NewService(p Params) Service {
	return &ServiceImpl{
		log:      p.Log.Named("authorization.service"),
		enforcer: p.Enforcer,
		auditSvc: p.AuditSvc,
	}
}

func (s *ServiceImpl) Authorize(ctx context.Context, actorID string, role string, object string, action string) error {
	actorID = strings.TrimSpace(actorID)
	if actorID == "" {
		return ErrInvalidActor
	}
	role = strings.ToLower(strings.TrimSpace(role))
	if !knownRole(role) {
		return ErrInvalidRole
	}
	object = strings.TrimSpace(object)
	if object == "" {
		return ErrInvalidObject
	}
	action = strings.TrimSpace(action)
	if action == "" {
		return ErrInvalidAction
	}

	subject := fmt.Sprintf("user:%s", actorID)
	roleName := fmt.Sprintf("role:%s", role)
	if err := s.ensureGrouping(subject, roleName); err != nil {
		return err
	}

	allowed, err := s.enforcer.Enforce(subject, object, action)
	if err != nil {
		return err
	}
	if !allowed {
		s.auditDenied(ctx, actorID, role, object, action)
		return ErrForbidden
	}

	if shouldAuditGrant(action) {
		s.auditGranted(ctx, actorID, role, object, action)
	}
	return nil
}

// ensureGrouping keeps exactly one role link per subject, matching the role
// claimed on the latest request.
func (s *ServiceImpl) ensureGrouping(subject string, roleName string) error {
	existing, err := s.enforcer.GetFilteredGroupingPolicy(0, subject)
	if err != nil {
		return err
	}
	for _, rule := range existing {
		if len(rule) < 2 {
			continue
		}
		if rule[1] != roleName {
			params := make([]interface{}, 0, len(rule))
			for _, value := range rule {
				params = append(params, value)
			}
			_, _ = s.enforcer.RemoveGroupingPolicy(params...)
		}
	}

	has, err := s.enforcer.HasGroupingPolicy(subject, roleName)
	if err != nil {
		return err
	}
	if has {
		return nil
	}
	_, err = s.enforcer.AddGroupingPolicy(subject, roleName)
	return err
}

func (s *ServiceImpl) auditDenied(ctx context.Context, actorID string, role string, object string, action string) {
	s.log.Info("authorization denied",
		zap.String("actor_id", actorID),
		zap.String("role", role),
		zap.String("action", action),
	)
	s.audit(ctx, "authorization.denied", actorID, role, object, action)
}

func (s *ServiceImpl) auditGranted(ctx context.Context, actorID string, role string, object string, action string) {
	s.audit(ctx, "authorization.granted", actorID, role, object, action)
}

func (s *ServiceImpl) audit(ctx context.Context, event string, actorID string, role string, object string, action string) {
	if s.auditSvc == nil {
		return
	}
	targetID := "capability"
	_ = s.auditSvc.AuditLog(ctx, role, &actorID, event, "authorization", &targetID, map[string]any{
		"object": object,
		"action": action,
		"role":   role,
	})
}

func knownRole(role string) bool {
	switch role {
	case RoleAdmin, RoleManager, RoleStaff, RoleCustomer:
		return true
	default:
		return false
	}
}

func shouldAuditGrant(action string) bool {
	switch action {
	case ActionPaymentRefund, ActionOrderDiscount:
		return true
	default:
		return false
	}
}

func seedPolicies(enforcer *casbin.SyncedEnforcer) error {
	everyone := []string{RoleAdmin, RoleManager, RoleStaff, RoleCustomer}
	floor := []string{RoleAdmin, RoleManager, RoleStaff}
	managers := []string{RoleAdmin, RoleManager}

	grants := []struct {
		roles  []string
		object string
		action string
	}{
		{everyone, ObjectOrder, ActionOrderCreate},
		{everyone, ObjectOrder, ActionOrderView},
		{everyone, ObjectOrder, ActionOrderCancel},
		{floor, ObjectOrder, ActionOrderList},
		{floor, ObjectOrder, ActionOrderUpdateStatus},
		{managers, ObjectOrder, ActionOrderRange},
		{managers, ObjectOrder, ActionOrderStats},
		{managers, ObjectOrder, ActionOrderDiscount},

		{everyone, ObjectPayment, ActionPaymentProcess},
		{everyone, ObjectPayment, ActionPaymentView},
		{everyone, ObjectPayment, ActionPaymentReceipt},
		{floor, ObjectPayment, ActionPaymentList},
		{managers, ObjectPayment, ActionPaymentRefund},
		{managers, ObjectPayment, ActionPaymentStats},

		{managers, ObjectReport, ActionReportRevenue},
		{managers, ObjectReport, ActionReportDaily},

		{[]string{RoleAdmin}, ObjectAuditLog, ActionAuditLogView},
	}

	for _, grant := range grants {
		for _, role := range grant.roles {
			if _, err := enforcer.AddPolicy("role:"+role, grant.object, grant.action); err != nil {
				return err
			}
		}
	}
	return nil
}
