package repository

import (
	"context"
	"errors"
	"time"

	"walletrecharge/internal/model"

	"gorm.io/gorm"
)

type RechargeRepository struct {
	db *gorm.DB
}

func NewRechargeRepository(db *gorm.DB) *RechargeRepository {
	return &RechargeRepository{db: db}
}

func (r *RechargeRepository) Create(ctx context.Context, req *model.RechargeRequest) error {
	return r.db.WithContext(ctx).Create(req).Error
}

func (r *RechargeRepository) GetByID(ctx context.Context, id string) (*model.RechargeRequest, error) {
	return r.first(ctx, "id = ?", id)
}

func (r *RechargeRepository) GetByGatewayOrderID(ctx context.Context, orderID string) (*model.RechargeRequest, error) {
	return r.first(ctx, "gateway_order_id = ?", orderID)
}

func (r *RechargeRepository) first(ctx context.Context, query string, arg interface{}) (*model.RechargeRequest, error) {
	var req model.RechargeRequest
	err := r.db.WithContext(ctx).Where(query, arg).First(&req).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrRechargeNotFound
		}
		return nil, err
	}
	return &req, nil
}

func (r *RechargeRepository) ListByOwner(ctx context.Context, ownerID string, page, pageSize int) ([]*model.RechargeRequest, int64, error) {
	var (
		list  []*model.RechargeRequest
		total int64
	)
	query := r.db.WithContext(ctx).Model(&model.RechargeRequest{}).Where("owner_id = ?", ownerID)
	if err := query.Count(&total).Error; err != nil {
		return nil, 0, err
	}
	err := query.Order("created_at DESC").
		Offset((page - 1) * pageSize).
		Limit(pageSize).
		Find(&list).Error
	return list, total, err
}

// MarkPaymentInitiated pending -> payment_initiated，同时写入网关订单号
// 网关订单号只允许写一次
func (r *RechargeRepository) MarkPaymentInitiated(ctx context.Context, id, gatewayOrderID string) error {
	result := r.db.WithContext(ctx).
		Model(&model.RechargeRequest{}).
		Where("id = ? AND status = ? AND gateway_order_id IS NULL", id, model.RechargeStatusPending).
		Updates(map[string]interface{}{
			"status":           model.RechargeStatusPaymentInitiated,
			"gateway_order_id": gatewayOrderID,
		})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return ErrRechargeStatusConflict
	}
	return nil
}

// Claim 认领充值单：{pending, payment_initiated} -> processing
//
// 【关键点】这是同步确认和 webhook 两条路径之间唯一的互斥手段。
// UPDATE ... WHERE status IN (...) 在数据库层面是原子的，RowsAffected == 1 的调用方赢得认领，
// 其他调用方拿到 false，不能继续入账。
//
// 认领时一并写入支付单号和签名，这样停留在 processing 的充值单带着补偿所需的全部信息
func (r *RechargeRepository) Claim(ctx context.Context, id, paymentID, signature string) (bool, error) {
	result := r.db.WithContext(ctx).
		Model(&model.RechargeRequest{}).
		Where("id = ? AND status IN ?", id, model.ClaimableStatuses).
		Updates(map[string]interface{}{
			"status":             model.RechargeStatusProcessing,
			"gateway_payment_id": paymentID,
			"gateway_signature":  signature,
		})
	if result.Error != nil {
		if isDuplicateKey(result.Error) {
			return false, ErrPaymentAlreadyBound
		}
		return false, result.Error
	}
	return result.RowsAffected == 1, nil
}

// Complete processing -> completed
func (r *RechargeRepository) Complete(ctx context.Context, id string) error {
	now := time.Now()
	return r.transition(ctx, id, model.RechargeStatusProcessing, model.RechargeStatusCompleted, map[string]interface{}{
		"completed_at": &now,
	})
}

// Fail processing -> failed
func (r *RechargeRepository) Fail(ctx context.Context, id string) error {
	return r.transition(ctx, id, model.RechargeStatusProcessing, model.RechargeStatusFailed, nil)
}

// Cancel pending -> cancelled，用于超时未发起支付的充值单
func (r *RechargeRepository) Cancel(ctx context.Context, id string) error {
	return r.transition(ctx, id, model.RechargeStatusPending, model.RechargeStatusCancelled, nil)
}

func (r *RechargeRepository) transition(ctx context.Context, id, fromStatus, toStatus string, extra map[string]interface{}) error {
	if !model.CanTransitionTo(fromStatus, toStatus) {
		return ErrRechargeStatusConflict
	}

	updates := map[string]interface{}{
		"status": toStatus,
	}
	for k, v := range extra {
		updates[k] = v
	}

	result := r.db.WithContext(ctx).
		Model(&model.RechargeRequest{}).
		Where("id = ? AND status = ?", id, fromStatus).
		Updates(updates)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return ErrRechargeStatusConflict
	}
	return nil
}

// ListStuckProcessing 查询在 processing 停留超过阈值的充值单
func (r *RechargeRepository) ListStuckProcessing(ctx context.Context, before time.Time, limit int) ([]*model.RechargeRequest, error) {
	var list []*model.RechargeRequest
	err := r.db.WithContext(ctx).
		Where("status = ? AND updated_at < ?", model.RechargeStatusProcessing, before).
		Order("updated_at ASC").
		Limit(limit).
		Find(&list).Error
	return list, err
}

// ListExpiredPending 查询创建后长时间未发起支付的充值单
func (r *RechargeRepository) ListExpiredPending(ctx context.Context, before time.Time, limit int) ([]*model.RechargeRequest, error) {
	var list []*model.RechargeRequest
	err := r.db.WithContext(ctx).
		Where("status = ? AND created_at < ?", model.RechargeStatusPending, before).
		Order("created_at ASC").
		Limit(limit).
		Find(&list).Error
	return list, err
}
