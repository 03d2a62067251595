package repository

import (
	"context"
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
	orderdomain "github.com/ngtluan2k/NextMarket-sub001/internal/order/domain"
	"gorm.io/gorm"
)

type repositoryImpl struct{}

// Provide constructs the order repository.
func Provide() orderdomain.Repository {
	return repositoryImpl{}
}

func (repositoryImpl) FindOrder(ctx context.Context, db *gorm.DB, orderID snowflake.ID) (*orderdomain.Order, error) {
	var order orderdomain.Order
	err := db.WithContext(ctx).
		Preload("Items").
		Where("id = ?", orderID).
		Take(&order).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &order, nil
}

func (repositoryImpl) FindGroupOrder(ctx context.Context, db *gorm.DB, groupOrderID snowflake.ID) (*orderdomain.GroupOrder, error) {
	var group orderdomain.GroupOrder
	err := db.WithContext(ctx).
		Preload("Members").
		Where("id = ?", groupOrderID).
		Take(&group).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &group, nil
}

func (repositoryImpl) FindOrderItem(ctx context.Context, db *gorm.DB, itemID snowflake.ID) (*orderdomain.OrderItem, error) {
	var item orderdomain.OrderItem
	err := db.WithContext(ctx).
		Where("id = ?", itemID).
		Take(&item).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &item, nil
}

func (repositoryImpl) WriteAttribution(ctx context.Context, db *gorm.DB, orderID snowflake.ID, affiliateUserID snowflake.ID, programID, linkID *snowflake.ID) error {
	return db.WithContext(ctx).Exec(
		`UPDATE orders
		 SET affiliate_user_id = ?, program_id = ?, link_id = ?, updated_at = ?
		 WHERE id = ?`,
		affiliateUserID, programID, linkID, time.Now().UTC(), orderID,
	).Error
}
