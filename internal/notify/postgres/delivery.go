package postgres

import (
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/mkumbo/billing-gateway/internal/core/datamodel/delivery"
	notifypkg "github.com/mkumbo/billing-gateway/internal/notify"
)

type DeliveryRepository struct {
	db *gorm.DB
}

func NewDeliveryRepository(db *gorm.DB) notifypkg.RepositoryAPI {
	return &DeliveryRepository{db: db}
}

// GetOrCreate inserts the delivery row unless its event key exists. The
// unique index arbitrates concurrent enqueues of the same event.
func (r *DeliveryRepository) GetOrCreate(d *delivery.Delivery) (*delivery.Delivery, bool, error) {
	res := r.db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "event_key"}},
		DoNothing: true,
	}).Create(d)
	if res.Error != nil {
		return nil, false, res.Error
	}
	if res.RowsAffected > 0 {
		return d, true, nil
	}

	var existing delivery.Delivery
	if err := r.db.Where("event_key = ?", d.EventKey).First(&existing).Error; err != nil {
		return nil, false, err
	}
	return &existing, false, nil
}

func (r *DeliveryRepository) SetStatus(id int64, status delivery.Status, detail string) error {
	return r.db.Model(&delivery.Delivery{}).Where("id = ?", id).Updates(map[string]any{
		"status": status,
		"detail": detail,
	}).Error
}
