package domain

import (
	"time"

	"gorm.io/gorm"

	"github.com/tbourn/fieldops-backend/internal/classify"
)

// Partner is a merchant or agent served by the field team.
//
// Status is derived from the trailing volumes and is never taken from
// clients. The GORM hooks recompute it on every save and every load, so a
// stale value in the table cannot leak out.
//
// Fields:
//   - VolumeM2 / VolumeM1 / VolumeCurrent: shipment volume two months back,
//     one month back and in the current month.
//   - Status: classify.PartnerStatus(VolumeCurrent, VolumeM1).
type Partner struct {
	ID            string          `json:"id"             gorm:"type:char(36);primaryKey"`
	Name          string          `json:"name"           gorm:"type:varchar(255);not null;index"`
	NIA           string          `json:"nia"            gorm:"type:varchar(64);index"`
	OwnerName     string          `json:"owner_name"`
	Phone         string          `json:"phone"`
	Address       string          `json:"address"`
	City          string          `json:"city"`
	District      string          `json:"district"`
	Province      string          `json:"province"`
	Latitude      *float64        `json:"latitude,omitempty"`
	Longitude     *float64        `json:"longitude,omitempty"`
	ServiceType   string          `json:"service_type"`
	VolumeM2      float64         `json:"volume_m2"      gorm:"not null;default:0"`
	VolumeM1      float64         `json:"volume_m1"      gorm:"not null;default:0"`
	VolumeCurrent float64         `json:"volume_current" gorm:"not null;default:0"`
	Status        classify.Health `json:"status"         gorm:"type:varchar(16);not null;index"`
	CreatedAt     time.Time       `json:"created_at"`
	UpdatedAt     time.Time       `json:"updated_at"`
	DeletedAt     gorm.DeletedAt  `json:"-"              gorm:"index"`
}

// TableName returns the database table name for Partner.
func (Partner) TableName() string { return "partners" }

// Derive recomputes Status from the current volume pair.
func (p *Partner) Derive() {
	p.Status = classify.PartnerStatus(p.VolumeCurrent, p.VolumeM1)
}

// BeforeSave keeps the persisted status in step with the volumes.
func (p *Partner) BeforeSave(*gorm.DB) error {
	p.Derive()
	return nil
}

// AfterFind treats the stored status as a cache and recomputes it.
func (p *Partner) AfterFind(*gorm.DB) error {
	p.Derive()
	return nil
}
