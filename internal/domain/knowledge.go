package domain

import (
	"time"

	"gorm.io/gorm"
)

// SOP is a standard operating procedure in the knowledge base. Its content
// feeds the in-memory search index and grounds assistant answers.
type SOP struct {
	ID        string         `json:"id"         gorm:"type:char(36);primaryKey"`
	Code      string         `json:"code"       gorm:"type:varchar(64);index"`
	Title     string         `json:"title"      gorm:"type:varchar(255);not null"`
	Category  string         `json:"category"   gorm:"type:varchar(64);index"`
	Content   string         `json:"content"    gorm:"type:text;not null"`
	CreatedAt time.Time      `json:"created_at"`
	UpdatedAt time.Time      `json:"updated_at"`
	DeletedAt gorm.DeletedAt `json:"-"          gorm:"index"`
}

// TableName returns the database table name for SOP.
func (SOP) TableName() string { return "sops" }

// Contact is a person the field team escalates to.
type Contact struct {
	ID        string         `json:"id"         gorm:"type:char(36);primaryKey"`
	Name      string         `json:"name"       gorm:"type:varchar(255);not null"`
	Role      string         `json:"role"`
	Division  string         `json:"division"   gorm:"type:varchar(64);index"`
	Phone     string         `json:"phone"`
	CreatedAt time.Time      `json:"created_at"`
	UpdatedAt time.Time      `json:"updated_at"`
	DeletedAt gorm.DeletedAt `json:"-"          gorm:"index"`
}

// TableName returns the database table name for Contact.
func (Contact) TableName() string { return "contacts" }
