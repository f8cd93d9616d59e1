package database

import (
	"errors"
	"time"

	"gorm.io/gorm"
)

// EscalationSettings holds the response-time thresholds after which an
// unacknowledged signal is escalated
type EscalationSettings struct {
	ID              uint      `gorm:"primaryKey" json:"id"`
	Enabled         bool      `json:"enabled"`
	CriticalMinutes int       `gorm:"default:5" json:"critical_minutes"`
	HighMinutes     int       `gorm:"default:15" json:"high_minutes"`
	MediumMinutes   int       `gorm:"default:30" json:"medium_minutes"`
	LowMinutes      int       `gorm:"default:60" json:"low_minutes"`
	CreatedAt       time.Time `json:"created_at"`
	UpdatedAt       time.Time `json:"updated_at"`
}

func (EscalationSettings) TableName() string {
	return "escalation_settings"
}

// NewDefaultEscalationSettings returns settings with default values
func NewDefaultEscalationSettings() *EscalationSettings {
	return &EscalationSettings{
		Enabled:         true,
		CriticalMinutes: 5,
		HighMinutes:     15,
		MediumMinutes:   30,
		LowMinutes:      60,
	}
}

// Threshold returns how long a signal of the given priority may sit
// untouched before it is escalated
func (s *EscalationSettings) Threshold(p Priority) time.Duration {
	var minutes int
	switch p {
	case PriorityCritical:
		minutes = s.CriticalMinutes
	case PriorityHigh:
		minutes = s.HighMinutes
	case PriorityMedium:
		minutes = s.MediumMinutes
	default:
		minutes = s.LowMinutes
	}
	return time.Duration(minutes) * time.Minute
}

// Validate checks that every threshold is positive
func (s *EscalationSettings) Validate() error {
	if s.CriticalMinutes <= 0 || s.HighMinutes <= 0 || s.MediumMinutes <= 0 || s.LowMinutes <= 0 {
		return errors.New("escalation thresholds must be positive")
	}
	return nil
}

// GetOrCreateEscalationSettings returns the settings row, creating it
// from defaults when missing.
// Accepts a db parameter for dependency injection, transaction support, and testing.
func GetOrCreateEscalationSettings(db *gorm.DB, defaults *EscalationSettings) (*EscalationSettings, error) {
	var settings EscalationSettings
	result := db.First(&settings)
	if errors.Is(result.Error, gorm.ErrRecordNotFound) {
		if defaults == nil {
			defaults = NewDefaultEscalationSettings()
		}
		settings = *defaults
		settings.ID = 0
		if err := db.Create(&settings).Error; err != nil {
			return nil, err
		}
	} else if result.Error != nil {
		return nil, result.Error
	}
	return &settings, nil
}

// UpdateEscalationSettings saves the settings row
func UpdateEscalationSettings(db *gorm.DB, settings *EscalationSettings) error {
	if err := settings.Validate(); err != nil {
		return err
	}
	return db.Save(settings).Error
}
