package connector

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"
)

var (
	// ErrUnsupportedPlatform indicates the platform is not in the descriptor catalog.
	ErrUnsupportedPlatform = errors.New("connector: unsupported platform")
	// ErrNotConfigured indicates no connector row exists for the platform.
	ErrNotConfigured = errors.New("connector: not configured")
)

// Credentials carries the secrets and settings supplied when connecting a
// platform.
type Credentials struct {
	APIKey         string
	AccessToken    string
	RefreshToken   string
	TokenExpiresAt *time.Time
	ConfigJSON     *string
}

// ServiceConfig describes the dependencies of the connector registry.
type ServiceConfig struct {
	Database *gorm.DB
	Clock    func() time.Time
}

// Service manages platform connector rows.
type Service struct {
	db  *gorm.DB
	now func() time.Time
}

// NewService constructs the connector registry.
func NewService(cfg ServiceConfig) (*Service, error) {
	if cfg.Database == nil {
		return nil, fmt.Errorf("connector: database connection required")
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	return &Service{db: cfg.Database, now: clock}, nil
}

// Connect stores credentials for a platform, creating the row on first use,
// and marks the connector connected.
func (s *Service) Connect(ctx context.Context, platform string, credentials Credentials) (Connector, error) {
	descriptor, ok := Lookup(platform)
	if !ok {
		return Connector{}, fmt.Errorf("%w: %q", ErrUnsupportedPlatform, platform)
	}

	var connector Connector
	txErr := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		err := tx.Where("platform = ?", descriptor.Platform).First(&connector).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			connector = Connector{
				Platform:    descriptor.Platform,
				DisplayName: descriptor.DisplayName,
			}
			if err := tx.Create(&connector).Error; err != nil {
				return err
			}
		} else if err != nil {
			return err
		}

		updates := map[string]interface{}{
			"is_connected":     true,
			"api_key":          credentials.APIKey,
			"access_token":     credentials.AccessToken,
			"refresh_token":    credentials.RefreshToken,
			"token_expires_at": credentials.TokenExpiresAt,
			"config_json":      credentials.ConfigJSON,
			"updated_at":       s.now().UTC(),
		}
		if err := tx.Model(&Connector{}).Where("platform = ?", descriptor.Platform).Updates(updates).Error; err != nil {
			return err
		}
		return tx.Where("platform = ?", descriptor.Platform).First(&connector).Error
	})
	if txErr != nil {
		return Connector{}, txErr
	}
	return connector, nil
}

// Disconnect clears credentials and marks the connector disconnected. The
// row is retained so history queries keep their platform reference.
func (s *Service) Disconnect(ctx context.Context, platform string) (Connector, error) {
	descriptor, ok := Lookup(platform)
	if !ok {
		return Connector{}, fmt.Errorf("%w: %q", ErrUnsupportedPlatform, platform)
	}

	result := s.db.WithContext(ctx).Model(&Connector{}).
		Where("platform = ?", descriptor.Platform).
		Updates(map[string]interface{}{
			"is_connected":     false,
			"api_key":          "",
			"access_token":     "",
			"refresh_token":    "",
			"token_expires_at": nil,
			"updated_at":       s.now().UTC(),
		})
	if result.Error != nil {
		return Connector{}, result.Error
	}
	if result.RowsAffected == 0 {
		return Connector{}, fmt.Errorf("%w: %q", ErrNotConfigured, platform)
	}

	var connector Connector
	if err := s.db.WithContext(ctx).Where("platform = ?", descriptor.Platform).First(&connector).Error; err != nil {
		return Connector{}, err
	}
	return connector, nil
}

// Get returns the connector row for a platform.
func (s *Service) Get(ctx context.Context, platform string) (Connector, error) {
	descriptor, ok := Lookup(platform)
	if !ok {
		return Connector{}, fmt.Errorf("%w: %q", ErrUnsupportedPlatform, platform)
	}

	var connector Connector
	err := s.db.WithContext(ctx).Where("platform = ?", descriptor.Platform).First(&connector).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return Connector{}, fmt.Errorf("%w: %q", ErrNotConfigured, platform)
	}
	if err != nil {
		return Connector{}, err
	}
	return connector, nil
}

// List returns every configured connector row.
func (s *Service) List(ctx context.Context) ([]Connector, error) {
	var connectors []Connector
	if err := s.db.WithContext(ctx).Order("platform ASC").Find(&connectors).Error; err != nil {
		return nil, err
	}
	return connectors, nil
}

// Connected returns the platform identifiers with a connected connector.
// The collector uses it to decide which platforms to poll.
func (s *Service) Connected(ctx context.Context) ([]string, error) {
	var connectors []Connector
	if err := s.db.WithContext(ctx).
		Where("is_connected = ?", true).
		Order("platform ASC").
		Find(&connectors).Error; err != nil {
		return nil, err
	}
	platforms := make([]string, 0, len(connectors))
	for _, connector := range connectors {
		platforms = append(platforms, connector.Platform)
	}
	return platforms, nil
}
