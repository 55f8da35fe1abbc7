package connector

import (
	"strings"
	"time"
)

// Connector stores the configuration and credential state for one platform
// integration. One row per platform; disconnecting clears credentials but
// keeps the row.
type Connector struct {
	Platform       string     `gorm:"column:platform;primaryKey;size:50;not null"`
	DisplayName    string     `gorm:"column:display_name;size:100;not null"`
	IsConnected    bool       `gorm:"column:is_connected;not null;default:false"`
	APIKey         string     `gorm:"column:api_key;size:500"`
	AccessToken    string     `gorm:"column:access_token;type:text"`
	RefreshToken   string     `gorm:"column:refresh_token;type:text"`
	TokenExpiresAt *time.Time `gorm:"column:token_expires_at"`
	ConfigJSON     *string    `gorm:"column:config_json;type:text"`
	CreatedAt      time.Time  `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt      time.Time  `gorm:"column:updated_at;autoUpdateTime"`
}

// TableName provides the explicit table binding for GORM.
func (Connector) TableName() string {
	return "connectors"
}

// Descriptor names a platform this deployment can talk to.
type Descriptor struct {
	Platform    string
	DisplayName string
}

var catalog = []Descriptor{
	{Platform: "amazon", DisplayName: "Amazon"},
	{Platform: "swiggy", DisplayName: "Swiggy"},
	{Platform: "blinkit", DisplayName: "Blinkit"},
	{Platform: "ubereats", DisplayName: "Uber Eats"},
}

// SupportedPlatforms lists the platform descriptors known to this build.
func SupportedPlatforms() []Descriptor {
	descriptors := make([]Descriptor, len(catalog))
	copy(descriptors, catalog)
	return descriptors
}

// Lookup returns the descriptor for a platform identifier.
func Lookup(platform string) (Descriptor, bool) {
	normalized := strings.ToLower(strings.TrimSpace(platform))
	for _, descriptor := range catalog {
		if descriptor.Platform == normalized {
			return descriptor, true
		}
	}
	return Descriptor{}, false
}
