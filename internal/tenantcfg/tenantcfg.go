package tenantcfg

import (
	"fmt"
	"strings"

	"github.com/spf13/viper"

	"github.com/casefront/outbound/internal/service/models/message"
)

// Credentials is the per-tenant provider configuration for one channel.
type Credentials struct {
	APIKey string
	Sender string
}

// RateTier is the per-tenant send quota for one channel.
type RateTier struct {
	HourlyLimit int
	Burst       int
}

// Store resolves per-tenant channel configuration from the application
// config. Keys live under tenants.<orgID>.<channel>; tenant provisioning
// itself is owned by the surrounding application.
type Store struct{}

// NewStore creates a tenant configuration store.
func NewStore() *Store {
	return &Store{}
}

// Credentials returns the provider credentials for a tenant and channel.
// The boolean is false when the tenant has no configuration for the channel.
func (s *Store) Credentials(orgID int64, ch message.Channel) (Credentials, bool) {
	base := key(orgID, ch)

	creds := Credentials{
		APIKey: viper.GetString(base + ".api_key"),
		Sender: viper.GetString(base + ".sender"),
	}
	if creds.APIKey == "" {
		return Credentials{}, false
	}

	return creds, true
}

// RateTier returns the send quota for a tenant and channel, falling back to
// the default tier when none is configured.
func (s *Store) RateTier(orgID int64, ch message.Channel) RateTier {
	base := key(orgID, ch)

	tier := RateTier{
		HourlyLimit: viper.GetInt(base + ".hourly_limit"),
		Burst:       viper.GetInt(base + ".burst"),
	}
	if tier.HourlyLimit == 0 {
		tier.HourlyLimit = viper.GetInt("tenants.default.hourly_limit")
	}
	if tier.HourlyLimit == 0 {
		tier.HourlyLimit = 1000
	}
	if tier.Burst == 0 {
		tier.Burst = viper.GetInt("tenants.default.burst")
	}
	if tier.Burst == 0 {
		tier.Burst = 10
	}

	return tier
}

func key(orgID int64, ch message.Channel) string {
	return fmt.Sprintf("tenants.%d.%s", orgID, strings.ToLower(string(ch)))
}
