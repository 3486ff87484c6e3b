package config

import (
	"github.com/spf13/viper"
	"github.com/subosito/gotenv"
)

// ProductMapping binds one provider product/price identifier to a
// plan/period pair. Kept as a list, not a map: viper lowercases map
// keys and provider identifiers are case-sensitive.
type ProductMapping struct {
	ID     string `mapstructure:"id"`
	Plan   string `mapstructure:"plan"`
	Period string `mapstructure:"period"`
}

type Config struct {
	App struct {
		Env      string
		Timezone string
	} `mapstructure:"app"`

	HTTP struct {
		Addr string
		// ServiceToken authenticates the internal callers of the account
		// and admin endpoints.
		ServiceToken string `mapstructure:"service_token"`
	} `mapstructure:"http"`

	Postgres struct {
		DSN string
	} `mapstructure:"postgres"`

	Metrics struct {
		Enabled bool
	} `mapstructure:"metrics"`

	Stripe struct {
		APIKey        string           `mapstructure:"api_key"`
		WebhookSecret string           `mapstructure:"webhook_secret"`
		Prices        []ProductMapping `mapstructure:"prices"`
	} `mapstructure:"stripe"`

	RevenueCat struct {
		WebhookSecret string           `mapstructure:"webhook_secret"`
		Products      []ProductMapping `mapstructure:"products"`
	} `mapstructure:"revenuecat"`

	Ledger struct {
		// FailOpenOnError: an infrastructure error on the claim insert is
		// treated as claimed and processing continues. See the ledger
		// package for the trade-off; off means such webhooks are not
		// acknowledged and the provider redelivers.
		FailOpenOnError bool `mapstructure:"fail_open_on_error"`
	} `mapstructure:"ledger"`

	Telegram struct {
		Token       string
		AdminChatID int64 `mapstructure:"admin_chat_id"`
	} `mapstructure:"telegram"`
}

func Load(path string) (Config, error) {
	_ = gotenv.Load()

	v := viper.New()
	v.SetConfigFile(path)
	v.SetEnvPrefix("APP")
	v.AutomaticEnv()

	v.SetDefault("ledger.fail_open_on_error", true)

	var c Config
	if err := v.ReadInConfig(); err != nil {
		return c, err
	}
	if err := v.Unmarshal(&c); err != nil {
		return c, err
	}
	return c, nil
}
