package config

import (
	"time"

	"github.com/spf13/viper"
)

// DuelConfig holds the lifecycle policy knobs.
type DuelConfig struct {
	WaitingWindow   time.Duration // how long a waiting duel stays open for joins
	CountdownWindow time.Duration // delay between join and resolution
	SweepInterval   time.Duration // reconciliation sweep period
	StartingBalance int64         // points granted to a new participant account
}

// LoadDuelConfig returns duel policy configuration with defaults.
func LoadDuelConfig() *DuelConfig {
	viper.SetDefault("duel.waiting_window", 2*time.Minute)
	viper.SetDefault("duel.countdown_window", 15*time.Second)
	viper.SetDefault("duel.sweep_interval", 5*time.Second)
	viper.SetDefault("duel.starting_balance", 100)

	return &DuelConfig{
		WaitingWindow:   viper.GetDuration("duel.waiting_window"),
		CountdownWindow: viper.GetDuration("duel.countdown_window"),
		SweepInterval:   viper.GetDuration("duel.sweep_interval"),
		StartingBalance: viper.GetInt64("duel.starting_balance"),
	}
}
