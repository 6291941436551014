package config

import "git.home.luguber.info/inful/polydocs/internal/foundation/normalization"

var (
	ledgerDrivers = normalization.NewEnum("ledger driver", DriverSQLite, DriverPostgres)
	queueDrivers  = normalization.NewEnum("queue driver", QueueMemory, QueueNATS)
	backoffModes  = normalization.NewEnum("backoff mode", RetryBackoffFixed, RetryBackoffLinear, RetryBackoffExponential)
)

// Normalize canonicalizes the enum-valued settings in place. Unknown values are kept for Validate.
func Normalize(cfg *Config) {
	ledgerDrivers.Normalize(&cfg.Ledger.Driver)
	queueDrivers.Normalize(&cfg.Queue.Driver)
	backoffModes.Normalize(&cfg.Queue.Retry.Backoff)
}
