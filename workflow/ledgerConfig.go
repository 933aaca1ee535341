package workflow

import (
	"github.com/sirupsen/logrus"

	"bitbucket.org/vaxsync/inventory_backend/config"
	"bitbucket.org/vaxsync/inventory_backend/models"
)

// NewLedgerFromEnv builds a Ledger over store using the environment: the
// reference table override file, strict reservation, the Pub/Sub ledger topic
// and the redis report cache mirror.
func NewLedgerFromEnv(store models.Store, logger *logrus.Logger) (*Ledger, error) {
	tables := models.DefaultReferenceTables()
	if path := config.ReferenceTablesPath(); path != "" {
		loaded, err := models.LoadReferenceTables(path)
		if err != nil {
			config.LogError(logger, "ledgerConfig.go", "NewLedgerFromEnv", "LoadReferenceTables", path, err)
			return nil, err
		}
		tables = loaded
	}

	opts := []LedgerOption{
		WithStrictReservation(config.StrictReservation()),
	}
	if topic := config.LedgerTopic(); topic != "" {
		opts = append(opts, WithEventPublisher(NewPubSubPublisher(topic)))
	}
	if config.ReportCacheRedis() && config.GetRedisDB() != nil {
		opts = append(opts, WithReportCache(NewReportCache(RedisReportCache{}, config.ReportCacheLifespan())))
	}

	if logger != nil {
		logger.WithFields(logrus.Fields{
			"strict_reservation": config.StrictReservation(),
			"ledger_topic":       config.LedgerTopic(),
			"report_cache_redis": config.ReportCacheRedis(),
		}).Info("ledger.configured")
	}
	return NewLedger(store, tables, logger, opts...), nil
}
