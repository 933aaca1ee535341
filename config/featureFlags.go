package config

import (
	"os"
	"strings"
	"time"
)

func boolFromEnv(key string) bool {
	v := strings.ToLower(strings.TrimSpace(os.Getenv(key)))
	return v == "1" || v == "true" || v == "yes" || v == "y"
}

// StrictReservation turns Reserve into a single conditional write
// (reserved_vial + n <= quantity_vial) instead of read-check-write.
//
// Set via env:
// - STRICT_RESERVATION_CAS=true
func StrictReservation() bool {
	return boolFromEnv("STRICT_RESERVATION_CAS")
}

// ReportCacheRedis mirrors the monthly report cache into redis so that
// separate instances can share previous-month figures.
//
// Set via env:
// - REPORT_CACHE_REDIS=true
func ReportCacheRedis() bool {
	return boolFromEnv("REPORT_CACHE_REDIS")
}

// ReportCacheLifespan is how long a mirrored month stays in redis.
// REPORT_CACHE_HOURS, default 24.
func ReportCacheLifespan() time.Duration {
	return time.Duration(intFromEnv("REPORT_CACHE_HOURS", 24)) * time.Hour
}

// RedisEnabled reports whether REDIS_ADDRESS is configured; redis is optional.
func RedisEnabled() bool {
	return strings.TrimSpace(os.Getenv("REDIS_ADDRESS")) != ""
}

// ReferenceTablesPath names an optional JSON file overriding the built-in
// vial mapping and NIP tables.
func ReferenceTablesPath() string {
	return strings.TrimSpace(os.Getenv("REFERENCE_TABLES_PATH"))
}
