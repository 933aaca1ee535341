package workflow

import (
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"bitbucket.org/vaxsync/inventory_backend/config"
	"bitbucket.org/vaxsync/inventory_backend/models"
)

// RemoteCache is a shared JSON object cache.
type RemoteCache interface {
	Get(key string, dest any) (bool, error)
	Set(key string, obj any, ttl time.Duration) error
	Delete(keys ...string) error
}

// RedisReportCache stores months through the config redis helpers.
type RedisReportCache struct{}

func (RedisReportCache) Get(key string, dest any) (bool, error) {
	return config.GetRedisObject(key, dest)
}

func (RedisReportCache) Set(key string, obj any, ttl time.Duration) error {
	return config.SetRedisObject(key, obj, ttl)
}

func (RedisReportCache) Delete(keys ...string) error {
	return config.RemoveRedisKey(keys...)
}

// ReportCache keeps each computed month's ending inventory per vaccine so the
// next month's initial inventory is a map lookup.
type ReportCache struct {
	mu     sync.RWMutex
	months map[time.Time]map[int]int
	remote RemoteCache
	ttl    time.Duration
	logger *logrus.Logger
}

func NewReportCache(remote RemoteCache, ttl time.Duration) *ReportCache {
	return &ReportCache{
		months: map[time.Time]map[int]int{},
		remote: remote,
		ttl:    ttl,
	}
}

func monthlyReportCacheKey(month time.Time) string {
	return fmt.Sprintf("monthly_report:%s", models.MonthStart(month).Format("2006-01"))
}

// EndingInventory looks the month up locally, then in the remote mirror.
func (c *ReportCache) EndingInventory(month time.Time, vaccineId int) (int, bool) {
	month = models.MonthStart(month)
	c.mu.RLock()
	endings, ok := c.months[month]
	c.mu.RUnlock()
	if ok {
		v, found := endings[vaccineId]
		return v, found
	}
	if c.remote == nil {
		return 0, false
	}

	var remote map[int]int
	found, err := c.remote.Get(monthlyReportCacheKey(month), &remote)
	if err != nil {
		config.LogError(c.logger, "reportCache.go", "EndingInventory", "remote get", monthlyReportCacheKey(month), err)
		return 0, false
	}
	if !found {
		return 0, false
	}
	c.mu.Lock()
	c.months[month] = remote
	c.mu.Unlock()
	v, found := remote[vaccineId]
	return v, found
}

// Put replaces the cached month with the given reports.
func (c *ReportCache) Put(month time.Time, reports []*models.MonthlyReport) {
	month = models.MonthStart(month)
	endings := make(map[int]int, len(reports))
	for _, r := range reports {
		endings[r.VaccineId] = r.EndingInventory
	}
	c.mu.Lock()
	c.months[month] = endings
	c.mu.Unlock()

	if c.remote == nil {
		return
	}
	if err := c.remote.Set(monthlyReportCacheKey(month), endings, c.ttl); err != nil {
		config.LogError(c.logger, "reportCache.go", "Put", "remote set", monthlyReportCacheKey(month), err)
	}
}

// ForgetFrom drops every cached month from month through until, both
// inclusive. A backdated receipt changes the endings of all those months.
func (c *ReportCache) ForgetFrom(month time.Time, until time.Time) {
	month = models.MonthStart(month)
	until = models.MonthStart(until)
	var keys []string
	c.mu.Lock()
	for m := month; !m.After(until); m = m.AddDate(0, 1, 0) {
		delete(c.months, m)
		keys = append(keys, monthlyReportCacheKey(m))
	}
	c.mu.Unlock()

	if c.remote == nil || len(keys) == 0 {
		return
	}
	if err := c.remote.Delete(keys...); err != nil {
		config.LogError(c.logger, "reportCache.go", "ForgetFrom", "remote delete", keys, err)
	}
}
