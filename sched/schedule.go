package sched

import (
	"sync"

	cronlib "github.com/robfig/cron/v3"
)

// cronParser supports standard 5-field cron and descriptors like "@every 30s".
var cronParser = cronlib.NewParser(
	cronlib.Minute | cronlib.Hour | cronlib.Dom | cronlib.Month | cronlib.Dow | cronlib.Descriptor,
)

// ParseSchedule parses a cron expression and returns the schedule.
// Exported for use by engine.Register to validate definitions up front.
func ParseSchedule(expr string) (cronlib.Schedule, error) {
	return cronParser.Parse(expr)
}

// scheduleCache caches parsed cron expressions.
type scheduleCache struct {
	mu     sync.RWMutex
	parsed map[string]cronlib.Schedule
}

func newScheduleCache() *scheduleCache {
	return &scheduleCache{parsed: make(map[string]cronlib.Schedule)}
}

func (c *scheduleCache) get(expr string) (cronlib.Schedule, error) {
	c.mu.RLock()
	sched, ok := c.parsed[expr]
	c.mu.RUnlock()
	if ok {
		return sched, nil
	}

	sched, err := ParseSchedule(expr)
	if err != nil {
		return nil, err
	}

	c.mu.Lock()
	c.parsed[expr] = sched
	c.mu.Unlock()
	return sched, nil
}
