package services

import (
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/gridsense/pdmon/internal/scheduler"
)

// Job names
const (
	JobSampleSync   = "sample_sync"
	JobOfflineSweep = "offline_sweep"
	JobAlarmReset   = "alarm_reset"
	JobRegistrySync = "registry_sync"
)

// counters accumulates the counts of a job run across workers
type counters struct {
	mu     sync.Mutex
	values map[string]int
}

func newCounters(keys ...string) *counters {
	c := &counters{values: make(map[string]int, len(keys))}
	for _, k := range keys {
		c.values[k] = 0
	}
	return c
}

func (c *counters) add(key string, n int) {
	c.mu.Lock()
	c.values[key] += n
	c.mu.Unlock()
}

func (c *counters) inc(key string) {
	c.add(key, 1)
}

// result builds a job result whose summary lists the counts as key=value
func (c *counters) result() *scheduler.Result {
	c.mu.Lock()
	defer c.mu.Unlock()

	counts := make(map[string]int, len(c.values))
	keys := make([]string, 0, len(c.values))
	for k, v := range c.values {
		counts[k] = v
		keys = append(keys, k)
	}
	sort.Strings(keys)

	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, fmt.Sprintf("%s=%d", k, counts[k]))
	}

	return &scheduler.Result{
		Counts:  counts,
		Summary: strings.Join(parts, " "),
	}
}
