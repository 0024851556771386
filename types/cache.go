package types

import (
	"time"
)

type CacheManager interface {
	LifecycleManager
	Get(key string) (interface{}, bool)
	Set(key string, value interface{}, ttl time.Duration) error
	Delete(key string) error
	Clear() error
	Sweep() int
	Stats() CacheStats
}

type CacheManagerCreator func(config interface{}) (CacheManager, error)

type CacheStats struct {
	Size     int `json:"size"`
	Capacity int `json:"capacity"`
}
