package utils

import (
	"os"
	"reflect"
	"strconv"
	"time"

	"github.com/mmdatafocus/billing_backend/config"
)

func GetCacheLifespan() time.Duration {
	lifespan, err := strconv.Atoi(os.Getenv("CACHE_LIFESPAN"))
	if err != nil {
		lifespan = 1
	}
	return time.Duration(lifespan) * time.Hour
}

func GetTypeName[T any]() string {
	var v T
	return reflect.TypeOf(v).Name()
}

// redis key of a tenant-scoped instance, Type:$tenant_id:$id
func redisKey[T any](tenantId string, id string) string {
	return GetTypeName[T]() + ":" + tenantId + ":" + id
}

// store instance, obj should be a pointer
func StoreRedis[T any](tenantId string, id string, obj *T) error {
	return config.SetRedisObject(redisKey[T](tenantId, id), obj, GetCacheLifespan())
}

// get from redis
// returns nil if does not exist
func RetrieveRedis[T any](tenantId string, id string) (*T, error) {
	var result *T
	exists, err := config.GetRedisObject(redisKey[T](tenantId, id), &result)
	if err != nil {
		return nil, err
	}
	if !exists {
		return nil, nil
	}
	return result, nil
}

// remove an instance, Type:$tenant_id:$id
func RemoveRedisItem[T any](tenantId string, id string) error {
	return config.RemoveRedisKey(redisKey[T](tenantId, id))
}

// CachedModel reads through redis; a cache error falls back to the loader.
func CachedModel[T any](tenantId string, id string, load func() (*T, error)) (*T, error) {
	if cached, err := RetrieveRedis[T](tenantId, id); err == nil && cached != nil {
		return cached, nil
	}
	result, err := load()
	if err != nil {
		return nil, err
	}
	_ = StoreRedis[T](tenantId, id, result)
	return result, nil
}
