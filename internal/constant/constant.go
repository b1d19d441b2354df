package constant

const (
	ProductionEnvironment  = "production"
	DevelopmentEnvironment = "development"
)

const (
	CatalogDatabase = "catalog"
	CacheRedis      = "cache"
)

const (
	LockDriverLocal = "local"
	LockDriverRedis = "redis"
)
