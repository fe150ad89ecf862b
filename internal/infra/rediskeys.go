package infra

const (
	// RedisNamespace Базовый префикс для изоляции данных проекта в Redis
	RedisNamespace = "conformance"
)

// Ключи (состояние)
const (
	// RedisKeyCycleLock — лок цикла: ITB гоняет только одна реплика экспортера.
	RedisKeyCycleLock = RedisNamespace + ":lock:cycle"
)

// Каналы Pub/Sub (события)
const (
	// RedisChanResults — результат цикла системы в формате "system_name:value".
	RedisChanResults = RedisNamespace + ":results"
)
