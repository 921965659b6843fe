package consts

// dispatcher events
const (
	EVENT_SOCKET_PUBLISH = "socket_publish"
	EVENT_BOT_TRIGGER    = "bot_trigger"
)

// broker task names
const (
	TASK_BOT_RUN            = "bot.run"
	TASK_ACTIVITY_RECORD    = "activity.record"
	TASK_NOTIFICATION_EMAIL = "notification.email"
)

const (
	WORKER_MAIN = "main"

	BROADCAST_IN_MEMORY = "in-memory"
	BROADCAST_KAFKA     = "kafka"

	CACHE_IN_MEMORY = "in-memory"
	CACHE_REDIS     = "redis"

	BROKER_LOCAL  = "local"
	BROKER_REMOTE = "remote"

	QUEUE_MEMORY = "memory"
	QUEUE_REDIS  = "redis"
)

// well known cache keys
const (
	CACHE_KEY_BOT_STATUS_MAP = "bot_status_map"
	CACHE_PREFIX_BROADCAST   = "broadcast-"
	CACHE_PREFIX_SEEN        = "dispatch:seen:"
)
