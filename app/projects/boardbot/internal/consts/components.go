package consts

// component names registered in the container
const (
	COMP_CACHE               = "cache"
	COMP_DISPATCH_QUEUE      = "dispatch_queue"
	COMP_DISPATCH_SUBSCRIBER = "dispatch_subscriber"
	COMP_SOCKET_HUB          = "socket_hub"
	COMP_SOCKET_PUBLISHER    = "socket_publisher"
	COMP_TASK_BROKER         = "task_broker"
	COMP_METRICS             = "boardbot_metrics"

	COMP_DAO_RECORD       = "record_dao"
	COMP_DAO_BOT          = "bot_dao"
	COMP_DAO_SCOPE        = "bot_scope_dao"
	COMP_DAO_SCHEDULE     = "bot_schedule_dao"
	COMP_DAO_BOT_LOG      = "bot_log_dao"
	COMP_DAO_ACTIVITY     = "activity_dao"
	COMP_DAO_NOTIFICATION = "notification_dao"

	COMP_SCOPE_RESOLVER      = "bot_scope_resolver"
	COMP_SCHEDULE_ENGINE     = "bot_schedule_engine"
	COMP_SCHEDULE_CLOCK      = "bot_schedule_clock"
	COMP_BOT_RUNNER          = "bot_runner"
	COMP_BOT_TRIGGER         = "bot_trigger"
	COMP_ACTIVITY_RECORDER   = "activity_recorder"
	COMP_NOTIFICATION_ROUTER = "notification_router"
	COMP_EMAIL_SENDER        = "email_sender"
	COMP_WEBHOOK_SCHEMA      = "webhook_schema"

	COMP_CTRL_BOT      = "bot_ctrl"
	COMP_CTRL_SCHEDULE = "schedule_ctrl"
	COMP_CTRL_SOCKET   = "socket_ctrl"
)
