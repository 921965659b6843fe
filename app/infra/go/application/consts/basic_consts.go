package consts

const (
	ENV_PRODUCTION  = "production"
	ENV_DEVELOPMENT = "development"
	ENV_TEST        = "test"

	DEFAULT_CONFIG_PATH = "config.yaml"

	KEY_TraceID = "trace_id"
	KEY_SpanID  = "span_id"
)
