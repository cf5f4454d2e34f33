package log

// Common field names for structured logging. Keeping these shared makes log
// lines greppable across the server, worker, and scheduler binaries.
const (
	FieldComponent  = "component"
	FieldRequestID  = "request_id"
	FieldClientIP   = "client_ip"
	FieldMethod     = "method"
	FieldPath       = "path"
	FieldQuery      = "query"
	FieldStatusCode = "status_code"
	FieldDuration   = "duration_ms"
	FieldUserAgent  = "user_agent"
	FieldSuccess    = "success"
	FieldError      = "error"
	FieldOperation  = "operation"
	FieldUserID     = "user_id"
	FieldPhone      = "phone"
	FieldPendingID  = "pending_id"
	FieldExternalID = "external_id"
	FieldItemID     = "item_id"
	FieldCategory   = "category"
	FieldAmount     = "amount"
	FieldMonth      = "month"
	FieldReason     = "reason"
	FieldAdded      = "added"
	FieldModified   = "modified"
	FieldRemoved    = "removed"
	FieldCursor     = "cursor"
)

// Components defines standard component names
const (
	ComponentApp       = "app"
	ComponentHTTP      = "http"
	ComponentEngine    = "engine"
	ComponentMessenger = "messenger"
	ComponentStorage   = "storage"
	ComponentAMQP      = "amqp"
	ComponentWorker    = "worker"
	ComponentScheduler = "scheduler"
	ComponentBank      = "bank"
	ComponentSMS       = "sms"
	ComponentCache     = "cache"
	ComponentSecurity  = "security"
	ComponentRateLimit = "rate_limit"
	ComponentTrace     = "trace"
	ComponentBackend   = "backend"
)

// Operations defines standard operation names
const (
	OpSync     = "sync"
	OpConfirm  = "confirm"
	OpLink     = "link"
	OpDelete   = "delete"
	OpList     = "list"
	OpExport   = "export"
	OpPublish  = "publish"
	OpConsume  = "consume"
	OpPrune    = "prune"
	OpStartup  = "startup"
	OpShutdown = "shutdown"
)
