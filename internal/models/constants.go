package models

const (
	// DefaultQueueKey имя коллекции, в которой хранится очередь
	DefaultQueueKey = "sync_queue"

	// DefaultDeadLetterKey список redis для сброшенных операций
	DefaultDeadLetterKey = "sync_queue:deadletter"

	// DefaultMaxRetries количество попыток до сброса операции
	DefaultMaxRetries = 3

	// DefaultProbeInterval интервал проверки сети в секундах
	DefaultProbeInterval = 15

	// DefaultProbeTimeout таймаут проверки сети в секундах
	DefaultProbeTimeout = 5

	// DefaultRemoteTimeout таймаут запроса к удаленному API в секундах
	DefaultRemoteTimeout = 30
)

const (
	ResourceTask    = "task"
	ResourceJob     = "job"
	ResourceInvoice = "invoice"
)
