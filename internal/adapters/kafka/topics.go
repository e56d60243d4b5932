package kafka

// Topic definitions for Kafka event streaming
const (
	// Task lifecycle events
	TopicTaskSubmitted = "tasks.submitted"
	TopicTaskStarted   = "tasks.started"
	TopicTaskCompleted = "tasks.completed"
	TopicTaskFailed    = "tasks.failed"
	TopicTaskCancelled = "tasks.cancelled"

	// Deliberation events
	TopicDecisionMade = "deliberations.decisions"

	// Administrative events
	TopicZombieReaped = "admin.zombies_reaped"
)
