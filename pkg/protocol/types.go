package protocol

// ProtocolVersion is bumped on any incompatible wire change.
const ProtocolVersion = 1

// Wire message type strings. These are language-neutral identifiers carried
// in MessageEnvelope.MessageType and resolved through the codec registry.
const (
	TypeUserMessage           = "rockbot.user.message"
	TypeAgentReply            = "rockbot.agent.reply"
	TypeScheduledTask         = "rockbot.scheduled.task"
	TypeSubagentProgress      = "rockbot.subagent.progress"
	TypeSubagentResult        = "rockbot.subagent.result"
	TypeAgentTaskRequest      = "rockbot.a2a.request"
	TypeAgentTaskStatusUpdate = "rockbot.a2a.status"
	TypeAgentTaskResult       = "rockbot.a2a.result"
	TypeAgentTaskError        = "rockbot.a2a.error"
	TypeAgentTaskCancel       = "rockbot.a2a.cancel"
	TypeAgentCard             = "rockbot.discovery.card"
)
