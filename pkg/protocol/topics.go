package protocol

// Bus topic conventions. Topics are dot-separated and hierarchical;
// subscriptions may use "*" (one segment) and "#" (any remaining segments).
const (
	// User-facing conversation.
	TopicUserRequest  = "user.request"
	TopicUserResponse = "user.response"

	// Agent-to-agent task dispatch.
	TopicAgentTask       = "agent.task"
	TopicAgentTaskCancel = "agent.task.cancel"
	TopicAgentTaskStatus = "agent.task.status"

	// Subagent lifecycle.
	TopicSubagentProgress = "subagent.progress"
	TopicSubagentResult   = "subagent.result"

	// Capability announcements.
	TopicDiscoveryAnnounce = "discovery.announce"

	// Local scheduler ticks re-entering the dispatch pipeline.
	TopicScheduledTick = "scheduled.tick"

	// External tool plumbing.
	TopicToolInvokeMCP      = "tool.invoke.mcp"
	TopicToolMetaMCP        = "tool.meta.mcp"
	TopicToolMetaMCPRefresh = "tool.meta.mcp.refresh"
)

// AgentResponseTopic returns the per-agent A2A response topic.
func AgentResponseTopic(agent string) string {
	return "agent.response." + agent
}

// ToolResultTopic returns the per-agent tool result topic.
func ToolResultTopic(agent string) string {
	return "tool.result." + agent
}
