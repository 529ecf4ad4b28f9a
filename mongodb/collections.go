package mongodb

const (
	// ChatSessionsCollection holds one document per conversation thread.
	ChatSessionsCollection = "chat_sessions"
)
