package store

// Remote layout:
//
//	conversations/<conversationID>      conversation document
//	messages/<conversationID>/<msgID>   message document
//	users/<principalID>                 profile document

// ConversationsPath is the conversation collection path.
func ConversationsPath() string {
	return "conversations"
}

// ConversationPath is the path of one conversation document.
func ConversationPath(conversationID string) string {
	return "conversations/" + conversationID
}

// MessagesPath is the message collection path for one conversation.
func MessagesPath(conversationID string) string {
	return "messages/" + conversationID
}

// MessagePath is the path of one message document.
func MessagePath(conversationID, messageID string) string {
	return "messages/" + conversationID + "/" + messageID
}

// ProfilesPath is the profile collection path.
func ProfilesPath() string {
	return "users"
}

// ProfilePath is the path of one profile document.
func ProfilePath(principalID string) string {
	return "users/" + principalID
}
