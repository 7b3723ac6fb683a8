// Package session derives conversation keys for the AI relay.
package session

const testPrefix = "test_"

// Resolve returns the conversation key for a user talking to a bot. Test sends use
// a separate key so they never share context with production conversations.
func Resolve(userID, botID string, isTest bool) string {
	key := userID + "_" + botID
	if isTest {
		return testPrefix + key
	}
	return key
}

// ResolveParticipant keys an auto-reply conversation. The bot owner is charged for
// every participant, so each remote sender gets a key of their own.
func ResolveParticipant(ownerID, botID, senderID string) string {
	return Resolve(ownerID, botID, false) + "_" + senderID
}
