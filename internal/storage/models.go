package storage

import "time"

const (
	RoleUser       = "user"
	RoleSuperadmin = "superadmin"

	PlanFree    = "free"
	PlanBasic   = "basic"
	PlanPremium = "premium"
)

type User struct {
	ID            string
	Email         string
	FullName      string
	PasswordHash  string
	Role          string
	Plan          string
	IsActive      bool
	VerifiedPhone *string
	AI            UserAISettings
	CreatedAt     time.Time
}

// UserAISettings are the user's preferred defaults; bots carry their own settings.
type UserAISettings struct {
	Provider      string
	Model         string
	EncAPIKey     *string
	SystemMessage string
}

type Bot struct {
	ID            string
	UserID        string
	Name          string
	Platform      string
	EncAPIKey     *string
	WebhookURL    string
	AIProvider    string
	AIModel       string
	EncAIAPIKey   *string
	SystemMessage string
	AutoReply     bool
	IsActive      bool
	CreatedAt     time.Time
}

type MessageRecord struct {
	ID          string
	UserID      string
	BotID       string
	Platform    string
	SenderID    string
	UserMessage string
	AIResponse  string
	CreatedAt   time.Time
}

type WebhookLog struct {
	ID        string
	BotID     string
	Platform  string
	Payload   string
	CreatedAt time.Time
}

type AuditEntry struct {
	UserID   string
	Action   string
	MetaJSON string
}

type Stats struct {
	TotalUsers int
	TotalBots  int
	TotalChats int
}
