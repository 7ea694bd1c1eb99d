package telegram

// Method is implemented by every typed request object; Name is the Bot
// API method name used to build the request URL.
type Method interface {
	Name() string
}

// GetMe takes no parameters.
type GetMe struct{}

func (GetMe) Name() string { return "getMe" }

// GetUpdates long-polls for new updates.
type GetUpdates struct {
	Offset          int64    `json:"offset"`
	Timeout         int64    `json:"timeout"` // seconds
	AllowedUpdates  []string `json:"allowed_updates,omitempty"`
}

func (GetUpdates) Name() string { return "getUpdates" }

// SetMyCommands registers the bot's command list.
type SetMyCommands struct {
	Commands []BotCommand `json:"commands"`
}

func (SetMyCommands) Name() string { return "setMyCommands" }

// SendMessage sends a plain text message.
type SendMessage struct {
	ChatID             ChatID     `json:"chat_id"`
	Text               string     `json:"text"`
	ParseMode          *ParseMode `json:"parse_mode,omitempty"`
	ReplyToMessageID   *int64     `json:"reply_to_message_id,omitempty"`
}

func (SendMessage) Name() string { return "sendMessage" }

// SendLocation sends a new location message, optionally as a live
// location with a limited lifetime.
type SendLocation struct {
	Location
	LivePeriod *int64 `json:"live_period,omitempty"` // seconds
}

func (SendLocation) Name() string { return "sendLocation" }

// EditMessageLiveLocation updates an in-flight live location message.
type EditMessageLiveLocation struct {
	ChatID    ChatID `json:"chat_id"`
	MessageID int64  `json:"message_id"`
	Location
}

func (EditMessageLiveLocation) Name() string { return "editMessageLiveLocation" }

// StopMessageLiveLocation freezes a live location message.
type StopMessageLiveLocation struct {
	ChatID    ChatID `json:"chat_id"`
	MessageID int64  `json:"message_id"`
}

func (StopMessageLiveLocation) Name() string { return "stopMessageLiveLocation" }

// DeleteMessage removes a message.
type DeleteMessage struct {
	ChatID    ChatID `json:"chat_id"`
	MessageID int64  `json:"message_id"`
}

func (DeleteMessage) Name() string { return "deleteMessage" }

// PinChatMessage pins a message in its chat.
type PinChatMessage struct {
	ChatID                ChatID `json:"chat_id"`
	MessageID             int64  `json:"message_id"`
	DisableNotification   bool   `json:"disable_notification"`
}

func (PinChatMessage) Name() string { return "pinChatMessage" }

// UnpinChatMessage unpins a message in its chat.
type UnpinChatMessage struct {
	ChatID    ChatID `json:"chat_id"`
	MessageID int64  `json:"message_id"`
}

func (UnpinChatMessage) Name() string { return "unpinChatMessage" }
