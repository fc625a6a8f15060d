package domain

type BotID string

type BotEventKind string

const (
	BotSpeak BotEventKind = "speak"
	BotSing  BotEventKind = "sing"
)

// BotSnapshot is the public view of a bot for world_state frames.
type BotSnapshot struct {
	ID       BotID   `json:"id"`
	Position Vec2    `json:"position"`
	Heading  float64 `json:"heading"`
}

// BotEvent is a speak/sing decision; the flavor text is left to clients.
type BotEvent struct {
	Bot  BotID        `json:"bot"`
	Kind BotEventKind `json:"kind"`
}
