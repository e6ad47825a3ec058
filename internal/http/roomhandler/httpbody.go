package roomhandler

type PostMessageBody struct {
	SenderID string `json:"sender_id" binding:"required" example:"user123"`
	Content  string `json:"content"   binding:"required" example:"hi there"`
} // @name PostMessageRequest

type RosterResponse struct {
	RoomID string   `json:"room_id"`
	Users  []string `json:"users"`
} // @name RosterResponse

type ErrorResponse struct {
	Error string `json:"error"`
} // @name ErrorResponse
