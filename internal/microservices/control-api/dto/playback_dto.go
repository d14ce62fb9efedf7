package dto

// SetSpeedRequest for PUT /api/v1/playback/speed
type SetSpeedRequest struct {
	Speed *float64 `json:"speed" binding:"required,gte=0,lte=100"`
}

// SetLoopRequest for PUT /api/v1/playback/loop
type SetLoopRequest struct {
	Loop *bool `json:"loop" binding:"required"`
}

// FeedChannelRequest for POST /api/v1/channels/:index
type FeedChannelRequest struct {
	Angle *float32 `json:"angle" binding:"required"`
}

// PlaybackResponse combines scheduler and publisher state
type PlaybackResponse struct {
	State   string  `json:"state"`
	Clock   float64 `json:"clock"`
	Cursor  int     `json:"cursor"`
	Points  int     `json:"points"`
	Loop    bool    `json:"loop"`
	Speed   float64 `json:"speed"`
	Loops   uint64  `json:"loops"`
	Sent    uint64  `json:"sent"`
	Dropped uint64  `json:"dropped"`
	Peers   int     `json:"peers"`
}

// FeedChannelResponse reports whether the value left the publisher
type FeedChannelResponse struct {
	Channel int     `json:"channel"`
	Angle   float32 `json:"angle"`
	Sent    bool    `json:"sent"`
}
