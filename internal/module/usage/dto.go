package usage

// RecordRequest reports usage from a connected platform.
type RecordRequest struct {
	Feature string `json:"feature" binding:"required"`
	Amount  int64  `json:"amount"`
}

// RecordResponse echoes the updated counter.
type RecordResponse struct {
	Feature string `json:"feature"`
	Used    int64  `json:"used"`
}
