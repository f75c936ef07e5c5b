package like

import "errors"

var ErrDemoNotFound = errors.New("demo not found")

// Status is the like state of one demo as seen from one client IP.
type Status struct {
	Count int  `json:"count"`
	Liked bool `json:"liked"`
}

type LeaderboardEntry struct {
	DemoID    string  `json:"demo_id"`
	ModelName string  `json:"model_name"`
	ModelKey  string  `json:"model_key"`
	TabID     string  `json:"tab_id"`
	BrandName *string `json:"brand_name"`
	Color     *string `json:"color"`
	LikeCount int     `json:"like_count"`
}
