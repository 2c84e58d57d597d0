package account

type GitHubLink struct {
	Connected bool   `json:"connected"`
	Username  string `json:"github_username,omitempty"`
	AvatarURL string `json:"github_avatar_url,omitempty"`
	AuthURL   string `json:"auth_url,omitempty"`
}

type StravaLink struct {
	Connected bool   `json:"connected"`
	AthleteID int64  `json:"athlete_id,omitempty"`
	AuthURL   string `json:"auth_url,omitempty"`
}
