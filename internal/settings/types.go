package settings

// Setting keys stored in the key/value table.
const (
	KeyNickname     = "player.nickname"
	KeyCampaignName = "campaign.name"
	KeyMap          = "campaign.map"
	KeyPlayers      = "campaign.players"
)

// Keys lists every key Set accepts.
var Keys = []string{KeyNickname, KeyCampaignName, KeyMap, KeyPlayers}

// Settings is the campaign-wide metadata kept next to the collections.
type Settings struct {
	Nickname     string   `json:"nickname,omitempty"`
	CampaignName string   `json:"campaign_name,omitempty"`
	Map          string   `json:"map,omitempty"`
	Players      []string `json:"players,omitempty"`
}
