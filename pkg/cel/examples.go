package cel

var FilterExpressionExamples = map[string]string{
	"single_channel":     `channel_id == "UCZgt6AzoyjslHTC9dz0UoTw"`,
	"channel_allowlist":  `channel_id in ["UCZgt6AzoyjslHTC9dz0UoTw", "UC_x5XG1OV2P6uZZ5FSM9Ttw"]`,
	"title_contains":     `update.title.contains("System Design")`,
	"skip_deletions":     `!is_deletion`,
	"recent_only":        `published_at > timestamp("2024-01-01T00:00:00Z")`,
	"deletions_or_match": `is_deletion || update.title.lowerAscii().contains("go")`,
}
