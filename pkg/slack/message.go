package slack

const maxBlockTextLength = 2900

func truncateForSlack(text string) string {
	if len(text) <= maxBlockTextLength {
		return text
	}
	return text[:maxBlockTextLength] + "\n\n_... (truncated — view full analysis in dashboard)_"
}
