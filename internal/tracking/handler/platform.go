package handler

import "github.com/mssola/useragent"

// platformLabel buckets a User-Agent into a low-cardinality metrics label.
func platformLabel(userAgent string) string {
	if userAgent == "" {
		return "unknown"
	}
	ua := useragent.New(userAgent)
	switch {
	case ua.Bot():
		return "bot"
	case ua.Mobile():
		return "mobile"
	case ua.OS() == "":
		return "other"
	default:
		return "desktop"
	}
}
