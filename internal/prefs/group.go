package prefs

import (
	"strings"

	"colorcal/internal/model"
)

// GroupLabel names the account group a calendar is shown under.
type GroupLabel string

const (
	GroupOnMyMac    GroupLabel = "On My Mac"
	GroupICloud     GroupLabel = "iCloud"
	GroupGoogle     GroupLabel = "Google"
	GroupExchange   GroupLabel = "Exchange"
	GroupSubscribed GroupLabel = "Subscribed"
	GroupOther      GroupLabel = "Other"
)

// Groups lists the labels in display order.
var Groups = []GroupLabel{GroupICloud, GroupGoogle, GroupExchange, GroupOnMyMac, GroupSubscribed, GroupOther}

// Classify groups c by its SourceType and SourceTitle only.
//
//	local                 -> On My Mac
//	exchange              -> Exchange
//	mobileme              -> iCloud
//	subscribed, birthdays -> Subscribed
//	caldav or unknown     -> iCloud / Google by SourceTitle, else Other
func Classify(c model.Calendar) GroupLabel {
	title := strings.ToLower(c.SourceTitle)

	switch strings.ToLower(strings.TrimSpace(c.SourceType)) {
	case "local":
		return GroupOnMyMac
	case "exchange":
		return GroupExchange
	case "mobileme":
		return GroupICloud
	case "subscribed", "birthdays":
		return GroupSubscribed
	}

	switch {
	case strings.Contains(title, "icloud"):
		return GroupICloud
	case strings.Contains(title, "google"), strings.Contains(title, "gmail"):
		return GroupGoogle
	case strings.Contains(title, "exchange"), strings.Contains(title, "outlook"):
		return GroupExchange
	}
	return GroupOther
}
