package models

// Collection names in the document store.
const (
	CollectionSignalements      = "signalements"
	CollectionAvancements       = "avancements"
	CollectionNotifications     = "notifications"
	CollectionStatuts           = "statuts"
	CollectionNotificationReads = "notification_reads"
)

// StatutNouveau is the sentinel previous status used when a report has no
// recorded status yet.
const StatutNouveau = "NOUVEAU"
