package services

var statusMessages = map[string]string{
	"EN_ATTENTE":    "Votre signalement est en attente de traitement",
	"EN_COURS":      "Votre signalement est en cours de traitement",
	"EN_TRAITEMENT": "Votre signalement est en traitement",
	"TRAITE":        "Votre signalement a été traité",
	"REJETE":        "Votre signalement a été rejeté",
	"CLOTURE":       "Votre signalement est clos",
}

// StatusMessage builds the user-facing notification message for a status
// transition, falling back to a generic wording built from the label.
func StatusMessage(statutID, label string) string {
	if msg, ok := statusMessages[statutID]; ok {
		return msg
	}
	if label == "" {
		label = statutID
	}
	return "Mise à jour du signalement: " + label
}
