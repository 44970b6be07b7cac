package config

// Persistence keys used by the core. Every blob key lives here so components
// never concatenate keys on their own.

const (
	QuotaKey            = "llm-quota"
	ExplanationCacheKey = "ai-explanation-cache"
	PreferencesKey      = "quiz-preferences"
	UserIDKey           = "local-user-id"
)

// ProgressKey returns the blob key of a quiz's saved attempt state.
func ProgressKey(quizID string) string {
	return "quiz-progress-" + quizID
}

// NavigationKey returns the blob key of a quiz's saved navigator position.
func NavigationKey(quizID string) string {
	return "quiz-navigation-" + quizID
}
