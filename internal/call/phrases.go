package call

import (
	"strings"

	"github.com/soyeahso/dialtask/internal/store"
	"github.com/soyeahso/dialtask/internal/tasks"
)

// Mark names.
const (
	markGreeting     = "greeting"
	markDTMFResponse = "dtmf_response_"
)

func greeting(voice string, realtime bool) string {
	intro := "Hi, I'm " + displayName(voice) + ". "
	if realtime {
		return intro +
			"I can tell you about your planned tasks and " +
			"help to you manage them. What would you like to do?"
	}
	return intro +
		"Press 1 to check tasks for today. " +
		"Press 2 to check tasks for tomorrow. " +
		"Press 3 to check tasks for this week."
}

func taskListing(p tasks.Period, todos []store.Todo) string {
	if len(todos) == 0 {
		return "You don't have any tasks for " + p.Spoken()
	}
	descriptions := make([]string, len(todos))
	for i, t := range todos {
		descriptions[i] = t.Description
	}
	return "Here is what you have for " + p.Spoken() + ":\n" + strings.Join(descriptions, ",")
}

// displayName capitalizes a voice id for speech.
func displayName(voice string) string {
	if voice == "" {
		return voice
	}
	return strings.ToUpper(voice[:1]) + voice[1:]
}
