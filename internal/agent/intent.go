package agent

// Intent is one of the closed set of tools the router can select.
// Labels double as the wire values the classification model must emit.
type Intent string

const (
	IntentAskConcept        Intent = "ask_concept"
	IntentRequestExercise   Intent = "request_exercise"
	IntentQueryKnowledge    Intent = "query_knowledge"
	IntentSummarizeActivity Intent = "summarize_activity"
	IntentSummarizeTopic    Intent = "summarize_topic"
	IntentGradeAnswer       Intent = "grade_answer"
	IntentUnknown           Intent = "unknown"
)

var knownIntents = map[Intent]struct{}{
	IntentAskConcept:        {},
	IntentRequestExercise:   {},
	IntentQueryKnowledge:    {},
	IntentSummarizeActivity: {},
	IntentSummarizeTopic:    {},
	IntentGradeAnswer:       {},
}

// ParseIntent validates a model-emitted label against the closed set.
// Anything unrecognized maps to IntentUnknown; the label is never
// dispatched raw.
func ParseIntent(label string) (Intent, bool) {
	in := Intent(label)
	if _, ok := knownIntents[in]; ok {
		return in, true
	}
	return IntentUnknown, false
}
