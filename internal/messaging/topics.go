package messaging

import "github.com/bardlex/goore/internal/events"

// Topic constants for miner events
const (
	TopicCycles      = "ore.cycles"      // state reads and bus choices per cycle
	TopicSolutions   = "ore.solutions"   // hashes meeting the difficulty target
	TopicSubmissions = "ore.submissions" // landed and failed transactions
	TopicAccounts    = "ore.accounts"    // registrations and claims
)

// Topics lists every topic the miner publishes to.
var Topics = []string{TopicCycles, TopicSolutions, TopicSubmissions, TopicAccounts}

// TopicFor routes an event kind to its topic.
func TopicFor(kind events.Kind) string {
	switch kind {
	case events.KindSolution:
		return TopicSolutions
	case events.KindSubmission, events.KindSubmissionFailed:
		return TopicSubmissions
	case events.KindRegistration, events.KindClaim:
		return TopicAccounts
	default:
		return TopicCycles
	}
}
