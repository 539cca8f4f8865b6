// SPDX-License-Identifier: MIT

package event

// Channel names on the pub/sub transport.
const (
	GlobalChannel        = "updates"
	CelebrationsChannel  = "celebrations"
	PredictionsChannel   = "predictions"
	HealthAlertsChannel  = "health_alerts"
	transactionSuffix    = ":events"
	HealthAlertThreshold = 70
)

// TransactionChannel returns the per-transaction channel name.
func TransactionChannel(txID string) string {
	return txID + transactionSuffix
}

// Channels computes the complete set of channels an event must be published
// to. It is pure: no I/O, deterministic in the event alone. Every event goes
// to the global channel and its transaction channel; some types fan out to an
// auxiliary channel as well.
func Channels(e Event) []string {
	channels := []string{GlobalChannel, TransactionChannel(e.TransactionID)}

	switch e.Type {
	case TypeCelebrationTriggered:
		channels = append(channels, CelebrationsChannel)
	case TypePredictionAlert:
		channels = append(channels, PredictionsChannel)
	case TypeHealthScoreChanged:
		if score, ok := e.HealthScore(); ok && score < HealthAlertThreshold {
			channels = append(channels, HealthAlertsChannel)
		}
	case TypeTransactionCreated, TypeMilestoneStarted, TypeMilestoneCompleted,
		TypeMilestoneDelayed, TypeProgressUpdated, TypeStatusChanged,
		TypeActionRequired, TypeClientMessage:
		// base channels only
	}

	return channels
}
