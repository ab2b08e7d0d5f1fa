package notify

import "context"

// AlertMessage describes a reconciliation discrepancy.
type AlertMessage struct {
	GridArea          string         `json:"grid_area"`
	Period            string         `json:"period"`
	ResultID          string         `json:"result_id"`
	ReportURL         string         `json:"report_url"`
	Status            string         `json:"status"`
	DifferenceAmount  string         `json:"difference_amount"`
	DifferencePercent string         `json:"difference_percent"`
	Summary           map[string]any `json:"summary,omitempty"`
	RecommendedAction string         `json:"recommended_action"`
}

// Notifier sends notifications.
type Notifier interface {
	Notify(ctx context.Context, msg AlertMessage) error
}
