package pipeline

// State is a request's position in the pipeline.
type State int

const (
	Received State = iota
	QuotaChecked
	InputValidated
	UpstreamCompleted
	Extracted
	CitationsProcessed
	Responded
	Failed
)

var stateNames = [...]string{
	Received:           "received",
	QuotaChecked:       "quota_checked",
	InputValidated:     "input_validated",
	UpstreamCompleted:  "upstream_completed",
	Extracted:          "extracted",
	CitationsProcessed: "citations_processed",
	Responded:          "responded",
	Failed:             "failed",
}

func (s State) String() string {
	if s < 0 || int(s) >= len(stateNames) {
		return "unknown"
	}
	return stateNames[s]
}
