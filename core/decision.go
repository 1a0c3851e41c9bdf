package core

import "time"

type DecisionKind string

const (
	DecisionSuccess    DecisionKind = "success"
	DecisionRetryNow   DecisionKind = "retry_now"
	DecisionRetryLater DecisionKind = "retry_later"
	DecisionFatal      DecisionKind = "fatal"
)

// RetryDecision is the verdict on one dispatched request. Only the fields
// relevant to Kind are populated.
type RetryDecision struct {
	Kind       DecisionKind
	StatusCode int
	Headers    map[string]string
	Body       []byte
	Err        error
	MinDelay   time.Duration
	MaxDelay   time.Duration
}

func Success(response Response) RetryDecision {
	return RetryDecision{
		Kind:       DecisionSuccess,
		StatusCode: response.StatusCode,
		Headers:    copyStringMap(response.Headers),
		Body:       append([]byte(nil), response.Body...),
	}
}

func RetryNow(err error) RetryDecision {
	return RetryDecision{Kind: DecisionRetryNow, Err: err}
}

func RetryLater(err error, minDelay, maxDelay time.Duration) RetryDecision {
	if minDelay < 0 {
		minDelay = 0
	}
	if maxDelay < minDelay {
		maxDelay = minDelay
	}
	return RetryDecision{Kind: DecisionRetryLater, Err: err, MinDelay: minDelay, MaxDelay: maxDelay}
}

func Fatal(err error) RetryDecision {
	return RetryDecision{Kind: DecisionFatal, Err: err}
}

func (d RetryDecision) IsSuccess() bool { return d.Kind == DecisionSuccess }

// AsError converts the decision for callers that need error semantics.
// Success yields nil; RetryLater yields an error carrying its delay bounds.
func (d RetryDecision) AsError() error {
	switch d.Kind {
	case DecisionSuccess:
		return nil
	case DecisionRetryLater:
		return NewRetryLaterError(d.Err, d.MinDelay, d.MaxDelay)
	default:
		if d.Err != nil {
			return d.Err
		}
		return NewFatalError(&FatalError{StatusCode: d.StatusCode})
	}
}
