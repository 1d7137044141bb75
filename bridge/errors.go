package bridge

import (
	"errors"

	"github.com/onnwee/nomi-bridge/nomiapi"
	"github.com/onnwee/nomi-bridge/openaiapi"
)

// Kind buckets errors for HTTP status mapping and logging.
type Kind int

const (
	KindUnknown Kind = iota
	KindBadRequest
	KindConfiguration
	KindNotFound
	KindTransientBusy
	KindUpstream
)

// ErrPollInProgress is returned when a poll pass is requested while the
// previous one is still running. The caller retries on a later tick.
var ErrPollInProgress = errors.New("poll pass already in progress")

// BadRequestError marks caller mistakes (missing or malformed fields) so
// handlers can answer 4xx before touching any upstream service.
type BadRequestError struct {
	Msg string
}

func (e *BadRequestError) Error() string { return e.Msg }

// ConfigurationError marks missing operator configuration, e.g. an absent
// upstream API key.
type ConfigurationError struct {
	Msg string
}

func (e *ConfigurationError) Error() string { return e.Msg }

// Classify places an error into the taxonomy. Wrapped chains are inspected
// with errors.As/Is, so callers may annotate freely with fmt.Errorf %w.
func Classify(err error) Kind {
	if err == nil {
		return KindUnknown
	}
	var badReq *BadRequestError
	if errors.As(err, &badReq) {
		return KindBadRequest
	}
	var confErr *ConfigurationError
	if errors.As(err, &confErr) {
		return KindConfiguration
	}
	if errors.Is(err, nomiapi.ErrNotReady) || errors.Is(err, ErrPollInProgress) {
		return KindTransientBusy
	}
	if nomiapi.IsNotFound(err) {
		return KindNotFound
	}
	var nomiErr *nomiapi.APIError
	var sendErr *nomiapi.SendError
	var llmErr *openaiapi.APIError
	if errors.As(err, &nomiErr) || errors.As(err, &sendErr) || errors.As(err, &llmErr) {
		return KindUpstream
	}
	return KindUnknown
}
