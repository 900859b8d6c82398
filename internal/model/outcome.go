package model

import (
	"net/http"
	"time"

	"github.com/pkg/errors"
)

// Status is the result status of an operation.
type Status string

const (
	StatusSuccess          Status = "Success"
	StatusRetryableFailure Status = "RetryableFailure"
	StatusTerminalFailure  Status = "TerminalFailure"
)

// Outcome is the result envelope returned for every operation.
//
// Detail carries a classified message only, the underlying error stays available
// through Err for logging.
type Outcome struct {
	Status     Status        `json:"status" yaml:"status"`
	Kind       ErrorKind     `json:"kind,omitempty" yaml:"kind,omitempty"`
	Detail     string        `json:"detail,omitempty" yaml:"detail,omitempty"`
	RetryAfter time.Duration `json:"retry_after,omitempty" yaml:"retry_after,omitempty"`
	Result     any           `json:"result,omitempty" yaml:"result,omitempty"`

	err error
}

// Succeeded wraps an optional result snapshot.
func Succeeded(result any) *Outcome {
	return &Outcome{Status: StatusSuccess, Result: result}
}

// OutcomeOf builds the outcome of a finished operation.
func OutcomeOf(result any, err error) *Outcome {
	if err == nil {
		return Succeeded(result)
	}

	status := StatusTerminalFailure
	if IsRetryable(err) {
		status = StatusRetryableFailure
	}

	kind := KindOf(err)

	o := &Outcome{
		Status: status,
		Kind:   kind,
		Detail: detail(kind, err),
		err:    err,
	}

	var unavailable *UnavailableError
	if errors.As(err, &unavailable) {
		o.RetryAfter = unavailable.RetryAfter
	}

	return o
}

// detail returns the client visible message of a failure, backend error text never
// reaches it.
func detail(kind ErrorKind, err error) string {
	var public *PublicError

	switch kind {
	case KindNotFound, KindInvalidRequest, KindNotSupported, KindUnconfiguredBackend:
		if errors.As(err, &public) {
			return public.Message
		}

		return kindDetail[kind]
	case KindBackendUnavailable:
		return "backend temporarily unavailable"
	default:
		return "internal error"
	}
}

var kindDetail = map[ErrorKind]string{
	KindNotFound:            ErrNotFound.Error(),
	KindInvalidRequest:      ErrInvalidRequest.Error(),
	KindNotSupported:        ErrNotSupported.Error(),
	KindUnconfiguredBackend: ErrUnconfiguredBackend.Error(),
}

// OK reports whether the operation succeeded.
func (o *Outcome) OK() bool {
	return o.Status == StatusSuccess
}

// Err returns the error the outcome was built from.
func (o *Outcome) Err() error {
	return o.err
}

// HTTPStatus is the protocol status code equivalent of the outcome.
func (o *Outcome) HTTPStatus() int {
	if o.OK() {
		return http.StatusOK
	}

	switch o.Kind {
	case KindNotFound:
		return http.StatusNotFound
	case KindInvalidRequest:
		return http.StatusBadRequest
	case KindNotSupported:
		return http.StatusNotImplemented
	case KindBackendUnavailable:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// RetryAfterSeconds is the Retry-After header value, zero when no hint applies.
func (o *Outcome) RetryAfterSeconds() int {
	return int(o.RetryAfter.Round(time.Second) / time.Second)
}

func (o *Outcome) AsLogFields() []any {
	fields := []any{
		"status", o.Status,
	}

	if o.Kind != "" {
		fields = append(fields, "kind", o.Kind)
	}

	if o.err != nil {
		fields = append(fields, "error", o.err.Error())
	}

	return fields
}
