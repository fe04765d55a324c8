package provider

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/avast/retry-go"
	"github.com/hashicorp/errwrap"
	ollapi "github.com/ollama/ollama/api"
	"github.com/sashabaranov/go-openai"
)

var errEmptyDescription = errors.New("got empty description; try again")

type callFunc func(ctx context.Context) (string, error)

// describeWithRetry runs call until it yields a non-empty cleaned answer.
// Permanent failures (bad credentials, unknown model, cancellation) stop early.
func describeWithRetry(ctx context.Context, opts Options, call callFunc) (string, error) {
	var retv string
	err := retry.Do(func() error {
		callCtx := ctx
		if opts.Timeout > 0 {
			var cancel context.CancelFunc
			callCtx, cancel = context.WithTimeout(ctx, opts.Timeout)
			defer cancel()
		}
		out, err := call(callCtx)
		if err != nil {
			return err
		}
		retv = CleanResponse(out)
		if retv == "" {
			return errEmptyDescription
		}
		return nil
	},
		retry.Attempts(opts.Attempts),
		retry.Delay(opts.RetryDelay),
		retry.DelayType(retry.BackOffDelay),
		retry.MaxDelay(10*time.Second),
		retry.Context(ctx),
		retry.RetryIf(retryable),
	)
	if err == nil {
		return retv, nil
	}
	last := lastError(err)
	if errors.Is(last, errEmptyDescription) {
		return "", ErrNoDescription
	}
	return "", last
}

// lastError unwraps the per-attempt error list retry.Do returns so callers
// can use errors.Is on the final failure.
func lastError(err error) error {
	w, ok := err.(errwrap.Wrapper)
	if !ok {
		return err
	}
	errs := w.WrappedErrors()
	for i := len(errs) - 1; i >= 0; i-- {
		if errs[i] != nil {
			return errs[i]
		}
	}
	return err
}

func retryable(err error) bool {
	// a per-attempt timeout is worth retrying, a cancelled run is not
	if errors.Is(err, context.Canceled) {
		return false
	}
	if status := statusCode(err); status != 0 {
		return !permanentStatus(status)
	}
	return true
}

func statusCode(err error) int {
	var oaErr *openai.APIError
	if errors.As(err, &oaErr) {
		return oaErr.HTTPStatusCode
	}
	var reqErr *openai.RequestError
	if errors.As(err, &reqErr) {
		return reqErr.HTTPStatusCode
	}
	var olErr ollapi.StatusError
	if errors.As(err, &olErr) {
		return olErr.StatusCode
	}
	return 0
}

func permanentStatus(code int) bool {
	switch code {
	case http.StatusBadRequest, http.StatusUnauthorized, http.StatusForbidden, http.StatusNotFound:
		return true
	}
	return false
}
