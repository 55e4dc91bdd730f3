package broker

import (
	"encoding/json"
	"errors"
	"strings"

	apperrors "copytrader/pkg/errors"
	apihttp "copytrader/pkg/http"
)

// apiErrorBody is the broker's error envelope.
type apiErrorBody struct {
	ErrorType    string `json:"errorType"`
	ErrorCode    string `json:"errorCode"`
	ErrorMessage string `json:"errorMessage"`
}

// classify maps a transport or API failure onto the shared error taxonomy.
// Broker error codes win over HTTP status; anything unrecognized on a 4xx is
// non-retryable so a permanent rejection never loops.
func classify(op string, err error) error {
	if err == nil {
		return nil
	}

	var apiErr *apihttp.APIError
	if !errors.As(err, &apiErr) {
		// Network or context failure before a response arrived.
		return apperrors.Wrap(apperrors.KindTransient, op, err)
	}

	var body apiErrorBody
	_ = json.Unmarshal(apiErr.Body, &body)

	switch body.ErrorCode {
	case "DH-901", "DH-902":
		return apperrors.Wrap(apperrors.KindAuthentication, op, err)
	case "DH-904":
		return &apperrors.Error{Kind: apperrors.KindRateLimited, Message: op, RetryAfter: apiErr.RetryAfter, Cause: err}
	case "DH-905":
		return apperrors.Wrap(apperrors.KindValidation, op, err)
	case "DH-906":
		if mentionsFunds(body.ErrorMessage) {
			return apperrors.Wrap(apperrors.KindInsufficientFunds, op, err)
		}
		return apperrors.Wrap(apperrors.KindNonRetryable, op, err)
	case "DH-908", "DH-909":
		return apperrors.Wrap(apperrors.KindTransient, op, err)
	}

	switch {
	case apiErr.StatusCode == 401 || apiErr.StatusCode == 403:
		return apperrors.Wrap(apperrors.KindAuthentication, op, err)
	case apiErr.StatusCode == 429:
		return &apperrors.Error{Kind: apperrors.KindRateLimited, Message: op, RetryAfter: apiErr.RetryAfter, Cause: err}
	case apiErr.StatusCode >= 500:
		return apperrors.Wrap(apperrors.KindTransient, op, err)
	case apiErr.StatusCode == 400:
		if mentionsFunds(body.ErrorMessage) {
			return apperrors.Wrap(apperrors.KindInsufficientFunds, op, err)
		}
		return apperrors.Wrap(apperrors.KindValidation, op, err)
	}
	return apperrors.Wrap(apperrors.KindNonRetryable, op, err)
}

func mentionsFunds(msg string) bool {
	m := strings.ToLower(msg)
	return strings.Contains(m, "insufficient") ||
		strings.Contains(m, "margin") ||
		strings.Contains(m, "fund")
}
