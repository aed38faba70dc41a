package validation

import (
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"unicode"

	"wamux/internal/constants"
	"wamux/internal/errors"
)

// ValidatePhoneNumber validates the account identifier format and length
func ValidatePhoneNumber(phone string) error {
	if phone == "" {
		return errors.New(errors.ErrCodeInvalidInput, "phone number cannot be empty")
	}

	cleaned := strings.TrimPrefix(phone, "+")
	cleaned = strings.TrimSuffix(cleaned, "@c.us")
	cleaned = strings.TrimSuffix(cleaned, "@g.us")

	if len(cleaned) < constants.MinPhoneNumberLength {
		return errors.New(errors.ErrCodeInvalidInput,
			fmt.Sprintf("phone number must be at least %d digits", constants.MinPhoneNumberLength))
	}

	if len(cleaned) > constants.MaxPhoneNumberLength {
		return errors.New(errors.ErrCodeInvalidInput,
			fmt.Sprintf("phone number too long (max %d digits)", constants.MaxPhoneNumberLength))
	}

	for _, char := range cleaned {
		if !unicode.IsDigit(char) {
			return errors.New(errors.ErrCodeInvalidInput, "phone number must contain only digits")
		}
	}

	return nil
}

// ValidateWebhookURL validates a callback URL before registration.
// Reachability is never checked here.
func ValidateWebhookURL(rawURL string) error {
	if rawURL == "" {
		return errors.New(errors.ErrCodeInvalidInput, "webhook URL cannot be empty")
	}

	if len(rawURL) > constants.MaxWebhookURLLength {
		return errors.New(errors.ErrCodeInvalidInput,
			fmt.Sprintf("webhook URL too long (max %d characters)", constants.MaxWebhookURLLength))
	}

	parsed, err := url.Parse(rawURL)
	if err != nil {
		return errors.Wrap(err, errors.ErrCodeInvalidInput, "webhook URL is not a valid URL")
	}

	if parsed.Scheme != "http" && parsed.Scheme != "https" {
		return errors.New(errors.ErrCodeInvalidInput, "webhook URL must use http or https")
	}

	if parsed.Host == "" {
		return errors.New(errors.ErrCodeInvalidInput, "webhook URL must include a host")
	}

	return nil
}

// ValidateMessageBody validates an outgoing message body
func ValidateMessageBody(body string) error {
	if body == "" {
		return errors.New(errors.ErrCodeInvalidInput, "message cannot be empty")
	}

	if len(body) > constants.MaxMessageLength {
		return errors.New(errors.ErrCodeInvalidInput,
			fmt.Sprintf("message too long (max %d bytes)", constants.MaxMessageLength))
	}

	return nil
}

// ParseListQuery extracts page and limit from listing query parameters,
// applying defaults and clamping limit to its allowed range.
func ParseListQuery(query url.Values) (page, limit int, err error) {
	page = constants.DefaultListPage
	limit = constants.DefaultListLimit

	if raw := query.Get("page"); raw != "" {
		page, err = strconv.Atoi(raw)
		if err != nil || page < 1 {
			return 0, 0, errors.New(errors.ErrCodeInvalidInput, "page must be a positive integer")
		}
	}

	if raw := query.Get("limit"); raw != "" {
		limit, err = strconv.Atoi(raw)
		if err != nil {
			return 0, 0, errors.New(errors.ErrCodeInvalidInput, "limit must be an integer")
		}
		if limit < constants.MinListLimit {
			limit = constants.MinListLimit
		}
		if limit > constants.MaxListLimit {
			limit = constants.MaxListLimit
		}
	}

	return page, limit, nil
}

// ValidateHTTPRequestSize validates incoming HTTP request size
func ValidateHTTPRequestSize(r *http.Request, maxSizeBytes int64) error {
	if r.ContentLength < 0 {
		return errors.New(errors.ErrCodeInvalidInput, "invalid content length")
	}

	if r.ContentLength > maxSizeBytes {
		return errors.New(errors.ErrCodeInvalidInput,
			fmt.Sprintf("request too large: %d bytes (max %d bytes)", r.ContentLength, maxSizeBytes))
	}

	return nil
}

// ValidateTimeout validates timeout values
func ValidateTimeout(timeoutSec int, fieldName string) error {
	if timeoutSec < 1 {
		return errors.New(errors.ErrCodeInvalidInput,
			fmt.Sprintf("%s must be at least 1 second", fieldName))
	}

	if timeoutSec > 3600 {
		return errors.New(errors.ErrCodeInvalidInput,
			fmt.Sprintf("%s too large (max 3600 seconds)", fieldName))
	}

	return nil
}
