package prober

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"net/http"

	"github.com/Laisky/errors/v2"

	"github.com/nebulablock/rpdprobe/common/helper"
	relaymodel "github.com/nebulablock/rpdprobe/relay/model"
)

// Response is what a dispatcher observed from the endpoint.
type Response struct {
	StatusCode int
	Body       []byte
}

// BodyCheck validates the body of a 200 response. A nil error means the body is well formed.
type BodyCheck func(body []byte) error

// ChatCompletionCheck requires a JSON object whose choices list is non-empty
// and whose first choice carries a message.
func ChatCompletionCheck(body []byte) error {
	var resp relaymodel.TextResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return errors.Wrap(err, "decode chat completion")
	}
	if len(resp.Choices) == 0 {
		return errors.New("no choices in response")
	}
	if resp.Choices[0].Message == nil {
		return errors.New("first choice has no message")
	}
	return nil
}

// Classifier maps a response or transport error to an outcome category.
// The zero value uses ChatCompletionCheck.
type Classifier struct {
	Check BodyCheck
}

// Classify returns the category and a human-readable detail. Exactly one of resp and err
// is expected; a nil response without an error is treated as a transport failure.
// It never panics, even when Check does.
func (c Classifier) Classify(resp *Response, err error) (category Category, detail string) {
	defer func() {
		if r := recover(); r != nil {
			category = CategoryFailed
			detail = fmt.Sprintf("body check panicked: %v", r)
		}
	}()

	if err != nil {
		if IsTimeout(err) {
			return CategoryFailed, "timeout"
		}
		return CategoryFailed, err.Error()
	}
	if resp == nil {
		return CategoryFailed, "no response"
	}

	switch resp.StatusCode {
	case http.StatusOK:
		check := c.Check
		if check == nil {
			check = ChatCompletionCheck
		}
		if cerr := check(resp.Body); cerr != nil {
			return CategoryFailed, "malformed response: " + cerr.Error()
		}
		return CategorySuccess, ""
	case http.StatusTooManyRequests:
		return CategoryRateLimited, helper.Snippet(resp.Body)
	default:
		return CategoryFailed, fmt.Sprintf("status %d: %s", resp.StatusCode, helper.Snippet(resp.Body))
	}
}

// IsTimeout reports whether err is a deadline or network timeout.
func IsTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}
