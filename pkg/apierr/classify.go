package apierr

import (
	"bytes"
	"encoding/json"
	"errors"
	"strconv"
	"strings"
)

// looseInt accepts both 3 and "3"; the NDB API is not consistent about it.
type looseInt int

func (n *looseInt) UnmarshalJSON(data []byte) error {
	s := strings.Trim(string(data), `"`)
	if s == "" || s == "null" {
		*n = 0
		return nil
	}
	v, err := strconv.Atoi(s)
	if err != nil {
		return err
	}
	*n = looseInt(v)
	return nil
}

type envelopeError struct {
	Status    looseInt `json:"status"`
	Parameter string   `json:"parameter"`
	Message   string   `json:"message"`
	Code      string   `json:"code"`
}

type envelope struct {
	Error  json.RawMessage `json:"error"`
	Errors *struct {
		Error []envelopeError `json:"error"`
	} `json:"errors"`
}

type reportV2Envelope struct {
	Foods []struct {
		Error string `json:"error"`
	} `json:"foods"`
	Count    looseInt `json:"count"`
	NotFound looseInt `json:"notfound"`
}

// Classify inspects a response body for an embedded error indicator.
// It returns an *APIError when one is present, a *ConversionError when the
// body is not JSON, and nil otherwise.
//
// Recognised shapes:
//
//	{"error": "message"}
//	{"error": {"code": "API_KEY_INVALID", "message": "..."}}
//	{"errors": {"error": [{"status": 400, "parameter": "ndbno", "message": "..."}]}}
func Classify(body []byte) error {
	trimmed := bytes.TrimSpace(body)
	if !json.Valid(trimmed) {
		return &ConversionError{Type: "envelope", Err: errors.New("response is not valid JSON")}
	}
	if len(trimmed) == 0 || trimmed[0] != '{' {
		return nil
	}

	var env envelope
	if err := json.Unmarshal(trimmed, &env); err != nil {
		return &ConversionError{Type: "envelope", Err: err}
	}

	if apiErr := fromErrorField(env.Error); apiErr != nil {
		return apiErr
	}

	if env.Errors != nil && len(env.Errors.Error) > 0 {
		first := env.Errors.Error[0]
		msgs := make([]string, 0, len(env.Errors.Error))
		for _, e := range env.Errors.Error {
			if e.Message != "" {
				msgs = append(msgs, e.Message)
			}
		}
		return &APIError{
			Message:   strings.Join(msgs, "; "),
			Code:      first.Code,
			Status:    int(first.Status),
			Parameter: first.Parameter,
		}
	}

	return nil
}

func fromErrorField(raw json.RawMessage) *APIError {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return nil
	}

	var msg string
	if err := json.Unmarshal(raw, &msg); err == nil {
		if msg == "" {
			return nil
		}
		return &APIError{Message: msg}
	}

	var obj envelopeError
	if err := json.Unmarshal(raw, &obj); err != nil {
		return &APIError{Message: string(raw)}
	}
	if obj.Message == "" && obj.Code == "" {
		return nil
	}
	return &APIError{
		Message:   obj.Message,
		Code:      obj.Code,
		Status:    int(obj.Status),
		Parameter: obj.Parameter,
	}
}

// ClassifyReportV2 applies Classify and then checks the per-item error
// fields of a multi-food report response. A single errored item fails the
// whole call: the returned *APIError carries the count and notfound
// counters so callers can tell a uniform not-found apart from a partial one.
func ClassifyReportV2(body []byte) error {
	if err := Classify(body); err != nil {
		return err
	}

	var env reportV2Envelope
	if err := json.Unmarshal(body, &env); err != nil {
		return &ConversionError{Type: "FoodReportV2", Err: err}
	}

	var msgs []string
	seen := make(map[string]bool)
	for _, f := range env.Foods {
		if f.Error == "" || seen[f.Error] {
			continue
		}
		seen[f.Error] = true
		msgs = append(msgs, f.Error)
	}

	if len(msgs) == 0 && env.NotFound == 0 {
		return nil
	}
	if len(msgs) == 0 {
		msgs = append(msgs, "not found")
	}

	return &APIError{
		Message:  strings.Join(msgs, "; "),
		Count:    int(env.Count),
		NotFound: int(env.NotFound),
	}
}
