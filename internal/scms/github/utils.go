package github

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/google/go-github/v71/github"

	"github.com/argoproj-labs/commit-status-publisher/internal/dispatcher"
)

// Envelope decodes GitHub error bodies with the go-github error types, so
// validation errors without a message still name the offending field.
func Envelope(body []byte) string {
	err := github.CheckResponse(&http.Response{
		StatusCode: http.StatusUnprocessableEntity,
		Header:     http.Header{},
		Body:       io.NopCloser(bytes.NewReader(body)),
	})

	var errResp *github.ErrorResponse
	if !errors.As(err, &errResp) || errResp.Message == "" {
		return dispatcher.DefaultEnvelope(body)
	}

	parts := []string{errResp.Message}
	for _, e := range errResp.Errors {
		switch {
		case e.Message != "":
			parts = append(parts, e.Message)
		case e.Field != "":
			parts = append(parts, fmt.Sprintf("%s.%s is %s", e.Resource, e.Field, e.Code))
		}
	}
	return strings.Join(parts, "; ")
}
