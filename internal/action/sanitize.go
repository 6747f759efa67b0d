package action

import (
	"context"
	"net/url"
	"regexp"
	"strings"

	"github.com/rahul/planpilot/internal/plan"
	"github.com/rahul/planpilot/internal/tools"
)

// maxSanitizedChars caps the text kept from an HTML result.
const maxSanitizedChars = 20000

var htmlMarker = regexp.MustCompile(`(?i)<(!doctype html|html|body|head|div|p|article|section)[\s>]`)

// LooksLikeHTML reports whether s appears to be an HTML document or fragment.
func LooksLikeHTML(s string) bool {
	return htmlMarker.MatchString(s)
}

// Sanitizer turns HTML results into readable text before classification.
// Other results pass through untouched.
type Sanitizer struct {
	next plan.ActionInvoker
}

func NewSanitizer(next plan.ActionInvoker) *Sanitizer {
	return &Sanitizer{next: next}
}

func (s *Sanitizer) Invoke(ctx context.Context, req plan.ActionRequest) (plan.ActionResponse, error) {
	resp, err := s.next.Invoke(ctx, req)
	if err != nil || !LooksLikeHTML(resp.RawResult) {
		return resp, err
	}
	article, perr := tools.ExtractArticle(strings.NewReader(resp.RawResult), &url.URL{})
	if perr != nil || article.Text == "" {
		return resp, nil
	}
	resp.RawResult = article.Report(maxSanitizedChars)
	return resp, nil
}
