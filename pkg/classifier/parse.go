package classifier

import (
	"encoding/json"
	"fmt"
	"strings"

	serrors "github.com/exploopio/sentinel/pkg/errors"
	"github.com/exploopio/sentinel/pkg/model"
	"github.com/exploopio/sentinel/pkg/shared/severity"
)

// ParseResult decodes a raw classifier reply for category.
//
// The flag is read from FlagKey(category), falling back to "flagged".
// Evidence is read from "indicators" or "evidence". Markdown code fences
// around the JSON are tolerated. Replies with a missing flag, a confidence
// outside [0, 1] or an unknown severity are rejected with
// KindMalformedResponse.
func ParseResult(category model.Category, raw string) (*Result, error) {
	const op = "classifier.ParseResult"

	var fields map[string]json.RawMessage
	if err := json.Unmarshal([]byte(stripFences(raw)), &fields); err != nil {
		return nil, serrors.E(serrors.KindMalformedResponse, op, "reply is not a JSON object", err)
	}

	flagRaw, ok := fields[FlagKey(category)]
	if !ok {
		flagRaw, ok = fields["flagged"]
	}
	if !ok {
		return nil, serrors.E(serrors.KindMalformedResponse, op, fmt.Sprintf("missing %s flag", FlagKey(category)))
	}

	res := &Result{}
	if err := json.Unmarshal(flagRaw, &res.Flagged); err != nil {
		return nil, serrors.E(serrors.KindMalformedResponse, op, "flag is not a boolean", err)
	}

	confRaw, ok := fields["confidence"]
	if !ok {
		return nil, serrors.E(serrors.KindMalformedResponse, op, "missing confidence")
	}
	if err := json.Unmarshal(confRaw, &res.Confidence); err != nil {
		return nil, serrors.E(serrors.KindMalformedResponse, op, "confidence is not a number", err)
	}
	if res.Confidence < 0 || res.Confidence > 1 {
		return nil, serrors.E(serrors.KindMalformedResponse, op, fmt.Sprintf("confidence %v outside [0,1]", res.Confidence))
	}

	res.Severity = severity.Unknown
	if sevRaw, ok := fields["severity"]; ok {
		var s string
		if err := json.Unmarshal(sevRaw, &s); err != nil {
			return nil, serrors.E(serrors.KindMalformedResponse, op, "severity is not a string", err)
		}
		res.Severity = severity.FromString(s)
		if !res.Severity.IsValid() {
			return nil, serrors.E(serrors.KindMalformedResponse, op, fmt.Sprintf("unknown severity %q", s))
		}
	}
	if res.Flagged && !res.Severity.IsValid() {
		return nil, serrors.E(serrors.KindMalformedResponse, op, "flagged reply has no severity")
	}

	if expRaw, ok := fields["explanation"]; ok {
		if err := json.Unmarshal(expRaw, &res.Explanation); err != nil {
			return nil, serrors.E(serrors.KindMalformedResponse, op, "explanation is not a string", err)
		}
	}

	for _, key := range []string{"indicators", "evidence"} {
		evRaw, ok := fields[key]
		if !ok {
			continue
		}
		if err := json.Unmarshal(evRaw, &res.Evidence); err != nil {
			return nil, serrors.E(serrors.KindMalformedResponse, op, key+" is not a string array", err)
		}
		break
	}

	return res, nil
}

// parseDraft decodes a drafting reply.
func parseDraft(raw string) (*Draft, error) {
	const op = "classifier.parseDraft"

	var d Draft
	if err := json.Unmarshal([]byte(stripFences(raw)), &d); err != nil {
		return nil, serrors.E(serrors.KindMalformedResponse, op, "draft is not a JSON object", err)
	}
	if strings.TrimSpace(d.Description) == "" || len(d.Steps) == 0 {
		return nil, serrors.E(serrors.KindMalformedResponse, op, "draft has no description or steps")
	}
	return &d, nil
}

// stripFences removes a surrounding ```json ... ``` block, if any.
func stripFences(raw string) string {
	s := strings.TrimSpace(raw)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```")
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		s = s[i+1:]
	}
	s = strings.TrimSuffix(strings.TrimSpace(s), "```")
	return strings.TrimSpace(s)
}
