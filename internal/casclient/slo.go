package casclient

import (
	"encoding/xml"
	"math"
	"time"

	"github.com/pkg/errors"
)

const samlProtocolNamespace = "urn:oasis:names:tc:SAML:2.0:protocol"

// DefaultLogoutInstantSkew is the default tolerance allowed between a
// LogoutRequest's IssueInstant and the current time.
const DefaultLogoutInstantSkew = 5 * time.Second

type xmlLogoutRequest struct {
	XMLName        xml.Name
	IssueInstant   string   `xml:"IssueInstant,attr"`
	SessionIndexes []string `xml:"urn:oasis:names:tc:SAML:2.0:protocol SessionIndex"`
}

// saml instant layouts seen in the wild; time.Parse requires an exact
// layout match, so a short list of concrete layouts stands in for a more
// lenient parser.
var samlInstantLayouts = []string{
	time.RFC3339Nano,
	time.RFC3339,
	"2006-01-02T15:04:05",
}

func parseSAMLInstant(s string) (time.Time, error) {
	var firstErr error
	for _, layout := range samlInstantLayouts {
		t, err := time.Parse(layout, s)
		if err == nil {
			return t, nil
		}
		if firstErr == nil {
			firstErr = err
		}
	}
	return time.Time{}, firstErr
}

// ParseLogoutRequest parses a CAS back-channel SAML LogoutRequest body
// and returns the single SessionIndex ticket it names. Any parse failure
// -- bad XML, wrong root, skewed instant, wrong SessionIndex cardinality
// -- is returned as an error; the caller logs it and falls through to
// normal CAS handling, never surfacing it to the user-agent as an error
// response.
func ParseLogoutRequest(body []byte, now time.Time, skew time.Duration) (string, error) {
	if skew <= 0 {
		skew = DefaultLogoutInstantSkew
	}

	var req xmlLogoutRequest
	if err := xml.Unmarshal(body, &req); err != nil {
		return "", errors.Wrap(err, "failed to parse LogoutRequest XML")
	}
	if req.XMLName.Local != "LogoutRequest" || req.XMLName.Space != samlProtocolNamespace {
		return "", errors.New("root element is not samlp:LogoutRequest")
	}
	if req.IssueInstant == "" {
		return "", errors.New("LogoutRequest missing IssueInstant")
	}

	instant, err := parseSAMLInstant(req.IssueInstant)
	if err != nil {
		return "", errors.Wrap(err, "failed to parse IssueInstant")
	}
	delta := now.UTC().Sub(instant.UTC())
	if math.Abs(delta.Seconds()) > skew.Seconds() {
		return "", errors.Errorf(
			"IssueInstant %s is outside the %s skew window", req.IssueInstant, skew)
	}

	if len(req.SessionIndexes) != 1 {
		return "", errors.Errorf(
			"LogoutRequest must have exactly one SessionIndex, found %d", len(req.SessionIndexes))
	}
	return req.SessionIndexes[0], nil
}
