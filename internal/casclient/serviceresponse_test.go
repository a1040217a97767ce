package casclient

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sampleSuccessBody = `<serviceResponse xmlns="http://www.yale.edu/tp/cas">` +
	`<authenticationSuccess><user>alice</user>` +
	`<attributes><role>admin</role><role>editor</role><email>alice@example.com</email></attributes>` +
	`</authenticationSuccess></serviceResponse>`

func TestParseServiceValidateResponseSuccess(t *testing.T) {
	result, err := ParseServiceValidateResponse([]byte(sampleSuccessBody))
	require.NoError(t, err)
	assert.Equal(t, "alice", result.Username)
	assert.Equal(t, []string{"admin", "editor"}, result.Attributes["role"])
	assert.Equal(t, []string{"alice@example.com"}, result.Attributes["email"])
}

func TestParseServiceValidateResponseMissingSuccess(t *testing.T) {
	body := `<serviceResponse xmlns="http://www.yale.edu/tp/cas">` +
		`<authenticationFailure code="INVALID_TICKET">Ticket not recognized</authenticationFailure>` +
		`</serviceResponse>`
	_, err := ParseServiceValidateResponse([]byte(body))
	require.Error(t, err)
	var denied *DeniedError
	assert.ErrorAs(t, err, &denied)
}

func TestParseServiceValidateResponseBadRoot(t *testing.T) {
	_, err := ParseServiceValidateResponse([]byte(`<notAResponse/>`))
	require.Error(t, err)
	var malformed *MalformedXMLError
	assert.ErrorAs(t, err, &malformed)
}

func TestParseServiceValidateResponseWrongUserCardinality(t *testing.T) {
	body := `<serviceResponse xmlns="http://www.yale.edu/tp/cas">` +
		`<authenticationSuccess><user>alice</user><user>bob</user></authenticationSuccess>` +
		`</serviceResponse>`
	_, err := ParseServiceValidateResponse([]byte(body))
	require.Error(t, err)
	var denied *DeniedError
	assert.ErrorAs(t, err, &denied)
}

func TestStripTicketParam(t *testing.T) {
	got, err := StripTicketParam("https://p.example/app/page?ticket=ST-1&x=1")
	require.NoError(t, err)
	assert.Equal(t, "https://p.example/app/page?x=1", got)
}

func TestLoginRedirectURLMergesService(t *testing.T) {
	got, err := LoginRedirectURL("https://cas.example/login", "https://p.example/app/page")
	require.NoError(t, err)
	assert.Equal(t, "https://cas.example/login?service=https%3A%2F%2Fp.example%2Fapp%2Fpage", got)
}

func TestLoginRedirectURLOverwritesExistingService(t *testing.T) {
	got, err := LoginRedirectURL("https://cas.example/login?service=old", "https://p.example/app/page")
	require.NoError(t, err)
	assert.Equal(t, "https://cas.example/login?service=https%3A%2F%2Fp.example%2Fapp%2Fpage", got)
}
