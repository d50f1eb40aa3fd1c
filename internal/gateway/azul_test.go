package gateway

import (
	"net/url"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testCreds = Credentials{MerchantID: "39038540035", AuthKey: "secret-key"}

func TestBuildRedirect(t *testing.T) {
	form, err := BuildRedirect(RedirectRequest{
		OrderNumber: "ORD-100",
		AmountCents: 150050,
		ItbisCents:  27009,
		Token:       RoutingToken{Kind: TokenKindInscription, StudentID: "stu-1", Position: 2},
		ResponseURL: "https://example.test/callback",
	}, testCreds, "sandbox")
	require.NoError(t, err)

	assert.Equal(t, "https://pruebas.azul.com.do/PaymentPage/", form.PageURL)
	assert.Equal(t, "1500.50", form.Fields["Amount"])
	assert.Equal(t, "270.09", form.Fields["Itbis"])
	assert.Equal(t, "inscription:stu-1:2", form.Fields["CustomOrderId"])
	assert.Equal(t, form.Fields["CustomOrderId"], form.Fields["CustomField1"])

	expected := sha512Hex("39038540035" + "secret-key" + "ORD-100" + "1500.50" + "270.09")
	assert.Equal(t, expected, form.Fields["AuthHash"])
}

func TestBuildRedirectLiveEnvironment(t *testing.T) {
	form, err := BuildRedirect(RedirectRequest{
		OrderNumber: "ORD-1",
		AmountCents: 100,
		Token:       RoutingToken{Kind: TokenKindGeneral, ConceptID: "uniforme", StudentID: "stu-1"},
	}, testCreds, "live")
	require.NoError(t, err)
	assert.Equal(t, "https://pagos.azul.com.do/PaymentPage/", form.PageURL)
}

func TestBuildRedirectRejectsMissingCredentials(t *testing.T) {
	_, err := BuildRedirect(RedirectRequest{OrderNumber: "ORD-1", AmountCents: 100}, Credentials{}, "sandbox")
	assert.Error(t, err)
}

func callbackFields(creds Credentials, responseCode, customField string) url.Values {
	fields := url.Values{}
	fields.Set("OrderNumber", "ORD-100")
	fields.Set("Amount", "1500.50")
	fields.Set("AuthorizationCode", "AUTH1")
	fields.Set("ResponseCode", responseCode)
	fields.Set("DateTime", "20260901120000")
	fields.Set("RRN", "RRN-1")
	fields.Set("CustomField1", customField)
	fields.Set("AzulTransactionId", "TX-555")
	hash := sha512Hex(creds.MerchantID + creds.AuthKey + "ORD-100" + "1500.50" +
		"AUTH1" + responseCode + "20260901120000" + "RRN-1" + customField + "TX-555")
	fields.Set("AuthHash", hash)
	return fields
}

func TestVerifyCallbackApproved(t *testing.T) {
	fields := callbackFields(testCreds, "00", "inscription:stu-1:0")

	event, err := VerifyCallback(fields, testCreds)
	require.NoError(t, err)
	assert.True(t, event.Approved)
	assert.Equal(t, "TX-555", event.TransactionID)
	assert.Equal(t, int64(150050), event.AmountCents)
	assert.Equal(t, TokenKindInscription, event.Token.Kind)
	assert.Equal(t, "stu-1", event.Token.StudentID)
	assert.Equal(t, 0, event.Token.Position)
}

func TestVerifyCallbackHashCaseInsensitive(t *testing.T) {
	fields := callbackFields(testCreds, "00", "inscription:stu-1:0")
	fields.Set("AuthHash", strings.ToUpper(fields.Get("AuthHash")))

	event, err := VerifyCallback(fields, testCreds)
	require.NoError(t, err)
	assert.True(t, event.Approved)
}

func TestVerifyCallbackRejectsTamperedFields(t *testing.T) {
	fields := callbackFields(testCreds, "00", "inscription:stu-1:0")
	fields.Set("Amount", "1.00")

	_, err := VerifyCallback(fields, testCreds)
	assert.Error(t, err)
}

func TestVerifyCallbackRejectsMissingHash(t *testing.T) {
	fields := callbackFields(testCreds, "00", "inscription:stu-1:0")
	fields.Del("AuthHash")

	_, err := VerifyCallback(fields, testCreds)
	assert.Error(t, err)
}

func TestVerifyCallbackDeclined(t *testing.T) {
	fields := callbackFields(testCreds, "51", "inscription:stu-1:0")

	event, err := VerifyCallback(fields, testCreds)
	require.NoError(t, err)
	assert.False(t, event.Approved)
	// Declined events never parse the routing token.
	assert.Empty(t, event.Token.StudentID)
}

func TestParseRoutingToken(t *testing.T) {
	token, err := ParseRoutingToken("inscription:stu-9:3")
	require.NoError(t, err)
	assert.Equal(t, RoutingToken{Kind: TokenKindInscription, StudentID: "stu-9", Position: 3}, token)

	token, err = ParseRoutingToken("general:mensualidad:stu-9")
	require.NoError(t, err)
	assert.Equal(t, RoutingToken{Kind: TokenKindGeneral, ConceptID: "mensualidad", StudentID: "stu-9"}, token)

	_, err = ParseRoutingToken("bogus:a:b")
	assert.Error(t, err)
	_, err = ParseRoutingToken("inscription:stu-9")
	assert.Error(t, err)
	_, err = ParseRoutingToken("inscription:stu-9:notanumber")
	assert.Error(t, err)
}

func TestRoutingTokenRoundTrip(t *testing.T) {
	original := RoutingToken{Kind: TokenKindInscription, StudentID: "stu-1", Position: 12}
	parsed, err := ParseRoutingToken(original.String())
	require.NoError(t, err)
	assert.Equal(t, original, parsed)
}

func TestFormatAndParseAmount(t *testing.T) {
	assert.Equal(t, "0.05", FormatAmount(5))
	assert.Equal(t, "12.00", FormatAmount(1200))
	assert.Equal(t, "1500.50", FormatAmount(150050))

	cents, err := ParseAmount("1500.50")
	require.NoError(t, err)
	assert.Equal(t, int64(150050), cents)

	cents, err = ParseAmount("12")
	require.NoError(t, err)
	assert.Equal(t, int64(1200), cents)

	_, err = ParseAmount("")
	assert.Error(t, err)
	_, err = ParseAmount("12.5")
	assert.Error(t, err)
}
