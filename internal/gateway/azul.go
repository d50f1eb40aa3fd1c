// Package gateway implements the card gateway round trip: building the
// signed redirect form and verifying the authenticity hash of the
// asynchronous callback. Everything here is pure computation.
package gateway

import (
	"crypto/sha512"
	"crypto/subtle"
	"encoding/hex"
	"fmt"
	"net/url"
	"strconv"
	"strings"

	appErrors "github.com/noah-isme/enrollment-api/pkg/errors"
)

// Name identifies this gateway in payment records.
const Name = "azul"

// ResponseCodeApproved is the gateway's success response code.
const ResponseCodeApproved = "00"

// Payment page URLs per environment.
const (
	pageURLSandbox = "https://pruebas.azul.com.do/PaymentPage/"
	pageURLLive    = "https://pagos.azul.com.do/PaymentPage/"
)

// Credentials are the merchant credentials shared with the gateway.
type Credentials struct {
	MerchantID string
	AuthKey    string
}

// TokenKind routes a verified payment event.
type TokenKind string

const (
	TokenKindInscription TokenKind = "inscription"
	TokenKindGeneral     TokenKind = "general"
)

// RoutingToken is the colon-delimited triple carried through the gateway
// in CustomOrderId/CustomField1. It addresses either an enrollment row
// (by legacy student id + row position) or a general payment concept.
type RoutingToken struct {
	Kind      TokenKind
	StudentID string
	Position  int
	ConceptID string
}

// String renders the token in wire format.
func (t RoutingToken) String() string {
	switch t.Kind {
	case TokenKindInscription:
		return fmt.Sprintf("%s:%s:%d", TokenKindInscription, t.StudentID, t.Position)
	case TokenKindGeneral:
		return fmt.Sprintf("%s:%s:%s", TokenKindGeneral, t.ConceptID, t.StudentID)
	}
	return ""
}

// ParseRoutingToken parses the wire format back into a RoutingToken.
func ParseRoutingToken(raw string) (RoutingToken, error) {
	parts := strings.Split(raw, ":")
	if len(parts) != 3 {
		return RoutingToken{}, fmt.Errorf("routing token %q: want 3 colon-delimited parts", raw)
	}
	switch TokenKind(parts[0]) {
	case TokenKindInscription:
		position, err := strconv.Atoi(parts[2])
		if err != nil {
			return RoutingToken{}, fmt.Errorf("routing token %q: invalid row position: %w", raw, err)
		}
		return RoutingToken{Kind: TokenKindInscription, StudentID: parts[1], Position: position}, nil
	case TokenKindGeneral:
		return RoutingToken{Kind: TokenKindGeneral, ConceptID: parts[1], StudentID: parts[2]}, nil
	}
	return RoutingToken{}, fmt.Errorf("routing token %q: unknown kind %q", raw, parts[0])
}

// RedirectRequest describes an outbound payment to present to the user.
// Amounts are minor units (cents).
type RedirectRequest struct {
	OrderNumber string
	AmountCents int64
	ItbisCents  int64
	Token       RoutingToken
	ResponseURL string
}

// RedirectForm is the signed set of hidden fields posted to the gateway.
type RedirectForm struct {
	PageURL string            `json:"page_url"`
	Fields  map[string]string `json:"fields"`
}

// PageURL returns the payment page for the configured environment.
// Anything other than "live" lands on the sandbox.
func PageURL(environment string) string {
	if environment == "live" {
		return pageURLLive
	}
	return pageURLSandbox
}

// BuildRedirect assembles the hidden form fields of the payment page,
// including the outbound authenticity hash.
func BuildRedirect(req RedirectRequest, creds Credentials, environment string) (*RedirectForm, error) {
	if creds.MerchantID == "" || creds.AuthKey == "" {
		return nil, appErrors.Clone(appErrors.ErrValidation, "gateway merchant credentials not configured")
	}
	if req.OrderNumber == "" {
		return nil, appErrors.Clone(appErrors.ErrValidation, "order number required")
	}
	if req.AmountCents <= 0 {
		return nil, appErrors.Clone(appErrors.ErrValidation, "amount must be positive")
	}

	amount := FormatAmount(req.AmountCents)
	itbis := FormatAmount(req.ItbisCents)
	token := req.Token.String()

	hash := sha512Hex(creds.MerchantID + creds.AuthKey + req.OrderNumber + amount + itbis)

	return &RedirectForm{
		PageURL: PageURL(environment),
		Fields: map[string]string{
			"MerchantId":    creds.MerchantID,
			"OrderNumber":   req.OrderNumber,
			"Amount":        amount,
			"Itbis":         itbis,
			"AuthHash":      hash,
			"ResponseUrl":   req.ResponseURL,
			"CustomOrderId": token,
			"CustomField1":  token,
		},
	}, nil
}

// PaymentEvent is a verified gateway callback.
type PaymentEvent struct {
	TransactionID     string
	OrderNumber       string
	AmountCents       int64
	AuthorizationCode string
	ResponseCode      string
	ResponseMessage   string
	RRN               string
	DateTime          string
	Token             RoutingToken
	Approved          bool
}

// VerifyCallback recomputes the callback authenticity hash and, on match,
// returns the parsed payment event. Any mismatch is a hard failure with
// no side effects.
func VerifyCallback(fields url.Values, creds Credentials) (*PaymentEvent, error) {
	orderNumber := fields.Get("OrderNumber")
	amount := fields.Get("Amount")
	authorizationCode := fields.Get("AuthorizationCode")
	responseCode := fields.Get("ResponseCode")
	dateTime := fields.Get("DateTime")
	rrn := fields.Get("RRN")
	customOrderID := fields.Get("CustomField1")
	transactionID := fields.Get("AzulTransactionId")
	suppliedHash := fields.Get("AuthHash")

	if suppliedHash == "" {
		return nil, appErrors.Clone(appErrors.ErrForbidden, "callback authenticity check failed")
	}

	expected := sha512Hex(creds.MerchantID + creds.AuthKey + orderNumber + amount +
		authorizationCode + responseCode + dateTime + rrn + customOrderID + transactionID)

	// The gateway is inconsistent about hash casing, so the comparison is
	// case-insensitive, but still constant time.
	if !hashesEqual(expected, suppliedHash) {
		return nil, appErrors.Clone(appErrors.ErrForbidden, "callback authenticity check failed")
	}

	event := &PaymentEvent{
		TransactionID:     transactionID,
		OrderNumber:       orderNumber,
		AuthorizationCode: authorizationCode,
		ResponseCode:      responseCode,
		ResponseMessage:   fields.Get("ResponseMessage"),
		RRN:               rrn,
		DateTime:          dateTime,
		Approved:          responseCode == ResponseCodeApproved,
	}

	amountCents, err := ParseAmount(amount)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid callback amount")
	}
	event.AmountCents = amountCents

	if event.Approved {
		token, err := ParseRoutingToken(customOrderID)
		if err != nil {
			return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid routing token")
		}
		event.Token = token
	}

	return event, nil
}

// FormatAmount renders minor units as a fixed two-decimal string with a
// dot separator, independent of locale.
func FormatAmount(cents int64) string {
	sign := ""
	if cents < 0 {
		sign = "-"
		cents = -cents
	}
	return fmt.Sprintf("%s%d.%02d", sign, cents/100, cents%100)
}

// ParseAmount converts a two-decimal gateway amount back to minor units.
func ParseAmount(raw string) (int64, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return 0, fmt.Errorf("empty amount")
	}
	whole, frac, found := strings.Cut(raw, ".")
	units, err := strconv.ParseInt(whole, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("amount %q: %w", raw, err)
	}
	if !found {
		return units * 100, nil
	}
	if len(frac) != 2 {
		return 0, fmt.Errorf("amount %q: want exactly 2 decimals", raw)
	}
	cents, err := strconv.ParseInt(frac, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("amount %q: %w", raw, err)
	}
	if units < 0 || strings.HasPrefix(whole, "-") {
		return units*100 - cents, nil
	}
	return units*100 + cents, nil
}

func sha512Hex(payload string) string {
	sum := sha512.Sum512([]byte(payload))
	return hex.EncodeToString(sum[:])
}

func hashesEqual(expected, supplied string) bool {
	a := []byte(strings.ToLower(expected))
	b := []byte(strings.ToLower(supplied))
	if len(a) != len(b) {
		return false
	}
	return subtle.ConstantTimeCompare(a, b) == 1
}
