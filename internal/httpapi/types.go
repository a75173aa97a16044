// Package httpapi exposes the C6 request handler over the single
// POST /webkdc endpoint, translating the XML envelopes
// to and from the internal/issuance request/response types.
package httpapi

import "encoding/xml"

// requesterCredentialXML mirrors <requesterCredential type="service|krb5">.
type requesterCredentialXML struct {
	Type            string `xml:"type,attr"`
	ServerPrincipal string `xml:"serverPrincipal,attr,omitempty"`
	Data            string `xml:",chardata"` // base64: service token or AP-REQ
}

// subjectCredentialXML mirrors <subjectCredential type="proxy|login">.
type subjectCredentialXML struct {
	Type        string   `xml:"type,attr"`
	ProxyTokens []string `xml:"proxyToken"`
	LoginToken  string   `xml:"loginToken,omitempty"`
}

// tokenSpecXML mirrors one <token type="…"> child of <tokens>.
type tokenSpecXML struct {
	Type            string `xml:"type,attr"`
	ID              string `xml:"id,attr,omitempty"`
	Authenticator   string `xml:"authenticator>type,omitempty"`
	ProxyType       string `xml:"proxyType,omitempty"`
	CredentialType  string `xml:"credentialType,omitempty"`
	ServerPrincipal string `xml:"serverPrincipal,omitempty"`
}

// getTokensRequestXML mirrors the full <getTokensRequest> envelope.
type getTokensRequestXML struct {
	XMLName             xml.Name                 `xml:"getTokensRequest"`
	RequesterCredential requesterCredentialXML   `xml:"requesterCredential"`
	SubjectCredential   *subjectCredentialXML    `xml:"subjectCredential"`
	MessageID           string                   `xml:"messageId,omitempty"`
	RequestToken        string                   `xml:"requestToken,omitempty"`
	Tokens              []tokenSpecXML           `xml:"tokens>token"`
}

// requestTokenRequestXML mirrors the full <requestTokenRequest> envelope.
type requestTokenRequestXML struct {
	XMLName             xml.Name               `xml:"requestTokenRequest"`
	RequesterCredential requesterCredentialXML `xml:"requesterCredential"`
	SubjectCredential   subjectCredentialXML   `xml:"subjectCredential"`
	RequestToken        string                 `xml:"requestToken"`
}

// tokenResultXML mirrors one <token> child of a getTokensResponse.
type tokenResultXML struct {
	Type    string `xml:"type,attr"`
	ID      string `xml:"id,attr,omitempty"`
	Data    string `xml:",chardata"`
	Expires int64  `xml:"-"`
}

// getTokensResponseXML mirrors <getTokensResponse>.
type getTokensResponseXML struct {
	XMLName xml.Name         `xml:"getTokensResponse"`
	Tokens  []tokenResultXML `xml:"tokens>token"`
}

// requestTokenResponseXML mirrors <requestTokenResponse>.
type requestTokenResponseXML struct {
	XMLName           xml.Name `xml:"requestTokenResponse"`
	Token             string   `xml:"returnedToken,omitempty"`
	TokenType         string   `xml:"returnedTokenType,omitempty"`
	LoginErrorCode    int      `xml:"loginErrorCode,omitempty"`
	LoginErrorMessage string   `xml:"loginErrorMessage,omitempty"`
}

// errorResponseXML mirrors <errorResponse>, the fatal-failure envelope.
type errorResponseXML struct {
	XMLName      xml.Name `xml:"errorResponse"`
	ErrorCode    int      `xml:"errorCode"`
	ErrorMessage string   `xml:"errorMessage"`
}
