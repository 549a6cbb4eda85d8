package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

const defaultHTTPTimeout = 30 * time.Second

// PowerOfficeClient talks to the PowerOffice Go API over HTTP.
type PowerOfficeClient struct {
	apiURL       string
	authURL      string
	clientID     string
	clientSecret string
	redirectURI  string
	httpClient   *http.Client
}

// NewPowerOfficeClient creates a PowerOffice Go client. apiURL and authURL
// are configurable so tests and the sandbox environment can point elsewhere.
func NewPowerOfficeClient(apiURL, authURL, clientID, clientSecret, redirectURI string) *PowerOfficeClient {
	return &PowerOfficeClient{
		apiURL:       strings.TrimSuffix(apiURL, "/"),
		authURL:      strings.TrimSuffix(authURL, "/"),
		clientID:     clientID,
		clientSecret: clientSecret,
		redirectURI:  redirectURI,
		httpClient:   &http.Client{Timeout: defaultHTTPTimeout},
	}
}

func (c *PowerOfficeClient) AuthorizeURL(state string) string {
	q := url.Values{}
	q.Set("client_id", c.clientID)
	q.Set("response_type", "code")
	q.Set("redirect_uri", c.redirectURI)
	q.Set("state", state)
	return c.authURL + "/authorize?" + q.Encode()
}

func (c *PowerOfficeClient) ExchangeCode(ctx context.Context, code string) (ConnectResult, error) {
	form := url.Values{}
	form.Set("grant_type", "authorization_code")
	form.Set("code", code)
	form.Set("client_id", c.clientID)
	form.Set("client_secret", c.clientSecret)
	form.Set("redirect_uri", c.redirectURI)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.authURL+"/token", strings.NewReader(form.Encode()))
	if err != nil {
		return ConnectResult{}, err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return ConnectResult{}, wrapTransportError(err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return ConnectResult{}, responseError(resp)
	}

	var body struct {
		AccessToken  string `json:"access_token"`
		RefreshToken string `json:"refresh_token"`
		ExpiresIn    int    `json:"expires_in"`
		OrgName      string `json:"organization_name"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return ConnectResult{}, fmt.Errorf("decode token response: %w", err)
	}

	return ConnectResult{
		Session:      Session{AccessToken: body.AccessToken},
		RefreshToken: body.RefreshToken,
		ExpiresAt:    time.Now().Add(time.Duration(body.ExpiresIn) * time.Second),
		OrgName:      body.OrgName,
	}, nil
}

func (c *PowerOfficeClient) Revoke(ctx context.Context, session Session) error {
	form := url.Values{}
	form.Set("token", session.AccessToken)
	form.Set("client_id", c.clientID)
	form.Set("client_secret", c.clientSecret)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.authURL+"/revoke", strings.NewReader(form.Encode()))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return wrapTransportError(err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusNoContent {
		return responseError(resp)
	}
	return nil
}

func (c *PowerOfficeClient) Ping(ctx context.Context, session Session) error {
	var ignored json.RawMessage
	return c.get(ctx, session, "/organization", &ignored)
}

func (c *PowerOfficeClient) FetchVatCodes(ctx context.Context, session Session) ([]VatCode, error) {
	var body struct {
		Data []struct {
			Code     string          `json:"code"`
			Name     string          `json:"name"`
			Rate     decimal.Decimal `json:"rate"`
			IsActive bool            `json:"isActive"`
		} `json:"data"`
	}
	if err := c.get(ctx, session, "/vatcodes", &body); err != nil {
		return nil, err
	}

	codes := make([]VatCode, 0, len(body.Data))
	for _, row := range body.Data {
		codes = append(codes, VatCode{Code: row.Code, Name: row.Name, Rate: row.Rate, IsActive: row.IsActive})
	}
	return codes, nil
}

func (c *PowerOfficeClient) FetchAccounts(ctx context.Context, session Session) ([]Account, error) {
	var body struct {
		Data []struct {
			Code     string `json:"code"`
			Name     string `json:"name"`
			Type     string `json:"type"`
			IsActive bool   `json:"isActive"`
		} `json:"data"`
	}
	if err := c.get(ctx, session, "/generalledgeraccounts", &body); err != nil {
		return nil, err
	}

	accounts := make([]Account, 0, len(body.Data))
	for _, row := range body.Data {
		accounts = append(accounts, Account{Code: row.Code, Name: row.Name, Type: row.Type, IsActive: row.IsActive})
	}
	return accounts, nil
}

func (c *PowerOfficeClient) CreateOrder(ctx context.Context, session Session, payload OrderPayload) (RemoteDocument, error) {
	type lineBody struct {
		Description string `json:"description"`
		Quantity    int    `json:"quantity"`
		UnitPrice   string `json:"unitPrice"`
		VatCode     string `json:"vatCode"`
		AccountCode string `json:"accountCode"`
	}
	reqBody := struct {
		Reference       string     `json:"reference"`
		CustomerName    string     `json:"customerName"`
		CustomerOrgNo   string     `json:"customerOrgNo,omitempty"`
		Lines           []lineBody `json:"lines"`
		PaymentTerms    int        `json:"paymentTerms"`
		ProjectCode     string     `json:"projectCode,omitempty"`
		DepartmentCode  string     `json:"departmentCode,omitempty"`
		DeliveryChannel string     `json:"deliveryChannel,omitempty"`
	}{
		Reference:       payload.Reference,
		CustomerName:    payload.CustomerName,
		CustomerOrgNo:   payload.CustomerOrgNo,
		PaymentTerms:    payload.PaymentTermsDays,
		ProjectCode:     payload.ProjectCode,
		DepartmentCode:  payload.DepartmentCode,
		DeliveryChannel: payload.DeliveryChannel,
	}
	for _, line := range payload.Lines {
		reqBody.Lines = append(reqBody.Lines, lineBody{
			Description: line.Description,
			Quantity:    line.Quantity,
			UnitPrice:   line.UnitPrice.StringFixed(2),
			VatCode:     line.VatCode,
			AccountCode: line.IncomeAccount,
		})
	}

	var respBody struct {
		ID  string `json:"id"`
		URL string `json:"url"`
	}
	if err := c.post(ctx, session, "/salesorders", reqBody, &respBody); err != nil {
		return RemoteDocument{}, err
	}
	return RemoteDocument{ID: respBody.ID, URL: respBody.URL}, nil
}

func (c *PowerOfficeClient) CreateInvoice(ctx context.Context, session Session, orderID string) (RemoteDocument, error) {
	reqBody := struct {
		OrderID string `json:"orderId"`
	}{OrderID: orderID}

	var respBody struct {
		ID  string `json:"id"`
		URL string `json:"url"`
	}
	if err := c.post(ctx, session, "/invoices", reqBody, &respBody); err != nil {
		return RemoteDocument{}, err
	}
	return RemoteDocument{ID: respBody.ID, URL: respBody.URL}, nil
}

// --- HTTP plumbing ---

func (c *PowerOfficeClient) get(ctx context.Context, session Session, path string, out interface{}) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.apiURL+path, nil)
	if err != nil {
		return err
	}
	return c.do(req, session, out)
}

func (c *PowerOfficeClient) post(ctx context.Context, session Session, path string, in, out interface{}) error {
	payload, err := json.Marshal(in)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.apiURL+path, bytes.NewReader(payload))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	return c.do(req, session, out)
}

func (c *PowerOfficeClient) do(req *http.Request, session Session, out interface{}) error {
	req.Header.Set("Authorization", "Bearer "+session.AccessToken)
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return wrapTransportError(err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return responseError(resp)
	}
	if out == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

// wrapTransportError maps network-level failures (timeouts included) to
// transient provider errors.
func wrapTransportError(err error) error {
	if errors.Is(err, context.DeadlineExceeded) {
		return &Error{Kind: KindTransient, Message: "request timed out: " + err.Error()}
	}
	return &Error{Kind: KindTransient, Message: err.Error()}
}

// responseError maps an HTTP error response to a typed provider error.
// The provider's message is preserved verbatim.
func responseError(resp *http.Response) error {
	raw, _ := io.ReadAll(io.LimitReader(resp.Body, 64*1024))

	var body struct {
		Message    string `json:"message"`
		ExistingID string `json:"existingId"`
	}
	message := strings.TrimSpace(string(raw))
	if err := json.Unmarshal(raw, &body); err == nil && body.Message != "" {
		message = body.Message
	}
	if message == "" {
		message = resp.Status
	}

	switch {
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return &Error{Kind: KindAuth, Message: message}
	case resp.StatusCode == http.StatusConflict:
		return &Error{Kind: KindConflict, Message: message, ExistingID: body.ExistingID}
	case resp.StatusCode == http.StatusBadRequest || resp.StatusCode == http.StatusUnprocessableEntity:
		return &Error{Kind: KindValidation, Message: message}
	case resp.StatusCode == http.StatusRequestTimeout || resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500:
		return &Error{Kind: KindTransient, Message: message}
	default:
		return &Error{Kind: KindValidation, Message: message}
	}
}

var _ Client = (*PowerOfficeClient)(nil)
