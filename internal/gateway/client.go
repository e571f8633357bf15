package gateway

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/EF-corp/AgroBotTg/internal/config"
	"github.com/EF-corp/AgroBotTg/internal/observability/metrics"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

type Params struct {
	fx.In

	Config  config.Config
	Log     *zap.Logger
	Metrics *metrics.Metrics `optional:"true"`
}

type httpClient struct {
	cfg     config.GatewayConfig
	auth    string
	client  *http.Client
	log     *zap.Logger
	metrics *metrics.Metrics
}

func New(p Params) Client {
	return NewHTTPClient(p.Config.Gateway, p.Log, p.Metrics)
}

// NewHTTPClient builds a Client that talks to the provider over HTTP.
func NewHTTPClient(cfg config.GatewayConfig, log *zap.Logger, m *metrics.Metrics) Client {
	if log == nil {
		log = zap.NewNop()
	}
	creds := strings.TrimSpace(cfg.ShopLogin) + ":" + strings.TrimSpace(cfg.ShopSecret)
	return &httpClient{
		cfg:     cfg,
		auth:    "Basic " + base64.StdEncoding.EncodeToString([]byte(creds)),
		client:  &http.Client{Timeout: cfg.Timeout},
		log:     log.Named("gateway.client"),
		metrics: m,
	}
}

func (c *httpClient) RegisterPayer(ctx context.Context, phone, name, surname string) (token string, err error) {
	defer func() { c.metrics.RecordGatewayCall(ctx, "register_payer", err) }()

	phone = strings.TrimSpace(phone)
	if phone == "" {
		return "", fmt.Errorf("%w: missing phone", ErrRegistration)
	}
	var resp registerResponse
	if err := c.post(ctx, c.cfg.RegistrationURL, registerRequest{
		Login:   phone,
		Name:    name,
		SurName: surname,
	}, &resp); err != nil {
		return "", fmt.Errorf("%w: %v", ErrRegistration, err)
	}
	token = strings.TrimSpace(resp.UserToken)
	if token == "" {
		return "", fmt.Errorf("%w: empty user token", ErrRegistration)
	}
	return token, nil
}

func (c *httpClient) ListActiveCards(ctx context.Context, payerToken string) (cards []string, err error) {
	defer func() { c.metrics.RecordGatewayCall(ctx, "list_cards", err) }()

	if strings.TrimSpace(payerToken) == "" {
		return nil, fmt.Errorf("%w: missing payer token", ErrCardQuery)
	}
	var resp cardsResponse
	if err := c.post(ctx, c.cfg.CardsURL, cardsRequest{UserToken: payerToken}, &resp); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCardQuery, err)
	}
	cards = make([]string, 0, len(resp.Cards))
	for _, card := range resp.Cards {
		if card.State == "active" && card.CardToken != "" {
			cards = append(cards, card.CardToken)
		}
	}
	return cards, nil
}

func (c *httpClient) InitiateCharge(ctx context.Context, req ChargeRequest) (charge Charge, err error) {
	defer func() { c.metrics.RecordGatewayCall(ctx, "initiate_charge", err) }()

	if strings.TrimSpace(req.PayerToken) == "" || req.Amount <= 0 {
		return Charge{}, fmt.Errorf("%w: invalid request", ErrChargeCreation)
	}
	body := paymentRequest{
		ServiceCode: c.cfg.ServiceCode,
		UserToken:   req.PayerToken,
		CardToken:   req.CardToken,
		ClientType:  "mobile",
		Amount:      req.Amount,
		Comission:   "0",
		PayType:     "card",
		NeedRegCard: req.NeedRegisterCard,
		OrderNote:   req.OrderNote,
		SuccessURL:  c.cfg.SuccessURL,
		FailURL:     c.cfg.FailURL,
		CbURL:       c.cfg.CallbackURL,
		Properties:  []string{},
	}
	var resp paymentResponse
	if err := c.post(ctx, c.cfg.PaymentURL, body, &resp); err != nil {
		return Charge{}, fmt.Errorf("%w: %v", ErrChargeCreation, err)
	}
	charge = Charge{RegPayNum: strings.TrimSpace(string(resp.RegPayNum)), PayURL: resp.PayURL}
	if charge.RegPayNum == "" {
		return Charge{}, fmt.Errorf("%w: empty reg_pay_num", ErrChargeCreation)
	}
	return charge, nil
}

func (c *httpClient) PollStatus(ctx context.Context, regPayNum string) (report StatusReport, err error) {
	defer func() { c.metrics.RecordGatewayCall(ctx, "poll_status", err) }()

	if strings.TrimSpace(regPayNum) == "" {
		return StatusReport{}, fmt.Errorf("%w: missing reg_pay_num", ErrStatusCheck)
	}
	var resp statusResponse
	if err := c.post(ctx, c.cfg.StatusURL, statusRequest{RegPayNum: regPayNum}, &resp); err != nil {
		return StatusReport{}, fmt.Errorf("%w: %v", ErrStatusCheck, err)
	}
	return StatusReport{
		Status:      ParseStatus(resp.State),
		RawState:    resp.State,
		TotalAmount: int64(resp.TotalAmount),
	}, nil
}

func (c *httpClient) SettleHold(ctx context.Context, regPayNum, orderID string) (result string, err error) {
	defer func() { c.metrics.RecordGatewayCall(ctx, "settle_hold", err) }()

	if strings.TrimSpace(regPayNum) == "" {
		return "", fmt.Errorf("%w: missing reg_pay_num", ErrSettlement)
	}
	var resp confirmResponse
	if err := c.post(ctx, c.cfg.ConfirmURL, confirmRequest{RegPayNum: regPayNum, OrderID: orderID}, &resp); err != nil {
		return "", fmt.Errorf("%w: %v", ErrSettlement, err)
	}
	return resp.ResultState, nil
}

func (c *httpClient) post(ctx context.Context, endpoint string, payload any, out any) error {
	if strings.TrimSpace(endpoint) == "" {
		return ErrNotConfigured
	}
	raw, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(raw))
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", c.auth)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		c.log.Warn("gateway request rejected",
			zap.String("endpoint", endpoint),
			zap.Int("status_code", resp.StatusCode),
			zap.ByteString("body", body),
		)
		return fmt.Errorf("unexpected status %d", resp.StatusCode)
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		if errors.Is(err, io.EOF) {
			return errors.New("empty response body")
		}
		return err
	}
	return nil
}
