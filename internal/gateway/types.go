package gateway

import (
	"context"
	"encoding/json"
	"strconv"
	"strings"
)

// Status is the normalized state of a charge.
type Status string

const (
	StatusQueued     Status = "queued"
	StatusInProgress Status = "in_progress"
	StatusPaid       Status = "paid"
	StatusHeld       Status = "held"
	StatusProcessed  Status = "processed"
	StatusError      Status = "error"
)

// ParseStatus maps a provider state onto Status. Unknown states are in progress.
func ParseStatus(raw string) Status {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "payed", "paid":
		return StatusPaid
	case "holded", "held":
		return StatusHeld
	case "processed":
		return StatusProcessed
	case "error":
		return StatusError
	case "created", "queued":
		return StatusQueued
	default:
		return StatusInProgress
	}
}

func (s Status) Terminal() bool {
	switch s {
	case StatusPaid, StatusHeld, StatusProcessed, StatusError:
		return true
	default:
		return false
	}
}

// Client is the recurrent billing provider.
type Client interface {
	RegisterPayer(ctx context.Context, phone, name, surname string) (string, error)
	ListActiveCards(ctx context.Context, payerToken string) ([]string, error)
	InitiateCharge(ctx context.Context, req ChargeRequest) (Charge, error)
	PollStatus(ctx context.Context, regPayNum string) (StatusReport, error)
	SettleHold(ctx context.Context, regPayNum, orderID string) (string, error)
}

type ChargeRequest struct {
	PayerToken       string
	CardToken        string
	Amount           int64
	OrderNote        string
	NeedRegisterCard bool
}

type Charge struct {
	RegPayNum string
	PayURL    string
}

type StatusReport struct {
	Status      Status
	RawState    string
	TotalAmount int64
}

const SettleSuccess = "success"

type registerRequest struct {
	Login      string `json:"login"`
	Name       string `json:"name,omitempty"`
	SurName    string `json:"surName,omitempty"`
	MiddleName string `json:"middleName,omitempty"`
}

type registerResponse struct {
	UserToken string `json:"userToken"`
}

type cardsRequest struct {
	UserToken string `json:"userToken"`
}

type cardsResponse struct {
	Cards []struct {
		CardToken string `json:"cardToken"`
		State     string `json:"state"`
	} `json:"cards"`
}

type paymentRequest struct {
	ServiceCode string   `json:"serviceCode"`
	UserToken   string   `json:"userToken"`
	CardToken   string   `json:"cardToken,omitempty"`
	ClientType  string   `json:"clientType"`
	Amount      int64    `json:"amount"`
	Comission   string   `json:"comission"`
	PayType     string   `json:"payType"`
	NeedRegCard bool     `json:"needRegCard"`
	OrderNote   string   `json:"orderNote"`
	SuccessURL  string   `json:"successUrl"`
	FailURL     string   `json:"failUrl"`
	CbURL       string   `json:"cbUrl"`
	Properties  []string `json:"properties"`
}

type paymentResponse struct {
	RegPayNum flexString `json:"regPayNum"`
	PayURL    string     `json:"payUrl"`
}

type statusRequest struct {
	RegPayNum string `json:"regPayNum"`
}

type statusResponse struct {
	State       string  `json:"state"`
	TotalAmount flexInt `json:"totalAmount"`
}

type confirmRequest struct {
	RegPayNum string `json:"regPayNum"`
	OrderID   string `json:"orderId"`
}

type confirmResponse struct {
	ResultState string `json:"resultState"`
}

// flexString accepts both JSON strings and numbers.
type flexString string

func (f *flexString) UnmarshalJSON(b []byte) error {
	if len(b) > 0 && b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		*f = flexString(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(b, &n); err != nil {
		return err
	}
	*f = flexString(n.String())
	return nil
}

// flexInt accepts integers encoded as numbers or strings.
type flexInt int64

func (f *flexInt) UnmarshalJSON(b []byte) error {
	var s flexString
	if err := s.UnmarshalJSON(b); err != nil {
		return err
	}
	raw := strings.TrimSpace(string(s))
	if raw == "" || raw == "null" {
		*f = 0
		return nil
	}
	if v, err := strconv.ParseInt(raw, 10, 64); err == nil {
		*f = flexInt(v)
		return nil
	}
	v, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return err
	}
	*f = flexInt(int64(v))
	return nil
}
